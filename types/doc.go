// Copyright (c) QueryPool Authors.
// Licensed under the MIT License.

/*
Package types 提供 QueryPool 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 cache、perf、metrics、
database 与 pool 等模块提供统一的数据契约，避免循环依赖。

# 核心类型

  - Fingerprint       : 查询指纹（规范化 SQL + 参数的定长哈希）
  - RowSet            : 连接源返回的结果集（列、行、行数）
  - QueryResult       : 连接池对外返回的查询结果，含 FromCache 标记
  - Query             : 批量执行中的单条语句
  - Occupancy         : 连接源实时占用（total/active/idle/waiting）
  - MetricsSnapshot   : 连接池指标快照
  - Error / ErrorCode : 结构化错误体系（STARTUP_FAILED、ACQUISITION_FAILED、
    EXECUTION_FAILED、HEALTH_CHECK_FAILED、POOL_CLOSED、INVALID_CONFIG）
*/
package types
