// Copyright 2024 QueryPool Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package pool 提供 QueryPool 的对外入口：自适应数据库连接池门面与命名注册表。

# 概述

Pool 将外部连接源（Source）与进程内组件组合在一起：

  - 结果缓存：只读且执行耗时超过阈值的查询结果按指纹缓存，TTL 内直接返回，
    可选地通过 Redis 共享缓存层在多个实例间复用。
  - 性能追踪：按指纹保留最近的执行耗时样本，用于热点查询排序。
  - 指标聚合：请求计数、平滑平均响应时间、平滑错误率与健康检查统计，
    同时写入 Prometheus 收集器与 OpenTelemetry 指标。
  - 后台任务：健康检查、自适应调优（缓存清理、热点排序、扩容建议）与
    周期性指标输出，由 scheduler 以跳过重入的方式驱动。

每次 ExecuteQuery 与 ExecuteBatch 都会生成一个 OpenTelemetry span。

# 生命周期

New 只做配置校验与组件装配；Initialize 执行一次连通性探测并启动后台任务，
任一启动步骤失败时连接池被关闭，之后的调用返回 POOL_CLOSED。Shutdown 停止任务、
关闭连接源并清空缓存，重复调用同样返回 POOL_CLOSED。

# 注册表

Registry 按名称管理连接池。同名的并发 CreatePool 通过 singleflight 合并，
初始化失败不会注册任何实例；ShutdownAll 并发关闭全部连接池并合并错误。

# 错误

所有错误均为 *types.Error，可用 types.IsCode 判断错误码：

  - ACQUISITION_FAILED：超时内无法获取连接（可重试）
  - EXECUTION_FAILED：语句执行失败，批量事务失败时为首个失败语句的错误
  - HEALTH_CHECK_FAILED：健康检查失败，不影响连接池继续服务
  - STARTUP_FAILED / POOL_CLOSED / INVALID_CONFIG
*/
package pool
