// 版权所有 2024 QueryPool Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供连接池的指标聚合与 Prometheus 导出能力。

# 概述

Aggregator 为单个连接池维护请求计数、平滑错误率与平均响应时间，
并结合连接源的实时占用生成 MetricsSnapshot。错误率只在出错时
按 rate*0.9+0.1 更新，成功请求不会使其衰减。

Collector 通过 promauto.With 注册到调用方提供的 Registry，
多个连接池共享同一个 Collector，按 pool 标签区分。

# 核心类型

  - Aggregator：单池内存聚合器，并发安全。
  - Collector：Prometheus 指标收集器，覆盖查询、缓存、连接占用、
    健康检查与调度跳过计数。
*/
package metrics
