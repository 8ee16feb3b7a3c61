// Copyright (c) QueryPool Authors.
// Licensed under the MIT License.

/*
Package main 提供 QueryPool 的命令行入口。

# 概述

cmd/querypool 装配连接池注册表、Prometheus 注册表、可选的 Redis
共享缓存层与 OpenTelemetry 导出，并提供以下子命令：

  - serve：创建连接池并启动运维服务器（/metrics、/health、/pools），
    收到 SIGINT/SIGTERM 后依次关闭运维服务器、连接池与遥测
  - query：通过连接池执行一条语句，以 JSON 输出结果
  - health：请求运行中实例的 /health
  - version：输出构建注入的 Version、BuildTime、GitCommit

配置按 默认值 → YAML 文件 → QUERYPOOL_* 环境变量 加载。
*/
package main
