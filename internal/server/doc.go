// 版权所有 2024 QueryPool Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供连接池的运维 HTTP 端点与服务器生命周期管理。

# 概述

Manager 封装 net/http.Server，负责非阻塞启动、优雅关闭、
异步错误传播与 SIGINT/SIGTERM 等待。NewHandler 构建运维路由：

  - GET /metrics：promhttp 暴露 Prometheus 注册表
  - GET /health：对注册表中的每个连接池执行健康检查，
    全部通过返回 200，否则返回 503 并给出失败的错误码
  - GET /pools：各连接池的指标快照
*/
package server
