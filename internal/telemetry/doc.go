// Package telemetry 初始化 OpenTelemetry SDK，为 QueryPool 的连接池 span
// 与指标提供 OTLP gRPC 导出。禁用时不连接任何外部服务，
// 访问器回退到全局 noop Provider。
package telemetry
