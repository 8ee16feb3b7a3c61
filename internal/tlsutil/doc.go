// Package tlsutil 提供加固的客户端 TLS 设置（TLS 1.2+，仅 AEAD 密码套件），
// 用于 Redis 共享缓存层连接与 CLI 的健康检查请求。
package tlsutil
