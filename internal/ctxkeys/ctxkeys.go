// Package ctxkeys 定义跨包共享的 context 键
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID 设置请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
