package types

import (
	"errors"
	"fmt"
)

// ErrorCode 统一错误码
type ErrorCode string

// 连接池错误码
const (
	// ErrStartup 初始连通性探测失败，连接池不可用
	ErrStartup ErrorCode = "STARTUP_FAILED"
	// ErrAcquisition 超时内无法获取连接
	ErrAcquisition ErrorCode = "ACQUISITION_FAILED"
	// ErrExecution 查询执行失败
	ErrExecution ErrorCode = "EXECUTION_FAILED"
	// ErrHealthCheck 健康检查失败（非致命）
	ErrHealthCheck ErrorCode = "HEALTH_CHECK_FAILED"
	// ErrPoolClosed 连接池已关闭
	ErrPoolClosed ErrorCode = "POOL_CLOSED"
	// ErrInvalidConfig 配置非法
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Pool      string    `json:"pool,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.Pool != "" {
		prefix = fmt.Sprintf("[%s] pool %s:", e.Code, e.Pool)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithPool sets the pool name.
func (e *Error) WithPool(pool string) *Error {
	e.Pool = pool
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode 判断错误链中是否包含指定错误码
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}
