package pool

import (
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/querypool/internal/cache"
	"github.com/BaSui01/querypool/internal/metrics"
)

// =============================================================================
// ⚙️ 构造选项
// =============================================================================

// Option 配置 Pool
type Option func(*options)

type options struct {
	logger         *zap.Logger
	collector      *metrics.Collector
	shared         cache.SharedTier
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	now            func() time.Time
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCollector 设置 Prometheus 指标收集器
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// WithSharedTier 设置共享二级缓存
func WithSharedTier(t cache.SharedTier) Option {
	return func(o *options) { o.shared = t }
}

// WithTracerProvider 设置 OpenTelemetry TracerProvider，默认使用全局 Provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider 设置 OpenTelemetry MeterProvider，默认使用全局 Provider
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithClock 替换缓存与健康检查使用的时钟
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// =============================================================================
// 🎯 查询选项
// =============================================================================

// QueryOptions 单次查询选项
type QueryOptions struct {
	// Cache 为 nil 时遵循连接池配置；false 表示跳过缓存读取与准入
	Cache *bool
	// Timeout 传递给连接源的上下文超时，0 表示不额外限制
	Timeout time.Duration
}

// QueryOption 修改 QueryOptions
type QueryOption func(*QueryOptions)

// WithCache 控制本次查询是否使用结果缓存
func WithCache(enabled bool) QueryOption {
	return func(o *QueryOptions) { o.Cache = &enabled }
}

// WithTimeout 设置本次查询的超时
func WithTimeout(d time.Duration) QueryOption {
	return func(o *QueryOptions) { o.Timeout = d }
}

// BatchOptions 批量执行选项
type BatchOptions struct {
	// Transaction 为 true 时整批在一个事务中执行
	Transaction bool
	// Timeout 整批的超时，0 表示不额外限制
	Timeout time.Duration
}
