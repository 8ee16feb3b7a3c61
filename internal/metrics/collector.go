// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/querypool/types"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 连接池 Prometheus 指标收集器，多个连接池共享，按 pool 标签区分
type Collector struct {
	// 查询指标
	queriesTotal  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 连接与健康指标
	connections  *prometheus.GaugeVec
	errorRate    *prometheus.GaugeVec
	healthChecks *prometheus.CounterVec

	// 调度指标
	schedulerSkips *prometheus.CounterVec
	taskPanics     *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到默认 Registry。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 查询指标
	c.queriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of queries executed through the pool",
		},
		[]string{"pool", "status"},
	)

	c.queryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"pool", "source"}, // source: db, cache, shared_cache
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of result cache hits",
		},
		[]string{"pool"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of result cache misses",
		},
		[]string{"pool"},
	)

	// 连接与健康指标
	c.connections = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Connection occupancy by state",
		},
		[]string{"pool", "state"}, // state: total, active, idle, waiting, max
	)

	c.errorRate = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "error_rate",
			Help:      "Smoothed pool error rate",
		},
		[]string{"pool"},
	)

	c.healthChecks = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Total number of pool health checks",
		},
		[]string{"pool", "status"},
	)

	// 调度指标
	c.schedulerSkips = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_skips_total",
			Help:      "Periodic task ticks skipped because the previous run was still in progress",
		},
		[]string{"pool", "task"},
	)

	c.taskPanics = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_panics_total",
			Help:      "Periodic task runs that panicked and were recovered",
		},
		[]string{"pool", "task"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 查询指标记录
// =============================================================================

// RecordQuery 记录一次查询
func (c *Collector) RecordQuery(pool, source string, err error, duration time.Duration) {
	c.queriesTotal.WithLabelValues(pool, status(err)).Inc()
	c.queryDuration.WithLabelValues(pool, source).Observe(duration.Seconds())
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(pool string) {
	c.cacheHits.WithLabelValues(pool).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(pool string) {
	c.cacheMisses.WithLabelValues(pool).Inc()
}

// =============================================================================
// 🗄️ 连接与健康指标记录
// =============================================================================

// RecordSnapshot 将指标快照写入 Gauge
func (c *Collector) RecordSnapshot(pool string, s types.MetricsSnapshot) {
	c.connections.WithLabelValues(pool, "total").Set(float64(s.Total))
	c.connections.WithLabelValues(pool, "active").Set(float64(s.Active))
	c.connections.WithLabelValues(pool, "idle").Set(float64(s.Idle))
	c.connections.WithLabelValues(pool, "waiting").Set(float64(s.Waiting))
	c.connections.WithLabelValues(pool, "max").Set(float64(s.MaxSize))
	c.errorRate.WithLabelValues(pool).Set(s.ErrorRate)
}

// RecordHealthCheck 记录健康检查结果
func (c *Collector) RecordHealthCheck(pool string, err error) {
	c.healthChecks.WithLabelValues(pool, status(err)).Inc()
}

// RecordSchedulerSkip 记录被跳过的周期任务
func (c *Collector) RecordSchedulerSkip(pool, task string) {
	c.schedulerSkips.WithLabelValues(pool, task).Inc()
}

// RecordTaskPanic 记录被恢复的任务 panic
func (c *Collector) RecordTaskPanic(pool, task string) {
	c.taskPanics.WithLabelValues(pool, task).Inc()
}

// RemovePool 删除连接池的全部序列，连接池关闭时调用
func (c *Collector) RemovePool(pool string) {
	labels := prometheus.Labels{"pool": pool}
	c.queriesTotal.DeletePartialMatch(labels)
	c.queryDuration.DeletePartialMatch(labels)
	c.cacheHits.DeletePartialMatch(labels)
	c.cacheMisses.DeletePartialMatch(labels)
	c.connections.DeletePartialMatch(labels)
	c.errorRate.DeletePartialMatch(labels)
	c.healthChecks.DeletePartialMatch(labels)
	c.schedulerSkips.DeletePartialMatch(labels)
	c.taskPanics.DeletePartialMatch(labels)

	c.logger.Debug("pool series removed", zap.String("pool", pool))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
