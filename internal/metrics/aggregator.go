package metrics

import (
	"sync"
	"time"

	"github.com/BaSui01/querypool/types"
)

// =============================================================================
// 📈 指标聚合器
// =============================================================================

// 平滑系数
const (
	smoothingDecay  = 0.9
	smoothingWeight = 0.1
)

// Aggregator 维护单个连接池的请求计数、平滑错误率与平均响应时间
type Aggregator struct {
	mu sync.Mutex

	requestCount    int64
	errorRate       float64
	avgResponseTime float64 // 纳秒

	lastHealthCheck     time.Time
	healthChecks        int64
	healthCheckFailures int64
}

// NewAggregator 创建聚合器
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// RecordRequest 请求计数加一（包含缓存命中）
func (a *Aggregator) RecordRequest() {
	a.mu.Lock()
	a.requestCount++
	a.mu.Unlock()
}

// RecordError 更新平滑错误率：rate = rate*0.9 + 0.1。
// 成功请求不会使错误率衰减。
func (a *Aggregator) RecordError() {
	a.mu.Lock()
	a.errorRate = a.errorRate*smoothingDecay + smoothingWeight
	a.mu.Unlock()
}

// RecordResponseTime 更新平均响应时间：avg = avg*0.9 + d*0.1
func (a *Aggregator) RecordResponseTime(d time.Duration) {
	a.mu.Lock()
	a.avgResponseTime = a.avgResponseTime*smoothingDecay + float64(d)*smoothingWeight
	a.mu.Unlock()
}

// RecordHealthCheck 记录一次健康检查
func (a *Aggregator) RecordHealthCheck(at time.Time, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastHealthCheck = at
	a.healthChecks++
	if err != nil {
		a.healthCheckFailures++
	}
}

// ErrorRate 返回当前平滑错误率
func (a *Aggregator) ErrorRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errorRate
}

// Snapshot 结合实时占用生成指标快照
func (a *Aggregator) Snapshot(occ types.Occupancy) types.MetricsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	return types.MetricsSnapshot{
		Total:               occ.Total,
		Active:              occ.Active,
		Idle:                occ.Idle,
		Waiting:             occ.Waiting,
		MaxSize:             occ.MaxSize,
		TotalRequests:       a.requestCount,
		AverageResponseTime: time.Duration(a.avgResponseTime),
		ErrorRate:           a.errorRate,
		LastHealthCheck:     a.lastHealthCheck,
		HealthChecks:        a.healthChecks,
		HealthCheckFailures: a.healthCheckFailures,
	}
}
