package pool

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/querypool/internal/fingerprint"
	"github.com/BaSui01/querypool/internal/perf"
	"github.com/BaSui01/querypool/internal/scheduler"
	"github.com/BaSui01/querypool/types"
)

// 后台任务名称
const (
	TaskHealthCheck    = "health-check"
	TaskAdaptiveTuning = "adaptive-tuning"
	TaskMonitoring     = "monitoring"
)

// TuningReport 一次自适应调优的结果
type TuningReport struct {
	At                time.Time       `json:"at"`
	Occupancy         types.Occupancy `json:"occupancy"`
	ResizeRecommended bool            `json:"resize_recommended"`
	TargetSize        int             `json:"target_size,omitempty"`
	ExpiredEntries    int             `json:"expired_entries"`
	TrackedQueries    int             `json:"tracked_queries"`
	HotQueries        []perf.Rank     `json:"hot_queries,omitempty"`
}

// registerTasks 按配置注册后台任务
func (p *Pool) registerTasks() error {
	var tasks []scheduler.Task

	if p.cfg.EnableHealthCheck {
		tasks = append(tasks, scheduler.Task{
			Name:     TaskHealthCheck,
			Interval: p.cfg.HealthCheckInterval,
			Run:      p.runHealthCheck,
		})
	}
	if p.cfg.EnableAdaptiveResize || p.cfg.EnableQueryOptimization || p.cfg.PreparedStatementCache {
		tasks = append(tasks, scheduler.Task{
			Name:     TaskAdaptiveTuning,
			Interval: p.cfg.TuningInterval,
			Run:      func(ctx context.Context) { p.tune(ctx) },
		})
	}
	if p.cfg.PerformanceMonitoring {
		tasks = append(tasks, scheduler.Task{
			Name:     TaskMonitoring,
			Interval: p.cfg.MonitoringInterval,
			Run:      p.monitor,
		})
	}

	for _, t := range tasks {
		if err := p.sched.Add(t); err != nil {
			return err
		}
	}
	return nil
}

// RunTask 立即同步执行一个已注册的后台任务，返回任务是否执行。
// 同名任务正在运行时本次调用被跳过。
func (p *Pool) RunTask(ctx context.Context, name string) bool {
	if p.checkOpen() != nil {
		return false
	}
	return p.sched.RunNow(ctx, name)
}

// QuerySamples 按记录顺序返回语句最近的执行耗时样本，未追踪时返回 nil
func (p *Pool) QuerySamples(text string, params []any) []time.Duration {
	return p.tracker.Samples(fingerprint.Compute(text, params))
}

// LastTuning 返回最近一次调优结果
func (p *Pool) LastTuning() (TuningReport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastTuning == nil {
		return TuningReport{}, false
	}
	return *p.lastTuning, true
}

func (p *Pool) runHealthCheck(ctx context.Context) {
	// 单次探测不超过一个检查周期
	ctx, cancel := context.WithTimeout(ctx, p.cfg.HealthCheckInterval)
	defer cancel()
	_ = p.PerformHealthCheck(ctx)
}

// tune 检查占用压力、清理过期缓存并统计热点查询
func (p *Pool) tune(_ context.Context) TuningReport {
	now := p.now()
	occ := p.source.Occupancy()
	report := TuningReport{At: now, Occupancy: occ}

	if p.cfg.EnableAdaptiveResize {
		ceiling := p.cfg.MaxSizeCeiling
		if ceiling == 0 {
			ceiling = p.cfg.MaxSize
		}
		if occ.Waiting > 0 && occ.MaxSize < ceiling {
			report.ResizeRecommended = true
			report.TargetSize = min(occ.MaxSize+occ.Waiting, ceiling)
			p.logger.Info("pool under pressure, growth recommended",
				zap.Int("waiting", occ.Waiting),
				zap.Int("max_size", occ.MaxSize),
				zap.Int("target_size", report.TargetSize),
				zap.Int("ceiling", ceiling),
			)
			p.resizeNote.Do(func() {
				p.logger.Warn("connection source does not support live resize, raise pool.max_size and restart to apply")
			})
		}
	}

	report.ExpiredEntries = p.cache.Sweep()
	if report.ExpiredEntries > 0 {
		p.logger.Debug("expired cache entries swept", zap.Int("count", report.ExpiredEntries))
	}

	report.TrackedQueries = p.tracker.Len()
	report.HotQueries = p.tracker.TopN(p.cfg.HotQueryCount)
	if len(report.HotQueries) > 0 {
		hot := make([]string, 0, len(report.HotQueries))
		for _, r := range report.HotQueries {
			hot = append(hot, fingerprint.Short(r.Fingerprint, 12)+"/"+r.AverageTime.String())
		}
		p.logger.Info("hot queries ranked",
			zap.Strings("queries", hot),
			zap.Bool("prepared_statement_cache", p.cfg.PreparedStatementCache),
		)
	}

	p.mu.Lock()
	p.lastTuning = &report
	p.mu.Unlock()

	return report
}

// monitor 输出指标快照到日志与 Prometheus
func (p *Pool) monitor(_ context.Context) {
	s := p.snapshot()
	if p.collector != nil {
		p.collector.RecordSnapshot(p.name, s)
	}

	fields := []zap.Field{
		zap.Int("total", s.Total),
		zap.Int("active", s.Active),
		zap.Int("idle", s.Idle),
		zap.Int("waiting", s.Waiting),
		zap.Int64("total_requests", s.TotalRequests),
		zap.Duration("avg_response_time", s.AverageResponseTime),
		zap.Float64("error_rate", s.ErrorRate),
		zap.Int("cache_entries", s.CacheEntries),
		zap.Int64("cache_hits", s.CacheHits),
	}
	for _, name := range p.sched.Names() {
		fields = append(fields, zap.Dict(name,
			zap.Int64("runs", p.sched.Runs(name)),
			zap.Int64("skipped", p.sched.Skipped(name)),
		))
	}
	p.logger.Info("pool metrics", fields...)
}
