package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/querypool/config"
	"github.com/BaSui01/querypool/internal/cache"
	"github.com/BaSui01/querypool/internal/database"
	"github.com/BaSui01/querypool/internal/fingerprint"
	"github.com/BaSui01/querypool/internal/metrics"
	"github.com/BaSui01/querypool/internal/perf"
	"github.com/BaSui01/querypool/internal/scheduler"
	"github.com/BaSui01/querypool/types"
)

// Source 连接源，由外部驱动实现
type Source = database.Source

// Conn 从连接源借出的单个连接
type Conn = database.Conn

// 结果来源标签
const (
	sourceDB          = "db"
	sourceCache       = "cache"
	sourceSharedCache = "shared_cache"
)

type lifecycle int

const (
	stateCreated lifecycle = iota
	stateRunning
	stateClosed
)

// Pool 自适应连接池门面：组合连接源、结果缓存、性能追踪、指标聚合与后台任务
type Pool struct {
	name   string
	id     string
	cfg    config.PoolConfig
	source Source

	cache     *cache.ResultCache
	shared    cache.SharedTier
	tracker   *perf.Tracker
	agg       *metrics.Aggregator
	collector *metrics.Collector
	sched     *scheduler.Scheduler
	ins       *instruments

	resizeNote rate.Sometimes
	now        func() time.Time
	logger     *zap.Logger

	// lifecycleMu 串行化 Initialize 与 Shutdown
	lifecycleMu sync.Mutex

	mu         sync.RWMutex
	state      lifecycle
	lastTuning *TuningReport
}

// New 创建连接池。连接池在 Initialize 成功前不会启动后台任务。
func New(name string, source Source, cfg config.PoolConfig, opts ...Option) (*Pool, error) {
	if name == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "pool name is required")
	}
	if source == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "connection source is required").WithPool(name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, "invalid pool config").WithPool(name).WithCause(err)
	}

	o := options{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	logger := o.logger.With(
		zap.String("component", "pool"),
		zap.String("pool", name),
		zap.String("instance_id", id),
	)

	p := &Pool{
		name:       name,
		id:         id,
		cfg:        cfg,
		source:     source,
		cache:      cache.NewResultCache(cfg.CacheTTL, cfg.CacheMinExecutionTime, cache.WithClock(o.now)),
		shared:     o.shared,
		tracker:    perf.NewTracker(cfg.MaxSamplesPerQuery),
		agg:        metrics.NewAggregator(),
		collector:  o.collector,
		resizeNote: rate.Sometimes{First: 1, Interval: 10 * time.Minute},
		now:        o.now,
		logger:     logger,
	}

	p.sched = scheduler.New(logger,
		scheduler.WithSkipHook(func(task string) {
			if p.collector != nil {
				p.collector.RecordSchedulerSkip(p.name, task)
			}
		}),
		scheduler.WithPanicHandler(func(task string, _ any) {
			if p.collector != nil {
				p.collector.RecordTaskPanic(p.name, task)
			}
		}),
	)

	ins, err := newInstruments(name, o.tracerProvider, o.meterProvider, p.snapshot)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, "failed to create instruments").WithPool(name).WithCause(err)
	}
	p.ins = ins

	return p, nil
}

// Name 返回连接池名称
func (p *Pool) Name() string { return p.name }

// ID 返回实例 ID
func (p *Pool) ID() string { return p.id }

// Config 返回连接池配置
func (p *Pool) Config() config.PoolConfig { return p.cfg }

// =============================================================================
// 🔄 生命周期
// =============================================================================

// Initialize 执行连通性探测并启动后台任务。
// 任一启动步骤失败时连接池被关闭，连接源一并释放，之后的调用均返回 POOL_CLOSED。
func (p *Pool) Initialize(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	p.mu.RLock()
	st := p.state
	p.mu.RUnlock()

	switch st {
	case stateClosed:
		return p.closedError()
	case stateRunning:
		return nil
	}

	if err := p.ping(ctx); err != nil {
		return p.abortStartup("initial connectivity check failed", err)
	}
	if err := p.registerTasks(); err != nil {
		return p.abortStartup("failed to register background tasks", err)
	}
	if err := p.sched.Start(context.WithoutCancel(ctx)); err != nil {
		return p.abortStartup("failed to start background tasks", err)
	}

	p.mu.Lock()
	p.state = stateRunning
	p.mu.Unlock()

	p.logger.Info("pool initialized",
		zap.Int("min_size", p.cfg.MinSize),
		zap.Int("max_size", p.cfg.MaxSize),
		zap.Strings("tasks", p.sched.Names()),
	)
	return nil
}

// abortStartup 关闭启动失败的连接池并释放连接源，之后的调用返回 POOL_CLOSED。
// 调用方持有 lifecycleMu。
func (p *Pool) abortStartup(msg string, cause error) error {
	p.mu.Lock()
	p.state = stateClosed
	p.mu.Unlock()

	p.logger.Error(msg, zap.Error(cause))
	p.sched.Stop()
	if err := p.source.Close(); err != nil {
		p.logger.Warn("failed to close connection source", zap.Error(err))
	}
	_ = p.ins.close()

	return types.NewError(types.ErrStartup, msg).WithPool(p.name).WithCause(cause)
}

// Shutdown 停止后台任务并关闭连接源。重复关闭返回 POOL_CLOSED。
// ctx 只约束等待进行中任务的时间，超时后仍会继续释放资源。
func (p *Pool) Shutdown(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	p.mu.Lock()
	if p.state == stateClosed {
		p.mu.Unlock()
		return p.closedError()
	}
	p.state = stateClosed
	p.mu.Unlock()

	var errs []error

	stopped := make(chan struct{})
	go func() {
		p.sched.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for background tasks: %w", ctx.Err()))
	}

	if err := p.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection source: %w", err))
	}
	if err := p.ins.close(); err != nil {
		errs = append(errs, fmt.Errorf("unregister instruments: %w", err))
	}
	if p.collector != nil {
		p.collector.RemovePool(p.name)
	}

	p.cache.Clear()
	p.tracker.Clear()

	p.logger.Info("pool shut down")
	return errors.Join(errs...)
}

func (p *Pool) checkOpen() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state == stateClosed {
		return p.closedError()
	}
	return nil
}

func (p *Pool) closedError() error {
	return types.NewError(types.ErrPoolClosed, "pool is closed").WithPool(p.name)
}

// ping 借出一个连接执行探测语句
func (p *Pool) ping(ctx context.Context) error {
	conn, err := p.source.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Query(ctx, database.HealthQuery, nil)
	return err
}

// =============================================================================
// 🎯 查询
// =============================================================================

// ExecuteQuery 执行单条查询。只读且足够慢的结果会被缓存，
// 在有效期内相同文本与参数的查询直接返回缓存结果。
func (p *Pool) ExecuteQuery(ctx context.Context, text string, params []any, opts ...QueryOption) (res *types.QueryResult, err error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	var qo QueryOptions
	for _, opt := range opts {
		opt(&qo)
	}

	fp, canonical := fingerprint.Of(text, params)
	ctx, span := p.ins.start(ctx, "querypool.ExecuteQuery", attrFingerprint.String(fp.String()))
	defer func() {
		if res != nil {
			span.SetAttributes(attrFromCache.Bool(res.FromCache))
		}
		endSpan(span, err)
	}()

	p.agg.RecordRequest()
	// 参数没有规范编码时指纹不唯一，不能作为缓存键
	useCache := p.cfg.EnableQueryOptimization && (qo.Cache == nil || *qo.Cache) && canonical

	if useCache {
		start := time.Now()
		if e, source, ok := p.lookupCached(ctx, fp); ok {
			p.cache.RecordHit(fp)
			elapsed := time.Since(start)
			p.observe(ctx, source, nil, elapsed)
			return &types.QueryResult{
				Fingerprint:   fp,
				Rows:          e.Result.Rows,
				RowCount:      e.Result.RowCount,
				FromCache:     true,
				ExecutionTime: elapsed,
			}, nil
		}
	}

	rs, elapsed, err := p.run(ctx, fp, text, params, qo.Timeout)
	if err != nil {
		return nil, err
	}

	if useCache && p.cache.Admit(fp, text, rs, elapsed) {
		p.writeThrough(ctx, fp)
	}

	return &types.QueryResult{
		Fingerprint:   fp,
		Rows:          rs.Rows,
		RowCount:      rs.RowCount,
		ExecutionTime: elapsed,
	}, nil
}

// lookupCached 先查本地缓存，未命中时查询共享缓存层并回填本地
func (p *Pool) lookupCached(ctx context.Context, fp types.Fingerprint) (*cache.Entry, string, bool) {
	if e, ok := p.cache.Lookup(fp); ok {
		p.recordCacheHit()
		return e, sourceCache, true
	}

	if p.shared != nil {
		e, err := p.shared.Get(ctx, fp)
		switch {
		case err == nil:
			if p.cache.Restore(*e) {
				p.recordCacheHit()
				return e, sourceSharedCache, true
			}
		case !cache.IsCacheMiss(err):
			p.logger.Warn("shared cache lookup failed", zap.String("fingerprint", fingerprint.Short(fp, 12)), zap.Error(err))
		}
	}

	if p.collector != nil {
		p.collector.RecordCacheMiss(p.name)
	}
	return nil, "", false
}

// writeThrough 将新准入的条目以剩余有效期写入共享缓存层
func (p *Pool) writeThrough(ctx context.Context, fp types.Fingerprint) {
	if p.shared == nil {
		return
	}
	e, ok := p.cache.Lookup(fp)
	if !ok {
		return
	}
	if err := p.shared.Set(ctx, e, p.cache.Remaining(e)); err != nil {
		p.logger.Warn("shared cache write failed", zap.String("fingerprint", fingerprint.Short(fp, 12)), zap.Error(err))
	}
}

// run 借出连接执行一条语句并记录耗时与错误
func (p *Pool) run(ctx context.Context, fp types.Fingerprint, text string, params []any, timeout time.Duration) (*types.RowSet, time.Duration, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := p.source.Acquire(ctx)
	if err != nil {
		p.agg.RecordError()
		p.observe(ctx, sourceDB, err, 0)
		p.logger.Warn("connection acquisition failed", zap.Error(err))
		return nil, 0, p.acquisitionError(err)
	}
	defer conn.Release()

	return p.exec(ctx, conn, fp, text, params)
}

// exec 在已借出的连接上执行语句
func (p *Pool) exec(ctx context.Context, conn Conn, fp types.Fingerprint, text string, params []any) (*types.RowSet, time.Duration, error) {
	start := time.Now()
	rs, err := conn.Query(ctx, text, params)
	elapsed := time.Since(start)

	p.observe(ctx, sourceDB, err, elapsed)
	if err != nil {
		p.agg.RecordError()
		p.logger.Warn("query execution failed",
			zap.String("fingerprint", fingerprint.Short(fp, 12)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, elapsed, types.NewError(types.ErrExecution, "query execution failed").WithPool(p.name).WithCause(err)
	}
	if rs == nil {
		rs = &types.RowSet{Rows: []map[string]any{}}
	}

	p.agg.RecordResponseTime(elapsed)
	if p.cfg.PerformanceMonitoring {
		p.tracker.Record(fp, elapsed)
	}

	p.logger.Debug("query executed",
		zap.String("fingerprint", fingerprint.Short(fp, 12)),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rs.RowCount),
	)
	return rs, elapsed, nil
}

func (p *Pool) acquisitionError(err error) error {
	return types.NewError(types.ErrAcquisition, "failed to acquire connection").
		WithPool(p.name).
		WithRetryable(true).
		WithCause(err)
}

// =============================================================================
// 📦 批量执行
// =============================================================================

// ExecuteBatch 在同一连接上按顺序执行多条语句，不读写结果缓存。
// 任一语句失败即停止；事务模式下回滚并返回该语句的错误。
func (p *Pool) ExecuteBatch(ctx context.Context, queries []types.Query, opts BatchOptions) (results []*types.QueryResult, err error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return []*types.QueryResult{}, nil
	}

	ctx, span := p.ins.start(ctx, "querypool.ExecuteBatch",
		attrStatements.Int(len(queries)),
		attrTransaction.Bool(opts.Transaction),
	)
	defer func() { endSpan(span, err) }()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	conn, err := p.source.Acquire(ctx)
	if err != nil {
		p.agg.RecordError()
		p.observe(ctx, sourceDB, err, 0)
		p.logger.Warn("connection acquisition failed", zap.Error(err))
		return nil, p.acquisitionError(err)
	}
	defer conn.Release()

	if opts.Transaction {
		if err := conn.Begin(ctx); err != nil {
			p.agg.RecordError()
			return nil, types.NewError(types.ErrExecution, "failed to begin transaction").WithPool(p.name).WithCause(err)
		}
	}

	results = make([]*types.QueryResult, 0, len(queries))
	for i, q := range queries {
		p.agg.RecordRequest()
		fp := fingerprint.Compute(q.Text, q.Params)

		rs, elapsed, err := p.exec(ctx, conn, fp, q.Text, q.Params)
		if err != nil {
			if opts.Transaction {
				p.rollback(ctx, conn, i)
			}
			return nil, err
		}

		results = append(results, &types.QueryResult{
			Fingerprint:   fp,
			Rows:          rs.Rows,
			RowCount:      rs.RowCount,
			ExecutionTime: elapsed,
		})
	}

	if opts.Transaction {
		if err := conn.Commit(ctx); err != nil {
			p.agg.RecordError()
			p.rollback(ctx, conn, len(queries))
			return nil, types.NewError(types.ErrExecution, "failed to commit transaction").WithPool(p.name).WithCause(err)
		}
	}

	return results, nil
}

// rollback 回滚事务，失败只记录日志
func (p *Pool) rollback(ctx context.Context, conn Conn, failedAt int) {
	if err := conn.Rollback(context.WithoutCancel(ctx)); err != nil {
		p.logger.Error("transaction rollback failed",
			zap.Int("failed_statement", failedAt),
			zap.Error(err),
		)
		return
	}
	p.logger.Info("transaction rolled back", zap.Int("failed_statement", failedAt))
}

// =============================================================================
// 📊 指标与健康检查
// =============================================================================

// Metrics 返回当前指标快照
func (p *Pool) Metrics() (types.MetricsSnapshot, error) {
	if err := p.checkOpen(); err != nil {
		return types.MetricsSnapshot{}, err
	}
	return p.snapshot(), nil
}

func (p *Pool) snapshot() types.MetricsSnapshot {
	s := p.agg.Snapshot(p.source.Occupancy())
	st := p.cache.Stats()
	s.CacheEntries = st.Entries
	s.CacheHits = st.Hits
	return s
}

// PerformHealthCheck 执行一次连通性探测。失败不会关闭连接池，
// 但计入错误率并返回 HEALTH_CHECK_FAILED。
func (p *Pool) PerformHealthCheck(ctx context.Context) error {
	if err := p.checkOpen(); err != nil {
		return err
	}

	err := p.ping(ctx)
	p.agg.RecordHealthCheck(p.now(), err)
	if p.collector != nil {
		p.collector.RecordHealthCheck(p.name, err)
	}

	if err != nil {
		p.agg.RecordError()
		p.logger.Warn("health check failed", zap.Error(err))
		return types.NewError(types.ErrHealthCheck, "health check failed").WithPool(p.name).WithCause(err)
	}

	p.logger.Debug("health check passed")
	return nil
}

// observe 将一次查询写入 Prometheus 与 OpenTelemetry 指标
func (p *Pool) observe(ctx context.Context, source string, err error, d time.Duration) {
	if p.collector != nil {
		p.collector.RecordQuery(p.name, source, err, d)
	}
	p.ins.recordQuery(ctx, source, err, d)
}

func (p *Pool) recordCacheHit() {
	if p.collector != nil {
		p.collector.RecordCacheHit(p.name)
	}
}
