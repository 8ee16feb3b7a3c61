package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BaSui01/querypool/config"
	"github.com/BaSui01/querypool/internal/cache"
	"github.com/BaSui01/querypool/internal/database"
	"github.com/BaSui01/querypool/internal/metrics"
	"github.com/BaSui01/querypool/internal/server"
	"github.com/BaSui01/querypool/internal/telemetry"
	"github.com/BaSui01/querypool/pool"
)

const defaultPoolName = "default"

// =============================================================================
// 🖥️ App 装配
// =============================================================================

// App 持有进程级组件：遥测、Prometheus 注册表、共享缓存层、连接池注册表与运维服务器
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	instanceID string

	providers *telemetry.Providers
	promReg   *prometheus.Registry
	collector *metrics.Collector
	shared    *cache.RedisTier
	registry  *pool.Registry

	handler http.Handler
	ops     *server.Manager
}

// NewApp 装配组件。遥测与共享缓存层不可用时降级运行。
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		cfg:        cfg,
		instanceID: uuid.NewString(),
		promReg:    prometheus.NewRegistry(),
	}
	a.logger = logger.With(zap.String("instance_id", a.instanceID))

	providers, err := telemetry.Init(cfg.Telemetry, a.instanceID, a.logger)
	if err != nil {
		a.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	a.providers = providers

	a.promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.collector = metrics.NewCollector("querypool", a.promReg, a.logger)

	opts := []pool.Option{
		pool.WithLogger(a.logger),
		pool.WithCollector(a.collector),
		pool.WithTracerProvider(a.providers.TracerProvider()),
		pool.WithMeterProvider(a.providers.MeterProvider()),
	}

	if cfg.Redis.Enabled {
		tier, err := cache.NewRedisTier(cfg.Redis, a.logger)
		if err != nil {
			a.logger.Warn("shared cache tier unavailable, using local cache only", zap.Error(err))
		} else {
			a.shared = tier
			opts = append(opts, pool.WithSharedTier(tier))
		}
	}

	a.registry = pool.NewRegistry(a.openSource, opts...)
	a.handler = Chain(
		server.NewHandler(a.registry, a.promReg, cfg.Pool.AcquireTimeout, a.logger),
		Recovery(a.logger),
		RequestID(),
		RequestLogger(a.logger),
	)

	return a, nil
}

// openSource 为连接池打开数据库并创建连接源
func (a *App) openSource(_ context.Context, name string, cfg config.PoolConfig) (pool.Source, error) {
	logger := a.logger.With(zap.String("pool", name))

	db, err := database.Open(a.cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	src, err := database.NewSQLSource(db, cfg, logger)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return src, nil
}

// Start 创建连接池并启动运维服务器
func (a *App) Start(ctx context.Context, poolName string) error {
	if _, err := a.registry.CreatePool(ctx, poolName, a.cfg.Pool); err != nil {
		return fmt.Errorf("failed to create pool %s: %w", poolName, err)
	}

	a.ops = server.NewManager(a.handler, server.ConfigFrom(a.cfg.Server), a.logger)
	if err := a.ops.Start(); err != nil {
		return fmt.Errorf("failed to start ops server: %w", err)
	}
	return nil
}

// Wait 阻塞直到收到退出信号
func (a *App) Wait(ctx context.Context) {
	if a.ops == nil {
		return
	}
	a.ops.WaitForSignal(ctx)
}

// Shutdown 依次关闭运维服务器、连接池、共享缓存层与遥测
func (a *App) Shutdown(ctx context.Context) {
	if a.cfg.Server.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
		defer cancel()
	}

	if a.ops != nil {
		if err := a.ops.Shutdown(ctx); err != nil {
			a.logger.Error("ops server shutdown error", zap.Error(err))
		}
	}
	if err := a.registry.ShutdownAll(ctx); err != nil {
		a.logger.Error("pool shutdown error", zap.Error(err))
	}
	if a.shared != nil {
		if err := a.shared.Close(); err != nil {
			a.logger.Error("shared cache close error", zap.Error(err))
		}
	}
	if err := a.providers.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown error", zap.Error(err))
	}
}
