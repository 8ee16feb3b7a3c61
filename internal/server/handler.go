package server

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/querypool/internal/ctxkeys"
	"github.com/BaSui01/querypool/pool"
	"github.com/BaSui01/querypool/types"
)

// Pools 运维端点需要的注册表能力
type Pools interface {
	Names() []string
	GetPool(name string) (*pool.Pool, bool)
}

// HealthResponse /health 的响应体
type HealthResponse struct {
	Status string            `json:"status"`
	Pools  map[string]string `json:"pools"`
}

// NewHandler 构建运维路由：
//
//	GET /metrics  Prometheus 指标
//	GET /health   对每个连接池执行一次健康检查，任一失败返回 503
//	GET /pools    各连接池的指标快照
func NewHandler(pools Pools, gatherer prometheus.Gatherer, healthTimeout time.Duration, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "ops_handler"))

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(logger),
	}))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if healthTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, healthTimeout)
			defer cancel()
		}

		resp := HealthResponse{Status: "healthy", Pools: make(map[string]string)}
		for _, name := range pools.Names() {
			p, ok := pools.GetPool(name)
			if !ok {
				continue
			}
			if err := p.PerformHealthCheck(ctx); err != nil {
				resp.Status = "unhealthy"
				resp.Pools[name] = string(types.GetErrorCode(err))
				fields := []zap.Field{zap.String("pool", name), zap.Error(err)}
				if id, ok := ctxkeys.RequestID(r.Context()); ok {
					fields = append(fields, zap.String("request_id", id))
				}
				logger.Warn("pool unhealthy", fields...)
				continue
			}
			resp.Pools[name] = "ok"
		}

		code := http.StatusOK
		if resp.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp, logger)
	})

	mux.HandleFunc("GET /pools", func(w http.ResponseWriter, _ *http.Request) {
		snapshots := make(map[string]types.MetricsSnapshot)
		for _, name := range pools.Names() {
			p, ok := pools.GetPool(name)
			if !ok {
				continue
			}
			if s, err := p.Metrics(); err == nil {
				snapshots[name] = s
			}
		}
		writeJSON(w, http.StatusOK, snapshots, logger)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write response", zap.Error(err))
	}
}
