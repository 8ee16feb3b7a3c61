package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/querypool/config"
	"github.com/BaSui01/querypool/types"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", Name: filepath.Join(t.TempDir(), "app.db")}
	cfg.Server.MetricsPort = 0
	cfg.Log.OutputPaths = []string{"stderr"}
	return cfg
}

func writeConfigFile(t *testing.T, dbPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "querypool.yaml")
	content := "database:\n  driver: sqlite\n  name: " + dbPath + "\nlog:\n  level: error\n  output_paths: [stderr]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// =============================================================================
// 🧪 App
// =============================================================================

func TestApp_StartServesOpsEndpoints(t *testing.T) {
	cfg := sqliteConfig(t)
	app, err := NewApp(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx, defaultPoolName))
	defer app.Shutdown(ctx)

	p, ok := app.registry.GetPool(defaultPoolName)
	require.True(t, ok)
	_, err = p.ExecuteQuery(ctx, "SELECT 1", nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	app.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `querypool_queries_total{pool="default",status="success"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestApp_StartFailsOnUnreachableDatabase(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Database.Name = filepath.Join(t.TempDir(), "missing", "dir", "app.db")

	app, err := NewApp(cfg, zap.NewNop())
	require.NoError(t, err)

	err = app.Start(context.Background(), defaultPoolName)
	require.Error(t, err)
	assert.Empty(t, app.registry.Names())
	app.Shutdown(context.Background())
}

func TestApp_SharedTier(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := sqliteConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	app, err := NewApp(cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Shutdown(context.Background())
	assert.NotNil(t, app.shared)
}

func TestApp_SharedTierUnavailableDegrades(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := sqliteConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = addr

	app, err := NewApp(cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Shutdown(context.Background())
	assert.Nil(t, app.shared)
}

// =============================================================================
// 🔎 query 命令
// =============================================================================

func TestRunQuery(t *testing.T) {
	path := writeConfigFile(t, filepath.Join(t.TempDir(), "query.db"))

	var out bytes.Buffer
	err := runQuery([]string{"--config", path, "--sql", "SELECT ? AS answer", "--params", "[42]", "--no-cache"}, &out)
	require.NoError(t, err)

	var res types.QueryResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, int64(1), res.RowCount)
	assert.False(t, res.FromCache)
	assert.EqualValues(t, 42, res.Rows[0]["answer"])
	assert.Len(t, res.Fingerprint, 16)
}

func TestRunQuery_Validation(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, runQuery([]string{}, &out), "--sql is required")
	assert.Error(t, runQuery([]string{"--sql", "SELECT 1", "--params", "{not json"}, &out))
}

func TestRunHealthCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	var out bytes.Buffer
	require.NoError(t, runHealthCheck([]string{"--addr", healthy.URL}, &out))
	assert.Equal(t, "OK\n", out.String())

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	err := runHealthCheck([]string{"--addr", unhealthy.URL}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	printVersion(&out)
	assert.Contains(t, out.String(), "QueryPool dev")
}

func TestInitLogger(t *testing.T) {
	logger := initLogger(config.LogConfig{Level: "warn", Format: "console", OutputPaths: []string{"stderr"}})
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	logger = initLogger(config.LogConfig{Level: "bogus"})
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

// =============================================================================
// 🧱 中间件
// =============================================================================

func TestMiddlewareChain(t *testing.T) {
	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	h := Chain(inner, Recovery(zap.NewNop()), RequestID(), RequestLogger(zap.NewNop()))

	req := httptest.NewRequest(http.MethodGet, "/pools", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}
