// =============================================================================
// QueryPool 主入口
// =============================================================================
// 运行连接池并暴露运维端点，或通过连接池执行单条语句
//
// 使用方法:
//
//	querypool serve                          # 启动连接池与 /metrics、/health
//	querypool serve --config config.yaml     # 指定配置文件
//	querypool query --sql "SELECT 1"         # 通过连接池执行语句并输出 JSON
//	querypool health --addr http://localhost:9091
//	querypool version
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/querypool/config"
	"github.com/BaSui01/querypool/internal/tlsutil"
	"github.com/BaSui01/querypool/pool"
	"github.com/BaSui01/querypool/types"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "query":
		err = runQuery(os.Args[2:], os.Stdout)
	case "health":
		err = runHealthCheck(os.Args[2:], os.Stdout)
	case "version":
		printVersion(os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 按 默认值 → 文件 → 环境变量 加载配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	poolName := fs.String("pool", defaultPoolName, "Name of the pool to create")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting QueryPool",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := app.Start(ctx, *poolName); err != nil {
		app.Shutdown(ctx)
		return err
	}

	app.Wait(ctx)
	app.Shutdown(ctx)

	logger.Info("QueryPool stopped")
	return nil
}

// =============================================================================
// 🔎 query 命令
// =============================================================================

func runQuery(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	sqlText := fs.String("sql", "", "Statement to execute")
	paramsJSON := fs.String("params", "", "Statement parameters as a JSON array")
	noCache := fs.Bool("no-cache", false, "Bypass the result cache")
	timeout := fs.Duration("timeout", 0, "Per-query timeout (0 = pool default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sqlText == "" {
		return fmt.Errorf("--sql is required")
	}

	var params []any
	if *paramsJSON != "" {
		if err := json.Unmarshal([]byte(*paramsJSON), &params); err != nil {
			return fmt.Errorf("invalid --params: %w", err)
		}
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	// query 命令只执行一次，不需要后台任务
	cfg.Pool.EnableHealthCheck = false
	cfg.Pool.PerformanceMonitoring = false

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer app.Shutdown(ctx)

	p, err := app.registry.CreatePool(ctx, defaultPoolName, cfg.Pool)
	if err != nil {
		return err
	}

	opts := []pool.QueryOption{pool.WithCache(!*noCache)}
	if *timeout > 0 {
		opts = append(opts, pool.WithTimeout(*timeout))
	}

	res, err := p.ExecuteQuery(ctx, *sqlText, params, opts...)
	if err != nil {
		return err
	}
	return writeResult(out, res)
}

func writeResult(out io.Writer, res *types.QueryResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:9091", "Ops server address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := tlsutil.HTTPClient(5 * time.Second)
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d: %s", resp.StatusCode, body)
	}

	fmt.Fprintln(out, "OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "QueryPool %s\n", Version)
	fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, `QueryPool - adaptive database connection pool

Usage:
  querypool <command> [options]

Commands:
  serve     Run the pool and the ops server (/metrics, /health, /pools)
  query     Execute one statement through the pool and print JSON
  health    Check a running ops server
  version   Show version information
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)
  --pool <name>     Pool name (default "default")

Options for 'query':
  --config <path>   Path to configuration file (YAML)
  --sql <text>      Statement to execute
  --params <json>   Parameters as a JSON array, e.g. '[1, "a"]'
  --no-cache        Bypass the result cache
  --timeout <d>     Per-query timeout, e.g. 5s

Examples:
  querypool serve --config /etc/querypool/config.yaml
  QUERYPOOL_DATABASE_DRIVER=sqlite QUERYPOOL_DATABASE_NAME=app.db querypool query --sql "SELECT 1"
  querypool health --addr http://localhost:9091`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
