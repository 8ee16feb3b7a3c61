// =============================================================================
// 📦 QueryPool 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Pool:      DefaultPoolConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinSize:                 2,
		MaxSize:                 10,
		MaxSizeCeiling:          20,
		AcquireTimeout:          30 * time.Second,
		IdleTimeout:             30 * time.Second,
		EnableHealthCheck:       true,
		HealthCheckInterval:     30 * time.Second,
		EnableAdaptiveResize:    true,
		PerformanceMonitoring:   true,
		EnableQueryOptimization: true,
		PreparedStatementCache:  true,
		ConnectionRetryDelay:    time.Second,
		MaxRetries:              3,
		CacheTTL:                300 * time.Second,
		CacheMinExecutionTime:   10 * time.Millisecond,
		TuningInterval:          60 * time.Second,
		MonitoringInterval:      30 * time.Second,
		MaxSamplesPerQuery:      100,
		HotQueryCount:           10,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:   "postgres",
		Host:     "localhost",
		Port:     5432,
		User:     "querypool",
		Password: "",
		Name:     "querypool",
		SSLMode:  "disable",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:   false,
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		KeyPrefix: "querypool:result:",
		PoolSize:  10,
		TLS:       false,
	}
}

// DefaultServerConfig 返回默认观测端点配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "querypool",
		SampleRate:   0.1,
	}
}
