package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/BaSui01/querypool/config"
	"github.com/BaSui01/querypool/internal/tlsutil"
	"github.com/BaSui01/querypool/types"
)

// =============================================================================
// 🌐 共享缓存层
// =============================================================================

// ErrCacheMiss 缓存未命中错误
var ErrCacheMiss = errors.New("cache miss")

// ErrTierClosed 共享缓存层已关闭
var ErrTierClosed = errors.New("shared cache tier is closed")

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// SharedTier 多个进程共享的二级结果缓存
type SharedTier interface {
	// Get 返回条目，未命中返回 ErrCacheMiss
	Get(ctx context.Context, fp types.Fingerprint) (*Entry, error)
	// Set 写入条目，ttl 为剩余有效期
	Set(ctx context.Context, e *Entry, ttl time.Duration) error
	Close() error
}

// RedisTier 基于 Redis 的共享缓存层。
// 条目以 msgpack 编码，int64、[]byte 与 time.Time 等列值往返后类型不变；
// 条目携带原始插入时间，Redis 键的过期时间等于剩余 TTL。
type RedisTier struct {
	redis  *redis.Client
	prefix string
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRedisTier 创建共享缓存层并检查连接
func NewRedisTier(cfg config.RedisConfig, logger *zap.Logger) (*RedisTier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.TLS {
		opts.TLSConfig = tlsutil.ClientConfig(cfg.Addr)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "querypool:result:"
	}

	logger.Info("shared cache tier initialized",
		zap.String("addr", cfg.Addr),
		zap.String("prefix", prefix),
	)

	return &RedisTier{
		redis:  client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "shared_cache")),
	}, nil
}

// Get 读取条目
func (t *RedisTier) Get(ctx context.Context, fp types.Fingerprint) (*Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, ErrTierClosed
	}

	data, err := t.redis.Get(ctx, t.key(fp)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("shared cache get failed: %w", err)
	}

	var e Entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal shared cache entry: %w", err)
	}
	return &e, nil
}

// Set 写入条目。ttl 非正时不写入。
func (t *RedisTier) Set(ctx context.Context, e *Entry, ttl time.Duration) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return ErrTierClosed
	}
	if e == nil || ttl <= 0 {
		return nil
	}

	data, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal shared cache entry: %w", err)
	}

	if err := t.redis.Set(ctx, t.key(e.Fingerprint), data, ttl).Err(); err != nil {
		return fmt.Errorf("shared cache set failed: %w", err)
	}
	return nil
}

// Ping 检查 Redis 连接
func (t *RedisTier) Ping(ctx context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return ErrTierClosed
	}
	return t.redis.Ping(ctx).Err()
}

// Close 关闭共享缓存层，重复调用无副作用
func (t *RedisTier) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.logger.Info("closing shared cache tier")

	return t.redis.Close()
}

func (t *RedisTier) key(fp types.Fingerprint) string {
	return t.prefix + string(fp)
}
