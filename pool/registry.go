package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/querypool/config"
)

// SourceFactory 为指定名称的连接池创建连接源
type SourceFactory func(ctx context.Context, name string, cfg config.PoolConfig) (Source, error)

// Registry 按名称管理连接池，同名只保留一个实例
type Registry struct {
	factory SourceFactory
	opts    []Option
	logger  *zap.Logger

	group singleflight.Group
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewRegistry 创建注册表。opts 应用于注册表创建的每个连接池。
func NewRegistry(factory SourceFactory, opts ...Option) *Registry {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry{
		factory: factory,
		opts:    opts,
		logger:  o.logger.With(zap.String("component", "pool_registry")),
		pools:   make(map[string]*Pool),
	}
}

// CreatePool 返回已注册的同名连接池；不存在时创建、初始化并注册。
// 同名的并发创建只会执行一次，初始化失败时不注册任何实例。
func (r *Registry) CreatePool(ctx context.Context, name string, cfg config.PoolConfig) (*Pool, error) {
	if p, ok := r.GetPool(name); ok {
		return p, nil
	}

	v, err, shared := r.group.Do(name, func() (any, error) {
		if p, ok := r.GetPool(name); ok {
			return p, nil
		}
		return r.create(ctx, name, cfg)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Debug("concurrent pool creation coalesced", zap.String("pool", name))
	}
	return v.(*Pool), nil
}

func (r *Registry) create(ctx context.Context, name string, cfg config.PoolConfig) (*Pool, error) {
	if r.factory == nil {
		return nil, errors.New("registry has no source factory")
	}

	source, err := r.factory(ctx, name, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection source for pool %s: %w", name, err)
	}

	p, err := New(name, source, cfg, r.opts...)
	if err != nil {
		if cerr := source.Close(); cerr != nil {
			r.logger.Warn("failed to close connection source", zap.String("pool", name), zap.Error(cerr))
		}
		return nil, err
	}

	// Initialize 失败时自行关闭连接源
	if err := p.Initialize(ctx); err != nil {
		r.logger.Error("pool initialization failed", zap.String("pool", name), zap.Error(err))
		return nil, err
	}

	r.mu.Lock()
	r.pools[name] = p
	r.mu.Unlock()

	r.logger.Info("pool registered", zap.String("pool", name), zap.String("instance_id", p.ID()))
	return p, nil
}

// GetPool 按名称查找连接池
func (r *Registry) GetPool(name string) (*Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[name]
	return p, ok
}

// Names 返回已注册的连接池名称（已排序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ShutdownAll 注销并并发关闭全部连接池，等待全部完成后返回合并的错误
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[string]*Pool)
	r.mu.Unlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for name, p := range pools {
		g.Go(func() error {
			if err := p.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown pool %s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("all pools shut down", zap.Int("count", len(pools)), zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}
