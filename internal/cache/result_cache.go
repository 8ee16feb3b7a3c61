package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/querypool/types"
)

// =============================================================================
// 💾 查询结果缓存
// =============================================================================

const (
	// DefaultTTL 默认缓存有效期
	DefaultTTL = 300 * time.Second
	// DefaultMinExecutionTime 准入缓存的最小执行耗时
	DefaultMinExecutionTime = 10 * time.Millisecond
)

// Entry 缓存条目
type Entry struct {
	Fingerprint types.Fingerprint `json:"fingerprint" msgpack:"fingerprint"`
	Result      *types.RowSet     `json:"result" msgpack:"result"`
	InsertedAt  time.Time         `json:"inserted_at" msgpack:"inserted_at"`
	HitCount    int64             `json:"hit_count" msgpack:"hit_count"`
}

// Stats 缓存统计信息
type Stats struct {
	Entries     int   `json:"entries"`
	Hits        int64 `json:"hits"`
	Admissions  int64 `json:"admissions"`
	Rejections  int64 `json:"rejections"`
	Expirations int64 `json:"expirations"`
}

// Option 配置 ResultCache
type Option func(*ResultCache)

// WithClock 替换时钟，用于确定性的 TTL 测试
func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) {
		if now != nil {
			c.now = now
		}
	}
}

// ResultCache 按指纹缓存只读查询结果。
// 淘汰只依据 TTL，命中次数仅用于统计。
type ResultCache struct {
	mu      sync.Mutex
	entries map[types.Fingerprint]*Entry
	ttl     time.Duration
	minExec time.Duration
	now     func() time.Time

	hits        int64
	admissions  int64
	rejections  int64
	expirations int64
}

// NewResultCache 创建结果缓存。ttl 或 minExec 非正时使用默认值。
func NewResultCache(ttl, minExec time.Duration, opts ...Option) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if minExec <= 0 {
		minExec = DefaultMinExecutionTime
	}
	c := &ResultCache{
		entries: make(map[types.Fingerprint]*Entry),
		ttl:     ttl,
		minExec: minExec,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup 查找未过期的条目，返回深拷贝，调用方可以自由修改。过期条目在查找时被移除。
func (c *ResultCache) Lookup(fp types.Fingerprint) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fp]
	if !ok {
		return nil, false
	}
	if c.expired(e, c.now()) {
		delete(c.entries, fp)
		c.expirations++
		return nil, false
	}

	cp := *e
	cp.Result = e.Result.Clone()
	return &cp, true
}

// Admit 按准入策略缓存结果：只读语句且执行耗时严格大于阈值。
// 返回是否被缓存。缓存保存 result 的深拷贝，同一指纹的已有条目会被替换。
func (c *ResultCache) Admit(fp types.Fingerprint, text string, result *types.RowSet, executionTime time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if result == nil || !IsReadOnly(text) || executionTime <= c.minExec {
		c.rejections++
		return false
	}

	c.entries[fp] = &Entry{
		Fingerprint: fp,
		Result:      result.Clone(),
		InsertedAt:  c.now(),
	}
	c.admissions++
	return true
}

// Restore 以原始插入时间回填条目（来自共享缓存层）。已过期的条目被忽略。
func (c *ResultCache) Restore(e Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Result == nil || c.expired(&e, c.now()) {
		return false
	}
	e.Result = e.Result.Clone()
	c.entries[e.Fingerprint] = &e
	return true
}

// RecordHit 增加条目的命中次数
func (c *ResultCache) RecordHit(fp types.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[fp]; ok {
		e.HitCount++
		c.hits++
	}
}

// SweepExpired 移除在 now 时刻已过期的全部条目，返回移除数量
func (c *ResultCache) SweepExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for fp, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, fp)
			removed++
		}
	}
	c.expirations += int64(removed)
	return removed
}

// Sweep 以当前时钟清理过期条目
func (c *ResultCache) Sweep() int {
	return c.SweepExpired(c.now())
}

// Clear 清空缓存
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[types.Fingerprint]*Entry)
}

// Len 返回当前条目数（可能包含尚未被清理的过期条目）
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Stats 返回统计信息
func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:     len(c.entries),
		Hits:        c.hits,
		Admissions:  c.admissions,
		Rejections:  c.rejections,
		Expirations: c.expirations,
	}
}

// Remaining 返回条目在当前时刻剩余的有效期，过期返回 0
func (c *ResultCache) Remaining(e *Entry) time.Duration {
	left := c.ttl - c.now().Sub(e.InsertedAt)
	if left < 0 {
		return 0
	}
	return left
}

// expired 判断条目是否过期，age 恰好等于 ttl 即视为过期
func (c *ResultCache) expired(e *Entry, now time.Time) bool {
	return now.Sub(e.InsertedAt) >= c.ttl
}

// IsReadOnly 判断语句是否为只读查询（忽略前导空白，不区分大小写的 select 前缀）
func IsReadOnly(text string) bool {
	t := strings.TrimSpace(text)
	return len(t) >= 6 && strings.EqualFold(t[:6], "select")
}
