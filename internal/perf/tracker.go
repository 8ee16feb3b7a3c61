// Package perf 按指纹保留有界的执行耗时样本，并按执行频次排序。
package perf

import (
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/querypool/types"
)

// DefaultMaxSamples 每个指纹保留的样本数
const DefaultMaxSamples = 100

// Rank 频次排名中的一行
type Rank struct {
	Fingerprint types.Fingerprint `json:"fingerprint"`
	SampleCount int               `json:"sample_count"`
	AverageTime time.Duration     `json:"average_time"`
}

type series struct {
	samples []time.Duration
	order   int // 首次出现的位置，用于排名并列时排序
}

func (s *series) average() time.Duration {
	if len(s.samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range s.samples {
		sum += d
	}
	return sum / time.Duration(len(s.samples))
}

// Tracker 记录执行耗时，可并发使用
type Tracker struct {
	mu         sync.Mutex
	series     map[types.Fingerprint]*series
	maxSamples int
	seen       int
}

// NewTracker 创建 Tracker，每个指纹最多保留 maxSamples 个样本
func NewTracker(maxSamples int) *Tracker {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Tracker{
		series:     make(map[types.Fingerprint]*series),
		maxSamples: maxSamples,
	}
}

// Record 追加一个样本，超出上限时丢弃最旧的样本（严格 FIFO）
func (t *Tracker) Record(fp types.Fingerprint, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.series[fp]
	if !ok {
		s = &series{order: t.seen}
		t.seen++
		t.series[fp] = s
	}
	s.samples = append(s.samples, d)
	if over := len(s.samples) - t.maxSamples; over > 0 {
		s.samples = append(s.samples[:0], s.samples[over:]...)
	}
}

// Ranking 按样本数降序返回全部指纹，样本数相同时按首次出现顺序
func (t *Tracker) Ranking() []Rank {
	t.mu.Lock()
	type row struct {
		Rank
		order int
	}
	rows := make([]row, 0, len(t.series))
	for fp, s := range t.series {
		rows = append(rows, row{
			Rank:  Rank{Fingerprint: fp, SampleCount: len(s.samples), AverageTime: s.average()},
			order: s.order,
		})
	}
	t.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SampleCount != rows[j].SampleCount {
			return rows[i].SampleCount > rows[j].SampleCount
		}
		return rows[i].order < rows[j].order
	})

	out := make([]Rank, len(rows))
	for i, r := range rows {
		out[i] = r.Rank
	}
	return out
}

// TopN 返回排名的前 n 项
func (t *Tracker) TopN(n int) []Rank {
	if n <= 0 {
		return []Rank{}
	}
	ranking := t.Ranking()
	if n > len(ranking) {
		n = len(ranking)
	}
	return ranking[:n]
}

// Samples 按记录顺序返回 fp 的样本副本
func (t *Tracker) Samples(fp types.Fingerprint) []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.series[fp]
	if !ok {
		return nil
	}
	out := make([]time.Duration, len(s.samples))
	copy(out, s.samples)
	return out
}

// Len 返回被追踪的指纹数量
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.series)
}

// Clear 丢弃全部样本
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.series = make(map[types.Fingerprint]*series)
	t.seen = 0
}
