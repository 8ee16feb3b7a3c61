// Package scheduler 以独立的 ticker 驱动命名的周期任务。
//
// 同一任务上一次执行尚未结束时到达的 tick 会被跳过并计数，不同任务之间可以并行。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// 调度器错误
var (
	ErrStarted       = errors.New("scheduler already started")
	ErrStopped       = errors.New("scheduler is stopped")
	ErrDuplicateTask = errors.New("task already registered")
)

// Task 命名的周期任务
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

type taskState struct {
	Task
	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64
}

// Option 配置 Scheduler
type Option func(*Scheduler)

// WithSkipHook 每次跳过 tick 时以任务名调用 fn
func WithSkipHook(fn func(task string)) Option {
	return func(s *Scheduler) { s.onSkip = fn }
}

// WithPanicHandler 任务 panic 被恢复后调用 fn
func WithPanicHandler(fn func(task string, r any)) Option {
	return func(s *Scheduler) { s.panicHandler = fn }
}

// Scheduler 管理一组周期任务
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*taskState
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc

	loops sync.WaitGroup
	runs  sync.WaitGroup

	onSkip       func(task string)
	panicHandler func(task string, r any)
	logger       *zap.Logger
}

// New 创建空的 Scheduler
func New(logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		tasks:  make(map[string]*taskState),
		logger: logger.With(zap.String("component", "scheduler")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add 注册任务，必须在 Start 之前调用
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" {
		return errors.New("task name is required")
	}
	if t.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", t.Name)
	}
	if t.Run == nil {
		return fmt.Errorf("task %s: run func is required", t.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return ErrStarted
	}
	if _, ok := s.tasks[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name)
	}
	s.tasks[t.Name] = &taskState{Task: t}
	return nil
}

// Start 为每个任务启动一个 ticker goroutine。
// 任务收到的 context 派生自 ctx，Stop 时被取消。
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return ErrStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, ts := range s.tasks {
		s.loops.Add(1)
		go s.loop(ts)
	}

	s.logger.Debug("scheduler started", zap.Strings("tasks", s.namesLocked()))
	return nil
}

func (s *Scheduler) loop(ts *taskState) {
	defer s.loops.Done()

	ticker := time.NewTicker(ts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ts)
		}
	}
}

// dispatch 在新的 goroutine 中执行任务，已在运行时跳过
func (s *Scheduler) dispatch(ts *taskState) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if !ts.running.CompareAndSwap(false, true) {
		s.mu.Unlock()
		s.skip(ts)
		return
	}
	s.runs.Add(1)
	ctx := s.ctx
	s.mu.Unlock()

	go func() {
		defer s.runs.Done()
		s.invoke(ctx, ts)
	}()
}

// RunNow 同步执行指定任务，返回是否执行。任务正在运行时跳过。
func (s *Scheduler) RunNow(ctx context.Context, name string) bool {
	s.mu.Lock()
	ts, ok := s.tasks[name]
	if !ok || s.stopped {
		s.mu.Unlock()
		return false
	}
	if !ts.running.CompareAndSwap(false, true) {
		s.mu.Unlock()
		s.skip(ts)
		return false
	}
	s.runs.Add(1)
	s.mu.Unlock()

	defer s.runs.Done()
	s.invoke(ctx, ts)
	return true
}

func (s *Scheduler) invoke(ctx context.Context, ts *taskState) {
	defer ts.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", zap.String("task", ts.Name), zap.Any("panic", r))
			if s.panicHandler != nil {
				s.panicHandler(ts.Name, r)
			}
		}
	}()

	ts.runs.Add(1)
	ts.Run(ctx)
}

func (s *Scheduler) skip(ts *taskState) {
	ts.skipped.Add(1)
	s.logger.Debug("task still running, tick skipped", zap.String("task", ts.Name))
	if s.onSkip != nil {
		s.onSkip(ts.Name)
	}
}

// Stop 停止全部 ticker、取消任务 context 并等待进行中的执行返回。可重复调用。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.loops.Wait()
	s.runs.Wait()

	s.logger.Debug("scheduler stopped")
}

// Skipped 返回任务被跳过的次数
func (s *Scheduler) Skipped(name string) int64 {
	if ts := s.lookup(name); ts != nil {
		return ts.skipped.Load()
	}
	return 0
}

// Runs 返回任务的执行次数
func (s *Scheduler) Runs(name string) int64 {
	if ts := s.lookup(name); ts != nil {
		return ts.runs.Load()
	}
	return 0
}

// Names 返回已注册的任务名（已排序）
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.namesLocked()
}

func (s *Scheduler) namesLocked() []string {
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) lookup(name string) *taskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[name]
}
