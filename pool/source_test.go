package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/querypool/config"
	"github.com/BaSui01/querypool/internal/database"
	"github.com/BaSui01/querypool/types"
)

// =============================================================================
// 🧪 测试用连接源
// =============================================================================

var errSourceClosed = errors.New("fake source closed")

type fakeSource struct {
	mu          sync.Mutex
	handler     func(text string, params []any) (*types.RowSet, error)
	pingErr     error
	acquireErr  error
	rollbackErr error
	commitErr   error
	occupancy   types.Occupancy
	log         []string
	acquired    int
	released    int
	closed      bool
	closeCalls  int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		handler: func(string, []any) (*types.RowSet, error) {
			return &types.RowSet{Rows: []map[string]any{}}, nil
		},
		occupancy: types.Occupancy{Total: 2, Idle: 2, MaxSize: 10},
	}
}

func (s *fakeSource) Acquire(ctx context.Context) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, errSourceClosed
	}
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	s.acquired++
	return &fakeConn{src: s}, nil
}

func (s *fakeSource) Occupancy() types.Occupancy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.occupancy
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCalls++
	return nil
}

func (s *fakeSource) set(fn func(s *fakeSource)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *fakeSource) statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

func (s *fakeSource) counts() (acquired, released int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired, s.released
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeConn struct {
	src      *fakeSource
	released bool
}

func (c *fakeConn) Query(ctx context.Context, text string, params []any) (*types.RowSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.src.mu.Lock()
	if text == database.HealthQuery {
		err := c.src.pingErr
		c.src.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return &types.RowSet{Columns: []string{"1"}, Rows: []map[string]any{{"1": int64(1)}}, RowCount: 1}, nil
	}
	c.src.log = append(c.src.log, text)
	handler := c.src.handler
	c.src.mu.Unlock()

	return handler(text, params)
}

func (c *fakeConn) Begin(context.Context) error {
	c.src.mu.Lock()
	defer c.src.mu.Unlock()
	c.src.log = append(c.src.log, "BEGIN")
	return nil
}

func (c *fakeConn) Commit(context.Context) error {
	c.src.mu.Lock()
	defer c.src.mu.Unlock()
	if c.src.commitErr != nil {
		return c.src.commitErr
	}
	c.src.log = append(c.src.log, "COMMIT")
	return nil
}

func (c *fakeConn) Rollback(context.Context) error {
	c.src.mu.Lock()
	defer c.src.mu.Unlock()
	c.src.log = append(c.src.log, "ROLLBACK")
	return c.src.rollbackErr
}

func (c *fakeConn) Release() {
	c.src.mu.Lock()
	defer c.src.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	c.src.released++
}

// slowRows 返回固定结果并模拟执行耗时
func slowRows(d time.Duration, rows ...map[string]any) func(string, []any) (*types.RowSet, error) {
	return func(string, []any) (*types.RowSet, error) {
		time.Sleep(d)
		return &types.RowSet{Rows: rows, RowCount: int64(len(rows))}, nil
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() config.PoolConfig {
	cfg := config.DefaultPoolConfig()
	cfg.HealthCheckInterval = time.Hour
	cfg.TuningInterval = time.Hour
	cfg.MonitoringInterval = time.Hour
	return cfg
}
