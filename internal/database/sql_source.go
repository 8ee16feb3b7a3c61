package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/querypool/config"
	"github.com/BaSui01/querypool/types"
)

// =============================================================================
// 🗄️ database/sql 连接源
// =============================================================================

// ErrSourceClosed 连接源已关闭
var ErrSourceClosed = errors.New("connection source is closed")

// ErrTxActive 连接上已有未结束的事务
var ErrTxActive = errors.New("transaction already active")

// ErrNoTx 连接上没有事务
var ErrNoTx = errors.New("no active transaction")

// SQLSource 基于 GORM 底层 sql.DB 连接池的连接源
type SQLSource struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	config  config.PoolConfig
	logger  *zap.Logger
	waiting atomic.Int64
	mu      sync.RWMutex
	closed  bool
}

// NewSQLSource 创建连接源并按连接池配置调整 sql.DB
func NewSQLSource(db *gorm.DB, cfg config.PoolConfig, logger *zap.Logger) (*SQLSource, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 配置连接池
	sqlDB.SetMaxOpenConns(cfg.MaxSize)
	sqlDB.SetMaxIdleConns(cfg.MinSize)
	sqlDB.SetConnMaxIdleTime(cfg.IdleTimeout)

	s := &SQLSource{
		db:     db,
		sqlDB:  sqlDB,
		config: cfg,
		logger: logger.With(zap.String("component", "sql_source")),
	}

	s.logger.Info("connection source initialized",
		zap.Int("max_open_conns", cfg.MaxSize),
		zap.Int("max_idle_conns", cfg.MinSize),
		zap.Duration("conn_max_idle_time", cfg.IdleTimeout),
	)

	return s, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// DB 返回 GORM 数据库实例
func (s *SQLSource) DB() *gorm.DB {
	return s.db
}

// Acquire 获取连接。单次等待受 AcquireTimeout 约束，
// 可重试错误按 ConnectionRetryDelay 指数退避，最多重试 MaxRetries 次。
func (s *SQLSource) Acquire(ctx context.Context) (Conn, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return nil, ErrSourceClosed
	}

	s.waiting.Add(1)
	defer s.waiting.Add(-1)

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.config.ConnectionRetryDelay * time.Duration(1<<uint(attempt-1))
			s.logger.Warn("connection acquisition failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", s.config.MaxRetries),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		conn, err := s.acquireOnce(ctx)
		if err == nil {
			return &sqlConn{conn: conn}, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}
		if !isRetryableError(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("connection acquisition failed after %d retries: %w", s.config.MaxRetries, lastErr)
}

func (s *SQLSource) acquireOnce(ctx context.Context) (*sql.Conn, error) {
	if s.config.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.AcquireTimeout)
		defer cancel()
	}
	return s.sqlDB.Conn(ctx)
}

// Occupancy 返回实时占用
func (s *SQLSource) Occupancy() types.Occupancy {
	stats := s.sqlDB.Stats()
	return types.Occupancy{
		Total:   stats.OpenConnections,
		Active:  stats.InUse,
		Idle:    stats.Idle,
		Waiting: int(s.waiting.Load()),
		MaxSize: stats.MaxOpenConnections,
	}
}

// Stats 返回底层连接池统计信息
func (s *SQLSource) Stats() sql.DBStats {
	return s.sqlDB.Stats()
}

// Close 关闭连接源
func (s *SQLSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.logger.Info("closing connection source")

	return s.sqlDB.Close()
}

// =============================================================================
// 🔗 单个连接
// =============================================================================

type execer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type sqlConn struct {
	mu       sync.Mutex
	conn     *sql.Conn
	tx       *sql.Tx
	released bool
}

func (c *sqlConn) runner() (execer, error) {
	if c.released {
		return nil, sql.ErrConnDone
	}
	if c.tx != nil {
		return c.tx, nil
	}
	return c.conn, nil
}

// Query 执行语句
func (c *sqlConn) Query(ctx context.Context, text string, params []any) (*types.RowSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.runner()
	if err != nil {
		return nil, err
	}

	if !returnsRows(text) {
		res, err := r.ExecContext(ctx, text, params...)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read rows affected: %w", err)
		}
		return &types.RowSet{Rows: []map[string]any{}, RowCount: affected}, nil
	}

	rows, err := r.QueryContext(ctx, text, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows(rows)
}

// Begin 开启事务
func (c *sqlConn) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return sql.ErrConnDone
	}
	if c.tx != nil {
		return ErrTxActive
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// Commit 提交事务
func (c *sqlConn) Commit(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		return ErrNoTx
	}
	err := c.tx.Commit()
	c.tx = nil
	return err
}

// Rollback 回滚事务
func (c *sqlConn) Rollback(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		return ErrNoTx
	}
	err := c.tx.Rollback()
	c.tx = nil
	return err
}

// Release 归还连接
func (c *sqlConn) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return
	}
	c.released = true
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	_ = c.conn.Close()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// rowKeywords 以这些关键字开头的语句返回结果集
var rowKeywords = []string{"select", "with", "show", "explain", "pragma", "values", "describe"}

// returnsRows 判断语句是否返回结果集
func returnsRows(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, kw := range rowKeywords {
		if strings.HasPrefix(t, kw) {
			return true
		}
	}
	return strings.Contains(t, " returning ")
}

// scanRows 将结果集扫描为列名到值的映射
func scanRows(rows *sql.Rows) (*types.RowSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	rs := &types.RowSet{Columns: cols, Rows: make([]map[string]any, 0)}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rs.RowCount = int64(len(rs.Rows))
	return rs, nil
}

// isRetryableError 判断连接错误是否可重试
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// 单次获取超时（连接池耗尽）
		return true
	}

	errMsg := strings.ToLower(err.Error())

	// 连接相关错误
	if strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "broken pipe") {
		return true
	}

	// 服务端连接数耗尽
	if strings.Contains(errMsg, "too many connections") || strings.Contains(errMsg, "53300") {
		return true
	}

	// driver: bad connection（Go database/sql 标准错误）
	if strings.Contains(errMsg, "bad connection") {
		return true
	}

	return false
}
