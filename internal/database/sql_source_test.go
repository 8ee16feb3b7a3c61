package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/querypool/config"
)

// =============================================================================
// 🧪 SQLSource 测试
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()

	// 创建 mock DB
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	// 创建 GORM DB
	dialector := postgres.New(postgres.Config{
		Conn: mockDB,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	return mockDB, mock, gormDB
}

func testPoolConfig() config.PoolConfig {
	cfg := config.DefaultPoolConfig()
	cfg.MaxSize = 1
	cfg.MinSize = 1
	cfg.AcquireTimeout = time.Second
	cfg.ConnectionRetryDelay = 5 * time.Millisecond
	cfg.MaxRetries = 1
	return cfg
}

func TestNewSQLSource(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	src, err := NewSQLSource(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, gormDB, src.DB())
	assert.Equal(t, 1, src.Stats().MaxOpenConnections)

	_, err = NewSQLSource(nil, testPoolConfig(), nil)
	assert.Error(t, err)
}

func TestSQLSource_QueryRows(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	src, err := NewSQLSource(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM users WHERE id = $1")).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(7), []byte("alice")))

	ctx := context.Background()
	conn, err := src.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	rs, err := conn.Query(ctx, "SELECT id, name FROM users WHERE id = $1", []any{7})
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name"}, rs.Columns)
	assert.Equal(t, int64(1), rs.RowCount)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, int64(7), rs.Rows[0]["id"])
	assert.Equal(t, "alice", rs.Rows[0]["name"], "byte slices are returned as strings")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSource_ExecReportsRowsAffected(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	src, err := NewSQLSource(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET active = $1")).
		WithArgs(false).
		WillReturnResult(sqlmock.NewResult(0, 3))

	ctx := context.Background()
	conn, err := src.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	rs, err := conn.Query(ctx, "UPDATE users SET active = $1", []any{false})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rs.RowCount)
	assert.Empty(t, rs.Rows)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSource_QueryError(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	src, err := NewSQLSource(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	boom := errors.New("relation does not exist")
	mock.ExpectQuery("SELECT \\* FROM missing").WillReturnError(boom)

	ctx := context.Background()
	conn, err := src.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	_, err = conn.Query(ctx, "SELECT * FROM missing", nil)
	assert.ErrorIs(t, err, boom)
}

func TestSQLSource_TransactionCommit(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	src, err := NewSQLSource(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	conn, err := src.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	require.NoError(t, conn.Begin(ctx))
	assert.ErrorIs(t, conn.Begin(ctx), ErrTxActive)

	_, err = conn.Query(ctx, "INSERT INTO audit (msg) VALUES ('x')", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Commit(ctx))
	assert.ErrorIs(t, conn.Commit(ctx), ErrNoTx)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSource_ReleaseRollsBackOpenTransaction(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	src, err := NewSQLSource(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	ctx := context.Background()
	conn, err := src.Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, conn.Begin(ctx))
	conn.Release()
	conn.Release()

	_, err = conn.Query(ctx, "SELECT 1", nil)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSource_AcquireTimeoutRetries(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	cfg := testPoolConfig()
	cfg.AcquireTimeout = 20 * time.Millisecond
	src, err := NewSQLSource(gormDB, cfg, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	held, err := src.Acquire(ctx)
	require.NoError(t, err)
	defer held.Release()

	done := make(chan error, 1)
	go func() {
		_, err := src.Acquire(ctx)
		done <- err
	}()

	assert.Eventually(t, func() bool { return src.Occupancy().Waiting == 1 }, time.Second, time.Millisecond)
	occ := src.Occupancy()
	assert.Equal(t, 1, occ.Active)
	assert.Equal(t, 1, occ.MaxSize)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "after 1 retries")
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not time out")
	}
	assert.Equal(t, 0, src.Occupancy().Waiting)
}

func TestSQLSource_Close(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	src, err := NewSQLSource(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	_, err = src.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestReturnsRows(t *testing.T) {
	assert.True(t, returnsRows("SELECT 1"))
	assert.True(t, returnsRows("  with x as (select 1) select * from x"))
	assert.True(t, returnsRows("INSERT INTO t (a) VALUES (1) RETURNING id"))
	assert.True(t, returnsRows("PRAGMA table_info(t)"))
	assert.False(t, returnsRows("UPDATE t SET a = 1"))
	assert.False(t, returnsRows("CREATE TABLE t (id INTEGER)"))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(context.DeadlineExceeded))
	assert.True(t, isRetryableError(errors.New("dial tcp: connection refused")))
	assert.True(t, isRetryableError(errors.New("pq: sorry, too many clients already (SQLSTATE 53300)")))
	assert.True(t, isRetryableError(errors.New("driver: bad connection")))
	assert.False(t, isRetryableError(errors.New("syntax error at or near")))
	assert.False(t, isRetryableError(context.Canceled))
}

// =============================================================================
// 🧪 SQLite 端到端
// =============================================================================

func TestSQLSource_SQLiteEndToEnd(t *testing.T) {
	dbCfg := config.DatabaseConfig{Driver: "sqlite", Name: filepath.Join(t.TempDir(), "querypool.db")}
	db, err := Open(dbCfg, zap.NewNop())
	require.NoError(t, err)

	cfg := config.DefaultPoolConfig()
	cfg.MaxSize = 2
	cfg.MinSize = 1
	src, err := NewSQLSource(db, cfg, zap.NewNop())
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	conn, err := src.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	_, err = conn.Query(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)", nil)
	require.NoError(t, err)

	rs, err := conn.Query(ctx, "INSERT INTO users (id, name) VALUES (?, ?), (?, ?)", []any{1, "alice", 2, "bob"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rs.RowCount)

	// 回滚的事务不留下数据
	require.NoError(t, conn.Begin(ctx))
	_, err = conn.Query(ctx, "INSERT INTO users (id, name) VALUES (?, ?)", []any{3, "carol"})
	require.NoError(t, err)
	require.NoError(t, conn.Rollback(ctx))

	rs, err = conn.Query(ctx, "SELECT id, name FROM users ORDER BY id", nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), rs.RowCount)
	assert.Equal(t, int64(1), rs.Rows[0]["id"])
	assert.Equal(t, "alice", rs.Rows[0]["name"])
	assert.Equal(t, "bob", rs.Rows[1]["name"])

	res, err := conn.Query(ctx, HealthQuery, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowCount)
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite"} {
		d, err := Dialector(config.DatabaseConfig{Driver: driver, Name: "x"})
		require.NoError(t, err, driver)
		assert.Equal(t, driver, d.Name())
	}

	_, err := Dialector(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)

	_, err = Open(config.DatabaseConfig{}, nil)
	assert.Error(t, err)
}
