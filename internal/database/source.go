package database

import (
	"context"

	"github.com/BaSui01/querypool/types"
)

// =============================================================================
// 🔌 连接源契约
// =============================================================================

// Source 连接源：负责获取连接并报告实时占用
type Source interface {
	// Acquire 获取一个连接，调用方必须 Release
	Acquire(ctx context.Context) (Conn, error)
	// Occupancy 返回实时占用
	Occupancy() types.Occupancy
	// Close 关闭连接源，释放全部连接
	Close() error
}

// Conn 从连接源获取的单个连接
type Conn interface {
	// Query 执行语句。返回行的语句返回结果集，其他语句返回受影响行数
	Query(ctx context.Context, text string, params []any) (*types.RowSet, error)
	// Begin 在该连接上开启事务
	Begin(ctx context.Context) error
	// Commit 提交当前事务
	Commit(ctx context.Context) error
	// Rollback 回滚当前事务
	Rollback(ctx context.Context) error
	// Release 归还连接，未结束的事务会被回滚。重复调用无副作用
	Release()
}

// HealthQuery 健康检查使用的探测语句
const HealthQuery = "SELECT 1"
