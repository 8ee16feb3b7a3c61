package types

import (
	"slices"
	"time"
)

// Fingerprint 查询指纹，由规范化 SQL 文本与参数序列化后哈希得到的定长标识
type Fingerprint string

// String 返回指纹字符串
func (f Fingerprint) String() string {
	return string(f)
}

// RowSet 查询返回的结果集
type RowSet struct {
	Columns  []string         `json:"columns,omitempty" msgpack:"columns,omitempty"`
	Rows     []map[string]any `json:"rows" msgpack:"rows"`
	RowCount int64            `json:"row_count" msgpack:"row_count"`
}

// Clone 深拷贝结果集：列、行切片、每行的 map 以及 []byte 值都不与原结果共享。
func (r *RowSet) Clone() *RowSet {
	if r == nil {
		return nil
	}
	return &RowSet{
		Columns:  slices.Clone(r.Columns),
		Rows:     CloneRows(r.Rows),
		RowCount: r.RowCount,
	}
}

// CloneRows 深拷贝行数据。nil 保持为 nil。
func CloneRows(rows []map[string]any) []map[string]any {
	if rows == nil {
		return nil
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		if row == nil {
			continue
		}
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = cloneValue(v)
		}
		out[i] = cp
	}
	return out
}

// cloneValue 复制驱动可能返回的可变值，其余值按值语义直接共享
func cloneValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return append([]byte(nil), x...)
	case []any:
		cp := make([]any, len(x))
		for i, e := range x {
			cp[i] = cloneValue(e)
		}
		return cp
	case map[string]any:
		cp := make(map[string]any, len(x))
		for k, e := range x {
			cp[k] = cloneValue(e)
		}
		return cp
	default:
		return v
	}
}

// Query 批量执行中的单条语句
type Query struct {
	Text   string `json:"text"`
	Params []any  `json:"params,omitempty"`
}

// QueryResult 单次查询结果
type QueryResult struct {
	Fingerprint   Fingerprint      `json:"fingerprint"`
	Rows          []map[string]any `json:"rows"`
	RowCount      int64            `json:"row_count"`
	FromCache     bool             `json:"from_cache"`
	ExecutionTime time.Duration    `json:"execution_time"`
}

// Occupancy 连接源实时占用情况
type Occupancy struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Idle    int `json:"idle"`
	Waiting int `json:"waiting"`
	MaxSize int `json:"max_size"`
}

// MetricsSnapshot 连接池指标快照（按需计算，不持久化）
type MetricsSnapshot struct {
	Total               int           `json:"total"`
	Active              int           `json:"active"`
	Idle                int           `json:"idle"`
	Waiting             int           `json:"waiting"`
	MaxSize             int           `json:"max_size"`
	TotalRequests       int64         `json:"total_requests"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	ErrorRate           float64       `json:"error_rate"`
	LastHealthCheck     time.Time     `json:"last_health_check"`
	HealthChecks        int64         `json:"health_checks"`
	HealthCheckFailures int64         `json:"health_check_failures"`
	CacheEntries        int           `json:"cache_entries"`
	CacheHits           int64         `json:"cache_hits"`
}
