// Package config 提供 QueryPool 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → QUERYPOOL_* 环境变量 的顺序加载，
// 最后执行验证器。PoolConfig 在连接池构造时按值拷贝，之后不可变。
package config
