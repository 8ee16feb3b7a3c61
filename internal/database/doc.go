// 版权所有 2024 QueryPool Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 定义连接源契约，并提供基于 GORM 与 database/sql 的实现。

# 概述

连接池门面只通过 Source/Conn 两个接口访问数据库：获取连接、
执行语句、事务控制、归还连接、报告实时占用。SQLSource 用
GORM 底层的 sql.DB 实现该契约，按 PoolConfig 设置最大连接数、
空闲连接数与空闲超时。

# 核心类型

  - Source / Conn：连接源契约。
  - SQLSource：sql.DB 连接源。单次获取受 AcquireTimeout 约束，
    可重试错误按 ConnectionRetryDelay 指数退避，等待中的调用方
    通过原子计数计入 Occupancy.Waiting。
  - Open / Dialector：按驱动（postgres、mysql、sqlite）打开 GORM 连接，
    sqlite 使用纯 Go 的 glebarez/sqlite。

# 执行语义

以 select/with/show/explain/pragma/values/describe 开头或带 RETURNING
的语句走 QueryContext 并扫描为 RowSet；其余语句走 ExecContext，
RowCount 为受影响行数。Release 会回滚未结束的事务。
*/
package database
