/*
包 cache 提供查询结果缓存。

# 概述

ResultCache 是进程内、按查询指纹索引的结果缓存。只有只读语句
（select 前缀）且执行耗时严格大于阈值（默认 10ms）的结果才会被准入；
条目在插入 TTL（默认 300s）后失效，查找时惰性淘汰，调优任务周期性清理。
缓存本身不做任何 I/O，命中次数只用于统计，不参与淘汰。
准入与查找都深拷贝结果集，调用方修改返回的行不会影响缓存内容。

RedisTier 是可选的共享二级缓存，由连接池门面在本地未命中时查询、
在准入后写穿。条目以 msgpack 编码，列值类型往返不变；条目保存原始插入时间，Redis 过期时间为剩余 TTL，
因此共享命中不会超出 TTL。共享层故障一律按未命中处理。

# 核心类型

  - ResultCache：进程内 TTL 缓存，提供 Lookup/Admit/RecordHit/
    SweepExpired/Sweep/Restore/Remaining/Clear/Len/Stats。
  - Entry：缓存条目（指纹、结果集、插入时间、命中次数）。
  - SharedTier / RedisTier：共享缓存层接口及其 go-redis 实现。
  - IsReadOnly：准入判断使用的只读语句检测。
*/
package cache
