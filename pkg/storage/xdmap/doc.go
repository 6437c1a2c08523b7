// Package xdmap 提供集群共享的键值映射与按键租约锁，是作业存储的分布式原语。
//
// # 核心概念
//
//   - [Map]: 命名的 key → []byte 映射，支持按键加锁（[Map.Lock]）
//   - [MultiMap]: 命名的 key → 字符串集合映射，用作二级索引
//   - [LockHandle]: 一次成功加锁的句柄，Unlock 只释放本句柄持有的锁
//   - [Backend]: 管理命名实例、健康检查与关闭
//
// # 后端
//
//	| 后端 | 构造 | Map | MultiMap | 锁 |
//	|------|------|-----|----------|----|
//	| memory | NewMemory | 分片 map | map of set | 进程内租约锁 |
//	| redis | NewRedis | HASH | SET + 索引 SET | redsync（SET NX PX） |
//	| etcd | NewEtcd | 前缀下的 key | 前缀下的 key | concurrency.Mutex |
//
// memory 后端按名称共享实例：同一个 *MemoryBackend 上创建的多个存储看到同一份数据，
// 可在单进程内模拟多节点集群。
//
// 使用 [Open] 按 [Config] 创建后端，并在返回前执行带重试的健康检查。
// 通过 NewRedis/NewEtcd 传入的客户端由调用方管理生命周期，Open 创建的客户端随 Close 关闭。
//
// # 锁语义
//
// Lock 阻塞直到获得锁或 ctx 结束，ctx 结束时返回 ctx.Err()。
// 锁在 lease 到期后自动失效；之后再 Unlock 返回 [ErrLockNotHeld]。
// etcd 后端的租约由会话 TTL 决定（Config.Etcd.SessionTTL），lease 参数被忽略：
// 持锁进程存活时会话自动续期，进程崩溃后锁在 TTL 内释放。
//
// # 数据隔离
//
// 所有值以字节形式存储，Get/Entries 返回的切片与后端内部状态互不共享。
package xdmap
