// Package xjobstore 提供基于分布式 Map 的集群作业与触发器存储。
//
// # 概述
//
// [Store] 实现调度引擎使用的 [JobStore] 接口，全部数据保存在 xdmap 后端
// （memory、Redis、etcd）中。多个节点使用相同的实例名和后端即组成集群，
// 节点之间只通过后端的 key 锁协调：
//
//	加锁 -> 重新读取 -> 构造新的 TriggerWrapper -> 写回 -> 释放
//
// 同一时刻最多持有一把锁。分组、作业到触发器等二级索引不加锁更新，
// 以主表（按名称）为准。
//
// # 触发协议
//
// 调度引擎按以下顺序调用：
//
//   - [Store.AcquireNextTriggers]: NORMAL/WAITING -> ACQUIRED
//   - [Store.TriggersFired]: ACQUIRED -> WAITING（不允许并发的作业保持 ACQUIRED，兄弟触发器 BLOCKED）
//   - [Store.TriggeredJobComplete]: 解除阻塞并执行完成指令
//
// 获取后未触发的触发器可通过 [Store.ReleaseAcquiredTrigger] 放回；
// 节点崩溃遗留的 ACQUIRED 触发器超过 AcquiredTriggerTimeout 后在下一次获取时被回收；
// 不允许并发的作业触发后未完成，超过 ExecutionTimeout 同样被回收并解除兄弟触发器的阻塞。
//
// # 使用
//
//	backend := xdmap.NewMemory()
//	store, err := xjobstore.New(backend, xjobstore.WithLogger(logger))
//	if err != nil { ... }
//	if err := store.Initialize(ctx, signaler); err != nil { ... }
//	defer store.Shutdown(ctx)
//
// 也可以用 [LoadConfig] 加载配置后通过 [Open] 创建，此时存储持有后端。
//
// # 错误
//
// 错误使用 errors.Is 匹配预定义的 Err* 变量。等锁超时返回 [ErrLockTimeout]，
// 存储层不做重试，由调度引擎按 [Store.AcquireRetryDelay] 退避。
// 释放已过期的锁只记录告警和 xsched.jobstore.lock.release_races 计数。
package xjobstore
