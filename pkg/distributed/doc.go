// Package distributed 提供分布式调度相关的子包。
//
// 子包列表：
//   - xjob: 作业、触发器、日历与分组匹配等调度领域模型
//   - xjobstore: 基于分布式 Map 的集群作业存储
//
// 设计原则：
//   - 领域模型与存储解耦，触发器只通过自身方法推进时间
//   - 集群内以 key 锁保证同一触发器同一时刻只被一个节点获取
//   - 内置健康检查、指标与追踪
package distributed
