// Package storage 提供数据存储相关的子包。
//
// 子包列表：
//   - xdmap: 分布式 Map/MultiMap 与 key 锁，支持内存、Redis、etcd 后端
//
// 设计原则：
//   - 提供统一的接口抽象，支持多种存储后端
//   - 后端由调用方注入或按配置创建
package storage
