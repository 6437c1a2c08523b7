package xdmap

import (
	"context"
	"time"
)

// Map 命名的集群共享映射。
type Map interface {
	// Name 返回实例名。
	Name() string

	// Get 返回 key 的值，不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) ([]byte, error)

	// Set 写入 key 的值，覆盖已有值。
	Set(ctx context.Context, key string, value []byte) error

	// Remove 删除 key，返回删除前是否存在。
	Remove(ctx context.Context, key string) (bool, error)

	ContainsKey(ctx context.Context, key string) (bool, error)
	Size(ctx context.Context) (int, error)

	// Keys 返回全部 key 的快照，顺序未定义。
	Keys(ctx context.Context) ([]string, error)

	// Entries 返回全部键值的快照。
	Entries(ctx context.Context) (map[string][]byte, error)

	// Clear 删除全部 key，不影响已持有的锁。
	Clear(ctx context.Context) error

	// Lock 获取 key 上的租约锁，阻塞直到成功或 ctx 结束。
	// 锁与 key 是否存在无关，lease 到期后自动释放。
	Lock(ctx context.Context, key string, lease time.Duration) (LockHandle, error)
}

// LockHandle 一次成功加锁的句柄。
type LockHandle interface {
	// Key 返回加锁的 key。
	Key() string

	// Unlock 释放锁。锁已过期或不再属于本句柄时返回 ErrLockNotHeld。
	Unlock(ctx context.Context) error
}

// MultiMap 命名的 key → 字符串集合映射。
type MultiMap interface {
	// Name 返回实例名。
	Name() string

	// Put 向 key 的集合添加 value，重复添加无副作用。
	Put(ctx context.Context, key, value string) error

	// Remove 从 key 的集合删除 value，集合为空时 key 一并删除。
	Remove(ctx context.Context, key, value string) error

	// RemoveAll 删除 key 及其集合。
	RemoveAll(ctx context.Context, key string) error

	// Get 返回 key 的集合（升序），key 不存在时返回空切片。
	Get(ctx context.Context, key string) ([]string, error)

	// KeySet 返回集合非空的全部 key（升序）。
	KeySet(ctx context.Context) ([]string, error)

	Clear(ctx context.Context) error
}

// Backend 命名实例的提供者。
//
// 同名实例在同一后端上指向同一份数据；Map 与 MultiMap 的命名空间相互独立。
type Backend interface {
	Map(name string) Map
	MultiMap(name string) MultiMap

	// Health 检查后端连通性。
	Health(ctx context.Context) error

	// Close 关闭后端，重复调用返回 nil。
	Close() error
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

func validateLease(lease time.Duration) error {
	if lease <= 0 {
		return ErrInvalidLease
	}
	return nil
}
