package xdmap

import "errors"

// 预定义错误，使用 errors.Is 匹配。
var (
	// ErrNotFound key 不存在。
	ErrNotFound = errors.New("xdmap: key not found")

	// ErrLockNotHeld 解锁时锁已不属于当前句柄（租约过期、被抢占或重复解锁）。
	ErrLockNotHeld = errors.New("xdmap: lock not held")

	// ErrClosed 后端已关闭。
	ErrClosed = errors.New("xdmap: backend is closed")

	// ErrEmptyKey key 为空。
	ErrEmptyKey = errors.New("xdmap: key must not be empty")

	// ErrNilClient 客户端为空。
	ErrNilClient = errors.New("xdmap: client is nil")

	// ErrUnknownBackend 未知的后端类型。
	ErrUnknownBackend = errors.New("xdmap: unknown backend type")

	// ErrNoEndpoints 未配置 Redis 地址或 etcd endpoints。
	ErrNoEndpoints = errors.New("xdmap: no endpoints configured")

	// ErrInvalidLease 租约时长非正数。
	ErrInvalidLease = errors.New("xdmap: lease must be positive")
)
