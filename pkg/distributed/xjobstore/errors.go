package xjobstore

import "errors"

// 预定义错误，使用 errors.Is 匹配。
var (
	// ErrObjectAlreadyExists 不替换时写入已存在的作业、触发器或日历。
	ErrObjectAlreadyExists = errors.New("xjobstore: object already exists")

	// ErrJobPersistence 引用完整性错误：触发器引用的作业不存在、触发器无效或永不触发。
	ErrJobPersistence = errors.New("xjobstore: job persistence failure")

	// ErrIllegalState 删除仍被触发器引用的日历等非法状态。
	ErrIllegalState = errors.New("xjobstore: illegal state")

	// ErrLockTimeout 等待 key 锁超时，同时匹配 context.DeadlineExceeded。
	ErrLockTimeout = errors.New("xjobstore: lock wait timeout")

	// ErrJobNotFound 作业不存在。
	ErrJobNotFound = errors.New("xjobstore: job not found")

	// ErrTriggerNotFound 触发器不存在。
	ErrTriggerNotFound = errors.New("xjobstore: trigger not found")

	// ErrCalendarNotFound 日历不存在。
	ErrCalendarNotFound = errors.New("xjobstore: calendar not found")

	// ErrNilJob 作业为 nil。
	ErrNilJob = errors.New("xjobstore: nil job")

	// ErrNilTrigger 触发器为 nil。
	ErrNilTrigger = errors.New("xjobstore: nil trigger")

	// ErrNilCalendar 日历为 nil。
	ErrNilCalendar = errors.New("xjobstore: nil calendar")

	// ErrNilBackend New 的 backend 为 nil。
	ErrNilBackend = errors.New("xjobstore: nil backend")

	// ErrNotInitialized 调用 Initialize 之前使用存储。
	ErrNotInitialized = errors.New("xjobstore: store not initialized")

	// ErrShutdown Shutdown 之后使用存储。
	ErrShutdown = errors.New("xjobstore: store shut down")

	// ErrInvalidConfig 配置无效。
	ErrInvalidConfig = errors.New("xjobstore: invalid config")
)
