package xjob

import "errors"

// 预定义错误，使用 errors.Is 匹配。
var (
	// ErrInvalidTrigger 触发器参数无效（key 为空、重复间隔非法等）。
	ErrInvalidTrigger = errors.New("xjob: invalid trigger")

	// ErrInvalidCronExpression cron 表达式无法解析。
	ErrInvalidCronExpression = errors.New("xjob: invalid cron expression")

	// ErrInvalidCalendar 日历参数无效。
	ErrInvalidCalendar = errors.New("xjob: invalid calendar")

	// ErrUnknownKind 反序列化时遇到未注册的 kind。
	ErrUnknownKind = errors.New("xjob: unknown kind")

	// ErrDuplicateKind 重复注册同名 kind。
	ErrDuplicateKind = errors.New("xjob: kind already registered")

	// ErrNilValue 序列化 nil 触发器或日历。
	ErrNilValue = errors.New("xjob: nil value")

	// ErrUnsupportedJobData JobDataMap 中含有无法持久化的值类型。
	ErrUnsupportedJobData = errors.New("xjob: unsupported job data value")
)
