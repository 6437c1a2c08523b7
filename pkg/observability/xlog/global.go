package xlog

import (
	"log/slog"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[Logger]

// Default 返回进程级 Logger，首次调用时以默认配置创建。
func Default() Logger {
	if l := defaultLogger.Load(); l != nil {
		return *l
	}
	var l Logger
	built, _, err := New().Build()
	if err != nil {
		l = Nop()
	} else {
		l = built
	}
	defaultLogger.CompareAndSwap(nil, &l)
	return *defaultLogger.Load()
}

// SetDefault 替换进程级 Logger，nil 被忽略。
func SetDefault(l Logger) {
	if l != nil {
		defaultLogger.Store(&l)
	}
}

// Nop 返回丢弃全部输出的 Logger。
func Nop() Logger {
	levelVar := new(slog.LevelVar)
	return newLogger(slog.DiscardHandler, levelVar, false, nil)
}
