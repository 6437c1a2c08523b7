package xlog

import (
	"log/slog"
	"time"
)

// 标准字段名。
const (
	KeyError     = "error"
	KeyDuration  = "duration"
	KeyCount     = "count"
	KeyComponent = "component"
	KeyOperation = "operation"
	KeyTraceID   = "trace_id"
	KeySpanID    = "span_id"

	// KeyTrigger 触发器标识（group.name）。
	KeyTrigger = "trigger"
	// KeyJob 作业标识（group.name）。
	KeyJob = "job"
	// KeyState 触发器状态。
	KeyState = "state"
	// KeyNode 集群节点 ID。
	KeyNode = "node"
)

// Err 错误属性，err 为 nil 时返回空属性（slog 会忽略）。
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Duration 输出人类可读格式，如 "1.5s"。
func Duration(d time.Duration) slog.Attr {
	return slog.String(KeyDuration, d.String())
}

func Component(name string) slog.Attr { return slog.String(KeyComponent, name) }

func Operation(name string) slog.Attr { return slog.String(KeyOperation, name) }

func Count(n int64) slog.Attr { return slog.Int64(KeyCount, n) }

// Trigger 接受实现了 fmt.Stringer 的触发器标识。
func Trigger(key interface{ String() string }) slog.Attr {
	return slog.String(KeyTrigger, key.String())
}

// Job 接受实现了 fmt.Stringer 的作业标识。
func Job(key interface{ String() string }) slog.Attr {
	return slog.String(KeyJob, key.String())
}

func State(state interface{ String() string }) slog.Attr {
	return slog.String(KeyState, state.String())
}

func Node(id string) slog.Attr { return slog.String(KeyNode, id) }
