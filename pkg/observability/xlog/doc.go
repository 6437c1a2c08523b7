// Package xlog 基于 log/slog 的结构化日志。
//
// # 创建 Logger
//
// 使用 Builder 配置输出、级别、格式与轮转，Build 返回 Logger 和清理函数：
//
//	logger, cleanup, err := xlog.New().
//		SetLevelString("debug").
//		SetFormat("json").
//		SetRotation("/var/log/xsched/store.log", xlog.RotationConfig{MaxSizeMB: 100}).
//		Build()
//	if err != nil {
//		return err
//	}
//	defer cleanup()
//
// Builder 采用 first-error-wins：第一个配置错误之后的 Set 调用被忽略，错误由 Build 返回。
//
// # 上下文
//
// 所有方法第一个参数为 context.Context。ctx 中存在 OpenTelemetry span 时，
// 日志自动附带 trace_id 与 span_id（[NewTraceHandler]，默认启用）。
//
// # 属性
//
// 方法只接受 slog.Attr。常用属性：[Err]、[Component]、[Operation]、[Count]、
// [Duration]，以及作业存储使用的 [Trigger]、[Job]、[State]、[Node]。
//
// # 默认 Logger
//
// [Default] 返回进程级 Logger（stderr、Info、text），[SetDefault] 替换它。
// [Nop] 返回丢弃全部输出的 Logger，用于测试或显式关闭日志。
package xlog
