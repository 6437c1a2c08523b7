package xjobstore

import (
	"context"
	"time"

	"github.com/omeyang/xsched/pkg/distributed/xjob"
)

// Signaler 调度引擎接收存储层通知的回调。
//
// 存储层在持锁期间之外或持锁期间都可能调用，实现应快速返回，不得回调存储。
type Signaler interface {
	// SignalSchedulingChange 调度相关数据变化，candidate 为可能更早的下一次触发时间（零值表示未知）。
	SignalSchedulingChange(ctx context.Context, candidate time.Time)

	// NotifyTriggerListenersMisfired 触发器错过触发，参数为 misfire 处理前的副本。
	NotifyTriggerListenersMisfired(ctx context.Context, trigger xjob.Trigger)

	// NotifySchedulerListenersFinalized 触发器不再触发。
	NotifySchedulerListenersFinalized(ctx context.Context, trigger xjob.Trigger)

	// NotifySchedulerListenersJobDeleted 非持久作业随最后一个触发器被删除。
	NotifySchedulerListenersJobDeleted(ctx context.Context, key xjob.JobKey)
}

// NoopSignaler 忽略全部通知。
type NoopSignaler struct{}

var _ Signaler = NoopSignaler{}

func (NoopSignaler) SignalSchedulingChange(context.Context, time.Time)               {}
func (NoopSignaler) NotifyTriggerListenersMisfired(context.Context, xjob.Trigger)    {}
func (NoopSignaler) NotifySchedulerListenersFinalized(context.Context, xjob.Trigger) {}
func (NoopSignaler) NotifySchedulerListenersJobDeleted(context.Context, xjob.JobKey) {}
