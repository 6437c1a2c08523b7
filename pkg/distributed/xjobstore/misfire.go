package xjobstore

import (
	"context"

	"github.com/omeyang/xsched/pkg/distributed/xjob"
	"github.com/omeyang/xsched/pkg/observability/xlog"
)

// applyMisfire 对错过触发的触发器执行 misfire 策略，调用方必须持有该触发器的锁。
//
// 下一次触发时间早于 now-MisfireThreshold 且策略不是忽略时视为错过：
// 通知监听者，由触发器按策略与日历重新计算。触发器耗尽时写入 STATE_COMPLETED
// 并通知终结；计算结果不变时视为未错过；否则写回新时间。
// 返回更新后的包装，以及是否应用了 misfire。
func (s *Store) applyMisfire(ctx context.Context, w TriggerWrapper) (TriggerWrapper, bool, error) {
	t := w.Trigger
	next := t.NextFireTime()
	if next.IsZero() || t.MisfireInstruction() == xjob.MisfireInstructionIgnoreMisfirePolicy {
		return w, false, nil
	}
	now := s.now()
	if next.After(now.Add(-s.opts.misfireThreshold)) {
		return w, false, nil
	}

	// 日历已被删除时不按日历排除
	cal, _, err := s.calendarFor(ctx, t)
	if err != nil {
		return w, false, err
	}

	s.signaler.NotifyTriggerListenersMisfired(ctx, t.Clone())
	updated := t.Clone()
	updated.UpdateAfterMisfire(cal, now)

	if updated.NextFireTime().IsZero() {
		done := w.withTrigger(updated).withState(StateCompleted)
		if err := s.triggers.set(ctx, w.Key.Name, done); err != nil {
			return w, false, err
		}
		s.inst.add(ctx, s.inst.misfired, 1)
		s.logger.Info(ctx, "trigger exhausted by misfire", xlog.Trigger(w.Key))
		s.signaler.NotifySchedulerListenersFinalized(ctx, updated.Clone())
		return done, true, nil
	}
	if updated.NextFireTime().Equal(next) {
		return w, false, nil
	}

	out := w.withTrigger(updated)
	if err := s.triggers.set(ctx, w.Key.Name, out); err != nil {
		return w, false, err
	}
	s.inst.add(ctx, s.inst.misfired, 1)
	s.logger.Debug(ctx, "misfire applied", xlog.Trigger(w.Key))
	return out, true, nil
}
