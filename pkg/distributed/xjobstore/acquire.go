package xjobstore

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/omeyang/xsched/pkg/distributed/xjob"
	"github.com/omeyang/xsched/pkg/observability/xlog"
)

// =============================================================================
// 获取
// =============================================================================

// AcquireNextTriggers 获取下一次触发时间不晚于 noLaterThan+timeWindow 的触发器，最多 maxCount 个。
//
// 候选按下一次触发时间升序逐个加锁重读，仍为 NORMAL/WAITING 且未被暂停时先应用
// misfire 策略，再写回 ACQUIRED。不允许并发的作业在同一批次中最多获取一个触发器。
// 获取后长时间未触发（超过 AcquiredTriggerTimeout）的 ACQUIRED 触发器会被重置为 WAITING 并重新参与获取；
// 不允许并发的作业触发后超过 ExecutionTimeout 仍未完成时先回收，再参与获取。
//
// 单个候选等锁超时时跳过该候选；其他错误释放本批已获取的触发器并返回错误。
func (s *Store) AcquireNextTriggers(ctx context.Context, noLaterThan time.Time, maxCount int,
	timeWindow time.Duration) (acquired []xjob.Trigger, err error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ctx, span := s.inst.start(ctx, "AcquireNextTriggers",
		attribute.Int("xsched.max_count", maxCount),
		attribute.String("xsched.time_window", timeWindow.String()))
	defer func() {
		span.SetAttributes(attribute.Int("xsched.acquired", len(acquired)))
		endSpan(span, err)
	}()

	if maxCount <= 0 {
		return nil, nil
	}
	size, err := s.triggers.m.Size(ctx)
	if err != nil || size == 0 {
		return nil, err
	}

	limit := noLaterThan.Add(timeWindow)
	now := s.now()
	candidates, expired, err := s.acquireCandidates(ctx, limit, now)
	if err != nil {
		return nil, err
	}

	var (
		exclusiveJobs = make(map[string]struct{})
		recovered     int
	)
	if len(expired) > 0 {
		n, err := s.recoverExecutions(ctx, expired)
		recovered += n
		if err != nil {
			s.inst.add(ctx, s.inst.recovered, recovered)
			return nil, err
		}
		if n > 0 {
			if candidates, _, err = s.acquireCandidates(ctx, limit, now); err != nil {
				s.inst.add(ctx, s.inst.recovered, recovered)
				return nil, err
			}
		}
	}

	for _, c := range candidates {
		if len(acquired) >= maxCount {
			break
		}
		t, rec, err := s.acquireTrigger(ctx, c.Key.Name, limit, exclusiveJobs)
		if rec {
			recovered++
		}
		if errors.Is(err, ErrLockTimeout) {
			s.logger.Warn(ctx, "skip trigger locked by another node", xlog.Trigger(c.Key), xlog.Err(err))
			continue
		}
		if err != nil {
			s.releaseAll(ctx, acquired)
			s.inst.add(ctx, s.inst.recovered, recovered)
			return nil, err
		}
		if t != nil {
			acquired = append(acquired, t)
		}
	}

	s.inst.add(ctx, s.inst.recovered, recovered)
	s.inst.add(ctx, s.inst.acquired, len(acquired))
	if len(acquired) > 0 {
		s.logger.Debug(ctx, "acquired triggers", xlog.Count(int64(len(acquired))))
	}
	return acquired, nil
}

// acquireCandidates 快照过滤后按下一次触发时间升序（同时间按名称）返回候选，
// 以及执行超时待回收的触发器。
func (s *Store) acquireCandidates(ctx context.Context, limit, now time.Time) (candidates, expired []TriggerWrapper, err error) {
	all, err := s.triggers.all(ctx)
	if err != nil {
		return nil, nil, err
	}
	candidates = make([]TriggerWrapper, 0, len(all))
	for _, w := range all {
		if s.isExecutionExpired(w, now) {
			expired = append(expired, w)
			continue
		}
		next := w.Trigger.NextFireTime()
		if next.IsZero() || next.After(limit) || w.State.IsPaused() {
			continue
		}
		if end := w.Trigger.EndTime(); !end.IsZero() && end.Before(limit) {
			continue
		}
		if !w.State.IsAcquirable() && !s.isStaleAcquired(w, now) {
			continue
		}
		candidates = append(candidates, w)
	}
	slices.SortFunc(candidates, func(a, b TriggerWrapper) int {
		if c := a.Trigger.NextFireTime().Compare(b.Trigger.NextFireTime()); c != 0 {
			return c
		}
		return strings.Compare(a.Key.Name, b.Key.Name)
	})
	return candidates, expired, nil
}

// isStaleAcquired 报告是否为获取后超时未触发的 ACQUIRED 触发器。
func (s *Store) isStaleAcquired(w TriggerWrapper, now time.Time) bool {
	return s.opts.acquiredTriggerTimeout > 0 &&
		w.State == StateAcquired &&
		!w.AcquiredAt.IsZero() &&
		now.Sub(w.AcquiredAt) > s.opts.acquiredTriggerTimeout
}

// isExecutionExpired 报告是否为触发后超过 ExecutionTimeout 仍未完成的触发器。
func (s *Store) isExecutionExpired(w TriggerWrapper, now time.Time) bool {
	return s.opts.executionTimeout > 0 &&
		w.State == StateAcquired &&
		!w.FiredAt.IsZero() &&
		now.Sub(w.FiredAt) > s.opts.executionTimeout
}

// recoverExecutions 逐个回收执行超时的触发器，返回回收数量。
// 等锁超时的触发器留到下一次获取。
func (s *Store) recoverExecutions(ctx context.Context, expired []TriggerWrapper) (int, error) {
	n := 0
	for _, w := range expired {
		ok, err := s.recoverExecution(ctx, w)
		if ok {
			n++
		}
		if errors.Is(err, ErrLockTimeout) {
			s.logger.Warn(ctx, "skip expired execution locked by another node", xlog.Trigger(w.Key), xlog.Err(err))
			continue
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// recoverExecution 在锁内确认执行仍超时后结束本次执行，并解除兄弟触发器的阻塞。
func (s *Store) recoverExecution(ctx context.Context, w TriggerWrapper) (bool, error) {
	var recovered bool
	err := s.updateTrigger(ctx, w.Key.Name, s.opts.acquireLockLease,
		func(_ context.Context, cur TriggerWrapper) (TriggerWrapper, bool, error) {
			if !s.isExecutionExpired(cur, s.now()) {
				return cur, false, nil
			}
			recovered = true
			if cur.Trigger.NextFireTime().IsZero() {
				return cur.withState(StateCompleted), true, nil
			}
			return cur.withState(StateWaiting), true, nil
		})
	if err != nil || !recovered {
		return false, err
	}
	s.logger.Warn(ctx, "recovered trigger whose execution never completed",
		xlog.Trigger(w.Key), xlog.Job(w.JobKey), slog.Time("fired_at", w.FiredAt))
	if err := s.setSiblingStates(ctx, w.JobKey.Name, w.Key.Name, TriggerState.Unblocked); err != nil {
		return true, err
	}
	s.signal(ctx, time.Time{})
	return true, nil
}

// acquireTrigger 在触发器锁内完成单个候选的获取，未获取时返回 nil。
// exclusiveJobs 记录本批已获取的不允许并发的作业。
func (s *Store) acquireTrigger(ctx context.Context, name string, limit time.Time,
	exclusiveJobs map[string]struct{}) (picked xjob.Trigger, recovered bool, err error) {
	err = s.withLock(ctx, s.triggers.m, name, s.opts.acquireLockLease, func(ctx context.Context) error {
		w, ok, err := s.triggers.get(ctx, name)
		if err != nil || !ok {
			return err
		}
		if s.isStaleAcquired(w, s.now()) {
			w = w.withState(StateWaiting)
			if err := s.triggers.set(ctx, name, w); err != nil {
				return err
			}
			recovered = true
			s.logger.Warn(ctx, "recovered trigger acquired but never fired", xlog.Trigger(w.Key))
		}
		if !w.State.IsAcquirable() || w.Trigger.NextFireTime().IsZero() {
			return nil
		}
		job, ok, err := s.jobs.get(ctx, w.JobKey.Name)
		if err != nil || !ok {
			return err
		}
		// 作业分组以存储中的作业为准
		paused, err := s.pausedByGroup(ctx, w.Key, job.Key)
		if err != nil || paused {
			return err
		}

		w, _, err = s.applyMisfire(ctx, w)
		if err != nil {
			return err
		}
		next := w.Trigger.NextFireTime()
		if w.State == StateCompleted || next.IsZero() || next.After(limit) {
			return nil
		}

		if job.ConcurrentExecutionDisallowed {
			if _, dup := exclusiveJobs[job.Key.Name]; dup {
				return nil
			}
		}

		t := w.Trigger.Clone()
		t.SetFireInstanceID(s.nextFireInstanceID())
		if err := s.triggers.set(ctx, name, w.withTrigger(t).acquired(s.now())); err != nil {
			return err
		}
		if job.ConcurrentExecutionDisallowed {
			exclusiveJobs[job.Key.Name] = struct{}{}
		}
		picked = t.Clone()
		return nil
	})
	if err != nil {
		return nil, recovered, err
	}
	return picked, recovered, nil
}

// releaseAll 尽力释放已获取的触发器，失败只记录日志。
func (s *Store) releaseAll(ctx context.Context, triggers []xjob.Trigger) {
	for _, t := range triggers {
		if err := s.releaseAcquired(ctx, t.Key().Name); err != nil {
			s.logger.Error(ctx, "release acquired trigger", xlog.Trigger(t.Key()), xlog.Err(err))
		}
	}
}

// ReleaseAcquiredTrigger 将 ACQUIRED 触发器放回 WAITING，其他状态不变。
func (s *Store) ReleaseAcquiredTrigger(ctx context.Context, trigger xjob.Trigger) error {
	if err := s.ready(); err != nil {
		return err
	}
	if trigger == nil {
		return ErrNilTrigger
	}
	return s.releaseAcquired(ctx, trigger.Key().Name)
}

func (s *Store) releaseAcquired(ctx context.Context, name string) error {
	return s.updateTrigger(ctx, name, s.opts.acquireLockLease,
		func(_ context.Context, w TriggerWrapper) (TriggerWrapper, bool, error) {
			if w.State != StateAcquired {
				return w, false, nil
			}
			return w.withState(StateWaiting), true, nil
		})
}

// =============================================================================
// 触发
// =============================================================================

// TriggersFired 触发已获取的触发器，为每个输入返回一个结果。
//
// 结果的 Bundle 为 nil 且 Err 为 nil 表示触发器已失效（不存在、不再是 ACQUIRED、
// 引用的日历或作业已删除），调度引擎应跳过。调用方传入的触发器同步推进。
func (s *Store) TriggersFired(ctx context.Context, triggers []xjob.Trigger) (results []TriggerFiredResult, err error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ctx, span := s.inst.start(ctx, "TriggersFired", attribute.Int("xsched.count", len(triggers)))
	defer func() { endSpan(span, err) }()

	results = make([]TriggerFiredResult, len(triggers))
	fired := 0
	for i, t := range triggers {
		if t == nil {
			results[i].Err = ErrNilTrigger
			continue
		}
		bundle, err := s.triggerFired(ctx, t)
		results[i] = TriggerFiredResult{Bundle: bundle, Err: err}
		if bundle != nil {
			fired++
		}
	}
	s.inst.add(ctx, s.inst.fired, fired)
	return results, nil
}

func (s *Store) triggerFired(ctx context.Context, t xjob.Trigger) (*TriggerFiredBundle, error) {
	var (
		bundle    *TriggerFiredBundle
		exclusive bool
		key       = t.Key()
	)
	err := s.withLock(ctx, s.triggers.m, key.Name, s.opts.acquireLockLease, func(ctx context.Context) error {
		w, ok, err := s.triggers.get(ctx, key.Name)
		if err != nil || !ok {
			return err
		}
		if w.State != StateAcquired {
			s.logger.Debug(ctx, "skip fired trigger no longer acquired", xlog.Trigger(key), xlog.State(w.State))
			return nil
		}
		cal, ok, err := s.calendarFor(ctx, w.Trigger)
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Warn(ctx, "skip fired trigger with missing calendar",
				xlog.Trigger(key), slog.String("calendar", w.Trigger.CalendarName()))
			return nil
		}
		job, ok, err := s.jobs.get(ctx, w.JobKey.Name)
		if err != nil || !ok {
			return err
		}

		stored := w.Trigger
		prev := stored.PreviousFireTime()
		stored.Triggered(cal)
		t.Triggered(cal)

		next := w.withTrigger(stored)
		if job.ConcurrentExecutionDisallowed {
			// 执行完成前保持 ACQUIRED，超过 ExecutionTimeout 后由获取流程回收
			next = next.executing(s.now())
			exclusive = true
		} else {
			next = next.withState(StateWaiting)
		}
		if err := s.triggers.set(ctx, key.Name, next); err != nil {
			return err
		}

		bundle = &TriggerFiredBundle{
			Job:               job,
			Trigger:           t,
			Calendar:          cal,
			FireTime:          s.now(),
			ScheduledFireTime: stored.PreviousFireTime(),
			PrevFireTime:      prev,
			NextFireTime:      stored.NextFireTime(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if exclusive {
		if err := s.setSiblingStates(ctx, bundle.Job.Key.Name, key.Name, TriggerState.Blocked); err != nil {
			s.logger.Error(ctx, "block sibling triggers", xlog.Job(bundle.Job.Key), xlog.Err(err))
		}
	}
	return bundle, nil
}

// setSiblingStates 逐个加锁，按 transition 更新作业中除 except 外的触发器。
func (s *Store) setSiblingStates(ctx context.Context, jobName, except string,
	transition func(TriggerState) TriggerState) error {
	names, err := s.jobTriggers.Get(ctx, jobName)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == except {
			continue
		}
		err := s.updateTrigger(ctx, name, s.opts.acquireLockLease,
			func(_ context.Context, w TriggerWrapper) (TriggerWrapper, bool, error) {
				next := transition(w.State)
				return w.withState(next), next != w.State, nil
			})
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// 完成
// =============================================================================

// TriggeredJobComplete 作业执行完成后按指令更新触发器。
//
// 作业要求持久化数据时重新存储作业；不允许并发的作业解除兄弟触发器的阻塞，
// 并将本触发器放回 WAITING。随后执行完成指令。
//
// SET_*_ERROR 写入 BLOCKED 作为执行出错标记，ResetTriggerFromErrorState 只处理 ERROR。
func (s *Store) TriggeredJobComplete(ctx context.Context, trigger xjob.Trigger, job *xjob.JobDetail,
	instruction xjob.CompletedExecutionInstruction) (err error) {
	if err := s.ready(); err != nil {
		return err
	}
	if trigger == nil {
		return ErrNilTrigger
	}
	if job == nil {
		return ErrNilJob
	}
	key := trigger.Key()
	ctx, span := s.inst.start(ctx, "TriggeredJobComplete",
		attribute.String("xsched.trigger", key.String()),
		attribute.String("xsched.instruction", instruction.String()))
	defer func() { endSpan(span, err) }()

	if job.PersistJobDataAfterExecution {
		if err := s.persistJobData(ctx, job); err != nil {
			return err
		}
	}

	if job.ConcurrentExecutionDisallowed {
		if err := s.setSiblingStates(ctx, job.Key.Name, key.Name, TriggerState.Unblocked); err != nil {
			return err
		}
		if err := s.releaseAcquired(ctx, key.Name); err != nil {
			return err
		}
		s.signal(ctx, time.Time{})
	}

	switch instruction {
	case xjob.InstructionDeleteTrigger:
		if !trigger.NextFireTime().IsZero() {
			s.signal(ctx, time.Time{})
		}
		_, err := s.removeTrigger(ctx, key.Name, true)
		return err

	case xjob.InstructionSetTriggerComplete:
		return s.completeTriggers(ctx, []string{key.Name}, StateCompleted)

	case xjob.InstructionSetAllJobTriggersComplete:
		names, err := s.jobTriggers.Get(ctx, job.Key.Name)
		if err != nil {
			return err
		}
		return s.completeTriggers(ctx, names, StateCompleted)

	case xjob.InstructionSetTriggerError:
		s.logger.Warn(ctx, "trigger blocked on execution error", xlog.Trigger(key))
		return s.completeTriggers(ctx, []string{key.Name}, StateBlocked)

	case xjob.InstructionSetAllJobTriggersError:
		names, err := s.jobTriggers.Get(ctx, job.Key.Name)
		if err != nil {
			return err
		}
		s.logger.Warn(ctx, "all triggers of job blocked on execution error", xlog.Job(job.Key))
		return s.completeTriggers(ctx, names, StateBlocked)

	default:
		return nil
	}
}

// persistJobData 作业仍存在时写入执行后的作业数据。
func (s *Store) persistJobData(ctx context.Context, job *xjob.JobDetail) error {
	job = job.Clone()
	return s.withLock(ctx, s.jobs.m, job.Key.Name, s.opts.lockLease, func(ctx context.Context) error {
		old, ok, err := s.jobs.get(ctx, job.Key.Name)
		if err != nil || !ok {
			return err
		}
		// 分组以存储中的为准，执行期间的改组不影响索引
		job.Key.Group = old.Key.Group
		return s.jobs.set(ctx, job.Key.Name, job)
	})
}

// completeTriggers 将触发器逐个置为 state 并通知调度变化。
func (s *Store) completeTriggers(ctx context.Context, names []string, state TriggerState) error {
	for _, name := range names {
		err := s.updateTrigger(ctx, name, s.opts.lockLease,
			func(_ context.Context, w TriggerWrapper) (TriggerWrapper, bool, error) {
				return w.withState(state), w.State != state, nil
			})
		if err != nil {
			return err
		}
	}
	s.signal(ctx, time.Time{})
	return nil
}

// ResetTriggerFromErrorState 将 ERROR 触发器恢复：所在分组已暂停时为 PAUSED，否则为 WAITING。
func (s *Store) ResetTriggerFromErrorState(ctx context.Context, key xjob.TriggerKey) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.updateTrigger(ctx, key.Name, s.opts.lockLease,
		func(ctx context.Context, w TriggerWrapper) (TriggerWrapper, bool, error) {
			if w.State != StateError {
				return w, false, nil
			}
			paused, err := s.pausedByGroup(ctx, w.Key, w.JobKey)
			if err != nil {
				return w, false, err
			}
			if paused {
				return w.withState(StatePaused), true, nil
			}
			return w.withState(StateWaiting), true, nil
		})
}

// TriggerState 返回触发器状态，不存在时返回 StateNone。
func (s *Store) TriggerState(ctx context.Context, key xjob.TriggerKey) (TriggerState, error) {
	if err := s.ready(); err != nil {
		return StateNone, err
	}
	w, ok, err := s.triggers.get(ctx, key.Name)
	if err != nil || !ok {
		return StateNone, err
	}
	return w.State, nil
}
