package xjobstore

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xsched/pkg/distributed/xjob"
	"github.com/omeyang/xsched/pkg/observability/xlog"
)

// existenceCheckConcurrency StoreJobsAndTriggers 预检查的并发上限。
const existenceCheckConcurrency = 8

// =============================================================================
// 写入
// =============================================================================

// StoreJob 写入作业副本。replaceExisting 为 false 且作业已存在时返回 ErrObjectAlreadyExists。
func (s *Store) StoreJob(ctx context.Context, job *xjob.JobDetail, replaceExisting bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.storeJob(ctx, job, replaceExisting)
}

func (s *Store) storeJob(ctx context.Context, job *xjob.JobDetail, replace bool) error {
	if job == nil {
		return ErrNilJob
	}
	job = job.Clone()
	if job.Key.Name == "" {
		return fmt.Errorf("%w: empty job name", ErrJobPersistence)
	}
	if job.Key.Group == "" {
		job.Key.Group = xjob.DefaultGroup
	}
	if err := job.JobData.Validate(); err != nil {
		return fmt.Errorf("%w: job %s: %w", ErrJobPersistence, job.Key, err)
	}

	return s.withLock(ctx, s.jobs.m, job.Key.Name, s.opts.lockLease, func(ctx context.Context) error {
		old, exists, err := s.jobs.get(ctx, job.Key.Name)
		if err != nil {
			return err
		}
		if exists && !replace {
			return fmt.Errorf("%w: job %s", ErrObjectAlreadyExists, job.Key)
		}
		moved := exists && old.Key.Group != job.Key.Group
		if moved {
			// 触发器记录的作业分组决定暂停判定，有触发器时不允许改组
			names, err := s.jobTriggers.Get(ctx, job.Key.Name)
			if err != nil {
				return err
			}
			if len(names) > 0 {
				return fmt.Errorf("%w: job %s has %d trigger(s), cannot move it from group %q",
					ErrJobPersistence, job.Key, len(names), old.Key.Group)
			}
		}
		if err := s.jobs.set(ctx, job.Key.Name, job); err != nil {
			return err
		}
		if moved {
			if err := s.jobGroups.Remove(ctx, old.Key.Group, job.Key.Name); err != nil {
				return err
			}
		}
		return s.jobGroups.Put(ctx, job.Key.Group, job.Key.Name)
	})
}

// StoreTrigger 写入触发器副本，引用的作业必须已存在。
//
// 没有下一次触发时间的触发器先按日历计算首次触发时间，永不触发的触发器被拒绝。
// 触发器分组或作业分组已暂停时初始状态为 PAUSED，否则为 NORMAL。
func (s *Store) StoreTrigger(ctx context.Context, trigger xjob.Trigger, replaceExisting bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.storeTrigger(ctx, trigger, replaceExisting)
}

func (s *Store) storeTrigger(ctx context.Context, trigger xjob.Trigger, replace bool) error {
	if trigger == nil {
		return ErrNilTrigger
	}
	t := trigger.Clone()
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrJobPersistence, err)
	}
	key := t.Key()
	if key.Group == "" || t.JobKey().Group == "" {
		return fmt.Errorf("%w: trigger %s has an empty group", ErrJobPersistence, key)
	}
	if err := t.JobData().Validate(); err != nil {
		return fmt.Errorf("%w: trigger %s: %w", ErrJobPersistence, key, err)
	}

	// 引用日历时在日历锁内写入，与 RemoveCalendar 的引用检查互斥
	if name := t.CalendarName(); name != "" {
		return s.withLock(ctx, s.calendars.m, name, s.opts.lockLease, func(ctx context.Context) error {
			return s.writeTrigger(ctx, t, replace)
		})
	}
	return s.writeTrigger(ctx, t, replace)
}

// writeTrigger 在触发器锁内写入 t 并维护索引，t 已校验且由调用方独占。
func (s *Store) writeTrigger(ctx context.Context, t xjob.Trigger, replace bool) error {
	key := t.Key()
	return s.withLock(ctx, s.triggers.m, key.Name, s.opts.lockLease, func(ctx context.Context) error {
		old, exists, err := s.triggers.get(ctx, key.Name)
		if err != nil {
			return err
		}
		if exists && !replace {
			return fmt.Errorf("%w: trigger %s", ErrObjectAlreadyExists, key)
		}
		job, jobExists, err := s.jobs.get(ctx, t.JobKey().Name)
		if err != nil {
			return err
		}
		if !jobExists {
			return fmt.Errorf("%w: trigger %s references missing job %s", ErrJobPersistence, key, t.JobKey())
		}
		if job.Key.Group != t.JobKey().Group {
			return fmt.Errorf("%w: trigger %s references job %s, stored as %s",
				ErrJobPersistence, key, t.JobKey(), job.Key)
		}

		cal, ok, err := s.calendarFor(ctx, t)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: trigger %s references missing calendar %q",
				ErrJobPersistence, key, t.CalendarName())
		}
		if t.NextFireTime().IsZero() && t.ComputeFirstFireTime(cal).IsZero() {
			return fmt.Errorf("%w: trigger %s will never fire", ErrJobPersistence, key)
		}

		state := StateNormal
		paused, err := s.pausedByGroup(ctx, key, t.JobKey())
		if err != nil {
			return err
		}
		if paused {
			state = StatePaused
		}

		w := newTriggerWrapper(t, state)
		if err := s.triggers.set(ctx, key.Name, w); err != nil {
			return err
		}
		if exists && (old.Key.Group != key.Group || old.JobKey.Name != w.JobKey.Name) {
			if err := s.unindexTrigger(ctx, old); err != nil {
				return err
			}
		}
		return s.indexTrigger(ctx, w)
	})
}

func (s *Store) indexTrigger(ctx context.Context, w TriggerWrapper) error {
	if err := s.triggerGroups.Put(ctx, w.Key.Group, w.Key.Name); err != nil {
		return err
	}
	return s.jobTriggers.Put(ctx, w.JobKey.Name, w.Key.Name)
}

func (s *Store) unindexTrigger(ctx context.Context, w TriggerWrapper) error {
	if err := s.triggerGroups.Remove(ctx, w.Key.Group, w.Key.Name); err != nil {
		return err
	}
	return s.jobTriggers.Remove(ctx, w.JobKey.Name, w.Key.Name)
}

// StoreJobAndTrigger 写入新作业及其触发器，两者都不得已存在。
func (s *Store) StoreJobAndTrigger(ctx context.Context, job *xjob.JobDetail, trigger xjob.Trigger) error {
	if err := s.ready(); err != nil {
		return err
	}
	if trigger == nil {
		return ErrNilTrigger
	}
	if err := s.storeJob(ctx, job, false); err != nil {
		return err
	}
	return s.storeTrigger(ctx, trigger, false)
}

// StoreJobsAndTriggers 批量写入。replace 为 false 时先检查全部对象都不存在，
// 任一已存在则不写入任何对象。写入阶段不是事务，中途失败时已写入的对象保留。
func (s *Store) StoreJobsAndTriggers(ctx context.Context, batch []JobWithTriggers, replace bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	for _, e := range batch {
		if e.Job == nil {
			return ErrNilJob
		}
		for _, t := range e.Triggers {
			if t == nil {
				return ErrNilTrigger
			}
		}
	}

	if !replace {
		if err := s.checkNoneExist(ctx, batch); err != nil {
			return err
		}
	}

	for _, e := range batch {
		if err := s.storeJob(ctx, e.Job, replace); err != nil {
			return err
		}
		for _, t := range e.Triggers {
			if err := s.storeTrigger(ctx, t, replace); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) checkNoneExist(ctx context.Context, batch []JobWithTriggers) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(existenceCheckConcurrency)
	for _, e := range batch {
		job := e.Job.Key
		g.Go(func() error {
			ok, err := s.jobs.m.ContainsKey(gctx, job.Name)
			if err != nil {
				return err
			}
			if ok {
				return fmt.Errorf("%w: job %s", ErrObjectAlreadyExists, job)
			}
			return nil
		})
		for _, t := range e.Triggers {
			key := t.Key()
			g.Go(func() error {
				ok, err := s.triggers.m.ContainsKey(gctx, key.Name)
				if err != nil {
					return err
				}
				if ok {
					return fmt.Errorf("%w: trigger %s", ErrObjectAlreadyExists, key)
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// =============================================================================
// 删除
// =============================================================================

// RemoveJob 删除作业及其全部触发器。删除任一触发器失败时保留作业并返回错误。
func (s *Store) RemoveJob(ctx context.Context, key xjob.JobKey) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	return s.removeJob(ctx, key)
}

func (s *Store) removeJob(ctx context.Context, key xjob.JobKey) (bool, error) {
	names, err := s.jobTriggers.Get(ctx, key.Name)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if _, err := s.removeTrigger(ctx, name, false); err != nil {
			return false, fmt.Errorf("xjobstore: remove trigger %s of job %s: %w", name, key, err)
		}
	}

	var removed bool
	err = s.withLock(ctx, s.jobs.m, key.Name, s.opts.lockLease, func(ctx context.Context) error {
		job, ok, err := s.jobs.get(ctx, key.Name)
		if err != nil || !ok {
			return err
		}
		if _, err := s.jobs.m.Remove(ctx, key.Name); err != nil {
			return err
		}
		removed = true
		return s.jobGroups.Remove(ctx, job.Key.Group, key.Name)
	})
	return removed, err
}

// RemoveJobs 依次删除作业，全部存在时返回 true。遇到错误立即返回。
func (s *Store) RemoveJobs(ctx context.Context, keys []xjob.JobKey) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	all := true
	for _, key := range keys {
		removed, err := s.removeJob(ctx, key)
		if err != nil {
			return false, err
		}
		all = all && removed
	}
	return all, nil
}

// RemoveTrigger 删除触发器。非持久作业失去最后一个触发器时一并删除。
func (s *Store) RemoveTrigger(ctx context.Context, key xjob.TriggerKey) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	return s.removeTrigger(ctx, key.Name, true)
}

// RemoveTriggers 依次删除触发器，全部存在时返回 true。遇到错误立即返回。
func (s *Store) RemoveTriggers(ctx context.Context, keys []xjob.TriggerKey) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	all := true
	for _, key := range keys {
		removed, err := s.removeTrigger(ctx, key.Name, true)
		if err != nil {
			return false, err
		}
		all = all && removed
	}
	return all, nil
}

// removeTrigger 在触发器锁内删除触发器及其索引；cleanupOrphan 时在释放后检查孤立作业。
func (s *Store) removeTrigger(ctx context.Context, name string, cleanupOrphan bool) (bool, error) {
	var (
		removed TriggerWrapper
		found   bool
	)
	err := s.withLock(ctx, s.triggers.m, name, s.opts.lockLease, func(ctx context.Context) error {
		w, ok, err := s.triggers.get(ctx, name)
		if err != nil || !ok {
			return err
		}
		if _, err := s.triggers.m.Remove(ctx, name); err != nil {
			return err
		}
		removed, found = w, true
		return s.unindexTrigger(ctx, w)
	})
	if err != nil || !found {
		return found, err
	}
	if cleanupOrphan {
		if err := s.removeOrphanedJob(ctx, removed.JobKey); err != nil {
			return true, err
		}
	}
	return true, nil
}

// removeOrphanedJob 非持久且已无触发器的作业被删除并通知监听者。
func (s *Store) removeOrphanedJob(ctx context.Context, key xjob.JobKey) error {
	var deleted bool
	err := s.withLock(ctx, s.jobs.m, key.Name, s.opts.lockLease, func(ctx context.Context) error {
		job, ok, err := s.jobs.get(ctx, key.Name)
		if err != nil || !ok || job.Durable {
			return err
		}
		names, err := s.jobTriggers.Get(ctx, key.Name)
		if err != nil || len(names) > 0 {
			return err
		}
		if _, err := s.jobs.m.Remove(ctx, key.Name); err != nil {
			return err
		}
		deleted = true
		return s.jobGroups.Remove(ctx, job.Key.Group, key.Name)
	})
	if deleted {
		s.logger.Debug(ctx, "removed non-durable job without triggers", xlog.Job(key))
		s.signaler.NotifySchedulerListenersJobDeleted(ctx, key)
	}
	return err
}

// ReplaceTrigger 删除 key 对应的触发器并写入 newTrigger，两者必须引用同一作业。
//
// 旧触发器不存在时返回 false。旧触发器删除后写入新触发器失败时返回 true 和该错误。
func (s *Store) ReplaceTrigger(ctx context.Context, key xjob.TriggerKey, newTrigger xjob.Trigger) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if newTrigger == nil {
		return false, ErrNilTrigger
	}
	if err := newTrigger.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", ErrJobPersistence, err)
	}

	old, ok, err := s.triggers.get(ctx, key.Name)
	if err != nil || !ok {
		return false, err
	}
	if old.JobKey.Name != newTrigger.JobKey().Name {
		return false, fmt.Errorf("%w: new trigger references job %s, expected %s",
			ErrJobPersistence, newTrigger.JobKey(), old.JobKey)
	}

	removed, err := s.removeTrigger(ctx, key.Name, false)
	if err != nil || !removed {
		return false, err
	}
	return true, s.storeTrigger(ctx, newTrigger, false)
}

// =============================================================================
// 读取
// =============================================================================

// RetrieveJob 返回作业的独立副本，不存在时返回 ErrJobNotFound。
func (s *Store) RetrieveJob(ctx context.Context, key xjob.JobKey) (*xjob.JobDetail, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	job, ok, err := s.jobs.get(ctx, key.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, key)
	}
	return job, nil
}

// RetrieveTrigger 返回触发器的独立副本，不存在时返回 ErrTriggerNotFound。
func (s *Store) RetrieveTrigger(ctx context.Context, key xjob.TriggerKey) (xjob.Trigger, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	w, ok, err := s.triggers.get(ctx, key.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTriggerNotFound, key)
	}
	return w.Trigger, nil
}

// CheckJobExists 报告作业是否存在。
func (s *Store) CheckJobExists(ctx context.Context, key xjob.JobKey) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	return s.jobs.m.ContainsKey(ctx, key.Name)
}

// CheckTriggerExists 报告触发器是否存在。
func (s *Store) CheckTriggerExists(ctx context.Context, key xjob.TriggerKey) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	return s.triggers.m.ContainsKey(ctx, key.Name)
}

// ClearAllSchedulingData 删除全部触发器、作业、日历和暂停分组。
func (s *Store) ClearAllSchedulingData(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}

	triggers, err := s.triggers.m.Keys(ctx)
	if err != nil {
		return err
	}
	for _, name := range triggers {
		if _, err := s.removeTrigger(ctx, name, false); err != nil {
			return err
		}
	}

	jobs, err := s.jobs.m.Keys(ctx)
	if err != nil {
		return err
	}
	for _, name := range jobs {
		if _, err := s.removeJob(ctx, xjob.JobKey{Name: name}); err != nil {
			return err
		}
	}

	calendars, err := s.calendars.m.Keys(ctx)
	if err != nil {
		return err
	}
	for _, name := range calendars {
		err := s.withLock(ctx, s.calendars.m, name, s.opts.lockLease, func(ctx context.Context) error {
			_, err := s.calendars.m.Remove(ctx, name)
			return err
		})
		if err != nil {
			return err
		}
	}

	for _, clearFn := range []func(context.Context) error{
		s.pausedTriggerGroups.Clear,
		s.pausedJobGroups.Clear,
		s.jobGroups.Clear,
		s.triggerGroups.Clear,
		s.jobTriggers.Clear,
	} {
		if err := clearFn(ctx); err != nil {
			return err
		}
	}
	s.logger.Info(ctx, "cleared all scheduling data",
		slog.Int("jobs", len(jobs)), slog.Int("triggers", len(triggers)), slog.Int("calendars", len(calendars)))
	return nil
}
