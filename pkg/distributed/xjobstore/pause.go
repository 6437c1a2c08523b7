package xjobstore

import (
	"context"
	"slices"
	"time"

	"github.com/omeyang/xsched/pkg/distributed/xjob"
	"github.com/omeyang/xsched/pkg/storage/xdmap"
)

// pausedMarker 暂停分组集合中的值，只使用 key。
var pausedMarker = []byte{}

// updateTrigger 在触发器锁内读取并按 fn 的结果写回。
// fn 返回 false 时不写入；触发器不存在时 fn 不会被调用。
func (s *Store) updateTrigger(ctx context.Context, name string, lease time.Duration,
	fn func(ctx context.Context, w TriggerWrapper) (TriggerWrapper, bool, error)) error {
	return s.withLock(ctx, s.triggers.m, name, lease, func(ctx context.Context) error {
		w, ok, err := s.triggers.get(ctx, name)
		if err != nil || !ok {
			return err
		}
		next, write, err := fn(ctx, w)
		if err != nil || !write {
			return err
		}
		return s.triggers.set(ctx, name, next)
	})
}

// =============================================================================
// 暂停
// =============================================================================

// PauseTrigger 暂停触发器，已完成的触发器不受影响。
func (s *Store) PauseTrigger(ctx context.Context, key xjob.TriggerKey) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.pauseTrigger(ctx, key.Name)
}

func (s *Store) pauseTrigger(ctx context.Context, name string) error {
	return s.updateTrigger(ctx, name, s.opts.lockLease,
		func(_ context.Context, w TriggerWrapper) (TriggerWrapper, bool, error) {
			if w.State.IsFinished() {
				return w, false, nil
			}
			next := w.State.Paused()
			return w.withState(next), next != w.State, nil
		})
}

// PauseTriggers 暂停匹配的触发器分组，返回分组名（升序）。
//
// 分组先加入暂停集合，之后写入该分组的触发器初始即为 PAUSED。
// 等值匹配会暂停尚不存在的分组。
func (s *Store) PauseTriggers(ctx context.Context, matcher xjob.GroupMatcher) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	groups, err := matchGroups(ctx, matcher, s.triggerGroups)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if err := s.pausedTriggerGroups.Set(ctx, g, pausedMarker); err != nil {
			return nil, err
		}
		names, err := s.triggerGroups.Get(ctx, g)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if err := s.pauseTrigger(ctx, name); err != nil {
				return nil, err
			}
		}
	}
	return groups, nil
}

// PauseJob 暂停作业的全部触发器。
func (s *Store) PauseJob(ctx context.Context, key xjob.JobKey) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.pauseJob(ctx, key.Name)
}

func (s *Store) pauseJob(ctx context.Context, name string) error {
	names, err := s.jobTriggers.Get(ctx, name)
	if err != nil {
		return err
	}
	for _, n := range names {
		if err := s.pauseTrigger(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// PauseJobs 暂停匹配的作业分组，返回分组名（升序）。
func (s *Store) PauseJobs(ctx context.Context, matcher xjob.GroupMatcher) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	groups, err := matchGroups(ctx, matcher, s.jobGroups)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if err := s.pausedJobGroups.Set(ctx, g, pausedMarker); err != nil {
			return nil, err
		}
		jobs, err := s.jobGroups.Get(ctx, g)
		if err != nil {
			return nil, err
		}
		for _, job := range jobs {
			if err := s.pauseJob(ctx, job); err != nil {
				return nil, err
			}
		}
	}
	return groups, nil
}

// PauseAll 暂停全部触发器分组。
func (s *Store) PauseAll(ctx context.Context) error {
	_, err := s.PauseTriggers(ctx, xjob.AnyGroup())
	return err
}

// =============================================================================
// 恢复
// =============================================================================

// ResumeTrigger 恢复触发器：PAUSED 变为 NORMAL，PAUSED_BLOCKED 变为 BLOCKED。
// 所在触发器分组或作业分组仍暂停时不做修改。恢复后应用 misfire 策略。
func (s *Store) ResumeTrigger(ctx context.Context, key xjob.TriggerKey) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.resumeTrigger(ctx, key.Name)
}

func (s *Store) resumeTrigger(ctx context.Context, name string) error {
	return s.withLock(ctx, s.triggers.m, name, s.opts.lockLease, func(ctx context.Context) error {
		w, ok, err := s.triggers.get(ctx, name)
		if err != nil || !ok || !w.State.IsPaused() {
			return err
		}
		paused, err := s.pausedByGroup(ctx, w.Key, w.JobKey)
		if err != nil || paused {
			return err
		}
		w = w.withState(w.State.Resumed())
		if err := s.triggers.set(ctx, name, w); err != nil {
			return err
		}
		_, _, err = s.applyMisfire(ctx, w)
		return err
	})
}

// ResumeTriggers 将匹配的分组移出暂停集合并恢复其中的触发器，返回分组名（升序）。
func (s *Store) ResumeTriggers(ctx context.Context, matcher xjob.GroupMatcher) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	groups, err := matchGroups(ctx, matcher, s.triggerGroups, mapKeys{s.pausedTriggerGroups})
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if _, err := s.pausedTriggerGroups.Remove(ctx, g); err != nil {
			return nil, err
		}
		names, err := s.triggerGroups.Get(ctx, g)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if err := s.resumeTrigger(ctx, name); err != nil {
				return nil, err
			}
		}
	}
	return groups, nil
}

// ResumeJob 恢复作业的全部触发器。
func (s *Store) ResumeJob(ctx context.Context, key xjob.JobKey) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.resumeJob(ctx, key.Name)
}

func (s *Store) resumeJob(ctx context.Context, name string) error {
	names, err := s.jobTriggers.Get(ctx, name)
	if err != nil {
		return err
	}
	for _, n := range names {
		if err := s.resumeTrigger(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// ResumeJobs 将匹配的作业分组移出暂停集合并恢复其作业，返回分组名（升序）。
func (s *Store) ResumeJobs(ctx context.Context, matcher xjob.GroupMatcher) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	groups, err := matchGroups(ctx, matcher, s.jobGroups, mapKeys{s.pausedJobGroups})
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if _, err := s.pausedJobGroups.Remove(ctx, g); err != nil {
			return nil, err
		}
		jobs, err := s.jobGroups.Get(ctx, g)
		if err != nil {
			return nil, err
		}
		for _, job := range jobs {
			if err := s.resumeJob(ctx, job); err != nil {
				return nil, err
			}
		}
	}
	return groups, nil
}

// ResumeAll 清空暂停的作业分组并恢复全部触发器分组。
func (s *Store) ResumeAll(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.pausedJobGroups.Clear(ctx); err != nil {
		return err
	}
	_, err := s.ResumeTriggers(ctx, xjob.AnyGroup())
	return err
}

// =============================================================================
// 查询
// =============================================================================

// PausedTriggerGroups 返回已暂停的触发器分组（升序）。
func (s *Store) PausedTriggerGroups(ctx context.Context) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	groups, err := s.pausedTriggerGroups.Keys(ctx)
	if err != nil {
		return nil, err
	}
	slices.Sort(groups)
	return groups, nil
}

// IsTriggerGroupPaused 报告触发器分组是否已暂停。
func (s *Store) IsTriggerGroupPaused(ctx context.Context, group string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	return isGroupPaused(ctx, s.pausedTriggerGroups, group)
}

// IsJobGroupPaused 报告作业分组是否已暂停。
func (s *Store) IsJobGroupPaused(ctx context.Context, group string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	return isGroupPaused(ctx, s.pausedJobGroups, group)
}

// groupSource 提供候选分组名。
type groupSource interface {
	KeySet(ctx context.Context) ([]string, error)
}

// mapKeys 将 Map 的 key 作为分组来源。
type mapKeys struct{ m xdmap.Map }

func (k mapKeys) KeySet(ctx context.Context) ([]string, error) {
	return k.m.Keys(ctx)
}

// matchGroups 返回各来源中匹配的分组（去重、升序）。等值匹配总是包含其值。
func matchGroups(ctx context.Context, matcher xjob.GroupMatcher, sources ...groupSource) ([]string, error) {
	var out []string
	if matcher.IsEquals() {
		out = append(out, matcher.Value)
	}
	for _, src := range sources {
		groups, err := src.KeySet(ctx)
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			if matcher.IsMatch(g) {
				out = append(out, g)
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
