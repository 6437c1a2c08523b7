package xjobstore

import (
	"cmp"
	"context"
	"slices"

	"github.com/omeyang/xsched/pkg/distributed/xjob"
	"github.com/omeyang/xsched/pkg/storage/xdmap"
)

// NumberOfJobs 返回作业数量。
func (s *Store) NumberOfJobs(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	return s.jobs.m.Size(ctx)
}

// NumberOfTriggers 返回触发器数量。
func (s *Store) NumberOfTriggers(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	return s.triggers.m.Size(ctx)
}

// JobKeys 返回匹配分组中的作业，按分组、名称升序。
func (s *Store) JobKeys(ctx context.Context, matcher xjob.GroupMatcher) ([]xjob.JobKey, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var keys []xjob.JobKey
	err := forEachMember(ctx, s.jobGroups, matcher, func(group, name string) {
		keys = append(keys, xjob.JobKey{Name: name, Group: group})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(keys, func(a, b xjob.JobKey) int {
		return cmp.Or(cmp.Compare(a.Group, b.Group), cmp.Compare(a.Name, b.Name))
	})
	return keys, nil
}

// TriggerKeys 返回匹配分组中的触发器，按分组、名称升序。
func (s *Store) TriggerKeys(ctx context.Context, matcher xjob.GroupMatcher) ([]xjob.TriggerKey, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var keys []xjob.TriggerKey
	err := forEachMember(ctx, s.triggerGroups, matcher, func(group, name string) {
		keys = append(keys, xjob.TriggerKey{Name: name, Group: group})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(keys, func(a, b xjob.TriggerKey) int {
		return cmp.Or(cmp.Compare(a.Group, b.Group), cmp.Compare(a.Name, b.Name))
	})
	return keys, nil
}

// forEachMember 遍历 mm 中匹配分组的成员。
func forEachMember(ctx context.Context, mm xdmap.MultiMap, matcher xjob.GroupMatcher,
	fn func(group, name string)) error {
	groups, err := mm.KeySet(ctx)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if !matcher.IsMatch(g) {
			continue
		}
		names, err := mm.Get(ctx, g)
		if err != nil {
			return err
		}
		for _, n := range names {
			fn(g, n)
		}
	}
	return nil
}

// JobGroupNames 返回作业分组名（升序）。
func (s *Store) JobGroupNames(ctx context.Context) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.jobGroups.KeySet(ctx)
}

// TriggerGroupNames 返回触发器分组名（升序）。
func (s *Store) TriggerGroupNames(ctx context.Context) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.triggerGroups.KeySet(ctx)
}

// TriggersForJob 返回作业的全部触发器副本，按名称升序。
func (s *Store) TriggersForJob(ctx context.Context, key xjob.JobKey) ([]xjob.Trigger, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	names, err := s.jobTriggers.Get(ctx, key.Name)
	if err != nil {
		return nil, err
	}
	out := make([]xjob.Trigger, 0, len(names))
	for _, name := range names {
		w, ok, err := s.triggers.get(ctx, name)
		if err != nil {
			return nil, err
		}
		// 索引先于主表更新时可能短暂指向已删除的触发器
		if ok {
			out = append(out, w.Trigger)
		}
	}
	return out, nil
}
