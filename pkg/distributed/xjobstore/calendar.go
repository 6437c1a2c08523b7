package xjobstore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/omeyang/xsched/pkg/distributed/xjob"
	"github.com/omeyang/xsched/pkg/observability/xlog"
)

// StoreCalendar 写入日历副本。updateTriggers 为 true 时，
// 逐个加锁按新日历重新计算引用它的触发器的下一次触发时间。
func (s *Store) StoreCalendar(ctx context.Context, name string, cal xjob.Calendar,
	replaceExisting, updateTriggers bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	if cal == nil {
		return ErrNilCalendar
	}
	if name == "" {
		return fmt.Errorf("%w: empty calendar name", ErrJobPersistence)
	}
	c := cal.Clone()

	err := s.withLock(ctx, s.calendars.m, name, s.opts.lockLease, func(ctx context.Context) error {
		exists, err := s.calendars.m.ContainsKey(ctx, name)
		if err != nil {
			return err
		}
		if exists && !replaceExisting {
			return fmt.Errorf("%w: calendar %q", ErrObjectAlreadyExists, name)
		}
		return s.calendars.set(ctx, name, c)
	})
	if err != nil || !updateTriggers {
		return err
	}

	names, err := s.triggersUsingCalendar(ctx, name)
	if err != nil {
		return err
	}
	for _, tn := range names {
		err := s.updateTrigger(ctx, tn, s.opts.lockLease,
			func(_ context.Context, w TriggerWrapper) (TriggerWrapper, bool, error) {
				if w.Trigger.CalendarName() != name {
					return w, false, nil
				}
				w.Trigger.UpdateWithNewCalendar(c, s.opts.misfireThreshold, s.now())
				return w, true, nil
			})
		if err != nil {
			return err
		}
	}
	if len(names) > 0 {
		s.logger.Debug(ctx, "updated triggers for new calendar", xlog.Count(int64(len(names))))
		s.signal(ctx, time.Time{})
	}
	return nil
}

// triggersUsingCalendar 返回引用日历 name 的触发器名（升序）。
func (s *Store) triggersUsingCalendar(ctx context.Context, name string) ([]string, error) {
	all, err := s.triggers.all(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for tn, w := range all {
		if w.Trigger.CalendarName() == name {
			names = append(names, tn)
		}
	}
	slices.Sort(names)
	return names, nil
}

// RemoveCalendar 删除日历。仍被触发器引用时返回 ErrIllegalState。
func (s *Store) RemoveCalendar(ctx context.Context, name string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	// 引用检查与删除在同一把日历锁内，StoreTrigger 引用日历时同样持有该锁
	var removed bool
	err := s.withLock(ctx, s.calendars.m, name, s.opts.lockLease, func(ctx context.Context) error {
		users, err := s.triggersUsingCalendar(ctx, name)
		if err != nil {
			return err
		}
		if len(users) > 0 {
			return fmt.Errorf("%w: calendar %q is referenced by trigger %s", ErrIllegalState, name, users[0])
		}
		removed, err = s.calendars.m.Remove(ctx, name)
		return err
	})
	return removed, err
}

// RetrieveCalendar 返回日历副本，不存在时返回 ErrCalendarNotFound。
func (s *Store) RetrieveCalendar(ctx context.Context, name string) (xjob.Calendar, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	cal, ok, err := s.calendars.get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCalendarNotFound, name)
	}
	return cal, nil
}

// CheckCalendarExists 报告日历是否存在。
func (s *Store) CheckCalendarExists(ctx context.Context, name string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	return s.calendars.m.ContainsKey(ctx, name)
}

// CalendarNames 返回全部日历名（升序）。
func (s *Store) CalendarNames(ctx context.Context) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	names, err := s.calendars.m.Keys(ctx)
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

// NumberOfCalendars 返回日历数量。
func (s *Store) NumberOfCalendars(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	return s.calendars.m.Size(ctx)
}
