package xjobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xsched/pkg/distributed/xjob"
)

func TestCalendarCRUD(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemoryStore(t)

	hol := xjob.NewHolidayCalendar("holidays", time.UTC)
	hol.AddExcludedDate(t0)
	require.NoError(t, s.StoreCalendar(ctx, "hol", hol, false, false))

	// 写入的是副本
	hol.AddExcludedDate(t0.AddDate(0, 0, 1))

	got, err := s.RetrieveCalendar(ctx, "hol")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-01"}, got.(*xjob.HolidayCalendar).ExcludedDates())

	err = s.StoreCalendar(ctx, "hol", hol, false, false)
	assert.ErrorIs(t, err, ErrObjectAlreadyExists)
	require.NoError(t, s.StoreCalendar(ctx, "hol", hol, true, false))

	daily, err := xjob.NewDailyCalendar("night", 22*time.Hour, 23*time.Hour, time.UTC, false)
	require.NoError(t, err)
	require.NoError(t, s.StoreCalendar(ctx, "night", daily, false, false))

	names, err := s.CalendarNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hol", "night"}, names)
	n, err := s.NumberOfCalendars(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	removed, err := s.RemoveCalendar(ctx, "night")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveCalendar(ctx, "night")
	require.NoError(t, err)
	assert.False(t, removed)

	ok, err := s.CheckCalendarExists(ctx, "night")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.RetrieveCalendar(ctx, "night")
	assert.ErrorIs(t, err, ErrCalendarNotFound)

	assert.ErrorIs(t, s.StoreCalendar(ctx, "nil", nil, false, false), ErrNilCalendar)
	assert.ErrorIs(t, s.StoreCalendar(ctx, "", hol, false, false), ErrJobPersistence)
}

func TestRemoveReferencedCalendar(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemoryStore(t)
	require.NoError(t, s.StoreCalendar(ctx, "hol", xjob.NewHolidayCalendar("", nil), false, false))
	mustStoreJob(t, s, jobKey("j1"))
	mustStoreTrigger(t, s, everyMinute(triggerKey("t1"), jobKey("j1"), t0, xjob.WithCalendar("hol")))

	removed, err := s.RemoveCalendar(ctx, "hol")
	assert.ErrorIs(t, err, ErrIllegalState)
	assert.False(t, removed)

	_, err = s.RemoveTrigger(ctx, triggerKey("t1"))
	require.NoError(t, err)
	removed, err = s.RemoveCalendar(ctx, "hol")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestCalendarReferenceSerializedWithRemoval(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemoryStore(t, WithLockWaitTimeout(50*time.Millisecond))
	require.NoError(t, s.StoreCalendar(ctx, "hol", xjob.NewHolidayCalendar("", nil), false, false))
	mustStoreJob(t, s, jobKey("j1"))

	// RemoveCalendar 持有日历锁期间，引用该日历的触发器不能写入
	h, err := s.calendars.m.Lock(ctx, "hol", time.Minute)
	require.NoError(t, err)
	err = s.StoreTrigger(ctx, everyMinute(triggerKey("t1"), jobKey("j1"), t0, xjob.WithCalendar("hol")), false)
	assert.ErrorIs(t, err, ErrLockTimeout)
	ok, err := s.CheckTriggerExists(ctx, triggerKey("t1"))
	require.NoError(t, err)
	assert.False(t, ok)

	// 不引用日历的触发器不受影响
	mustStoreTrigger(t, s, everyMinute(triggerKey("plain"), jobKey("j1"), t0))
	require.NoError(t, h.Unlock(ctx))

	removed, err := s.RemoveCalendar(ctx, "hol")
	require.NoError(t, err)
	assert.True(t, removed)

	// 已计算下一次触发时间的触发器同样不能引用已删除的日历
	trig := everyMinute(triggerKey("t1"), jobKey("j1"), t0, xjob.WithCalendar("hol"))
	trig.SetNextFireTime(t0)
	err = s.StoreTrigger(ctx, trig, false)
	assert.ErrorIs(t, err, ErrJobPersistence)
}

func TestStoreCalendarUpdatesTriggers(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemoryStore(t)
	require.NoError(t, s.StoreCalendar(ctx, "hol", xjob.NewHolidayCalendar("", nil), false, false))
	mustStoreJob(t, s, jobKey("j1"))
	mustStoreTrigger(t, s, everyMinute(triggerKey("t1"), jobKey("j1"), t0, xjob.WithCalendar("hol")))
	mustStoreTrigger(t, s, everyMinute(triggerKey("plain"), jobKey("j1"), t0))

	hol := xjob.NewHolidayCalendar("", nil)
	hol.AddExcludedDate(t0)

	// 不更新触发器时保持原计划
	require.NoError(t, s.StoreCalendar(ctx, "hol", hol, true, false))
	got, err := s.RetrieveTrigger(ctx, triggerKey("t1"))
	require.NoError(t, err)
	assert.True(t, got.NextFireTime().Equal(t0))

	require.NoError(t, s.StoreCalendar(ctx, "hol", hol, true, true))
	got, err = s.RetrieveTrigger(ctx, triggerKey("t1"))
	require.NoError(t, err)
	assert.True(t, got.NextFireTime().Equal(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)))

	plain, err := s.RetrieveTrigger(ctx, triggerKey("plain"))
	require.NoError(t, err)
	assert.True(t, plain.NextFireTime().Equal(t0))
}
