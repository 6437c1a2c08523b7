package xjobstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xsched/pkg/distributed/xjob"
)

func TestTriggerWrapperCodec(t *testing.T) {
	trig := everyMinute(triggerKey("t1"), jobKey("j1"), t0, xjob.WithCalendar("hol"))
	trig.SetNextFireTime(t0.Add(time.Minute))
	trig.SetFireInstanceID("node-1-7")

	w := newTriggerWrapper(trig, StateNormal).acquired(t0.Add(time.Second))
	data, err := encodeWrapper(w)
	require.NoError(t, err)

	got, err := decodeWrapper(data)
	require.NoError(t, err)
	assert.Equal(t, w.Key, got.Key)
	assert.Equal(t, w.JobKey, got.JobKey)
	assert.Equal(t, StateAcquired, got.State)
	assert.True(t, got.AcquiredAt.Equal(t0.Add(time.Second)))
	assert.Equal(t, "hol", got.Trigger.CalendarName())
	assert.True(t, got.Trigger.NextFireTime().Equal(t0.Add(time.Minute)))
	assert.Equal(t, "node-1-7", got.Trigger.FireInstanceID())

	_, err = decodeWrapper([]byte(`{"state":"BOGUS"}`))
	assert.Error(t, err)
}

func TestTriggerWrapperWithState(t *testing.T) {
	w := newTriggerWrapper(everyMinute(triggerKey("t1"), jobKey("j1"), t0), StateWaiting)

	acquired := w.acquired(t0)
	assert.Equal(t, StateAcquired, acquired.State)
	assert.False(t, acquired.AcquiredAt.IsZero())

	// 状态转换返回新值，原值不变
	waiting := acquired.withState(StateWaiting)
	assert.True(t, waiting.AcquiredAt.IsZero())
	assert.Equal(t, StateAcquired, acquired.State)
	assert.Equal(t, StateWaiting, w.State)

	kept := acquired.withState(StateAcquired)
	assert.Equal(t, acquired.AcquiredAt, kept.AcquiredAt)
}

func TestTriggerWrapperExecuting(t *testing.T) {
	w := newTriggerWrapper(everyMinute(triggerKey("t1"), jobKey("j1"), t0), StateWaiting).acquired(t0)

	running := w.executing(t0.Add(time.Second))
	assert.Equal(t, StateAcquired, running.State)
	assert.True(t, running.AcquiredAt.IsZero())
	assert.True(t, running.FiredAt.Equal(t0.Add(time.Second)))

	data, err := encodeWrapper(running)
	require.NoError(t, err)
	got, err := decodeWrapper(data)
	require.NoError(t, err)
	assert.True(t, got.FiredAt.Equal(running.FiredAt))
	assert.True(t, got.AcquiredAt.IsZero())

	assert.True(t, running.withState(StateWaiting).FiredAt.IsZero())
	assert.True(t, running.acquired(t0).FiredAt.IsZero())
}
