package xjobstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omeyang/xsched/pkg/distributed/xjob"
	"github.com/omeyang/xsched/pkg/observability/xlog"
	"github.com/omeyang/xsched/pkg/storage/xdmap"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// testClock 可手动推进的时钟。
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: t0} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestStore 在 backend 上创建并初始化存储，测试结束时 Shutdown。
func newTestStore(t *testing.T, backend xdmap.Backend, signaler Signaler, opts ...Option) *Store {
	t.Helper()
	base := []Option{
		WithLogger(xlog.Nop()),
		WithNodeID("node-1"),
		WithLockWaitTimeout(time.Second),
		WithHealthCheck(1, time.Millisecond),
	}
	s, err := New(backend, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background(), signaler))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

// newMemoryStore 使用独立内存后端和测试时钟。
func newMemoryStore(t *testing.T, opts ...Option) (*Store, *testClock) {
	t.Helper()
	clock := newTestClock()
	s := newTestStore(t, xdmap.NewMemory(), nil, append([]Option{WithClock(clock.Now)}, opts...)...)
	return s, clock
}

func jobKey(name string) xjob.JobKey { return xjob.NewJobKey(name) }

func triggerKey(name string) xjob.TriggerKey { return xjob.NewTriggerKey(name) }

// mustStoreJob 写入作业，mutate 可调整标志。
func mustStoreJob(t *testing.T, s *Store, key xjob.JobKey, mutate ...func(*xjob.JobDetail)) *xjob.JobDetail {
	t.Helper()
	job := xjob.NewJobDetail(key, "test")
	for _, fn := range mutate {
		fn(job)
	}
	require.NoError(t, s.StoreJob(context.Background(), job, false))
	return job
}

func nonConcurrent(j *xjob.JobDetail) { j.ConcurrentExecutionDisallowed = true }

func durable(j *xjob.JobDetail) { j.Durable = true }

// everyMinute 从 start 起每分钟触发、不限次数的触发器。
func everyMinute(key xjob.TriggerKey, job xjob.JobKey, start time.Time, opts ...xjob.TriggerOption) *xjob.SimpleTrigger {
	return xjob.NewSimpleTrigger(key, job, time.Minute, xjob.RepeatIndefinitely,
		append([]xjob.TriggerOption{xjob.WithStartTime(start)}, opts...)...)
}

// once 在 at 触发一次的触发器。
func once(key xjob.TriggerKey, job xjob.JobKey, at time.Time, opts ...xjob.TriggerOption) *xjob.SimpleTrigger {
	return xjob.NewSimpleTrigger(key, job, 0, 0, append([]xjob.TriggerOption{xjob.WithStartTime(at)}, opts...)...)
}

func mustStoreTrigger(t *testing.T, s *Store, trigger xjob.Trigger) {
	t.Helper()
	require.NoError(t, s.StoreTrigger(context.Background(), trigger, false))
}

func requireState(t *testing.T, s *Store, key xjob.TriggerKey, want TriggerState) {
	t.Helper()
	got, err := s.TriggerState(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, want, got, "state of %s", key)
}

func triggerNames(ts []xjob.Trigger) []string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Key().Name
	}
	return names
}

// setState 直接改写存储中的触发器状态，构造难以经由公开操作到达的状态。
func setState(t *testing.T, s *Store, name string, state TriggerState) {
	t.Helper()
	ctx := context.Background()
	w, ok, err := s.triggers.get(ctx, name)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.triggers.set(ctx, name, w.withState(state)))
}
