package xdmap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runBackendContract 各后端共同遵守的行为。
func runBackendContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("MapCRUD", func(t *testing.T) {
		testMapCRUD(t, newBackend(t))
	})
	t.Run("MapIsolation", func(t *testing.T) {
		testMapIsolation(t, newBackend(t))
	})
	t.Run("LockExclusion", func(t *testing.T) {
		testLockExclusion(t, newBackend(t))
	})
	t.Run("LockHandoff", func(t *testing.T) {
		testLockHandoff(t, newBackend(t))
	})
	t.Run("LockValidation", func(t *testing.T) {
		testLockValidation(t, newBackend(t))
	})
	t.Run("MultiMap", func(t *testing.T) {
		testMultiMap(t, newBackend(t))
	})
	t.Run("Closed", func(t *testing.T) {
		testClosed(t, newBackend(t))
	})
}

func testMapCRUD(t *testing.T, b Backend) {
	ctx := context.Background()
	m := b.Map("jobs")
	assert.Equal(t, "jobs", m.Name())

	_, err := m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(ctx, "a", []byte("1")))
	require.NoError(t, m.Set(ctx, "b/c", []byte("2")))
	require.NoError(t, m.Set(ctx, "a", []byte("3")))

	v, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), v)

	ok, err := m.ContainsKey(ctx, "b/c")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := m.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := m.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b/c"}, keys)

	entries, err := m.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("3"), "b/c": []byte("2")}, entries)

	removed, err := m.Remove(ctx, "a")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = m.Remove(ctx, "a")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, m.Clear(ctx))
	n, err = m.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, m.Set(ctx, "", []byte("x")), ErrEmptyKey)
}

func testMapIsolation(t *testing.T, b Backend) {
	ctx := context.Background()
	require.NoError(t, b.Map("one").Set(ctx, "k", []byte("v")))

	// 同名实例共享数据
	v, err := b.Map("one").Get(ctx, "k")
	require.NoError(t, err)

	// 返回值与存储互不影响
	v[0] = 'x'
	again, err := b.Map("one").Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), again)

	_, err = b.Map("two").Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testLockExclusion(t *testing.T, b Backend) {
	ctx := context.Background()
	m := b.Map("locks")

	h, err := m.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "k", h.Key())

	waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = m.Lock(waitCtx, "k", time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// 其他 key 不受影响
	other, err := m.Lock(ctx, "other", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Unlock(ctx))

	require.NoError(t, h.Unlock(ctx))
	assert.ErrorIs(t, h.Unlock(ctx), ErrLockNotHeld)

	h2, err := m.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, h2.Unlock(ctx))
}

func testLockHandoff(t *testing.T, b Backend) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m := b.Map("locks")

	h, err := m.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		acquired = make(chan struct{})
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		h2, err := m.Lock(ctx, "k", time.Minute)
		if !assert.NoError(t, err) {
			return
		}
		close(acquired)
		assert.NoError(t, h2.Unlock(ctx))
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(100 * time.Millisecond):
	}
	require.NoError(t, h.Unlock(ctx))
	wg.Wait()
	select {
	case <-acquired:
	default:
		t.Fatal("waiter did not acquire the lock")
	}
}

func testLockValidation(t *testing.T, b Backend) {
	ctx := context.Background()
	m := b.Map("locks")

	_, err := m.Lock(ctx, "", time.Minute)
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, err = m.Lock(ctx, "k", 0)
	assert.ErrorIs(t, err, ErrInvalidLease)
}

func testMultiMap(t *testing.T, b Backend) {
	ctx := context.Background()
	mm := b.MultiMap("by-group")
	assert.Equal(t, "by-group", mm.Name())

	require.NoError(t, mm.Put(ctx, "g1", "b"))
	require.NoError(t, mm.Put(ctx, "g1", "a"))
	require.NoError(t, mm.Put(ctx, "g1", "a"))
	require.NoError(t, mm.Put(ctx, "g2", "c/d"))

	vals, err := mm.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, vals)

	keys, err := mm.KeySet(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, keys)

	require.NoError(t, mm.Remove(ctx, "g2", "c/d"))
	keys, err = mm.KeySet(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, keys)

	vals, err = mm.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, vals)

	require.NoError(t, mm.RemoveAll(ctx, "g1"))
	vals, err = mm.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, vals)

	require.NoError(t, mm.Put(ctx, "g3", "x"))
	require.NoError(t, mm.Clear(ctx))
	keys, err = mm.KeySet(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testClosed(t *testing.T, b Backend) {
	ctx := context.Background()
	require.NoError(t, b.Health(ctx))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Health(ctx), ErrClosed)
	_, err := b.Map("m").Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.MultiMap("mm").Put(ctx, "k", "v"), ErrClosed)
	_, err = b.Map("m").Lock(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}
