package xdmap

import (
	"bytes"
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// memoryShardCount 内存 Map 的分片数，必须为 2 的幂。
const memoryShardCount = 32

// MemoryBackend 进程内后端。
//
// 同一实例上按名称共享数据与锁，多个存储共用一个 MemoryBackend 即可模拟集群。
type MemoryBackend struct {
	mu     sync.Mutex
	maps   map[string]*memoryMap
	multis map[string]*memoryMultiMap
	closed atomic.Bool
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemory 创建进程内后端。
func NewMemory() *MemoryBackend {
	return &MemoryBackend{
		maps:   make(map[string]*memoryMap),
		multis: make(map[string]*memoryMultiMap),
	}
}

// Map 返回命名 Map，首次访问时创建。
func (b *MemoryBackend) Map(name string) Map {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.maps[name]
	if !ok {
		m = newMemoryMap(name, &b.closed)
		b.maps[name] = m
	}
	return m
}

// MultiMap 返回命名 MultiMap，首次访问时创建。
func (b *MemoryBackend) MultiMap(name string) MultiMap {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.multis[name]
	if !ok {
		m = &memoryMultiMap{name: name, closed: &b.closed, data: make(map[string]map[string]struct{})}
		b.multis[name] = m
	}
	return m
}

// Health 关闭后返回 ErrClosed。
func (b *MemoryBackend) Health(context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close 关闭后端，之后的读写返回 ErrClosed。
func (b *MemoryBackend) Close() error {
	b.closed.Store(true)
	return nil
}

// =============================================================================
// Map
// =============================================================================

type memoryShard struct {
	mu    sync.Mutex
	data  map[string][]byte
	locks map[string]*memoryLock
}

// memoryLock 一次加锁记录。released 在记录从 locks 中移除时关闭，唤醒等待者。
type memoryLock struct {
	token    string
	expires  time.Time
	released chan struct{}
}

type memoryMap struct {
	name   string
	closed *atomic.Bool
	shards [memoryShardCount]memoryShard
}

func newMemoryMap(name string, closed *atomic.Bool) *memoryMap {
	m := &memoryMap{name: name, closed: closed}
	for i := range m.shards {
		m.shards[i].data = make(map[string][]byte)
		m.shards[i].locks = make(map[string]*memoryLock)
	}
	return m
}

func (m *memoryMap) shard(key string) *memoryShard {
	return &m.shards[xxhash.Sum64String(key)&(memoryShardCount-1)]
}

func (m *memoryMap) check(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func (m *memoryMap) Name() string { return m.name }

func (m *memoryMap) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *memoryMap) Set(ctx context.Context, key string, value []byte) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = bytes.Clone(value)
	return nil
}

func (m *memoryMap) Remove(ctx context.Context, key string) (bool, error) {
	if err := m.check(ctx); err != nil {
		return false, err
	}
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	delete(s.data, key)
	return ok, nil
}

func (m *memoryMap) ContainsKey(ctx context.Context, key string) (bool, error) {
	if err := m.check(ctx); err != nil {
		return false, err
	}
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

func (m *memoryMap) Size(ctx context.Context) (int, error) {
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.data)
		s.mu.Unlock()
	}
	return n, nil
}

func (m *memoryMap) Keys(ctx context.Context) ([]string, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	var keys []string
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		keys = slices.AppendSeq(keys, maps.Keys(s.data))
		s.mu.Unlock()
	}
	return keys, nil
}

func (m *memoryMap) Entries(ctx context.Context) (map[string][]byte, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	out := make(map[string][]byte)
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, v := range s.data {
			out[k] = bytes.Clone(v)
		}
		s.mu.Unlock()
	}
	return out, nil
}

func (m *memoryMap) Clear(ctx context.Context) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		clear(s.data)
		s.mu.Unlock()
	}
	return nil
}

func (m *memoryMap) Lock(ctx context.Context, key string, lease time.Duration) (LockHandle, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := validateLease(lease); err != nil {
		return nil, err
	}

	s := m.shard(key)
	for {
		s.mu.Lock()
		now := time.Now()
		held := s.locks[key]
		if held != nil && !now.Before(held.expires) {
			delete(s.locks, key)
			close(held.released)
			held = nil
		}
		if held == nil {
			l := &memoryLock{
				token:    uuid.NewString(),
				expires:  now.Add(lease),
				released: make(chan struct{}),
			}
			s.locks[key] = l
			s.mu.Unlock()
			return &memoryLockHandle{m: m, key: key, token: l.token}, nil
		}
		released, wait := held.released, held.expires.Sub(now)
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-released:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		timer.Stop()
	}
}

type memoryLockHandle struct {
	m     *memoryMap
	key   string
	token string
}

func (h *memoryLockHandle) Key() string { return h.key }

func (h *memoryLockHandle) Unlock(context.Context) error {
	s := h.m.shard(h.key)
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.locks[h.key]
	if !ok || held.token != h.token {
		return ErrLockNotHeld
	}
	delete(s.locks, h.key)
	close(held.released)
	if !time.Now().Before(held.expires) {
		return ErrLockNotHeld
	}
	return nil
}

// =============================================================================
// MultiMap
// =============================================================================

type memoryMultiMap struct {
	name   string
	closed *atomic.Bool
	mu     sync.RWMutex
	data   map[string]map[string]struct{}
}

func (m *memoryMultiMap) check(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func (m *memoryMultiMap) Name() string { return m.name }

func (m *memoryMultiMap) Put(ctx context.Context, key, value string) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.data[key]
	if !ok {
		set = make(map[string]struct{})
		m.data[key] = set
	}
	set[value] = struct{}{}
	return nil
}

func (m *memoryMultiMap) Remove(ctx context.Context, key, value string) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.data[key]
	if !ok {
		return nil
	}
	delete(set, value)
	if len(set) == 0 {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryMultiMap) RemoveAll(ctx context.Context, key string) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryMultiMap) Get(ctx context.Context, key string) ([]string, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.data[key])), nil
}

func (m *memoryMultiMap) KeySet(ctx context.Context) ([]string, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.data)), nil
}

func (m *memoryMultiMap) Clear(ctx context.Context) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.data)
	return nil
}
