package xdmap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix    = "xsched:"
	defaultLockRetryDelay = 50 * time.Millisecond
)

// RedisOption Redis 后端选项。
type RedisOption func(*redisBackend)

// WithRedisPrefix 设置全部 key 的前缀，默认 "xsched:"。
func WithRedisPrefix(prefix string) RedisOption {
	return func(b *redisBackend) {
		b.prefix = prefix
	}
}

// WithLockRetryDelay 设置锁被占用时的重试间隔，默认 50ms。
func WithLockRetryDelay(d time.Duration) RedisOption {
	return func(b *redisBackend) {
		if d > 0 {
			b.retryDelay = d
		}
	}
}

// withOwnedRedisClient Close 时一并关闭客户端，供 Open 使用。
func withOwnedRedisClient() RedisOption {
	return func(b *redisBackend) {
		b.ownsClient = true
	}
}

// redisBackend 基于 Redis 的后端。
//
// 键布局（{...} 为集群 hash tag，保证同一实例的多键操作落在同一 slot）：
//
//	<prefix>{map:<name>}             HASH  Map 数据
//	<prefix>lock:<name>:<key>        STRING redsync 锁
//	<prefix>{mm:<name>}:idx          SET   MultiMap 的 key 集合
//	<prefix>{mm:<name>}:k:<key>      SET   MultiMap 的 value 集合
type redisBackend struct {
	client     redis.UniversalClient
	rs         *redsync.Redsync
	prefix     string
	retryDelay time.Duration
	ownsClient bool
	closed     atomic.Bool
}

// NewRedis 基于已有客户端创建 Redis 后端。客户端的生命周期由调用方管理。
func NewRedis(client redis.UniversalClient, opts ...RedisOption) (Backend, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	b := &redisBackend{
		client:     client,
		rs:         redsync.New(goredis.NewPool(client)),
		prefix:     defaultRedisPrefix,
		retryDelay: defaultLockRetryDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *redisBackend) Map(name string) Map {
	return &redisMap{b: b, name: name, hash: b.prefix + "{map:" + name + "}"}
}

func (b *redisBackend) MultiMap(name string) MultiMap {
	base := b.prefix + "{mm:" + name + "}"
	return &redisMultiMap{b: b, name: name, index: base + ":idx", member: base + ":k:"}
}

// Health 执行 PING。
func (b *redisBackend) Health(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.client.Ping(ctx).Err()
}

func (b *redisBackend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}

func (b *redisBackend) check() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return nil
}

// =============================================================================
// Map
// =============================================================================

type redisMap struct {
	b    *redisBackend
	name string
	hash string
}

func (m *redisMap) Name() string { return m.name }

func (m *redisMap) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.b.check(); err != nil {
		return nil, err
	}
	v, err := m.b.client.HGet(ctx, m.hash, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("xdmap: redis hget %s: %w", m.name, err)
	}
	return v, nil
}

func (m *redisMap) Set(ctx context.Context, key string, value []byte) error {
	if err := m.b.check(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if err := m.b.client.HSet(ctx, m.hash, key, value).Err(); err != nil {
		return fmt.Errorf("xdmap: redis hset %s: %w", m.name, err)
	}
	return nil
}

func (m *redisMap) Remove(ctx context.Context, key string) (bool, error) {
	if err := m.b.check(); err != nil {
		return false, err
	}
	n, err := m.b.client.HDel(ctx, m.hash, key).Result()
	if err != nil {
		return false, fmt.Errorf("xdmap: redis hdel %s: %w", m.name, err)
	}
	return n > 0, nil
}

func (m *redisMap) ContainsKey(ctx context.Context, key string) (bool, error) {
	if err := m.b.check(); err != nil {
		return false, err
	}
	ok, err := m.b.client.HExists(ctx, m.hash, key).Result()
	if err != nil {
		return false, fmt.Errorf("xdmap: redis hexists %s: %w", m.name, err)
	}
	return ok, nil
}

func (m *redisMap) Size(ctx context.Context) (int, error) {
	if err := m.b.check(); err != nil {
		return 0, err
	}
	n, err := m.b.client.HLen(ctx, m.hash).Result()
	if err != nil {
		return 0, fmt.Errorf("xdmap: redis hlen %s: %w", m.name, err)
	}
	return int(n), nil
}

func (m *redisMap) Keys(ctx context.Context) ([]string, error) {
	if err := m.b.check(); err != nil {
		return nil, err
	}
	keys, err := m.b.client.HKeys(ctx, m.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("xdmap: redis hkeys %s: %w", m.name, err)
	}
	return keys, nil
}

func (m *redisMap) Entries(ctx context.Context) (map[string][]byte, error) {
	if err := m.b.check(); err != nil {
		return nil, err
	}
	all, err := m.b.client.HGetAll(ctx, m.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("xdmap: redis hgetall %s: %w", m.name, err)
	}
	out := make(map[string][]byte, len(all))
	for k, v := range all {
		out[k] = []byte(v)
	}
	return out, nil
}

func (m *redisMap) Clear(ctx context.Context) error {
	if err := m.b.check(); err != nil {
		return err
	}
	if err := m.b.client.Del(ctx, m.hash).Err(); err != nil {
		return fmt.Errorf("xdmap: redis del %s: %w", m.name, err)
	}
	return nil
}

// Lock 使用 redsync 互斥锁，重试次数不设上限，等待时长由 ctx 控制。
func (m *redisMap) Lock(ctx context.Context, key string, lease time.Duration) (LockHandle, error) {
	if err := m.b.check(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := validateLease(lease); err != nil {
		return nil, err
	}

	mutex := m.b.rs.NewMutex(m.b.prefix+"lock:"+m.name+":"+key,
		redsync.WithExpiry(lease),
		redsync.WithTries(math.MaxInt32),
		redsync.WithRetryDelay(m.b.retryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		// redsync 不会传递 context 错误，需要单独检查
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("xdmap: redis lock %s/%s: %w", m.name, key, err)
	}
	return &redisLockHandle{key: key, mutex: mutex}, nil
}

type redisLockHandle struct {
	key   string
	mutex *redsync.Mutex
}

func (h *redisLockHandle) Key() string { return h.key }

func (h *redisLockHandle) Unlock(ctx context.Context) error {
	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		return wrapRedisUnlockError(err)
	}
	if !ok {
		return ErrLockNotHeld
	}
	return nil
}

// wrapRedisUnlockError 锁已过期或被抢走归为 ErrLockNotHeld，保留原始错误链。
func wrapRedisUnlockError(err error) error {
	var taken *redsync.ErrTaken
	if errors.Is(err, redsync.ErrLockAlreadyExpired) || errors.As(err, &taken) {
		return fmt.Errorf("%w: %w", ErrLockNotHeld, err)
	}
	return fmt.Errorf("xdmap: redis unlock: %w", err)
}

// =============================================================================
// MultiMap
// =============================================================================

// removeMemberScript 删除成员，集合为空时从索引中移除 key。
var removeMemberScript = redis.NewScript(`
redis.call('SREM', KEYS[1], ARGV[1])
if redis.call('SCARD', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[2], ARGV[2])
end
return 1
`)

type redisMultiMap struct {
	b      *redisBackend
	name   string
	index  string
	member string
}

func (m *redisMultiMap) Name() string { return m.name }

func (m *redisMultiMap) Put(ctx context.Context, key, value string) error {
	if err := m.b.check(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := m.b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, m.member+key, value)
		p.SAdd(ctx, m.index, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("xdmap: redis sadd %s: %w", m.name, err)
	}
	return nil
}

func (m *redisMultiMap) Remove(ctx context.Context, key, value string) error {
	if err := m.b.check(); err != nil {
		return err
	}
	err := removeMemberScript.Run(ctx, m.b.client, []string{m.member + key, m.index}, value, key).Err()
	if err != nil {
		return fmt.Errorf("xdmap: redis srem %s: %w", m.name, err)
	}
	return nil
}

func (m *redisMultiMap) RemoveAll(ctx context.Context, key string) error {
	if err := m.b.check(); err != nil {
		return err
	}
	_, err := m.b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, m.member+key)
		p.SRem(ctx, m.index, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("xdmap: redis del %s: %w", m.name, err)
	}
	return nil
}

func (m *redisMultiMap) Get(ctx context.Context, key string) ([]string, error) {
	if err := m.b.check(); err != nil {
		return nil, err
	}
	vals, err := m.b.client.SMembers(ctx, m.member+key).Result()
	if err != nil {
		return nil, fmt.Errorf("xdmap: redis smembers %s: %w", m.name, err)
	}
	slices.Sort(vals)
	return vals, nil
}

func (m *redisMultiMap) KeySet(ctx context.Context) ([]string, error) {
	if err := m.b.check(); err != nil {
		return nil, err
	}
	keys, err := m.b.client.SMembers(ctx, m.index).Result()
	if err != nil {
		return nil, fmt.Errorf("xdmap: redis smembers %s: %w", m.name, err)
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *redisMultiMap) Clear(ctx context.Context) error {
	if err := m.b.check(); err != nil {
		return err
	}
	keys, err := m.b.client.SMembers(ctx, m.index).Result()
	if err != nil {
		return fmt.Errorf("xdmap: redis smembers %s: %w", m.name, err)
	}
	dels := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		dels = append(dels, m.member+k)
	}
	dels = append(dels, m.index)
	if err := m.b.client.Del(ctx, dels...).Err(); err != nil {
		return fmt.Errorf("xdmap: redis del %s: %w", m.name, err)
	}
	return nil
}
