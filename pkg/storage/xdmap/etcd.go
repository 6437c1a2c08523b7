package xdmap

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const (
	defaultEtcdPrefix     = "/xsched"
	defaultEtcdSessionTTL = 30 * time.Second
)

// etcdKV etcd KV 操作接口，*clientv3.Client 实现了此接口。
type etcdKV interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
}

var _ etcdKV = (*clientv3.Client)(nil)

// etcdMutex 与 *concurrency.Mutex 的 Lock/Unlock 一致。
type etcdMutex interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// etcdLocking 锁的创建与会话状态，测试时可替换。
type etcdLocking interface {
	NewMutex(pfx string) etcdMutex
	Done() <-chan struct{}
	Close() error
}

type sessionLocking struct {
	session *concurrency.Session
}

func (s sessionLocking) NewMutex(pfx string) etcdMutex {
	return concurrency.NewMutex(s.session, pfx)
}

func (s sessionLocking) Done() <-chan struct{} { return s.session.Done() }
func (s sessionLocking) Close() error          { return s.session.Close() }

// EtcdOption etcd 后端选项。
type EtcdOption func(*etcdOptions)

type etcdOptions struct {
	prefix     string
	sessionTTL time.Duration
	ownsClient bool
}

// WithEtcdPrefix 设置 key 前缀，默认 "/xsched"。
func WithEtcdPrefix(prefix string) EtcdOption {
	return func(o *etcdOptions) {
		o.prefix = strings.TrimSuffix(prefix, "/")
	}
}

// WithSessionTTL 设置锁会话 TTL，默认 30s，即持锁进程崩溃后锁的最长残留时间。
func WithSessionTTL(ttl time.Duration) EtcdOption {
	return func(o *etcdOptions) {
		if ttl >= time.Second {
			o.sessionTTL = ttl
		}
	}
}

func withOwnedEtcdClient() EtcdOption {
	return func(o *etcdOptions) {
		o.ownsClient = true
	}
}

// etcdBackend 基于 etcd 的后端。
//
// 键布局（name 与 key 经 url.PathEscape 转义）：
//
//	<prefix>/<name>/m/<key>             Map 数据
//	<prefix>/<name>/lock/<key>/         concurrency.Mutex 前缀
//	<prefix>/<name>/mm/<key>/<value>    MultiMap 成员（值为空）
type etcdBackend struct {
	kv     etcdKV
	prefix string
	closer func() error
	closed atomic.Bool

	mu      sync.Mutex
	locking etcdLocking
	// renew 会话过期后创建新会话，为 nil 时过期即不可再加锁
	renew func() (etcdLocking, error)
}

// NewEtcd 基于已有客户端创建 etcd 后端，并创建一个用于加锁的会话。
// 客户端的生命周期由调用方管理。
func NewEtcd(client *clientv3.Client, opts ...EtcdOption) (Backend, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o := &etcdOptions{prefix: defaultEtcdPrefix, sessionTTL: defaultEtcdSessionTTL}
	for _, opt := range opts {
		opt(o)
	}
	newSession := func() (etcdLocking, error) {
		session, err := concurrency.NewSession(client, concurrency.WithTTL(int(o.sessionTTL/time.Second)))
		if err != nil {
			return nil, fmt.Errorf("xdmap: create etcd session: %w", err)
		}
		return sessionLocking{session: session}, nil
	}
	locking, err := newSession()
	if err != nil {
		return nil, err
	}
	b := newEtcdBackend(client, locking, o.prefix)
	b.renew = newSession
	if o.ownsClient {
		b.closer = client.Close
	}
	return b, nil
}

func newEtcdBackend(kv etcdKV, locking etcdLocking, prefix string) *etcdBackend {
	return &etcdBackend{kv: kv, locking: locking, prefix: prefix}
}

func (b *etcdBackend) base(name string) string {
	return b.prefix + "/" + url.PathEscape(name) + "/"
}

func (b *etcdBackend) Map(name string) Map {
	base := b.base(name)
	return &etcdMap{b: b, name: name, data: base + "m/", locks: base + "lock/"}
}

func (b *etcdBackend) MultiMap(name string) MultiMap {
	return &etcdMultiMap{b: b, name: name, root: b.base(name) + "mm/"}
}

// Health 检查会话可用（过期时尝试重建）并执行一次读请求。
func (b *etcdBackend) Health(ctx context.Context) error {
	if _, err := b.session(); err != nil {
		return err
	}
	if _, err := b.kv.Get(ctx, b.prefix+"/health", clientv3.WithCountOnly()); err != nil {
		return fmt.Errorf("xdmap: etcd health: %w", err)
	}
	return nil
}

func (b *etcdBackend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	err := b.locking.Close()
	b.mu.Unlock()
	if b.closer != nil {
		err = errors.Join(err, b.closer())
	}
	return err
}

// errSessionExpired 会话失效且无法重建时锁不可用。
var errSessionExpired = errors.New("xdmap: etcd session expired")

// session 返回当前有效的锁会话，过期时重建。
// 旧会话上的锁随其租约一起失效，对应的 LockHandle.Unlock 返回 ErrLockNotHeld。
func (b *etcdBackend) session() (etcdLocking, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.locking.Done():
	default:
		return b.locking, nil
	}
	if b.renew == nil {
		return nil, errSessionExpired
	}
	next, err := b.renew()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errSessionExpired, err)
	}
	_ = b.locking.Close()
	b.locking = next
	return next, nil
}

// =============================================================================
// Map
// =============================================================================

type etcdMap struct {
	b     *etcdBackend
	name  string
	data  string
	locks string
}

func (m *etcdMap) Name() string { return m.name }

func (m *etcdMap) Get(ctx context.Context, key string) ([]byte, error) {
	if m.b.closed.Load() {
		return nil, ErrClosed
	}
	resp, err := m.b.kv.Get(ctx, m.data+url.PathEscape(key))
	if err != nil {
		return nil, fmt.Errorf("xdmap: etcd get %s: %w", m.name, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

func (m *etcdMap) Set(ctx context.Context, key string, value []byte) error {
	if m.b.closed.Load() {
		return ErrClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if _, err := m.b.kv.Put(ctx, m.data+url.PathEscape(key), string(value)); err != nil {
		return fmt.Errorf("xdmap: etcd put %s: %w", m.name, err)
	}
	return nil
}

func (m *etcdMap) Remove(ctx context.Context, key string) (bool, error) {
	if m.b.closed.Load() {
		return false, ErrClosed
	}
	resp, err := m.b.kv.Delete(ctx, m.data+url.PathEscape(key))
	if err != nil {
		return false, fmt.Errorf("xdmap: etcd delete %s: %w", m.name, err)
	}
	return resp.Deleted > 0, nil
}

func (m *etcdMap) ContainsKey(ctx context.Context, key string) (bool, error) {
	if m.b.closed.Load() {
		return false, ErrClosed
	}
	resp, err := m.b.kv.Get(ctx, m.data+url.PathEscape(key), clientv3.WithCountOnly())
	if err != nil {
		return false, fmt.Errorf("xdmap: etcd get %s: %w", m.name, err)
	}
	return resp.Count > 0, nil
}

func (m *etcdMap) Size(ctx context.Context) (int, error) {
	if m.b.closed.Load() {
		return 0, ErrClosed
	}
	resp, err := m.b.kv.Get(ctx, m.data, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, fmt.Errorf("xdmap: etcd count %s: %w", m.name, err)
	}
	return int(resp.Count), nil
}

func (m *etcdMap) Keys(ctx context.Context) ([]string, error) {
	if m.b.closed.Load() {
		return nil, ErrClosed
	}
	resp, err := m.b.kv.Get(ctx, m.data, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("xdmap: etcd list %s: %w", m.name, err)
	}
	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		k, err := url.PathUnescape(strings.TrimPrefix(string(kv.Key), m.data))
		if err != nil {
			return nil, fmt.Errorf("xdmap: etcd decode key %q: %w", kv.Key, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *etcdMap) Entries(ctx context.Context) (map[string][]byte, error) {
	if m.b.closed.Load() {
		return nil, ErrClosed
	}
	resp, err := m.b.kv.Get(ctx, m.data, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("xdmap: etcd list %s: %w", m.name, err)
	}
	out := make(map[string][]byte, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		k, err := url.PathUnescape(strings.TrimPrefix(string(kv.Key), m.data))
		if err != nil {
			return nil, fmt.Errorf("xdmap: etcd decode key %q: %w", kv.Key, err)
		}
		out[k] = kv.Value
	}
	return out, nil
}

func (m *etcdMap) Clear(ctx context.Context) error {
	if m.b.closed.Load() {
		return ErrClosed
	}
	if _, err := m.b.kv.Delete(ctx, m.data, clientv3.WithPrefix()); err != nil {
		return fmt.Errorf("xdmap: etcd clear %s: %w", m.name, err)
	}
	return nil
}

// Lock 使用会话上的 concurrency.Mutex，lease 由会话 TTL 决定。
func (m *etcdMap) Lock(ctx context.Context, key string, lease time.Duration) (LockHandle, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := validateLease(lease); err != nil {
		return nil, err
	}
	locking, err := m.b.session()
	if err != nil {
		return nil, err
	}
	mutex := locking.NewMutex(m.locks + url.PathEscape(key))
	if err := mutex.Lock(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("xdmap: etcd lock %s/%s: %w", m.name, key, err)
	}
	return &etcdLockHandle{locking: locking, key: key, mutex: mutex}, nil
}

type etcdLockHandle struct {
	locking  etcdLocking
	key      string
	mutex    etcdMutex
	released atomic.Bool
}

func (h *etcdLockHandle) Key() string { return h.key }

// Unlock 会话已失效时锁随租约释放，返回 ErrLockNotHeld。
func (h *etcdLockHandle) Unlock(ctx context.Context) error {
	if h.released.Swap(true) {
		return ErrLockNotHeld
	}
	select {
	case <-h.locking.Done():
		return fmt.Errorf("%w: %w", ErrLockNotHeld, errSessionExpired)
	default:
	}
	if err := h.mutex.Unlock(ctx); err != nil {
		return fmt.Errorf("xdmap: etcd unlock: %w", err)
	}
	return nil
}

// =============================================================================
// MultiMap
// =============================================================================

type etcdMultiMap struct {
	b    *etcdBackend
	name string
	root string
}

func (m *etcdMultiMap) Name() string { return m.name }

func (m *etcdMultiMap) keyPrefix(key string) string {
	return m.root + url.PathEscape(key) + "/"
}

func (m *etcdMultiMap) Put(ctx context.Context, key, value string) error {
	if m.b.closed.Load() {
		return ErrClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if _, err := m.b.kv.Put(ctx, m.keyPrefix(key)+url.PathEscape(value), ""); err != nil {
		return fmt.Errorf("xdmap: etcd put %s: %w", m.name, err)
	}
	return nil
}

func (m *etcdMultiMap) Remove(ctx context.Context, key, value string) error {
	if m.b.closed.Load() {
		return ErrClosed
	}
	if _, err := m.b.kv.Delete(ctx, m.keyPrefix(key)+url.PathEscape(value)); err != nil {
		return fmt.Errorf("xdmap: etcd delete %s: %w", m.name, err)
	}
	return nil
}

func (m *etcdMultiMap) RemoveAll(ctx context.Context, key string) error {
	if m.b.closed.Load() {
		return ErrClosed
	}
	if _, err := m.b.kv.Delete(ctx, m.keyPrefix(key), clientv3.WithPrefix()); err != nil {
		return fmt.Errorf("xdmap: etcd delete %s: %w", m.name, err)
	}
	return nil
}

func (m *etcdMultiMap) Get(ctx context.Context, key string) ([]string, error) {
	if m.b.closed.Load() {
		return nil, ErrClosed
	}
	pfx := m.keyPrefix(key)
	resp, err := m.b.kv.Get(ctx, pfx, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("xdmap: etcd list %s: %w", m.name, err)
	}
	vals := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		v, err := url.PathUnescape(strings.TrimPrefix(string(kv.Key), pfx))
		if err != nil {
			return nil, fmt.Errorf("xdmap: etcd decode value %q: %w", kv.Key, err)
		}
		vals = append(vals, v)
	}
	slices.Sort(vals)
	return vals, nil
}

func (m *etcdMultiMap) KeySet(ctx context.Context) ([]string, error) {
	if m.b.closed.Load() {
		return nil, ErrClosed
	}
	resp, err := m.b.kv.Get(ctx, m.root, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("xdmap: etcd list %s: %w", m.name, err)
	}
	var keys []string
	for _, kv := range resp.Kvs {
		rest := strings.TrimPrefix(string(kv.Key), m.root)
		escaped, _, _ := strings.Cut(rest, "/")
		k, err := url.PathUnescape(escaped)
		if err != nil {
			return nil, fmt.Errorf("xdmap: etcd decode key %q: %w", kv.Key, err)
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return slices.Compact(keys), nil
}

func (m *etcdMultiMap) Clear(ctx context.Context) error {
	if m.b.closed.Load() {
		return ErrClosed
	}
	if _, err := m.b.kv.Delete(ctx, m.root, clientv3.WithPrefix()); err != nil {
		return fmt.Errorf("xdmap: etcd clear %s: %w", m.name, err)
	}
	return nil
}
