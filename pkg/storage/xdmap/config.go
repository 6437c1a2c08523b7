package xdmap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// 后端类型。
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
	TypeEtcd   = "etcd"
)

// Config 后端配置，支持 koanf/JSON/YAML 反序列化。
type Config struct {
	// Type 后端类型：memory、redis、etcd，默认 memory。
	Type string `koanf:"type" json:"type" yaml:"type"`

	Redis RedisConfig `koanf:"redis" json:"redis" yaml:"redis"`
	Etcd  EtcdConfig  `koanf:"etcd" json:"etcd" yaml:"etcd"`

	// HealthAttempts 打开后健康检查的最大尝试次数，默认 3。
	HealthAttempts uint `koanf:"healthAttempts" json:"healthAttempts" yaml:"healthAttempts"`

	// HealthRetryDelay 健康检查重试的初始间隔（指数退避），默认 200ms。
	HealthRetryDelay time.Duration `koanf:"healthRetryDelay" json:"healthRetryDelay" yaml:"healthRetryDelay"`
}

// RedisConfig Redis 后端配置。
type RedisConfig struct {
	// Addrs 地址列表。单个地址为单机，多个地址为集群。
	Addrs    []string `koanf:"addrs" json:"addrs" yaml:"addrs"`
	Username string   `koanf:"username" json:"username" yaml:"username"`
	Password string   `koanf:"password" json:"password" yaml:"password"`
	DB       int      `koanf:"db" json:"db" yaml:"db"`

	// Prefix key 前缀，默认 "xsched:"。
	Prefix string `koanf:"prefix" json:"prefix" yaml:"prefix"`

	// LockRetryDelay 锁被占用时的重试间隔，默认 50ms。
	LockRetryDelay time.Duration `koanf:"lockRetryDelay" json:"lockRetryDelay" yaml:"lockRetryDelay"`
}

// EtcdConfig etcd 后端配置。
type EtcdConfig struct {
	Endpoints   []string      `koanf:"endpoints" json:"endpoints" yaml:"endpoints"`
	Username    string        `koanf:"username" json:"username" yaml:"username"`
	Password    string        `koanf:"password" json:"password" yaml:"password"`
	DialTimeout time.Duration `koanf:"dialTimeout" json:"dialTimeout" yaml:"dialTimeout"`

	// DialKeepAliveTime gRPC keepalive 探测间隔，默认 10s。
	DialKeepAliveTime time.Duration `koanf:"dialKeepAliveTime" json:"dialKeepAliveTime" yaml:"dialKeepAliveTime"`

	// DialKeepAliveTimeout gRPC keepalive 超时，默认 3s。
	DialKeepAliveTimeout time.Duration `koanf:"dialKeepAliveTimeout" json:"dialKeepAliveTimeout" yaml:"dialKeepAliveTimeout"`

	// Prefix key 前缀，默认 "/xsched"。
	Prefix string `koanf:"prefix" json:"prefix" yaml:"prefix"`

	// SessionTTL 锁会话 TTL，默认 30s。
	SessionTTL time.Duration `koanf:"sessionTTL" json:"sessionTTL" yaml:"sessionTTL"`
}

// 默认配置值。
const (
	defaultHealthAttempts       = 3
	defaultHealthRetryDelay     = 200 * time.Millisecond
	defaultDialTimeout          = 5 * time.Second
	defaultDialKeepAliveTime    = 10 * time.Second
	defaultDialKeepAliveTimeout = 3 * time.Second
)

// Validate 校验配置。
func (c *Config) Validate() error {
	switch c.Type {
	case "", TypeMemory:
		return nil
	case TypeRedis:
		if len(c.Redis.Addrs) == 0 {
			return fmt.Errorf("%w: redis.addrs", ErrNoEndpoints)
		}
		return nil
	case TypeEtcd:
		if len(c.Etcd.Endpoints) == 0 {
			return fmt.Errorf("%w: etcd.endpoints", ErrNoEndpoints)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Type)
	}
}

// applyDefaults 返回补全默认值的副本。
func (c *Config) applyDefaults() Config {
	cfg := *c
	if cfg.HealthAttempts == 0 {
		cfg.HealthAttempts = defaultHealthAttempts
	}
	if cfg.HealthRetryDelay <= 0 {
		cfg.HealthRetryDelay = defaultHealthRetryDelay
	}
	if cfg.Etcd.DialTimeout <= 0 {
		cfg.Etcd.DialTimeout = defaultDialTimeout
	}
	if cfg.Etcd.DialKeepAliveTime <= 0 {
		cfg.Etcd.DialKeepAliveTime = defaultDialKeepAliveTime
	}
	if cfg.Etcd.DialKeepAliveTimeout <= 0 {
		cfg.Etcd.DialKeepAliveTimeout = defaultDialKeepAliveTimeout
	}
	return cfg
}

// Open 按配置创建后端，并在返回前执行带重试的健康检查。
//
// Open 创建的客户端由后端持有，Close 时一并关闭。
// memory 类型每次调用返回一个新的独立后端。
func Open(ctx context.Context, cfg Config) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.applyDefaults()

	var (
		b   Backend
		err error
	)
	switch cfg.Type {
	case TypeRedis:
		b, err = openRedis(cfg.Redis)
	case TypeEtcd:
		b, err = openEtcd(cfg.Etcd)
	default:
		b = NewMemory()
	}
	if err != nil {
		return nil, err
	}

	if err := CheckHealth(ctx, b, cfg.HealthAttempts, cfg.HealthRetryDelay); err != nil {
		return nil, errors.Join(err, b.Close())
	}
	return b, nil
}

// CheckHealth 以指数退避重试 Health，直到成功、次数耗尽或 ctx 结束。
func CheckHealth(ctx context.Context, b Backend, attempts uint, delay time.Duration) error {
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, ErrClosed) }),
	).Do(func() error {
		return b.Health(ctx)
	})
	if err != nil {
		return fmt.Errorf("xdmap: health check: %w", err)
	}
	return nil
}

func openRedis(cfg RedisConfig) (Backend, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	opts := []RedisOption{withOwnedRedisClient(), WithLockRetryDelay(cfg.LockRetryDelay)}
	if cfg.Prefix != "" {
		opts = append(opts, WithRedisPrefix(cfg.Prefix))
	}
	return NewRedis(client, opts...)
}

func openEtcd(cfg EtcdConfig) (Backend, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialOptions: []grpc.DialOption{
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                cfg.DialKeepAliveTime,
				Timeout:             cfg.DialKeepAliveTimeout,
				PermitWithoutStream: true,
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("xdmap: create etcd client: %w", err)
	}
	opts := []EtcdOption{withOwnedEtcdClient(), WithSessionTTL(cfg.SessionTTL)}
	if cfg.Prefix != "" {
		opts = append(opts, WithEtcdPrefix(cfg.Prefix))
	}
	b, err := NewEtcd(client, opts...)
	if err != nil {
		return nil, errors.Join(err, client.Close())
	}
	return b, nil
}
