//go:build integration

package xdmap

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// startContainer 启动容器并返回 host:port，失败时跳过测试。
func startContainer(t *testing.T, req testcontainers.ContainerRequest) string {
	t.Helper()
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("无法启动容器 %s: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}

// setupRedisAddr 优先使用 XSCHED_REDIS_ADDR，否则启动 Redis 容器。
func setupRedisAddr(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv("XSCHED_REDIS_ADDR"); addr != "" {
		return addr
	}
	return startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	})
}

// setupEtcdEndpoint 优先使用 XSCHED_ETCD_ENDPOINTS，否则启动 etcd 容器。
func setupEtcdEndpoint(t *testing.T) string {
	t.Helper()
	if ep := os.Getenv("XSCHED_ETCD_ENDPOINTS"); ep != "" {
		return ep
	}
	return "http://" + startContainer(t, testcontainers.ContainerRequest{
		Image:        "quay.io/coreos/etcd:v3.5.17",
		ExposedPorts: []string{"2379/tcp"},
		Cmd: []string{
			"etcd",
			"--advertise-client-urls=http://0.0.0.0:2379",
			"--listen-client-urls=http://0.0.0.0:2379",
		},
		WaitingFor: wait.ForLog("ready to serve client requests"),
	})
}

func TestRedisIntegrationContract(t *testing.T) {
	addr := setupRedisAddr(t)
	runBackendContract(t, func(t *testing.T) Backend {
		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { _ = client.Close() })
		// 每个子测试使用独立前缀，避免互相干扰
		b, err := NewRedis(client,
			WithRedisPrefix("it"+time.Now().Format("150405.000000")+":"),
			WithLockRetryDelay(10*time.Millisecond))
		require.NoError(t, err)
		return b
	})
}

func TestEtcdIntegrationContract(t *testing.T) {
	endpoint := setupEtcdEndpoint(t)
	runBackendContract(t, func(t *testing.T) Backend {
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   []string{endpoint},
			DialTimeout: 5 * time.Second,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })
		b, err := NewEtcd(client, WithEtcdPrefix("/it-"+time.Now().Format("150405.000000")))
		require.NoError(t, err)
		return b
	})
}

func TestOpenIntegration(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, Config{
		Type:  TypeRedis,
		Redis: RedisConfig{Addrs: []string{setupRedisAddr(t)}},
	})
	require.NoError(t, err)
	require.NoError(t, b.Health(ctx))
	require.NoError(t, b.Close())
}
