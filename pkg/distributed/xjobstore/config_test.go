package xjobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xsched/pkg/observability/xlog"
	"github.com/omeyang/xsched/pkg/storage/xdmap"
)

const yamlConfig = `
instanceName: billing
nodeID: node-a
misfireThreshold: 30s
lockWaitTimeout: 2s
acquireLockLease: 10s
acquiredTriggerTimeout: -1s
executionTimeout: 2h
acquireRetryDelay: 50ms
maxAcquireRetryDelay: 400ms
backend:
  type: memory
  healthAttempts: 2
  healthRetryDelay: 5ms
log:
  level: debug
  format: json
`

func TestLoadConfigBytesYAML(t *testing.T) {
	cfg, err := LoadConfigBytes([]byte(yamlConfig), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "billing", cfg.InstanceName)
	assert.Equal(t, "node-a", cfg.NodeID)
	assert.Equal(t, 30*time.Second, cfg.MisfireThreshold)
	assert.Equal(t, 2*time.Second, cfg.LockWaitTimeout)
	assert.Equal(t, -time.Second, cfg.AcquiredTriggerTimeout)
	assert.Equal(t, 2*time.Hour, cfg.ExecutionTimeout)
	assert.Equal(t, xdmap.TypeMemory, cfg.Backend.Type)
	assert.EqualValues(t, 2, cfg.Backend.HealthAttempts)
	assert.Equal(t, "debug", cfg.Log.Level)

	o := defaultOptions()
	for _, opt := range cfg.Options() {
		opt(&o)
	}
	assert.Equal(t, "billing", o.instanceName)
	assert.Equal(t, 30*time.Second, o.misfireThreshold)
	assert.Equal(t, 10*time.Second, o.acquireLockLease)
	assert.Equal(t, DefaultLockLease, o.lockLease)
	assert.Equal(t, -time.Second, o.acquiredTriggerTimeout)
	assert.Equal(t, 2*time.Hour, o.executionTimeout)
	assert.Equal(t, 50*time.Millisecond, o.acquireRetryDelay)
	assert.Equal(t, 400*time.Millisecond, o.maxAcquireRetryDelay)
	assert.EqualValues(t, 2, o.healthAttempts)
}

func TestLoadConfigBytesJSON(t *testing.T) {
	cfg, err := LoadConfigBytes([]byte(`{"instanceName":"jobs","backend":{"type":"redis","redis":{"addrs":["127.0.0.1:6379"]}}}`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "jobs", cfg.InstanceName)
	assert.Equal(t, []string{"127.0.0.1:6379"}, cfg.Backend.Redis.Addrs)

	cfg, err = LoadConfigBytes(nil, FormatJSON)
	require.NoError(t, err)
	assert.Empty(t, cfg.InstanceName)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format string
	}{
		{"UnknownFormat", `{}`, "toml"},
		{"Malformed", `{`, FormatJSON},
		{"NegativeDuration", `misfireThreshold: -1s`, FormatYAML},
		{"WaitExceedsLease", "lockWaitTimeout: 1m\nacquireLockLease: 10s", FormatYAML},
		{"UnknownBackend", "backend:\n  type: zookeeper", FormatYAML},
		{"RedisWithoutAddrs", "backend:\n  type: redis", FormatYAML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigBytes([]byte(tt.data), tt.format)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "billing", cfg.InstanceName)

	_, err = LoadConfig(filepath.Join(dir, "store.ini"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = LoadConfig(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenOwnsBackend(t *testing.T) {
	ctx := context.Background()
	cfg, err := LoadConfigBytes([]byte(yamlConfig), FormatYAML)
	require.NoError(t, err)

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, "node-a", s.NodeID())

	_, err = s.NumberOfJobs(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)
	require.NoError(t, s.Initialize(ctx, nil))

	require.NoError(t, s.Shutdown(ctx))
	assert.ErrorIs(t, s.backend.Health(ctx), xdmap.ErrClosed)

	_, err = Open(ctx, Config{Backend: xdmap.Config{Type: "zookeeper"}})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLogConfigBuild(t *testing.T) {
	logger, cleanup, err := LogConfig{Level: "warn", Format: "json"}.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = cleanup() })
	assert.False(t, logger.Enabled(context.Background(), xlog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), xlog.LevelWarn))

	path := filepath.Join(t.TempDir(), "store.log")
	logger, cleanup, err = LogConfig{File: path}.Build()
	require.NoError(t, err)
	logger.Info(context.Background(), "hello")
	require.NoError(t, cleanup())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
