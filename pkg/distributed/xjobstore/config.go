package xjobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/omeyang/xsched/pkg/observability/xlog"
	"github.com/omeyang/xsched/pkg/storage/xdmap"
)

// 配置格式。
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Config 存储配置，支持 koanf/JSON/YAML 反序列化，时长使用 "5s" 形式。
//
// 零值字段使用默认值。
type Config struct {
	InstanceName string `koanf:"instanceName" json:"instanceName" yaml:"instanceName"`
	NodeID       string `koanf:"nodeID" json:"nodeID" yaml:"nodeID"`

	MisfireThreshold time.Duration `koanf:"misfireThreshold" json:"misfireThreshold" yaml:"misfireThreshold"`
	LockLease        time.Duration `koanf:"lockLease" json:"lockLease" yaml:"lockLease"`
	AcquireLockLease time.Duration `koanf:"acquireLockLease" json:"acquireLockLease" yaml:"acquireLockLease"`
	LockWaitTimeout  time.Duration `koanf:"lockWaitTimeout" json:"lockWaitTimeout" yaml:"lockWaitTimeout"`

	// AcquiredTriggerTimeout 小于 0 时关闭 ACQUIRED 回收。
	AcquiredTriggerTimeout time.Duration `koanf:"acquiredTriggerTimeout" json:"acquiredTriggerTimeout" yaml:"acquiredTriggerTimeout"`

	// ExecutionTimeout 小于 0 时关闭执行超时回收。
	ExecutionTimeout time.Duration `koanf:"executionTimeout" json:"executionTimeout" yaml:"executionTimeout"`

	AcquireRetryDelay    time.Duration `koanf:"acquireRetryDelay" json:"acquireRetryDelay" yaml:"acquireRetryDelay"`
	MaxAcquireRetryDelay time.Duration `koanf:"maxAcquireRetryDelay" json:"maxAcquireRetryDelay" yaml:"maxAcquireRetryDelay"`
	EstimatedAcquireTime time.Duration `koanf:"estimatedAcquireTime" json:"estimatedAcquireTime" yaml:"estimatedAcquireTime"`

	Backend xdmap.Config `koanf:"backend" json:"backend" yaml:"backend"`
	Log     LogConfig    `koanf:"log" json:"log" yaml:"log"`
}

// LogConfig 日志配置。
type LogConfig struct {
	// Level debug、info、warn、error，默认 info。
	Level string `koanf:"level" json:"level" yaml:"level"`
	// Format text 或 json，默认 text。
	Format string `koanf:"format" json:"format" yaml:"format"`
	// File 非空时写入文件并按 Rotation 轮转，否则写 stderr。
	File     string              `koanf:"file" json:"file" yaml:"file"`
	Rotation xlog.RotationConfig `koanf:"rotation" json:"rotation" yaml:"rotation"`
}

// Build 构建日志，cleanup 关闭轮转文件。
func (c LogConfig) Build() (xlog.LoggerWithLevel, func() error, error) {
	b := xlog.New().SetLevelString(c.Level)
	if c.Format != "" {
		b.SetFormat(c.Format)
	}
	if c.File != "" {
		b.SetRotation(c.File, c.Rotation)
	}
	return b.Build()
}

// Validate 校验配置。
func (c *Config) Validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"misfireThreshold", c.MisfireThreshold},
		{"lockLease", c.LockLease},
		{"acquireLockLease", c.AcquireLockLease},
		{"lockWaitTimeout", c.LockWaitTimeout},
		{"acquireRetryDelay", c.AcquireRetryDelay},
		{"maxAcquireRetryDelay", c.MaxAcquireRetryDelay},
		{"estimatedAcquireTime", c.EstimatedAcquireTime},
	}
	for _, d := range durations {
		if d.d < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, d.name)
		}
	}
	if c.AcquireLockLease > 0 && c.LockWaitTimeout > 0 && c.LockWaitTimeout > c.AcquireLockLease {
		return fmt.Errorf("%w: lockWaitTimeout exceeds acquireLockLease", ErrInvalidConfig)
	}
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("%w: backend: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Options 将非零字段转换为选项，可与调用方选项拼接，后者优先。
func (c *Config) Options() []Option {
	return []Option{
		WithInstanceName(c.InstanceName),
		WithNodeID(c.NodeID),
		WithMisfireThreshold(c.MisfireThreshold),
		WithLockLease(c.LockLease),
		WithAcquireLockLease(c.AcquireLockLease),
		WithLockWaitTimeout(c.LockWaitTimeout),
		WithAcquiredTriggerTimeout(c.AcquiredTriggerTimeout),
		WithExecutionTimeout(c.ExecutionTimeout),
		WithAcquireRetryDelay(c.AcquireRetryDelay, c.MaxAcquireRetryDelay),
		WithEstimatedAcquireTime(c.EstimatedAcquireTime),
		WithHealthCheck(c.Backend.HealthAttempts, c.Backend.HealthRetryDelay),
	}
}

// LoadConfig 从文件加载配置，按扩展名（.yaml/.yml/.json）选择格式。
func LoadConfig(path string) (Config, error) {
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	case ".json":
		format = FormatJSON
	default:
		return Config{}, fmt.Errorf("%w: unknown config extension %q", ErrInvalidConfig, filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("xjobstore: read config: %w", err)
	}
	return LoadConfigBytes(data, format)
}

// LoadConfigBytes 从字节加载并校验配置，空数据得到默认配置。
func LoadConfigBytes(data []byte, format string) (Config, error) {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return Config{}, fmt.Errorf("%w: unsupported format %q", ErrInvalidConfig, format)
	}

	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return Config{}, fmt.Errorf("%w: parse: %w", ErrInvalidConfig, err)
		}
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("%w: unmarshal: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Open 按配置打开后端并创建存储。存储持有后端，Shutdown 时关闭。
//
// 返回的存储尚未 Initialize。
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backend, err := xdmap.Open(ctx, cfg.Backend)
	if err != nil {
		return nil, err
	}
	all := append(cfg.Options(), opts...)
	all = append(all, withOwnedBackend())
	s, err := New(backend, all...)
	if err != nil {
		return nil, errors.Join(err, backend.Close())
	}
	return s, nil
}
