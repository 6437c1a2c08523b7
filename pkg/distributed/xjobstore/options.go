package xjobstore

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xsched/pkg/observability/xlog"
)

// 默认值。
const (
	DefaultInstanceName           = "xsched"
	DefaultMisfireThreshold       = 5 * time.Second
	DefaultLockLease              = 5 * time.Minute
	DefaultAcquireLockLease       = 30 * time.Second
	DefaultLockWaitTimeout        = 10 * time.Second
	DefaultAcquiredTriggerTimeout = 5 * time.Minute
	DefaultExecutionTimeout       = time.Hour
	DefaultAcquireRetryDelay      = 100 * time.Millisecond
	DefaultMaxAcquireRetryDelay   = 15 * time.Second
	DefaultEstimatedAcquireTime   = 50 * time.Millisecond
	DefaultHealthAttempts         = 3
	DefaultHealthRetryDelay       = 200 * time.Millisecond
)

type options struct {
	logger                 xlog.Logger
	now                    func() time.Time
	instanceName           string
	nodeID                 string
	misfireThreshold       time.Duration
	lockLease              time.Duration
	acquireLockLease       time.Duration
	lockWaitTimeout        time.Duration
	acquiredTriggerTimeout time.Duration
	executionTimeout       time.Duration
	acquireRetryDelay      time.Duration
	maxAcquireRetryDelay   time.Duration
	estimatedAcquireTime   time.Duration
	healthAttempts         uint
	healthRetryDelay       time.Duration
	meterProvider          metric.MeterProvider
	tracerProvider         trace.TracerProvider
	ownsBackend            bool
}

func defaultOptions() options {
	return options{
		now:                    time.Now,
		instanceName:           DefaultInstanceName,
		misfireThreshold:       DefaultMisfireThreshold,
		lockLease:              DefaultLockLease,
		acquireLockLease:       DefaultAcquireLockLease,
		lockWaitTimeout:        DefaultLockWaitTimeout,
		acquiredTriggerTimeout: DefaultAcquiredTriggerTimeout,
		executionTimeout:       DefaultExecutionTimeout,
		acquireRetryDelay:      DefaultAcquireRetryDelay,
		maxAcquireRetryDelay:   DefaultMaxAcquireRetryDelay,
		estimatedAcquireTime:   DefaultEstimatedAcquireTime,
		healthAttempts:         DefaultHealthAttempts,
		healthRetryDelay:       DefaultHealthRetryDelay,
		meterProvider:          otel.GetMeterProvider(),
		tracerProvider:         otel.GetTracerProvider(),
	}
}

// Option 存储选项。
type Option func(*options)

// WithLogger 设置日志，默认 xlog.Default()。
func WithLogger(l xlog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock 设置时钟，用于 misfire 判断与获取时间戳。
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithInstanceName 设置实例名。同名实例共享数据，默认 "xsched"。
func WithInstanceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.instanceName = name
		}
	}
}

// WithNodeID 设置节点 ID，默认由主机名和 sonyflake 生成。
func WithNodeID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.nodeID = id
		}
	}
}

// WithMisfireThreshold 设置 misfire 容忍时长，默认 5s。
func WithMisfireThreshold(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.misfireThreshold = d
		}
	}
}

// WithLockLease 设置管理操作的锁租期，默认 5m。
func WithLockLease(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockLease = d
		}
	}
}

// WithAcquireLockLease 设置获取与触发期间的锁租期，默认 30s。
func WithAcquireLockLease(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.acquireLockLease = d
		}
	}
}

// WithLockWaitTimeout 设置等待锁的最长时间，默认 10s。
func WithLockWaitTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockWaitTimeout = d
		}
	}
}

// WithAcquiredTriggerTimeout 设置 ACQUIRED 触发器的回收时长，默认 5m；d < 0 关闭回收。
func WithAcquiredTriggerTimeout(d time.Duration) Option {
	return func(o *options) {
		if d != 0 {
			o.acquiredTriggerTimeout = d
		}
	}
}

// WithExecutionTimeout 设置不允许并发的作业的执行回收时长，默认 1h；d < 0 关闭回收。
//
// 触发后超过该时长仍未完成的触发器视为执行节点已崩溃：有下一次触发时间时放回 WAITING，
// 否则置为 STATE_COMPLETED，同时解除兄弟触发器的阻塞。应大于作业的最长执行时间。
func WithExecutionTimeout(d time.Duration) Option {
	return func(o *options) {
		if d != 0 {
			o.executionTimeout = d
		}
	}
}

// WithAcquireRetryDelay 设置 AcquireRetryDelay 的初始值与上限。
func WithAcquireRetryDelay(base, maxDelay time.Duration) Option {
	return func(o *options) {
		if base > 0 {
			o.acquireRetryDelay = base
		}
		if maxDelay > 0 {
			o.maxAcquireRetryDelay = maxDelay
		}
	}
}

// WithEstimatedAcquireTime 设置 EstimatedTimeToReleaseAndAcquireTrigger 的返回值。
func WithEstimatedAcquireTime(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.estimatedAcquireTime = d
		}
	}
}

// WithHealthCheck 设置 Initialize 时后端健康检查的重试次数与初始间隔。
func WithHealthCheck(attempts uint, delay time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.healthAttempts = attempts
		}
		if delay > 0 {
			o.healthRetryDelay = delay
		}
	}
}

// WithMeterProvider 设置 MeterProvider，默认 otel 全局。
func WithMeterProvider(p metric.MeterProvider) Option {
	return func(o *options) {
		if p != nil {
			o.meterProvider = p
		}
	}
}

// WithTracerProvider 设置 TracerProvider，默认 otel 全局。
func WithTracerProvider(p trace.TracerProvider) Option {
	return func(o *options) {
		if p != nil {
			o.tracerProvider = p
		}
	}
}

// withOwnedBackend Shutdown 时关闭后端，供 Open 使用。
func withOwnedBackend() Option {
	return func(o *options) {
		o.ownsBackend = true
	}
}
