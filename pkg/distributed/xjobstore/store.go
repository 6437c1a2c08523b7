package xjobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/omeyang/xsched/pkg/distributed/xjob"
	"github.com/omeyang/xsched/pkg/observability/xlog"
	"github.com/omeyang/xsched/pkg/storage/xdmap"
)

// 索引 Map 的名称后缀，完整名称为 "<instanceName>.<suffix>"。
const (
	mapJobs                = "jobs"
	mapTriggers            = "triggers"
	mapCalendars           = "calendars"
	mapJobGroups           = "job-groups"
	mapTriggerGroups       = "trigger-groups"
	mapJobTriggers         = "job-triggers"
	mapPausedTriggerGroups = "paused-trigger-groups"
	mapPausedJobGroups     = "paused-job-groups"
)

const (
	stateNew int32 = iota
	stateInitializing
	stateReady
	stateShutdown
)

// Store 基于 xdmap 的集群作业存储。
//
// 所有状态都在后端中，多个节点（或同一进程内的多个 Store）使用相同实例名
// 和相同后端即组成一个集群。每个修改都在 key 锁内完成：
// 加锁、重新读取、构造新包装、写回、释放。
type Store struct {
	backend xdmap.Backend
	opts    options
	logger  xlog.Logger
	inst    *instruments

	jobs      codecMap[*xjob.JobDetail]
	triggers  codecMap[TriggerWrapper]
	calendars codecMap[xjob.Calendar]

	// 二级索引，不单独加锁
	jobGroups     xdmap.MultiMap // group -> job name
	triggerGroups xdmap.MultiMap // group -> trigger name
	jobTriggers   xdmap.MultiMap // job name -> trigger name

	pausedTriggerGroups xdmap.Map
	pausedJobGroups     xdmap.Map

	signaler        Signaler
	state           atomic.Int32
	fireSeq         atomic.Uint64
	schedulerPaused atomic.Bool
}

var _ JobStore = (*Store)(nil)

// New 在 backend 上创建存储。backend 的生命周期由调用方管理。
func New(backend xdmap.Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.nodeID == "" {
		o.nodeID = newNodeID()
	}
	if o.logger == nil {
		o.logger = xlog.Default()
	}

	inst, err := newInstruments(o.meterProvider, o.tracerProvider, o.instanceName, o.nodeID)
	if err != nil {
		return nil, err
	}

	name := func(suffix string) string { return o.instanceName + "." + suffix }
	return &Store{
		backend:             backend,
		opts:                o,
		logger:              o.logger.With(xlog.Component("xjobstore"), xlog.Node(o.nodeID)),
		inst:                inst,
		jobs:                newJobMap(backend.Map(name(mapJobs))),
		triggers:            newTriggerMap(backend.Map(name(mapTriggers))),
		calendars:           newCalendarMap(backend.Map(name(mapCalendars))),
		jobGroups:           backend.MultiMap(name(mapJobGroups)),
		triggerGroups:       backend.MultiMap(name(mapTriggerGroups)),
		jobTriggers:         backend.MultiMap(name(mapJobTriggers)),
		pausedTriggerGroups: backend.Map(name(mapPausedTriggerGroups)),
		pausedJobGroups:     backend.Map(name(mapPausedJobGroups)),
		signaler:            NoopSignaler{},
	}, nil
}

// =============================================================================
// 生命周期
// =============================================================================

// Initialize 检查后端健康并登记 signaler，nil 使用 NoopSignaler。只能调用一次。
func (s *Store) Initialize(ctx context.Context, signaler Signaler) error {
	if !s.state.CompareAndSwap(stateNew, stateInitializing) {
		if s.state.Load() == stateShutdown {
			return ErrShutdown
		}
		return fmt.Errorf("%w: already initialized", ErrIllegalState)
	}
	if err := xdmap.CheckHealth(ctx, s.backend, s.opts.healthAttempts, s.opts.healthRetryDelay); err != nil {
		s.state.Store(stateNew)
		return err
	}
	if signaler != nil {
		s.signaler = signaler
	}
	s.state.Store(stateReady)
	s.logger.Info(ctx, "job store initialized",
		slog.String("instance", s.opts.instanceName))
	return nil
}

// SchedulerStarted 调度器启动，存储层无需恢复动作。
func (s *Store) SchedulerStarted(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.logger.Info(ctx, "scheduler started")
	return nil
}

// SchedulerPaused 记录调度器暂停。
func (s *Store) SchedulerPaused(ctx context.Context) {
	s.schedulerPaused.Store(true)
	s.logger.Info(ctx, "scheduler paused")
}

// SchedulerResumed 记录调度器恢复。
func (s *Store) SchedulerResumed(ctx context.Context) {
	s.schedulerPaused.Store(false)
	s.logger.Info(ctx, "scheduler resumed")
}

// Shutdown 停止存储，之后的操作返回 ErrShutdown。可重复调用。
//
// 只有通过 Open 创建的存储会关闭后端。
func (s *Store) Shutdown(ctx context.Context) error {
	if s.state.Swap(stateShutdown) == stateShutdown {
		return nil
	}
	s.logger.Info(ctx, "job store shut down")
	if s.opts.ownsBackend {
		return s.backend.Close()
	}
	return nil
}

func (s *Store) ready() error {
	switch s.state.Load() {
	case stateReady:
		return nil
	case stateShutdown:
		return ErrShutdown
	default:
		return ErrNotInitialized
	}
}

// =============================================================================
// 能力查询
// =============================================================================

// SupportsPersistence 数据保存在后端中，总是 true。
func (s *Store) SupportsPersistence() bool { return true }

// IsClustered 总是 true。
func (s *Store) IsClustered() bool { return true }

// EstimatedTimeToReleaseAndAcquireTrigger 调度器在触发时间前提前获取的余量。
func (s *Store) EstimatedTimeToReleaseAndAcquireTrigger() time.Duration {
	return s.opts.estimatedAcquireTime
}

// AcquireRetryDelay 连续获取失败后的等待时间，从初始值起每次翻倍，不超过上限。
func (s *Store) AcquireRetryDelay(failureCount int) time.Duration {
	d := s.opts.acquireRetryDelay
	for i := 1; i < failureCount && d < s.opts.maxAcquireRetryDelay; i++ {
		d *= 2
	}
	return min(d, s.opts.maxAcquireRetryDelay)
}

// InstanceName 实例名。
func (s *Store) InstanceName() string { return s.opts.instanceName }

// NodeID 本节点 ID。
func (s *Store) NodeID() string { return s.opts.nodeID }

// IsSchedulerPaused 报告最近一次 SchedulerPaused/SchedulerResumed 的状态。
func (s *Store) IsSchedulerPaused() bool { return s.schedulerPaused.Load() }

// =============================================================================
// 内部辅助
// =============================================================================

// withLock 持有 m 上 key 的锁执行 fn，释放总会被尝试。
//
// 等待锁超过 LockWaitTimeout 返回 ErrLockTimeout。释放时租期已过期只记录告警，
// 其他释放错误与 fn 的错误合并返回。
func (s *Store) withLock(ctx context.Context, m xdmap.Map, key string, lease time.Duration,
	fn func(ctx context.Context) error) (err error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.opts.lockWaitTimeout)
	h, err := m.Lock(lockCtx, key, lease)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %s/%s: %w", ErrLockTimeout, m.Name(), key, err)
		}
		return err
	}

	defer func() {
		uerr := h.Unlock(context.WithoutCancel(ctx))
		switch {
		case uerr == nil:
		case errors.Is(uerr, xdmap.ErrLockNotHeld):
			s.inst.add(ctx, s.inst.releaseRaces, 1)
			s.logger.Warn(ctx, "lock lease expired before release",
				slog.String("map", m.Name()), slog.String("key", key), xlog.Duration(lease))
		default:
			err = errors.Join(err, fmt.Errorf("xjobstore: unlock %s/%s: %w", m.Name(), key, uerr))
		}
	}()
	return fn(ctx)
}

// nextFireInstanceID 返回 "<nodeID>-<n>"，n 在进程内单调递增。
func (s *Store) nextFireInstanceID() string {
	return s.opts.nodeID + "-" + strconv.FormatUint(s.fireSeq.Add(1), 10)
}

func (s *Store) now() time.Time {
	return s.opts.now().UTC()
}

// calendarFor 返回触发器引用的日历，未引用时返回 nil。
func (s *Store) calendarFor(ctx context.Context, t xjob.Trigger) (xjob.Calendar, bool, error) {
	name := t.CalendarName()
	if name == "" {
		return nil, true, nil
	}
	return s.calendars.get(ctx, name)
}

// isGroupPaused 报告 set 中是否包含 group。
func isGroupPaused(ctx context.Context, set xdmap.Map, group string) (bool, error) {
	if group == "" {
		return false, nil
	}
	return set.ContainsKey(ctx, group)
}

// pausedByGroup 报告触发器所在分组或其作业所在分组是否已暂停。
func (s *Store) pausedByGroup(ctx context.Context, key xjob.TriggerKey, jobKey xjob.JobKey) (bool, error) {
	paused, err := isGroupPaused(ctx, s.pausedTriggerGroups, key.Group)
	if err != nil || paused {
		return paused, err
	}
	return isGroupPaused(ctx, s.pausedJobGroups, jobKey.Group)
}

func (s *Store) signal(ctx context.Context, candidate time.Time) {
	s.signaler.SignalSchedulingChange(ctx, candidate)
}
