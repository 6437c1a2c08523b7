package xjobstore

import (
	"context"
	"time"

	"github.com/omeyang/xsched/pkg/distributed/xjob"
)

// JobStore 调度引擎使用的作业与触发器存储接口。
type JobStore interface {
	// 生命周期
	Initialize(ctx context.Context, signaler Signaler) error
	SchedulerStarted(ctx context.Context) error
	SchedulerPaused(ctx context.Context)
	SchedulerResumed(ctx context.Context)
	Shutdown(ctx context.Context) error

	// 能力查询
	SupportsPersistence() bool
	IsClustered() bool
	EstimatedTimeToReleaseAndAcquireTrigger() time.Duration
	AcquireRetryDelay(failureCount int) time.Duration
	InstanceName() string
	NodeID() string

	// 作业与触发器
	StoreJob(ctx context.Context, job *xjob.JobDetail, replaceExisting bool) error
	StoreTrigger(ctx context.Context, trigger xjob.Trigger, replaceExisting bool) error
	StoreJobAndTrigger(ctx context.Context, job *xjob.JobDetail, trigger xjob.Trigger) error
	StoreJobsAndTriggers(ctx context.Context, batch []JobWithTriggers, replace bool) error
	RemoveJob(ctx context.Context, key xjob.JobKey) (bool, error)
	RemoveJobs(ctx context.Context, keys []xjob.JobKey) (bool, error)
	RemoveTrigger(ctx context.Context, key xjob.TriggerKey) (bool, error)
	RemoveTriggers(ctx context.Context, keys []xjob.TriggerKey) (bool, error)
	ReplaceTrigger(ctx context.Context, key xjob.TriggerKey, newTrigger xjob.Trigger) (bool, error)
	RetrieveJob(ctx context.Context, key xjob.JobKey) (*xjob.JobDetail, error)
	RetrieveTrigger(ctx context.Context, key xjob.TriggerKey) (xjob.Trigger, error)
	CheckJobExists(ctx context.Context, key xjob.JobKey) (bool, error)
	CheckTriggerExists(ctx context.Context, key xjob.TriggerKey) (bool, error)
	ClearAllSchedulingData(ctx context.Context) error

	// 日历
	StoreCalendar(ctx context.Context, name string, cal xjob.Calendar, replaceExisting, updateTriggers bool) error
	RemoveCalendar(ctx context.Context, name string) (bool, error)
	RetrieveCalendar(ctx context.Context, name string) (xjob.Calendar, error)
	CheckCalendarExists(ctx context.Context, name string) (bool, error)

	// 枚举
	NumberOfJobs(ctx context.Context) (int, error)
	NumberOfTriggers(ctx context.Context) (int, error)
	NumberOfCalendars(ctx context.Context) (int, error)
	JobKeys(ctx context.Context, matcher xjob.GroupMatcher) ([]xjob.JobKey, error)
	TriggerKeys(ctx context.Context, matcher xjob.GroupMatcher) ([]xjob.TriggerKey, error)
	JobGroupNames(ctx context.Context) ([]string, error)
	TriggerGroupNames(ctx context.Context) ([]string, error)
	CalendarNames(ctx context.Context) ([]string, error)
	TriggersForJob(ctx context.Context, key xjob.JobKey) ([]xjob.Trigger, error)

	// 暂停与恢复
	PauseTrigger(ctx context.Context, key xjob.TriggerKey) error
	PauseTriggers(ctx context.Context, matcher xjob.GroupMatcher) ([]string, error)
	PauseJob(ctx context.Context, key xjob.JobKey) error
	PauseJobs(ctx context.Context, matcher xjob.GroupMatcher) ([]string, error)
	ResumeTrigger(ctx context.Context, key xjob.TriggerKey) error
	ResumeTriggers(ctx context.Context, matcher xjob.GroupMatcher) ([]string, error)
	ResumeJob(ctx context.Context, key xjob.JobKey) error
	ResumeJobs(ctx context.Context, matcher xjob.GroupMatcher) ([]string, error)
	PauseAll(ctx context.Context) error
	ResumeAll(ctx context.Context) error
	PausedTriggerGroups(ctx context.Context) ([]string, error)
	IsTriggerGroupPaused(ctx context.Context, group string) (bool, error)
	IsJobGroupPaused(ctx context.Context, group string) (bool, error)

	// 触发协议
	AcquireNextTriggers(ctx context.Context, noLaterThan time.Time, maxCount int, timeWindow time.Duration) ([]xjob.Trigger, error)
	ReleaseAcquiredTrigger(ctx context.Context, trigger xjob.Trigger) error
	TriggersFired(ctx context.Context, triggers []xjob.Trigger) ([]TriggerFiredResult, error)
	TriggeredJobComplete(ctx context.Context, trigger xjob.Trigger, job *xjob.JobDetail, instruction xjob.CompletedExecutionInstruction) error
	ResetTriggerFromErrorState(ctx context.Context, key xjob.TriggerKey) error
	TriggerState(ctx context.Context, key xjob.TriggerKey) (TriggerState, error)
}

// JobWithTriggers StoreJobsAndTriggers 的批量条目。
type JobWithTriggers struct {
	Job      *xjob.JobDetail
	Triggers []xjob.Trigger
}

// TriggerFiredBundle 一次触发所需的全部数据，交给调度引擎执行作业。
type TriggerFiredBundle struct {
	Job      *xjob.JobDetail
	Trigger  xjob.Trigger
	Calendar xjob.Calendar

	// Recovering 是否为节点故障后的恢复执行，存储层总是返回 false。
	Recovering bool

	// FireTime 实际触发时刻。
	FireTime time.Time
	// ScheduledFireTime 计划触发时刻。
	ScheduledFireTime time.Time
	PrevFireTime      time.Time
	NextFireTime      time.Time
}

// TriggerFiredResult TriggersFired 中单个触发器的结果。
//
// Bundle 与 Err 均为 nil 表示触发器已失效（被删除、暂停或释放），调度引擎应跳过。
type TriggerFiredResult struct {
	Bundle *TriggerFiredBundle
	Err    error
}
