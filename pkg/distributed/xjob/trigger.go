package xjob

import (
	"fmt"
	"strconv"
	"time"
)

// MisfireInstruction 错过触发后的恢复策略。
//
// 通用值为 [MisfireInstructionIgnoreMisfirePolicy] 和 [MisfireInstructionSmartPolicy]，
// 其余取值由具体触发器类型解释（见 SimpleMisfire*、CronMisfire*）。
type MisfireInstruction int

const (
	// MisfireInstructionIgnoreMisfirePolicy 忽略错过策略：不视为 misfire，按原计划尽快补发。
	MisfireInstructionIgnoreMisfirePolicy MisfireInstruction = -1

	// MisfireInstructionSmartPolicy 由触发器类型选择合适的策略（默认）。
	MisfireInstructionSmartPolicy MisfireInstruction = 0
)

// CompletedExecutionInstruction 作业执行完成后调度引擎给出的指令。
type CompletedExecutionInstruction int

const (
	// InstructionNoop 无操作。
	InstructionNoop CompletedExecutionInstruction = iota
	// InstructionReExecuteJob 立即重新执行（由调度引擎处理，存储层无操作）。
	InstructionReExecuteJob
	// InstructionSetTriggerComplete 将触发器置为完成。
	InstructionSetTriggerComplete
	// InstructionDeleteTrigger 删除触发器。
	InstructionDeleteTrigger
	// InstructionSetAllJobTriggersComplete 将作业的全部触发器置为完成。
	InstructionSetAllJobTriggersComplete
	// InstructionSetTriggerError 将触发器置为错误。
	InstructionSetTriggerError
	// InstructionSetAllJobTriggersError 将作业的全部触发器置为错误。
	InstructionSetAllJobTriggersError
)

var instructionNames = [...]string{
	InstructionNoop:                      "NOOP",
	InstructionReExecuteJob:              "RE_EXECUTE_JOB",
	InstructionSetTriggerComplete:        "SET_TRIGGER_COMPLETE",
	InstructionDeleteTrigger:             "DELETE_TRIGGER",
	InstructionSetAllJobTriggersComplete: "SET_ALL_JOB_TRIGGERS_COMPLETE",
	InstructionSetTriggerError:           "SET_TRIGGER_ERROR",
	InstructionSetAllJobTriggersError:    "SET_ALL_JOB_TRIGGERS_ERROR",
}

// String 返回指令名。
func (i CompletedExecutionInstruction) String() string {
	if i >= 0 && int(i) < len(instructionNames) {
		return instructionNames[i]
	}
	return "CompletedExecutionInstruction(" + strconv.Itoa(int(i)) + ")"
}

// Trigger 调度规则，产生作业的连续触发时间。
//
// 触发器只通过自身的计算方法（ComputeFirstFireTime、Triggered、UpdateAfterMisfire、
// UpdateWithNewCalendar）推进状态，这些方法由存储层在持锁期间调用。
// 实现必须可通过 JSON 往返（见 [RegisterTriggerKind]），Clone 必须返回深拷贝。
//
// 时间零值表示"无"：EndTime 为零表示无结束时间，NextFireTime 为零表示已耗尽。
type Trigger interface {
	Key() TriggerKey
	JobKey() JobKey

	// Kind 返回序列化注册表中的类型名。
	Kind() string

	Description() string
	CalendarName() string
	MisfireInstruction() MisfireInstruction
	StartTime() time.Time
	EndTime() time.Time
	NextFireTime() time.Time
	PreviousFireTime() time.Time

	// FireInstanceID 返回本次获取分配的触发实例 ID。
	FireInstanceID() string
	JobData() JobDataMap

	SetNextFireTime(t time.Time)
	SetFireInstanceID(id string)

	// FireTimeAfter 返回严格晚于 after 的下一次触发时间，不考虑日历；零值表示不再触发。
	// after 为零值时以当前时间为基准。
	FireTimeAfter(after time.Time) time.Time

	// MayFireAgain 报告是否仍有下一次触发。
	MayFireAgain() bool

	// ComputeFirstFireTime 结合日历计算并设置首次触发时间。
	ComputeFirstFireTime(cal Calendar) time.Time

	// Triggered 触发后推进：上一次触发时间 = 本次，下一次按规则与日历计算。
	Triggered(cal Calendar)

	// UpdateAfterMisfire 按自身 misfire 策略重新计算下一次触发时间。
	UpdateAfterMisfire(cal Calendar, now time.Time)

	// UpdateWithNewCalendar 日历变更后重新计算下一次触发时间。
	UpdateWithNewCalendar(cal Calendar, misfireThreshold time.Duration, now time.Time)

	// Validate 校验触发器参数。
	Validate() error

	Clone() Trigger
}

// TriggerOption 触发器通用选项。
type TriggerOption func(*baseTrigger)

// WithDescription 设置描述。
func WithDescription(desc string) TriggerOption {
	return func(b *baseTrigger) {
		b.description = desc
	}
}

// WithCalendar 设置引用的日历名。
func WithCalendar(name string) TriggerOption {
	return func(b *baseTrigger) {
		b.calendarName = name
	}
}

// WithMisfireInstruction 设置 misfire 策略。
func WithMisfireInstruction(instr MisfireInstruction) TriggerOption {
	return func(b *baseTrigger) {
		b.misfireInstruction = instr
	}
}

// WithStartTime 设置开始时间，默认为创建时刻。
func WithStartTime(t time.Time) TriggerOption {
	return func(b *baseTrigger) {
		if !t.IsZero() {
			b.startTime = t.UTC()
		}
	}
}

// WithEndTime 设置结束时间，零值表示无结束时间。
func WithEndTime(t time.Time) TriggerOption {
	return func(b *baseTrigger) {
		b.endTime = normalize(t)
	}
}

// WithTriggerData 设置触发器数据。
func WithTriggerData(data JobDataMap) TriggerOption {
	return func(b *baseTrigger) {
		b.jobData = data.Clone()
	}
}

// baseTrigger 各类触发器共享的字段与访问器。
type baseTrigger struct {
	key                TriggerKey
	jobKey             JobKey
	description        string
	calendarName       string
	misfireInstruction MisfireInstruction
	startTime          time.Time
	endTime            time.Time
	nextFireTime       time.Time
	previousFireTime   time.Time
	fireInstanceID     string
	jobData            JobDataMap
}

func newBaseTrigger(key TriggerKey, jobKey JobKey, opts []TriggerOption) baseTrigger {
	b := baseTrigger{
		key:       key,
		jobKey:    jobKey,
		startTime: time.Now().UTC().Truncate(time.Second),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&b)
		}
	}
	return b
}

func (b *baseTrigger) Key() TriggerKey                        { return b.key }
func (b *baseTrigger) JobKey() JobKey                         { return b.jobKey }
func (b *baseTrigger) Description() string                    { return b.description }
func (b *baseTrigger) CalendarName() string                   { return b.calendarName }
func (b *baseTrigger) MisfireInstruction() MisfireInstruction { return b.misfireInstruction }
func (b *baseTrigger) StartTime() time.Time                   { return b.startTime }
func (b *baseTrigger) EndTime() time.Time                     { return b.endTime }
func (b *baseTrigger) NextFireTime() time.Time                { return b.nextFireTime }
func (b *baseTrigger) PreviousFireTime() time.Time            { return b.previousFireTime }
func (b *baseTrigger) FireInstanceID() string                 { return b.fireInstanceID }
func (b *baseTrigger) JobData() JobDataMap                    { return b.jobData }
func (b *baseTrigger) MayFireAgain() bool                     { return !b.nextFireTime.IsZero() }

// SetNextFireTime 设置下一次触发时间。
func (b *baseTrigger) SetNextFireTime(t time.Time) { b.nextFireTime = normalize(t) }

// SetFireInstanceID 设置触发实例 ID。
func (b *baseTrigger) SetFireInstanceID(id string) { b.fireInstanceID = id }

func (b *baseTrigger) validateBase() error {
	if b.key.Name == "" {
		return fmt.Errorf("%w: trigger name is empty", ErrInvalidTrigger)
	}
	if b.jobKey.Name == "" {
		return fmt.Errorf("%w: trigger %s has no job", ErrInvalidTrigger, b.key)
	}
	if !b.endTime.IsZero() && b.endTime.Before(b.startTime) {
		return fmt.Errorf("%w: end time before start time", ErrInvalidTrigger)
	}
	return nil
}

func (b *baseTrigger) cloneBase() baseTrigger {
	c := *b
	c.jobData = b.jobData.Clone()
	return c
}

// baseTriggerJSON baseTrigger 的序列化镜像。
type baseTriggerJSON struct {
	Key                TriggerKey         `json:"key"`
	JobKey             JobKey             `json:"jobKey"`
	Description        string             `json:"description,omitempty"`
	CalendarName       string             `json:"calendarName,omitempty"`
	MisfireInstruction MisfireInstruction `json:"misfireInstruction"`
	StartTime          time.Time          `json:"startTime"`
	EndTime            time.Time          `json:"endTime,omitzero"`
	NextFireTime       time.Time          `json:"nextFireTime,omitzero"`
	PreviousFireTime   time.Time          `json:"previousFireTime,omitzero"`
	FireInstanceID     string             `json:"fireInstanceId,omitempty"`
	JobData            JobDataMap         `json:"jobData"`
}

func (b *baseTrigger) toJSON() baseTriggerJSON {
	return baseTriggerJSON{
		Key:                b.key,
		JobKey:             b.jobKey,
		Description:        b.description,
		CalendarName:       b.calendarName,
		MisfireInstruction: b.misfireInstruction,
		StartTime:          b.startTime,
		EndTime:            b.endTime,
		NextFireTime:       b.nextFireTime,
		PreviousFireTime:   b.previousFireTime,
		FireInstanceID:     b.fireInstanceID,
		JobData:            b.jobData,
	}
}

func (b *baseTrigger) fromJSON(j baseTriggerJSON) {
	b.key = j.Key
	b.jobKey = j.JobKey
	b.description = j.Description
	b.calendarName = j.CalendarName
	b.misfireInstruction = j.MisfireInstruction
	b.startTime = normalize(j.StartTime)
	b.endTime = normalize(j.EndTime)
	b.nextFireTime = normalize(j.NextFireTime)
	b.previousFireTime = normalize(j.PreviousFireTime)
	b.fireInstanceID = j.FireInstanceID
	b.jobData = j.JobData
}

// yearToGiveUpSchedulingAt 日历排除所有时间时防止无限循环的年份上限。
var yearToGiveUpSchedulingAt = time.Now().Year() + 100

// skipExcluded 从 t 开始跳过日历排除的时间，next 用于求下一个候选时间。
func skipExcluded(t time.Time, cal Calendar, next func(time.Time) time.Time) time.Time {
	if cal == nil {
		return t
	}
	for !t.IsZero() && !cal.IsTimeIncluded(t) {
		t = next(t)
		if !t.IsZero() && t.Year() > yearToGiveUpSchedulingAt {
			return time.Time{}
		}
	}
	return t
}

// recomputeWithCalendar UpdateWithNewCalendar 的公共实现：
// 从上一次触发时间重新推算，跳过日历排除时间，落在过去且超过阈值的时间继续后移。
func recomputeWithCalendar(prev time.Time, cal Calendar, threshold time.Duration, now time.Time,
	next func(time.Time) time.Time) time.Time {
	after := prev
	if after.IsZero() {
		after = now
	}
	t := next(after)
	if t.IsZero() || cal == nil {
		return t
	}
	for !t.IsZero() && !cal.IsTimeIncluded(t) {
		t = next(t)
		if t.IsZero() {
			break
		}
		if t.Year() > yearToGiveUpSchedulingAt {
			return time.Time{}
		}
		if t.Before(now) && now.Sub(t) >= threshold {
			t = next(t)
		}
	}
	return t
}

// normalize 将非零时间归一化为 UTC。
func normalize(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
