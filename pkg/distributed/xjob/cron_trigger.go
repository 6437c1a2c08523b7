package xjob

import (
	"encoding/json"
	"fmt"
	"time"
	_ "time/tzdata" // 反序列化按名称加载时区

	"github.com/robfig/cron/v3"
)

// KindCron CronTrigger 的序列化类型名。
const KindCron = "cron"

// CronTrigger 的 misfire 策略。
const (
	// CronMisfireFireOnceNow 立即触发一次，之后回到正常计划。
	CronMisfireFireOnceNow MisfireInstruction = 1

	// CronMisfireDoNothing 放弃错过的触发，等待下一个计划时间。
	CronMisfireDoNothing MisfireInstruction = 2
)

// cronParser 秒字段可选，支持 @daily 等描述符。
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// parseCron 在 loc 时区下解析表达式，loc 为 nil 时使用 UTC。
//
// 时区只能通过 loc 指定，表达式自带 CRON_TZ= 前缀视为非法。
func parseCron(expr string, loc *time.Location) (cron.Schedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := cronParser.Parse("CRON_TZ=" + loc.String() + " " + expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidCronExpression, expr, err)
	}
	return sched, nil
}

// loadLocation 按名称加载时区，空名称为 UTC。
func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// CronTrigger 按 cron 表达式触发。
//
// 表达式支持 5 段（分钟起）或 6 段（秒起）格式以及 @hourly 等描述符。
type CronTrigger struct {
	baseTrigger
	expression string
	location   *time.Location
	schedule   cron.Schedule
}

var _ Trigger = (*CronTrigger)(nil)

// NewCronTrigger 创建 cron 触发器，loc 为 nil 时使用 UTC。
// loc 必须是可按名称加载的 IANA 时区（time.FixedZone 不受支持）。
func NewCronTrigger(key TriggerKey, jobKey JobKey, expr string, loc *time.Location,
	opts ...TriggerOption) (*CronTrigger, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := parseCron(expr, loc)
	if err != nil {
		return nil, err
	}
	return &CronTrigger{
		baseTrigger: newBaseTrigger(key, jobKey, opts),
		expression:  expr,
		location:    loc,
		schedule:    sched,
	}, nil
}

// Kind 返回 [KindCron]。
func (t *CronTrigger) Kind() string { return KindCron }

// Expression 返回 cron 表达式。
func (t *CronTrigger) Expression() string { return t.expression }

// Location 返回表达式解释所用的时区。
func (t *CronTrigger) Location() *time.Location { return t.location }

// Validate 校验参数。
func (t *CronTrigger) Validate() error {
	if err := t.validateBase(); err != nil {
		return err
	}
	if t.schedule == nil {
		return fmt.Errorf("%w: %q", ErrInvalidCronExpression, t.expression)
	}
	switch t.misfireInstruction {
	case MisfireInstructionIgnoreMisfirePolicy, MisfireInstructionSmartPolicy,
		CronMisfireFireOnceNow, CronMisfireDoNothing:
	default:
		return fmt.Errorf("%w: misfire instruction %d", ErrInvalidTrigger, t.misfireInstruction)
	}
	return nil
}

// FireTimeAfter 返回严格晚于 after 且不早于开始时间的下一次匹配时间。
func (t *CronTrigger) FireTimeAfter(after time.Time) time.Time {
	if t.schedule == nil {
		return time.Time{}
	}
	if after.IsZero() {
		after = time.Now()
	}
	if t.startTime.After(after) {
		after = t.startTime.Add(-time.Second)
	}
	if !t.endTime.IsZero() && !after.Before(t.endTime) {
		return time.Time{}
	}
	next := t.schedule.Next(after)
	if next.IsZero() {
		return time.Time{}
	}
	if !t.endTime.IsZero() && next.After(t.endTime) {
		return time.Time{}
	}
	return next.UTC()
}

// ComputeFirstFireTime 计算开始时间起（含）的第一次匹配时间。
func (t *CronTrigger) ComputeFirstFireTime(cal Calendar) time.Time {
	first := t.FireTimeAfter(t.startTime.Add(-time.Second))
	t.nextFireTime = skipExcluded(first, cal, t.FireTimeAfter)
	return t.nextFireTime
}

// Triggered 记录一次触发并推进到下一次匹配时间。
func (t *CronTrigger) Triggered(cal Calendar) {
	t.previousFireTime = t.nextFireTime
	t.nextFireTime = skipExcluded(t.FireTimeAfter(t.nextFireTime), cal, t.FireTimeAfter)
}

// UpdateAfterMisfire 智能策略等同于 [CronMisfireFireOnceNow]。
func (t *CronTrigger) UpdateAfterMisfire(cal Calendar, now time.Time) {
	now = now.UTC()
	switch t.misfireInstruction {
	case MisfireInstructionIgnoreMisfirePolicy:
		return
	case CronMisfireDoNothing:
		t.nextFireTime = skipExcluded(t.FireTimeAfter(now), cal, t.FireTimeAfter)
	default:
		t.nextFireTime = now
	}
}

// UpdateWithNewCalendar 从上一次触发时间起按新日历重新推算。
func (t *CronTrigger) UpdateWithNewCalendar(cal Calendar, misfireThreshold time.Duration, now time.Time) {
	t.nextFireTime = recomputeWithCalendar(t.previousFireTime, cal, misfireThreshold, now.UTC(), t.FireTimeAfter)
}

// Clone 深拷贝。schedule 解析后不再修改，可共享。
func (t *CronTrigger) Clone() Trigger {
	c := *t
	c.baseTrigger = t.cloneBase()
	return &c
}

type cronTriggerJSON struct {
	baseTriggerJSON
	Expression string `json:"expression"`
	Location   string `json:"location"`
}

// MarshalJSON 实现 json.Marshaler。
func (t *CronTrigger) MarshalJSON() ([]byte, error) {
	loc := "UTC"
	if t.location != nil {
		loc = t.location.String()
	}
	return json.Marshal(cronTriggerJSON{
		baseTriggerJSON: t.toJSON(),
		Expression:      t.expression,
		Location:        loc,
	})
}

// UnmarshalJSON 实现 json.Unmarshaler，重新解析表达式。
func (t *CronTrigger) UnmarshalJSON(data []byte) error {
	var j cronTriggerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	loc, err := loadLocation(j.Location)
	if err != nil {
		return fmt.Errorf("%w: location %q: %w", ErrInvalidTrigger, j.Location, err)
	}
	sched, err := parseCron(j.Expression, loc)
	if err != nil {
		return err
	}
	t.fromJSON(j.baseTriggerJSON)
	t.expression = j.Expression
	t.location = loc
	t.schedule = sched
	return nil
}
