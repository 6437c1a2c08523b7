package xjob

import (
	"encoding/json"
	"fmt"
	"time"
)

// KindSimple SimpleTrigger 的序列化类型名。
const KindSimple = "simple"

// RepeatIndefinitely 无限重复。
const RepeatIndefinitely = -1

// SimpleTrigger 的 misfire 策略。
const (
	// SimpleMisfireFireNow 立即触发一次，仅适用于不重复的触发器；
	// 对重复触发器等同于 [SimpleMisfireRescheduleNowWithRemainingRepeatCount]。
	SimpleMisfireFireNow MisfireInstruction = 1

	// SimpleMisfireRescheduleNowWithExistingRepeatCount 以当前时间为新起点，保留剩余重复次数（错过的不计）。
	SimpleMisfireRescheduleNowWithExistingRepeatCount MisfireInstruction = 2

	// SimpleMisfireRescheduleNowWithRemainingRepeatCount 以当前时间为新起点，错过的次数计入已执行。
	SimpleMisfireRescheduleNowWithRemainingRepeatCount MisfireInstruction = 3

	// SimpleMisfireRescheduleNextWithRemainingCount 等待下一个计划时间，错过的次数计入已执行。
	SimpleMisfireRescheduleNextWithRemainingCount MisfireInstruction = 4

	// SimpleMisfireRescheduleNextWithExistingCount 等待下一个计划时间，不调整重复次数。
	SimpleMisfireRescheduleNextWithExistingCount MisfireInstruction = 5
)

// SimpleTrigger 从开始时间起按固定间隔触发，重复指定次数（或无限）。
//
// 共触发 repeatCount+1 次；repeatCount 为 [RepeatIndefinitely] 时不限次数。
type SimpleTrigger struct {
	baseTrigger
	repeatCount    int
	repeatInterval time.Duration
	timesTriggered int
}

var _ Trigger = (*SimpleTrigger)(nil)

// NewSimpleTrigger 创建固定间隔触发器。repeatCount 为 0 表示只触发一次。
func NewSimpleTrigger(key TriggerKey, jobKey JobKey, interval time.Duration, repeatCount int,
	opts ...TriggerOption) *SimpleTrigger {
	return &SimpleTrigger{
		baseTrigger:    newBaseTrigger(key, jobKey, opts),
		repeatCount:    repeatCount,
		repeatInterval: interval,
	}
}

// Kind 返回 [KindSimple]。
func (t *SimpleTrigger) Kind() string { return KindSimple }

// RepeatCount 返回重复次数。
func (t *SimpleTrigger) RepeatCount() int { return t.repeatCount }

// RepeatInterval 返回重复间隔。
func (t *SimpleTrigger) RepeatInterval() time.Duration { return t.repeatInterval }

// TimesTriggered 返回已触发次数。
func (t *SimpleTrigger) TimesTriggered() int { return t.timesTriggered }

// Validate 校验参数。
func (t *SimpleTrigger) Validate() error {
	if err := t.validateBase(); err != nil {
		return err
	}
	if t.repeatCount < RepeatIndefinitely {
		return fmt.Errorf("%w: repeat count %d", ErrInvalidTrigger, t.repeatCount)
	}
	if t.repeatCount != 0 && t.repeatInterval <= 0 {
		return fmt.Errorf("%w: repeat interval must be positive", ErrInvalidTrigger)
	}
	switch t.misfireInstruction {
	case MisfireInstructionIgnoreMisfirePolicy, MisfireInstructionSmartPolicy,
		SimpleMisfireFireNow, SimpleMisfireRescheduleNowWithExistingRepeatCount,
		SimpleMisfireRescheduleNowWithRemainingRepeatCount, SimpleMisfireRescheduleNextWithRemainingCount,
		SimpleMisfireRescheduleNextWithExistingCount:
	default:
		return fmt.Errorf("%w: misfire instruction %d", ErrInvalidTrigger, t.misfireInstruction)
	}
	return nil
}

// FireTimeAfter 返回严格晚于 after 的下一次计划时间。
func (t *SimpleTrigger) FireTimeAfter(after time.Time) time.Time {
	if t.repeatCount != RepeatIndefinitely && t.timesTriggered > t.repeatCount {
		return time.Time{}
	}
	if after.IsZero() {
		after = time.Now()
	}
	if t.repeatCount == 0 && !after.Before(t.startTime) {
		return time.Time{}
	}
	if !t.endTime.IsZero() && !t.endTime.After(after) {
		return time.Time{}
	}
	if after.Before(t.startTime) {
		return t.startTime
	}

	executed := int64(after.Sub(t.startTime)/t.repeatInterval) + 1
	if t.repeatCount != RepeatIndefinitely && executed > int64(t.repeatCount) {
		return time.Time{}
	}
	next := t.startTime.Add(time.Duration(executed) * t.repeatInterval)
	if !t.endTime.IsZero() && !t.endTime.After(next) {
		return time.Time{}
	}
	return next
}

// ComputeFirstFireTime 首次触发时间为开始时间，落在日历排除时间内则顺延。
func (t *SimpleTrigger) ComputeFirstFireTime(cal Calendar) time.Time {
	t.nextFireTime = skipExcluded(t.startTime, cal, t.FireTimeAfter)
	return t.nextFireTime
}

// Triggered 记录一次触发并推进到下一次计划时间。
func (t *SimpleTrigger) Triggered(cal Calendar) {
	t.timesTriggered++
	t.previousFireTime = t.nextFireTime
	t.nextFireTime = skipExcluded(t.FireTimeAfter(t.nextFireTime), cal, t.FireTimeAfter)
}

// UpdateAfterMisfire 按 misfire 策略重新安排。
func (t *SimpleTrigger) UpdateAfterMisfire(cal Calendar, now time.Time) {
	now = now.UTC()
	instr := t.misfireInstruction
	switch {
	case instr == MisfireInstructionIgnoreMisfirePolicy:
		return
	case instr == MisfireInstructionSmartPolicy:
		switch t.repeatCount {
		case 0:
			instr = SimpleMisfireFireNow
		case RepeatIndefinitely:
			instr = SimpleMisfireRescheduleNextWithRemainingCount
		default:
			instr = SimpleMisfireRescheduleNowWithExistingRepeatCount
		}
	case instr == SimpleMisfireFireNow && t.repeatCount != 0:
		instr = SimpleMisfireRescheduleNowWithRemainingRepeatCount
	}

	switch instr {
	case SimpleMisfireFireNow:
		t.nextFireTime = now

	case SimpleMisfireRescheduleNextWithExistingCount:
		t.nextFireTime = skipExcluded(t.FireTimeAfter(now), cal, t.FireTimeAfter)

	case SimpleMisfireRescheduleNextWithRemainingCount:
		next := skipExcluded(t.FireTimeAfter(now), cal, t.FireTimeAfter)
		if !next.IsZero() {
			t.timesTriggered += t.timesFiredBetween(t.nextFireTime, next)
		}
		t.nextFireTime = next

	case SimpleMisfireRescheduleNowWithExistingRepeatCount:
		if t.repeatCount != 0 && t.repeatCount != RepeatIndefinitely {
			t.repeatCount -= t.timesTriggered
			t.timesTriggered = 0
		}
		t.restartAt(now)

	case SimpleMisfireRescheduleNowWithRemainingRepeatCount:
		missed := t.timesFiredBetween(t.nextFireTime, now)
		if t.repeatCount != 0 && t.repeatCount != RepeatIndefinitely {
			t.repeatCount = max(t.repeatCount-(t.timesTriggered+missed), 0)
			t.timesTriggered = 0
		}
		t.restartAt(now)
	}
}

// UpdateWithNewCalendar 从上一次触发时间起按新日历重新推算。
func (t *SimpleTrigger) UpdateWithNewCalendar(cal Calendar, misfireThreshold time.Duration, now time.Time) {
	t.nextFireTime = recomputeWithCalendar(t.previousFireTime, cal, misfireThreshold, now.UTC(), t.FireTimeAfter)
}

// restartAt 以 at 为新的开始时间，超过结束时间则耗尽。
func (t *SimpleTrigger) restartAt(at time.Time) {
	if !t.endTime.IsZero() && t.endTime.Before(at) {
		t.nextFireTime = time.Time{}
		return
	}
	t.startTime = at
	t.nextFireTime = at
}

func (t *SimpleTrigger) timesFiredBetween(start, end time.Time) int {
	if t.repeatInterval <= 0 || start.IsZero() || !end.After(start) {
		return 0
	}
	return int(end.Sub(start) / t.repeatInterval)
}

// Clone 深拷贝。
func (t *SimpleTrigger) Clone() Trigger {
	c := *t
	c.baseTrigger = t.cloneBase()
	return &c
}

type simpleTriggerJSON struct {
	baseTriggerJSON
	RepeatCount    int           `json:"repeatCount"`
	RepeatInterval time.Duration `json:"repeatInterval"`
	TimesTriggered int           `json:"timesTriggered"`
}

// MarshalJSON 实现 json.Marshaler。
func (t *SimpleTrigger) MarshalJSON() ([]byte, error) {
	return json.Marshal(simpleTriggerJSON{
		baseTriggerJSON: t.toJSON(),
		RepeatCount:     t.repeatCount,
		RepeatInterval:  t.repeatInterval,
		TimesTriggered:  t.timesTriggered,
	})
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (t *SimpleTrigger) UnmarshalJSON(data []byte) error {
	var j simpleTriggerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	t.fromJSON(j.baseTriggerJSON)
	t.repeatCount = j.RepeatCount
	t.repeatInterval = j.RepeatInterval
	t.timesTriggered = j.TimesTriggered
	return nil
}
