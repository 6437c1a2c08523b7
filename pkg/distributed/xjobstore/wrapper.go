package xjobstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/omeyang/xsched/pkg/distributed/xjob"
)

// TriggerWrapper 触发器及其生命周期状态的快照，是并发控制的单位。
//
// 每次状态转换都构造新的 TriggerWrapper 并整体写回同一 key，不做原地修改。
type TriggerWrapper struct {
	Key     xjob.TriggerKey
	JobKey  xjob.JobKey
	Trigger xjob.Trigger
	State   TriggerState

	// AcquiredAt 被获取的时间，仅在 ACQUIRED 且尚未触发时非零。
	AcquiredAt time.Time

	// FiredAt 不允许并发的作业被触发的时间，仅在执行期间（ACQUIRED）非零。
	FiredAt time.Time
}

func newTriggerWrapper(t xjob.Trigger, state TriggerState) TriggerWrapper {
	return TriggerWrapper{Key: t.Key(), JobKey: t.JobKey(), Trigger: t, State: state}
}

// withState 返回状态替换后的副本，离开 ACQUIRED 时清除 AcquiredAt 与 FiredAt。
func (w TriggerWrapper) withState(state TriggerState) TriggerWrapper {
	w.State = state
	if state != StateAcquired {
		w.AcquiredAt = time.Time{}
		w.FiredAt = time.Time{}
	}
	return w
}

// withTrigger 返回触发器替换后的副本，t 由调用方保证不再被其他持有者修改。
func (w TriggerWrapper) withTrigger(t xjob.Trigger) TriggerWrapper {
	w.Trigger = t
	return w
}

// acquired 返回在 at 时刻被获取的副本。
func (w TriggerWrapper) acquired(at time.Time) TriggerWrapper {
	w.State = StateAcquired
	w.AcquiredAt = at.UTC()
	w.FiredAt = time.Time{}
	return w
}

// executing 返回在 at 时刻开始执行的副本，保持 ACQUIRED 直到执行完成。
func (w TriggerWrapper) executing(at time.Time) TriggerWrapper {
	w.State = StateAcquired
	w.AcquiredAt = time.Time{}
	w.FiredAt = at.UTC()
	return w
}

// wrapperRecord TriggerWrapper 的持久化格式。
type wrapperRecord struct {
	Key        xjob.TriggerKey `json:"key"`
	JobKey     xjob.JobKey     `json:"jobKey"`
	State      TriggerState    `json:"state"`
	AcquiredAt time.Time       `json:"acquiredAt,omitzero"`
	FiredAt    time.Time       `json:"firedAt,omitzero"`
	Trigger    json.RawMessage `json:"trigger"`
}

func encodeWrapper(w TriggerWrapper) ([]byte, error) {
	t, err := xjob.MarshalTrigger(w.Trigger)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wrapperRecord{
		Key:        w.Key,
		JobKey:     w.JobKey,
		State:      w.State,
		AcquiredAt: w.AcquiredAt,
		FiredAt:    w.FiredAt,
		Trigger:    t,
	})
}

func decodeWrapper(data []byte) (TriggerWrapper, error) {
	var rec wrapperRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return TriggerWrapper{}, fmt.Errorf("xjobstore: decode trigger wrapper: %w", err)
	}
	t, err := xjob.UnmarshalTrigger(rec.Trigger)
	if err != nil {
		return TriggerWrapper{}, err
	}
	return TriggerWrapper{
		Key:        rec.Key,
		JobKey:     rec.JobKey,
		Trigger:    t,
		State:      rec.State,
		AcquiredAt: rec.AcquiredAt,
		FiredAt:    rec.FiredAt,
	}, nil
}
