package xjobstore

import (
	"fmt"
	"strconv"
)

// TriggerState 触发器生命周期状态。
//
// 状态值不可变，转换方法返回新值：
//
//	NORMAL/WAITING ──acquire──▶ ACQUIRED ──fire──▶ WAITING（允许并发）
//	                                      └──fire──▶ ACQUIRED（禁止并发，兄弟触发器 BLOCKED）
//	PAUSED ◀──pause/resume──▶ NORMAL
//	PAUSED_BLOCKED ◀──pause/resume──▶ BLOCKED
//	ERROR ──reset──▶ WAITING/PAUSED
//	STATE_COMPLETED 终态
type TriggerState int

const (
	StateNone TriggerState = iota
	StateNormal
	StatePaused
	StateComplete
	StateError
	StateBlocked
	StatePausedBlocked
	StateAcquired
	StateWaiting
	StateCompleted
)

var stateNames = [...]string{
	StateNone:          "NONE",
	StateNormal:        "NORMAL",
	StatePaused:        "PAUSED",
	StateComplete:      "COMPLETE",
	StateError:         "ERROR",
	StateBlocked:       "BLOCKED",
	StatePausedBlocked: "PAUSED_BLOCKED",
	StateAcquired:      "ACQUIRED",
	StateWaiting:       "WAITING",
	StateCompleted:     "STATE_COMPLETED",
}

func (s TriggerState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "TriggerState(" + strconv.Itoa(int(s)) + ")"
}

// ParseTriggerState 按名称解析状态。
func ParseTriggerState(name string) (TriggerState, error) {
	for i, n := range stateNames {
		if n == name {
			return TriggerState(i), nil
		}
	}
	return StateNone, fmt.Errorf("xjobstore: unknown trigger state %q", name)
}

// MarshalText 以名称编码。
func (s TriggerState) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("xjobstore: invalid trigger state %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

func (s *TriggerState) UnmarshalText(data []byte) error {
	parsed, err := ParseTriggerState(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsPaused 报告是否为 PAUSED 或 PAUSED_BLOCKED。
func (s TriggerState) IsPaused() bool {
	return s == StatePaused || s == StatePausedBlocked
}

// IsAcquirable 报告能否被获取（NORMAL 或 WAITING）。
func (s TriggerState) IsAcquirable() bool {
	return s == StateNormal || s == StateWaiting
}

// IsFinished 报告是否已完成，完成的触发器不再参与暂停与恢复。
func (s TriggerState) IsFinished() bool {
	return s == StateComplete || s == StateCompleted
}

// Paused 暂停后的状态：BLOCKED 变为 PAUSED_BLOCKED，其余变为 PAUSED。
func (s TriggerState) Paused() TriggerState {
	if s == StateBlocked || s == StatePausedBlocked {
		return StatePausedBlocked
	}
	return StatePaused
}

// Resumed 恢复后的状态：PAUSED_BLOCKED 变为 BLOCKED，PAUSED 变为 NORMAL，其余不变。
func (s TriggerState) Resumed() TriggerState {
	switch s {
	case StatePausedBlocked:
		return StateBlocked
	case StatePaused:
		return StateNormal
	default:
		return s
	}
}

// Blocked 同作业有实例执行时的状态：WAITING/NORMAL 变为 BLOCKED，PAUSED 变为 PAUSED_BLOCKED。
func (s TriggerState) Blocked() TriggerState {
	switch s {
	case StateWaiting, StateNormal:
		return StateBlocked
	case StatePaused:
		return StatePausedBlocked
	default:
		return s
	}
}

// Unblocked 同作业执行结束后的状态：BLOCKED 变为 WAITING，PAUSED_BLOCKED 变为 PAUSED。
func (s TriggerState) Unblocked() TriggerState {
	switch s {
	case StateBlocked:
		return StateWaiting
	case StatePausedBlocked:
		return StatePaused
	default:
		return s
	}
}
