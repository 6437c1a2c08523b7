package xjob

import (
	"encoding/json"
	"fmt"
	"sync"
)

// envelope 接口类型的序列化信封。
type envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

var (
	registryMu    sync.RWMutex
	triggerKinds  = map[string]func() Trigger{}
	calendarKinds = map[string]func() Calendar{}
)

func init() {
	mustRegister(RegisterTriggerKind(KindSimple, func() Trigger { return new(SimpleTrigger) }))
	mustRegister(RegisterTriggerKind(KindCron, func() Trigger { return new(CronTrigger) }))
	mustRegister(RegisterCalendarKind(KindHolidayCalendar, func() Calendar { return new(HolidayCalendar) }))
	mustRegister(RegisterCalendarKind(KindDailyCalendar, func() Calendar { return new(DailyCalendar) }))
	mustRegister(RegisterCalendarKind(KindCronCalendar, func() Calendar { return new(CronCalendar) }))
}

func mustRegister(err error) {
	if err != nil {
		panic(err)
	}
}

// RegisterTriggerKind 注册自定义触发器类型。
//
// factory 返回的零值触发器必须能通过 json.Unmarshal 还原，其 Kind() 必须等于 kind。
// 同名重复注册返回 [ErrDuplicateKind]。
func RegisterTriggerKind(kind string, factory func() Trigger) error {
	if kind == "" || factory == nil {
		return fmt.Errorf("%w: empty trigger kind or factory", ErrNilValue)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := triggerKinds[kind]; ok {
		return fmt.Errorf("%w: trigger %q", ErrDuplicateKind, kind)
	}
	triggerKinds[kind] = factory
	return nil
}

// RegisterCalendarKind 注册自定义日历类型，约定同 [RegisterTriggerKind]。
func RegisterCalendarKind(kind string, factory func() Calendar) error {
	if kind == "" || factory == nil {
		return fmt.Errorf("%w: empty calendar kind or factory", ErrNilValue)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := calendarKinds[kind]; ok {
		return fmt.Errorf("%w: calendar %q", ErrDuplicateKind, kind)
	}
	calendarKinds[kind] = factory
	return nil
}

// MarshalTrigger 将触发器编码为 {"kind","data"} 信封。
func MarshalTrigger(t Trigger) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: trigger", ErrNilValue)
	}
	return marshalEnvelope(t.Kind(), t)
}

// UnmarshalTrigger 按信封中的 kind 还原触发器。
func UnmarshalTrigger(data []byte) (Trigger, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("xjob: decode trigger envelope: %w", err)
	}
	registryMu.RLock()
	factory, ok := triggerKinds[env.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: trigger %q", ErrUnknownKind, env.Kind)
	}
	t := factory()
	if err := json.Unmarshal(env.Data, t); err != nil {
		return nil, fmt.Errorf("xjob: decode %s trigger: %w", env.Kind, err)
	}
	return t, nil
}

// MarshalCalendar 将日历编码为 {"kind","data"} 信封。
func MarshalCalendar(c Calendar) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: calendar", ErrNilValue)
	}
	return marshalEnvelope(c.Kind(), c)
}

// UnmarshalCalendar 按信封中的 kind 还原日历。
func UnmarshalCalendar(data []byte) (Calendar, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("xjob: decode calendar envelope: %w", err)
	}
	registryMu.RLock()
	factory, ok := calendarKinds[env.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: calendar %q", ErrUnknownKind, env.Kind)
	}
	c := factory()
	if err := json.Unmarshal(env.Data, c); err != nil {
		return nil, fmt.Errorf("xjob: decode %s calendar: %w", env.Kind, err)
	}
	return c, nil
}

func marshalEnvelope(kind string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("xjob: encode %s: %w", kind, err)
	}
	return json.Marshal(envelope{Kind: kind, Data: data})
}
