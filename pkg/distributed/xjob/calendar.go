package xjob

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
)

// 内置日历的序列化类型名。
const (
	KindHolidayCalendar = "holiday"
	KindDailyCalendar   = "daily"
	KindCronCalendar    = "cron"
)

// Calendar 命名的排除日历，触发器落在排除时间内的触发会被顺延。
type Calendar interface {
	// Kind 返回序列化注册表中的类型名。
	Kind() string

	Description() string

	// IsTimeIncluded 报告 t 是否可触发（未被排除）。
	IsTimeIncluded(t time.Time) bool

	// NextIncludedTime 返回严格晚于 t 的最早可触发时间（秒精度），找不到时返回零值。
	NextIncludedTime(t time.Time) time.Time

	Clone() Calendar
}

// cronCalendarSearchLimit CronCalendar 逐秒查找可触发时间的上限。
const cronCalendarSearchLimit = 7 * 24 * time.Hour

// nextSecond 返回严格晚于 t 的下一个整秒。
func nextSecond(t time.Time) time.Time {
	return t.Truncate(time.Second).Add(time.Second)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ---------------------------------------------------------------------------
// HolidayCalendar
// ---------------------------------------------------------------------------

const dateLayout = "2006-01-02"

// HolidayCalendar 按自然日排除，日期在 Location 时区下判定。
type HolidayCalendar struct {
	description string
	location    *time.Location
	dates       map[string]struct{}
}

var _ Calendar = (*HolidayCalendar)(nil)

// NewHolidayCalendar 创建节假日日历，loc 为 nil 时使用 UTC。
func NewHolidayCalendar(description string, loc *time.Location) *HolidayCalendar {
	if loc == nil {
		loc = time.UTC
	}
	return &HolidayCalendar{
		description: description,
		location:    loc,
		dates:       make(map[string]struct{}),
	}
}

// Kind 返回 [KindHolidayCalendar]。
func (c *HolidayCalendar) Kind() string { return KindHolidayCalendar }

// Description 返回描述。
func (c *HolidayCalendar) Description() string { return c.description }

// AddExcludedDate 排除 t 所在的自然日。
func (c *HolidayCalendar) AddExcludedDate(t time.Time) {
	c.dates[t.In(c.location).Format(dateLayout)] = struct{}{}
}

// RemoveExcludedDate 取消排除 t 所在的自然日。
func (c *HolidayCalendar) RemoveExcludedDate(t time.Time) {
	delete(c.dates, t.In(c.location).Format(dateLayout))
}

// ExcludedDates 返回按时间排序的排除日期（YYYY-MM-DD）。
func (c *HolidayCalendar) ExcludedDates() []string {
	return slices.Sorted(maps.Keys(c.dates))
}

// IsTimeIncluded 报告 t 所在自然日是否未被排除。
func (c *HolidayCalendar) IsTimeIncluded(t time.Time) bool {
	_, excluded := c.dates[t.In(c.location).Format(dateLayout)]
	return !excluded
}

// NextIncludedTime 下一秒可触发则返回下一秒，否则返回之后第一个未排除自然日的零点。
func (c *HolidayCalendar) NextIncludedTime(t time.Time) time.Time {
	next := nextSecond(t).In(c.location)
	for i := 0; i <= len(c.dates); i++ {
		if c.IsTimeIncluded(next) {
			return next.UTC()
		}
		next = startOfDay(next).AddDate(0, 0, 1)
	}
	return time.Time{}
}

// Clone 深拷贝。
func (c *HolidayCalendar) Clone() Calendar {
	out := *c
	out.dates = maps.Clone(c.dates)
	return &out
}

type holidayCalendarJSON struct {
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location"`
	Dates       []string `json:"dates"`
}

// MarshalJSON 实现 json.Marshaler。
func (c *HolidayCalendar) MarshalJSON() ([]byte, error) {
	return json.Marshal(holidayCalendarJSON{
		Description: c.description,
		Location:    c.location.String(),
		Dates:       c.ExcludedDates(),
	})
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (c *HolidayCalendar) UnmarshalJSON(data []byte) error {
	var j holidayCalendarJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	loc, err := loadLocation(j.Location)
	if err != nil {
		return fmt.Errorf("%w: location %q: %w", ErrInvalidCalendar, j.Location, err)
	}
	dates := make(map[string]struct{}, len(j.Dates))
	for _, d := range j.Dates {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return fmt.Errorf("%w: date %q: %w", ErrInvalidCalendar, d, err)
		}
		dates[d] = struct{}{}
	}
	c.description = j.Description
	c.location = loc
	c.dates = dates
	return nil
}

// ---------------------------------------------------------------------------
// DailyCalendar
// ---------------------------------------------------------------------------

// DailyCalendar 每天排除 [RangeStart, RangeEnd) 时段（自零点起的偏移）。
// Inverted 为 true 时反过来，只有该时段可触发。
type DailyCalendar struct {
	description string
	location    *time.Location
	rangeStart  time.Duration
	rangeEnd    time.Duration
	inverted    bool
}

var _ Calendar = (*DailyCalendar)(nil)

// NewDailyCalendar 创建每日时段日历，要求 0 <= start < end <= 24h。
func NewDailyCalendar(description string, start, end time.Duration, loc *time.Location,
	inverted bool) (*DailyCalendar, error) {
	if start < 0 || end > 24*time.Hour || start >= end {
		return nil, fmt.Errorf("%w: daily range [%s, %s)", ErrInvalidCalendar, start, end)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &DailyCalendar{
		description: description,
		location:    loc,
		rangeStart:  start,
		rangeEnd:    end,
		inverted:    inverted,
	}, nil
}

// Kind 返回 [KindDailyCalendar]。
func (c *DailyCalendar) Kind() string { return KindDailyCalendar }

// Description 返回描述。
func (c *DailyCalendar) Description() string { return c.description }

// Range 返回时段起止偏移。
func (c *DailyCalendar) Range() (start, end time.Duration) { return c.rangeStart, c.rangeEnd }

// Inverted 报告是否反转。
func (c *DailyCalendar) Inverted() bool { return c.inverted }

func (c *DailyCalendar) inRange(t time.Time) bool {
	local := t.In(c.location)
	off := local.Sub(startOfDay(local))
	return off >= c.rangeStart && off < c.rangeEnd
}

// IsTimeIncluded 报告 t 是否可触发。
func (c *DailyCalendar) IsTimeIncluded(t time.Time) bool {
	return c.inRange(t) == c.inverted
}

// NextIncludedTime 返回严格晚于 t 的最早可触发时间。
func (c *DailyCalendar) NextIncludedTime(t time.Time) time.Time {
	next := nextSecond(t).In(c.location)
	if c.IsTimeIncluded(next) {
		return next.UTC()
	}
	day := startOfDay(next)
	if !c.inverted {
		// 位于排除时段内，时段结束即可触发
		return day.Add(c.rangeEnd).UTC()
	}
	if next.Sub(day) < c.rangeStart {
		return day.Add(c.rangeStart).UTC()
	}
	return day.AddDate(0, 0, 1).Add(c.rangeStart).UTC()
}

// Clone 深拷贝。
func (c *DailyCalendar) Clone() Calendar {
	out := *c
	return &out
}

type dailyCalendarJSON struct {
	Description string        `json:"description,omitempty"`
	Location    string        `json:"location"`
	RangeStart  time.Duration `json:"rangeStart"`
	RangeEnd    time.Duration `json:"rangeEnd"`
	Inverted    bool          `json:"inverted"`
}

// MarshalJSON 实现 json.Marshaler。
func (c *DailyCalendar) MarshalJSON() ([]byte, error) {
	return json.Marshal(dailyCalendarJSON{
		Description: c.description,
		Location:    c.location.String(),
		RangeStart:  c.rangeStart,
		RangeEnd:    c.rangeEnd,
		Inverted:    c.inverted,
	})
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (c *DailyCalendar) UnmarshalJSON(data []byte) error {
	var j dailyCalendarJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	loc, err := loadLocation(j.Location)
	if err != nil {
		return fmt.Errorf("%w: location %q: %w", ErrInvalidCalendar, j.Location, err)
	}
	parsed, err := NewDailyCalendar(j.Description, j.RangeStart, j.RangeEnd, loc, j.Inverted)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}

// ---------------------------------------------------------------------------
// CronCalendar
// ---------------------------------------------------------------------------

// CronCalendar 排除与 cron 表达式匹配的时刻（秒精度）。
//
// 例如 "* * 0-7 * * *" 排除每天 0 点到 8 点。
type CronCalendar struct {
	description string
	expression  string
	location    *time.Location
	schedule    cron.Schedule
}

var _ Calendar = (*CronCalendar)(nil)

// NewCronCalendar 创建 cron 排除日历，loc 为 nil 时使用 UTC。
func NewCronCalendar(description, expr string, loc *time.Location) (*CronCalendar, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := parseCron(expr, loc)
	if err != nil {
		return nil, err
	}
	return &CronCalendar{
		description: description,
		expression:  expr,
		location:    loc,
		schedule:    sched,
	}, nil
}

// Kind 返回 [KindCronCalendar]。
func (c *CronCalendar) Kind() string { return KindCronCalendar }

// Description 返回描述。
func (c *CronCalendar) Description() string { return c.description }

// Expression 返回排除表达式。
func (c *CronCalendar) Expression() string { return c.expression }

// IsTimeIncluded 报告 t 所在的秒是否不匹配表达式。
func (c *CronCalendar) IsTimeIncluded(t time.Time) bool {
	sec := t.Truncate(time.Second)
	return !c.schedule.Next(sec.Add(-time.Second)).Equal(sec)
}

// NextIncludedTime 逐秒查找，超过一周仍全部匹配时返回零值。
func (c *CronCalendar) NextIncludedTime(t time.Time) time.Time {
	next := nextSecond(t)
	limit := next.Add(cronCalendarSearchLimit)
	for next.Before(limit) {
		if c.IsTimeIncluded(next) {
			return next.UTC()
		}
		next = next.Add(time.Second)
	}
	return time.Time{}
}

// Clone 深拷贝。schedule 解析后不再修改，可共享。
func (c *CronCalendar) Clone() Calendar {
	out := *c
	return &out
}

type cronCalendarJSON struct {
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Location    string `json:"location"`
}

// MarshalJSON 实现 json.Marshaler。
func (c *CronCalendar) MarshalJSON() ([]byte, error) {
	return json.Marshal(cronCalendarJSON{
		Description: c.description,
		Expression:  c.expression,
		Location:    c.location.String(),
	})
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (c *CronCalendar) UnmarshalJSON(data []byte) error {
	var j cronCalendarJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	loc, err := loadLocation(j.Location)
	if err != nil {
		return fmt.Errorf("%w: location %q: %w", ErrInvalidCalendar, j.Location, err)
	}
	parsed, err := NewCronCalendar(j.Description, j.Expression, loc)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}
