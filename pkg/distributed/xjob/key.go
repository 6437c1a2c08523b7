package xjob

// DefaultGroup 未指定分组时使用的默认分组名。
const DefaultGroup = "DEFAULT"

// JobKey 作业标识。
//
// Name 在存储内全局唯一（不区分分组），Group 仅用于管理分组（批量暂停/恢复、枚举）。
type JobKey struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

// NewJobKey 创建默认分组下的作业标识。
func NewJobKey(name string) JobKey {
	return JobKey{Name: name, Group: DefaultGroup}
}

// NewJobKeyWithGroup 创建指定分组下的作业标识，空分组归入 [DefaultGroup]。
func NewJobKeyWithGroup(name, group string) JobKey {
	if group == "" {
		group = DefaultGroup
	}
	return JobKey{Name: name, Group: group}
}

// String 返回 "group.name" 形式。
func (k JobKey) String() string {
	return k.Group + "." + k.Name
}

// IsZero 报告是否为零值。
func (k JobKey) IsZero() bool {
	return k.Name == "" && k.Group == ""
}

// TriggerKey 触发器标识，语义同 [JobKey]。
type TriggerKey struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

// NewTriggerKey 创建默认分组下的触发器标识。
func NewTriggerKey(name string) TriggerKey {
	return TriggerKey{Name: name, Group: DefaultGroup}
}

// NewTriggerKeyWithGroup 创建指定分组下的触发器标识，空分组归入 [DefaultGroup]。
func NewTriggerKeyWithGroup(name, group string) TriggerKey {
	if group == "" {
		group = DefaultGroup
	}
	return TriggerKey{Name: name, Group: group}
}

// String 返回 "group.name" 形式。
func (k TriggerKey) String() string {
	return k.Group + "." + k.Name
}

// IsZero 报告是否为零值。
func (k TriggerKey) IsZero() bool {
	return k.Name == "" && k.Group == ""
}
