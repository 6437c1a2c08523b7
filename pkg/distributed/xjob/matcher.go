package xjob

import "strings"

// MatchOperator 分组匹配方式。
type MatchOperator int

const (
	// MatchEquals 分组名完全相等。
	MatchEquals MatchOperator = iota
	// MatchStartsWith 分组名前缀。
	MatchStartsWith
	// MatchEndsWith 分组名后缀。
	MatchEndsWith
	// MatchContains 分组名包含。
	MatchContains
	// MatchAny 匹配任意分组。
	MatchAny
)

// String 返回操作符名。
func (o MatchOperator) String() string {
	switch o {
	case MatchEquals:
		return "EQUALS"
	case MatchStartsWith:
		return "STARTS_WITH"
	case MatchEndsWith:
		return "ENDS_WITH"
	case MatchContains:
		return "CONTAINS"
	case MatchAny:
		return "ANYTHING"
	default:
		return "UNKNOWN"
	}
}

// GroupMatcher 按分组名选择作业或触发器。
type GroupMatcher struct {
	Operator MatchOperator
	Value    string
}

// GroupEquals 匹配名称为 group 的分组。
func GroupEquals(group string) GroupMatcher {
	return GroupMatcher{Operator: MatchEquals, Value: group}
}

// GroupStartsWith 匹配以 prefix 开头的分组。
func GroupStartsWith(prefix string) GroupMatcher {
	return GroupMatcher{Operator: MatchStartsWith, Value: prefix}
}

// GroupEndsWith 匹配以 suffix 结尾的分组。
func GroupEndsWith(suffix string) GroupMatcher {
	return GroupMatcher{Operator: MatchEndsWith, Value: suffix}
}

// GroupContains 匹配包含 sub 的分组。
func GroupContains(sub string) GroupMatcher {
	return GroupMatcher{Operator: MatchContains, Value: sub}
}

// AnyGroup 匹配所有分组。
func AnyGroup() GroupMatcher {
	return GroupMatcher{Operator: MatchAny}
}

// IsMatch 报告 group 是否匹配。
func (m GroupMatcher) IsMatch(group string) bool {
	switch m.Operator {
	case MatchEquals:
		return group == m.Value
	case MatchStartsWith:
		return strings.HasPrefix(group, m.Value)
	case MatchEndsWith:
		return strings.HasSuffix(group, m.Value)
	case MatchContains:
		return strings.Contains(group, m.Value)
	case MatchAny:
		return true
	default:
		return false
	}
}

// IsEquals 报告是否为精确匹配。精确匹配在暂停时即使分组尚无成员也会记入暂停集合。
func (m GroupMatcher) IsEquals() bool {
	return m.Operator == MatchEquals
}

// String 返回 "OPERATOR 'value'" 形式。
func (m GroupMatcher) String() string {
	return m.Operator.String() + " '" + m.Value + "'"
}
