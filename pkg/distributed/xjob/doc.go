// Package xjob 定义集群作业存储使用的领域模型：作业、触发器、日历与分组匹配。
//
// # 核心概念
//
//   - [JobKey] / [TriggerKey]: (name, group) 复合标识，group 仅用于管理分组
//   - [JobDetail]: 作业元数据（持久化、禁止并发、执行后持久化数据等标志）
//   - [Trigger]: 产生连续触发时间的调度规则，内置 [SimpleTrigger] 与 [CronTrigger]
//   - [Calendar]: 命名的排除日历，内置 [HolidayCalendar]、[DailyCalendar]、[CronCalendar]
//   - [GroupMatcher]: 按分组名批量选择作业/触发器
//
// # 复制语义
//
// 所有可变对象都提供 Clone（深拷贝）。存储层在写入和读取时都会复制，
// 调用方修改返回值不会影响已持久化的状态。
//
// # 序列化
//
// 触发器和日历是接口类型，通过 kind 注册表序列化为 JSON 信封：
//
//	{"kind": "simple", "data": {...}}
//
// 自定义触发器需调用 [RegisterTriggerKind] 注册，自定义日历调用 [RegisterCalendarKind]。
// JobDataMap 经 JSON 往返后数值类型统一为 float64，建议只存放字符串、布尔、数值和嵌套 map/slice。
//
// # 时间约定
//
// 所有时间在写入触发器时归一化为 UTC，零值表示"无"（无结束时间、已耗尽等）。
package xjob
