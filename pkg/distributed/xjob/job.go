package xjob

// JobDetail 作业元数据。
//
// 存储层拥有其副本：写入与读取都会 Clone，调用方修改不会影响已持久化状态。
type JobDetail struct {
	Key         JobKey `json:"key"`
	Description string `json:"description,omitempty"`

	// JobType 可执行作业的类型标识，对存储层不透明，由调度引擎解释。
	JobType string `json:"jobType,omitempty"`

	// Durable 为 false 时，最后一个触发器被删除后作业自动删除。
	Durable bool `json:"durable"`

	// ConcurrentExecutionDisallowed 为 true 时同一作业不允许并发执行，
	// 触发期间其他触发器进入 BLOCKED。
	ConcurrentExecutionDisallowed bool `json:"concurrentExecutionDisallowed"`

	// PersistJobDataAfterExecution 为 true 时执行完成后重新存储作业（保存 JobData 变更）。
	PersistJobDataAfterExecution bool `json:"persistJobDataAfterExecution"`

	// RequestsRecovery 节点崩溃后是否希望重新执行，由调度引擎使用。
	RequestsRecovery bool `json:"requestsRecovery"`

	JobData JobDataMap `json:"jobData"`
}

// NewJobDetail 创建作业元数据。
func NewJobDetail(key JobKey, jobType string) *JobDetail {
	return &JobDetail{Key: key, JobType: jobType}
}

// Clone 深拷贝。
func (j *JobDetail) Clone() *JobDetail {
	if j == nil {
		return nil
	}
	c := *j
	c.JobData = j.JobData.Clone()
	return &c
}
