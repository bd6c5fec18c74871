package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型常量
const (
	TypeRetentionRun = "chat:retention" // 聊天记录保留/备份/清理任务
)

// 触发来源
const (
	TriggerStartup   = "startup"
	TriggerScheduled = "scheduled"
)

// 单次保留任务的最长执行时间
const retentionTimeout = time.Hour

// RetentionRunPayload 定义了保留任务的数据结构
type RetentionRunPayload struct {
	Trigger string `json:"trigger"`
}

// NewRetentionRunTask 创建一个保留任务。失败不重试，由下一次定时触发补上。
func NewRetentionRunTask(trigger string) (*asynq.Task, error) {
	payload, err := json.Marshal(RetentionRunPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRetentionRun, payload,
		asynq.MaxRetry(0),
		asynq.Timeout(retentionTimeout),
	), nil
}

// ParseRetentionRunPayload 解析任务负载
func ParseRetentionRunPayload(t *asynq.Task) (RetentionRunPayload, error) {
	var p RetentionRunPayload
	err := json.Unmarshal(t.Payload(), &p)
	return p, err
}
