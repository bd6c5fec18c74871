package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"hostel-chat/internal/service"
	"hostel-chat/internal/tasks"
)

// RetentionRunner 执行一次保留运行，由 *service.RetentionService 实现
type RetentionRunner interface {
	RunScheduled(ctx context.Context) (*service.RunReport, error)
}

// RetentionHandler 处理定时和启动时的保留任务
type RetentionHandler struct {
	runner RetentionRunner
}

// NewRetentionHandler 创建 Handler 实例
func NewRetentionHandler(runner RetentionRunner) *RetentionHandler {
	if runner == nil {
		panic("RetentionRunner cannot be nil for RetentionHandler")
	}
	return &RetentionHandler{runner: runner}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *RetentionHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
	})

	payload, err := tasks.ParseRetentionRunPayload(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("trigger", payload.Trigger)
	logCtx.Info("Processing chat retention task...")

	report, err := h.runner.RunScheduled(ctx)
	if errors.Is(err, service.ErrRunInProgress) {
		logCtx.Info("Retention run already in progress, skipping this trigger")
		return nil
	}
	if err != nil {
		// 不重试，下一次定时触发会重新计算截止时间
		return fmt.Errorf("retention run failed: %v: %w", err, asynq.SkipRetry)
	}

	logCtx.WithFields(logrus.Fields{
		"run_id":     report.RunID,
		"candidates": report.Candidates,
		"purged":     report.Purged,
	}).Info("Chat retention task processed successfully")
	return nil
}
