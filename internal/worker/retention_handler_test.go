package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"hostel-chat/internal/service"
	"hostel-chat/internal/tasks"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunScheduled(ctx context.Context) (*service.RunReport, error) {
	ret := m.Called(ctx)
	var r0 *service.RunReport
	if v := ret.Get(0); v != nil {
		r0 = v.(*service.RunReport)
	}
	return r0, ret.Error(1)
}

func newRetentionTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := tasks.NewRetentionRunTask(tasks.TriggerScheduled)
	require.NoError(t, err)
	return task
}

func TestRetentionHandler_Success(t *testing.T) {
	runner := new(mockRunner)
	ctx := context.Background()
	runner.On("RunScheduled", ctx).Return(&service.RunReport{RunID: "r1", Candidates: 2, Purged: 2}, nil).Once()

	err := NewRetentionHandler(runner).ProcessTask(ctx, newRetentionTask(t))

	assert.NoError(t, err)
	runner.AssertExpectations(t)
}

func TestRetentionHandler_SkipsWhenRunInProgress(t *testing.T) {
	runner := new(mockRunner)
	ctx := context.Background()
	runner.On("RunScheduled", ctx).Return(nil, service.ErrRunInProgress).Once()

	err := NewRetentionHandler(runner).ProcessTask(ctx, newRetentionTask(t))

	assert.NoError(t, err, "重叠的触发应被跳过而不是失败")
}

func TestRetentionHandler_FailureIsNotRetried(t *testing.T) {
	runner := new(mockRunner)
	ctx := context.Background()
	runner.On("RunScheduled", ctx).Return(nil, service.ErrStoreUnavailable).Once()

	err := NewRetentionHandler(runner).ProcessTask(ctx, newRetentionTask(t))

	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "失败的运行由下一次定时触发补上")
}

func TestRetentionHandler_BadPayload(t *testing.T) {
	runner := new(mockRunner)

	err := NewRetentionHandler(runner).ProcessTask(context.Background(), asynq.NewTask(tasks.TypeRetentionRun, []byte("{")))

	assert.True(t, errors.Is(err, asynq.SkipRetry))
	runner.AssertNotCalled(t, "RunScheduled", mock.Anything)
}
