package tasks_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"listing-studio-backend/internal/models"
	"listing-studio-backend/internal/services"
	"listing-studio-backend/internal/tasks"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunGenerate(ctx context.Context, payload models.GeneratePayload) error {
	return m.Called(payload).Error(0)
}

func (m *mockRunner) RunEdit(ctx context.Context, payload models.EditPayload) error {
	return m.Called(payload).Error(0)
}

func (m *mockRunner) Reject(ctx context.Context, imageID uuid.UUID, cause error) error {
	return m.Called(imageID, cause).Error(0)
}

func TestServeMux_GenerateSuccess(t *testing.T) {
	runner := &mockRunner{}
	payload := models.GeneratePayload{ImageID: uuid.New()}
	runner.On("RunGenerate", payload).Return(nil).Once()

	task, err := tasks.NewGenerateTask(payload)
	require.NoError(t, err)

	mux := tasks.NewServeMux(runner, zerolog.Nop())
	assert.NoError(t, mux.ProcessTask(context.Background(), task))
	runner.AssertExpectations(t)
}

func TestServeMux_TransientErrorIsRetried(t *testing.T) {
	runner := &mockRunner{}
	payload := models.GeneratePayload{ImageID: uuid.New()}
	transient := errors.New("provider timeout")
	runner.On("RunGenerate", payload).Return(transient)

	task, _ := tasks.NewGenerateTask(payload)
	err := tasks.NewServeMux(runner, zerolog.Nop()).ProcessTask(context.Background(), task)

	assert.ErrorIs(t, err, transient)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestServeMux_PermanentErrorSkipsRetry(t *testing.T) {
	runner := &mockRunner{}
	payload := models.EditPayload{
		SourceImageID: uuid.New(),
		TargetImageID: uuid.New(),
		Prompt:        "remove the chair",
		Mode:          models.EditModeRemove,
	}
	runner.On("RunEdit", payload).Return(services.ErrMissingMask)

	task, _ := tasks.NewEditTask(payload)
	err := tasks.NewServeMux(runner, zerolog.Nop()).ProcessTask(context.Background(), task)

	assert.ErrorIs(t, err, services.ErrMissingMask)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestServeMux_TerminalImageSkipsRetry(t *testing.T) {
	runner := &mockRunner{}
	payload := models.GeneratePayload{ImageID: uuid.New()}
	runner.On("RunGenerate", payload).Return(fmt.Errorf("image %s: %w", payload.ImageID, models.ErrImageTerminal))

	task, _ := tasks.NewGenerateTask(payload)
	err := tasks.NewServeMux(runner, zerolog.Nop()).ProcessTask(context.Background(), task)

	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.False(t, tasks.IsFailure(err))
}

func TestServeMux_InvalidPayload(t *testing.T) {
	runner := &mockRunner{}
	mux := tasks.NewServeMux(runner, zerolog.Nop())

	tests := []struct {
		name string
		task *asynq.Task
	}{
		{"malformed json", asynq.NewTask(tasks.TypeGenerate, []byte("{not json"))},
		{"missing image id", asynq.NewTask(tasks.TypeGenerate, []byte(`{}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mux.ProcessTask(context.Background(), tt.task)
			assert.ErrorIs(t, err, asynq.SkipRetry)
		})
	}
	runner.AssertNotCalled(t, "RunGenerate", mock.Anything)
	runner.AssertNotCalled(t, "Reject", mock.Anything, mock.Anything)
}

func TestServeMux_InvalidPayloadFailsNamedImage(t *testing.T) {
	runner := &mockRunner{}
	targetID := uuid.New()
	runner.On("Reject", targetID, mock.Anything).Return(nil).Once()

	task := asynq.NewTask(tasks.TypeEdit, []byte(fmt.Sprintf(
		`{"sourceImageId":%q,"targetImageId":%q,"prompt":"x","mode":"paint"}`, uuid.New(), targetID)))
	err := tasks.NewServeMux(runner, zerolog.Nop()).ProcessTask(context.Background(), task)

	assert.ErrorIs(t, err, asynq.SkipRetry)
	runner.AssertExpectations(t)
	runner.AssertNotCalled(t, "RunEdit", mock.Anything)
}

func TestServeMux_RejectErrorStillSkipsRetry(t *testing.T) {
	runner := &mockRunner{}
	imageID := uuid.New()
	runner.On("Reject", imageID, mock.Anything).Return(errors.New("db down")).Once()

	task := asynq.NewTask(tasks.TypeEdit, []byte(fmt.Sprintf(`{"targetImageId":%q}`, imageID)))
	err := tasks.NewServeMux(runner, zerolog.Nop()).ProcessTask(context.Background(), task)

	assert.ErrorIs(t, err, asynq.SkipRetry)
	runner.AssertExpectations(t)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 10*time.Second, tasks.RetryDelay(0, nil, nil))
	assert.Equal(t, 20*time.Second, tasks.RetryDelay(1, nil, nil))
	assert.Equal(t, 40*time.Second, tasks.RetryDelay(2, nil, nil))
	assert.Equal(t, 5*time.Minute, tasks.RetryDelay(10, nil, nil))
}

func TestIsFinalAttempt_OutsideTask(t *testing.T) {
	assert.True(t, tasks.IsFinalAttempt(context.Background()))
}

func TestIsFailure(t *testing.T) {
	assert.True(t, tasks.IsFailure(errors.New("boom")))
	assert.False(t, tasks.IsFailure(models.ErrImageTerminal))
}
