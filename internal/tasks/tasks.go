// Package tasks carries the Generate and Edit jobs over asynq.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"listing-studio-backend/internal/models"
)

const (
	TypeGenerate = "image:generate"
	TypeEdit     = "image:edit"

	// Queue is the asynq queue both job types run on.
	Queue = "images"
)

// Enqueuer submits image jobs. Submitting a job whose id is already queued
// or running is not an error.
type Enqueuer interface {
	EnqueueGenerate(ctx context.Context, payload models.GeneratePayload) error
	EnqueueEdit(ctx context.Context, payload models.EditPayload) error
}

type Options struct {
	MaxRetry int
	Timeout  time.Duration
}

type AsynqEnqueuer struct {
	client *asynq.Client
	opts   Options
	log    zerolog.Logger
}

func NewAsynqEnqueuer(redisOpt asynq.RedisConnOpt, opts Options, log zerolog.Logger) *AsynqEnqueuer {
	return &AsynqEnqueuer{
		client: asynq.NewClient(redisOpt),
		opts:   opts,
		log:    log.With().Str("component", "enqueuer").Logger(),
	}
}

func (q *AsynqEnqueuer) Close() error {
	return q.client.Close()
}

func (q *AsynqEnqueuer) EnqueueGenerate(ctx context.Context, payload models.GeneratePayload) error {
	task, err := NewGenerateTask(payload)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task, GenerateTaskID(payload.ImageID.String()))
}

func (q *AsynqEnqueuer) EnqueueEdit(ctx context.Context, payload models.EditPayload) error {
	task, err := NewEditTask(payload)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task, EditTaskID(payload.TargetImageID.String()))
}

func (q *AsynqEnqueuer) enqueue(ctx context.Context, task *asynq.Task, taskID string) error {
	opts := []asynq.Option{
		asynq.TaskID(taskID),
		asynq.Queue(Queue),
		asynq.MaxRetry(q.opts.MaxRetry),
	}
	if q.opts.Timeout > 0 {
		opts = append(opts, asynq.Timeout(q.opts.Timeout))
	}

	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		q.log.Debug().Str("task_id", taskID).Msg("task already enqueued")
		return nil
	}
	if err != nil {
		q.log.Warn().Err(err).Str("task_id", taskID).Str("task_type", task.Type()).Msg("enqueue failed")
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}

	jobsEnqueued.WithLabelValues(task.Type()).Inc()
	q.log.Info().Str("task_id", info.ID).Str("task_type", task.Type()).Str("queue", info.Queue).Msg("task enqueued")
	return nil
}

func GenerateTaskID(imageID string) string   { return "generate:" + imageID }
func EditTaskID(targetImageID string) string { return "edit:" + targetImageID }

func NewGenerateTask(payload models.GeneratePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal generate payload: %w", err)
	}
	return asynq.NewTask(TypeGenerate, body), nil
}

func NewEditTask(payload models.EditPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal edit payload: %w", err)
	}
	return asynq.NewTask(TypeEdit, body), nil
}

// NoopEnqueuer drops jobs. Used when no job runtime is configured.
type NoopEnqueuer struct {
	log zerolog.Logger
}

func NewNoopEnqueuer(log zerolog.Logger) *NoopEnqueuer {
	return &NoopEnqueuer{log: log}
}

func (n *NoopEnqueuer) EnqueueGenerate(_ context.Context, payload models.GeneratePayload) error {
	n.log.Warn().Str("image_id", payload.ImageID.String()).Msg("job runtime disabled, generate dropped")
	return nil
}

func (n *NoopEnqueuer) EnqueueEdit(_ context.Context, payload models.EditPayload) error {
	n.log.Warn().Str("image_id", payload.TargetImageID.String()).Msg("job runtime disabled, edit dropped")
	return nil
}

var (
	_ Enqueuer = (*AsynqEnqueuer)(nil)
	_ Enqueuer = (*NoopEnqueuer)(nil)
)
