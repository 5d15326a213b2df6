package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"listing-studio-backend/internal/logger"
	"listing-studio-backend/internal/models"
	"listing-studio-backend/internal/services"
)

const (
	minRetryDelay = 10 * time.Second
	maxRetryDelay = 5 * time.Minute
)

// Runner executes job bodies. *services.Pipeline implements it.
type Runner interface {
	RunGenerate(ctx context.Context, payload models.GeneratePayload) error
	RunEdit(ctx context.Context, payload models.EditPayload) error
	// Reject fails the image of a job whose payload cannot run.
	Reject(ctx context.Context, imageID uuid.UUID, cause error) error
}

var _ Runner = (*services.Pipeline)(nil)

// Worker runs the image job handlers. Call Run to start.
type Worker struct {
	srv *asynq.Server
	mux *asynq.ServeMux
	log zerolog.Logger
}

func NewWorker(redisOpt asynq.RedisConnOpt, concurrency int, runner Runner, log zerolog.Logger) *Worker {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    concurrency,
		Queues:         map[string]int{Queue: 1},
		Logger:         logger.NewAsynqLogger(log),
		LogLevel:       asynq.InfoLevel,
		RetryDelayFunc: RetryDelay,
		IsFailure:      IsFailure,
	})
	return &Worker{srv: srv, mux: NewServeMux(runner, log), log: log}
}

// NewServeMux routes both job types to runner.
func NewServeMux(runner Runner, log zerolog.Logger) *asynq.ServeMux {
	h := &handler{runner: runner, validate: validator.New(), log: log.With().Str("component", "worker").Logger()}
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGenerate, h.handleGenerate)
	mux.HandleFunc(TypeEdit, h.handleEdit)
	return mux
}

// Run blocks until shutdown.
func (w *Worker) Run() error {
	return w.srv.Run(w.mux)
}

// Shutdown waits for in-flight attempts up to asynq's shutdown timeout.
func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

// IsFinalAttempt reports whether asynq will not redeliver the task running in ctx.
// Outside a task it reports true.
func IsFinalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

// RetryDelay doubles from ten seconds, capped at five minutes.
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	delay := minRetryDelay
	for i := 0; i < n && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// IsFailure keeps jobs for terminal images out of asynq's failure stats.
func IsFailure(err error) bool {
	return !errors.Is(err, models.ErrImageTerminal)
}

type handler struct {
	runner   Runner
	validate *validator.Validate
	log      zerolog.Logger
}

func (h *handler) handleGenerate(ctx context.Context, t *asynq.Task) error {
	var p models.GeneratePayload
	if err := h.decode(t, &p); err != nil {
		return h.reject(ctx, p.ImageID, err)
	}
	start := time.Now()
	err := h.runner.RunGenerate(ctx, p)
	return h.observe(ctx, t.Type(), start, err)
}

func (h *handler) handleEdit(ctx context.Context, t *asynq.Task) error {
	var p models.EditPayload
	if err := h.decode(t, &p); err != nil {
		return h.reject(ctx, p.TargetImageID, err)
	}
	start := time.Now()
	err := h.runner.RunEdit(ctx, p)
	return h.observe(ctx, t.Type(), start, err)
}

// decode rejects malformed payloads without retry.
func (h *handler) decode(t *asynq.Task, v interface{}) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		h.log.Error().Err(err).Str("task_type", t.Type()).Msg("task payload invalid")
		jobsProcessed.WithLabelValues(t.Type(), "invalid").Inc()
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if err := h.validate.Struct(v); err != nil {
		h.log.Error().Err(err).Str("task_type", t.Type()).Msg("task payload failed validation")
		jobsProcessed.WithLabelValues(t.Type(), "invalid").Inc()
		return fmt.Errorf("validate %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

// reject fails the target row when the payload still names one, so it does
// not stay PENDING. err is returned either way.
func (h *handler) reject(ctx context.Context, imageID uuid.UUID, err error) error {
	if imageID == uuid.Nil {
		return err
	}
	if rerr := h.runner.Reject(ctx, imageID, err); rerr != nil {
		h.log.Error().Err(rerr).Str("image_id", imageID.String()).Msg("failed to reject image")
	}
	return err
}

// observe records the attempt outcome and stops retries that cannot succeed.
func (h *handler) observe(ctx context.Context, taskType string, start time.Time, err error) error {
	jobDuration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
	if err != nil {
		retried, _ := asynq.GetRetryCount(ctx)
		taskID, _ := asynq.GetTaskID(ctx)
		h.log.Warn().Err(err).
			Str("task_type", taskType).
			Str("task_id", taskID).
			Int("attempt", retried+1).
			Bool("final", IsFinalAttempt(ctx)).
			Msg("task attempt failed")
	}
	switch {
	case err == nil:
		jobsProcessed.WithLabelValues(taskType, "completed").Inc()
		return nil
	case errors.Is(err, models.ErrImageTerminal):
		jobsProcessed.WithLabelValues(taskType, "skipped").Inc()
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	case services.IsPermanent(err):
		jobsProcessed.WithLabelValues(taskType, "failed").Inc()
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		jobsProcessed.WithLabelValues(taskType, "error").Inc()
		return err
	}
}
