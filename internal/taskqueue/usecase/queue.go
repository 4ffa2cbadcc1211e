// Package usecase implements the durable task queue business logic.
package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/callsync/internal/database"
	apperrors "github.com/allisson/callsync/internal/errors"
	taskDomain "github.com/allisson/callsync/internal/taskqueue/domain"
)

// TaskRepository is the persistence interface for queued tasks.
type TaskRepository interface {
	Create(ctx context.Context, task *taskDomain.Task) error
	ClaimNext(ctx context.Context, now time.Time, leaseTimeout time.Duration) (*taskDomain.Task, error)
	Delete(ctx context.Context, id string) error
	Release(ctx context.Context, id string, visibleAt time.Time) error
	MoveToDLQ(ctx context.Context, id string, reason string) error
	ListDLQ(ctx context.Context, limit int) ([]*taskDomain.Task, error)
	RequeueFromDLQ(ctx context.Context, id string, now time.Time) error
	CountPending(ctx context.Context) (int64, error)
}

// EnqueueOptions tunes one enqueued task. Zero values take the queue
// defaults; lower priority numbers run first.
type EnqueueOptions struct {
	Priority        int
	CorrelationID   string
	MaxAttempts     int
	RetryBackoffSec int
	// Delay postpones the first execution.
	Delay time.Duration
}

// Queue enqueues durable background work and exposes DLQ tooling.
type Queue struct {
	txManager database.TxManager
	repo      TaskRepository
	logger    *slog.Logger
	now       func() time.Time
}

// NewQueue creates a new Queue.
func NewQueue(txManager database.TxManager, repo TaskRepository, logger *slog.Logger) *Queue {
	return &Queue{
		txManager: txManager,
		repo:      repo,
		logger:    logger,
		now:       time.Now,
	}
}

// Enqueue serializes data as JSON and inserts a pending task.
func (q *Queue) Enqueue(
	ctx context.Context,
	taskType string,
	data any,
	opts EnqueueOptions,
) (*taskDomain.Task, error) {
	if taskType == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "task type is required")
	}

	payload, err := encodePayload(data)
	if err != nil {
		return nil, err
	}

	if opts.Priority <= 0 {
		opts.Priority = taskDomain.DefaultPriority
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = taskDomain.DefaultMaxAttempts
	}
	if opts.RetryBackoffSec <= 0 {
		opts.RetryBackoffSec = taskDomain.DefaultRetryBackoffSec
	}

	var correlationID *string
	if opts.CorrelationID != "" {
		correlationID = &opts.CorrelationID
	}

	task := &taskDomain.Task{
		ID:              uuid.Must(uuid.NewV7()),
		TaskType:        taskType,
		TaskData:        payload,
		Priority:        opts.Priority,
		MaxAttempts:     opts.MaxAttempts,
		RetryBackoffSec: opts.RetryBackoffSec,
		VisibleAt:       q.now().Add(opts.Delay),
		CorrelationID:   correlationID,
	}

	if err := q.repo.Create(ctx, task); err != nil {
		return nil, err
	}

	if q.logger != nil {
		q.logger.Info("task enqueued",
			slog.String("task_id", task.ID.String()),
			slog.String("task_type", taskType),
			slog.Int("priority", task.Priority),
			slog.String("correlation_id", opts.CorrelationID),
		)
	}
	return task, nil
}

// ListDLQ returns dead-lettered tasks for operator inspection.
func (q *Queue) ListDLQ(ctx context.Context, limit int) ([]*taskDomain.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	return q.repo.ListDLQ(ctx, limit)
}

// RequeueFromDLQ returns a dead-lettered task to the pending pool.
func (q *Queue) RequeueFromDLQ(ctx context.Context, id string) error {
	if err := q.repo.RequeueFromDLQ(ctx, id, q.now()); err != nil {
		return err
	}
	if q.logger != nil {
		q.logger.Info("task requeued from dlq", slog.String("task_id", id))
	}
	return nil
}

// CountPending counts tasks not yet dead-lettered.
func (q *Queue) CountPending(ctx context.Context) (int64, error) {
	return q.repo.CountPending(ctx)
}

func encodePayload(data any) ([]byte, error) {
	switch value := data.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		if !json.Valid(value) {
			return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "task data is not valid json")
		}
		return value, nil
	case json.RawMessage:
		if !json.Valid(value) {
			return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "task data is not valid json")
		}
		return value, nil
	default:
		payload, err := json.Marshal(value)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "failed to encode task data")
		}
		return payload, nil
	}
}
