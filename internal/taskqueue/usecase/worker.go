package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/allisson/callsync/internal/database"
	apperrors "github.com/allisson/callsync/internal/errors"
	"github.com/allisson/callsync/internal/metrics"
	taskDomain "github.com/allisson/callsync/internal/taskqueue/domain"
)

// Handler processes one task. A returned error triggers the retry path; an
// error wrapping ErrNonRetryable dead-letters the task immediately.
type Handler interface {
	Handle(ctx context.Context, task *taskDomain.Task) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *taskDomain.Task) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, task *taskDomain.Task) error {
	return f(ctx, task)
}

// Registry maps task types to handlers. It is populated once at startup and
// read-only afterwards, so no locking is needed.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a task type, replacing any previous binding.
func (r *Registry) Register(taskType string, handler Handler) {
	r.handlers[taskType] = handler
}

// Resolve returns the handler for a task type.
func (r *Registry) Resolve(taskType string) (Handler, bool) {
	handler, ok := r.handlers[taskType]
	return handler, ok
}

// WorkerConfig tunes the polling loop.
type WorkerConfig struct {
	// PollInterval is the idle sleep between empty polls.
	PollInterval time.Duration
	// LeaseTimeout bounds how long a claim blocks other workers. A worker
	// that dies mid-task loses its claim after this long.
	LeaseTimeout time.Duration
}

// Worker is a single-threaded polling loop over the task queue. Run several
// workers for parallelism; they coordinate only through the claim query.
type Worker struct {
	config    WorkerConfig
	txManager database.TxManager
	repo      TaskRepository
	registry  *Registry
	metrics   metrics.BusinessMetrics
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewWorker creates a new Worker.
func NewWorker(
	config WorkerConfig,
	txManager database.TxManager,
	repo TaskRepository,
	registry *Registry,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
) *Worker {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.LeaseTimeout <= 0 {
		config.LeaseTimeout = 60 * time.Second
	}
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}
	return &Worker{
		config:    config,
		txManager: txManager,
		repo:      repo,
		registry:  registry,
		metrics:   businessMetrics,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Start polls until ctx is cancelled. It returns ctx.Err() on shutdown.
func (w *Worker) Start(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		processed, err := w.RunOnce(ctx)
		if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			if w.logger != nil {
				w.logger.Error("task poll failed", slog.Any("error", err))
			}
		}
		if processed {
			continue
		}

		if err := w.sleep(ctx, w.config.PollInterval); err != nil {
			return err
		}
	}
}

// RunOnce claims and processes at most one task. It reports whether a task
// was claimed; ErrNotFound means the queue was empty.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	var task *taskDomain.Task
	err := w.txManager.WithTx(ctx, func(ctx context.Context) error {
		claimed, err := w.repo.ClaimNext(ctx, w.now(), w.config.LeaseTimeout)
		if err != nil {
			return err
		}
		task = claimed
		return nil
	})
	if err != nil {
		return false, err
	}

	w.process(ctx, task)
	return true, nil
}

// process runs the handler and applies the resulting state transition.
// Handler errors never propagate; they become a release, or a DLQ move when
// the attempt budget is spent or the error is marked non-retryable.
func (w *Worker) process(ctx context.Context, task *taskDomain.Task) {
	start := w.now()

	handler, ok := w.registry.Resolve(task.TaskType)
	if !ok {
		w.finishFailure(ctx, task, "no handler registered for task type", true)
		w.record(ctx, task, "dlq", start)
		return
	}

	handlerErr := handler.Handle(ctx, task)
	if handlerErr == nil {
		if err := w.repo.Delete(ctx, task.ID.String()); err != nil && w.logger != nil {
			w.logger.Error("failed to delete completed task",
				slog.String("task_id", task.ID.String()),
				slog.Any("error", err),
			)
		}
		if w.logger != nil {
			w.logger.Info("task completed",
				slog.String("task_id", task.ID.String()),
				slog.String("task_type", task.TaskType),
				slog.Int("attempts", task.Attempts),
				slog.Duration("elapsed", w.now().Sub(start)),
			)
		}
		w.record(ctx, task, "success", start)
		return
	}

	nonRetryable := apperrors.Is(handlerErr, apperrors.ErrNonRetryable)
	if nonRetryable || task.Exhausted() {
		w.finishFailure(ctx, task, handlerErr.Error(), nonRetryable)
		w.record(ctx, task, "dlq", start)
		return
	}

	visibleAt := task.NextVisibleAt(w.now())
	if err := w.repo.Release(ctx, task.ID.String(), visibleAt); err != nil && w.logger != nil {
		w.logger.Error("failed to release task for retry",
			slog.String("task_id", task.ID.String()),
			slog.Any("error", err),
		)
	}
	if w.logger != nil {
		w.logger.Warn("task failed, scheduled for retry",
			slog.String("task_id", task.ID.String()),
			slog.String("task_type", task.TaskType),
			slog.Int("attempts", task.Attempts),
			slog.Int("max_attempts", task.MaxAttempts),
			slog.Time("visible_at", visibleAt),
			slog.Any("error", handlerErr),
		)
	}
	w.record(ctx, task, "retry", start)
}

func (w *Worker) finishFailure(ctx context.Context, task *taskDomain.Task, reason string, nonRetryable bool) {
	if err := w.repo.MoveToDLQ(ctx, task.ID.String(), reason); err != nil && w.logger != nil {
		w.logger.Error("failed to move task to dlq",
			slog.String("task_id", task.ID.String()),
			slog.Any("error", err),
		)
	}
	if w.logger != nil {
		w.logger.Error("task dead-lettered",
			slog.String("task_id", task.ID.String()),
			slog.String("task_type", task.TaskType),
			slog.Int("attempts", task.Attempts),
			slog.Bool("non_retryable", nonRetryable),
			slog.String("reason", reason),
		)
	}
}

func (w *Worker) record(ctx context.Context, task *taskDomain.Task, outcome string, start time.Time) {
	w.metrics.RecordOperation(ctx, "taskqueue", task.TaskType, outcome)
	w.metrics.RecordDuration(ctx, "taskqueue", task.TaskType, w.now().Sub(start), outcome)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
