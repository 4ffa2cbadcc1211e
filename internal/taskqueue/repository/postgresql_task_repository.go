// Package repository provides data persistence for the durable task queue.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/allisson/callsync/internal/database"
	apperrors "github.com/allisson/callsync/internal/errors"
	taskDomain "github.com/allisson/callsync/internal/taskqueue/domain"
)

const taskColumns = `id, task_type, task_data, priority, attempts, max_attempts, retry_backoff_sec,
	visible_at, reserved_at, dlq, error_reason, correlation_id, created_at`

// PostgreSQLTaskRepository handles task persistence for PostgreSQL.
type PostgreSQLTaskRepository struct {
	db *sql.DB
}

// NewPostgreSQLTaskRepository creates a new PostgreSQLTaskRepository.
func NewPostgreSQLTaskRepository(db *sql.DB) *PostgreSQLTaskRepository {
	return &PostgreSQLTaskRepository{db: db}
}

func scanTask(row interface{ Scan(dest ...any) error }) (*taskDomain.Task, error) {
	var task taskDomain.Task
	err := row.Scan(
		&task.ID,
		&task.TaskType,
		&task.TaskData,
		&task.Priority,
		&task.Attempts,
		&task.MaxAttempts,
		&task.RetryBackoffSec,
		&task.VisibleAt,
		&task.ReservedAt,
		&task.DLQ,
		&task.ErrorReason,
		&task.CorrelationID,
		&task.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Create inserts a new pending task.
func (r *PostgreSQLTaskRepository) Create(ctx context.Context, task *taskDomain.Task) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO async_tasks (id, task_type, task_data, priority, attempts, max_attempts,
			  retry_backoff_sec, visible_at, reserved_at, dlq, error_reason, correlation_id, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, FALSE, NULL, $9, NOW())`

	_, err := querier.ExecContext(
		ctx,
		query,
		task.ID,
		task.TaskType,
		task.TaskData,
		task.Priority,
		task.Attempts,
		task.MaxAttempts,
		task.RetryBackoffSec,
		task.VisibleAt,
		task.CorrelationID,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create task")
	}
	return nil
}

// ClaimNext atomically reserves the most urgent eligible task: not
// dead-lettered, visible, and either unreserved or held past the lease
// timeout. Claiming increments the attempt counter. Returns ErrNotFound
// when no task is eligible.
func (r *PostgreSQLTaskRepository) ClaimNext(
	ctx context.Context,
	now time.Time,
	leaseTimeout time.Duration,
) (*taskDomain.Task, error) {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE async_tasks
			  SET reserved_at = $1, attempts = attempts + 1
			  WHERE id = (SELECT id FROM async_tasks
			              WHERE dlq = FALSE AND visible_at <= $1
			                AND (reserved_at IS NULL OR reserved_at < $2)
			              ORDER BY priority ASC, id ASC
			              LIMIT 1
			              FOR UPDATE SKIP LOCKED)
			  RETURNING ` + taskColumns

	task, err := scanTask(querier.QueryRowContext(ctx, query, now, now.Add(-leaseTimeout)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to claim task")
	}
	return task, nil
}

// Delete removes a completed task.
func (r *PostgreSQLTaskRepository) Delete(ctx context.Context, id string) error {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM async_tasks WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, "failed to delete task")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to get affected rows")
	}
	if affected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Release clears the reservation and schedules the next attempt.
func (r *PostgreSQLTaskRepository) Release(ctx context.Context, id string, visibleAt time.Time) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE async_tasks SET reserved_at = NULL, visible_at = $1 WHERE id = $2`
	result, err := querier.ExecContext(ctx, query, visibleAt, id)
	if err != nil {
		return apperrors.Wrap(err, "failed to release task")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to get affected rows")
	}
	if affected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// MoveToDLQ dead-letters a task, preserving the failure reason.
func (r *PostgreSQLTaskRepository) MoveToDLQ(ctx context.Context, id string, reason string) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE async_tasks SET dlq = TRUE, error_reason = $1, reserved_at = NULL WHERE id = $2`
	result, err := querier.ExecContext(ctx, query, reason, id)
	if err != nil {
		return apperrors.Wrap(err, "failed to move task to dlq")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to get affected rows")
	}
	if affected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// ListDLQ returns dead-lettered tasks, newest first.
func (r *PostgreSQLTaskRepository) ListDLQ(ctx context.Context, limit int) ([]*taskDomain.Task, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + taskColumns + `
			  FROM async_tasks
			  WHERE dlq = TRUE
			  ORDER BY created_at DESC
			  LIMIT $1`

	rows, err := querier.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list dlq tasks")
	}
	defer rows.Close() //nolint:errcheck

	var tasks []*taskDomain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate dlq tasks")
	}
	return tasks, nil
}

// RequeueFromDLQ returns a dead-lettered task to the pending pool with a
// fresh attempt budget.
func (r *PostgreSQLTaskRepository) RequeueFromDLQ(ctx context.Context, id string, now time.Time) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE async_tasks
			  SET dlq = FALSE, attempts = 0, error_reason = NULL, reserved_at = NULL, visible_at = $1
			  WHERE id = $2 AND dlq = TRUE`

	result, err := querier.ExecContext(ctx, query, now, id)
	if err != nil {
		return apperrors.Wrap(err, "failed to requeue task")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to get affected rows")
	}
	if affected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// CountPending counts tasks eligible for execution now or in the future.
func (r *PostgreSQLTaskRepository) CountPending(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx, `SELECT COUNT(*) FROM async_tasks WHERE dlq = FALSE`).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count pending tasks")
	}
	return count, nil
}
