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

// MySQLTaskRepository handles task persistence for MySQL.
type MySQLTaskRepository struct {
	db *sql.DB
}

// NewMySQLTaskRepository creates a new MySQLTaskRepository.
func NewMySQLTaskRepository(db *sql.DB) *MySQLTaskRepository {
	return &MySQLTaskRepository{db: db}
}

// Create inserts a new pending task.
func (r *MySQLTaskRepository) Create(ctx context.Context, task *taskDomain.Task) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO async_tasks (id, task_type, task_data, priority, attempts, max_attempts,
			  retry_backoff_sec, visible_at, reserved_at, dlq, error_reason, correlation_id, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, FALSE, NULL, ?, NOW())`

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

// ClaimNext reserves the most urgent eligible task. MySQL has no
// UPDATE ... RETURNING, so the claim is a locked select followed by an
// update; callers must run it inside a transaction for the row lock to
// cover both statements.
func (r *MySQLTaskRepository) ClaimNext(
	ctx context.Context,
	now time.Time,
	leaseTimeout time.Duration,
) (*taskDomain.Task, error) {
	querier := database.GetTx(ctx, r.db)

	selectQuery := `SELECT ` + taskColumns + `
			  FROM async_tasks
			  WHERE dlq = FALSE AND visible_at <= ?
			    AND (reserved_at IS NULL OR reserved_at < ?)
			  ORDER BY priority ASC, id ASC
			  LIMIT 1
			  FOR UPDATE SKIP LOCKED`

	task, err := scanTask(querier.QueryRowContext(ctx, selectQuery, now, now.Add(-leaseTimeout)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to select task for claim")
	}

	updateQuery := `UPDATE async_tasks SET reserved_at = ?, attempts = attempts + 1 WHERE id = ?`
	if _, err := querier.ExecContext(ctx, updateQuery, now, task.ID); err != nil {
		return nil, apperrors.Wrap(err, "failed to reserve task")
	}

	reservedAt := now
	task.ReservedAt = &reservedAt
	task.Attempts++
	return task, nil
}

// Delete removes a completed task.
func (r *MySQLTaskRepository) Delete(ctx context.Context, id string) error {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM async_tasks WHERE id = ?`, id)
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
func (r *MySQLTaskRepository) Release(ctx context.Context, id string, visibleAt time.Time) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE async_tasks SET reserved_at = NULL, visible_at = ? WHERE id = ?`
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
func (r *MySQLTaskRepository) MoveToDLQ(ctx context.Context, id string, reason string) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE async_tasks SET dlq = TRUE, error_reason = ?, reserved_at = NULL WHERE id = ?`
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
func (r *MySQLTaskRepository) ListDLQ(ctx context.Context, limit int) ([]*taskDomain.Task, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + taskColumns + `
			  FROM async_tasks
			  WHERE dlq = TRUE
			  ORDER BY created_at DESC
			  LIMIT ?`

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
func (r *MySQLTaskRepository) RequeueFromDLQ(ctx context.Context, id string, now time.Time) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE async_tasks
			  SET dlq = FALSE, attempts = 0, error_reason = NULL, reserved_at = NULL, visible_at = ?
			  WHERE id = ? AND dlq = TRUE`

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
func (r *MySQLTaskRepository) CountPending(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx, `SELECT COUNT(*) FROM async_tasks WHERE dlq = FALSE`).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count pending tasks")
	}
	return count, nil
}
