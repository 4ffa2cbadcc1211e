package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/callsync/internal/errors"
	taskDomain "github.com/allisson/callsync/internal/taskqueue/domain"
	"github.com/allisson/callsync/internal/testutil"
)

var taskColumnNames = []string{
	"id", "task_type", "task_data", "priority", "attempts", "max_attempts", "retry_backoff_sec",
	"visible_at", "reserved_at", "dlq", "error_reason", "correlation_id", "created_at",
}

func TestPostgreSQLTaskRepository_ClaimNext(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	repo := NewPostgreSQLTaskRepository(db)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	taskID := uuid.Must(uuid.NewV7())

	rows := sqlmock.NewRows(taskColumnNames).AddRow(
		taskID.String(), "transcription", []byte(`{"call_id":"c1"}`), 5, 1, 3, 60,
		now, now, false, nil, nil, now,
	)

	// The claim selects the most urgent eligible row with SKIP LOCKED and
	// reserves it in the same statement.
	dbMock.ExpectQuery(regexp.QuoteMeta("UPDATE async_tasks")).
		WithArgs(now, now.Add(-60*time.Second)).
		WillReturnRows(rows)

	task, err := repo.ClaimNext(context.Background(), now, 60*time.Second)
	require.NoError(t, err)

	assert.Equal(t, taskID, task.ID)
	assert.Equal(t, "transcription", task.TaskType)
	assert.Equal(t, 1, task.Attempts)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestPostgreSQLTaskRepository_ClaimNextEmpty(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	repo := NewPostgreSQLTaskRepository(db)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	dbMock.ExpectQuery(regexp.QuoteMeta("UPDATE async_tasks")).
		WithArgs(now, now.Add(-60*time.Second)).
		WillReturnRows(sqlmock.NewRows(taskColumnNames))

	_, err = repo.ClaimNext(context.Background(), now, 60*time.Second)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPostgreSQLTaskRepository_DeleteMissing(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	repo := NewPostgreSQLTaskRepository(db)

	dbMock.ExpectExec(regexp.QuoteMeta("DELETE FROM async_tasks")).
		WithArgs("task-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.Delete(context.Background(), "task-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPostgreSQLTaskRepository_MoveToDLQ(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	repo := NewPostgreSQLTaskRepository(db)

	dbMock.ExpectExec(regexp.QuoteMeta("UPDATE async_tasks SET dlq = TRUE")).
		WithArgs("boom", "task-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.MoveToDLQ(context.Background(), "task-1", "boom")
	assert.NoError(t, err)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestPostgreSQLTaskRepository_Create(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	repo := NewPostgreSQLTaskRepository(db)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	task := &taskDomain.Task{
		ID:              uuid.Must(uuid.NewV7()),
		TaskType:        "crm_sync",
		TaskData:        []byte(`{"deal_id":1}`),
		Priority:        5,
		MaxAttempts:     3,
		RetryBackoffSec: 60,
		VisibleAt:       now,
	}

	dbMock.ExpectExec(regexp.QuoteMeta("INSERT INTO async_tasks")).
		WithArgs(task.ID, task.TaskType, task.TaskData, task.Priority, 0, 3, 60, now, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Create(context.Background(), task)
	assert.NoError(t, err)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func newPendingTask(taskType string, priority int, visibleAt time.Time) *taskDomain.Task {
	return &taskDomain.Task{
		ID:              uuid.Must(uuid.NewV7()),
		TaskType:        taskType,
		TaskData:        []byte(`{}`),
		Priority:        priority,
		MaxAttempts:     3,
		RetryBackoffSec: 60,
		VisibleAt:       visibleAt,
	}
}

func TestPostgreSQLTaskRepository_ClaimOrdering(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLTaskRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	background := newPendingTask("recording_download", 9, now.Add(-time.Minute))
	require.NoError(t, repo.Create(ctx, background))
	time.Sleep(time.Millisecond) // distinct UUIDv7 ordering
	urgent := newPendingTask("call_sync", 1, now.Add(-time.Minute))
	require.NoError(t, repo.Create(ctx, urgent))
	time.Sleep(time.Millisecond)
	normalOld := newPendingTask("crm_sync", 5, now.Add(-time.Minute))
	require.NoError(t, repo.Create(ctx, normalOld))
	time.Sleep(time.Millisecond)
	normalNew := newPendingTask("crm_sync", 5, now.Add(-time.Minute))
	require.NoError(t, repo.Create(ctx, normalNew))

	// Lowest priority value first, then insertion order within a priority.
	wantOrder := []uuid.UUID{urgent.ID, normalOld.ID, normalNew.ID, background.ID}
	for i, want := range wantOrder {
		task, err := repo.ClaimNext(ctx, now, time.Minute)
		require.NoError(t, err, "claim %d", i)
		assert.Equal(t, want, task.ID, "claim %d", i)
		assert.Equal(t, 1, task.Attempts)
	}

	_, err := repo.ClaimNext(ctx, now, time.Minute)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPostgreSQLTaskRepository_ClaimReclaimsAfterLeaseTimeout(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLTaskRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	task := newPendingTask("transcription", 5, now.Add(-time.Minute))
	require.NoError(t, repo.Create(ctx, task))

	claimed, err := repo.ClaimNext(ctx, now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, task.ID, claimed.ID)
	assert.Equal(t, 1, claimed.Attempts)

	// Reserved within the lease: invisible to other workers.
	_, err = repo.ClaimNext(ctx, now, time.Minute)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// A crashed worker's reservation expires with the lease and the task
	// becomes claimable again.
	later := now.Add(2 * time.Minute)
	reclaimed, err := repo.ClaimNext(ctx, later, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, task.ID, reclaimed.ID)
	assert.Equal(t, 2, reclaimed.Attempts)
}

func TestPostgreSQLTaskRepository_ClaimExcludesDLQAndFutureTasks(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLTaskRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	deadLettered := newPendingTask("call_sync", 1, now.Add(-time.Minute))
	require.NoError(t, repo.Create(ctx, deadLettered))
	require.NoError(t, repo.MoveToDLQ(ctx, deadLettered.ID.String(), "handler failed"))

	future := newPendingTask("call_sync", 1, now.Add(time.Hour))
	require.NoError(t, repo.Create(ctx, future))

	_, err := repo.ClaimNext(ctx, now, time.Minute)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// Requeue resets the attempt budget and makes the task claimable again.
	require.NoError(t, repo.RequeueFromDLQ(ctx, deadLettered.ID.String(), now))

	claimed, err := repo.ClaimNext(ctx, now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, deadLettered.ID, claimed.ID)
	assert.Equal(t, 1, claimed.Attempts)
	assert.False(t, claimed.DLQ)
	assert.Nil(t, claimed.ErrorReason)
}

func TestPostgreSQLTaskRepository_ReleaseSchedulesRetry(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLTaskRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	task := newPendingTask("crm_sync", 5, now.Add(-time.Minute))
	require.NoError(t, repo.Create(ctx, task))

	claimed, err := repo.ClaimNext(ctx, now, time.Minute)
	require.NoError(t, err)

	retryAt := now.Add(time.Minute)
	require.NoError(t, repo.Release(ctx, claimed.ID.String(), retryAt))

	// Not yet visible.
	_, err = repo.ClaimNext(ctx, now, time.Minute)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// Visible once the backoff elapses.
	reclaimed, err := repo.ClaimNext(ctx, retryAt, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, task.ID, reclaimed.ID)
	assert.Equal(t, 2, reclaimed.Attempts)
}
