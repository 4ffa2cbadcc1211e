package commands

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/allisson/callsync/internal/jobs"
	taskDomain "github.com/allisson/callsync/internal/taskqueue/domain"
	taskUseCase "github.com/allisson/callsync/internal/taskqueue/usecase"
)

func TestRunSyncCalls(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	newTask := func() *taskDomain.Task {
		return &taskDomain.Task{
			ID:        uuid.Must(uuid.NewV7()),
			TaskType:  jobs.TaskTypeCallSync,
			CreatedAt: time.Now().UTC(),
		}
	}

	t.Run("text-output", func(t *testing.T) {
		task := newTask()
		queue := &mockTaskQueue{}
		queue.On("Enqueue", ctx, jobs.TaskTypeCallSync, jobs.CallSyncPayload{
			StartDate: "2026-08-01",
			EndDate:   "2026-08-02",
			BatchID:   "batch-1",
		}, taskUseCase.EnqueueOptions{Priority: 3}).Return(task, nil)

		var out bytes.Buffer
		err := RunSyncCalls(ctx, queue, logger, &out, "2026-08-01", "2026-08-02", "batch-1", 3, "text")

		require.NoError(t, err)
		require.Contains(t, out.String(), "Call sync task enqueued")
		require.Contains(t, out.String(), task.ID.String())
		require.Contains(t, out.String(), "2026-08-01 .. 2026-08-02")
		require.Contains(t, out.String(), "batch-1")
		queue.AssertExpectations(t)
	})

	t.Run("json-output", func(t *testing.T) {
		task := newTask()
		queue := &mockTaskQueue{}
		queue.On("Enqueue", ctx, jobs.TaskTypeCallSync, jobs.CallSyncPayload{
			StartDate: "2026-08-01",
			EndDate:   "2026-08-01",
		}, taskUseCase.EnqueueOptions{}).Return(task, nil)

		var out bytes.Buffer
		err := RunSyncCalls(ctx, queue, logger, &out, "2026-08-01", "", "", 0, "json")

		require.NoError(t, err)
		require.Contains(t, out.String(), `"task_id":"`+task.ID.String()+`"`)
		require.Contains(t, out.String(), `"end_date":"2026-08-01"`)
		queue.AssertExpectations(t)
	})

	t.Run("end-date-defaults-to-start-date", func(t *testing.T) {
		task := newTask()
		queue := &mockTaskQueue{}
		queue.On("Enqueue", ctx, jobs.TaskTypeCallSync, jobs.CallSyncPayload{
			StartDate: "2026-08-15",
			EndDate:   "2026-08-15",
		}, taskUseCase.EnqueueOptions{}).Return(task, nil)

		err := RunSyncCalls(ctx, queue, logger, &bytes.Buffer{}, "2026-08-15", "", "", 0, "text")

		require.NoError(t, err)
		queue.AssertExpectations(t)
	})

	t.Run("invalid-start-date", func(t *testing.T) {
		queue := &mockTaskQueue{}
		err := RunSyncCalls(ctx, queue, logger, &bytes.Buffer{}, "not-a-date", "", "", 0, "text")

		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid start date")
		queue.AssertNotCalled(t, "Enqueue")
	})

	t.Run("invalid-end-date", func(t *testing.T) {
		queue := &mockTaskQueue{}
		err := RunSyncCalls(ctx, queue, logger, &bytes.Buffer{}, "2026-08-01", "08/02/2026", "", 0, "text")

		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid end date")
		queue.AssertNotCalled(t, "Enqueue")
	})

	t.Run("enqueue-error", func(t *testing.T) {
		queue := &mockTaskQueue{}
		queue.On("Enqueue", ctx, jobs.TaskTypeCallSync, jobs.CallSyncPayload{
			StartDate: "2026-08-01",
			EndDate:   "2026-08-01",
		}, taskUseCase.EnqueueOptions{}).Return(nil, errors.New("database down"))

		err := RunSyncCalls(ctx, queue, logger, &bytes.Buffer{}, "2026-08-01", "", "", 0, "text")

		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to enqueue call sync task")
		queue.AssertExpectations(t)
	})
}
