package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	taskDomain "github.com/allisson/callsync/internal/taskqueue/domain"
	taskUseCase "github.com/allisson/callsync/internal/taskqueue/usecase"

	"github.com/allisson/callsync/internal/jobs"
)

// TaskQueue is the queue surface the CLI commands need.
type TaskQueue interface {
	Enqueue(ctx context.Context, taskType string, data any, opts taskUseCase.EnqueueOptions) (*taskDomain.Task, error)
	ListDLQ(ctx context.Context, limit int) ([]*taskDomain.Task, error)
	RequeueFromDLQ(ctx context.Context, id string) error
	CountPending(ctx context.Context) (int64, error)
}

// RunSyncCalls enqueues the call synchronization task that kicks off the
// pipeline for the given date range.
func RunSyncCalls(
	ctx context.Context,
	queue TaskQueue,
	logger *slog.Logger,
	writer io.Writer,
	startDate, endDate, batchID string,
	priority int,
	format string,
) error {
	if _, err := time.Parse("2006-01-02", startDate); err != nil {
		return fmt.Errorf("invalid start date %q: expected YYYY-MM-DD", startDate)
	}
	if endDate == "" {
		endDate = startDate
	}
	if _, err := time.Parse("2006-01-02", endDate); err != nil {
		return fmt.Errorf("invalid end date %q: expected YYYY-MM-DD", endDate)
	}

	task, err := queue.Enqueue(ctx, jobs.TaskTypeCallSync, jobs.CallSyncPayload{
		StartDate: startDate,
		EndDate:   endDate,
		BatchID:   batchID,
	}, taskUseCase.EnqueueOptions{Priority: priority})
	if err != nil {
		return fmt.Errorf("failed to enqueue call sync task: %w", err)
	}

	logger.Info("call sync task enqueued",
		slog.String("task_id", task.ID.String()),
		slog.String("start_date", startDate),
		slog.String("end_date", endDate),
	)

	if format == "json" {
		return json.NewEncoder(writer).Encode(map[string]string{
			"task_id":    task.ID.String(),
			"start_date": startDate,
			"end_date":   endDate,
			"batch_id":   batchID,
		})
	}

	fmt.Fprintf(writer, "Call sync task enqueued\n")
	fmt.Fprintf(writer, "  Task ID:    %s\n", task.ID.String())
	fmt.Fprintf(writer, "  Date range: %s .. %s\n", startDate, endDate)
	if batchID != "" {
		fmt.Fprintf(writer, "  Batch ID:   %s\n", batchID)
	}
	return nil
}
