package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	taskDomain "github.com/allisson/callsync/internal/taskqueue/domain"
)

// dlqEntry is the JSON shape of one dead-lettered task.
type dlqEntry struct {
	ID            string `json:"id"`
	TaskType      string `json:"task_type"`
	Attempts      int    `json:"attempts"`
	MaxAttempts   int    `json:"max_attempts"`
	ErrorReason   string `json:"error_reason,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toDLQEntry(task *taskDomain.Task) dlqEntry {
	entry := dlqEntry{
		ID:          task.ID.String(),
		TaskType:    task.TaskType,
		Attempts:    task.Attempts,
		MaxAttempts: task.MaxAttempts,
		CreatedAt:   task.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if task.ErrorReason != nil {
		entry.ErrorReason = *task.ErrorReason
	}
	if task.CorrelationID != nil {
		entry.CorrelationID = *task.CorrelationID
	}
	return entry
}

// RunDLQList prints dead-lettered tasks for operator inspection.
func RunDLQList(
	ctx context.Context,
	queue TaskQueue,
	writer io.Writer,
	limit int,
	format string,
) error {
	tasks, err := queue.ListDLQ(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list dlq tasks: %w", err)
	}

	pending, err := queue.CountPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to count pending tasks: %w", err)
	}

	if format == "json" {
		entries := make([]dlqEntry, 0, len(tasks))
		for _, task := range tasks {
			entries = append(entries, toDLQEntry(task))
		}
		return json.NewEncoder(writer).Encode(struct {
			Tasks   []dlqEntry `json:"tasks"`
			Pending int64      `json:"pending"`
		}{Tasks: entries, Pending: pending})
	}

	if len(tasks) == 0 {
		fmt.Fprintln(writer, "Dead letter queue is empty")
		fmt.Fprintf(writer, "Pending tasks: %d\n", pending)
		return nil
	}

	fmt.Fprintf(writer, "Dead-lettered tasks (%d):\n", len(tasks))
	for _, task := range tasks {
		entry := toDLQEntry(task)
		fmt.Fprintf(writer, "  %s  %-30s attempts=%d/%d  %s\n",
			entry.ID, entry.TaskType, entry.Attempts, entry.MaxAttempts, entry.CreatedAt)
		if entry.ErrorReason != "" {
			fmt.Fprintf(writer, "    reason: %s\n", entry.ErrorReason)
		}
	}
	fmt.Fprintf(writer, "Pending tasks: %d\n", pending)
	return nil
}

// RunDLQRequeue returns one dead-lettered task to the pending pool.
func RunDLQRequeue(
	ctx context.Context,
	queue TaskQueue,
	writer io.Writer,
	id string,
) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid task id %q: %w", id, err)
	}

	if err := queue.RequeueFromDLQ(ctx, id); err != nil {
		return fmt.Errorf("failed to requeue task %s: %w", id, err)
	}

	fmt.Fprintf(writer, "Task %s requeued\n", id)
	return nil
}
