// Package domain defines the durable task queue entities.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Default task settings applied by Enqueue when the caller leaves them zero.
const (
	DefaultPriority        = 5
	DefaultMaxAttempts     = 3
	DefaultRetryBackoffSec = 60
)

// Task is one unit of durable background work.
//
// Lifecycle: pending (visible_at <= now, reserved_at empty) -> reserved
// (reserved_at set, attempts incremented) -> deleted on success, released
// with a pushed-forward visible_at on retryable failure, or dead-lettered
// when attempts are exhausted. DLQ rows are inert until requeued.
type Task struct {
	ID              uuid.UUID
	TaskType        string
	TaskData        []byte
	Priority        int
	Attempts        int
	MaxAttempts     int
	RetryBackoffSec int
	VisibleAt       time.Time
	ReservedAt      *time.Time
	DLQ             bool
	ErrorReason     *string
	CorrelationID   *string
	CreatedAt       time.Time
}

// NextVisibleAt computes the retry delay after a failed attempt. Backoff is
// linear in the attempt count, unlike the per-request exponential retry.
func (t *Task) NextVisibleAt(now time.Time) time.Time {
	return now.Add(time.Duration(t.Attempts*t.RetryBackoffSec) * time.Second)
}

// Exhausted reports whether the task has used up its attempt budget.
func (t *Task) Exhausted() bool {
	return t.Attempts >= t.MaxAttempts
}
