// Package domain defines the webhook deduplication entities and types.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus represents the outcome of one webhook delivery attempt.
type ProcessingStatus string

const (
	ProcessingStatusProcessed ProcessingStatus = "processed"
	ProcessingStatusDuplicate ProcessingStatus = "duplicate"
	ProcessingStatusFailed    ProcessingStatus = "failed"
)

// DeduplicationRecord blocks re-admission of a webhook event. A record whose
// ExpiresAt is in the future rejects any delivery with the same key; expired
// records are swept by cleanup.
type DeduplicationRecord struct {
	ID               uuid.UUID
	DeduplicationKey string
	WebhookType      string
	PayloadHash      string
	CorrelationID    *string
	ExpiresAt        time.Time
	CreatedAt        time.Time
}

// ProcessingLog is an append-only audit row per webhook delivery attempt.
type ProcessingLog struct {
	ID               uuid.UUID
	WebhookType      string
	DeduplicationKey string
	CorrelationID    *string
	Status           ProcessingStatus
	PayloadSize      int
	ProcessingTimeMs int
	ErrorMessage     *string
	CreatedAt        time.Time
}

// ProcessingStats aggregates processing-log rows by type and status.
type ProcessingStats struct {
	WebhookType       string
	Status            ProcessingStatus
	Count             int
	AvgProcessingTime float64
}
