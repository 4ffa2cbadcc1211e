// Package dto provides data transfer objects for webhook HTTP handling.
package dto

import (
	validation "github.com/jellydator/validation"

	customValidation "github.com/allisson/callsync/internal/validation"
)

// WebhookEnvelope is the minimal shape every provider payload must satisfy:
// an identifying event name plus the raw body carried through to the task.
type WebhookEnvelope struct {
	Event   string
	Payload []byte
}

// Validate checks the envelope fields.
func (e WebhookEnvelope) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Event,
			validation.Required,
			validation.Length(1, 128),
			customValidation.EventName,
		),
		validation.Field(&e.Payload,
			validation.Required,
			customValidation.JSONObject,
		),
	)
}

// WebhookAcceptedResponse is returned when a webhook is admitted and a task
// is enqueued.
type WebhookAcceptedResponse struct {
	Status           string `json:"status"`
	TaskID           string `json:"task_id"`
	DeduplicationKey string `json:"deduplication_key"`
	CorrelationID    string `json:"correlation_id,omitempty"`
}

// WebhookDuplicateResponse is returned when a webhook was already processed
// within its deduplication window.
type WebhookDuplicateResponse struct {
	Status              string `json:"status"`
	DeduplicationKey    string `json:"deduplication_key"`
	CorrelationID       string `json:"correlation_id,omitempty"`
	OriginalProcessedAt string `json:"original_processed_at,omitempty"`
}

// ProcessingLogResponse is one processing-log row.
type ProcessingLogResponse struct {
	ID               string `json:"id"`
	WebhookType      string `json:"webhook_type"`
	DeduplicationKey string `json:"deduplication_key"`
	CorrelationID    string `json:"correlation_id,omitempty"`
	Status           string `json:"status"`
	PayloadSize      int    `json:"payload_size"`
	ProcessingTimeMs int    `json:"processing_time_ms"`
	ErrorMessage     string `json:"error_message,omitempty"`
	CreatedAt        string `json:"created_at"`
}

// ProcessingLogListResponse is a page of processing-log rows.
type ProcessingLogListResponse struct {
	Logs   []ProcessingLogResponse `json:"logs"`
	Offset int                     `json:"offset"`
	Limit  int                     `json:"limit"`
}
