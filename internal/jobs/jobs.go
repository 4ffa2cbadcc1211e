// Package jobs implements the background task handlers. Each handler
// validates its own payload, rejects permanently invalid payloads as
// non-retryable, and reaches external APIs only through the resilient
// outbound client.
package jobs

import (
	"context"
	"encoding/json"
	"net/http"

	apperrors "github.com/allisson/callsync/internal/errors"
	"github.com/allisson/callsync/internal/httpclient"
	taskDomain "github.com/allisson/callsync/internal/taskqueue/domain"
	taskUseCase "github.com/allisson/callsync/internal/taskqueue/usecase"
	customValidation "github.com/allisson/callsync/internal/validation"
)

// Task types handled by this package.
const (
	TaskTypeCallSync          = "call_sync"
	TaskTypeRecordingDownload = "recording_download"
	TaskTypeTranscription     = "transcription"
	TaskTypeCRMSync           = "crm_sync"
)

// Config holds the third-party endpoints and credentials the handlers use.
type Config struct {
	RingoverBaseURL    string
	RingoverAPIKey     string
	OpenAIBaseURL      string
	OpenAIAPIKey       string
	PipedriveBaseURL   string
	PipedriveAPIToken  string
	TranscriptionModel string
}

// HTTPClient is the slice of the resilient client the handlers need.
type HTTPClient interface {
	Get(ctx context.Context, rawURL string, opts httpclient.Options) (*httpclient.Response, error)
	Post(ctx context.Context, rawURL string, opts httpclient.Options) (*httpclient.Response, error)
}

// Enqueuer chains follow-up work from one pipeline stage to the next.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, data any, opts taskUseCase.EnqueueOptions) (*taskDomain.Task, error)
}

// RegisterAll binds every pipeline handler to its task type. Provider
// webhook tasks ("ringover.*", "pipedrive.*", "workflow.*") map onto the
// same pipeline stages.
func RegisterAll(
	registry *taskUseCase.Registry,
	client HTTPClient,
	queue Enqueuer,
	config Config,
) {
	callSync := NewCallSyncHandler(client, queue, config)
	download := NewRecordingDownloadHandler(client, queue, config)
	transcribe := NewTranscriptionHandler(client, queue, config)
	crmSync := NewCRMSyncHandler(client, config)

	registry.Register(TaskTypeCallSync, callSync)
	registry.Register(TaskTypeRecordingDownload, download)
	registry.Register(TaskTypeTranscription, transcribe)
	registry.Register(TaskTypeCRMSync, crmSync)

	// Webhook-originated tasks enter the pipeline at the matching stage.
	registry.Register("ringover.recording.available", download)
	registry.Register("pipedrive.deal_updated", crmSync)
}

// decodePayload unmarshals and validates a task payload. Validation failures
// are permanent, so they are marked non-retryable to skip the retry budget.
func decodePayload(task *taskDomain.Task, target interface{ Validate() error }) error {
	if err := json.Unmarshal(task.TaskData, target); err != nil {
		return apperrors.Wrap(apperrors.ErrNonRetryable, "malformed task payload: "+err.Error())
	}
	if err := target.Validate(); err != nil {
		return apperrors.Wrap(apperrors.ErrNonRetryable, customValidation.WrapValidationError(err).Error())
	}
	return nil
}

// correlationID extracts the correlation id carried by a task.
func correlationID(task *taskDomain.Task) string {
	if task.CorrelationID != nil {
		return *task.CorrelationID
	}
	return ""
}

// bearer builds an Authorization header.
func bearer(token string) http.Header {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return header
}
