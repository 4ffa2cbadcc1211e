package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"

	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/callsync/internal/errors"
	"github.com/allisson/callsync/internal/httpclient"
	taskDomain "github.com/allisson/callsync/internal/taskqueue/domain"
	taskUseCase "github.com/allisson/callsync/internal/taskqueue/usecase"
)

// CallSyncPayload selects the window of calls to synchronize.
type CallSyncPayload struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	BatchID   string `json:"batch_id"`
}

// Validate checks the payload fields.
func (p CallSyncPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.StartDate, validation.Required, validation.Date("2006-01-02")),
		validation.Field(&p.EndDate, validation.Date("2006-01-02")),
	)
}

// ringoverCall is the slice of the Ringover call object the pipeline needs.
type ringoverCall struct {
	CallID       string `json:"call_id"`
	RecordingURL string `json:"recording_url"`
}

// ringoverCallList is the paged call listing response.
type ringoverCallList struct {
	Calls []ringoverCall `json:"call_list"`
}

// CallSyncHandler lists calls from Ringover for a date window and fans out
// one recording_download task per call that has a recording.
type CallSyncHandler struct {
	client HTTPClient
	queue  Enqueuer
	config Config
	logger *slog.Logger
}

// NewCallSyncHandler creates a new CallSyncHandler.
func NewCallSyncHandler(client HTTPClient, queue Enqueuer, config Config) *CallSyncHandler {
	return &CallSyncHandler{client: client, queue: queue, config: config}
}

// WithLogger attaches a logger and returns the handler.
func (h *CallSyncHandler) WithLogger(logger *slog.Logger) *CallSyncHandler {
	h.logger = logger
	return h
}

// Handle fetches the call list and enqueues per-call download work.
func (h *CallSyncHandler) Handle(ctx context.Context, task *taskDomain.Task) error {
	var payload CallSyncPayload
	if err := decodePayload(task, &payload); err != nil {
		return err
	}

	query := url.Values{}
	query.Set("start_date", payload.StartDate)
	if payload.EndDate != "" {
		query.Set("end_date", payload.EndDate)
	}

	response, err := h.client.Get(ctx, h.config.RingoverBaseURL+"/v2/calls", httpclient.Options{
		Service:       "ringover",
		CorrelationID: correlationID(task),
		BatchID:       payload.BatchID,
		Headers:       bearer(h.config.RingoverAPIKey),
		Query:         query,
	})
	if err != nil {
		return err
	}

	var listing ringoverCallList
	if err := json.Unmarshal(response.Body, &listing); err != nil {
		return apperrors.Wrap(err, "failed to decode call listing")
	}

	enqueued := 0
	for _, call := range listing.Calls {
		if call.RecordingURL == "" {
			continue
		}
		_, err := h.queue.Enqueue(ctx, TaskTypeRecordingDownload, RecordingDownloadPayload{
			CallID:       call.CallID,
			RecordingURL: call.RecordingURL,
			BatchID:      payload.BatchID,
		}, taskUseCase.EnqueueOptions{CorrelationID: correlationID(task)})
		if err != nil {
			return apperrors.Wrap(err, "failed to enqueue recording download")
		}
		enqueued++
	}

	if h.logger != nil {
		h.logger.Info("call sync completed",
			slog.String("start_date", payload.StartDate),
			slog.Int("calls", len(listing.Calls)),
			slog.Int("downloads_enqueued", enqueued),
		)
	}
	return nil
}
