package jobs

import (
	"context"
	"encoding/base64"

	validation "github.com/jellydator/validation"
	"github.com/jellydator/validation/is"

	apperrors "github.com/allisson/callsync/internal/errors"
	"github.com/allisson/callsync/internal/httpclient"
	taskDomain "github.com/allisson/callsync/internal/taskqueue/domain"
	taskUseCase "github.com/allisson/callsync/internal/taskqueue/usecase"
)

// maxRecordingSize bounds downloaded audio carried through the queue.
const maxRecordingSize = 20 << 20 // 20 MiB

// RecordingDownloadPayload identifies one call recording to fetch.
type RecordingDownloadPayload struct {
	CallID       string `json:"call_id"`
	RecordingURL string `json:"recording_url"`
	BatchID      string `json:"batch_id"`
}

// Validate checks the payload fields.
func (p RecordingDownloadPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.CallID, validation.Required),
		validation.Field(&p.RecordingURL, validation.Required, is.URL),
	)
}

// RecordingDownloadHandler fetches the call audio from Ringover and hands it
// to the transcription stage. The audio travels base64-encoded inside the
// task payload; recordings above maxRecordingSize are rejected permanently.
type RecordingDownloadHandler struct {
	client HTTPClient
	queue  Enqueuer
	config Config
}

// NewRecordingDownloadHandler creates a new RecordingDownloadHandler.
func NewRecordingDownloadHandler(client HTTPClient, queue Enqueuer, config Config) *RecordingDownloadHandler {
	return &RecordingDownloadHandler{client: client, queue: queue, config: config}
}

// Handle downloads the recording and enqueues transcription.
func (h *RecordingDownloadHandler) Handle(ctx context.Context, task *taskDomain.Task) error {
	var payload RecordingDownloadPayload
	if err := decodePayload(task, &payload); err != nil {
		return err
	}

	response, err := h.client.Get(ctx, payload.RecordingURL, httpclient.Options{
		Service:       "ringover",
		Operation:     "download",
		CorrelationID: correlationID(task),
		BatchID:       payload.BatchID,
		Headers:       bearer(h.config.RingoverAPIKey),
	})
	if err != nil {
		return err
	}

	if len(response.Body) == 0 {
		return apperrors.Wrap(apperrors.ErrNonRetryable, "recording is empty")
	}
	if len(response.Body) > maxRecordingSize {
		return apperrors.Wrap(apperrors.ErrNonRetryable, "recording exceeds size limit")
	}

	_, err = h.queue.Enqueue(ctx, TaskTypeTranscription, TranscriptionPayload{
		CallID:  payload.CallID,
		Audio:   base64.StdEncoding.EncodeToString(response.Body),
		BatchID: payload.BatchID,
	}, taskUseCase.EnqueueOptions{CorrelationID: correlationID(task)})
	if err != nil {
		return apperrors.Wrap(err, "failed to enqueue transcription")
	}
	return nil
}
