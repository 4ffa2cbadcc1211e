package jobs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"

	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/callsync/internal/errors"
	"github.com/allisson/callsync/internal/httpclient"
	taskDomain "github.com/allisson/callsync/internal/taskqueue/domain"
	taskUseCase "github.com/allisson/callsync/internal/taskqueue/usecase"
)

// TranscriptionPayload carries the audio of one call to transcribe.
type TranscriptionPayload struct {
	CallID string `json:"call_id"`
	// Audio is the base64-encoded recording.
	Audio   string `json:"audio"`
	BatchID string `json:"batch_id"`
}

// Validate checks the payload fields.
func (p TranscriptionPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.CallID, validation.Required),
		validation.Field(&p.Audio, validation.Required),
	)
}

// transcriptionResult is the slice of the OpenAI response the pipeline needs.
type transcriptionResult struct {
	Text string `json:"text"`
}

// TranscriptionHandler sends the call audio to the OpenAI transcription
// endpoint and enqueues the CRM sync with the transcript.
type TranscriptionHandler struct {
	client HTTPClient
	queue  Enqueuer
	config Config
}

// NewTranscriptionHandler creates a new TranscriptionHandler.
func NewTranscriptionHandler(client HTTPClient, queue Enqueuer, config Config) *TranscriptionHandler {
	return &TranscriptionHandler{client: client, queue: queue, config: config}
}

// Handle transcribes the audio and enqueues the CRM sync stage.
func (h *TranscriptionHandler) Handle(ctx context.Context, task *taskDomain.Task) error {
	var payload TranscriptionPayload
	if err := decodePayload(task, &payload); err != nil {
		return err
	}

	audio, err := base64.StdEncoding.DecodeString(payload.Audio)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNonRetryable, "audio is not valid base64")
	}

	body, contentType, err := buildTranscriptionForm(payload.CallID, audio, h.config.TranscriptionModel)
	if err != nil {
		return err
	}

	headers := bearer(h.config.OpenAIAPIKey)
	headers.Set("Content-Type", contentType)

	response, err := h.client.Post(ctx, h.config.OpenAIBaseURL+"/v1/audio/transcriptions", httpclient.Options{
		Service:       "openai",
		CorrelationID: correlationID(task),
		BatchID:       payload.BatchID,
		Headers:       headers,
		Body:          body,
	})
	if err != nil {
		return err
	}

	var result transcriptionResult
	if err := json.Unmarshal(response.Body, &result); err != nil {
		return apperrors.Wrap(err, "failed to decode transcription response")
	}

	_, err = h.queue.Enqueue(ctx, TaskTypeCRMSync, CRMSyncPayload{
		CallID:     payload.CallID,
		Transcript: result.Text,
		BatchID:    payload.BatchID,
	}, taskUseCase.EnqueueOptions{CorrelationID: correlationID(task)})
	if err != nil {
		return apperrors.Wrap(err, "failed to enqueue crm sync")
	}
	return nil
}

// buildTranscriptionForm assembles the multipart request body the
// transcription endpoint expects.
func buildTranscriptionForm(callID string, audio []byte, model string) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", callID+".mp3")
	if err != nil {
		return nil, "", apperrors.Wrap(err, "failed to build multipart form")
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", apperrors.Wrap(err, "failed to write audio to form")
	}
	if err := writer.WriteField("model", model); err != nil {
		return nil, "", apperrors.Wrap(err, "failed to write model field")
	}
	if err := writer.Close(); err != nil {
		return nil, "", apperrors.Wrap(err, "failed to finalize multipart form")
	}

	return buf.Bytes(), writer.FormDataContentType(), nil
}
