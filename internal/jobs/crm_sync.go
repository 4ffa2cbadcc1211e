package jobs

import (
	"context"
	"encoding/json"
	"net/url"

	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/callsync/internal/errors"
	"github.com/allisson/callsync/internal/httpclient"
	taskDomain "github.com/allisson/callsync/internal/taskqueue/domain"
)

// CRMSyncPayload attaches a call transcript to the CRM.
//
// Deal payloads arriving straight from a CRM webhook carry the raw provider
// body in Deal and no transcript; pipeline tasks carry CallID + Transcript.
type CRMSyncPayload struct {
	CallID     string          `json:"call_id"`
	Transcript string          `json:"transcript"`
	BatchID    string          `json:"batch_id"`
	Deal       json.RawMessage `json:"deal,omitempty"`
	DealID     int64           `json:"deal_id,omitempty"`
}

// Validate checks the payload fields. A call transcript, an embedded deal
// body, or a webhook deal id must be present.
func (p CRMSyncPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.CallID, validation.Required.When(len(p.Deal) == 0 && p.DealID == 0)),
	)
}

// CRMSyncHandler pushes call outcomes into Pipedrive. Transcripts become
// notes; deal bodies are passed through to the deal endpoint as received.
type CRMSyncHandler struct {
	client HTTPClient
	config Config
}

// NewCRMSyncHandler creates a new CRMSyncHandler.
func NewCRMSyncHandler(client HTTPClient, config Config) *CRMSyncHandler {
	return &CRMSyncHandler{client: client, config: config}
}

// Handle syncs one payload to the CRM.
func (h *CRMSyncHandler) Handle(ctx context.Context, task *taskDomain.Task) error {
	var payload CRMSyncPayload
	if err := decodePayload(task, &payload); err != nil {
		return err
	}

	query := url.Values{}
	query.Set("api_token", h.config.PipedriveAPIToken)

	// Webhook-originated tasks carry the provider body itself as the payload.
	deal := payload.Deal
	if len(deal) == 0 && payload.CallID == "" {
		deal = task.TaskData
	}

	if len(deal) > 0 {
		_, err := h.client.Post(ctx, h.config.PipedriveBaseURL+"/v1/deals", httpclient.Options{
			Service:       "pipedrive",
			CorrelationID: correlationID(task),
			BatchID:       payload.BatchID,
			Query:         query,
			JSON:          json.RawMessage(deal),
		})
		if err != nil {
			return err
		}
		return nil
	}

	note := map[string]any{
		"content": payload.Transcript,
		"call_id": payload.CallID,
	}
	if payload.DealID != 0 {
		note["deal_id"] = payload.DealID
	}

	if _, err := h.client.Post(ctx, h.config.PipedriveBaseURL+"/v1/notes", httpclient.Options{
		Service:       "pipedrive",
		CorrelationID: correlationID(task),
		BatchID:       payload.BatchID,
		Query:         query,
		JSON:          note,
	}); err != nil {
		return apperrors.Wrap(err, "failed to create crm note")
	}
	return nil
}
