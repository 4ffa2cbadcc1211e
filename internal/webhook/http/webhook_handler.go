package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"

	apperrors "github.com/allisson/callsync/internal/errors"
	"github.com/allisson/callsync/internal/httputil"
	taskDomain "github.com/allisson/callsync/internal/taskqueue/domain"
	taskUseCase "github.com/allisson/callsync/internal/taskqueue/usecase"
	webhookDomain "github.com/allisson/callsync/internal/webhook/domain"
	webhookHTTPDto "github.com/allisson/callsync/internal/webhook/http/dto"
	webhookUseCase "github.com/allisson/callsync/internal/webhook/usecase"
	customValidation "github.com/allisson/callsync/internal/validation"
)

// maxPayloadSize bounds inbound webhook bodies.
const maxPayloadSize = 1 << 20 // 1 MiB

// signatureHeader carries the provider's HMAC digest.
const signatureHeader = "X-Webhook-Signature"

// providerSpec binds a provider to its deduplication type and the payload
// field naming the event.
type providerSpec struct {
	webhookType string
	eventField  string
}

// providers is the set of accepted webhook sources.
var providers = map[string]providerSpec{
	"ringover":  {webhookType: "call_recording", eventField: "event_type"},
	"pipedrive": {webhookType: "crm_deal", eventField: "event"},
	"workflow":  {webhookType: "workflow", eventField: "event"},
}

// Deduplicator is the slice of the dedup use case the handler needs.
type Deduplicator interface {
	Check(ctx context.Context, webhookType string, payload []byte, correlationID string, ttl time.Duration) (*webhookUseCase.CheckResult, error)
	MarkFailed(ctx context.Context, key string, processingErr error) error
	Logs(ctx context.Context, offset, limit int) ([]*webhookDomain.ProcessingLog, error)
}

// TaskEnqueuer is the slice of the task queue the handler needs.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, taskType string, data any, opts taskUseCase.EnqueueOptions) (*taskDomain.Task, error)
}

// WebhookHandler handles inbound webhook deliveries: authenticate, dedup,
// enqueue.
type WebhookHandler struct {
	verifier     *SignatureVerifier
	deduplicator Deduplicator
	queue        TaskEnqueuer
	logger       *slog.Logger
}

// NewWebhookHandler creates a new webhook handler with required dependencies.
func NewWebhookHandler(
	verifier *SignatureVerifier,
	deduplicator Deduplicator,
	queue TaskEnqueuer,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		verifier:     verifier,
		deduplicator: deduplicator,
		queue:        queue,
		logger:       logger,
	}
}

// IngestHandler admits one webhook delivery.
// POST /v1/webhooks/:provider
// Returns 202 Accepted with the enqueued task id, 200 OK for a duplicate
// delivery, 401 for a bad signature, and 422 for an invalid payload.
func (h *WebhookHandler) IngestHandler(c *gin.Context) {
	provider := c.Param("provider")
	spec, ok := providers[provider]
	if !ok {
		httputil.HandleErrorGin(c, apperrors.Wrap(apperrors.ErrNotFound, "unknown webhook provider"), h.logger)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadSize+1))
	if err != nil {
		httputil.HandleBadRequestGin(c, fmt.Errorf("failed to read request body: %w", err), h.logger)
		return
	}
	if len(body) > maxPayloadSize {
		httputil.HandleValidationErrorGin(c, fmt.Errorf("payload exceeds %d bytes", maxPayloadSize), h.logger)
		return
	}

	// Signature check happens over the raw body, before any parsing.
	if err := h.verifier.Verify(provider, body, c.GetHeader(signatureHeader)); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	envelope, err := parseEnvelope(spec, body)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	if err := envelope.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	correlationID := requestid.Get(c)
	ctx := c.Request.Context()

	check, err := h.deduplicator.Check(ctx, spec.webhookType, body, correlationID, 0)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	if check.Duplicate {
		if h.logger != nil {
			h.logger.Info("duplicate webhook rejected",
				slog.String("provider", provider),
				slog.String("deduplication_key", check.DeduplicationKey),
				slog.String("correlation_id", correlationID),
			)
		}
		response := webhookHTTPDto.WebhookDuplicateResponse{
			Status:           "duplicate",
			DeduplicationKey: check.DeduplicationKey,
			CorrelationID:    correlationID,
		}
		if check.OriginalProcessedAt != nil {
			response.OriginalProcessedAt = check.OriginalProcessedAt.UTC().Format(time.RFC3339)
		}
		c.JSON(http.StatusOK, response)
		return
	}

	task, err := h.queue.Enqueue(ctx, provider+"."+envelope.Event, json.RawMessage(body), taskUseCase.EnqueueOptions{
		CorrelationID: correlationID,
	})
	if err != nil {
		// Release the dedup record so the provider's redelivery is admitted.
		if markErr := h.deduplicator.MarkFailed(ctx, check.DeduplicationKey, err); markErr != nil && h.logger != nil {
			h.logger.Error("failed to release deduplication record",
				slog.String("deduplication_key", check.DeduplicationKey),
				slog.Any("error", markErr),
			)
		}
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusAccepted, webhookHTTPDto.WebhookAcceptedResponse{
		Status:           "accepted",
		TaskID:           task.ID.String(),
		DeduplicationKey: check.DeduplicationKey,
		CorrelationID:    correlationID,
	})
}

// LogsHandler lists processing logs, newest first.
// GET /v1/webhooks/logs?offset=0&limit=50
func (h *WebhookHandler) LogsHandler(c *gin.Context) {
	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	logs, err := h.deduplicator.Logs(c.Request.Context(), offset, limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	response := webhookHTTPDto.ProcessingLogListResponse{
		Logs:   make([]webhookHTTPDto.ProcessingLogResponse, 0, len(logs)),
		Offset: offset,
		Limit:  limit,
	}
	for _, log := range logs {
		entry := webhookHTTPDto.ProcessingLogResponse{
			ID:               log.ID.String(),
			WebhookType:      log.WebhookType,
			DeduplicationKey: log.DeduplicationKey,
			Status:           string(log.Status),
			PayloadSize:      log.PayloadSize,
			ProcessingTimeMs: log.ProcessingTimeMs,
			CreatedAt:        log.CreatedAt.UTC().Format(time.RFC3339),
		}
		if log.CorrelationID != nil {
			entry.CorrelationID = *log.CorrelationID
		}
		if log.ErrorMessage != nil {
			entry.ErrorMessage = *log.ErrorMessage
		}
		response.Logs = append(response.Logs, entry)
	}

	c.JSON(http.StatusOK, response)
}

// parseEnvelope extracts the provider's event name from the payload.
func parseEnvelope(spec providerSpec, body []byte) (webhookHTTPDto.WebhookEnvelope, error) {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return webhookHTTPDto.WebhookEnvelope{}, fmt.Errorf("invalid json payload")
	}

	event, _ := parsed[spec.eventField].(string)
	return webhookHTTPDto.WebhookEnvelope{Event: event, Payload: body}, nil
}
