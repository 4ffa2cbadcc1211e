// Package usecase implements webhook deduplication business logic.
package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/callsync/internal/database"
	apperrors "github.com/allisson/callsync/internal/errors"
	webhookDomain "github.com/allisson/callsync/internal/webhook/domain"
)

// maxTTL caps every deduplication window, explicit or configured.
const maxTTL = 24 * time.Hour

// defaultTTL applies to webhook types with no configured window.
const defaultTTL = time.Hour

// typeTTLs holds the per-type deduplication windows.
var typeTTLs = map[string]time.Duration{
	"call_recording": time.Hour,
	"crm_deal":       30 * time.Minute,
	"workflow":       2 * time.Hour,
}

// typeKeyFields names the payload fields that identify an event per webhook
// type. Types not listed here fall back to hashing the whole payload.
var typeKeyFields = map[string][]string{
	"call_recording": {"call_id", "event_type", "timestamp"},
	"crm_deal":       {"deal_id", "event", "timestamp"},
	"workflow":       {"workflow_id", "run_id", "event"},
}

// WebhookRepository is the persistence interface for deduplication records
// and processing logs.
type WebhookRepository interface {
	GetActiveRecord(ctx context.Context, key string, now time.Time) (*webhookDomain.DeduplicationRecord, error)
	CreateRecord(ctx context.Context, record *webhookDomain.DeduplicationRecord) error
	DeleteRecord(ctx context.Context, key string) error
	DeleteExpiredRecords(ctx context.Context, now time.Time) (int64, error)
	CreateLog(ctx context.Context, log *webhookDomain.ProcessingLog) error
	UpdateLatestLogStatus(ctx context.Context, key string, status webhookDomain.ProcessingStatus, errorMessage *string) error
	DeleteLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	ListLogs(ctx context.Context, offset, limit int) ([]*webhookDomain.ProcessingLog, error)
	Stats(ctx context.Context, since time.Time) ([]*webhookDomain.ProcessingStats, error)
}

// CheckResult is the outcome of admitting one webhook delivery.
type CheckResult struct {
	// Duplicate is true when an active record already covers this event.
	Duplicate bool
	// DeduplicationKey identifies the event across redeliveries.
	DeduplicationKey string
	// PayloadHash is the hash of the full payload, kept for observability.
	PayloadHash string
	// OriginalProcessedAt is when the winning delivery was admitted. Set
	// only on duplicate hits, and best-effort on insert races.
	OriginalProcessedAt *time.Time
}

// CleanupResult reports how many rows a cleanup pass removed.
type CleanupResult struct {
	ExpiredRecords int64
	OldLogs        int64
}

// Config holds deduplicator settings.
type Config struct {
	// DefaultTTL overrides the built-in default deduplication window.
	DefaultTTL time.Duration
	// LogRetention bounds how long processing logs are kept by Cleanup.
	LogRetention time.Duration
}

// Deduplicator admits webhook deliveries exactly once within a per-type
// window. Storage failures fail open: a webhook is processed twice rather
// than dropped.
type Deduplicator struct {
	config    Config
	txManager database.TxManager
	repo      WebhookRepository
	logger    *slog.Logger
	now       func() time.Time
}

// NewDeduplicator creates a new Deduplicator.
func NewDeduplicator(
	config Config,
	txManager database.TxManager,
	repo WebhookRepository,
	logger *slog.Logger,
) *Deduplicator {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = defaultTTL
	}
	if config.LogRetention <= 0 {
		config.LogRetention = 30 * 24 * time.Hour
	}
	return &Deduplicator{
		config:    config,
		txManager: txManager,
		repo:      repo,
		logger:    logger,
		now:       time.Now,
	}
}

// BuildKey derives the deduplication key and payload hash for a webhook.
// The key hashes only the identifying fields of the payload, so redeliveries
// with cosmetic differences (ordering, extra metadata) still collide.
func (d *Deduplicator) BuildKey(webhookType string, payload []byte) (string, string, error) {
	payloadHash := sha256Hex(canonicalize(payload))

	fields, ok := typeKeyFields[webhookType]
	if !ok {
		return webhookType + ":" + payloadHash, payloadHash, nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", "", apperrors.Wrap(apperrors.ErrInvalidInput, "invalid webhook payload")
	}

	keyFields := make(map[string]any, len(fields))
	present := false
	for _, field := range fields {
		if value, ok := parsed[field]; ok {
			keyFields[field] = value
			present = true
		}
	}
	// No identifying field at all: fall back to the whole payload so the
	// delivery is still deduplicated on exact redelivery.
	if !present {
		return webhookType + ":" + payloadHash, payloadHash, nil
	}

	canonical, err := json.Marshal(keyFields)
	if err != nil {
		return "", "", apperrors.Wrap(err, "failed to canonicalize key fields")
	}
	return webhookType + ":" + sha256Hex(canonical), payloadHash, nil
}

// Check admits or rejects one webhook delivery, recording both the
// deduplication record and the processing log in a single transaction. TTL
// overrides are honored up to the 24h cap; zero means the per-type default.
func (d *Deduplicator) Check(
	ctx context.Context,
	webhookType string,
	payload []byte,
	correlationID string,
	ttlOverride time.Duration,
) (*CheckResult, error) {
	key, payloadHash, err := d.BuildKey(webhookType, payload)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{DeduplicationKey: key, PayloadHash: payloadHash}
	now := d.now()
	ttl := d.resolveTTL(webhookType, ttlOverride)

	var corrID *string
	if correlationID != "" {
		corrID = &correlationID
	}

	err = d.txManager.WithTx(ctx, func(ctx context.Context) error {
		existing, err := d.repo.GetActiveRecord(ctx, key, now)
		if err == nil {
			result.Duplicate = true
			result.OriginalProcessedAt = &existing.CreatedAt
			return d.writeLog(ctx, webhookType, key, corrID, webhookDomain.ProcessingStatusDuplicate, len(payload), now)
		}
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			return err
		}

		record := &webhookDomain.DeduplicationRecord{
			ID:               uuid.Must(uuid.NewV7()),
			DeduplicationKey: key,
			WebhookType:      webhookType,
			PayloadHash:      payloadHash,
			CorrelationID:    corrID,
			ExpiresAt:        now.Add(ttl),
		}
		if err := d.repo.CreateRecord(ctx, record); err != nil {
			// Lost the insert race: a concurrent delivery won, this one is
			// the duplicate.
			if apperrors.Is(err, apperrors.ErrConflict) {
				result.Duplicate = true
				if winner, getErr := d.repo.GetActiveRecord(ctx, key, now); getErr == nil {
					result.OriginalProcessedAt = &winner.CreatedAt
				}
				return d.writeLog(ctx, webhookType, key, corrID, webhookDomain.ProcessingStatusDuplicate, len(payload), now)
			}
			return err
		}

		return d.writeLog(ctx, webhookType, key, corrID, webhookDomain.ProcessingStatusProcessed, len(payload), now)
	})
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("deduplication check failed, processing webhook anyway",
				slog.String("webhook_type", webhookType),
				slog.String("deduplication_key", key),
				slog.Any("error", err),
			)
		}
		result.Duplicate = false
		return result, nil
	}

	return result, nil
}

// MarkFailed records a processing failure and releases the deduplication
// record so the provider's redelivery is admitted again.
func (d *Deduplicator) MarkFailed(ctx context.Context, key string, processingErr error) error {
	var errorMessage *string
	if processingErr != nil {
		message := processingErr.Error()
		errorMessage = &message
	}

	return d.txManager.WithTx(ctx, func(ctx context.Context) error {
		err := d.repo.UpdateLatestLogStatus(ctx, key, webhookDomain.ProcessingStatusFailed, errorMessage)
		if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		return d.repo.DeleteRecord(ctx, key)
	})
}

// Logs returns processing logs ordered newest first.
func (d *Deduplicator) Logs(ctx context.Context, offset, limit int) ([]*webhookDomain.ProcessingLog, error) {
	return d.repo.ListLogs(ctx, offset, limit)
}

// Stats returns processing aggregates for the trailing window.
func (d *Deduplicator) Stats(ctx context.Context, window time.Duration) ([]*webhookDomain.ProcessingStats, error) {
	return d.repo.Stats(ctx, d.now().Add(-window))
}

// Cleanup removes expired deduplication records and processing logs past the
// retention window.
func (d *Deduplicator) Cleanup(ctx context.Context) (*CleanupResult, error) {
	now := d.now()

	expired, err := d.repo.DeleteExpiredRecords(ctx, now)
	if err != nil {
		return nil, err
	}

	oldLogs, err := d.repo.DeleteLogsOlderThan(ctx, now.Add(-d.config.LogRetention))
	if err != nil {
		return nil, err
	}

	if d.logger != nil {
		d.logger.Info("webhook cleanup completed",
			slog.Int64("expired_records", expired),
			slog.Int64("old_logs", oldLogs),
		)
	}
	return &CleanupResult{ExpiredRecords: expired, OldLogs: oldLogs}, nil
}

func (d *Deduplicator) resolveTTL(webhookType string, override time.Duration) time.Duration {
	ttl := override
	if ttl <= 0 {
		var ok bool
		if ttl, ok = typeTTLs[webhookType]; !ok {
			ttl = d.config.DefaultTTL
		}
	}
	if ttl > maxTTL {
		ttl = maxTTL
	}
	return ttl
}

func (d *Deduplicator) writeLog(
	ctx context.Context,
	webhookType, key string,
	correlationID *string,
	status webhookDomain.ProcessingStatus,
	payloadSize int,
	start time.Time,
) error {
	return d.repo.CreateLog(ctx, &webhookDomain.ProcessingLog{
		ID:               uuid.Must(uuid.NewV7()),
		WebhookType:      webhookType,
		DeduplicationKey: key,
		CorrelationID:    correlationID,
		Status:           status,
		PayloadSize:      payloadSize,
		ProcessingTimeMs: int(d.now().Sub(start).Milliseconds()),
	})
}

// canonicalize re-marshals a JSON payload with sorted object keys so that
// semantically equal payloads hash equally. Invalid JSON hashes as-is.
func canonicalize(payload []byte) []byte {
	var parsed any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return payload
	}
	canonical, err := json.Marshal(parsed)
	if err != nil {
		return payload
	}
	return canonical
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
