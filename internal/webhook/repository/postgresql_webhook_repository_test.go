package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/callsync/internal/errors"
	"github.com/allisson/callsync/internal/testutil"
	webhookDomain "github.com/allisson/callsync/internal/webhook/domain"
)

func newTestRecord(key string, expiresAt time.Time) *webhookDomain.DeduplicationRecord {
	return &webhookDomain.DeduplicationRecord{
		ID:               uuid.Must(uuid.NewV7()),
		DeduplicationKey: key,
		WebhookType:      "call_recording",
		PayloadHash:      "hash-" + key,
		ExpiresAt:        expiresAt,
	}
}

func TestPostgreSQLWebhookRepository_CreateRecord_ActiveConflict(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLWebhookRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	first := newTestRecord("call_recording:k1", now.Add(time.Hour))
	require.NoError(t, repo.CreateRecord(ctx, first))

	// A second insert for the same key must lose while the record is active.
	second := newTestRecord("call_recording:k1", now.Add(time.Hour))
	err := repo.CreateRecord(ctx, second)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	active, err := repo.GetActiveRecord(ctx, "call_recording:k1", now)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
	assert.Equal(t, first.PayloadHash, active.PayloadHash)
}

func TestPostgreSQLWebhookRepository_CreateRecord_RefreshesExpiredRow(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLWebhookRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := newTestRecord("call_recording:k2", now.Add(-time.Minute))
	require.NoError(t, repo.CreateRecord(ctx, expired))

	// The expired row is invisible to the active lookup but still occupies
	// the unique key.
	_, err := repo.GetActiveRecord(ctx, "call_recording:k2", now)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// A redelivery after the window must be admitted, not treated as a
	// duplicate of the stale row.
	fresh := newTestRecord("call_recording:k2", now.Add(time.Hour))
	fresh.PayloadHash = "hash-refreshed"
	require.NoError(t, repo.CreateRecord(ctx, fresh))

	active, err := repo.GetActiveRecord(ctx, "call_recording:k2", now)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, active.ID)
	assert.Equal(t, "hash-refreshed", active.PayloadHash)
	assert.WithinDuration(t, fresh.ExpiresAt, active.ExpiresAt, time.Second)
}

func TestPostgreSQLWebhookRepository_DeleteExpiredRecords(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLWebhookRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.CreateRecord(ctx, newTestRecord("call_recording:old", now.Add(-time.Hour))))
	require.NoError(t, repo.CreateRecord(ctx, newTestRecord("call_recording:live", now.Add(time.Hour))))

	removed, err := repo.DeleteExpiredRecords(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = repo.GetActiveRecord(ctx, "call_recording:live", now)
	assert.NoError(t, err)
}

func TestPostgreSQLWebhookRepository_LogsRoundTrip(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLWebhookRepository(db)
	ctx := context.Background()

	log := &webhookDomain.ProcessingLog{
		ID:               uuid.Must(uuid.NewV7()),
		WebhookType:      "crm_deal",
		DeduplicationKey: "crm_deal:k1",
		Status:           webhookDomain.ProcessingStatusProcessed,
		PayloadSize:      128,
		ProcessingTimeMs: 4,
	}
	require.NoError(t, repo.CreateLog(ctx, log))

	errorMessage := "downstream enqueue failed"
	require.NoError(t, repo.UpdateLatestLogStatus(ctx, "crm_deal:k1", webhookDomain.ProcessingStatusFailed, &errorMessage))

	logs, err := repo.ListLogs(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, log.ID, logs[0].ID)
	assert.Equal(t, webhookDomain.ProcessingStatusFailed, logs[0].Status)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Equal(t, errorMessage, *logs[0].ErrorMessage)

	stats, err := repo.Stats(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "crm_deal", stats[0].WebhookType)
	assert.Equal(t, webhookDomain.ProcessingStatusFailed, stats[0].Status)
	assert.Equal(t, int64(1), stats[0].Count)
}
