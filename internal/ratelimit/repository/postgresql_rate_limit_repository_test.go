package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/callsync/internal/database"
	apperrors "github.com/allisson/callsync/internal/errors"
	ratelimitDomain "github.com/allisson/callsync/internal/ratelimit/domain"
	"github.com/allisson/callsync/internal/testutil"
)

func TestPostgreSQLRateLimitRepository_BucketLifecycle(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLRateLimitRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.GetBucket(ctx, "ringover:api")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	bucket := &ratelimitDomain.Bucket{
		Key:        "ringover:api",
		Tokens:     42.5,
		Capacity:   60,
		LastRefill: now,
	}
	require.NoError(t, repo.UpsertBucket(ctx, bucket))

	stored, err := repo.GetBucket(ctx, "ringover:api")
	require.NoError(t, err)
	assert.InDelta(t, 42.5, stored.Tokens, 0.001)
	assert.Equal(t, 60, stored.Capacity)
	assert.WithinDuration(t, now, stored.LastRefill, time.Second)

	bucket.Tokens = 12
	require.NoError(t, repo.UpsertBucket(ctx, bucket))

	stored, err = repo.GetBucket(ctx, "ringover:api")
	require.NoError(t, err)
	assert.InDelta(t, 12, stored.Tokens, 0.001)

	require.NoError(t, repo.DeleteBucket(ctx, "ringover:api"))
	_, err = repo.GetBucket(ctx, "ringover:api")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPostgreSQLRateLimitRepository_ReadModifyWriteInTransaction(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLRateLimitRepository(db)
	txManager := database.NewTxManager(db)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.UpsertBucket(ctx, &ratelimitDomain.Bucket{
		Key:        "openai:transcribe",
		Tokens:     10,
		Capacity:   10,
		LastRefill: now,
	}))

	// The locked select plus update is the shape AllowN runs inside WithTx.
	err := txManager.WithTx(ctx, func(ctx context.Context) error {
		bucket, err := repo.GetBucket(ctx, "openai:transcribe")
		if err != nil {
			return err
		}
		bucket.Tokens -= 1
		return repo.UpsertBucket(ctx, bucket)
	})
	require.NoError(t, err)

	stored, err := repo.GetBucket(ctx, "openai:transcribe")
	require.NoError(t, err)
	assert.InDelta(t, 9, stored.Tokens, 0.001)
}

func TestPostgreSQLRateLimitRepository_DeleteBucketsOlderThan(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLRateLimitRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.UpsertBucket(ctx, &ratelimitDomain.Bucket{
		Key: "ringover:api", Tokens: 1, Capacity: 60, LastRefill: now,
	}))

	// updated_at is set by the upsert, so a future cutoff removes the row
	// and a past cutoff keeps it.
	removed, err := repo.DeleteBucketsOlderThan(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = repo.DeleteBucketsOlderThan(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestPostgreSQLRateLimitRepository_GetServiceConfig(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLRateLimitRepository(db)
	ctx := context.Background()

	testutil.CreateTestRateLimitConfig(t, db, "postgres", "ringover", 60, 1000)

	config, err := repo.GetServiceConfig(ctx, "ringover")
	require.NoError(t, err)
	assert.Equal(t, "ringover", config.ServiceName)
	assert.Equal(t, 60, config.MaxRequestsPerMinute)
	assert.Equal(t, 1000, config.MaxRequestsPerHour)

	_, err = repo.GetServiceConfig(ctx, "unknown")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
