package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/allisson/callsync/internal/database"
	apperrors "github.com/allisson/callsync/internal/errors"
	ratelimitDomain "github.com/allisson/callsync/internal/ratelimit/domain"
)

// MySQLRateLimitRepository handles rate-limit persistence for MySQL.
type MySQLRateLimitRepository struct {
	db *sql.DB
}

// NewMySQLRateLimitRepository creates a new MySQLRateLimitRepository.
func NewMySQLRateLimitRepository(db *sql.DB) *MySQLRateLimitRepository {
	return &MySQLRateLimitRepository{db: db}
}

// ProbeTables verifies the backing tables exist. The limiter uses a failed
// probe to switch into passthrough mode.
func (r *MySQLRateLimitRepository) ProbeTables(ctx context.Context) error {
	querier := database.GetTx(ctx, r.db)

	if _, err := querier.ExecContext(ctx, `SELECT 1 FROM rate_limit_buckets LIMIT 1`); err != nil {
		return apperrors.Wrap(err, "rate_limit_buckets table probe failed")
	}
	if _, err := querier.ExecContext(ctx, `SELECT 1 FROM rate_limit_config LIMIT 1`); err != nil {
		return apperrors.Wrap(err, "rate_limit_config table probe failed")
	}
	return nil
}

// GetBucket retrieves a bucket by key. The row lock holds for the rest of
// the transaction, so a refill-and-consume running inside WithTx cannot race
// a concurrent check on the same key.
func (r *MySQLRateLimitRepository) GetBucket(
	ctx context.Context,
	key string,
) (*ratelimitDomain.Bucket, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + "`key`" + `, tokens, capacity, last_refill, created_at, updated_at
			  FROM rate_limit_buckets
			  WHERE ` + "`key`" + ` = ?
			  FOR UPDATE`

	var bucket ratelimitDomain.Bucket
	err := querier.QueryRowContext(ctx, query, key).Scan(
		&bucket.Key,
		&bucket.Tokens,
		&bucket.Capacity,
		&bucket.LastRefill,
		&bucket.CreatedAt,
		&bucket.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get rate limit bucket")
	}

	return &bucket, nil
}

// UpsertBucket creates a bucket or updates its token count and refill timestamp.
func (r *MySQLRateLimitRepository) UpsertBucket(
	ctx context.Context,
	bucket *ratelimitDomain.Bucket,
) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO rate_limit_buckets (` + "`key`" + `, tokens, capacity, last_refill, created_at, updated_at)
			  VALUES (?, ?, ?, ?, NOW(), NOW())
			  ON DUPLICATE KEY UPDATE tokens = VALUES(tokens), capacity = VALUES(capacity),
			                          last_refill = VALUES(last_refill), updated_at = NOW()`

	_, err := querier.ExecContext(ctx, query, bucket.Key, bucket.Tokens, bucket.Capacity, bucket.LastRefill)
	if err != nil {
		return apperrors.Wrap(err, "failed to upsert rate limit bucket")
	}
	return nil
}

// DeleteBucket removes a bucket by key.
func (r *MySQLRateLimitRepository) DeleteBucket(ctx context.Context, key string) error {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM rate_limit_buckets WHERE `+"`key`"+` = ?`, key)
	if err != nil {
		return apperrors.Wrap(err, "failed to delete rate limit bucket")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to get affected rows")
	}
	if affected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// ListBuckets returns all buckets for monitoring.
func (r *MySQLRateLimitRepository) ListBuckets(ctx context.Context) ([]*ratelimitDomain.Bucket, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + "`key`" + `, tokens, capacity, last_refill, created_at, updated_at
			  FROM rate_limit_buckets
			  ORDER BY ` + "`key`" + ` ASC`

	rows, err := querier.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list rate limit buckets")
	}
	defer rows.Close() //nolint:errcheck

	var buckets []*ratelimitDomain.Bucket
	for rows.Next() {
		var bucket ratelimitDomain.Bucket
		err := rows.Scan(
			&bucket.Key,
			&bucket.Tokens,
			&bucket.Capacity,
			&bucket.LastRefill,
			&bucket.CreatedAt,
			&bucket.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan rate limit bucket")
		}
		buckets = append(buckets, &bucket)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate rate limit buckets")
	}
	return buckets, nil
}

// DeleteBucketsOlderThan removes buckets not touched since the cutoff and
// returns the number removed.
func (r *MySQLRateLimitRepository) DeleteBucketsOlderThan(
	ctx context.Context,
	cutoff time.Time,
) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM rate_limit_buckets WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete stale rate limit buckets")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get affected rows")
	}
	return affected, nil
}

// GetServiceConfig retrieves the configured limits for a service.
func (r *MySQLRateLimitRepository) GetServiceConfig(
	ctx context.Context,
	serviceName string,
) (*ratelimitDomain.ServiceConfig, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT service_name, max_requests_per_minute, max_requests_per_hour
			  FROM rate_limit_config
			  WHERE service_name = ?`

	var config ratelimitDomain.ServiceConfig
	err := querier.QueryRowContext(ctx, query, serviceName).Scan(
		&config.ServiceName,
		&config.MaxRequestsPerMinute,
		&config.MaxRequestsPerHour,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get rate limit service config")
	}

	return &config, nil
}
