// Package repository provides data persistence for webhook deduplication
// records and processing logs.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/allisson/callsync/internal/database"
	apperrors "github.com/allisson/callsync/internal/errors"
	webhookDomain "github.com/allisson/callsync/internal/webhook/domain"
)

// PostgreSQLWebhookRepository handles webhook persistence for PostgreSQL.
type PostgreSQLWebhookRepository struct {
	db *sql.DB
}

// NewPostgreSQLWebhookRepository creates a new PostgreSQLWebhookRepository.
func NewPostgreSQLWebhookRepository(db *sql.DB) *PostgreSQLWebhookRepository {
	return &PostgreSQLWebhookRepository{db: db}
}

// GetActiveRecord retrieves a non-expired deduplication record by key.
func (r *PostgreSQLWebhookRepository) GetActiveRecord(
	ctx context.Context,
	key string,
	now time.Time,
) (*webhookDomain.DeduplicationRecord, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, deduplication_key, webhook_type, payload_hash, correlation_id, expires_at, created_at
			  FROM webhook_deduplication
			  WHERE deduplication_key = $1 AND expires_at > $2`

	var record webhookDomain.DeduplicationRecord
	err := querier.QueryRowContext(ctx, query, key, now).Scan(
		&record.ID,
		&record.DeduplicationKey,
		&record.WebhookType,
		&record.PayloadHash,
		&record.CorrelationID,
		&record.ExpiresAt,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get deduplication record")
	}

	return &record, nil
}

// CreateRecord inserts a deduplication record. An expired row for the same
// key is refreshed in place; an existing active row surfaces as ErrConflict.
func (r *PostgreSQLWebhookRepository) CreateRecord(
	ctx context.Context,
	record *webhookDomain.DeduplicationRecord,
) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO webhook_deduplication (id, deduplication_key, webhook_type, payload_hash,
			  correlation_id, expires_at, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, NOW())
			  ON CONFLICT (deduplication_key) DO UPDATE
			  SET id = EXCLUDED.id, webhook_type = EXCLUDED.webhook_type,
			      payload_hash = EXCLUDED.payload_hash, correlation_id = EXCLUDED.correlation_id,
			      expires_at = EXCLUDED.expires_at, created_at = NOW()
			  WHERE webhook_deduplication.expires_at <= NOW()`

	result, err := querier.ExecContext(
		ctx,
		query,
		record.ID,
		record.DeduplicationKey,
		record.WebhookType,
		record.PayloadHash,
		record.CorrelationID,
		record.ExpiresAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create deduplication record")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to get affected rows")
	}
	if affected == 0 {
		return apperrors.ErrConflict
	}
	return nil
}

// DeleteRecord removes a deduplication record by key.
func (r *PostgreSQLWebhookRepository) DeleteRecord(ctx context.Context, key string) error {
	querier := database.GetTx(ctx, r.db)

	_, err := querier.ExecContext(ctx, `DELETE FROM webhook_deduplication WHERE deduplication_key = $1`, key)
	if err != nil {
		return apperrors.Wrap(err, "failed to delete deduplication record")
	}
	return nil
}

// DeleteExpiredRecords removes records whose TTL has passed and returns the
// number removed.
func (r *PostgreSQLWebhookRepository) DeleteExpiredRecords(ctx context.Context, now time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM webhook_deduplication WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete expired deduplication records")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get affected rows")
	}
	return affected, nil
}

// CreateLog appends a processing-log row.
func (r *PostgreSQLWebhookRepository) CreateLog(ctx context.Context, log *webhookDomain.ProcessingLog) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO webhook_processing_logs (id, webhook_type, deduplication_key, correlation_id,
			  status, payload_size, processing_time_ms, error_message, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`

	_, err := querier.ExecContext(
		ctx,
		query,
		log.ID,
		log.WebhookType,
		log.DeduplicationKey,
		log.CorrelationID,
		log.Status,
		log.PayloadSize,
		log.ProcessingTimeMs,
		log.ErrorMessage,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create processing log")
	}
	return nil
}

// UpdateLatestLogStatus flips the most recent log row for a key to the given
// status, recording the error message.
func (r *PostgreSQLWebhookRepository) UpdateLatestLogStatus(
	ctx context.Context,
	key string,
	status webhookDomain.ProcessingStatus,
	errorMessage *string,
) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE webhook_processing_logs
			  SET status = $1, error_message = $2
			  WHERE id = (SELECT id FROM webhook_processing_logs
			              WHERE deduplication_key = $3
			              ORDER BY created_at DESC
			              LIMIT 1)`

	result, err := querier.ExecContext(ctx, query, status, errorMessage, key)
	if err != nil {
		return apperrors.Wrap(err, "failed to update processing log status")
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

// DeleteLogsOlderThan removes processing logs older than the cutoff and
// returns the number removed.
func (r *PostgreSQLWebhookRepository) DeleteLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM webhook_processing_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete processing logs")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get affected rows")
	}
	return affected, nil
}

// ListLogs returns processing logs ordered newest first.
func (r *PostgreSQLWebhookRepository) ListLogs(
	ctx context.Context,
	offset, limit int,
) ([]*webhookDomain.ProcessingLog, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, webhook_type, deduplication_key, correlation_id, status,
			  payload_size, processing_time_ms, error_message, created_at
			  FROM webhook_processing_logs
			  ORDER BY created_at DESC
			  LIMIT $1 OFFSET $2`

	rows, err := querier.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query processing logs")
	}
	defer rows.Close() //nolint:errcheck

	var logs []*webhookDomain.ProcessingLog
	for rows.Next() {
		var log webhookDomain.ProcessingLog
		if err := rows.Scan(
			&log.ID,
			&log.WebhookType,
			&log.DeduplicationKey,
			&log.CorrelationID,
			&log.Status,
			&log.PayloadSize,
			&log.ProcessingTimeMs,
			&log.ErrorMessage,
			&log.CreatedAt,
		); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan processing log")
		}
		logs = append(logs, &log)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate processing logs")
	}
	return logs, nil
}

// Stats aggregates processing logs by type and status since the given time.
func (r *PostgreSQLWebhookRepository) Stats(
	ctx context.Context,
	since time.Time,
) ([]*webhookDomain.ProcessingStats, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT webhook_type, status, COUNT(*), COALESCE(AVG(processing_time_ms), 0)
			  FROM webhook_processing_logs
			  WHERE created_at >= $1
			  GROUP BY webhook_type, status
			  ORDER BY webhook_type ASC, status ASC`

	rows, err := querier.QueryContext(ctx, query, since)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query processing stats")
	}
	defer rows.Close() //nolint:errcheck

	var stats []*webhookDomain.ProcessingStats
	for rows.Next() {
		var row webhookDomain.ProcessingStats
		if err := rows.Scan(&row.WebhookType, &row.Status, &row.Count, &row.AvgProcessingTime); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan processing stats")
		}
		stats = append(stats, &row)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate processing stats")
	}
	return stats, nil
}
