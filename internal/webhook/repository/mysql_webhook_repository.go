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

// MySQLWebhookRepository handles webhook persistence for MySQL.
type MySQLWebhookRepository struct {
	db *sql.DB
}

// NewMySQLWebhookRepository creates a new MySQLWebhookRepository.
func NewMySQLWebhookRepository(db *sql.DB) *MySQLWebhookRepository {
	return &MySQLWebhookRepository{db: db}
}

// GetActiveRecord retrieves a non-expired deduplication record by key.
func (r *MySQLWebhookRepository) GetActiveRecord(
	ctx context.Context,
	key string,
	now time.Time,
) (*webhookDomain.DeduplicationRecord, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, deduplication_key, webhook_type, payload_hash, correlation_id, expires_at, created_at
			  FROM webhook_deduplication
			  WHERE deduplication_key = ? AND expires_at > ?`

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
func (r *MySQLWebhookRepository) CreateRecord(
	ctx context.Context,
	record *webhookDomain.DeduplicationRecord,
) error {
	querier := database.GetTx(ctx, r.db)

	// MySQL reports 0 affected rows when ON DUPLICATE KEY UPDATE changes
	// nothing. expires_at is assigned last so every IF still reads the
	// stored value.
	query := `INSERT INTO webhook_deduplication (id, deduplication_key, webhook_type, payload_hash,
			  correlation_id, expires_at, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, NOW())
			  ON DUPLICATE KEY UPDATE
			    id = IF(expires_at <= NOW(), VALUES(id), id),
			    webhook_type = IF(expires_at <= NOW(), VALUES(webhook_type), webhook_type),
			    payload_hash = IF(expires_at <= NOW(), VALUES(payload_hash), payload_hash),
			    correlation_id = IF(expires_at <= NOW(), VALUES(correlation_id), correlation_id),
			    created_at = IF(expires_at <= NOW(), NOW(), created_at),
			    expires_at = IF(expires_at <= NOW(), VALUES(expires_at), expires_at)`

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
func (r *MySQLWebhookRepository) DeleteRecord(ctx context.Context, key string) error {
	querier := database.GetTx(ctx, r.db)

	_, err := querier.ExecContext(ctx, `DELETE FROM webhook_deduplication WHERE deduplication_key = ?`, key)
	if err != nil {
		return apperrors.Wrap(err, "failed to delete deduplication record")
	}
	return nil
}

// DeleteExpiredRecords removes records whose TTL has passed and returns the
// number removed.
func (r *MySQLWebhookRepository) DeleteExpiredRecords(ctx context.Context, now time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM webhook_deduplication WHERE expires_at <= ?`, now)
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
func (r *MySQLWebhookRepository) CreateLog(ctx context.Context, log *webhookDomain.ProcessingLog) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO webhook_processing_logs (id, webhook_type, deduplication_key, correlation_id,
			  status, payload_size, processing_time_ms, error_message, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, NOW())`

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
func (r *MySQLWebhookRepository) UpdateLatestLogStatus(
	ctx context.Context,
	key string,
	status webhookDomain.ProcessingStatus,
	errorMessage *string,
) error {
	querier := database.GetTx(ctx, r.db)

	// MySQL cannot update a table it subqueries; join against the derived id.
	query := `UPDATE webhook_processing_logs l
			  JOIN (SELECT id FROM webhook_processing_logs
			        WHERE deduplication_key = ?
			        ORDER BY created_at DESC
			        LIMIT 1) latest ON latest.id = l.id
			  SET l.status = ?, l.error_message = ?`

	result, err := querier.ExecContext(ctx, query, key, status, errorMessage)
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
func (r *MySQLWebhookRepository) DeleteLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM webhook_processing_logs WHERE created_at < ?`, cutoff)
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
func (r *MySQLWebhookRepository) ListLogs(
	ctx context.Context,
	offset, limit int,
) ([]*webhookDomain.ProcessingLog, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, webhook_type, deduplication_key, correlation_id, status,
			  payload_size, processing_time_ms, error_message, created_at
			  FROM webhook_processing_logs
			  ORDER BY created_at DESC
			  LIMIT ? OFFSET ?`

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
func (r *MySQLWebhookRepository) Stats(
	ctx context.Context,
	since time.Time,
) ([]*webhookDomain.ProcessingStats, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT webhook_type, status, COUNT(*), COALESCE(AVG(processing_time_ms), 0)
			  FROM webhook_processing_logs
			  WHERE created_at >= ?
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
