// Package repository provides data persistence for outbound API call
// monitoring records.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/allisson/callsync/internal/database"
	apperrors "github.com/allisson/callsync/internal/errors"
	monitoringDomain "github.com/allisson/callsync/internal/monitoring/domain"
)

// PostgreSQLAPICallRepository handles API monitoring persistence for PostgreSQL.
type PostgreSQLAPICallRepository struct {
	db *sql.DB
}

// NewPostgreSQLAPICallRepository creates a new PostgreSQLAPICallRepository.
func NewPostgreSQLAPICallRepository(db *sql.DB) *PostgreSQLAPICallRepository {
	return &PostgreSQLAPICallRepository{db: db}
}

// Create inserts a monitoring record.
func (r *PostgreSQLAPICallRepository) Create(ctx context.Context, call *monitoringDomain.APICall) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO api_monitoring (id, service, request_path, method, response_time_ms,
			  status_code, success, correlation_id, error_message, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`

	_, err := querier.ExecContext(
		ctx,
		query,
		call.ID,
		call.Service,
		call.RequestPath,
		call.Method,
		call.ResponseTimeMs,
		call.StatusCode,
		call.Success,
		call.CorrelationID,
		call.ErrorMessage,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create api monitoring record")
	}
	return nil
}

// Stats aggregates call counts and response times per service since the
// given time.
func (r *PostgreSQLAPICallRepository) Stats(
	ctx context.Context,
	since time.Time,
) ([]*monitoringDomain.ServiceStats, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT service, COUNT(*), COUNT(*) FILTER (WHERE success), COALESCE(AVG(response_time_ms), 0)
			  FROM api_monitoring
			  WHERE created_at >= $1
			  GROUP BY service
			  ORDER BY service ASC`

	rows, err := querier.QueryContext(ctx, query, since)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query api monitoring stats")
	}
	defer rows.Close() //nolint:errcheck

	var stats []*monitoringDomain.ServiceStats
	for rows.Next() {
		var row monitoringDomain.ServiceStats
		if err := rows.Scan(&row.Service, &row.TotalCalls, &row.SuccessfulCalls, &row.AvgResponseTimeMs); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan api monitoring stats")
		}
		stats = append(stats, &row)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate api monitoring stats")
	}
	return stats, nil
}

// DeleteOlderThan removes monitoring rows older than the cutoff and returns
// the number removed.
func (r *PostgreSQLAPICallRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM api_monitoring WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete api monitoring records")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get affected rows")
	}
	return affected, nil
}
