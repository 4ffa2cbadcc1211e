package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	webhookUseCase "github.com/allisson/callsync/internal/webhook/usecase"
)

// BucketCleaner removes stale rate limit buckets.
type BucketCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// DeduplicationCleaner removes expired deduplication records and old logs.
type DeduplicationCleaner interface {
	Cleanup(ctx context.Context) (*webhookUseCase.CleanupResult, error)
}

// MonitoringCleaner removes old API monitoring rows.
type MonitoringCleaner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunCleanup removes expired and aged-out operational data: stale rate limit
// buckets, expired deduplication records, old processing logs and old API
// monitoring rows. Each stage runs independently so a failure in one does
// not block the others.
func RunCleanup(
	ctx context.Context,
	limiter BucketCleaner,
	deduplicator DeduplicationCleaner,
	monitoring MonitoringCleaner,
	logger *slog.Logger,
	writer io.Writer,
	bucketMaxAge time.Duration,
	monitoringDays int,
	format string,
) error {
	result := struct {
		StaleBuckets   int64    `json:"stale_buckets"`
		ExpiredRecords int64    `json:"expired_records"`
		OldLogs        int64    `json:"old_logs"`
		MonitoringRows int64    `json:"monitoring_rows"`
		Errors         []string `json:"errors,omitempty"`
	}{}

	buckets, err := limiter.Cleanup(ctx, bucketMaxAge)
	if err != nil {
		logger.Error("bucket cleanup failed", slog.Any("error", err))
		result.Errors = append(result.Errors, fmt.Sprintf("buckets: %v", err))
	} else {
		result.StaleBuckets = buckets
	}

	dedup, err := deduplicator.Cleanup(ctx)
	if err != nil {
		logger.Error("deduplication cleanup failed", slog.Any("error", err))
		result.Errors = append(result.Errors, fmt.Sprintf("deduplication: %v", err))
	} else {
		result.ExpiredRecords = dedup.ExpiredRecords
		result.OldLogs = dedup.OldLogs
	}

	cutoff := time.Now().UTC().Add(-time.Duration(monitoringDays) * 24 * time.Hour)
	rows, err := monitoring.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		logger.Error("monitoring cleanup failed", slog.Any("error", err))
		result.Errors = append(result.Errors, fmt.Sprintf("monitoring: %v", err))
	} else {
		result.MonitoringRows = rows
	}

	if format == "json" {
		if err := json.NewEncoder(writer).Encode(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(writer, "Cleanup completed")
		fmt.Fprintf(writer, "  Stale rate limit buckets: %d\n", result.StaleBuckets)
		fmt.Fprintf(writer, "  Expired dedup records:    %d\n", result.ExpiredRecords)
		fmt.Fprintf(writer, "  Old processing logs:      %d\n", result.OldLogs)
		fmt.Fprintf(writer, "  Old monitoring rows:      %d\n", result.MonitoringRows)
		for _, msg := range result.Errors {
			fmt.Fprintf(writer, "  error: %s\n", msg)
		}
	}

	if len(result.Errors) > 0 {
		return fmt.Errorf("cleanup finished with %d error(s)", len(result.Errors))
	}
	return nil
}
