package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	monitoringDomain "github.com/allisson/callsync/internal/monitoring/domain"
	webhookDomain "github.com/allisson/callsync/internal/webhook/domain"
)

// APICallStatsProvider aggregates outbound API call metrics per service.
type APICallStatsProvider interface {
	Stats(ctx context.Context, since time.Time) ([]*monitoringDomain.ServiceStats, error)
}

// WebhookStatsProvider aggregates webhook processing outcomes per type.
type WebhookStatsProvider interface {
	Stats(ctx context.Context, window time.Duration) ([]*webhookDomain.ProcessingStats, error)
}

// RunAPIStats prints outbound API call statistics for the last N hours.
func RunAPIStats(
	ctx context.Context,
	provider APICallStatsProvider,
	writer io.Writer,
	hours int,
	format string,
) error {
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	stats, err := provider.Stats(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to load api stats: %w", err)
	}

	if format == "json" {
		type entry struct {
			Service           string  `json:"service"`
			TotalCalls        int     `json:"total_calls"`
			SuccessfulCalls   int     `json:"successful_calls"`
			SuccessRate       float64 `json:"success_rate"`
			AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
		}
		entries := make([]entry, 0, len(stats))
		for _, s := range stats {
			entries = append(entries, entry{
				Service:           s.Service,
				TotalCalls:        s.TotalCalls,
				SuccessfulCalls:   s.SuccessfulCalls,
				SuccessRate:       successRate(s.SuccessfulCalls, s.TotalCalls),
				AvgResponseTimeMs: s.AvgResponseTimeMs,
			})
		}
		return json.NewEncoder(writer).Encode(entries)
	}

	if len(stats) == 0 {
		fmt.Fprintf(writer, "No API calls recorded in the last %dh\n", hours)
		return nil
	}

	fmt.Fprintf(writer, "API call statistics (last %dh):\n", hours)
	for _, s := range stats {
		fmt.Fprintf(writer, "  %-20s calls=%-6d success=%5.1f%%  avg=%.0fms\n",
			s.Service, s.TotalCalls, successRate(s.SuccessfulCalls, s.TotalCalls), s.AvgResponseTimeMs)
	}
	return nil
}

// RunWebhookStats prints webhook processing statistics for the last N hours.
func RunWebhookStats(
	ctx context.Context,
	provider WebhookStatsProvider,
	writer io.Writer,
	hours int,
	format string,
) error {
	stats, err := provider.Stats(ctx, time.Duration(hours)*time.Hour)
	if err != nil {
		return fmt.Errorf("failed to load webhook stats: %w", err)
	}

	if format == "json" {
		type entry struct {
			WebhookType       string  `json:"webhook_type"`
			Status            string  `json:"status"`
			Count             int     `json:"count"`
			AvgProcessingTime float64 `json:"avg_processing_time_ms"`
		}
		entries := make([]entry, 0, len(stats))
		for _, s := range stats {
			entries = append(entries, entry{
				WebhookType:       s.WebhookType,
				Status:            string(s.Status),
				Count:             s.Count,
				AvgProcessingTime: s.AvgProcessingTime,
			})
		}
		return json.NewEncoder(writer).Encode(entries)
	}

	if len(stats) == 0 {
		fmt.Fprintf(writer, "No webhooks processed in the last %dh\n", hours)
		return nil
	}

	fmt.Fprintf(writer, "Webhook processing statistics (last %dh):\n", hours)
	for _, s := range stats {
		fmt.Fprintf(writer, "  %-35s %-10s count=%-6d avg=%.0fms\n",
			s.WebhookType, s.Status, s.Count, s.AvgProcessingTime)
	}
	return nil
}

func successRate(successful, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(successful) / float64(total) * 100
}
