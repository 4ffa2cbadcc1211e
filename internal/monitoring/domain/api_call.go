// Package domain defines the outbound API call monitoring entities.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// APICall is one append-only monitoring row per outbound HTTP request that was
// actually dispatched. Rows are write-once and never mutated.
type APICall struct {
	ID             uuid.UUID
	Service        string
	RequestPath    string
	Method         string
	ResponseTimeMs int
	StatusCode     int
	Success        bool
	CorrelationID  *string
	ErrorMessage   *string
	CreatedAt      time.Time
}

// ServiceStats aggregates monitoring rows per service over a window.
type ServiceStats struct {
	Service           string
	TotalCalls        int
	SuccessfulCalls   int
	AvgResponseTimeMs float64
}
