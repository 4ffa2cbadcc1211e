// Package domain defines the persisted token-bucket entities used to pace
// outbound calls to third-party services.
package domain

import (
	"time"
)

// Bucket is one persisted token bucket, keyed per service operation
// (e.g. "openai:transcribe"). Tokens refill lazily on every check based on
// the elapsed time since LastRefill. Invariant: 0 <= Tokens <= Capacity.
type Bucket struct {
	Key        string
	Tokens     float64
	Capacity   int
	LastRefill time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ServiceConfig holds the configured limits for one external service. It is
// read-only from the limiter's perspective and cached in memory.
type ServiceConfig struct {
	ServiceName          string
	MaxRequestsPerMinute int
	MaxRequestsPerHour   int
}

// Limits is a capacity/refill pair resolved from a ServiceConfig or supplied
// as a per-call override.
type Limits struct {
	Capacity   int
	RefillRate float64 // tokens per second
}

// Resolve derives the effective bucket limits from the service configuration.
// The per-minute limit drives burst capacity; when only an hourly limit is
// configured it supplies both capacity and refill.
func (c ServiceConfig) Resolve() Limits {
	if c.MaxRequestsPerMinute > 0 {
		return Limits{
			Capacity:   c.MaxRequestsPerMinute,
			RefillRate: float64(c.MaxRequestsPerMinute) / 60.0,
		}
	}
	if c.MaxRequestsPerHour > 0 {
		return Limits{
			Capacity:   c.MaxRequestsPerHour,
			RefillRate: float64(c.MaxRequestsPerHour) / 3600.0,
		}
	}
	return Limits{}
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	Capacity   int
	RefillRate float64
}
