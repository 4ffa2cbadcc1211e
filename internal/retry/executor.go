// Package retry provides an executor that wraps a unit of work with exponential
// backoff and jitter, classifying failures as retryable or fatal.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/allisson/callsync/internal/errors"
)

// Config holds retry behavior settings.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int
	// BaseDelay is the delay before the first retry; it doubles on each
	// subsequent retry up to MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the per-retry delay.
	MaxDelay time.Duration
	// JitterFactor (0.0-1.0) adds up to delay*JitterFactor of random extra delay.
	JitterFactor float64
	// MaxElapsed bounds the total wall-clock time across all attempts and
	// backoff sleeps. Zero disables the ceiling, leaving the underlying
	// request timeouts as the only bound on total latency.
	MaxElapsed time.Duration
	// RetryableStatusCodes lists upstream HTTP status codes that warrant a retry.
	RetryableStatusCodes []int
}

// DefaultRetryableStatusCodes are the upstream statuses retried by every preset.
var DefaultRetryableStatusCodes = []int{429, 500, 502, 503, 504}

// APICallConfig returns the retry preset for interactive third-party API calls.
func APICallConfig() Config {
	return Config{
		MaxAttempts:          3,
		BaseDelay:            1 * time.Second,
		MaxDelay:             10 * time.Second,
		JitterFactor:         0.1,
		MaxElapsed:           1 * time.Minute,
		RetryableStatusCodes: DefaultRetryableStatusCodes,
	}
}

// CriticalConfig returns the retry preset for operations that must not be
// given up on early (CRM writes, final state pushes).
func CriticalConfig() Config {
	return Config{
		MaxAttempts:          5,
		BaseDelay:            2 * time.Second,
		MaxDelay:             30 * time.Second,
		JitterFactor:         0.2,
		MaxElapsed:           5 * time.Minute,
		RetryableStatusCodes: DefaultRetryableStatusCodes,
	}
}

// BackgroundConfig returns the retry preset for background jobs where latency
// is cheap and thundering herds are the main concern.
func BackgroundConfig() Config {
	return Config{
		MaxAttempts:          3,
		BaseDelay:            5 * time.Second,
		MaxDelay:             60 * time.Second,
		JitterFactor:         0.3,
		MaxElapsed:           10 * time.Minute,
		RetryableStatusCodes: DefaultRetryableStatusCodes,
	}
}

// RetryableStatus reports whether the given upstream status code is in the
// configured retryable set.
func (c Config) RetryableStatus(code int) bool {
	for _, retryable := range c.RetryableStatusCodes {
		if code == retryable {
			return true
		}
	}
	return false
}

// Executor retries an operation according to its Config.
type Executor struct {
	config Config
	logger *slog.Logger
	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor with the given configuration.
func NewExecutor(config Config, logger *slog.Logger) *Executor {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Executor{
		config: config,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Execute runs op, retrying on retryable failures with exponential backoff and
// jitter. Non-retryable errors propagate immediately; after MaxAttempts (or
// once MaxElapsed would be exceeded) the last error is returned.
func (e *Executor) Execute(
	ctx context.Context,
	operationName string,
	correlationID string,
	op func(ctx context.Context) error,
) error {
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 && e.logger != nil {
				e.logger.Info("operation succeeded after retry",
					slog.String("operation", operationName),
					slog.String("correlation_id", correlationID),
					slog.Int("attempt", attempt),
				)
			}
			return nil
		}

		if !e.shouldRetry(lastErr) {
			if e.logger != nil {
				e.logger.Warn("operation failed with non-retryable error",
					slog.String("operation", operationName),
					slog.String("correlation_id", correlationID),
					slog.Int("attempt", attempt),
					slog.Any("error", lastErr),
				)
			}
			return lastErr
		}

		if attempt >= e.config.MaxAttempts {
			break
		}

		delay := e.delay(attempt)
		if e.config.MaxElapsed > 0 && time.Since(start)+delay > e.config.MaxElapsed {
			if e.logger != nil {
				e.logger.Warn("retry time budget exceeded",
					slog.String("operation", operationName),
					slog.String("correlation_id", correlationID),
					slog.Int("attempt", attempt),
					slog.Duration("elapsed", time.Since(start)),
					slog.Any("error", lastErr),
				)
			}
			return lastErr
		}

		if e.logger != nil {
			e.logger.Info("retrying operation",
				slog.String("operation", operationName),
				slog.String("correlation_id", correlationID),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.Any("error", lastErr),
			)
		}

		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}

	if e.logger != nil {
		e.logger.Error("operation failed after all attempts",
			slog.String("operation", operationName),
			slog.String("correlation_id", correlationID),
			slog.Int("attempts", e.config.MaxAttempts),
			slog.Any("error", lastErr),
		)
	}
	return lastErr
}

// Do runs op through the executor and returns its result. It is the generic
// companion to Execute for operations that produce a value.
func Do[T any](
	ctx context.Context,
	e *Executor,
	operationName string,
	correlationID string,
	op func(ctx context.Context) (T, error),
) (T, error) {
	var result T
	err := e.Execute(ctx, operationName, correlationID, func(ctx context.Context) error {
		value, opErr := op(ctx)
		if opErr != nil {
			return opErr
		}
		result = value
		return nil
	})
	return result, err
}

// shouldRetry classifies an error. Typed errors are consulted first; matching
// a retryable status code inside the message text is a last-resort fallback
// for untyped errors bubbled up from third-party SDKs.
func (e *Executor) shouldRetry(err error) bool {
	if apperrors.Is(err, apperrors.ErrNonRetryable) {
		return false
	}

	var rateLimitErr *apperrors.RateLimitError
	if apperrors.As(err, &rateLimitErr) {
		// Local denial carries a reset time; waiting is the caller's call.
		return false
	}

	var httpErr *apperrors.HTTPError
	if apperrors.As(err, &httpErr) {
		return e.config.RetryableStatus(httpErr.StatusCode)
	}

	if apperrors.Is(err, apperrors.ErrTransient) {
		return true
	}

	var netErr net.Error
	if apperrors.As(err, &netErr) {
		return true
	}

	message := err.Error()
	for _, code := range e.config.RetryableStatusCodes {
		if strings.Contains(message, strconv.Itoa(code)) {
			return true
		}
	}

	return false
}

// delay computes the backoff before retry number attempt (1-based), capped at
// MaxDelay, plus uniform jitter.
func (e *Executor) delay(attempt int) time.Duration {
	backoff := float64(e.config.BaseDelay) * math.Pow(2, float64(attempt-1))
	if capped := float64(e.config.MaxDelay); backoff > capped {
		backoff = capped
	}
	jitter := backoff * e.config.JitterFactor * rand.Float64()
	return time.Duration(backoff + jitter)
}

// sleepContext sleeps for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
