// Package errors provides standardized domain errors that express business intent
// rather than infrastructure details. These errors should be used by use cases
// and mapped to appropriate HTTP status codes by handlers.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Standard domain errors that can be used across all domain modules.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a conflict with existing data (e.g., duplicate key).
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates the input data is invalid or fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates the request lacks valid authentication credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the authenticated user doesn't have permission.
	ErrForbidden = errors.New("forbidden")

	// ErrNonRetryable marks a failure that will never succeed on retry
	// (malformed payload, permanently rejected request). The retry executor
	// propagates it immediately and the task worker dead-letters the task
	// without consuming the remaining attempt budget.
	ErrNonRetryable = errors.New("non-retryable")

	// ErrTransient marks a failure that is expected to clear on its own
	// (connection reset, upstream hiccup). The retry executor always treats
	// it as retryable regardless of status-code classification.
	ErrTransient = errors.New("transient")
)

// HTTPError carries the final status of an upstream HTTP call. The status code
// is kept as a typed field so the retry executor can classify it without
// falling back to message inspection.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error returns the error message including the numeric status code.
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream returned %d (%s): %s", e.StatusCode, e.Status, e.Body)
	}
	return fmt.Sprintf("upstream returned %d (%s)", e.StatusCode, e.Status)
}

// NewHTTPError creates an HTTPError from an upstream response.
func NewHTTPError(statusCode int, status, body string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Status: status, Body: body}
}

// RateLimitError indicates a local rate-limit denial. This is distinct from an
// upstream 429: the caller decides whether to wait until ResetTime or fail,
// and the retry executor never retries it.
type RateLimitError struct {
	Key       string
	ResetTime time.Time
}

// Error returns the error message including the bucket key and reset time.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q, resets at %s", e.Key, e.ResetTime.Format(time.RFC3339))
}

// NewRateLimitError creates a RateLimitError for the given bucket key.
func NewRateLimitError(key string, resetTime time.Time) *RateLimitError {
	return &RateLimitError{Key: key, ResetTime: resetTime}
}

// RetryAfterSeconds returns the whole seconds until ResetTime, never negative.
func (e *RateLimitError) RetryAfterSeconds() int {
	seconds := int(time.Until(e.ResetTime).Seconds())
	if seconds < 0 {
		return 0
	}
	return seconds
}

// New creates a new error with the given message.
// This is a convenience wrapper around errors.New for consistency.
func New(message string) error {
	return errors.New(message)
}

// Wrap wraps an error with additional context while preserving the error chain.
// Use this to add context at each layer without losing the original error type.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}
