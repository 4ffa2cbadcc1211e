// Package httpclient provides the resilient outbound HTTP client. Every call
// to a third-party API flows through it: requests are paced by the persisted
// rate limiter, retried with backoff on transient failures, and recorded in
// the api_monitoring table.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/allisson/callsync/internal/errors"
	"github.com/allisson/callsync/internal/metrics"
	monitoringDomain "github.com/allisson/callsync/internal/monitoring/domain"
	ratelimitDomain "github.com/allisson/callsync/internal/ratelimit/domain"
	"github.com/allisson/callsync/internal/retry"
)

// maxRetryAfter caps how long an upstream Retry-After header can make us wait.
const maxRetryAfter = 300 * time.Second

// RateLimiter is the slice of the limiter the client needs.
type RateLimiter interface {
	AllowN(ctx context.Context, key string, tokens int, override *ratelimitDomain.Limits) (*ratelimitDomain.Decision, error)
}

// APICallRepository records dispatched outbound calls.
type APICallRepository interface {
	Create(ctx context.Context, call *monitoringDomain.APICall) error
}

// Options configures a single outbound request.
type Options struct {
	// Service names the third party for rate limiting and monitoring
	// (e.g. "ringover", "openai", "pipedrive"). Required.
	Service string
	// Operation overrides the path-based operation inference when set.
	Operation string
	// CorrelationID is attached as X-Correlation-ID and threaded into logs
	// and monitoring rows.
	CorrelationID string
	// BatchID is attached as X-Batch-ID when set.
	BatchID string
	// Tokens is the rate-limit cost of this request (default 1).
	Tokens int
	// Headers are added to the request.
	Headers http.Header
	// Query is appended to the request URL.
	Query url.Values
	// Body is the raw request body. Mutually exclusive with JSON.
	Body []byte
	// JSON, when non-nil, is marshalled as the request body with a JSON
	// content type.
	JSON any
}

// Response is the outcome of a successful request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// RateLimit reflects the local bucket state at dispatch time.
	RateLimit *ratelimitDomain.Decision
}

// Client is the resilient outbound HTTP client.
type Client struct {
	httpClient *http.Client
	limiter    RateLimiter
	executor   *retry.Executor
	retryCfg   retry.Config
	apiCalls   APICallRepository
	metrics    metrics.BusinessMetrics
	logger     *slog.Logger
	// sleep is swapped out in tests to avoid real Retry-After waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a resilient client. The retry configuration applies to
// every request issued through it.
func NewClient(
	httpClient *http.Client,
	limiter RateLimiter,
	retryCfg retry.Config,
	apiCalls APICallRepository,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}
	return &Client{
		httpClient: httpClient,
		limiter:    limiter,
		executor:   retry.NewExecutor(retryCfg, logger),
		retryCfg:   retryCfg,
		apiCalls:   apiCalls,
		metrics:    businessMetrics,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	return c.Do(ctx, http.MethodGet, rawURL, opts)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	return c.Do(ctx, http.MethodPost, rawURL, opts)
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	return c.Do(ctx, http.MethodPut, rawURL, opts)
}

// Do issues a request with rate limiting, retries, and monitoring.
//
// A local rate-limit denial fails fast with a RateLimitError carrying the
// bucket reset time; it is never retried. An upstream 429, by contrast, goes
// through the retry executor like any other retryable status.
func (c *Client) Do(ctx context.Context, method, rawURL string, opts Options) (*Response, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "invalid request url")
	}
	if len(opts.Query) > 0 {
		query := parsed.Query()
		for name, values := range opts.Query {
			for _, value := range values {
				query.Add(name, value)
			}
		}
		parsed.RawQuery = query.Encode()
	}

	operation := opts.Operation
	if operation == "" {
		operation = inferOperation(opts.Service, parsed.Path)
	}
	rateLimitKey := opts.Service + ":" + operation

	decision, err := c.limiter.AllowN(ctx, rateLimitKey, opts.Tokens, nil)
	if err != nil {
		// Degrade open on limiter storage failure: pacing is best-effort,
		// business traffic is not.
		if c.logger != nil {
			c.logger.Warn("rate limit check failed, allowing request",
				slog.String("rate_limit_key", rateLimitKey),
				slog.Any("error", err),
			)
		}
	} else if !decision.Allowed {
		if c.logger != nil {
			c.logger.Info("request denied by local rate limit",
				slog.String("rate_limit_key", rateLimitKey),
				slog.String("correlation_id", opts.CorrelationID),
				slog.Time("reset_time", decision.ResetTime),
			)
		}
		return nil, apperrors.NewRateLimitError(rateLimitKey, decision.ResetTime)
	}

	body, contentType, err := encodeBody(opts)
	if err != nil {
		return nil, err
	}

	operationName := rateLimitKey
	start := time.Now()

	response, err := retry.Do(ctx, c.executor, operationName, opts.CorrelationID,
		func(ctx context.Context) (*Response, error) {
			return c.dispatch(ctx, method, parsed.String(), body, contentType, opts)
		})

	if c.logger != nil {
		statusCode := 0
		if response != nil {
			statusCode = response.StatusCode
		} else {
			var httpErr *apperrors.HTTPError
			if apperrors.As(err, &httpErr) {
				statusCode = httpErr.StatusCode
			}
		}
		c.logger.Info("outbound request completed",
			slog.String("service", opts.Service),
			slog.String("method", method),
			slog.String("path", parsed.Path),
			slog.Int("status_code", statusCode),
			slog.Bool("success", err == nil),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("correlation_id", opts.CorrelationID),
		)
	}

	if err != nil {
		return nil, err
	}
	response.RateLimit = decision
	return response, nil
}

// dispatch performs one HTTP attempt and records it in api_monitoring.
// Retryable upstream statuses honor the Retry-After header (capped) before
// reporting the failure to the executor.
func (c *Client) dispatch(
	ctx context.Context,
	method, requestURL string,
	body []byte,
	contentType string,
	opts Options,
) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to build request")
	}

	for name, values := range opts.Headers {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if opts.CorrelationID != "" {
		req.Header.Set("X-Correlation-ID", opts.CorrelationID)
	}
	if opts.BatchID != "" {
		req.Header.Set("X-Batch-ID", opts.BatchID)
	}

	attemptStart := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failure; retryable.
		dispatchErr := apperrors.Wrap(apperrors.ErrTransient, err.Error())
		c.record(ctx, method, req.URL.Path, opts, 0, time.Since(attemptStart), dispatchErr)
		return nil, dispatchErr
	}
	defer resp.Body.Close() //nolint:errcheck

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		dispatchErr := apperrors.Wrap(apperrors.ErrTransient, err.Error())
		c.record(ctx, method, req.URL.Path, opts, resp.StatusCode, time.Since(attemptStart), dispatchErr)
		return nil, dispatchErr
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.record(ctx, method, req.URL.Path, opts, resp.StatusCode, time.Since(attemptStart), nil)
		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       responseBody,
		}, nil
	}

	httpErr := apperrors.NewHTTPError(resp.StatusCode, resp.Status, truncate(string(responseBody), 512))
	c.record(ctx, method, req.URL.Path, opts, resp.StatusCode, time.Since(attemptStart), httpErr)

	if c.retryCfg.RetryableStatus(resp.StatusCode) {
		if wait := retryAfter(resp.Header); wait > 0 {
			if c.logger != nil {
				c.logger.Info("honoring upstream retry-after",
					slog.String("service", opts.Service),
					slog.Duration("wait", wait),
					slog.Int("status_code", resp.StatusCode),
				)
			}
			if sleepErr := c.sleep(ctx, wait); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}

	return nil, httpErr
}

// record writes one monitoring row and metrics per dispatched attempt, so
// retries show up in the api_monitoring stats. Monitoring failures are
// logged, never propagated.
func (c *Client) record(
	ctx context.Context,
	method, path string,
	opts Options,
	statusCode int,
	elapsed time.Duration,
	callErr error,
) {
	success := callErr == nil
	var errorMessage *string
	if callErr != nil {
		message := callErr.Error()
		errorMessage = &message
	}

	status := "success"
	if !success {
		status = "error"
	}
	c.metrics.RecordOperation(ctx, "httpclient", opts.Service, status)
	c.metrics.RecordDuration(ctx, "httpclient", opts.Service, elapsed, status)

	if c.apiCalls == nil {
		return
	}

	var correlationID *string
	if opts.CorrelationID != "" {
		correlationID = &opts.CorrelationID
	}

	call := &monitoringDomain.APICall{
		ID:             uuid.Must(uuid.NewV7()),
		Service:        opts.Service,
		RequestPath:    path,
		Method:         method,
		ResponseTimeMs: int(elapsed.Milliseconds()),
		StatusCode:     statusCode,
		Success:        success,
		CorrelationID:  correlationID,
		ErrorMessage:   errorMessage,
	}
	if err := c.apiCalls.Create(ctx, call); err != nil && c.logger != nil {
		c.logger.Warn("failed to record api monitoring entry",
			slog.String("service", opts.Service),
			slog.Any("error", err),
		)
	}
}

// encodeBody resolves the request body and content type from the options.
func encodeBody(opts Options) ([]byte, string, error) {
	if opts.JSON != nil {
		encoded, err := json.Marshal(opts.JSON)
		if err != nil {
			return nil, "", apperrors.Wrap(apperrors.ErrInvalidInput, "failed to encode json body")
		}
		return encoded, "application/json", nil
	}
	return opts.Body, "", nil
}

// retryAfter parses the Retry-After header as delay seconds or an HTTP date,
// capped at maxRetryAfter.
func retryAfter(header http.Header) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return 0
	}

	var wait time.Duration
	if seconds, err := strconv.Atoi(value); err == nil {
		wait = time.Duration(seconds) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		wait = time.Until(at)
	}

	if wait < 0 {
		return 0
	}
	if wait > maxRetryAfter {
		return maxRetryAfter
	}
	return wait
}

// truncate limits stored upstream bodies to keep monitoring rows small.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
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
