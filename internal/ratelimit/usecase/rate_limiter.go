// Package usecase implements the persisted token-bucket rate limiter that
// paces outbound calls to third-party services.
package usecase

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/allisson/callsync/internal/database"
	apperrors "github.com/allisson/callsync/internal/errors"
	ratelimitDomain "github.com/allisson/callsync/internal/ratelimit/domain"
)

// RateLimitRepository defines rate-limit persistence operations.
type RateLimitRepository interface {
	ProbeTables(ctx context.Context) error
	GetBucket(ctx context.Context, key string) (*ratelimitDomain.Bucket, error)
	UpsertBucket(ctx context.Context, bucket *ratelimitDomain.Bucket) error
	DeleteBucket(ctx context.Context, key string) error
	ListBuckets(ctx context.Context) ([]*ratelimitDomain.Bucket, error)
	DeleteBucketsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	GetServiceConfig(ctx context.Context, serviceName string) (*ratelimitDomain.ServiceConfig, error)
}

// Limiter defines the rate-limiting operations used by the resilient HTTP
// client and the admin tooling.
type Limiter interface {
	Allow(ctx context.Context, key string) (*ratelimitDomain.Decision, error)
	AllowN(ctx context.Context, key string, tokens int, override *ratelimitDomain.Limits) (*ratelimitDomain.Decision, error)
	CheckMultiple(ctx context.Context, requests map[string]int) (bool, map[string]*ratelimitDomain.Decision, error)
	Status(ctx context.Context, key string) (*ratelimitDomain.Decision, error)
	Reset(ctx context.Context, key string) error
	AllBuckets(ctx context.Context) ([]*ratelimitDomain.Bucket, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
	Passthrough() bool
}

// Config holds the global fallback limits applied when a service has no row
// in rate_limit_config.
type Config struct {
	DefaultMaxRequestsPerMinute int
	DefaultMaxRequestsPerHour   int
}

// TokenBucketLimiter implements Limiter against a durable bucket store.
//
// At construction the backing tables are probed; when they are missing the
// limiter degrades open: every check reports full capacity so the absence of
// rate-limit infrastructure never blocks business traffic.
type TokenBucketLimiter struct {
	config      Config
	txManager   database.TxManager
	repo        RateLimitRepository
	logger      *slog.Logger
	passthrough bool
	now         func() time.Time

	mu          sync.RWMutex
	configCache map[string]ratelimitDomain.Limits
}

// NewTokenBucketLimiter creates a TokenBucketLimiter and probes the backing
// tables to decide between normal and passthrough operation.
func NewTokenBucketLimiter(
	ctx context.Context,
	config Config,
	txManager database.TxManager,
	repo RateLimitRepository,
	logger *slog.Logger,
) *TokenBucketLimiter {
	limiter := &TokenBucketLimiter{
		config:      config,
		txManager:   txManager,
		repo:        repo,
		logger:      logger,
		now:         time.Now,
		configCache: make(map[string]ratelimitDomain.Limits),
	}

	if err := repo.ProbeTables(ctx); err != nil {
		limiter.passthrough = true
		if logger != nil {
			logger.Warn("rate limit tables unavailable, limiter running in passthrough mode",
				slog.Any("error", err),
			)
		}
	}

	return limiter
}

// Passthrough reports whether the limiter is degraded to pass-through.
func (l *TokenBucketLimiter) Passthrough() bool {
	return l.passthrough
}

// Allow checks and consumes a single token for the given key.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (*ratelimitDomain.Decision, error) {
	return l.AllowN(ctx, key, 1, nil)
}

// AllowN checks and consumes tokens for the given key. A non-nil override
// replaces the limits resolved from the service configuration.
func (l *TokenBucketLimiter) AllowN(
	ctx context.Context,
	key string,
	tokens int,
	override *ratelimitDomain.Limits,
) (*ratelimitDomain.Decision, error) {
	if tokens < 1 {
		tokens = 1
	}

	limits := l.resolveLimits(ctx, key, override)
	if l.passthrough {
		return l.passthroughDecision(limits), nil
	}

	var decision *ratelimitDomain.Decision
	err := l.txManager.WithTx(ctx, func(ctx context.Context) error {
		var txErr error
		decision, txErr = l.check(ctx, key, tokens, limits, true)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// CheckMultiple performs an all-or-nothing batch check. Every key is checked
// and consumed even when another key denies; the aggregate result is the
// logical AND across all decisions.
func (l *TokenBucketLimiter) CheckMultiple(
	ctx context.Context,
	requests map[string]int,
) (bool, map[string]*ratelimitDomain.Decision, error) {
	allowed := true
	decisions := make(map[string]*ratelimitDomain.Decision, len(requests))

	for key, tokens := range requests {
		decision, err := l.AllowN(ctx, key, tokens, nil)
		if err != nil {
			return false, decisions, err
		}
		decisions[key] = decision
		if !decision.Allowed {
			allowed = false
		}
	}

	return allowed, decisions, nil
}

// Status returns the current state of a bucket without consuming tokens.
func (l *TokenBucketLimiter) Status(ctx context.Context, key string) (*ratelimitDomain.Decision, error) {
	limits := l.resolveLimits(ctx, key, nil)
	if l.passthrough {
		return l.passthroughDecision(limits), nil
	}
	return l.check(ctx, key, 0, limits, false)
}

// Reset deletes a bucket, restoring it to full capacity on next use.
// This is an administrative override.
func (l *TokenBucketLimiter) Reset(ctx context.Context, key string) error {
	if l.passthrough {
		return nil
	}
	err := l.repo.DeleteBucket(ctx, key)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}

// AllBuckets returns every persisted bucket for monitoring.
func (l *TokenBucketLimiter) AllBuckets(ctx context.Context) ([]*ratelimitDomain.Bucket, error) {
	if l.passthrough {
		return nil, nil
	}
	return l.repo.ListBuckets(ctx)
}

// Cleanup deletes buckets that have not been touched within olderThan and
// returns the number removed.
func (l *TokenBucketLimiter) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if l.passthrough {
		return 0, nil
	}
	return l.repo.DeleteBucketsOlderThan(ctx, l.now().Add(-olderThan))
}

// check performs the lazy-refill token bucket algorithm. With consume=false it
// only projects the current state.
func (l *TokenBucketLimiter) check(
	ctx context.Context,
	key string,
	tokens int,
	limits ratelimitDomain.Limits,
	consume bool,
) (*ratelimitDomain.Decision, error) {
	now := l.now()

	bucket, err := l.repo.GetBucket(ctx, key)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		bucket = &ratelimitDomain.Bucket{
			Key:        key,
			Tokens:     float64(limits.Capacity),
			Capacity:   limits.Capacity,
			LastRefill: now,
		}
	}

	// Lazy refill based on elapsed time; capacity may have changed since the
	// bucket row was created, so the configured capacity wins.
	elapsed := now.Sub(bucket.LastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	available := math.Min(float64(limits.Capacity), bucket.Tokens+elapsed*limits.RefillRate)

	decision := &ratelimitDomain.Decision{
		Capacity:   limits.Capacity,
		RefillRate: limits.RefillRate,
	}

	decision.Allowed = available >= float64(tokens)
	if consume && decision.Allowed {
		available -= float64(tokens)
	}

	decision.Remaining = int(available)
	decision.ResetTime = resetTime(now, limits, available)

	if consume {
		bucket.Tokens = available
		bucket.Capacity = limits.Capacity
		bucket.LastRefill = now
		if err := l.repo.UpsertBucket(ctx, bucket); err != nil {
			return nil, err
		}
	}

	return decision, nil
}

// resetTime estimates when the bucket is back at full capacity.
func resetTime(now time.Time, limits ratelimitDomain.Limits, available float64) time.Time {
	if limits.RefillRate <= 0 {
		return now
	}
	missing := float64(limits.Capacity) - available
	if missing <= 0 {
		return now
	}
	return now.Add(time.Duration(math.Ceil(missing/limits.RefillRate)) * time.Second)
}

// resolveLimits resolves capacity and refill rate for a key. The leading
// segment of the key (up to the first ':') names the service whose
// configuration row applies; absent configuration falls back to the global
// defaults. Resolved limits are cached for the limiter's lifetime.
func (l *TokenBucketLimiter) resolveLimits(
	ctx context.Context,
	key string,
	override *ratelimitDomain.Limits,
) ratelimitDomain.Limits {
	if override != nil {
		return *override
	}

	service := key
	if idx := strings.Index(key, ":"); idx >= 0 {
		service = key[:idx]
	}

	l.mu.RLock()
	cached, ok := l.configCache[service]
	l.mu.RUnlock()
	if ok {
		return cached
	}

	limits := ratelimitDomain.ServiceConfig{
		MaxRequestsPerMinute: l.config.DefaultMaxRequestsPerMinute,
		MaxRequestsPerHour:   l.config.DefaultMaxRequestsPerHour,
	}.Resolve()

	if !l.passthrough {
		serviceConfig, err := l.repo.GetServiceConfig(ctx, service)
		switch {
		case err == nil:
			limits = serviceConfig.Resolve()
		case !apperrors.Is(err, apperrors.ErrNotFound):
			// Config lookup failure falls back to defaults; not worth
			// blocking the request over.
			if l.logger != nil {
				l.logger.Warn("failed to load rate limit service config, using defaults",
					slog.String("service", service),
					slog.Any("error", err),
				)
			}
			return limits
		}
	}

	l.mu.Lock()
	l.configCache[service] = limits
	l.mu.Unlock()

	return limits
}

// passthroughDecision reports full capacity without touching storage.
func (l *TokenBucketLimiter) passthroughDecision(limits ratelimitDomain.Limits) *ratelimitDomain.Decision {
	return &ratelimitDomain.Decision{
		Allowed:    true,
		Remaining:  limits.Capacity,
		ResetTime:  l.now(),
		Capacity:   limits.Capacity,
		RefillRate: limits.RefillRate,
	}
}
