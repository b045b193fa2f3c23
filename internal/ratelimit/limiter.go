package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cantoria/cantoria/internal/observability"
)

// Result describes a single rate-limit decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt approximates when the window ends, as unix seconds. It is
	// computed from the call time, not the counter's exact expiry, and is
	// only suitable as a client back-off hint.
	ResetAt int64
}

// Limiter applies fixed-window rate limiting backed by a CounterStore.
//
// A store failure never blocks traffic: the limiter fails open and reports
// the request as allowed.
type Limiter struct {
	store   CounterStore
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewLimiter constructs a Limiter. Metrics may be nil.
func NewLimiter(store CounterStore, logger *slog.Logger, metrics *observability.Metrics) *Limiter {
	return &Limiter{store: store, logger: logger, metrics: metrics}
}

// Check decides whether one more request under key fits inside the current
// window. The returned error only signals invalid arguments; store failures
// are absorbed by the fail-open policy.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if key == "" {
		return Result{}, errors.New("ratelimit: key required")
	}
	if limit < 1 {
		return Result{}, errors.New("ratelimit: limit must be at least 1")
	}
	if window < time.Second {
		return Result{}, errors.New("ratelimit: window must be at least one second")
	}

	resetAt := time.Now().Add(window).Unix()

	count, found, err := l.store.Get(ctx, key)
	if err != nil {
		return l.failOpen(key, limit, resetAt, err), nil
	}
	if found && count >= int64(limit) {
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt}, nil
	}

	next, err := l.store.Incr(ctx, key, window)
	if err != nil {
		return l.failOpen(key, limit, resetAt, err), nil
	}

	remaining := limit - int(next)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: limit, Remaining: remaining, ResetAt: resetAt}, nil
}

func (l *Limiter) failOpen(key string, limit int, resetAt int64, err error) Result {
	if l.logger != nil {
		l.logger.Warn("rate limit store unavailable, failing open",
			slog.String("key", key), slog.Any("error", err))
	}
	l.metrics.RateLimitFailedOpen()
	return Result{Allowed: true, Limit: limit, Remaining: 1, ResetAt: resetAt}
}
