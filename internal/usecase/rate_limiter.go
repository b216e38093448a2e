package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/port"
)

// RateLimitDecision reports the outcome of a sliding window check.
type RateLimitDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter throttles sensitive endpoints with a sliding window per
// identifier. Callers decide how to react to store errors; the auth flows
// treat them as fail open.
type RateLimiter struct {
	store  port.RateLimitStore
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter constructs a RateLimiter instance.
func NewRateLimiter(store port.RateLimitStore, window time.Duration) (*RateLimiter, error) {
	if store == nil {
		return nil, fmt.Errorf("rate limit store is required")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}

	limiter := &RateLimiter{store: store, window: window}
	limiter.now = func() time.Time { return time.Now().UTC() }

	return limiter, nil
}

// WithClock overrides the limiter clock for deterministic tests.
func (l *RateLimiter) WithClock(clock func() time.Time) *RateLimiter {
	if clock != nil {
		l.now = clock
	}
	return l
}

// Allow records an attempt for the identifier unless the window is already
// full. A denied decision carries the wait until the oldest attempt leaves
// the window.
func (l *RateLimiter) Allow(ctx context.Context, identifier string, max int) (RateLimitDecision, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return RateLimitDecision{}, fmt.Errorf("identifier is required")
	}
	if max <= 0 {
		return RateLimitDecision{Allowed: true}, nil
	}

	now := l.now()

	if err := l.store.TrimWindow(ctx, identifier, l.window, now); err != nil {
		return RateLimitDecision{Allowed: true}, fmt.Errorf("trim rate limit window: %w", err)
	}

	count, err := l.store.CountAttempts(ctx, identifier, l.window, now)
	if err != nil {
		return RateLimitDecision{Allowed: true}, fmt.Errorf("count attempts: %w", err)
	}

	if count >= max {
		retryAfter := l.window
		if oldest, ok, err := l.store.OldestAttempt(ctx, identifier, l.window, now); err == nil && ok {
			retryAfter = oldest.Add(l.window).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return RateLimitDecision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	if err := l.store.RecordAttempt(ctx, identifier, now); err != nil {
		return RateLimitDecision{Allowed: true}, fmt.Errorf("record attempt: %w", err)
	}

	return RateLimitDecision{Allowed: true, Remaining: max - count - 1}, nil
}

// throttle runs each identifier through the limiter and returns a
// RateLimitError for the first exhausted window. Limiter failures log and
// fail open; throttling guards capacity, the lockout policy guards
// credentials.
func throttle(ctx context.Context, limiter *RateLimiter, log *zap.Logger, max int, identifiers ...string) error {
	if limiter == nil || max <= 0 {
		return nil
	}

	for _, identifier := range identifiers {
		decision, err := limiter.Allow(ctx, identifier, max)
		if err != nil {
			if log != nil {
				log.Warn("rate limiter unavailable", zap.Error(err), zap.String("identifier", identifier))
			}
			return nil
		}
		if !decision.Allowed {
			return &RateLimitError{RetryAfter: decision.RetryAfter}
		}
	}

	return nil
}
