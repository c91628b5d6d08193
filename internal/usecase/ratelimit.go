package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/namecraft/auth-service/internal/core/port"
)

// AttemptGuard enforces a sliding-window attempt limit over a shared store.
// It is used per login identifier and, by the transport layer, per client IP.
type AttemptGuard struct {
	store  port.RateLimitStore
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewAttemptGuard constructs a guard with the supplied limit and window.
func NewAttemptGuard(store port.RateLimitStore, limit int, window time.Duration) *AttemptGuard {
	guard := &AttemptGuard{
		store:  store,
		limit:  limit,
		window: window,
	}
	guard.now = func() time.Time { return time.Now().UTC() }
	return guard
}

// WithClock overrides the guard clock for deterministic tests.
func (g *AttemptGuard) WithClock(clock func() time.Time) {
	if clock != nil {
		g.now = clock
	}
}

// Allow records an attempt for the identifier and reports whether it fits in
// the current window. When the limit is exceeded the returned duration tells
// the caller how long until the oldest attempt slides out of the window.
func (g *AttemptGuard) Allow(ctx context.Context, identifier string) (bool, time.Duration, error) {
	if g == nil || g.store == nil || g.limit <= 0 {
		return true, 0, nil
	}

	now := g.now()

	if err := g.store.TrimWindow(ctx, identifier, g.window, now); err != nil {
		return false, 0, fmt.Errorf("trim window: %w", err)
	}

	count, err := g.store.CountAttempts(ctx, identifier, g.window, now)
	if err != nil {
		return false, 0, fmt.Errorf("count attempts: %w", err)
	}

	if count >= g.limit {
		oldest, ok, err := g.store.OldestAttempt(ctx, identifier, g.window, now)
		if err != nil {
			return false, 0, fmt.Errorf("oldest attempt: %w", err)
		}

		retryAfter := g.window
		if ok {
			if remaining := oldest.Add(g.window).Sub(now); remaining > 0 {
				retryAfter = remaining
			}
		}
		return false, retryAfter, nil
	}

	if err := g.store.RecordAttempt(ctx, identifier, now); err != nil {
		return false, 0, fmt.Errorf("record attempt: %w", err)
	}

	return true, 0, nil
}
