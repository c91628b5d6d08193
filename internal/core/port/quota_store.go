package port

import (
	"context"
	"time"
)

// QuotaStore persists fixed-window usage counters. Windows are aligned to UTC
// day boundaries; the store guarantees counters expire exactly at the boundary,
// never mid-window.
type QuotaStore interface {
	// Increment adds one to the counter for the key and returns the new total.
	// expireAt fixes the key's expiry to the end of the current window; it is
	// only applied when the key is first created.
	Increment(ctx context.Context, key string, expireAt time.Time) (int64, error)
	// Count returns the current counter value without consuming quota.
	Count(ctx context.Context, key string) (int64, error)
}
