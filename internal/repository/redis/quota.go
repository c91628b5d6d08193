package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/namecraft/auth-service/internal/core/port"
)

const defaultQuotaPrefix = "quota"

// QuotaRepository stores fixed-window usage counters in Redis. The counter key
// expires exactly at the window boundary, so a new window always starts from
// zero and a counter can never leak into the next day.
type QuotaRepository struct {
	client *red.Client
	prefix string
}

// NewQuotaRepository wires a Redis client into a quota counter store.
func NewQuotaRepository(client *red.Client, keyPrefix string) *QuotaRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultQuotaPrefix
	}
	return &QuotaRepository{client: client, prefix: prefix}
}

// Increment adds one to the window counter and returns the new total. The
// expiry is anchored to the supplied boundary only when the key is created,
// never extended by subsequent increments.
func (r *QuotaRepository) Increment(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	fullKey := r.key(key)
	if fullKey == "" {
		return 0, errors.New("quota key must not be empty")
	}
	if expireAt.IsZero() {
		return 0, errors.New("expiry boundary is required")
	}

	count, err := r.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr quota: %w", err)
	}

	if count == 1 {
		if err := r.client.ExpireAt(ctx, fullKey, expireAt.UTC()).Err(); err != nil {
			return 0, fmt.Errorf("redis expireat quota: %w", err)
		}
	}

	return count, nil
}

// Count returns the current counter value without consuming quota.
func (r *QuotaRepository) Count(ctx context.Context, key string) (int64, error) {
	fullKey := r.key(key)
	if fullKey == "" {
		return 0, errors.New("quota key must not be empty")
	}

	value, err := r.client.Get(ctx, fullKey).Int64()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get quota: %w", err)
	}

	return value, nil
}

func (r *QuotaRepository) key(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, trimmed)
}

var _ port.QuotaStore = (*QuotaRepository)(nil)
