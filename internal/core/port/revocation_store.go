package port

import (
	"context"
	"time"
)

// RevocationStore caches revoked token identifiers with a TTL matching the
// token's remaining natural lifetime, so entries self-expire. Writes are
// idempotent: re-revoking an already-revoked id is a no-op.
type RevocationStore interface {
	MarkRevoked(ctx context.Context, jti string, reason string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, string, error)
}
