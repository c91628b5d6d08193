package port

import (
	"context"

	"github.com/namecraft/auth-service/internal/core/domain"
)

// SessionRepository deals with session storage.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	GetByFamily(ctx context.Context, familyID string) (*domain.Session, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Session, error)
	Touch(ctx context.Context, sessionID string, ip *string, userAgent *string) error
	UpdateRotationState(ctx context.Context, sessionID, refreshTokenID, csrfHash string) error
	Revoke(ctx context.Context, sessionID string, reason string) error
	RevokeByFamily(ctx context.Context, familyID string, reason string) (int, error)
	RevokeAllForUser(ctx context.Context, userID string, reason string) (int, error)
	StoreEvent(ctx context.Context, event domain.SessionEvent) error
}
