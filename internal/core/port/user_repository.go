package port

import (
	"context"
	"time"

	"github.com/namecraft/auth-service/internal/core/domain"
)

// UserRepository exposes persistence behavior for users.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateFailureState(ctx context.Context, id string, failedLogins int, lockedUntil *time.Time) error
	ResetFailureState(ctx context.Context, id string, lastLogin time.Time) error
	UpdatePlan(ctx context.Context, id string, plan domain.Plan, changedAt time.Time) error
}
