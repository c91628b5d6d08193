package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/namecraft/auth-service/internal/core/domain"
	"github.com/namecraft/auth-service/internal/core/port"
	"github.com/namecraft/auth-service/internal/repository"
)

// ErrUserNotFound indicates the target user does not exist.
var ErrUserNotFound = errors.New("user not found")

// ErrInvalidPlan indicates an unknown plan tier was supplied.
var ErrInvalidPlan = errors.New("invalid plan")

// PlanService applies admin plan changes. Because the plan is baked into
// access-token claims, a change revokes every session so clients are forced to
// re-authenticate with the new tier.
type PlanService struct {
	users     port.UserRepository
	sessions  *SessionService
	publisher port.EventPublisher
	logger    *zap.Logger
}

// NewPlanService constructs a PlanService instance.
func NewPlanService(
	users port.UserRepository,
	sessions *SessionService,
	publisher port.EventPublisher,
	log *zap.Logger,
) *PlanService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PlanService{
		users:     users,
		sessions:  sessions,
		publisher: publisher,
		logger:    log,
	}
}

// ChangePlan moves the user to a new tier and revokes their sessions.
func (s *PlanService) ChangePlan(ctx context.Context, userID string, newPlan domain.Plan, changedBy string) (*domain.PlanChangedEvent, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if !newPlan.Valid() {
		return nil, ErrInvalidPlan
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if user.Plan == newPlan {
		return &domain.PlanChangedEvent{
			UserID:    userID,
			OldPlan:   user.Plan,
			NewPlan:   newPlan,
			ChangedBy: changedBy,
		}, nil
	}

	changedAt := s.sessions.now()

	if err := s.users.UpdatePlan(ctx, userID, newPlan, changedAt); err != nil {
		return nil, fmt.Errorf("update plan: %w", err)
	}

	revoked, err := s.sessions.RevokeAllSessions(ctx, userID, RevokeReasonPlanChanged, changedBy)
	if err != nil {
		return nil, err
	}

	event := domain.PlanChangedEvent{
		UserID:          userID,
		OldPlan:         user.Plan,
		NewPlan:         newPlan,
		ChangedAt:       changedAt,
		ChangedBy:       changedBy,
		SessionsRevoked: revoked,
	}

	if s.publisher != nil {
		if err := s.publisher.PublishPlanChanged(ctx, event); err != nil {
			s.logger.Warn("publish plan changed failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	s.logger.Info("plan changed",
		zap.String("user_id", userID),
		zap.String("old_plan", string(user.Plan)),
		zap.String("new_plan", string(newPlan)),
		zap.Int("sessions_revoked", revoked),
	)

	return &event, nil
}
