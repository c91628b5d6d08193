package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/namecraft/auth-service/internal/core/domain"
	"github.com/namecraft/auth-service/internal/core/port"
)

var (
	// ErrQuotaExceeded indicates the daily limit for the action was reached.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrActionUnavailable indicates the action is not part of the user's plan.
	ErrActionUnavailable = errors.New("action unavailable on plan")
)

// QuotaDecision reports the outcome of a quota check.
type QuotaDecision struct {
	Allowed   bool
	Limit     int
	Used      int64
	Remaining int64
	ResetAt   time.Time
}

// QuotaService enforces per-plan daily action limits over fixed UTC-day windows.
type QuotaService struct {
	policy domain.QuotaPolicy
	store  port.QuotaStore
	logger *zap.Logger
	now    func() time.Time
}

// NewQuotaService constructs a QuotaService instance.
func NewQuotaService(policy domain.QuotaPolicy, store port.QuotaStore, log *zap.Logger) *QuotaService {
	if policy == nil {
		policy = domain.DefaultQuotaPolicy()
	}
	if log == nil {
		log = zap.NewNop()
	}

	service := &QuotaService{
		policy: policy,
		store:  store,
		logger: log,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *QuotaService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// CheckAndConsume consumes one unit of the user's daily quota for the action.
// Counters reset exactly at the next UTC midnight; the window never slides.
func (s *QuotaService) CheckAndConsume(ctx context.Context, userID string, plan domain.Plan, category domain.ActionCategory) (QuotaDecision, error) {
	limit, available := s.policy.Limit(plan, category)
	if !available {
		return QuotaDecision{}, ErrActionUnavailable
	}

	now := s.now()
	resetAt := windowBoundary(now)

	count, err := s.store.Increment(ctx, quotaKey(userID, category, now), resetAt)
	if err != nil {
		return QuotaDecision{}, fmt.Errorf("increment quota: %w", err)
	}

	decision := QuotaDecision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Used:      count,
		Remaining: int64(limit) - count,
		ResetAt:   resetAt,
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}

	if !decision.Allowed {
		s.logger.Info("quota exceeded",
			zap.String("user_id", userID),
			zap.String("category", string(category)),
			zap.Int("limit", limit),
		)
		return decision, ErrQuotaExceeded
	}

	return decision, nil
}

// Remaining reports current usage without consuming quota.
func (s *QuotaService) Remaining(ctx context.Context, userID string, plan domain.Plan, category domain.ActionCategory) (QuotaDecision, error) {
	limit, available := s.policy.Limit(plan, category)
	if !available {
		return QuotaDecision{}, ErrActionUnavailable
	}

	now := s.now()

	count, err := s.store.Count(ctx, quotaKey(userID, category, now))
	if err != nil {
		return QuotaDecision{}, fmt.Errorf("read quota: %w", err)
	}

	decision := QuotaDecision{
		Allowed:   count < int64(limit),
		Limit:     limit,
		Used:      count,
		Remaining: int64(limit) - count,
		ResetAt:   windowBoundary(now),
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}

	return decision, nil
}

// Available reports whether the plan unlocks the action at all.
func (s *QuotaService) Available(plan domain.Plan, category domain.ActionCategory) bool {
	_, ok := s.policy.Limit(plan, category)
	return ok
}

// Policy exposes the active quota table.
func (s *QuotaService) Policy() domain.QuotaPolicy {
	return s.policy
}

func quotaKey(userID string, category domain.ActionCategory, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s", userID, category, at.UTC().Format("2006-01-02"))
}

// windowBoundary returns the next UTC midnight after the supplied moment.
func windowBoundary(at time.Time) time.Time {
	utc := at.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
