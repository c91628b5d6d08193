package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/namecraft/auth-service/internal/core/domain"
	"github.com/namecraft/auth-service/internal/core/port"
	"github.com/namecraft/auth-service/internal/repository"
)

// Well-known revocation reasons.
const (
	RevokeReasonUserInitiated = "user_initiated"
	RevokeReasonSecurity      = "security_revocation"
	RevokeReasonTokenReuse    = "token_reuse"
	RevokeReasonPlanChanged   = "plan_changed"
)

// ErrSessionNotFound indicates the session does not exist or is not owned by the caller.
var ErrSessionNotFound = errors.New("session not found")

// SessionService lists and revokes login sessions.
type SessionService struct {
	sessions  port.SessionRepository
	tokens    port.TokenRepository
	tokenSvc  *TokenService
	publisher port.EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewSessionService constructs a SessionService instance.
func NewSessionService(
	sessions port.SessionRepository,
	tokens port.TokenRepository,
	tokenSvc *TokenService,
	publisher port.EventPublisher,
	log *zap.Logger,
) *SessionService {
	if log == nil {
		log = zap.NewNop()
	}

	service := &SessionService{
		sessions:  sessions,
		tokens:    tokens,
		tokenSvc:  tokenSvc,
		publisher: publisher,
		logger:    log,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *SessionService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// ListSessions returns every session belonging to the user, active or not.
func (s *SessionService) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// GetOwned fetches a session and verifies it belongs to the user.
func (s *SessionService) GetOwned(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// RevokeSession terminates a single session owned by the user: the session row,
// its refresh token family, and every outstanding access token. Revoking an
// already-revoked session is a no-op.
func (s *SessionService) RevokeSession(ctx context.Context, userID, sessionID, reason, revokedBy string) error {
	session, err := s.GetOwned(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if session.RevokedAt != nil {
		return nil
	}

	return s.revoke(ctx, session, normalizeRevocationReason(reason), revokedBy)
}

// RevokeAllSessions terminates every active session for the user and returns
// how many were revoked.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID, reason, revokedBy string) (int, error) {
	return s.revokeAll(ctx, userID, "", reason, revokedBy)
}

// RevokeAllExcept terminates every active session for the user other than the
// one identified by keepSessionID.
func (s *SessionService) RevokeAllExcept(ctx context.Context, userID, keepSessionID, reason, revokedBy string) (int, error) {
	return s.revokeAll(ctx, userID, keepSessionID, reason, revokedBy)
}

func (s *SessionService) revokeAll(ctx context.Context, userID, keepSessionID, reason, revokedBy string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("user id is required")
	}

	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	normalized := normalizeRevocationReason(reason)
	now := s.now()
	revoked := 0

	for i := range sessions {
		session := sessions[i]
		if session.ID == keepSessionID {
			continue
		}
		if !session.IsActive(now) {
			continue
		}
		if err := s.revoke(ctx, &session, normalized, revokedBy); err != nil {
			return revoked, err
		}
		revoked++
	}

	return revoked, nil
}

func (s *SessionService) revoke(ctx context.Context, session *domain.Session, reason, revokedBy string) error {
	now := s.now()

	if err := s.sessions.Revoke(ctx, session.ID, reason); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("revoke session: %w", err)
	}

	tokensRevoked, err := s.tokens.RevokeRefreshTokensByFamily(ctx, session.FamilyID, reason)
	if err != nil {
		return fmt.Errorf("revoke refresh family: %w", err)
	}

	accessRevoked := 0
	if s.tokenSvc != nil {
		accessRevoked, err = s.tokenSvc.RevokeBySession(ctx, session.ID, reason)
		if err != nil {
			return err
		}
	}

	event := domain.SessionEvent{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Kind:      "revoked",
		At:        now,
		Details:   map[string]any{"reason": reason, "revoked_by": revokedBy},
	}
	if err := s.sessions.StoreEvent(ctx, event); err != nil {
		s.logger.Warn("store session event failed", zap.String("session_id", session.ID), zap.Error(err))
	}

	if s.publisher != nil {
		revokedEvent := domain.SessionRevokedEvent{
			SessionID:     session.ID,
			UserID:        session.UserID,
			FamilyID:      session.FamilyID,
			DeviceLabel:   session.DeviceLabel,
			RevokedAt:     now,
			RevokedBy:     revokedBy,
			Reason:        reason,
			TokensRevoked: tokensRevoked + accessRevoked,
			IPAddress:     session.IPLast,
		}
		if err := s.publisher.PublishSessionRevoked(ctx, revokedEvent); err != nil {
			s.logger.Warn("publish session revoked failed", zap.Error(err))
		}
	}

	s.logger.Info("session revoked",
		zap.String("session_id", session.ID),
		zap.String("user_id", session.UserID),
		zap.String("reason", reason),
		zap.Int("refresh_tokens_revoked", tokensRevoked),
		zap.Int("access_tokens_revoked", accessRevoked),
	)

	return nil
}

func normalizeRevocationReason(reason string) string {
	reason = strings.ToLower(strings.TrimSpace(reason))
	if reason == "" {
		return RevokeReasonUserInitiated
	}
	return reason
}
