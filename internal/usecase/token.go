package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/namecraft/auth-service/internal/core/domain"
	"github.com/namecraft/auth-service/internal/core/port"
	"github.com/namecraft/auth-service/internal/infra/config"
	"github.com/namecraft/auth-service/internal/infra/security"
	"github.com/namecraft/auth-service/internal/repository"
)

// revocationMemoNegativeTTL bounds how long a "not revoked" verdict is reused
// before the shared store is consulted again.
const revocationMemoNegativeTTL = 30 * time.Second

type revocationState struct {
	revoked bool
	reason  string
}

// TokenService validates access tokens and orchestrates revocation across the
// persisted ledger, the shared revocation store, and a local memo.
type TokenService struct {
	cfg        *config.AppConfig
	jwt        *security.JWTManager
	sessions   port.SessionRepository
	tokens     port.TokenRepository
	revocation port.RevocationStore
	memo       *ttlcache.Cache[string, revocationState]
	logger     *zap.Logger
	now        func() time.Time
}

// NewTokenService constructs a TokenService instance.
func NewTokenService(
	cfg *config.AppConfig,
	jwtManager *security.JWTManager,
	sessions port.SessionRepository,
	tokens port.TokenRepository,
	revocation port.RevocationStore,
	log *zap.Logger,
) *TokenService {
	if log == nil {
		log = zap.NewNop()
	}

	memo := ttlcache.New[string, revocationState](
		ttlcache.WithTTL[string, revocationState](revocationMemoNegativeTTL),
		ttlcache.WithDisableTouchOnHit[string, revocationState](),
	)
	go memo.Start()

	service := &TokenService{
		cfg:        cfg,
		jwt:        jwtManager,
		sessions:   sessions,
		tokens:     tokens,
		revocation: revocation,
		memo:       memo,
		logger:     log,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *TokenService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Close stops the background memo janitor.
func (s *TokenService) Close() {
	if s.memo != nil {
		s.memo.Stop()
	}
}

// ValidateToken verifies the signature and registered claims of an access token.
func (s *TokenService) ValidateToken(_ context.Context, token string) (*security.AccessTokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidAccessToken
	}

	claims, err := s.jwt.ParseAccessToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredAccessToken
		}
		return nil, ErrInvalidAccessToken
	}

	if strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrInvalidAccessToken
	}

	return claims, nil
}

// TokenIntrospection aggregates claims with revocation and session status.
type TokenIntrospection struct {
	Claims           *security.AccessTokenClaims
	Active           bool
	Revoked          bool
	RevocationReason string
	UserID           string
	SessionID        string
	Plan             string
	JTI              string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	Session          *domain.Session
}

// Introspect validates a token and enriches the result with revocation and
// session state. checkRevocation consults the revocation store; offline
// validation alone never does.
func (s *TokenService) Introspect(ctx context.Context, token string, checkRevocation bool) (*TokenIntrospection, error) {
	claims, err := s.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}

	result := &TokenIntrospection{
		Claims:    claims,
		Active:    true,
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		Plan:      claims.Plan,
		JTI:       strings.TrimSpace(claims.RegisteredClaims.ID),
	}
	if claims.RegisteredClaims.IssuedAt != nil {
		result.IssuedAt = claims.RegisteredClaims.IssuedAt.Time
	}
	if claims.RegisteredClaims.ExpiresAt != nil {
		result.ExpiresAt = claims.RegisteredClaims.ExpiresAt.Time
	}

	if checkRevocation && result.JTI != "" {
		revoked, reason, err := s.revocationStatus(ctx, result.JTI, result.ExpiresAt)
		if err != nil {
			return nil, err
		}
		if revoked {
			result.Active = false
			result.Revoked = true
			result.RevocationReason = reason
		}
	}

	if result.SessionID != "" && s.sessions != nil {
		session, err := s.sessions.Get(ctx, result.SessionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				result.Active = false
			} else {
				return nil, fmt.Errorf("get session: %w", err)
			}
		} else {
			copied := *session
			result.Session = &copied
			if copied.RevokedAt != nil {
				result.Active = false
				if result.RevocationReason == "" && copied.RevokeReason != nil {
					result.RevocationReason = *copied.RevokeReason
				}
			} else if !copied.ExpiresAt.After(s.now()) {
				result.Active = false
			}
		}
	}

	return result, nil
}

// VerifyCSRF compares the presented CSRF value against the hash bound to the
// session. Rotation swaps the hash, so values from before the last rotation fail.
func (s *TokenService) VerifyCSRF(ctx context.Context, sessionID, csrfToken string) error {
	csrfToken = strings.TrimSpace(csrfToken)
	if sessionID == "" || csrfToken == "" {
		return ErrCSRFMismatch
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionRevoked
		}
		return fmt.Errorf("get session: %w", err)
	}
	if session.RevokedAt != nil {
		return ErrSessionRevoked
	}

	presented := []byte(security.HashToken(csrfToken))
	expected := []byte(session.CSRFHash)
	if subtle.ConstantTimeCompare(presented, expected) != 1 {
		return ErrCSRFMismatch
	}

	return nil
}

// RevokeByJTI denylists a single access token for the rest of its lifetime.
func (s *TokenService) RevokeByJTI(ctx context.Context, jti, reason string, expiresAt time.Time) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return fmt.Errorf("jti is required")
	}

	if err := s.tokens.RevokeJTI(ctx, jti, reason); err != nil {
		return fmt.Errorf("revoke jti: %w", err)
	}

	s.cacheRevocation(ctx, jti, reason, expiresAt)
	return nil
}

// RevokeBySession denylists every unexpired access token issued under the
// session and returns how many were affected.
func (s *TokenService) RevokeBySession(ctx context.Context, sessionID, reason string) (int, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, fmt.Errorf("session id is required")
	}

	records, err := s.tokens.RevokeJTIsBySession(ctx, sessionID, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke session jtis: %w", err)
	}

	for _, record := range records {
		s.cacheRevocation(ctx, record.JTI, reason, record.ExpiresAt)
	}

	return len(records), nil
}

// revocationStatus resolves a JTI's revocation state: local memo first, then
// the shared store, then the persisted ledger when the store is unreachable.
func (s *TokenService) revocationStatus(ctx context.Context, jti string, expiresAt time.Time) (bool, string, error) {
	if item := s.memo.Get(jti); item != nil {
		state := item.Value()
		return state.revoked, state.reason, nil
	}

	if s.revocation != nil {
		revoked, reason, err := s.revocation.IsRevoked(ctx, jti)
		if err == nil {
			s.memoize(jti, revoked, reason, expiresAt)
			return revoked, reason, nil
		}
		s.logger.Warn("revocation store unavailable, falling back to ledger",
			zap.String("jti", jti),
			zap.Error(err),
		)
	}

	revoked, err := s.tokens.IsJTIRevoked(ctx, jti)
	if err != nil {
		return false, "", fmt.Errorf("check jti revocation: %w", err)
	}

	s.memoize(jti, revoked, "", expiresAt)
	return revoked, "", nil
}

func (s *TokenService) cacheRevocation(ctx context.Context, jti, reason string, expiresAt time.Time) {
	ttl := s.remainingTTL(expiresAt)
	if ttl <= 0 {
		return
	}

	if s.revocation != nil {
		if err := s.revocation.MarkRevoked(ctx, jti, reason, ttl); err != nil {
			s.logger.Warn("denylist jti failed", zap.String("jti", jti), zap.Error(err))
		}
	}
	s.memo.Set(jti, revocationState{revoked: true, reason: reason}, ttl)
}

func (s *TokenService) memoize(jti string, revoked bool, reason string, expiresAt time.Time) {
	ttl := revocationMemoNegativeTTL
	if revoked {
		if remaining := s.remainingTTL(expiresAt); remaining > 0 {
			ttl = remaining
		}
	}
	s.memo.Set(jti, revocationState{revoked: revoked, reason: reason}, ttl)
}

func (s *TokenService) remainingTTL(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		if s.cfg != nil && s.cfg.JWT.AccessTokenTTL > 0 {
			return s.cfg.JWT.AccessTokenTTL
		}
		return 15 * time.Minute
	}
	return expiresAt.Sub(s.now())
}
