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
	"github.com/namecraft/auth-service/internal/infra/config"
	"github.com/namecraft/auth-service/internal/infra/logger"
	"github.com/namecraft/auth-service/internal/infra/security"
	"github.com/namecraft/auth-service/internal/repository"
)

var (
	// ErrInvalidCredentials indicates the provided email or password are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates the account is under a failed-login lockout.
	ErrAccountLocked = errors.New("account locked")
	// ErrEmailTaken indicates the email address is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrRateLimited indicates the caller exceeded the attempt budget for the window.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidRefreshToken indicates the presented refresh token does not exist.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrExpiredRefreshToken indicates the presented refresh token has expired.
	ErrExpiredRefreshToken = errors.New("refresh token expired")
	// ErrRefreshTokenReused indicates an already-consumed refresh token was
	// presented again. The token family is revoked as a consequence.
	ErrRefreshTokenReused = errors.New("refresh token reused")
	// ErrSessionRevoked indicates the session backing the credentials was revoked.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrSessionExpired indicates the session elapsed its validity window.
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidAccessToken indicates the access token is malformed or its signature failed.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrExpiredAccessToken indicates the access token has expired.
	ErrExpiredAccessToken = errors.New("access token expired")
	// ErrCSRFMismatch indicates the CSRF companion value does not match the session.
	ErrCSRFMismatch = errors.New("csrf token mismatch")
)

// AccountLockedError carries the lockout deadline alongside ErrAccountLocked.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrAccountLocked) hold for this type.
func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// RateLimitError carries the retry hint alongside ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) hold for this type.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// SigningKeyring reports the kid of the active signing key.
type SigningKeyring interface {
	SigningKid() string
}

// AuthService coordinates registration, login, and refresh rotation.
type AuthService struct {
	cfg        *config.AppConfig
	users      port.UserRepository
	sessions   port.SessionRepository
	tokens     port.TokenRepository
	jwt        *security.JWTManager
	keyring    SigningKeyring
	passwords  *security.PasswordValidator
	publisher  port.EventPublisher
	revocation port.RevocationStore
	loginGuard *AttemptGuard
	lockout    LockoutPolicy
	logger     *zap.Logger
	now        func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	cfg *config.AppConfig,
	users port.UserRepository,
	sessions port.SessionRepository,
	tokens port.TokenRepository,
	jwtManager *security.JWTManager,
	keyring SigningKeyring,
	passwords *security.PasswordValidator,
	publisher port.EventPublisher,
	revocation port.RevocationStore,
	loginGuard *AttemptGuard,
	lockout LockoutPolicy,
	log *zap.Logger,
) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	if passwords == nil {
		passwords = security.DefaultPasswordValidator()
	}

	service := &AuthService{
		cfg:        cfg,
		users:      users,
		sessions:   sessions,
		tokens:     tokens,
		jwt:        jwtManager,
		keyring:    keyring,
		passwords:  passwords,
		publisher:  publisher,
		revocation: revocation,
		loginGuard: loginGuard,
		lockout:    lockout,
		logger:     log,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// RegisterInput carries the fields accepted at sign-up.
type RegisterInput struct {
	Email       string
	DisplayName string
	Password    string
}

// Register creates a new account on the free plan.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("valid email is required")
	}

	if err := s.passwords.Validate(input.Password); err != nil {
		return nil, err
	}

	hash, err := security.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}

	now := s.now()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		Plan:         domain.PlanFree,
		RegisteredAt: now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if s.publisher != nil {
		event := domain.UserRegisteredEvent{
			UserID:       user.ID,
			Email:        user.Email,
			Plan:         user.Plan,
			RegisteredAt: now,
		}
		if err := s.publisher.PublishUserRegistered(ctx, event); err != nil {
			s.logger.Warn("publish user registered failed",
				zap.String("user_id", user.ID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("email", logger.MaskEmail(user.Email)),
	)

	sanitized := user
	sanitized.PasswordHash = ""
	return &sanitized, nil
}

// LoginInput carries credentials and device context for a login attempt.
type LoginInput struct {
	Email       string
	Password    string
	IP          *string
	UserAgent   *string
	DeviceID    *string
	DeviceLabel *string
}

// Login verifies credentials, applying per-identifier throttling and the
// progressive lockout curve, and mints a fresh credential set on success.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*domain.CredentialPair, *domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || input.Password == "" {
		return nil, nil, ErrInvalidCredentials
	}

	if s.loginGuard != nil {
		allowed, retryAfter, err := s.loginGuard.Allow(ctx, "login:"+email)
		if err != nil {
			return nil, nil, fmt.Errorf("login throttle: %w", err)
		}
		if !allowed {
			return nil, nil, &RateLimitError{RetryAfter: retryAfter}
		}
	}

	now := s.now()

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("lookup user: %w", err)
	}

	if user.IsLocked(now) {
		return nil, nil, &AccountLockedError{Until: *user.LockedUntil}
	}

	ok, err := security.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil {
		return nil, nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, nil, s.recordLoginFailure(ctx, user, now, input.IP)
	}

	if err := s.users.ResetFailureState(ctx, user.ID, now); err != nil {
		return nil, nil, fmt.Errorf("reset failure state: %w", err)
	}
	user.ResetFailures(now)

	session, csrfToken, err := s.openSession(ctx, user, now, input)
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.issueCredentials(ctx, user, session, csrfToken, now, input.IP, input.UserAgent)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("login succeeded",
		zap.String("user_id", user.ID),
		zap.String("session_id", session.ID),
	)

	sanitized := *user
	sanitized.PasswordHash = ""
	return pair, &sanitized, nil
}

// recordLoginFailure bumps the failure counter, applies the lockout curve, and
// returns the error the caller should surface. The persisted deadline is
// monotone: the repository never shortens an existing lockout.
func (s *AuthService) recordLoginFailure(ctx context.Context, user *domain.User, now time.Time, ip *string) error {
	deadline := s.lockout.NextDeadline(user.FailedLogins+1, now)
	user.RecordFailure(deadline)

	if err := s.users.UpdateFailureState(ctx, user.ID, user.FailedLogins, user.LockedUntil); err != nil {
		return fmt.Errorf("update failure state: %w", err)
	}

	fields := []zap.Field{
		zap.String("user_id", user.ID),
		zap.Int("failed_logins", user.FailedLogins),
	}
	if ip != nil {
		fields = append(fields, zap.String("ip", logger.MaskIP(*ip)))
	}
	if deadline != nil {
		fields = append(fields, zap.Time("locked_until", *deadline))
		s.logger.Warn("account locked after repeated failures", fields...)
		return &AccountLockedError{Until: *deadline}
	}

	s.logger.Info("login failed", fields...)
	return ErrInvalidCredentials
}

func (s *AuthService) openSession(ctx context.Context, user *domain.User, now time.Time, input LoginInput) (*domain.Session, string, error) {
	csrfToken, err := security.GenerateSecureToken(32)
	if err != nil {
		return nil, "", fmt.Errorf("generate csrf token: %w", err)
	}

	session := domain.Session{
		ID:          uuid.NewString(),
		FamilyID:    uuid.NewString(),
		UserID:      user.ID,
		CSRFHash:    security.HashToken(csrfToken),
		DeviceID:    input.DeviceID,
		DeviceLabel: input.DeviceLabel,
		IPFirst:     input.IP,
		IPLast:      input.IP,
		UserAgent:   input.UserAgent,
		CreatedAt:   now,
		LastSeen:    now,
		ExpiresAt:   now.Add(s.sessionTTL()),
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", fmt.Errorf("create session: %w", err)
	}

	event := domain.SessionEvent{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Kind:      "created",
		At:        now,
		IP:        input.IP,
		UserAgent: input.UserAgent,
	}
	if err := s.sessions.StoreEvent(ctx, event); err != nil {
		s.logger.Warn("store session event failed", zap.String("session_id", session.ID), zap.Error(err))
	}

	return &session, csrfToken, nil
}

// issueCredentials mints the access token, refresh token, and CSRF value for
// the session, persisting the refresh token and the issued-JTI ledger entry.
func (s *AuthService) issueCredentials(
	ctx context.Context,
	user *domain.User,
	session *domain.Session,
	csrfToken string,
	now time.Time,
	ip, userAgent *string,
) (*domain.CredentialPair, error) {
	rawRefresh, err := security.GenerateSecureToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	refreshToken := domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		SessionID: session.ID,
		TokenHash: security.HashToken(rawRefresh),
		FamilyID:  session.FamilyID,
		IP:        ip,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL()),
	}

	claims, err := security.NewAccessTokenClaims(security.AccessTokenOptions{
		UserID:    user.ID,
		SessionID: session.ID,
		Plan:      string(user.Plan),
		Issuer:    s.issuer(),
		Audience:  s.audience(),
		TTL:       s.accessTTL(),
		IssuedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("build claims: %w", err)
	}

	signed, err := s.jwt.SignAccessToken(s.keyring.SigningKid(), claims)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	if err := s.tokens.CreateRefreshToken(ctx, refreshToken); err != nil {
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}

	record := domain.AccessTokenRecord{
		JTI:       claims.RegisteredClaims.ID,
		UserID:    user.ID,
		SessionID: session.ID,
		IssuedAt:  now,
		ExpiresAt: claims.RegisteredClaims.ExpiresAt.Time,
	}
	if err := s.tokens.RecordAccessToken(ctx, record); err != nil {
		return nil, fmt.Errorf("record access token: %w", err)
	}

	return &domain.CredentialPair{
		AccessToken:      signed,
		AccessTokenJTI:   record.JTI,
		AccessExpiresAt:  record.ExpiresAt,
		RefreshToken:     rawRefresh,
		RefreshTokenID:   refreshToken.ID,
		RefreshExpiresAt: refreshToken.ExpiresAt,
		CSRFToken:        csrfToken,
		SessionID:        session.ID,
		FamilyID:         session.FamilyID,
	}, nil
}

// RefreshInput carries the presented refresh token and request context.
type RefreshInput struct {
	RefreshToken string
	IP           *string
	UserAgent    *string
}

// Refresh rotates the refresh token: the presented token is consumed exactly
// once and a replacement set is minted under the same session and family.
// Presenting an already-consumed or revoked token is treated as theft evidence
// and revokes the whole family.
func (s *AuthService) Refresh(ctx context.Context, input RefreshInput) (*domain.CredentialPair, error) {
	raw := strings.TrimSpace(input.RefreshToken)
	if raw == "" {
		return nil, ErrInvalidRefreshToken
	}

	now := s.now()

	token, err := s.tokens.GetRefreshTokenByHash(ctx, security.HashToken(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}

	if token.IsRevoked() || token.UsedAt != nil {
		return nil, s.handleRefreshReuse(ctx, token, now, input.IP)
	}
	if token.IsExpired(now) {
		return nil, ErrExpiredRefreshToken
	}

	// Atomic consume-once step. Exactly one concurrent presenter succeeds;
	// the rest observe ErrNotFound and land on the reuse path.
	if err := s.tokens.MarkRefreshTokenUsed(ctx, token.ID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.handleRefreshReuse(ctx, token, now, input.IP)
		}
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}

	session, err := s.sessions.Get(ctx, token.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}
	if !session.ExpiresAt.After(now) {
		return nil, ErrSessionExpired
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	csrfToken, err := security.GenerateSecureToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate csrf token: %w", err)
	}

	pair, err := s.issueCredentials(ctx, user, session, csrfToken, now, input.IP, input.UserAgent)
	if err != nil {
		return nil, err
	}

	// The session's rotation pointer and CSRF hash swap together so the prior
	// CSRF value dies with the prior refresh token.
	if err := s.sessions.UpdateRotationState(ctx, session.ID, pair.RefreshTokenID, security.HashToken(csrfToken)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionRevoked
		}
		return nil, fmt.Errorf("update rotation state: %w", err)
	}

	if err := s.sessions.Touch(ctx, session.ID, input.IP, input.UserAgent); err != nil {
		s.logger.Warn("touch session failed", zap.String("session_id", session.ID), zap.Error(err))
	}

	return pair, nil
}

// handleRefreshReuse revokes the full token family, the session, and every
// outstanding access token after a replayed refresh token is detected.
func (s *AuthService) handleRefreshReuse(ctx context.Context, token *domain.RefreshToken, now time.Time, ip *string) error {
	s.logger.Warn("refresh token reuse detected",
		zap.String("user_id", token.UserID),
		zap.String("session_id", token.SessionID),
		zap.String("family_id", token.FamilyID),
		zap.String("token_id", token.ID),
	)

	tokensRevoked, err := s.tokens.RevokeRefreshTokensByFamily(ctx, token.FamilyID, "token_reuse")
	if err != nil {
		return fmt.Errorf("revoke token family: %w", err)
	}

	if _, err := s.sessions.RevokeByFamily(ctx, token.FamilyID, "token_reuse"); err != nil {
		return fmt.Errorf("revoke session family: %w", err)
	}

	s.denylistSessionTokens(ctx, token.SessionID, "token_reuse", now)

	event := domain.SessionEvent{
		ID:        uuid.NewString(),
		SessionID: token.SessionID,
		Kind:      "reuse_detected",
		At:        now,
		IP:        ip,
		Details:   map[string]any{"token_id": token.ID},
	}
	if err := s.sessions.StoreEvent(ctx, event); err != nil {
		s.logger.Warn("store session event failed", zap.String("session_id", token.SessionID), zap.Error(err))
	}

	if s.publisher != nil {
		reuse := domain.TokenReuseDetectedEvent{
			UserID:     token.UserID,
			SessionID:  token.SessionID,
			FamilyID:   token.FamilyID,
			TokenID:    token.ID,
			DetectedAt: now,
			IPAddress:  ip,
		}
		if err := s.publisher.PublishTokenReuseDetected(ctx, reuse); err != nil {
			s.logger.Warn("publish token reuse failed", zap.Error(err))
		}

		revoked := domain.SessionRevokedEvent{
			SessionID:     token.SessionID,
			UserID:        token.UserID,
			FamilyID:      token.FamilyID,
			RevokedAt:     now,
			RevokedBy:     "system",
			Reason:        "token_reuse",
			TokensRevoked: tokensRevoked,
			IPAddress:     ip,
		}
		if err := s.publisher.PublishSessionRevoked(ctx, revoked); err != nil {
			s.logger.Warn("publish session revoked failed", zap.Error(err))
		}
	}

	return ErrRefreshTokenReused
}

// denylistSessionTokens revokes the session's unexpired JTIs in the ledger and
// mirrors them into the fast-path revocation store for the remaining lifetime.
func (s *AuthService) denylistSessionTokens(ctx context.Context, sessionID, reason string, now time.Time) {
	records, err := s.tokens.RevokeJTIsBySession(ctx, sessionID, reason)
	if err != nil {
		s.logger.Warn("revoke session jtis failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if s.revocation == nil {
		return
	}
	for _, record := range records {
		ttl := record.ExpiresAt.Sub(now)
		if ttl <= 0 {
			continue
		}
		if err := s.revocation.MarkRevoked(ctx, record.JTI, reason, ttl); err != nil {
			s.logger.Warn("denylist jti failed", zap.String("jti", record.JTI), zap.Error(err))
		}
	}
}

func (s *AuthService) issuer() string {
	if s.cfg != nil && strings.TrimSpace(s.cfg.JWT.Issuer) != "" {
		return s.cfg.JWT.Issuer
	}
	return "namecraft-auth"
}

func (s *AuthService) audience() []string {
	if s.cfg != nil && strings.TrimSpace(s.cfg.App.Name) != "" {
		return []string{s.cfg.App.Name}
	}
	return nil
}

func (s *AuthService) accessTTL() time.Duration {
	if s.cfg != nil && s.cfg.JWT.AccessTokenTTL > 0 {
		return s.cfg.JWT.AccessTokenTTL
	}
	return 15 * time.Minute
}

func (s *AuthService) refreshTTL() time.Duration {
	if s.cfg != nil && s.cfg.JWT.RefreshTokenTTL > 0 {
		return s.cfg.JWT.RefreshTokenTTL
	}
	return 720 * time.Hour
}

func (s *AuthService) sessionTTL() time.Duration {
	if s.cfg != nil && s.cfg.JWT.SessionTTL > 0 {
		return s.cfg.JWT.SessionTTL
	}
	return 720 * time.Hour
}
