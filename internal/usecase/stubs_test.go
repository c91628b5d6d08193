package usecase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/namecraft/auth-service/internal/core/domain"
	"github.com/namecraft/auth-service/internal/infra/config"
	"github.com/namecraft/auth-service/internal/infra/security"
	"github.com/namecraft/auth-service/internal/repository"
)

// stubUserRepository keeps users in memory and records failure-state writes.
type stubUserRepository struct {
	mu    sync.Mutex
	users map[string]domain.User

	failureStateCalls []struct {
		userID       string
		failedLogins int
		lockedUntil  *time.Time
	}
	resetCalls []string
}

func newStubUserRepository() *stubUserRepository {
	return &stubUserRepository{users: make(map[string]domain.User)}
}

func (r *stubUserRepository) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return repository.ErrConflict
		}
	}
	r.users[user.ID] = user
	return nil
}

func (r *stubUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		copied := user
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (r *stubUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			copied := user
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubUserRepository) UpdateFailureState(_ context.Context, id string, failedLogins int, lockedUntil *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.FailedLogins = failedLogins
	// Deadlines only ever move forward, mirroring the GREATEST clause in SQL.
	if lockedUntil != nil && (user.LockedUntil == nil || lockedUntil.After(*user.LockedUntil)) {
		deadline := *lockedUntil
		user.LockedUntil = &deadline
	}
	r.users[id] = user
	r.failureStateCalls = append(r.failureStateCalls, struct {
		userID       string
		failedLogins int
		lockedUntil  *time.Time
	}{userID: id, failedLogins: failedLogins, lockedUntil: lockedUntil})
	return nil
}

func (r *stubUserRepository) ResetFailureState(_ context.Context, id string, lastLogin time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.FailedLogins = 0
	user.LockedUntil = nil
	loginCopy := lastLogin
	user.LastLogin = &loginCopy
	r.users[id] = user
	r.resetCalls = append(r.resetCalls, id)
	return nil
}

func (r *stubUserRepository) UpdatePlan(_ context.Context, id string, plan domain.Plan, changedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.Plan = plan
	changedCopy := changedAt
	user.PlanChangedAt = &changedCopy
	r.users[id] = user
	return nil
}

// stubSessionRepository keeps sessions in memory.
type stubSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	events   []domain.SessionEvent

	rotationCalls []struct {
		sessionID      string
		refreshTokenID string
		csrfHash       string
	}
	revokedFamilies []string
}

func newStubSessionRepository() *stubSessionRepository {
	return &stubSessionRepository{sessions: make(map[string]domain.Session)}
}

func (r *stubSessionRepository) Create(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	return nil
}

func (r *stubSessionRepository) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[sessionID]; ok {
		copied := session
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (r *stubSessionRepository) GetByFamily(_ context.Context, familyID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.FamilyID == familyID {
			copied := session
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubSessionRepository) ListByUser(_ context.Context, userID string) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Session
	for _, session := range r.sessions {
		if session.UserID == userID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *stubSessionRepository) Touch(_ context.Context, sessionID string, ip *string, userAgent *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	session.Touch(time.Now().UTC(), ip, userAgent)
	r.sessions[sessionID] = session
	return nil
}

func (r *stubSessionRepository) UpdateRotationState(_ context.Context, sessionID, refreshTokenID, csrfHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok || session.RevokedAt != nil {
		return repository.ErrNotFound
	}
	tokenCopy := refreshTokenID
	session.RefreshTokenID = &tokenCopy
	session.CSRFHash = csrfHash
	r.sessions[sessionID] = session
	r.rotationCalls = append(r.rotationCalls, struct {
		sessionID      string
		refreshTokenID string
		csrfHash       string
	}{sessionID: sessionID, refreshTokenID: refreshTokenID, csrfHash: csrfHash})
	return nil
}

func (r *stubSessionRepository) Revoke(_ context.Context, sessionID string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok || session.RevokedAt != nil {
		return repository.ErrNotFound
	}
	session.Revoke(time.Now().UTC(), reason)
	r.sessions[sessionID] = session
	return nil
}

func (r *stubSessionRepository) RevokeByFamily(_ context.Context, familyID string, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	revoked := 0
	for id, session := range r.sessions {
		if session.FamilyID == familyID && session.RevokedAt == nil {
			session.Revoke(time.Now().UTC(), reason)
			r.sessions[id] = session
			revoked++
		}
	}
	r.revokedFamilies = append(r.revokedFamilies, familyID)
	return revoked, nil
}

func (r *stubSessionRepository) RevokeAllForUser(_ context.Context, userID string, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	revoked := 0
	for id, session := range r.sessions {
		if session.UserID == userID && session.RevokedAt == nil {
			session.Revoke(time.Now().UTC(), reason)
			r.sessions[id] = session
			revoked++
		}
	}
	return revoked, nil
}

func (r *stubSessionRepository) StoreEvent(_ context.Context, event domain.SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// stubTokenRepository keeps refresh tokens and the JTI ledger in memory. The
// consume-once semantics of MarkRefreshTokenUsed match the SQL guard.
type stubTokenRepository struct {
	mu      sync.Mutex
	refresh map[string]domain.RefreshToken
	ledger  map[string]domain.AccessTokenRecord

	markUsedErr error
}

func newStubTokenRepository() *stubTokenRepository {
	return &stubTokenRepository{
		refresh: make(map[string]domain.RefreshToken),
		ledger:  make(map[string]domain.AccessTokenRecord),
	}
}

func (r *stubTokenRepository) CreateRefreshToken(_ context.Context, token domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refresh[token.ID] = token
	return nil
}

func (r *stubTokenRepository) GetRefreshTokenByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.refresh {
		if token.TokenHash == hash {
			copied := token
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubTokenRepository) MarkRefreshTokenUsed(_ context.Context, refreshTokenID string, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markUsedErr != nil {
		return r.markUsedErr
	}
	token, ok := r.refresh[refreshTokenID]
	if !ok || token.UsedAt != nil {
		return repository.ErrNotFound
	}
	token.MarkUsed(usedAt)
	r.refresh[refreshTokenID] = token
	return nil
}

func (r *stubTokenRepository) RevokeRefreshToken(_ context.Context, refreshTokenID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.refresh[refreshTokenID]
	if !ok {
		return repository.ErrNotFound
	}
	token.Revoke(time.Now().UTC())
	r.refresh[refreshTokenID] = token
	return nil
}

func (r *stubTokenRepository) RevokeRefreshTokensByFamily(_ context.Context, familyID string, _ string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	revoked := 0
	for id, token := range r.refresh {
		if token.FamilyID == familyID && token.RevokedAt == nil {
			token.Revoke(time.Now().UTC())
			r.refresh[id] = token
			revoked++
		}
	}
	return revoked, nil
}

func (r *stubTokenRepository) RecordAccessToken(_ context.Context, record domain.AccessTokenRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger[record.JTI] = record
	return nil
}

func (r *stubTokenRepository) RevokeJTI(_ context.Context, jti string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.ledger[jti]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	record.RevokedAt = &now
	reasonCopy := reason
	record.Reason = &reasonCopy
	r.ledger[jti] = record
	return nil
}

func (r *stubTokenRepository) IsJTIRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.ledger[jti]
	if !ok {
		return false, nil
	}
	return record.RevokedAt != nil, nil
}

func (r *stubTokenRepository) RevokeJTIsBySession(_ context.Context, sessionID string, reason string) ([]domain.RevokedAccessTokenJTI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var out []domain.RevokedAccessTokenJTI
	for jti, record := range r.ledger {
		if record.SessionID != sessionID || record.RevokedAt != nil || !record.ExpiresAt.After(now) {
			continue
		}
		record.RevokedAt = &now
		reasonCopy := reason
		record.Reason = &reasonCopy
		r.ledger[jti] = record
		out = append(out, domain.RevokedAccessTokenJTI{
			JTI:       jti,
			ExpiresAt: record.ExpiresAt,
			RevokedAt: now,
			Reason:    record.Reason,
		})
	}
	return out, nil
}

// stubRevocationStore is an in-memory port.RevocationStore.
type stubRevocationStore struct {
	mu      sync.Mutex
	entries map[string]string
	err     error
}

func newStubRevocationStore() *stubRevocationStore {
	return &stubRevocationStore{entries: make(map[string]string)}
}

func (r *stubRevocationStore) MarkRevoked(_ context.Context, jti string, reason string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries[jti] = reason
	return nil
}

func (r *stubRevocationStore) IsRevoked(_ context.Context, jti string) (bool, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, "", r.err
	}
	reason, ok := r.entries[jti]
	return ok, reason, nil
}

// memoryRateLimitStore is an in-memory sliding-window store.
type memoryRateLimitStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newMemoryRateLimitStore() *memoryRateLimitStore {
	return &memoryRateLimitStore{attempts: make(map[string][]time.Time)}
}

func (s *memoryRateLimitStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := reference.Add(-window)
	var kept []time.Time
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	s.attempts[identifier] = kept
	return nil
}

func (s *memoryRateLimitStore) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := reference.Add(-window)
	count := 0
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) {
			count++
		}
	}
	return count, nil
}

func (s *memoryRateLimitStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[identifier] = append(s.attempts[identifier], at)
	return nil
}

func (s *memoryRateLimitStore) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := reference.Add(-window)
	var oldest time.Time
	found := false
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) && (!found || at.Before(oldest)) {
			oldest = at
			found = true
		}
	}
	return oldest, found, nil
}

// memoryQuotaStore is an in-memory fixed-window counter store.
type memoryQuotaStore struct {
	mu       sync.Mutex
	counters map[string]int64
	expiry   map[string]time.Time
}

func newMemoryQuotaStore() *memoryQuotaStore {
	return &memoryQuotaStore{
		counters: make(map[string]int64),
		expiry:   make(map[string]time.Time),
	}
}

func (s *memoryQuotaStore) Increment(_ context.Context, key string, expireAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	if s.counters[key] == 1 {
		s.expiry[key] = expireAt
	}
	return s.counters[key], nil
}

func (s *memoryQuotaStore) Count(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key], nil
}

// collectingPublisher records published events for assertions.
type collectingPublisher struct {
	mu         sync.Mutex
	registered []domain.UserRegisteredEvent
	revoked    []domain.SessionRevokedEvent
	reuse      []domain.TokenReuseDetectedEvent
	planChange []domain.PlanChangedEvent
}

func (p *collectingPublisher) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, event)
	return nil
}

func (p *collectingPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, event)
	return nil
}

func (p *collectingPublisher) PublishTokenReuseDetected(_ context.Context, event domain.TokenReuseDetectedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reuse = append(p.reuse, event)
	return nil
}

func (p *collectingPublisher) PublishPlanChanged(_ context.Context, event domain.PlanChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.planChange = append(p.planChange, event)
	return nil
}

// testKeyring backs the JWT manager with a generated RSA key.
type testKeyring struct {
	kid string
	key *rsa.PrivateKey
}

func newTestKeyring(t *testing.T) *testKeyring {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return &testKeyring{kid: "test-key", key: key}
}

func (k *testKeyring) GetSigningKey() (*rsa.PrivateKey, error) {
	return k.key, nil
}

func (k *testKeyring) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	if kid != k.kid {
		return nil, errors.New("unknown kid")
	}
	return &k.key.PublicKey, nil
}

func (k *testKeyring) SigningKid() string { return k.kid }

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		App: config.AppSettings{Name: "namecraft", Env: "test"},
		JWT: config.JWTSettings{
			Issuer:          "namecraft-auth",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 720 * time.Hour,
			SessionTTL:      720 * time.Hour,
		},
		Lockout: config.LockoutSettings{
			Curve:        LockoutCurveExponential,
			Threshold:    3,
			BaseDuration: time.Minute,
			MaxDuration:  time.Hour,
		},
	}
}

func mustHashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return hash
}
