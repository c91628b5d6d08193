package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/namecraft/auth-service/internal/core/domain"
	"github.com/namecraft/auth-service/internal/infra/security"
)

type tokenHarness struct {
	service    *TokenService
	sessions   *stubSessionRepository
	tokens     *stubTokenRepository
	revocation *stubRevocationStore
	keyring    *testKeyring
	manager    *security.JWTManager
}

func newTokenHarness(t *testing.T) *tokenHarness {
	t.Helper()

	sessions := newStubSessionRepository()
	tokens := newStubTokenRepository()
	revocation := newStubRevocationStore()
	keyring := newTestKeyring(t)
	manager := security.NewJWTManager(keyring)

	service := NewTokenService(testConfig(), manager, sessions, tokens, revocation, zaptest.NewLogger(t))
	t.Cleanup(service.Close)

	return &tokenHarness{
		service:    service,
		sessions:   sessions,
		tokens:     tokens,
		revocation: revocation,
		keyring:    keyring,
		manager:    manager,
	}
}

func (h *tokenHarness) mintToken(t *testing.T, userID, sessionID string, ttl time.Duration) (string, *security.AccessTokenClaims) {
	t.Helper()

	claims, err := security.NewAccessTokenClaims(security.AccessTokenOptions{
		UserID:    userID,
		SessionID: sessionID,
		Plan:      string(domain.PlanPremium),
		Issuer:    "namecraft-auth",
		TTL:       ttl,
	})
	if err != nil {
		t.Fatalf("build claims: %v", err)
	}

	signed, err := h.manager.SignAccessToken(h.keyring.SigningKid(), claims)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	return signed, claims
}

func (h *tokenHarness) seedSession(sessionID, userID string, revoked bool) {
	session := domain.Session{
		ID:        sessionID,
		FamilyID:  "family-" + sessionID,
		UserID:    userID,
		CSRFHash:  security.HashToken("csrf-raw"),
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		LastSeen:  time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if revoked {
		now := time.Now().UTC()
		reason := RevokeReasonSecurity
		session.RevokedAt = &now
		session.RevokeReason = &reason
	}
	h.sessions.sessions[sessionID] = session
}

func TestValidateTokenRoundTrip(t *testing.T) {
	h := newTokenHarness(t)
	signed, minted := h.mintToken(t, "user-1", "session-1", 15*time.Minute)

	claims, err := h.service.ValidateToken(context.Background(), signed)
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	if claims.UserID != "user-1" || claims.SessionID != "session-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.RegisteredClaims.ID != minted.RegisteredClaims.ID {
		t.Fatal("jti mismatch")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	h := newTokenHarness(t)

	claims, err := security.NewAccessTokenClaims(security.AccessTokenOptions{
		UserID:   "user-1",
		Issuer:   "namecraft-auth",
		IssuedAt: time.Now().UTC().Add(-time.Hour),
		TTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("build claims: %v", err)
	}
	signed, err := h.manager.SignAccessToken(h.keyring.SigningKid(), claims)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	_, err = h.service.ValidateToken(context.Background(), signed)
	if !errors.Is(err, ErrExpiredAccessToken) {
		t.Fatalf("expected ErrExpiredAccessToken, got %v", err)
	}
}

func TestValidateTokenGarbage(t *testing.T) {
	h := newTokenHarness(t)

	_, err := h.service.ValidateToken(context.Background(), "not.a.jwt")
	if !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expected ErrInvalidAccessToken, got %v", err)
	}
}

func TestIntrospectRevokedJTI(t *testing.T) {
	h := newTokenHarness(t)
	h.seedSession("session-1", "user-1", false)
	signed, claims := h.mintToken(t, "user-1", "session-1", 15*time.Minute)

	if err := h.revocation.MarkRevoked(context.Background(), claims.RegisteredClaims.ID, RevokeReasonSecurity, time.Minute); err != nil {
		t.Fatalf("seed denylist: %v", err)
	}

	result, err := h.service.Introspect(context.Background(), signed, true)
	if err != nil {
		t.Fatalf("Introspect returned error: %v", err)
	}
	if result.Active || !result.Revoked {
		t.Fatalf("expected inactive revoked result, got %+v", result)
	}
	if result.RevocationReason != RevokeReasonSecurity {
		t.Fatalf("unexpected reason: %q", result.RevocationReason)
	}
}

func TestIntrospectFallsBackToLedger(t *testing.T) {
	h := newTokenHarness(t)
	h.seedSession("session-1", "user-1", false)
	signed, claims := h.mintToken(t, "user-1", "session-1", 15*time.Minute)

	jti := claims.RegisteredClaims.ID
	h.tokens.ledger[jti] = domain.AccessTokenRecord{
		JTI:       jti,
		UserID:    "user-1",
		SessionID: "session-1",
		ExpiresAt: time.Now().UTC().Add(15 * time.Minute),
	}
	if err := h.tokens.RevokeJTI(context.Background(), jti, RevokeReasonSecurity); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	// With the shared store down, the persisted ledger is authoritative.
	h.revocation.err = errors.New("redis unavailable")

	result, err := h.service.Introspect(context.Background(), signed, true)
	if err != nil {
		t.Fatalf("Introspect returned error: %v", err)
	}
	if result.Active || !result.Revoked {
		t.Fatalf("expected ledger fallback to flag revocation, got %+v", result)
	}
}

func TestIntrospectRevokedSession(t *testing.T) {
	h := newTokenHarness(t)
	h.seedSession("session-1", "user-1", true)
	signed, _ := h.mintToken(t, "user-1", "session-1", 15*time.Minute)

	result, err := h.service.Introspect(context.Background(), signed, true)
	if err != nil {
		t.Fatalf("Introspect returned error: %v", err)
	}
	if result.Active {
		t.Fatal("expected inactive result for revoked session")
	}
	if result.RevocationReason != RevokeReasonSecurity {
		t.Fatalf("expected session revoke reason, got %q", result.RevocationReason)
	}
}

func TestVerifyCSRF(t *testing.T) {
	h := newTokenHarness(t)
	h.seedSession("session-1", "user-1", false)

	if err := h.service.VerifyCSRF(context.Background(), "session-1", "csrf-raw"); err != nil {
		t.Fatalf("expected csrf match, got %v", err)
	}

	if err := h.service.VerifyCSRF(context.Background(), "session-1", "stale-value"); !errors.Is(err, ErrCSRFMismatch) {
		t.Fatalf("expected ErrCSRFMismatch, got %v", err)
	}

	h.seedSession("session-2", "user-1", true)
	if err := h.service.VerifyCSRF(context.Background(), "session-2", "csrf-raw"); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestRevokeBySessionMirrorsDenylist(t *testing.T) {
	h := newTokenHarness(t)

	expires := time.Now().UTC().Add(10 * time.Minute)
	h.tokens.ledger["jti-1"] = domain.AccessTokenRecord{JTI: "jti-1", SessionID: "session-1", ExpiresAt: expires}
	h.tokens.ledger["jti-2"] = domain.AccessTokenRecord{JTI: "jti-2", SessionID: "session-1", ExpiresAt: expires}
	h.tokens.ledger["jti-other"] = domain.AccessTokenRecord{JTI: "jti-other", SessionID: "session-9", ExpiresAt: expires}

	count, err := h.service.RevokeBySession(context.Background(), "session-1", RevokeReasonUserInitiated)
	if err != nil {
		t.Fatalf("RevokeBySession returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 revoked tokens, got %d", count)
	}

	for _, jti := range []string{"jti-1", "jti-2"} {
		revoked, reason, err := h.revocation.IsRevoked(context.Background(), jti)
		if err != nil {
			t.Fatalf("check denylist: %v", err)
		}
		if !revoked || reason != RevokeReasonUserInitiated {
			t.Fatalf("expected %s denylisted with reason, got revoked=%v reason=%q", jti, revoked, reason)
		}
	}

	if revoked, _, _ := h.revocation.IsRevoked(context.Background(), "jti-other"); revoked {
		t.Fatal("unrelated session token must not be denylisted")
	}
}
