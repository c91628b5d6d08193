package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/namecraft/auth-service/internal/core/domain"
	"github.com/namecraft/auth-service/internal/infra/security"
	"github.com/namecraft/auth-service/internal/repository"
)

func loginForRotation(t *testing.T, h *authHarness) *domain.CredentialPair {
	t.Helper()
	h.seedUser(t, "user@example.com")
	pair, _, err := h.service.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	return pair
}

func TestRefreshRotatesCredentials(t *testing.T) {
	h := newAuthHarness(t, 100)
	first := loginForRotation(t, h)

	second, err := h.service.Refresh(context.Background(), RefreshInput{
		RefreshToken: first.RefreshToken,
	})
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	if second.RefreshToken == first.RefreshToken {
		t.Fatal("expected a new refresh token")
	}
	if second.CSRFToken == first.CSRFToken {
		t.Fatal("expected a new csrf token")
	}
	if second.SessionID != first.SessionID || second.FamilyID != first.FamilyID {
		t.Fatal("rotation must stay within the same session and family")
	}

	// The consumed token is single-use from now on.
	consumed, err := h.tokens.GetRefreshTokenByHash(context.Background(), security.HashToken(first.RefreshToken))
	if err != nil {
		t.Fatalf("lookup consumed token: %v", err)
	}
	if consumed.UsedAt == nil {
		t.Fatal("expected consumed token to be marked used")
	}

	// Session rotation state points at the replacement and the new CSRF hash.
	if len(h.sessions.rotationCalls) != 1 {
		t.Fatalf("expected one rotation state update, got %d", len(h.sessions.rotationCalls))
	}
	call := h.sessions.rotationCalls[0]
	if call.refreshTokenID != second.RefreshTokenID {
		t.Fatal("rotation state does not reference the new refresh token")
	}
	if call.csrfHash != security.HashToken(second.CSRFToken) {
		t.Fatal("rotation state does not carry the new csrf hash")
	}
}

func TestRefreshReplayRevokesFamily(t *testing.T) {
	h := newAuthHarness(t, 100)
	first := loginForRotation(t, h)

	second, err := h.service.Refresh(context.Background(), RefreshInput{
		RefreshToken: first.RefreshToken,
	})
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	// Replaying the consumed token is treated as theft evidence.
	_, err = h.service.Refresh(context.Background(), RefreshInput{
		RefreshToken: first.RefreshToken,
	})
	if !errors.Is(err, ErrRefreshTokenReused) {
		t.Fatalf("expected ErrRefreshTokenReused, got %v", err)
	}

	// The whole family dies, including the legitimate replacement.
	session, err := h.sessions.Get(context.Background(), first.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.RevokedAt == nil {
		t.Fatal("expected session to be revoked")
	}

	replacement, err := h.tokens.GetRefreshTokenByHash(context.Background(), security.HashToken(second.RefreshToken))
	if err != nil {
		t.Fatalf("lookup replacement token: %v", err)
	}
	if replacement.RevokedAt == nil {
		t.Fatal("expected replacement refresh token to be revoked")
	}

	_, err = h.service.Refresh(context.Background(), RefreshInput{
		RefreshToken: second.RefreshToken,
	})
	if !errors.Is(err, ErrRefreshTokenReused) {
		t.Fatalf("expected revoked replacement to be rejected, got %v", err)
	}

	// Outstanding access tokens land on the denylist.
	revoked, _, err := h.revocation.IsRevoked(context.Background(), second.AccessTokenJTI)
	if err != nil {
		t.Fatalf("check denylist: %v", err)
	}
	if !revoked {
		t.Fatal("expected outstanding access token jti to be denylisted")
	}

	if len(h.publisher.reuse) == 0 {
		t.Fatal("expected a token reuse event")
	}
	if h.publisher.reuse[0].FamilyID != first.FamilyID {
		t.Fatalf("unexpected family in reuse event: %s", h.publisher.reuse[0].FamilyID)
	}
	if len(h.publisher.revoked) == 0 {
		t.Fatal("expected a session revoked event")
	}
}

func TestRefreshLostRaceIsReuse(t *testing.T) {
	h := newAuthHarness(t, 100)
	first := loginForRotation(t, h)

	// Simulate losing the consume-once race: the row lookup still sees the
	// token as unused but the guarded update matches zero rows.
	h.tokens.markUsedErr = repository.ErrNotFound

	_, err := h.service.Refresh(context.Background(), RefreshInput{
		RefreshToken: first.RefreshToken,
	})
	if !errors.Is(err, ErrRefreshTokenReused) {
		t.Fatalf("expected ErrRefreshTokenReused, got %v", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	h := newAuthHarness(t, 100)
	first := loginForRotation(t, h)

	h.service.WithClock(func() time.Time {
		return time.Now().UTC().Add(721 * time.Hour)
	})

	_, err := h.service.Refresh(context.Background(), RefreshInput{
		RefreshToken: first.RefreshToken,
	})
	if !errors.Is(err, ErrExpiredRefreshToken) {
		t.Fatalf("expected ErrExpiredRefreshToken, got %v", err)
	}
}

func TestRefreshUnknownToken(t *testing.T) {
	h := newAuthHarness(t, 100)

	_, err := h.service.Refresh(context.Background(), RefreshInput{
		RefreshToken: "not-a-real-token",
	})
	if !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
}
