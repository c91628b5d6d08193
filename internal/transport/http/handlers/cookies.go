package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/namecraft/auth-service/internal/core/domain"
	"github.com/namecraft/auth-service/internal/infra/config"
	"github.com/namecraft/auth-service/internal/transport/http/middleware"
)

// refreshCookiePath restricts the refresh token cookie to the auth endpoints
// so it never travels with ordinary API requests.
const refreshCookiePath = "/api/v1/auth"

// CookieWriter issues and clears the credential cookies. Access and refresh
// tokens are httpOnly; the CSRF value is deliberately script-readable so the
// client can echo it in the X-CSRF-Token header.
type CookieWriter struct {
	cfg config.CookieSettings
}

// NewCookieWriter constructs a CookieWriter from configuration.
func NewCookieWriter(cfg config.CookieSettings) *CookieWriter {
	return &CookieWriter{cfg: cfg}
}

// WriteCredentials sets the three credential cookies from a minted pair.
func (w *CookieWriter) WriteCredentials(c *gin.Context, pair *domain.CredentialPair) {
	now := time.Now().UTC()

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(
		middleware.AccessTokenCookie,
		pair.AccessToken,
		maxAgeSeconds(pair.AccessExpiresAt, now),
		"/",
		w.cfg.Domain,
		w.cfg.Secure,
		true,
	)
	c.SetCookie(
		middleware.RefreshTokenCookie,
		pair.RefreshToken,
		maxAgeSeconds(pair.RefreshExpiresAt, now),
		refreshCookiePath,
		w.cfg.Domain,
		w.cfg.Secure,
		true,
	)
	c.SetCookie(
		middleware.CSRFTokenCookie,
		pair.CSRFToken,
		maxAgeSeconds(pair.RefreshExpiresAt, now),
		"/",
		w.cfg.Domain,
		w.cfg.Secure,
		false,
	)
}

// ClearCredentials expires all credential cookies.
func (w *CookieWriter) ClearCredentials(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.AccessTokenCookie, "", -1, "/", w.cfg.Domain, w.cfg.Secure, true)
	c.SetCookie(middleware.RefreshTokenCookie, "", -1, refreshCookiePath, w.cfg.Domain, w.cfg.Secure, true)
	c.SetCookie(middleware.CSRFTokenCookie, "", -1, "/", w.cfg.Domain, w.cfg.Secure, false)
}

func maxAgeSeconds(expiresAt, now time.Time) int {
	if expiresAt.IsZero() {
		return 0
	}
	remaining := int(expiresAt.Sub(now).Seconds())
	if remaining < 1 {
		remaining = 1
	}
	return remaining
}
