package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/namecraft/auth-service/internal/usecase"
)

// Cookie names shared between the auth middleware and the handlers that set them.
const (
	// AccessTokenCookie carries the signed access token, httpOnly.
	AccessTokenCookie = "nc_access_token"
	// RefreshTokenCookie carries the raw refresh token, httpOnly and
	// path-restricted to the auth endpoints.
	RefreshTokenCookie = "nc_refresh_token"
	// CSRFTokenCookie carries the raw CSRF value. It is intentionally
	// script-readable so the client can echo it in the X-CSRF-Token header.
	CSRFTokenCookie = "nc_csrf_token"
	// CSRFHeader is the header the client echoes the CSRF value into.
	CSRFHeader = "X-CSRF-Token"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// newErrorResponse creates an error response with trace ID
func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// ExtractAccessToken pulls the access token from the session cookie or, as a
// fallback for non-browser clients, the Authorization header.
func ExtractAccessToken(c *gin.Context) string {
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie != "" {
		return cookie
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// RequireAuth validates credentials and rejects revoked or expired sessions.
func RequireAuth(tokens *usecase.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractAccessToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing credentials"))
			return
		}

		result, err := tokens.Introspect(c.Request.Context(), token, true)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrExpiredAccessToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "access token expired"))
			case errors.Is(err, usecase.ErrInvalidAccessToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "invalid access token"))
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					newErrorResponse(c, "authentication failed"))
			}
			return
		}

		if !result.Active {
			message := "session revoked"
			if result.Session != nil && result.Session.RevokedAt == nil {
				message = "session expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, message))
			return
		}

		c.Set(UserIDKey, result.UserID)
		c.Set(SessionIDKey, result.SessionID)
		c.Set(PlanKey, result.Plan)
		c.Set("claims", result.Claims)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = result.UserID
			reqCtx.SessionID = result.SessionID
		}

		c.Next()
	}
}

// RequireCSRF enforces the double-submit CSRF check on mutating requests. The
// client echoes the script-readable cookie value into the X-CSRF-Token header
// and the hash bound to the session must match.
func RequireCSRF(tokens *usecase.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		sessionID := c.GetString(SessionIDKey)
		if sessionID == "" {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "csrf check requires an authenticated session"))
			return
		}

		presented := c.GetHeader(CSRFHeader)
		if err := tokens.VerifyCSRF(c.Request.Context(), sessionID, presented); err != nil {
			if errors.Is(err, usecase.ErrCSRFMismatch) || errors.Is(err, usecase.ErrSessionRevoked) {
				c.AbortWithStatusJSON(http.StatusForbidden,
					newErrorResponse(c, "csrf token mismatch"))
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				newErrorResponse(c, "csrf check failed"))
			return
		}

		c.Next()
	}
}

// RequireAdmin gates admin-only endpoints behind an admin lookup.
func RequireAdmin(isAdmin func(c *gin.Context) (bool, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := isAdmin(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				newErrorResponse(c, "authorization check failed"))
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "admin access required"))
			return
		}
		c.Next()
	}
}
