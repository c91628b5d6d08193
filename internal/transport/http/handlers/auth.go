package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/namecraft/auth-service/internal/core/port"
	"github.com/namecraft/auth-service/internal/infra/security"
	"github.com/namecraft/auth-service/internal/repository"
	"github.com/namecraft/auth-service/internal/transport/http/middleware"
	"github.com/namecraft/auth-service/internal/usecase"
)

// AuthHandler exposes the authentication endpoints.
type AuthHandler struct {
	auth     *usecase.AuthService
	sessions *usecase.SessionService
	users    port.UserRepository
	cookies  *CookieWriter
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(
	auth *usecase.AuthService,
	sessions *usecase.SessionService,
	users port.UserRepository,
	cookies *CookieWriter,
) *AuthHandler {
	return &AuthHandler{
		auth:     auth,
		sessions: sessions,
		users:    users,
		cookies:  cookies,
	}
}

// RegisterRoutes binds authentication routes, applying optional middleware ahead of the credential endpoints.
func (h *AuthHandler) RegisterRoutes(
	r *gin.RouterGroup,
	authMiddleware gin.HandlerFunc,
	csrfMiddleware gin.HandlerFunc,
	registerMiddlewares []gin.HandlerFunc,
	loginMiddlewares []gin.HandlerFunc,
	refreshMiddlewares []gin.HandlerFunc,
) {
	registerChain := append([]gin.HandlerFunc{}, registerMiddlewares...)
	registerChain = append(registerChain, h.register)
	r.POST("/register", registerChain...)

	loginChain := append([]gin.HandlerFunc{}, loginMiddlewares...)
	loginChain = append(loginChain, h.login)
	r.POST("/login", loginChain...)

	refreshChain := append([]gin.HandlerFunc{}, refreshMiddlewares...)
	refreshChain = append(refreshChain, h.refresh)
	r.POST("/refresh", refreshChain...)

	r.POST("/logout", authMiddleware, csrfMiddleware, h.logout)
	r.POST("/logout-all", authMiddleware, csrfMiddleware, h.logoutAll)
	r.GET("/session", authMiddleware, h.session)
}

func (h *AuthHandler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	user, err := h.auth.Register(c.Request.Context(), usecase.RegisterInput{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		var validationErr *security.PasswordValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, validationErr.Error()))
			return
		}
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrEmailTaken, Status: http.StatusConflict, Message: "email already registered"},
		}, http.StatusBadRequest, "registration failed")
		return
	}

	// Registration signs the new account in immediately so the first session
	// starts without a second round trip.
	pair, _, err := h.auth.Login(c.Request.Context(), usecase.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IP:        clientIPPtr(c),
		UserAgent: userAgentPtr(c),
	})
	if err != nil {
		// The account exists; the caller can still sign in explicitly.
		c.JSON(http.StatusCreated, RegisterResponse{User: NewUserSummary(user)})
		return
	}

	h.cookies.WriteCredentials(c, pair)
	c.JSON(http.StatusCreated, RegisterResponse{
		User:            NewUserSummary(user),
		SessionID:       pair.SessionID,
		AccessExpiresAt: pair.AccessExpiresAt,
		CSRFToken:       pair.CSRFToken,
	})
}

func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	input := usecase.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IP:        clientIPPtr(c),
		UserAgent: userAgentPtr(c),
	}
	if device := strings.TrimSpace(req.DeviceID); device != "" {
		input.DeviceID = &device
	}
	if label := strings.TrimSpace(req.DeviceLabel); label != "" {
		input.DeviceLabel = &label
	}

	pair, user, err := h.auth.Login(c.Request.Context(), input)
	if err != nil {
		var rateLimited *usecase.RateLimitError
		if errors.As(err, &rateLimited) {
			respondRateLimited(c, rateLimited.RetryAfter)
			return
		}
		// Lockout and a wrong password share one response body so callers
		// cannot probe which factor failed; only Retry-After differs.
		var locked *usecase.AccountLockedError
		if errors.As(err, &locked) {
			if wait := time.Until(locked.Until); wait > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			}
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid credentials"))
			return
		}
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
		}, http.StatusInternalServerError, "login failed")
		return
	}

	h.cookies.WriteCredentials(c, pair)

	c.JSON(http.StatusOK, LoginResponse{
		User:            NewUserSummary(user),
		SessionID:       pair.SessionID,
		AccessExpiresAt: pair.AccessExpiresAt,
		CSRFToken:       pair.CSRFToken,
	})
}

func (h *AuthHandler) refresh(c *gin.Context) {
	raw, err := c.Cookie(middleware.RefreshTokenCookie)
	if err != nil || raw == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "missing refresh token"))
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), usecase.RefreshInput{
		RefreshToken: raw,
		IP:           clientIPPtr(c),
		UserAgent:    userAgentPtr(c),
	})
	if err != nil {
		// Dead credentials are cleared so the browser stops retrying with them.
		h.cookies.ClearCredentials(c)
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidRefreshToken, Status: http.StatusUnauthorized, Message: "invalid refresh token"},
			{Err: usecase.ErrExpiredRefreshToken, Status: http.StatusUnauthorized, Message: "refresh token expired"},
			{Err: usecase.ErrRefreshTokenReused, Status: http.StatusUnauthorized, Message: "refresh token revoked"},
			{Err: usecase.ErrSessionRevoked, Status: http.StatusUnauthorized, Message: "session revoked"},
			{Err: usecase.ErrSessionExpired, Status: http.StatusUnauthorized, Message: "session expired"},
		}, http.StatusInternalServerError, "token refresh failed")
		return
	}

	h.cookies.WriteCredentials(c, pair)

	c.JSON(http.StatusOK, RefreshResponse{
		SessionID:       pair.SessionID,
		AccessExpiresAt: pair.AccessExpiresAt,
		CSRFToken:       pair.CSRFToken,
	})
}

func (h *AuthHandler) logout(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	sessionID := c.GetString(middleware.SessionIDKey)

	if err := h.sessions.RevokeSession(c.Request.Context(), userID, sessionID, usecase.RevokeReasonUserInitiated, userID); err != nil {
		if !errors.Is(err, usecase.ErrSessionNotFound) {
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "logout failed"))
			return
		}
	}

	h.cookies.ClearCredentials(c)
	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

func (h *AuthHandler) logoutAll(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	revoked, err := h.sessions.RevokeAllSessions(c.Request.Context(), userID, usecase.RevokeReasonUserInitiated, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "logout failed"))
		return
	}

	h.cookies.ClearCredentials(c)
	c.JSON(http.StatusOK, LogoutAllResponse{SessionsRevoked: revoked})
}

func (h *AuthHandler) session(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	sessionID := c.GetString(middleware.SessionIDKey)

	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "account no longer exists"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "session lookup failed"))
		return
	}

	session, err := h.sessions.GetOwned(c.Request.Context(), userID, sessionID)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrSessionNotFound, Status: http.StatusUnauthorized, Message: "session not found"},
		}, http.StatusInternalServerError, "session lookup failed")
		return
	}

	c.JSON(http.StatusOK, SessionInfoResponse{
		User:    NewUserSummary(user),
		Session: NewSessionSummary(*session, sessionID),
	})
}

func respondRateLimited(c *gin.Context, retryAfter time.Duration) {
	retrySeconds := int(math.Ceil(retryAfter.Seconds()))
	if retrySeconds < 0 {
		retrySeconds = 0
	}
	c.Header("Retry-After", strconv.Itoa(retrySeconds))
	c.JSON(http.StatusTooManyRequests, middleware.ProblemDetails{
		Type:       "https://auth.namecraft.example.com/errors/rate-limit-exceeded",
		Title:      "Rate Limit Exceeded",
		Status:     http.StatusTooManyRequests,
		Detail:     "Too many attempts. Try again later.",
		Instance:   c.FullPath(),
		RetryAfter: retrySeconds,
		TraceID:    middleware.GetTraceID(c),
	})
}

func clientIPPtr(c *gin.Context) *string {
	if ip := c.ClientIP(); ip != "" {
		return &ip
	}
	return nil
}

func userAgentPtr(c *gin.Context) *string {
	if ua := c.Request.UserAgent(); ua != "" {
		return &ua
	}
	return nil
}
