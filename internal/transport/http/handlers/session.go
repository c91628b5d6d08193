package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/namecraft/auth-service/internal/transport/http/middleware"
	"github.com/namecraft/auth-service/internal/usecase"
)

// SessionHandler exposes device session management endpoints.
type SessionHandler struct {
	sessions *usecase.SessionService
	cookies  *CookieWriter
}

// NewSessionHandler constructs SessionHandler.
func NewSessionHandler(sessions *usecase.SessionService, cookies *CookieWriter) *SessionHandler {
	return &SessionHandler{sessions: sessions, cookies: cookies}
}

// RegisterRoutes binds session management routes. The group is expected to be
// wrapped in the auth middleware already; CSRF guards the mutating routes.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup, csrfMiddleware gin.HandlerFunc) {
	r.GET("", h.list)
	r.DELETE("/:id", csrfMiddleware, h.revoke)
	r.POST("/revoke-others", csrfMiddleware, h.revokeOthers)
}

func (h *SessionHandler) list(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	currentID := c.GetString(middleware.SessionIDKey)

	sessions, err := h.sessions.ListSessions(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list sessions"))
		return
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, NewSessionSummary(session, currentID))
	}

	c.JSON(http.StatusOK, SessionListResponse{Sessions: summaries})
}

func (h *SessionHandler) revoke(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	currentID := c.GetString(middleware.SessionIDKey)
	targetID := c.Param("id")

	err := h.sessions.RevokeSession(c.Request.Context(), userID, targetID, usecase.RevokeReasonUserInitiated, userID)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Message: "session not found"},
		}, http.StatusInternalServerError, "failed to revoke session")
		return
	}

	// Revoking the session behind the current request also ends this login.
	if targetID == currentID {
		h.cookies.ClearCredentials(c)
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "session revoked"})
}

func (h *SessionHandler) revokeOthers(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	currentID := c.GetString(middleware.SessionIDKey)

	revoked, err := h.sessions.RevokeAllExcept(c.Request.Context(), userID, currentID, usecase.RevokeReasonUserInitiated, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to revoke sessions"))
		return
	}

	c.JSON(http.StatusOK, LogoutAllResponse{SessionsRevoked: revoked})
}
