package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/namecraft/auth-service/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// UserSummary describes a minimal view of a user returned by the API.
type UserSummary struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name"`
	Plan        domain.Plan `json:"plan"`
	LastLogin   *time.Time  `json:"last_login,omitempty"`
}

// NewUserSummary builds the API view of a user.
func NewUserSummary(user *domain.User) UserSummary {
	return UserSummary{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Plan:        user.Plan,
		LastLogin:   user.LastLogin,
	}
}

// RegisterRequest defines the payload for the register endpoint.
type RegisterRequest struct {
	Email       string `json:"email" binding:"required"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password" binding:"required"`
}

// RegisterResponse describes the response for a successful registration.
// Registration signs the account in, so the session metadata mirrors
// LoginResponse when the immediate sign-in succeeded.
type RegisterResponse struct {
	User            UserSummary `json:"user"`
	SessionID       string      `json:"session_id,omitempty"`
	AccessExpiresAt time.Time   `json:"access_expires_at,omitempty"`
	CSRFToken       string      `json:"csrf_token,omitempty"`
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DeviceID    string `json:"device_id"`
	DeviceLabel string `json:"device_label"`
}

// SessionSummary provides a compact view of session context.
type SessionSummary struct {
	ID          string     `json:"id"`
	DeviceLabel *string    `json:"device_label,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastSeen    time.Time  `json:"last_seen"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Current     bool       `json:"current,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// NewSessionSummary builds the API view of a session.
func NewSessionSummary(session domain.Session, currentID string) SessionSummary {
	return SessionSummary{
		ID:          session.ID,
		DeviceLabel: session.DeviceLabel,
		CreatedAt:   session.CreatedAt,
		LastSeen:    session.LastSeen,
		ExpiresAt:   session.ExpiresAt,
		Current:     session.ID == currentID,
		RevokedAt:   session.RevokedAt,
	}
}

// LoginResponse describes the response returned for a successful login.
// Credentials travel in cookies; the body carries expiry metadata so the
// client can schedule proactive renewal.
type LoginResponse struct {
	User            UserSummary `json:"user"`
	SessionID       string      `json:"session_id"`
	AccessExpiresAt time.Time   `json:"access_expires_at"`
	CSRFToken       string      `json:"csrf_token"`
}

// RefreshResponse describes the response for a successful token rotation.
type RefreshResponse struct {
	SessionID       string    `json:"session_id"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	CSRFToken       string    `json:"csrf_token"`
}

// SessionInfoResponse describes the authenticated session returned by GET /auth/session.
type SessionInfoResponse struct {
	User    UserSummary    `json:"user"`
	Session SessionSummary `json:"session"`
}

// LogoutAllResponse reports how many sessions were terminated.
type LogoutAllResponse struct {
	SessionsRevoked int `json:"sessions_revoked"`
}

// SessionListResponse wraps the device session list.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// QuotaStatus describes usage for one action category.
type QuotaStatus struct {
	Category  domain.ActionCategory `json:"category"`
	Limit     int                   `json:"limit"`
	Used      int64                 `json:"used"`
	Remaining int64                 `json:"remaining"`
	ResetAt   time.Time             `json:"reset_at"`
}

// QuotaResponse lists quota status for every category available on the plan.
type QuotaResponse struct {
	Plan    domain.Plan   `json:"plan"`
	Actions []QuotaStatus `json:"actions"`
}

// ConsumeQuotaResponse reports the outcome of consuming one quota unit.
type ConsumeQuotaResponse struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// ChangePlanRequest defines the payload for the admin plan change endpoint.
type ChangePlanRequest struct {
	Plan domain.Plan `json:"plan" binding:"required"`
}

// ChangePlanResponse reports the result of a plan change.
type ChangePlanResponse struct {
	UserID          string      `json:"user_id"`
	OldPlan         domain.Plan `json:"old_plan"`
	NewPlan         domain.Plan `json:"new_plan"`
	SessionsRevoked int         `json:"sessions_revoked"`
}

// HealthResponse conveys liveness information.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessCheckResult reports the status of one readiness dependency.
type ReadinessCheckResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ReadinessResponse aggregates readiness checks.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks []ReadinessCheckResult `json:"checks"`
}
