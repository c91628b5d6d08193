package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/namecraft/auth-service/internal/transport/http/middleware"
	"github.com/namecraft/auth-service/internal/usecase"
)

// AdminHandler exposes operator endpoints. Routes must be wrapped in both the
// auth middleware and the admin guard.
type AdminHandler struct {
	plans *usecase.PlanService
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(plans *usecase.PlanService) *AdminHandler {
	return &AdminHandler{plans: plans}
}

// RegisterRoutes binds admin routes.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup, csrfMiddleware gin.HandlerFunc) {
	r.PUT("/users/:id/plan", csrfMiddleware, h.changePlan)
}

func (h *AdminHandler) changePlan(c *gin.Context) {
	var req ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid plan change payload"))
		return
	}

	targetID := c.Param("id")
	changedBy := c.GetString(middleware.UserIDKey)

	event, err := h.plans.ChangePlan(c.Request.Context(), targetID, req.Plan, changedBy)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
			{Err: usecase.ErrInvalidPlan, Status: http.StatusBadRequest, Message: "unknown plan tier"},
		}, http.StatusInternalServerError, "plan change failed")
		return
	}

	c.JSON(http.StatusOK, ChangePlanResponse{
		UserID:          event.UserID,
		OldPlan:         event.OldPlan,
		NewPlan:         event.NewPlan,
		SessionsRevoked: event.SessionsRevoked,
	})
}
