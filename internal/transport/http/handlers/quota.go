package handlers

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/namecraft/auth-service/internal/core/domain"
	"github.com/namecraft/auth-service/internal/transport/http/middleware"
	"github.com/namecraft/auth-service/internal/usecase"
)

// QuotaHandler exposes plan quota inspection and consumption endpoints.
type QuotaHandler struct {
	quotas *usecase.QuotaService
}

// NewQuotaHandler constructs QuotaHandler.
func NewQuotaHandler(quotas *usecase.QuotaService) *QuotaHandler {
	return &QuotaHandler{quotas: quotas}
}

// RegisterRoutes binds quota routes. The group must be wrapped in auth middleware.
func (h *QuotaHandler) RegisterRoutes(r *gin.RouterGroup, csrfMiddleware gin.HandlerFunc) {
	r.GET("", h.status)
	r.GET("/:category", h.categoryStatus)
	r.POST("/:category/consume", csrfMiddleware, h.consume)
}

func (h *QuotaHandler) status(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	plan := domain.Plan(c.GetString(middleware.PlanKey))

	table, ok := h.quotas.Policy()[plan]
	if !ok {
		c.JSON(http.StatusOK, QuotaResponse{Plan: plan, Actions: []QuotaStatus{}})
		return
	}

	categories := make([]domain.ActionCategory, 0, len(table))
	for category := range table {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	actions := make([]QuotaStatus, 0, len(categories))
	for _, category := range categories {
		decision, err := h.quotas.Remaining(c.Request.Context(), userID, plan, category)
		if err != nil {
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to read quota"))
			return
		}
		actions = append(actions, QuotaStatus{
			Category:  category,
			Limit:     decision.Limit,
			Used:      decision.Used,
			Remaining: decision.Remaining,
			ResetAt:   decision.ResetAt,
		})
	}

	c.JSON(http.StatusOK, QuotaResponse{Plan: plan, Actions: actions})
}

func (h *QuotaHandler) categoryStatus(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	plan := domain.Plan(c.GetString(middleware.PlanKey))
	category := domain.ActionCategory(c.Param("category"))

	decision, err := h.quotas.Remaining(c.Request.Context(), userID, plan, category)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrActionUnavailable, Status: http.StatusForbidden, Message: "action not available on current plan"},
		}, http.StatusInternalServerError, "failed to read quota")
		return
	}

	c.JSON(http.StatusOK, QuotaStatus{
		Category:  category,
		Limit:     decision.Limit,
		Used:      decision.Used,
		Remaining: decision.Remaining,
		ResetAt:   decision.ResetAt,
	})
}

func (h *QuotaHandler) consume(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	plan := domain.Plan(c.GetString(middleware.PlanKey))
	category := domain.ActionCategory(c.Param("category"))

	decision, err := h.quotas.CheckAndConsume(c.Request.Context(), userID, plan, category)
	if err != nil {
		if errors.Is(err, usecase.ErrQuotaExceeded) {
			c.JSON(http.StatusTooManyRequests, ConsumeQuotaResponse{
				Allowed:   false,
				Limit:     decision.Limit,
				Used:      decision.Used,
				Remaining: decision.Remaining,
				ResetAt:   decision.ResetAt,
			})
			return
		}
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrActionUnavailable, Status: http.StatusForbidden, Message: "action not available on current plan"},
		}, http.StatusInternalServerError, "quota check failed")
		return
	}

	c.JSON(http.StatusOK, ConsumeQuotaResponse{
		Allowed:   true,
		Limit:     decision.Limit,
		Used:      decision.Used,
		Remaining: decision.Remaining,
		ResetAt:   decision.ResetAt,
	})
}
