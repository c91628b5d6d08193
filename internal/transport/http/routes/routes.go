package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/namecraft/auth-service/internal/core/port"
	"github.com/namecraft/auth-service/internal/infra/config"
	"github.com/namecraft/auth-service/internal/infra/security"
	"github.com/namecraft/auth-service/internal/transport/http/handlers"
	"github.com/namecraft/auth-service/internal/transport/http/middleware"
	"github.com/namecraft/auth-service/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth     *usecase.AuthService
	Tokens   *usecase.TokenService
	Sessions *usecase.SessionService
	Quotas   *usecase.QuotaService
	Plans    *usecase.PlanService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Metrics     *middleware.HTTPMetrics
	Services    ServiceSet
	Users       port.UserRepository
	JWTManager  *security.JWTManager
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Handler())
	}

	authMiddleware := middleware.RequireAuth(deps.Services.Tokens)
	csrfMiddleware := middleware.RequireCSRF(deps.Services.Tokens)
	adminMiddleware := middleware.RequireAdmin(adminLookup(deps.Users))

	healthOptions := make([]handlers.HealthOption, 0, 2)

	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}

	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	jwksHandler := handlers.NewJWKSHandler(deps.JWTManager)
	r.GET("/.well-known/jwks.json", jwksHandler.Keys)

	cookies := handlers.NewCookieWriter(deps.Config.Cookies)

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")

		authHandler := handlers.NewAuthHandler(deps.Services.Auth, deps.Services.Sessions, deps.Users, cookies)
		authHandler.RegisterRoutes(
			authGroup,
			authMiddleware,
			csrfMiddleware,
			buildRateLimitMiddlewares(deps, "auth_register_ip", deps.Config.RateLimit.RegisterMaxAttempts),
			buildRateLimitMiddlewares(deps, "auth_login_ip", deps.Config.RateLimit.LoginMaxAttempts),
			buildRateLimitMiddlewares(deps, "auth_refresh_ip", deps.Config.RateLimit.RefreshMaxAttempts),
		)

		sessionGroup := api.Group("/sessions")
		sessionGroup.Use(authMiddleware)
		sessionHandler := handlers.NewSessionHandler(deps.Services.Sessions, cookies)
		sessionHandler.RegisterRoutes(sessionGroup, csrfMiddleware)

		quotaGroup := api.Group("/quota")
		quotaGroup.Use(authMiddleware)
		quotaHandler := handlers.NewQuotaHandler(deps.Services.Quotas)
		quotaHandler.RegisterRoutes(quotaGroup, csrfMiddleware)

		adminGroup := api.Group("/admin")
		adminGroup.Use(authMiddleware, adminMiddleware)
		adminHandler := handlers.NewAdminHandler(deps.Services.Plans)
		adminHandler.RegisterRoutes(adminGroup, csrfMiddleware)
	}

	return r
}

// adminLookup resolves the caller's admin flag from the user store. The token
// claims deliberately carry no admin marker so a demotion takes effect on the
// next request instead of at token expiry.
func adminLookup(users port.UserRepository) func(c *gin.Context) (bool, error) {
	return func(c *gin.Context) (bool, error) {
		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			return false, nil
		}
		user, err := users.GetByID(c.Request.Context(), userID)
		if err != nil {
			return false, err
		}
		return user.IsAdmin, nil
	}
}

func buildRateLimitMiddlewares(deps Dependencies, name string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}
	if limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
