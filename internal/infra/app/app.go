package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/namecraft/auth-service/internal/core/domain"
	"github.com/namecraft/auth-service/internal/core/port"
	"github.com/namecraft/auth-service/internal/infra/config"
	"github.com/namecraft/auth-service/internal/infra/database"
	kafkainfra "github.com/namecraft/auth-service/internal/infra/kafka"
	"github.com/namecraft/auth-service/internal/infra/logger"
	redisinfra "github.com/namecraft/auth-service/internal/infra/redis"
	"github.com/namecraft/auth-service/internal/infra/security"
	"github.com/namecraft/auth-service/internal/infra/telemetry"
	postgresrepo "github.com/namecraft/auth-service/internal/repository/postgres"
	redisrepo "github.com/namecraft/auth-service/internal/repository/redis"
	"github.com/namecraft/auth-service/internal/transport/http/middleware"
	"github.com/namecraft/auth-service/internal/transport/http/routes"
	"github.com/namecraft/auth-service/internal/usecase"
)

// Application owns the wired object graph and the HTTP server lifecycle.
type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tokens   *usecase.TokenService
}

// New builds the application from configuration: infrastructure first, then
// repositories, services, and finally the HTTP surface.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if _, err := telemetry.Attach(ctx, cfg); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	argonCfg := security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	}
	if err := security.ConfigureArgon2(argonCfg); err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	keyProvider, err := security.NewFileKeyProvider(cfg.JWT.KeyDirectory)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	jwtManager := security.NewJWTManager(keyProvider)

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	var eventPublisher port.EventPublisher
	var producer *kafkainfra.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
			producer = nil
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	repos := postgresrepo.NewRepositories(pool)

	revocationStore := redisrepo.NewRevocationRepository(redisClient.Client(), cfg.Redis.RevocationPrefix)
	quotaStore := redisrepo.NewQuotaRepository(redisClient.Client(), cfg.Redis.QuotaPrefix)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.RateLimitPrefix,
		TTL:       rateLimitWindow * 2,
	})
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	lockoutPolicy, err := usecase.NewLockoutPolicy(cfg.Lockout)
	if err != nil {
		redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("init lockout policy: %w", err)
	}
	loginGuard := usecase.NewAttemptGuard(rateLimitStore, cfg.RateLimit.LoginMaxAttempts, rateLimitWindow)

	tokenService := usecase.NewTokenService(cfg, jwtManager, repos.Sessions, repos.Tokens, revocationStore, log)

	authService := usecase.NewAuthService(
		cfg,
		repos.Users,
		repos.Sessions,
		repos.Tokens,
		jwtManager,
		keyProvider,
		security.DefaultPasswordValidator(),
		eventPublisher,
		revocationStore,
		loginGuard,
		lockoutPolicy,
		log,
	)
	sessionService := usecase.NewSessionService(repos.Sessions, repos.Tokens, tokenService, eventPublisher, log)
	quotaService := usecase.NewQuotaService(domain.DefaultQuotaPolicy(), quotaStore, log)
	planService := usecase.NewPlanService(repos.Users, sessionService, eventPublisher, log)

	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Metrics:     metrics,
		Users:       repos.Users,
		JWTManager:  jwtManager,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Auth:     authService,
			Tokens:   tokenService,
			Sessions: sessionService,
			Quotas:   quotaService,
			Plans:    planService,
		},
	})

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		producer: producer,
		tokens:   tokenService,
	}, nil
}

// Run serves HTTP until the context is canceled, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.pool.Close()
	defer func() {
		_ = a.redis.Close()
	}()
	defer a.tokens.Close()
	defer func() {
		if a.producer != nil {
			_ = a.producer.Close()
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
