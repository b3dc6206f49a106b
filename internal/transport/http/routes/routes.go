package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/core/port"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/config"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/telemetry"
	"github.com/Realm-101/Unbuilt-sub002/internal/transport/http/handlers"
	"github.com/Realm-101/Unbuilt-sub002/internal/transport/http/middleware"
	"github.com/Realm-101/Unbuilt-sub002/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth     *usecase.AuthService
	Tokens   *usecase.TokenService
	Sessions *usecase.SessionManager
	Events   *usecase.SecurityEventHandler
	Captcha  *usecase.CaptchaService
	Limiter  *usecase.RateLimiter
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config   *config.AppConfig
	Logger   *zap.Logger
	Metrics  *telemetry.Metrics
	Services ServiceSet
	Audit    port.AuditQuerier
	Database DatabaseChecker
	Cache    CacheChecker
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
	r.Use(middleware.Metrics(deps.Metrics))

	authMiddleware := middleware.RequireAuth(deps.Services.Tokens)

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

	var loginPolicy, refreshPolicy, captchaPolicy, generalPolicy domain.RateLimitPolicy
	if limiter := deps.Services.Limiter; limiter != nil {
		loginPolicy = limiter.LoginPolicy()
		refreshPolicy = limiter.RefreshPolicy()
		captchaPolicy = limiter.CaptchaPolicy()
		generalPolicy = limiter.GeneralPolicy()
	}

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")

		authHandler := handlers.NewAuthHandler(deps.Services.Auth)
		authHandler.RegisterRoutes(authGroup,
			rateLimitChain(deps, loginPolicy),
			rateLimitChain(deps, refreshPolicy),
		)

		captchaHandler := handlers.NewCaptchaHandler(deps.Services.Captcha)
		captchaHandler.RegisterRoutes(api, rateLimitChain(deps, captchaPolicy))

		sessionGroup := api.Group("")
		sessionGroup.Use(rateLimitChain(deps, generalPolicy)...)
		sessionGroup.Use(authMiddleware)

		sessionHandler := handlers.NewSessionHandler(deps.Services.Sessions)
		sessionHandler.RegisterRoutes(sessionGroup)

		adminGroup := api.Group("/admin")
		adminGroup.Use(rateLimitChain(deps, generalPolicy)...)
		adminGroup.Use(authMiddleware)

		adminHandler := handlers.NewAdminHandler(deps.Services.Events, deps.Services.Sessions, deps.Services.Limiter, deps.Audit)
		adminHandler.RegisterRoutes(adminGroup)
	}

	return r
}

func rateLimitChain(deps Dependencies, policy domain.RateLimitPolicy) []gin.HandlerFunc {
	if deps.Services.Limiter == nil || policy.MaxAttempts <= 0 {
		return nil
	}

	return []gin.HandlerFunc{
		middleware.RateLimit(deps.Services.Limiter, policy, middleware.ClientIPKey(), deps.Metrics, deps.Logger),
	}
}
