package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/medisphere/pharmacy-platform-auth/internal/infra/config"
	"github.com/medisphere/pharmacy-platform-auth/internal/infra/security"
	"github.com/medisphere/pharmacy-platform-auth/internal/infra/telemetry"
	"github.com/medisphere/pharmacy-platform-auth/internal/transport/http/handlers"
	"github.com/medisphere/pharmacy-platform-auth/internal/transport/http/middleware"
	"github.com/medisphere/pharmacy-platform-auth/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth      *usecase.AuthService
	Passwords *usecase.PasswordService
	Blacklist *usecase.BlacklistService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config     *config.AppConfig
	Logger     *zap.Logger
	Metrics    *telemetry.Metrics
	JWTManager *security.JWTManager
	Services   ServiceSet
	Database   DatabaseChecker
	Cache      CacheChecker
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
	r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))

	// Every protected route runs the full verification chain, blacklist
	// lookup included.
	requireAuth := middleware.RequireAuth(deps.JWTManager, deps.Services.Blacklist, deps.Metrics)

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

	api := r.Group("/api/v1")
	{
		isDev := deps.Config.App.Env == "development"
		notificationDispatcher := handlers.NewLoggingNotificationDispatcher(deps.Logger)

		authGroup := api.Group("/auth")

		authHandler := handlers.NewAuthHandler(deps.Services.Auth, handlers.WithAuthMetrics(deps.Metrics))
		authHandler.RegisterRoutes(authGroup, requireAuth)

		passwordHandler := handlers.NewPasswordHandler(deps.Services.Passwords, notificationDispatcher, isDev)

		passwordGroup := authGroup.Group("/password")
		passwordGroup.POST("/change", requireAuth, passwordHandler.ChangePassword)
		passwordGroup.POST("/forgot", passwordHandler.ForgotPassword)
		passwordGroup.POST("/reset", passwordHandler.ResetPassword)
	}

	handlers.RegisterSwagger(r)

	return r
}
