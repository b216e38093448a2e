package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medisphere/pharmacy-platform-auth/internal/core/domain"
	"github.com/medisphere/pharmacy-platform-auth/internal/core/port"
	"github.com/medisphere/pharmacy-platform-auth/internal/infra/config"
	"github.com/medisphere/pharmacy-platform-auth/internal/infra/database"
	kafkainfra "github.com/medisphere/pharmacy-platform-auth/internal/infra/kafka"
	"github.com/medisphere/pharmacy-platform-auth/internal/infra/logger"
	redisinfra "github.com/medisphere/pharmacy-platform-auth/internal/infra/redis"
	"github.com/medisphere/pharmacy-platform-auth/internal/infra/security"
	"github.com/medisphere/pharmacy-platform-auth/internal/infra/telemetry"
	postgresrepo "github.com/medisphere/pharmacy-platform-auth/internal/repository/postgres"
	redisrepo "github.com/medisphere/pharmacy-platform-auth/internal/repository/redis"
	"github.com/medisphere/pharmacy-platform-auth/internal/transport/http/routes"
	"github.com/medisphere/pharmacy-platform-auth/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
	repos    *postgresrepo.Repositories
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var tracer *telemetry.TracerProvider
	if cfg.Telemetry.OTLPEndpoint != "" {
		tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
	}

	metrics := telemetry.NewMetrics(nil)

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	if err := security.ConfigurePBKDF2(security.PBKDF2Config{
		Iterations: cfg.Password.Iterations,
		SaltLength: cfg.Password.SaltLength,
		KeyLength:  cfg.Password.KeyLength,
	}); err != nil {
		pool.Close()
		return nil, fmt.Errorf("configure pbkdf2: %w", err)
	}

	keyProvider, err := security.NewFileKeyProvider(security.FileKeyProviderConfig{
		PrivateKeyPath: cfg.JWT.PrivateKeyPath,
		KID:            cfg.JWT.KeyID,
		RetiredKeyDir:  cfg.JWT.RetiredKeyDir,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init key provider: %w", err)
	}

	tokens, err := security.NewJWTManager(keyProvider, security.SignerSettings{
		Issuer:         cfg.JWT.Issuer,
		Audience:       cfg.JWT.Audience,
		KID:            keyProvider.SigningKID(),
		AccessTokenTTL: cfg.JWT.AccessTokenTTL,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init jwt manager: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	cleanup := func() {
		_ = redisClient.Close()
		pool.Close()
	}

	repos := postgresrepo.NewRepositories(pool, postgresrepo.RepositoriesConfig{
		AccessTokenTTL:     cfg.JWT.AccessTokenTTL,
		BlacklistTTLMargin: cfg.Cache.BlacklistTTLMargin,
		RefreshCacheTTL:    cfg.Cache.RefreshTokenTTL,
	})

	blacklistCache := redisrepo.NewBlacklistCacheRepository(redisClient.Client(), cfg.Redis.BlacklistPrefix)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.RateLimitPrefix,
		TTL:       rateLimitWindow * 2,
	})

	var eventPublisher port.EventPublisher
	var producer *kafkainfra.Producer
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
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
		log.Info("kafka disabled, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	policy := domain.NewDegradationPolicy(domain.ParseDegradationPolicyMode(cfg.Blacklist.DegradationPolicy))
	blacklistService, err := usecase.NewBlacklistService(repos.Blacklist, blacklistCache, policy, cfg.Blacklist.CacheTTLMax, log)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("init blacklist service: %w", err)
	}

	limiter, err := usecase.NewRateLimiter(rateLimitStore, rateLimitWindow)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("init rate limiter: %w", err)
	}

	authService, err := usecase.NewAuthService(cfg, repos.Users, repos.Roles, repos.RefreshTokens, blacklistService, limiter, tokens, eventPublisher, log)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("init auth service: %w", err)
	}

	passwordService, err := usecase.NewPasswordService(
		cfg,
		repos.Users,
		repos.ResetTokens,
		repos.RefreshTokens,
		blacklistService,
		security.DefaultPasswordValidator(cfg.Password.MinStrengthScore),
		limiter,
		eventPublisher,
		log,
	)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("init password service: %w", err)
	}

	engine := routes.Register(routes.Dependencies{
		Config:     cfg,
		Logger:     log,
		Metrics:    metrics,
		JWTManager: tokens,
		Database:   pool,
		Cache:      redisClient,
		Services: routes.ServiceSet{
			Auth:      authService,
			Passwords: passwordService,
			Blacklist: blacklistService,
		},
	})

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		producer: producer,
		tracer:   tracer,
		repos:    repos,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			_ = a.producer.Close()
		}
	}()
	defer func() {
		if a.tracer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = a.tracer.Shutdown(shutdownCtx)
			cancel()
		}
	}()

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go a.runJanitor(janitorCtx)

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
		stopJanitor()
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

// runJanitor periodically removes expired blacklist entries, refresh tokens,
// and reset tokens so the hot tables stay small.
func (a *Application) runJanitor(ctx context.Context) {
	interval := a.cfg.Maintenance.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweepExpired(ctx)
		}
	}
}

func (a *Application) sweepExpired(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	now := time.Now().UTC()

	blacklisted, err := a.repos.Blacklist.CleanupExpired(sweepCtx, now)
	if err != nil {
		a.logger.Warn("blacklist cleanup failed", zap.Error(err))
	}

	refreshed, err := a.repos.RefreshTokens.DeleteExpired(sweepCtx, now)
	if err != nil {
		a.logger.Warn("refresh token cleanup failed", zap.Error(err))
	}

	resets, err := a.repos.ResetTokens.DeleteExpired(sweepCtx, now)
	if err != nil {
		a.logger.Warn("reset token cleanup failed", zap.Error(err))
	}

	if blacklisted+refreshed+resets > 0 {
		a.logger.Info("expired auth records swept",
			zap.Int("blacklist_entries", blacklisted),
			zap.Int("refresh_tokens", refreshed),
			zap.Int("reset_tokens", resets),
		)
	}
}
