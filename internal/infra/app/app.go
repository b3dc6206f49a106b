package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/port"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/audit"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/config"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/database"
	kafkainfra "github.com/Realm-101/Unbuilt-sub002/internal/infra/kafka"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/logger"
	redisinfra "github.com/Realm-101/Unbuilt-sub002/internal/infra/redis"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/security"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/telemetry"
	postgresrepo "github.com/Realm-101/Unbuilt-sub002/internal/repository/postgres"
	redisrepo "github.com/Realm-101/Unbuilt-sub002/internal/repository/redis"
	"github.com/Realm-101/Unbuilt-sub002/internal/transport/http/routes"
	"github.com/Realm-101/Unbuilt-sub002/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	store    *postgresrepo.Store
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
	sessions *usecase.SessionManager
	captcha  *usecase.CaptchaService
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
			log.Warn("failed to init tracing, continuing without it", zap.Error(err))
		}
	}

	metrics := telemetry.NewMetrics()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	store := postgresrepo.NewStore(pool)

	keyProvider, err := security.NewFileKeyProvider(cfg.JWT.KeyDirectory)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	jwtManager := security.NewJWTManager(keyProvider)

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	tokenRepo := postgresrepo.NewTokenRepository(pool)
	stateRepo := postgresrepo.NewSecurityStateRepository(pool)
	captchaRepo := postgresrepo.NewCaptchaRepository(pool)
	auditRepo := postgresrepo.NewAuditLogRepository(pool)
	credentials := postgresrepo.NewCredentialVerifier(pool)

	revocations := redisrepo.NewChainRevocationCache(redisClient.Client(), cfg.Redis.RevocationPrefix)
	rateLimitStore := redisrepo.NewRateLimitStore(redisClient.Client(), cfg.Redis.RateLimitPrefix)
	captchaTokens := redisrepo.NewCaptchaTokenStore(redisClient.Client(), cfg.Redis.CaptchaPrefix)

	auditSinks := []port.AuditSink{auditRepo, audit.NewLogSink(log)}

	var producer *kafkainfra.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, events go to log and database only", zap.Error(err))
			producer = nil
		} else {
			auditSinks = append(auditSinks, kafkainfra.NewEventSink(producer, cfg.App, log))
		}
	} else {
		log.Info("kafka brokers not configured, events go to log and database only")
	}

	auditFanout := audit.NewFanout(auditSinks...)

	tokenService := usecase.NewTokenService(cfg, jwtManager, tokenRepo, revocations, log)
	sessionManager := usecase.NewSessionManager(cfg, tokenService, tokenRepo, auditFanout, log)
	eventHandler := usecase.NewSecurityEventHandler(cfg, stateRepo, tokenService, auditFanout, log)
	captchaService := usecase.NewCaptchaService(cfg, captchaRepo, captchaTokens, auditFanout, log)
	rateLimiter := usecase.NewRateLimiter(cfg, rateLimitStore, captchaService, auditFanout, log)
	authService := usecase.NewAuthService(credentials, sessionManager, eventHandler, log)

	engine := routes.Register(routes.Dependencies{
		Config:   cfg,
		Logger:   log,
		Metrics:  metrics,
		Audit:    auditRepo,
		Database: store,
		Cache:    redisClient,
		Services: routes.ServiceSet{
			Auth:     authService,
			Tokens:   tokenService,
			Sessions: sessionManager,
			Events:   eventHandler,
			Captcha:  captchaService,
			Limiter:  rateLimiter,
		},
	})

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		store:    store,
		redis:    redisClient,
		producer: producer,
		tracer:   tracer,
		sessions: sessionManager,
		captcha:  captchaService,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.store.Close()
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
			defer cancel()
			_ = a.tracer.Shutdown(shutdownCtx)
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.runCleanupSweep(sweepCtx)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting trust service",
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

// runCleanupSweep periodically removes expired refresh tokens and captcha
// challenges.
func (a *Application) runCleanupSweep(ctx context.Context) {
	interval := a.cfg.Session.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)

			if deleted, err := a.sessions.CleanupExpired(sweepCtx); err != nil {
				a.logger.Warn("token cleanup sweep failed", zap.Error(err))
			} else if deleted > 0 {
				a.logger.Info("expired tokens removed", zap.Int("count", deleted))
			}

			if deleted, err := a.captcha.CleanupExpired(sweepCtx); err != nil {
				a.logger.Warn("captcha cleanup sweep failed", zap.Error(err))
			} else if deleted > 0 {
				a.logger.Info("expired challenges removed", zap.Int("count", deleted))
			}

			cancel()
		}
	}
}
