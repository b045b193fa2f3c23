package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cantoria/cantoria/internal/app"
	"github.com/cantoria/cantoria/internal/audit"
	"github.com/cantoria/cantoria/internal/auth"
	"github.com/cantoria/cantoria/internal/guard"
	"github.com/cantoria/cantoria/internal/observability"
	"github.com/cantoria/cantoria/internal/ratelimit"
	"github.com/cantoria/cantoria/internal/rbac"
	"github.com/cantoria/cantoria/internal/shared"
	"github.com/cantoria/cantoria/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "cantoria_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	metrics := observability.NewMetrics()

	limiter := ratelimit.NewLimiter(ratelimit.NewRedisCounterStore(redisClient), logger, metrics)

	rbacRepo := rbac.NewRepository(dbpool)
	rbacCache := rbac.NewPermissionCache(redisClient, cfg.PermissionCacheTTL)
	rbacService := rbac.NewService(rbacRepo, rbacCache, logger)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)

	appGuard := guard.New(guard.Config{
		Identities:    authService,
		Resolver:      rbacService,
		Limiter:       limiter,
		Logger:        logger,
		Metrics:       metrics,
		LoginPath:     cfg.LoginPath,
		ForbiddenPath: cfg.ForbiddenPath,
		ActionDefaults: guard.RateLimitOptions{
			Limit:  cfg.ActionRateLimit,
			Window: cfg.ActionRateWindow,
		},
	})

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	auditRepo := audit.NewRepository(dbpool)
	auditRecorder := audit.NewRecorder(jobs.AuditQueue{Client: jobClient}, auditRepo, logger, metrics)
	auditService := audit.NewService(auditRepo)
	auditHandler := audit.NewHandler(logger, auditService, appGuard)

	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager, appGuard)
	rbacHandler := rbac.NewHandler(logger, rbacService, appGuard, auditRecorder)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Guard:          appGuard,
		AuthHandler:    authHandler,
		RBACHandler:    rbacHandler,
		AuditHandler:   auditHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
