package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	httpAdapter "github.com/lorrc/issue-tracker-backend/internal/adapters/primary/http"
	mw "github.com/lorrc/issue-tracker-backend/internal/adapters/primary/http/middleware"
	"github.com/lorrc/issue-tracker-backend/internal/adapters/primary/stream"
	"github.com/lorrc/issue-tracker-backend/internal/adapters/primary/websocket"
	"github.com/lorrc/issue-tracker-backend/internal/adapters/secondary/email"
	"github.com/lorrc/issue-tracker-backend/internal/adapters/secondary/postgres"
	"github.com/lorrc/issue-tracker-backend/internal/auth"
	"github.com/lorrc/issue-tracker-backend/internal/config"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
	"github.com/lorrc/issue-tracker-backend/internal/core/presence"
	"github.com/lorrc/issue-tracker-backend/internal/core/services"
	"github.com/lorrc/issue-tracker-backend/internal/infrastructure/logging"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Structured Logger
	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})
	slog.SetDefault(logger)

	logger.Info("starting service",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"config", cfg.String(),
	)

	// 3. Initialize Database Pool
	ctx := context.Background()
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath, logger); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.Database.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	logger.Info("database connection established")

	// 4. Initialize Security & Real-time Transports
	tokenManager := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL)
	socketHub := websocket.NewHub(logger)
	streamHub := stream.NewHub(cfg.Stream.SendBufferSize, logger)
	broadcaster := services.NewBroadcastService(logger, streamHub, socketHub)

	// 5. Initialize Rate Limiters
	var generalRateLimiter, connectRateLimiter *mw.RateLimiter
	if cfg.RateLimit.Enabled {
		generalRateLimiter = mw.NewRateLimiter(mw.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
			CleanupInterval:   time.Minute,
			TTL:               3 * time.Minute,
		})
		defer generalRateLimiter.Stop()

		connectRateLimiter = mw.NewRateLimiter(mw.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.ConnectRPS,
			BurstSize:         cfg.RateLimit.ConnectBurst,
			CleanupInterval:   time.Minute,
			TTL:               5 * time.Minute,
		})
		defer connectRateLimiter.Stop()
	}

	// 6. Dependency Injection (Wiring the Hexagon)
	errorHandler := httpAdapter.NewErrorHandler(logger)

	// Repositories (Secondary Adapters)
	membershipRepo := postgres.NewMembershipRepository(pool)
	userRepo := postgres.NewUserRepository(pool)

	var activityStore ports.ActivityStore
	switch cfg.Presence.ActivityStore {
	case config.ActivityStorePostgres:
		activityStore = postgres.NewActivityRepository(pool)
	default:
		activityStore = presence.NewActivityRegistry()
	}

	var notifier ports.Notifier
	if cfg.Email.Enabled {
		notifier = email.NewMockSMTPNotifier(userRepo, email.Config{
			FromAddress: cfg.Email.FromAddress,
			AppBaseURL:  cfg.Email.AppBaseURL,
		}, logger)
	}

	// Services (Core)
	membershipService := services.NewMembershipService(membershipRepo)
	presenceService := services.NewPresenceService(
		membershipService,
		userRepo,
		presence.NewViewerRegistry(),
		broadcaster,
		logger,
	)
	activityService := services.NewActivityService(
		membershipService,
		activityStore,
		userRepo,
		broadcaster,
		logger,
		services.ActivityServiceConfig{
			InactivityThreshold: cfg.Presence.InactivityThreshold,
			DefaultListLimit:    cfg.Presence.ActivityListLimit,
		},
	)
	// Transports are revoked first so the removed member misses the
	// bug_viewers refresh that clearing their views triggers.
	notificationService := services.NewNotificationService(broadcaster, notifier, logger, socketHub, streamHub, presenceService)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go activityService.RunSweeper(sweepCtx, cfg.Presence.SweepInterval)

	// Handlers (Primary Adapters)
	socketRouter := websocket.NewRouter(socketHub, presenceService, membershipService, notificationService, logger)
	wsHandler := httpAdapter.NewWebSocketHandler(socketHub, socketRouter, cfg, logger)
	streamHandler := httpAdapter.NewStreamHandler(streamHub, membershipService, cfg.Stream.KeepAliveInterval, errorHandler, logger)
	presenceHandler := httpAdapter.NewPresenceHandler(presenceService, errorHandler, logger)
	activityHandler := httpAdapter.NewActivityHandler(activityService, cfg.Presence.ActivityListLimit, errorHandler, logger)

	healthHandler := httpAdapter.NewHealthHandler(pool, cfg.App.Version)
	healthHandler.AddConnectionCounter("websocket", socketHub.GetClientCount)
	healthHandler.AddConnectionCounter("stream", streamHub.GetConnectionCount)

	// 7. Setup Router
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints (outside /api/v1 for standard probe paths)
	healthHandler.RegisterRoutes(r)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Long-lived connections: token may arrive as a query parameter.
		r.Group(func(r chi.Router) {
			if connectRateLimiter != nil {
				r.Use(connectRateLimiter.Middleware)
			}
			r.Use(mw.QueryTokenMiddleware(tokenManager))
			r.Handle("/ws", wsHandler)
			streamHandler.RegisterRoutes(r)
		})

		// Protected REST routes
		r.Group(func(r chi.Router) {
			r.Use(mw.JWTMiddleware(tokenManager))
			if generalRateLimiter != nil {
				r.Use(generalRateLimiter.KeyedMiddleware(mw.UserKey))
			}
			presenceHandler.RegisterRoutes(r)
			activityHandler.RegisterRoutes(r)
		})
	})

	// 8. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Streams block until their client leaves; end them when shutdown starts.
	srv.RegisterOnShutdown(streamHub.Close)

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	stopSweeper()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	socketHub.Close()
	notificationService.Shutdown()

	logger.Info("server shutdown complete")
}
