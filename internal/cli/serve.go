package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"practest-backend/internal/config"
	"practest-backend/internal/database"
	"practest-backend/internal/grading"
	"practest-backend/internal/handlers"
	"practest-backend/internal/middleware"
	"practest-backend/internal/repository"
	"practest-backend/internal/repository/memory"
	"practest-backend/internal/results"
	"practest-backend/internal/router"
	"practest-backend/internal/services"
	"practest-backend/internal/session"
	"practest-backend/internal/websocket"
)

const (
	gradeCacheTTL = time.Hour
	pruneInterval = 5 * time.Minute
)

func newServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// ──── Step 1: Load Configuration ────
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if portFlag != "" {
		cfg.Port = portFlag
	}
	log := config.NewLogger(cfg)
	log.Info("🚀 Starting practest backend...")
	log.Info("✓ Configuration loaded")

	// ──── Step 2: PostgreSQL + Migrations ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Error("✗ PostgreSQL connection failed")
		return err
	}
	defer pool.Close()
	log.Info("✓ PostgreSQL connected")

	if err := database.RunMigrations(ctx, pool, database.Migrations(), log); err != nil {
		log.WithError(err).Error("✗ Database migration failed")
		return err
	}
	log.Info("✓ Database migrations applied")

	// ──── Step 3: Redis (optional) ────
	var (
		redisClients *database.RedisClients
		locks        services.Locker
		gradeCache   repository.GradeCache = memory.NewGradeCache()
	)
	if cfg.RedisURL != "" {
		redisClients, err = database.NewRedisClients(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Error("✗ Redis connection failed")
			return err
		}
		defer redisClients.Close()
		locks = repository.NewLockRepo(redisClients.Cache)
		gradeCache = repository.NewGradeCacheRepo(redisClients.Cache, gradeCacheTTL)
		log.Info("✓ Redis connected")
	} else {
		log.Warn("REDIS_URL not set: generation locks and grade cache are local to this process")
	}

	// ──── Step 4: Gemini ────
	gemini, err := services.NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiConcurrentReqs, log)
	if err != nil {
		log.WithError(err).Error("✗ Gemini client initialization failed")
		return err
	}
	defer gemini.Close()
	log.WithField("model", cfg.GeminiModel).Info("✓ Gemini client initialized")

	// ──── Step 5: Services ────
	testRepo := repository.NewTestRepo(pool)
	attemptRepo := repository.NewAttemptRepo(pool)

	generator := services.NewGenerationService(gemini, testRepo, services.NewFileExtractService(), locks, services.GenerationConfig{
		MinQuestions:   cfg.GenerationMinQuestions,
		MaxQuestions:   cfg.GenerationMaxQuestions,
		Timeout:        cfg.GenerationTimeout,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, log)

	pipeline := grading.NewPipeline(services.NewFreeTextGrader(gemini), grading.Config{
		Concurrency:   cfg.GradingConcurrency,
		MaxAttempts:   cfg.GradingMaxAttempts,
		RetryInterval: cfg.GradingRetryInterval,
		PassRatio:     cfg.FreeTextPassRatio,
	}, log)
	submitter := results.NewService(attemptRepo, pipeline, gradeCache, log)

	// ──── Step 6: WebSocket Hub + Sessions ────
	var wsHub *websocket.Hub
	var notifier session.Notifier
	if redisClients != nil {
		wsHub = websocket.NewHub(redisClients.PubSub, cfg.JWTSecret, log)
		notifier = services.NewRedisPublisher(redisClients.Cache, log)
	} else {
		wsHub = websocket.NewHub(nil, cfg.JWTSecret, log)
		notifier = wsHub
	}
	log.Info("✓ WebSocket hub started")

	sessions := session.NewManager(submitter, notifier, session.ManagerConfig{
		SubmitTimeout: cfg.SubmitTimeout,
		Retention:     cfg.SessionRetention,
	}, log)
	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go sessions.Run(pruneCtx, pruneInterval)

	// ──── Step 7: HTTP Server ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	generateLimiter := middleware.NewRateLimiter(cfg.GenerateRateLimit, time.Minute)
	defer generateLimiter.Stop()

	r := router.New(jwtAuth, router.Handlers{
		Tests:    handlers.NewTestHandler(generator, testRepo, attemptRepo, submitter, cfg.MaxUploadBytes, log),
		Sessions: handlers.NewSessionHandler(sessions, testRepo, log),
		Attempts: handlers.NewAttemptHandler(attemptRepo, log),
		Health:   handlers.NewHealthHandler(pool),
	}, generateLimiter, wsHub, cfg.FrontendURL, log)

	// Generation can legitimately take up to GenerationTimeout.
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GenerationTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("✓ practest backend ready on http://localhost:%s", cfg.Port)
		log.Infof("  API: http://localhost:%s/api/v1", cfg.Port)
		log.Infof("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
		log.Info("Shutting down...")
	case <-ctx.Done():
		log.Info("Context cancelled, shutting down...")
	case err := <-serverErr:
		log.WithError(err).Error("Server error")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	sessions.Shutdown()
	return err
}
