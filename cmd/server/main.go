package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/observability"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Int("max_strikes", cfg.Proctor.MaxStrikes).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator and Metrics ──────────────────────────────
	validator.Setup()
	observability.RegisterMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Apply Migrations ──────────────────────────────────────────────
	if cfg.AutoMigrate {
		if err := database.MigrateUp(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Msg("Migrations applied")
	}

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	paperRepo := repository.NewPaperRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)
	answerRepo := repository.NewSessionAnswerRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	paperService := service.NewPaperService(paperRepo, rdb, cfg.PaperCacheTTL, log)
	sink := service.NewQueueSink(rdb, submissionRepo, log)
	checkpoints := service.NewAnswerCheckpoint(rdb, log)
	feed := service.NewMonitorFeed(rdb, log)

	registry := service.NewSessionRegistry(service.RegistryDeps{
		Source:         paperService,
		Sink:           sink,
		Submissions:    sink,
		Feed:           feed,
		ReconnectGrace: cfg.Proctor.ReconnectGrace,
		Log:            log,
		Options: proctor.Options{
			MaxStrikes:     cfg.Proctor.MaxStrikes,
			WarningDismiss: cfg.Proctor.WarningDismiss,
			TickInterval:   cfg.Proctor.TickInterval,
			SubmitTimeout:  cfg.Proctor.SubmitTimeout,
		},
	})
	monitorService := service.NewMonitorService(monitorRepo, registry, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Paper:   handler.NewPaperHandler(paperService, log),
		Session: handler.NewSessionHandler(registry, checkpoints, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(rdb, monitorService, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	submissionWorker := worker.NewSubmissionWorker(rdb, submissionRepo, checkpoints, answerRepo, cfg.WorkerBatch, log)
	autosaveWorker := worker.NewAutosaveWorker(rdb, answerRepo, cfg.WorkerBatch, log)

	for _, run := range []func(context.Context){submissionWorker.Start, autosaveWorker.Start, feed.Run} {
		workers.Add(1)
		go func(run func(context.Context)) {
			defer workers.Done()
			run(workerCtx)
		}(run)
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published tests into Redis BEFORE accepting traffic so the
	// first wave of students does not stampede PostgreSQL.
	if err := paperService.Prewarm(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(ctx, authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Submit every open session and wait for the results to be queued.
	sessionsCtx, sessionsCancel := context.WithTimeout(context.Background(), cfg.Proctor.SubmitTimeout+5*time.Second)
	defer sessionsCancel()
	if err := registry.Shutdown(sessionsCtx); err != nil {
		log.Error().Err(err).Msg("Some sessions were not submitted before shutdown")
	}

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
