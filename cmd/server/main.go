package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edukita/examhall-backend/internal/cache"
	"github.com/edukita/examhall-backend/internal/config"
	"github.com/edukita/examhall-backend/internal/database"
	"github.com/edukita/examhall-backend/internal/handler"
	"github.com/edukita/examhall-backend/internal/logger"
	"github.com/edukita/examhall-backend/internal/notifier"
	"github.com/edukita/examhall-backend/internal/repository"
	"github.com/edukita/examhall-backend/internal/router"
	"github.com/edukita/examhall-backend/internal/scorer"
	"github.com/edukita/examhall-backend/internal/service"
	"github.com/edukita/examhall-backend/internal/store"
	"github.com/edukita/examhall-backend/internal/validator"
	"github.com/edukita/examhall-backend/internal/worker"
	"github.com/rs/zerolog"
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
		Msg("Starting ExamHall Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
	runner := store.NewRunner(pool, log)

	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	studentRepo := repository.NewStudentRepository(pool)
	staffRepo := repository.NewStaffRepository(pool)
	invigilatorRepo := repository.NewInvigilatorRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool, runner)
	resultRepo := repository.NewResultRepository(pool)

	resultCache := cache.NewResultCache(rdb, cfg.ResultCacheTTL, log)
	events := notifier.New(rdb, log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	invigilatorService := service.NewInvigilatorService(examRepo, staffRepo, invigilatorRepo, events, log)
	submissionService := service.NewSubmissionService(
		submissionRepo, examRepo, questionRepo, studentRepo,
		invigilatorService, scorer.NewAutoScorer(), events,
		cfg.FinalizeGrace, log,
	)
	publishService := service.NewPublishService(
		submissionRepo, resultRepo, examRepo, studentRepo, staffRepo,
		resultCache, runner,
		cfg.PublishBatchSize, cfg.PublishBatchDelay, log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:        handler.NewAuthHandler(authService, studentRepo, staffRepo),
		Submission:  handler.NewSubmissionHandler(submissionService),
		Invigilator: handler.NewInvigilatorHandler(submissionService, invigilatorService),
		Publish:     handler.NewPublishHandler(publishService),
		WS:          handler.NewWSHandler(rdb, submissionService, events, log, cfg.AllowedOrigins),
		Monitor:     handler.NewMonitorHandler(examRepo, submissionRepo, invigilatorService, events, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	autosaveWorker := worker.NewAutosaveWorker(submissionRepo, rdb, log)
	go autosaveWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	// 2. Stop background workers and wait for the queue to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
