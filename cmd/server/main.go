package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/database"
	"github.com/invigilo/invigilo-backend/internal/handler"
	"github.com/invigilo/invigilo-backend/internal/logger"
	"github.com/invigilo/invigilo-backend/internal/presence"
	"github.com/invigilo/invigilo-backend/internal/proctor"
	"github.com/invigilo/invigilo-backend/internal/relay"
	"github.com/invigilo/invigilo-backend/internal/repository"
	"github.com/invigilo/invigilo-backend/internal/router"
	"github.com/invigilo/invigilo-backend/internal/service"
	"github.com/invigilo/invigilo-backend/internal/validator"
	"github.com/invigilo/invigilo-backend/internal/worker"
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
		Msg("Starting Invigilo Backend")

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
	userRepo := repository.NewUserRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	eventRepo := repository.NewEventRepository(pool)
	dashboardRepo := repository.NewDashboardRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, userRepo, rdb)
	examService := service.NewExamService(examRepo, questionRepo, rdb)
	attemptService := service.NewAttemptService(attemptRepo, examRepo, questionRepo, rdb, log)
	monitorService := service.NewMonitorService(eventRepo, rdb, log)
	dashboardService := service.NewDashboardService(dashboardRepo)

	// ─── Live Monitoring Core ─────────────────────────────────────────
	// One presence registry, owned by the relay hub's event loop; one
	// proctor registry holding the per-attempt termination controllers.
	hub := relay.NewHub(presence.NewRegistry(), relay.Config{
		InactivityThreshold: cfg.InactivityThreshold,
		SweepInterval:       cfg.SweepInterval,
	}, log)
	proctorRegistry := proctor.NewRegistry()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:      handler.NewAuthHandler(authService),
		Exam:      handler.NewExamHandler(examService),
		Attempt:   handler.NewAttemptHandler(attemptService),
		Monitor:   handler.NewMonitorHandler(monitorService, hub),
		Dashboard: handler.NewDashboardHandler(dashboardService),
		System:    handler.NewSystemHandler(rdb, log),
		WSStudent: handler.NewWSStudentHandler(
			cfg, hub, proctorRegistry, attemptService, examService, monitorService, log,
		),
		WSTeacher: handler.NewWSTeacherHandler(
			cfg, hub, proctorRegistry, attemptService, examService, log,
		),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	eventWorker := worker.NewEventWorker(eventRepo, rdb, log)
	answerWorker := worker.NewAnswerWorker(pool, rdb, log)

	go eventWorker.Start(workerCtx)
	go answerWorker.Start(workerCtx)

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

	// 2. Stop the hub and pending auto-submit timers.
	hubCancel()
	proctorRegistry.Close()

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
