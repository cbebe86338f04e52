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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/stemsi/proctorquiz/internal/config"
	"github.com/stemsi/proctorquiz/internal/database"
	"github.com/stemsi/proctorquiz/internal/handler"
	"github.com/stemsi/proctorquiz/internal/logger"
	"github.com/stemsi/proctorquiz/internal/middleware"
	"github.com/stemsi/proctorquiz/internal/repository"
	"github.com/stemsi/proctorquiz/internal/repository/memory"
	"github.com/stemsi/proctorquiz/internal/router"
	"github.com/stemsi/proctorquiz/internal/service"
	"github.com/stemsi/proctorquiz/internal/validator"
	"github.com/stemsi/proctorquiz/internal/worker"
)

// stores bundles the repository implementations picked by STORAGE_DRIVER.
type stores struct {
	quizzes     repository.QuizStore
	submissions repository.SubmissionStore
	teachers    repository.TeacherStore
	violations  repository.ViolationLogStore
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("storage", cfg.StorageDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting proctorquiz")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Select Storage ────────────────────────────────────────────────
	var st stores
	switch cfg.StorageDriver {
	case config.StorageMemory:
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		st = stores{
			quizzes:     memory.NewQuizStore(),
			submissions: memory.NewSubmissionStore(),
			teachers:    memory.NewTeacherStore(),
			violations:  memory.NewViolationLogStore(),
		}
	case config.StoragePostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		st = postgresStores(pool)
	default:
		log.Fatal().Str("driver", cfg.StorageDriver).Msg("Unknown STORAGE_DRIVER")
	}

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, st.teachers)
	quizCache := service.NewQuizCache(st.quizzes, rdb, cfg.QuizCacheTTL, log)
	events := service.NewEvents(rdb, log)
	quizService := service.NewQuizService(st.quizzes, quizCache, log)
	attemptService := service.NewAttemptService(quizCache, st.submissions, events, time.Now, log)
	resultService := service.NewResultService(quizService, st.submissions, log)
	monitorService := service.NewMonitorService(quizService, st.submissions, rdb)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService, log),
		Quiz:    handler.NewQuizHandler(quizService, log),
		Result:  handler.NewResultHandler(resultService, log),
		Student: handler.NewStudentHandler(attemptService, log),
		Monitor: handler.NewMonitorHandler(monitorService, log),
		WS:      handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	violationWorker := worker.NewViolationWorker(st.violations, rdb, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		violationWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	limiter := middleware.NewRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, log)
	r := router.SetupRouter(authService, limiter, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests. Hijacked WebSocket connections
	// are not tracked by Shutdown; their sessions end with the process.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for their final flush.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

func postgresStores(pool *pgxpool.Pool) stores {
	return stores{
		quizzes:     repository.NewQuizRepository(pool),
		submissions: repository.NewSubmissionRepository(pool),
		teachers:    repository.NewTeacherRepository(pool),
		violations:  repository.NewViolationLogRepository(pool),
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
