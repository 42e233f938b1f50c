package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lessoncoach-backend/internal/config"
	"lessoncoach-backend/internal/database"
	"lessoncoach-backend/internal/handlers"
	"lessoncoach-backend/internal/lesson"
	"lessoncoach-backend/internal/logging"
	"lessoncoach-backend/internal/middleware"
	"lessoncoach-backend/internal/models"
	"lessoncoach-backend/internal/playback"
	"lessoncoach-backend/internal/repository"
	"lessoncoach-backend/internal/router"
	"lessoncoach-backend/internal/services"
	"lessoncoach-backend/internal/websocket"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logger configuration: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("starting lesson coach backend", zap.String("env", cfg.Env))

	// ──── Step 2: Open the Lesson Store ────
	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("lesson store unavailable", zap.String("storage_type", cfg.StorageType), zap.Error(err))
	}
	defer store.Close()
	logger.Info("lesson store ready", zap.String("storage_type", cfg.StorageType))

	// ──── Step 3: Initialize Classifier ────
	var (
		classifier lesson.Classifier
		hinter     lesson.Hinter
	)
	if cfg.GeminiAPIKey != "" {
		gemini, err := services.NewGeminiClassifier(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiConcurrentReqs, logger)
		if err != nil {
			logger.Fatal("gemini client initialization failed", zap.Error(err))
		}
		defer gemini.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if reply, err := gemini.Ping(pingCtx); err != nil {
			logger.Warn("gemini connection test failed, taps stay unjudged until it recovers", zap.Error(err))
		} else {
			logger.Info("gemini client initialized", zap.String("model", cfg.GeminiModel), zap.String("reply", reply))
		}
		cancel()
		classifier, hinter = gemini, gemini
	} else {
		classifier = services.NewStubTapClassifier(cfg.TapStubApprovalRate, rand.New(rand.NewSource(time.Now().UnixNano())))
		logger.Warn("GEMINI_API_KEY not set, using stub tap classifier", zap.Float64("approval_rate", cfg.TapStubApprovalRate))
	}

	// ──── Step 4: Initialize Feedback Fan-out ────
	var (
		feedback    lesson.FeedbackSink
		redisClient *redis.Client
		wsHub       *websocket.Hub
	)
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisClient.Close()
		feedback = services.NewRedisFeedbackPublisher(redisClient, logger)
		logger.Info("redis connected, feedback fans out over pub/sub")
	} else {
		// wsHub is assigned below, before any request can emit feedback.
		feedback = lesson.FeedbackFunc(func(ctx context.Context, fb models.Feedback) {
			wsHub.Emit(ctx, fb)
		})
		logger.Info("REDIS_URL not set, feedback is streamed in-process")
	}

	// ──── Step 5: Start Session Manager ────
	manager := playback.NewManager(playback.Config{
		Store:              store,
		Classifier:         classifier,
		Hinter:             hinter,
		Feedback:           feedback,
		Logger:             logger,
		RecordingTick:      cfg.RecordingTick,
		ValidationInterval: cfg.ValidationInterval,
		AdvanceDelay:       cfg.AdvanceDelay,
		HintAfterFailures:  cfg.HintAfterFailures,
		SessionTTL:         cfg.SessionTTL,
	})
	wsHub = websocket.NewHub(redisClient, manager, logger)
	manager.Start()

	// ──── Step 6: Start HTTP Server ────
	inputLimiter := middleware.NewRateLimiter(120, time.Minute)
	r := router.New(
		logger,
		store,
		handlers.NewLessonHandler(manager),
		handlers.NewRecordingHandler(manager),
		handlers.NewPlaybackHandler(manager),
		wsHub,
		inputLimiter,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown. main waits on done so the deferred closes run only
	// after aborted sessions have saved their scores.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := shutdownOnSignal(sigChan, logger, 30*time.Second,
		func(context.Context) { inputLimiter.Stop() },
		func(ctx context.Context) { server.Shutdown(ctx) },
		manager.Stop,
		func(context.Context) { wsHub.Close() },
	)

	logger.Info("lesson coach backend ready",
		zap.String("api", fmt.Sprintf("http://localhost:%s/api/v1", cfg.Port)),
		zap.String("ws", fmt.Sprintf("ws://localhost:%s/api/v1/playback/{id}/ws", cfg.Port)))

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
	<-done
	logger.Info("shutdown complete")
}

// shutdownOnSignal runs steps in order once sig fires and closes the returned
// channel when the last one has returned.
func shutdownOnSignal(sig <-chan os.Signal, logger *zap.Logger, timeout time.Duration, steps ...func(context.Context)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-sig

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		for _, step := range steps {
			step(ctx)
		}
	}()
	return done
}

func openStore(cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	if cfg.StorageType == "sqlite" {
		return repository.NewSQLiteStore(cfg.SQLitePath)
	}

	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(pool, cfg.MigrationsDir, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return repository.NewPostgresStore(pool), nil
}
