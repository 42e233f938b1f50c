package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"lessoncoach-backend/internal/handlers"
	"lessoncoach-backend/internal/middleware"
	"lessoncoach-backend/internal/websocket"
)

// Pinger reports whether the lesson store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func New(
	logger *zap.Logger,
	store Pinger,
	lessonHandler *handlers.LessonHandler,
	recordingHandler *handlers.RecordingHandler,
	playbackHandler *handlers.PlaybackHandler,
	wsHub *websocket.Hub,
	inputLimiter *middleware.RateLimiter,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"degraded","database":"unreachable"}`))
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Lesson Routes ────
		r.Route("/lessons", func(r chi.Router) {
			r.Get("/", lessonHandler.List)
			r.Get("/{id}", lessonHandler.Get)
			r.Delete("/{id}", lessonHandler.Delete)
			r.Delete("/{id}/recording", lessonHandler.DeleteRecording)
		})

		// ──── Recording Routes ────
		r.Route("/recordings", func(r chi.Router) {
			r.Post("/", recordingHandler.Start)
			r.Post("/{id}/interactions", recordingHandler.LogInteraction)
			r.Put("/{id}/action", recordingHandler.SetAction)
			r.Post("/{id}/stop", recordingHandler.Stop)
		})

		// ──── Playback Routes ────
		r.Route("/playback", func(r chi.Router) {
			r.Post("/", playbackHandler.Start)
			r.Get("/{id}", playbackHandler.Get)
			r.Post("/{id}/abort", playbackHandler.Abort)
			r.Get("/{id}/actions", playbackHandler.Actions)

			// Learner input arrives continuously, so it gets its own budget.
			r.Group(func(r chi.Router) {
				r.Use(inputLimiter.Middleware)
				r.Put("/{id}/input", playbackHandler.UpdateInput)
				r.Post("/{id}/validate", playbackHandler.Validate)
			})

			// ──── WebSocket ────
			r.Get("/{id}/ws", wsHub.HandleWebSocket)
		})
	})

	return r
}
