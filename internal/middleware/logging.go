package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"lessoncoach-backend/internal/logging"
)

// Logging puts a request-scoped logger in the context and logs one line per
// request once it is done.
func Logging(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger := base.With(
				zap.String("trace.id", GetRequestID(r.Context())),
				zap.String("url.path", r.URL.Path),
				zap.String("client.address", r.RemoteAddr),
				zap.String("http.request.method", r.Method),
				zap.Int64("http.request.body.bytes", r.ContentLength),
			)

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), logger)))

			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			fields := []zap.Field{
				zap.Int("http.response.status_code", code),
				zap.Int("http.response.body.bytes", ww.BytesWritten()),
				zap.Duration("event.duration", time.Since(start)),
			}
			switch {
			case code >= 500:
				logger.Error(http.StatusText(code), fields...)
			case code >= 400:
				logger.Warn(http.StatusText(code), fields...)
			default:
				logger.Info(http.StatusText(code), fields...)
			}
		})
	}
}

// Recoverer turns a panic into a 500 response and logs it.
func Recoverer(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					base.Error("panic while serving request",
						zap.Any("panic", rec),
						zap.String("trace.id", GetRequestID(r.Context())),
						zap.String("url.path", r.URL.Path),
						zap.String("http.request.method", r.Method),
						zap.Stack("error.stack_trace"),
					)
					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", r)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
