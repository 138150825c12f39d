// Package logger configures zerolog for the proxy and adapts it to the
// middleware and HTTP client hooks that need a logger.
package logger

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const RequestIDHeader = "X-Request-ID"

// Setup sets the global level. It returns an error for unknown level names.
func Setup(level string) error {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.Logger = log.Level(lvl)
	return nil
}

// Component returns a sub-logger tagged with name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// Middleware logs one line per request and attaches a request-scoped logger
// to the context, retrievable with zerolog.Ctx.
func Middleware(next http.Handler) http.Handler {
	base := Component("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)

		l := base.With().
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(l.WithContext(r.Context())))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ev := l.Info()
		if status >= http.StatusInternalServerError {
			ev = l.Error()
		}
		ev.Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}

// Retryable adapts a zerolog logger to retryablehttp.LeveledLogger.
type Retryable struct {
	L zerolog.Logger
}

func (r Retryable) Error(msg string, kv ...interface{}) { fields(r.L.Error(), kv).Msg(msg) }
func (r Retryable) Warn(msg string, kv ...interface{})  { fields(r.L.Warn(), kv).Msg(msg) }
func (r Retryable) Info(msg string, kv ...interface{})  { fields(r.L.Debug(), kv).Msg(msg) }
func (r Retryable) Debug(msg string, kv ...interface{}) { fields(r.L.Debug(), kv).Msg(msg) }

func fields(ev *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		ev = ev.Interface(fmt.Sprint(kv[i]), kv[i+1])
	}
	return ev
}
