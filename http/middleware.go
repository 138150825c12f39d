package httpapi

import (
	"net/http"
	"runtime/debug"

	"github.com/go-chi/render"
	"github.com/rs/zerolog"
)

const (
	msgNotFound         = "Not found"
	msgMethodNotAllowed = "Method not allowed"
	msgRateLimited      = "Too many requests"
)

// writeMessage writes the {"error": msg} envelope used by every failure.
func writeMessage(w http.ResponseWriter, req *http.Request, status int, msg string) {
	render.Status(req, status)
	render.JSON(w, req, map[string]any{"error": msg})
}

func NotFound(w http.ResponseWriter, req *http.Request) {
	writeMessage(w, req, http.StatusNotFound, msgNotFound)
}

func MethodNotAllowed(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Allow", "GET, OPTIONS")
	writeMessage(w, req, http.StatusMethodNotAllowed, msgMethodNotAllowed)
}

// RateLimited answers requests rejected by the inbound limiter.
func RateLimited(w http.ResponseWriter, req *http.Request) {
	writeMessage(w, req, http.StatusTooManyRequests, msgRateLimited)
}

// RateLimitError answers requests the limiter could not evaluate.
func RateLimitError(w http.ResponseWriter, req *http.Request, err error) {
	zerolog.Ctx(req.Context()).Error().Err(err).Msg("rate limiter failed")
	writeMessage(w, req, http.StatusInternalServerError, msgUpstreamFailed)
}

// Recoverer turns a handler panic into the standard 500 envelope.
// http.ErrAbortHandler is re-raised so the server aborts the response.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			zerolog.Ctx(req.Context()).Error().
				Interface("panic", rvr).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			writeMessage(w, req, http.StatusInternalServerError, msgUpstreamFailed)
		}()
		next.ServeHTTP(w, req)
	})
}
