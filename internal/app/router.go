package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"

	httpapi "github.com/yourorg/listings-proxy/http"
	"github.com/yourorg/listings-proxy/internal/logger"
	"github.com/yourorg/listings-proxy/internal/metrics"
)

type RouterDeps struct {
	Service            httpapi.Properties
	Metrics            *metrics.Metrics
	RateLimitPerMinute int
}

// BuildRouter answers every failure, including routing and limiter
// rejections, with the {"error": ...} JSON envelope.
func BuildRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	r.Use(httpapi.CORS)
	r.Use(httpapi.Recoverer)
	if deps.RateLimitPerMinute > 0 {
		// protect upstream quota
		r.Use(httprate.Limit(deps.RateLimitPerMinute, time.Minute,
			httprate.WithKeyByIP(),
			httprate.WithLimitHandler(httpapi.RateLimited),
			httprate.WithErrorHandler(httpapi.RateLimitError),
		))
	}
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.NotFound(httpapi.NotFound)
	r.MethodNotAllowed(httpapi.MethodNotAllowed)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"ok":true}`)) })
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	httpapi.RegisterProperties(r, httpapi.PropertiesDeps{Service: deps.Service})
	return r
}
