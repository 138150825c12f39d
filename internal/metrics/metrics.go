package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	paginationExits  *prometheus.CounterVec
	pagesPerSearch   prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listings_proxy_http_requests_total",
				Help: "Total number of inbound HTTP requests.",
			},
			[]string{"code", "method"},
		),
		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listings_proxy_upstream_requests_total",
				Help: "Outbound requests to the DDF API by upstream endpoint.",
			},
			[]string{"upstream", "code", "method"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "listings_proxy_upstream_request_duration_seconds",
				Help:    "Duration of outbound requests to the DDF API.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"upstream", "code", "method"},
		),
		paginationExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listings_proxy_pagination_exits_total",
				Help: "Exhaustive searches by the condition that ended them.",
			},
			[]string{"exit"},
		),
		pagesPerSearch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "listings_proxy_pages_per_search",
			Help:    "Upstream pages fetched per exhaustive search.",
			Buckets: []float64{1, 2, 3, 4, 5, 10},
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		m.httpRequests,
		m.upstreamRequests,
		m.upstreamDuration,
		m.paginationExits,
		m.pagesPerSearch,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Middleware counts inbound requests by status code and method.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(m.httpRequests, next)
}

// Transport instruments an outbound round tripper under the given upstream name.
func (m *Metrics) Transport(upstream string, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	labels := prometheus.Labels{"upstream": upstream}
	return promhttp.InstrumentRoundTripperCounter(
		m.upstreamRequests.MustCurryWith(labels),
		promhttp.InstrumentRoundTripperDuration(m.upstreamDuration.MustCurryWith(labels), next),
	)
}

// ObservePagination records how an exhaustive search ended.
func (m *Metrics) ObservePagination(exit string, pages int) {
	m.paginationExits.WithLabelValues(exit).Inc()
	m.pagesPerSearch.Observe(float64(pages))
}
