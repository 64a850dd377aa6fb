package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Finalise outcomes recorded by ObserveFinalise.
const (
	OutcomeSuccess  = "success"
	OutcomeConflict = "conflict"
	OutcomeFailed   = "failed"
	OutcomeOrphaned = "orphaned"
)

// Metrics collects Prometheus metrics for the portal.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	finaliseTotal    *prometheus.CounterVec
	finaliseDuration prometheus.Histogram
}

// NewMetrics initialises the registry with HTTP and finalisation metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	finalise := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_finalise_total",
		Help: "Period finalisation attempts by outcome.",
	}, []string{"outcome"})
	finaliseDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "portal_finalise_duration_seconds",
		Help:    "Wall time of period finalisation runs.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})
	for _, outcome := range []string{OutcomeSuccess, OutcomeConflict, OutcomeFailed, OutcomeOrphaned} {
		finalise.WithLabelValues(outcome)
	}
	registry.MustRegister(requests, duration, finalise, finaliseDuration)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		finaliseTotal:    finalise,
		finaliseDuration: finaliseDuration,
	}
}

// ObserveFinalise records one finalisation attempt.
func (m *Metrics) ObserveFinalise(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.finaliseTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		m.finaliseDuration.Observe(elapsed.Seconds())
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
