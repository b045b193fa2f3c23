package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	guardDenials      *prometheus.CounterVec
	rateLimitFailOpen prometheus.Counter
	auditDropped      prometheus.Counter
}

// NewMetrics initializes the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cantoria_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cantoria_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	denials := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cantoria_guard_denials_total",
		Help: "Guard denials by reason (unauthorized, forbidden, rate_limited).",
	}, []string{"reason"})
	failOpen := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cantoria_ratelimit_fail_open_total",
		Help: "Rate limit checks that failed open because the counter store errored.",
	})
	auditDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cantoria_audit_entries_dropped_total",
		Help: "Audit entries dropped after both enqueue and direct write failed.",
	})
	registry.MustRegister(requests, duration, denials, failOpen, auditDropped)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		guardDenials:      denials,
		rateLimitFailOpen: failOpen,
		auditDropped:      auditDropped,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
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

// GuardDenied counts a guard denial by reason.
func (m *Metrics) GuardDenied(reason string) {
	if m == nil {
		return
	}
	m.guardDenials.WithLabelValues(reason).Inc()
}

// RateLimitFailedOpen counts a fail-open rate limit decision.
func (m *Metrics) RateLimitFailedOpen() {
	if m == nil {
		return
	}
	m.rateLimitFailOpen.Inc()
}

// AuditEntryDropped counts a fully dropped audit entry.
func (m *Metrics) AuditEntryDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

// Registerer exposes the registry for registering custom metrics.
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
