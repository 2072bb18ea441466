// Package metrics exposes the application's Prometheus collectors: HTTP
// traffic, cache lookup outcomes, provider calls, and circuit breaker
// states.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trackfolio/backend/internal/resilience"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trackfolio",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trackfolio",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trackfolio",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trackfolio",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by category and outcome.",
		},
		[]string{"category", "outcome"},
	)

	providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trackfolio",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Upstream provider calls by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	providerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trackfolio",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Duration of upstream provider calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"provider"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "trackfolio",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state per dependency (0 closed, 1 half-open, 2 open).",
		},
		[]string{"dependency"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		cacheLookups,
		providerRequests,
		providerDuration,
		breakerState,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordCacheLookup records one cache lookup outcome.
func RecordCacheLookup(category string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheLookups.WithLabelValues(category, outcome).Inc()
}

// RecordProviderRequest records one upstream provider call.
func RecordProviderRequest(provider string, duration time.Duration, success bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	outcome := "error"
	if success {
		outcome = "success"
	}
	providerRequests.WithLabelValues(provider, outcome).Inc()
	providerDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// SetBreakerState mirrors a circuit breaker's state into the gauge.
func SetBreakerState(dependency string, state resilience.State) {
	var value float64
	switch state {
	case resilience.StateHalfOpen:
		value = 1
	case resilience.StateOpen:
		value = 2
	}
	breakerState.WithLabelValues(dependency).Set(value)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses identifier segments so label cardinality stays
// bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/api"
	}
	switch parts[1] {
	case "price", "conversion", "cache", "auth", "health":
		if len(parts) >= 3 {
			return "/api/" + parts[1] + "/" + parts[2]
		}
		return "/api/" + parts[1]
	case "assets":
		return "/api/assets"
	default:
		return "/api/" + parts[1]
	}
}
