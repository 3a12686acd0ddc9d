// Package metrics exposes the gateway Prometheus collectors.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "footprint",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "footprint",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "footprint",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	boundaryRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "footprint",
			Subsystem: "boundary",
			Name:      "requests_total",
			Help:      "Requests by terminal boundary state and rejection code.",
		},
		[]string{"state", "code"},
	)

	decryptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "footprint",
			Subsystem: "boundary",
			Name:      "decrypt_duration_seconds",
			Help:      "Time spent draining and decrypting request bodies.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~200ms
		},
		[]string{"outcome"},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "footprint",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		},
	)

	walksRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "footprint",
			Subsystem: "walks",
			Name:      "recorded_total",
			Help:      "Walks stored.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		boundaryRequests,
		decryptDuration,
		rateLimited,
		walksRecorded,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// TrackInFlight increments the in-flight gauge and returns its decrement.
func TrackInFlight() func() {
	httpInFlight.Inc()
	return httpInFlight.Dec
}

// RecordHTTPRequest records one handled request. path should be a route template.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBoundary counts a request by its terminal boundary state. code is empty unless rejected.
func RecordBoundary(state, code string) {
	if code == "" {
		code = "none"
	}
	boundaryRequests.WithLabelValues(state, code).Inc()
}

// BoundaryCount returns the current counter value for state and code.
func BoundaryCount(state, code string) float64 {
	if code == "" {
		code = "none"
	}
	return counterValue(boundaryRequests.WithLabelValues(state, code))
}

// RecordDecrypt records one body decryption attempt.
func RecordDecrypt(duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	decryptDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRateLimited counts a rate limiter rejection.
func RecordRateLimited() {
	rateLimited.Inc()
}

// RecordWalk counts a stored walk.
func RecordWalk() {
	walksRecorded.Inc()
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
