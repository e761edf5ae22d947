// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "social_trends"

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	AuthDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_decisions_total",
			Help:      "API key authentication outcomes",
		},
		[]string{"outcome"}, // "ok", "missing", "invalid", "quota_exceeded", "demo", "tier_denied"
	)

	UsageWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_write_failures_total",
			Help:      "Best-effort usage writes that failed and were dropped",
		},
		[]string{"op"}, // "append", "touch"
	)

	AuthLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_lockouts_total",
			Help:      "Clients blocked after repeated failed authentication attempts",
		},
	)

	UnknownTier = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_tier_total",
			Help:      "Authenticated keys whose tier has no definition",
		},
	)

	StoreBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_breaker_state",
			Help:      "Key store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	StoreBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_breaker_transitions_total",
			Help:      "Key store circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)
)

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordAuthDecision(outcome string) {
	AuthDecisions.WithLabelValues(outcome).Inc()
}

func RecordUsageWriteFailure(op string) {
	UsageWriteFailures.WithLabelValues(op).Inc()
}
