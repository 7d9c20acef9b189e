// Package metrics provides Prometheus metrics collection for the gateway.
// It tracks cache effectiveness, upstream provider health, and HTTP traffic.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "geomux"

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

var (
	// FillLatency tracks how long cold fills take, including failover.
	FillLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fill_latency_seconds",
			Help:      "Cold fill latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"scope"},
	)

	// ProviderRequests counts upstream provider calls by outcome.
	// Outcomes: success, not_found, error, rate_limited.
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Upstream provider calls by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency tracks upstream provider call latency.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Upstream provider call latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"provider"},
	)
)

// Provider call outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeNotFound    = "not_found"
	OutcomeError       = "error"
	OutcomeRateLimited = "rate_limited"
)

// RecordFill records a completed cold fill.
func RecordFill(scope string, latency time.Duration) {
	FillLatency.WithLabelValues(scope).Observe(latency.Seconds())
}

// RecordProviderCall records one upstream provider call.
func RecordProviderCall(provider, outcome string, latency time.Duration) {
	ProviderRequests.WithLabelValues(provider, outcome).Inc()
	ProviderLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// statusString avoids Itoa allocations for the common codes.
func statusString(code int) string {
	switch code {
	case 200:
		return "200"
	case 404:
		return "404"
	case 500:
		return "500"
	case 503:
		return "503"
	case 504:
		return "504"
	default:
		return strconv.Itoa(code)
	}
}
