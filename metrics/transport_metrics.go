// Package metrics holds the process's prometheus instrumentation, one file
// per concern (transport, stream) in the teacher's style — package-level
// promauto collectors registered against the default registry, exercised by
// transport.Pipeline and stream.Client rather than threaded through as
// dependencies.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ccgate",
		Subsystem: "transport",
		Name:      "request_duration_seconds",
		Help:      "Latency of one REST request dispatch, from write to response read, by venue and method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"venue", "method"})

	throttleWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ccgate",
		Subsystem: "transport",
		Name:      "throttle_wait_seconds",
		Help:      "Time a request spent blocked on the per-venue rate-limit bucket before dispatch.",
		Buckets:   []float64{0, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"venue"})

	rateLimitWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccgate",
		Subsystem: "transport",
		Name:      "rate_limit_warnings_total",
		Help:      "Count of 429/418 responses received from a venue.",
	}, []string{"venue"})
)

// ObserveRequestDuration records the wall time one dispatched request took.
func ObserveRequestDuration(venue, method string, d time.Duration) {
	requestDuration.WithLabelValues(venue, method).Observe(d.Seconds())
}

// ObserveThrottleWait records the time a request spent waiting on the
// throttler before it was allowed to dispatch.
func ObserveThrottleWait(venue string, d time.Duration) {
	throttleWait.WithLabelValues(venue).Observe(d.Seconds())
}

// IncRateLimitWarning bumps the rate-limit-warning counter for venue.
func IncRateLimitWarning(venue string) {
	rateLimitWarnings.WithLabelValues(venue).Inc()
}
