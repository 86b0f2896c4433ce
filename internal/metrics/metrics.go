// Package metrics exposes Prometheus instrumentation for the vault client.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks outbound API calls to the vault service.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyfold_api_requests_total",
			Help: "Total number of vault API requests made (by method and status).",
		},
		[]string{"method", "status"},
	)

	// Measures duration of vault API requests.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keyfold_api_request_duration_seconds",
			Help:    "Duration of vault API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"method"},
	)

	// Tracks token refresh attempts by outcome ("success" or "failure").
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyfold_token_refreshes_total",
			Help: "Number of token refresh calls to the identity service.",
		},
		[]string{"outcome"},
	)

	// Counts callers that waited on a refresh started by another caller.
	RefreshWaitersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keyfold_token_refresh_waiters_total",
			Help: "Number of callers that joined an in-flight token refresh.",
		},
	)
)

// IncRequest records one completed API request.
func IncRequest(method string, status int, start time.Time) {
	RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// IncRefresh records one completed refresh flight.
func IncRefresh(err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	TokenRefreshesTotal.WithLabelValues(outcome).Inc()
}
