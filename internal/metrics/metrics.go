package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dimeloc_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// ProviderCalls counts text analysis provider calls; outcome is
	// "ok", "error", "timeout", "rate_limited" or "breaker_open".
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dimeloc_provider_calls_total",
			Help: "Total number of text analysis provider calls by outcome",
		},
		[]string{"outcome"},
	)

	ProviderLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dimeloc_provider_latency_seconds",
			Help:    "Latency of text analysis provider calls",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
	)

	AnalysisFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dimeloc_analysis_fallbacks_total",
			Help: "Analyses answered with the static fallback payload",
		},
		[]string{"analysis_type"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dimeloc_provider_breaker_state",
			Help: "Circuit breaker state of the text analysis provider",
		},
		[]string{"name"},
	)
)
