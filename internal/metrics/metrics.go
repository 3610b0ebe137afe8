// Package metrics registers the Prometheus metrics exported by the router.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts completed routed requests labelled by the provider
	// that answered (or "none"), the model, and outcome ("success", "error").
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_requests_total",
			Help: "Total number of routed generation requests.",
		},
		[]string{"provider", "model", "outcome"},
	)

	// AttemptDuration observes per-attempt provider latency in seconds.
	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conduit_attempt_duration_seconds",
			Help:    "Per-attempt provider call duration in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	// TokensInput counts total prompt tokens sent to providers.
	TokensInput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_tokens_input_total",
			Help: "Total prompt tokens sent to providers.",
		},
		[]string{"provider", "model"},
	)

	// TokensOutput counts total completion tokens received from providers.
	TokensOutput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_tokens_output_total",
			Help: "Total completion tokens received from providers.",
		},
		[]string{"provider", "model"},
	)

	// ProviderErrors counts failed attempts broken down by provider and the
	// classified error kind.
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_provider_errors_total",
			Help: "Total failed provider attempts by error kind.",
		},
		[]string{"provider", "kind"},
	)

	// ProviderHealth tracks per-provider health as a gauge:
	// 0 = available, 1 = degraded, 2 = unavailable.
	ProviderHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conduit_provider_health",
			Help: "Provider health state (0=available 1=degraded 2=unavailable).",
		},
		[]string{"provider"},
	)
)
