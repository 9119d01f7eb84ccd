// Package metrics exposes gateway instrumentation via Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks currently open gateway connections.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clawgate_connections_active",
			Help: "Number of open gateway connections",
		},
	)

	// RequestsTotal counts dispatched requests by method and result code
	// ("ok" for successes).
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawgate_requests_total",
			Help: "Total gateway requests",
		},
		[]string{"method", "code"},
	)

	// IdempotencyTotal counts agent.run claims by outcome.
	IdempotencyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawgate_idempotency_total",
			Help: "Idempotency cache claims by outcome",
		},
		[]string{"outcome"}, // "owner", "follower", "cached"
	)

	// EventsDroppedTotal counts events suppressed by backpressure.
	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clawgate_events_dropped_total",
			Help: "Events dropped because the send buffer was saturated",
		},
	)
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
