// Package metrics provides Prometheus instrumentation for the trip chat
// relay. It exposes gauges for connection and room counts, counters for
// message throughput and drops, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tripchat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the number of rooms with at least one session.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tripchat_active_rooms",
		Help: "Current number of occupied trip rooms",
	})

	// MessagesTotal counts chat messages, labeled by type: "received",
	// "delivered" or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tripchat_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"type"})

	// EventsDropped counts client events discarded without effect, labeled by
	// reason.
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tripchat_events_dropped_total",
		Help: "Client events dropped as malformed or out of state",
	}, []string{"reason"})

	// DeliveriesDropped counts outbound frames that could not be queued for a
	// recipient, labeled by reason ("backpressure", "not_found").
	DeliveriesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tripchat_deliveries_dropped_total",
		Help: "Outbound frames dropped for a single recipient",
	}, []string{"reason"})

	// MessageLatency records chat message processing latency in seconds.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tripchat_message_latency_seconds",
		Help:    "Chat message processing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// RoleResolutions counts role resolutions by outcome (a role or "error").
	RoleResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tripchat_role_resolutions_total",
		Help: "Role resolutions by outcome",
	}, []string{"outcome"})

	// RoleLookupLatency records trip membership lookup latency in seconds.
	RoleLookupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tripchat_role_lookup_seconds",
		Help:    "Trip membership lookup latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 3},
	})

	// HistoriesPruned counts room histories removed by the janitor.
	HistoriesPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tripchat_histories_pruned_total",
		Help: "Idle room histories removed",
	})

	// UpgradesRejected counts refused WebSocket upgrades, labeled by reason
	// ("rate_limited", "unauthorized", "capacity").
	UpgradesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tripchat_upgrades_rejected_total",
		Help: "Rejected WebSocket upgrade requests",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ActiveRooms,
		MessagesTotal,
		EventsDropped,
		DeliveriesDropped,
		MessageLatency,
		RoleResolutions,
		RoleLookupLatency,
		HistoriesPruned,
		UpgradesRejected,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
