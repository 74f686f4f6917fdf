// Package metrics holds the process-wide Prometheus collectors served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "roomchat"

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Live WebSocket connections.",
	})

	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms_active",
		Help:      "Rooms with at least one member.",
	})

	MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_relayed_total",
		Help:      "Chat messages accepted for fan-out.",
	})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Frames handed to recipients, by outcome (queued, dropped).",
	}, []string{"outcome"})

	ReactionToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reaction_toggles_total",
		Help:      "Reaction toggles applied, by direction (added, removed).",
	}, []string{"direction"})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_rejected_total",
		Help:      "Client frames rejected before dispatch, by reason.",
	}, []string{"reason"})
)

// Delivered records the outcome of one enqueue attempt.
func Delivered(ok bool) {
	if ok {
		Deliveries.WithLabelValues("queued").Inc()
		return
	}
	Deliveries.WithLabelValues("dropped").Inc()
}

// Toggled records one reaction toggle.
func Toggled(added bool) {
	if added {
		ReactionToggles.WithLabelValues("added").Inc()
		return
	}
	ReactionToggles.WithLabelValues("removed").Inc()
}

// Rejected records a client frame that was refused.
func Rejected(reason string) {
	EventsRejected.WithLabelValues(reason).Inc()
}
