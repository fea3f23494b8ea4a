// Package metrics exposes the hub's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks currently registered sessions.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relayhub",
		Name:      "connections_active",
		Help:      "Number of live registered connections.",
	})

	// ConnectionsTotal counts admitted connections.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relayhub",
		Name:      "connections_total",
		Help:      "Total connections admitted.",
	})

	// MessagesRelayed counts envelopes delivered to a recipient.
	MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relayhub",
		Name:      "messages_relayed_total",
		Help:      "Total envelopes re-encrypted and delivered.",
	})

	// ConnectionErrors counts per-connection failures by reason.
	ConnectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayhub",
		Name:      "connection_errors_total",
		Help:      "Per-connection failures by reason.",
	}, []string{"reason"})

	// HeartbeatTerminations counts connections reclaimed by the sweep.
	HeartbeatTerminations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relayhub",
		Name:      "heartbeat_terminations_total",
		Help:      "Connections terminated for missed heartbeats.",
	})
)
