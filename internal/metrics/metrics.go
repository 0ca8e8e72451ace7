// Package metrics holds the Prometheus collectors for bridge activity.
//
// Collectors are registered on Registry, which the API server exposes on
// /metrics. Registry also carries the Go runtime and process collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Label values.
const (
	ResultStarted   = "started"
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
	ResultAccepted  = "accepted"
	ResultDropped   = "dropped"
	ResultSent      = "sent"

	ReadEdge  = "edge"
	ReadValue = "value"
)

// Registry is the registry every collector in this package is registered on.
var Registry = prometheus.NewRegistry()

var (
	// ConnectionState is 1 for the bridge's current connection state and 0
	// for every other state.
	ConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sidekick_bridge_connection_state",
			Help: "Current broker connection state (1 = active state).",
		},
		[]string{"state"},
	)

	// ConnectAttempts counts connection attempts by outcome.
	ConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidekick_bridge_connect_attempts_total",
			Help: "Broker connection attempts by result (started/succeeded/failed).",
		},
		[]string{"result"},
	)

	// MessagesReceived counts inbound messages by whether the registry accepted them.
	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidekick_bridge_messages_received_total",
			Help: "Inbound broker messages by result (accepted/dropped).",
		},
		[]string{"result"},
	)

	// Publishes counts publish calls by whether they reached the transport.
	Publishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidekick_bridge_publishes_total",
			Help: "Publish calls by result (sent/dropped).",
		},
		[]string{"result"},
	)

	// ReadsFired counts edge-triggered reads that returned true.
	ReadsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidekick_bridge_reads_fired_total",
			Help: "Edge-triggered reads that consumed a new message, by kind (edge/value).",
		},
		[]string{"kind"},
	)

	// BrokerRestarts counts restarts of the managed local broker.
	BrokerRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sidekick_broker_restarts_total",
			Help: "Restarts of the managed local broker process.",
		},
	)

	// RegisteredTopics is the current size of the topic registry.
	RegisteredTopics = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sidekick_bridge_registered_topics",
			Help: "Number of topics currently registered with the bridge.",
		},
	)
)

func init() {
	Registry.MustRegister(
		ConnectionState,
		ConnectAttempts,
		MessagesReceived,
		Publishes,
		ReadsFired,
		RegisteredTopics,
		BrokerRestarts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
