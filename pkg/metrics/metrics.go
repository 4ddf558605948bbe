package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedClients tracks currently open realtime connections.
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_connected_clients",
			Help: "Number of open realtime connections",
		},
	)

	// RealtimeEvents counts inbound realtime events by name and result (ok|error).
	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_realtime_events_total",
			Help: "Total number of inbound realtime events",
		},
		[]string{"event", "result"},
	)

	// MessagesSent counts messages accepted by the pipeline.
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_messages_sent_total",
			Help: "Total number of messages persisted and fanned out",
		},
	)

	// CallOutcomes counts call sessions reaching a terminal state, by outcome.
	CallOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_call_outcomes_total",
			Help: "Total number of call sessions by terminal status",
		},
		[]string{"status"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
