package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Offline queue

	// QueueLength is the number of mutations waiting for replay, sampled after every sync pass.
	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "contracts_sync_queue_length",
		Help: "Number of queued mutations awaiting replay",
	})

	// ReplaysTotal counts replay attempts by outcome (replayed, failed).
	ReplaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contracts_sync_replays_total",
			Help: "Total number of queued mutation replays",
		},
		[]string{"outcome"},
	)

	// SyncRunsTotal counts SyncNow calls by trigger.
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contracts_sync_runs_total",
			Help: "Total number of sync passes by trigger",
		},
		[]string{"trigger"},
	)

	// Interception layer

	// InterceptedTotal counts intercepted requests by route class and how they were served.
	InterceptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contracts_intercepted_requests_total",
			Help: "Requests handled by the interception layer",
		},
		[]string{"class", "result"},
	)

	// Server

	// HTTPRequestsTotal counts API requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contracts_http_requests_total",
			Help: "API requests served",
		},
		[]string{"method", "code"},
	)

	// HTTPRequestDuration tracks API latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contracts_http_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)
