package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsink_messages_received_total",
			Help: "Total number of inbound messages handed to the pipeline",
		},
		[]string{"source"},
	)

	Outcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsink_outcomes_total",
			Help: "Total number of terminal outcomes by kind and reason",
		},
		[]string{"outcome", "reason"},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventsink_processing_duration_seconds",
			Help:    "End to end duration of one pipeline invocation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Store metrics
	StoreAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsink_store_attempts_total",
			Help: "Total number of store calls by operation and result",
		},
		[]string{"op", "result"},
	)

	StoreRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventsink_store_retries_total",
			Help: "Total number of backoff waits before retrying a create",
		},
	)

	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventsink_store_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Dead-letter metrics
	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsink_dlq_writes_total",
			Help: "Total number of dead-letter writes by result",
		},
		[]string{"result"},
	)

	// Source metrics
	SourceAcks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsink_source_acks_total",
			Help: "Total number of stream acknowledgements by action",
		},
		[]string{"action"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsink_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)
)
