// ================================
// internal/metrics/metrics.go - Self-monitoring for the load generator
// ================================

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Issue-path metrics
	QueriesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_queries_issued_total",
			Help: "Total number of queries handed to the SUT",
		},
		[]string{"scenario"},
	)

	FrameDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_frame_drops_total",
			Help: "Scheduled issues skipped because the outstanding-query bound was reached",
		},
		[]string{"scenario"},
	)

	// Completion-path metrics
	SamplesCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loadgen_samples_completed_total",
			Help: "Total number of sample completions received from the SUT",
		},
	)

	SampleLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "loadgen_latency_seconds",
			Help:    "Per-sample latency as observed by the completion collector",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
	)

	OutstandingQueries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loadgen_outstanding_queries",
			Help: "Queries issued to the SUT that have not fully completed",
		},
	)

	// Sample library metrics
	WorkingSetLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loadgen_working_set_loaded_samples",
			Help: "Samples currently resident in the query sample library's RAM window",
		},
	)

	LibraryRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loadgen_working_set_rotations_total",
			Help: "Load/unload window rotations requested from the sample library",
		},
	)

	// Engine lifecycle metrics
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_state_transitions_total",
			Help: "Issue engine state machine transitions",
		},
		[]string{"state"},
	)

	// Dashboard metrics
	ActiveWebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loadgen_websocket_connections_active",
			Help: "Number of live dashboard stream connections",
		},
	)
)
