// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_stage_completed_total",
			Help: "Total number of pipeline stage executions completed",
		},
		[]string{"stage"},
	)

	StageFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_stage_failed_total",
			Help: "Total number of pipeline stage executions failed",
		},
		[]string{"stage", "error_code"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "discovery_stage_duration_seconds",
			Help: "Duration of pipeline stage execution in seconds",
		},
		[]string{"stage"},
	)

	BackendCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_backend_calls_total",
			Help: "Retrieval backend calls by terminal status",
		},
		[]string{"backend", "status"},
	)

	GroundingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_grounding_outcomes_total",
			Help: "Answers by final grounding status",
		},
		[]string{"status"},
	)
)
