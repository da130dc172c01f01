// Prometheus collectors for the capture pipeline
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesReadTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slitscan_frames_read_total",
		Help: "Frames read from the source and queued for assembly",
	})

	FramesAssembledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slitscan_frames_assembled_total",
		Help: "Frames whose midline was appended to the composite",
	})

	FramesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slitscan_frames_skipped_total",
		Help: "Frames rejected by the assembler because their shape did not match",
	})

	ReadRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slitscan_read_retries_total",
		Help: "Live-source reads that returned no frame and were retried",
	})

	QueueBlockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slitscan_queue_blocked_total",
		Help: "Pushes that found the frame queue full and had to wait",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slitscan_queue_depth",
		Help: "Frames waiting in the queue, sampled by the preview loop",
	})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slitscan_runs_total",
		Help: "Pipeline runs, by reader terminal state",
	}, []string{"state"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slitscan_stage_duration_seconds",
		Help:    "Duration of pipeline stages",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
	}, []string{"stage"})
)
