package voxflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxflow_stage_requests_total",
			Help: "Stage executions started, by kind.",
		},
		[]string{"kind"},
	)
	stageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voxflow_stage_latency_seconds",
			Help:    "Stage execution time, by kind.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"kind"},
	)
	stagePayloadSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voxflow_stage_payload_bytes",
			Help:    "Size of the stage input payload, by kind.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		},
		[]string{"kind"},
	)
	stageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxflow_stage_retries_total",
			Help: "Stage attempts that failed and were re-queued, by kind.",
		},
		[]string{"kind"},
	)
	stageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxflow_stage_failures_total",
			Help: "Tasks that exhausted their retry budget, by kind.",
		},
		[]string{"kind"},
	)
)

func observeStage(kind TaskKind, payloadBytes int, start time.Time) {
	stageRequests.WithLabelValues(string(kind)).Inc()
	stagePayloadSize.WithLabelValues(string(kind)).Observe(float64(payloadBytes))
	stageLatency.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}
