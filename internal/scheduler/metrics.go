package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts job runs by outcome.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signald",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Job runs by outcome",
		},
		[]string{"job", "outcome"},
	)

	// RunDuration observes job run latency.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "signald",
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Job run duration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"job"},
	)
)
