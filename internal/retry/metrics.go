package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal counts individual attempts by outcome.
	// Labels: dependency, outcome (success, failure, timeout, permanent)
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signald",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Outbound attempts by outcome",
		},
		[]string{"dependency", "outcome"},
	)

	// CallsTotal counts logical calls by final result.
	// Labels: dependency, result (success, exhausted, permanent, circuit_open, cancelled)
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signald",
			Subsystem: "retry",
			Name:      "calls_total",
			Help:      "Logical calls by final result",
		},
		[]string{"dependency", "result"},
	)
)
