package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StateGauge is the current state per dependency (0=closed, 1=half-open, 2=open).
	StateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "signald",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit state per dependency (0=closed, 1=half-open, 2=open)",
		},
		[]string{"dependency"},
	)

	// RejectedTotal counts calls refused with ErrOpen.
	RejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signald",
			Subsystem: "breaker",
			Name:      "rejected_total",
			Help:      "Calls rejected because the circuit was open",
		},
		[]string{"dependency"},
	)

	// TransitionsTotal counts state changes by target state.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signald",
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Circuit state transitions",
		},
		[]string{"dependency", "to"},
	)
)
