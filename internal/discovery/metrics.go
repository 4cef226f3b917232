package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CandidatesGauge is the number of candidates per status after each cycle.
	CandidatesGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "signald",
			Subsystem: "discovery",
			Name:      "candidates",
			Help:      "Candidates by status",
		},
		[]string{"status"},
	)

	// TransitionsTotal counts candidate lifecycle events.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signald",
			Subsystem: "discovery",
			Name:      "transitions_total",
			Help:      "Candidate lifecycle events (new, confirmed, promoted, pruned, purged, approved, rejected)",
		},
		[]string{"event"},
	)

	// FailuresTotal counts per-identity collaborator failures inside cycles.
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signald",
			Subsystem: "discovery",
			Name:      "failures_total",
			Help:      "Per-identity failures by collaborator",
		},
		[]string{"collaborator"},
	)
)
