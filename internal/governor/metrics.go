package governor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Utilization is used/limit per resource and window.
	// Labels: resource, window
	Utilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "signald",
			Subsystem: "governor",
			Name:      "utilization_ratio",
			Help:      "Fraction of the window quota currently consumed",
		},
		[]string{"resource", "window"},
	)

	// AdmittedTotal counts calls recorded against a resource.
	AdmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signald",
			Subsystem: "governor",
			Name:      "admitted_total",
			Help:      "Total calls admitted per resource",
		},
		[]string{"resource"},
	)

	// WaitSeconds observes how long WaitForSlot blocked before admitting.
	WaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "signald",
			Subsystem: "governor",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for quota capacity",
			Buckets:   []float64{0.01, 0.1, 1, 5, 30, 60, 300, 1800, 3600},
		},
		[]string{"resource"},
	)
)
