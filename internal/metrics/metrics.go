// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "attendance"

var (
	// Ticks counts detection loop iterations across all sessions.
	Ticks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "ticks_total",
		Help:      "Detection loop iterations.",
	})

	// MatchOutcomes counts per-tick outcomes: recognized, already_scanned, not_recognized, no_face.
	MatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "match_outcomes_total",
		Help:      "Outcome of matching the best face of a frame.",
	}, []string{"outcome"})

	// RecordResults counts attendance recorder results: recorded, duplicate, error, dropped.
	RecordResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "results_total",
		Help:      "Attendance record call results.",
	}, []string{"result"})

	// TickErrors counts failures per loop stage (capture, detect).
	TickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "tick_errors_total",
		Help:      "Per-tick failures by stage.",
	}, []string{"stage"})

	// MalformedReferences is the number of enrollments skipped for a bad descriptor, per section.
	MalformedReferences = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "references",
		Name:      "malformed",
		Help:      "Enrollments skipped because their descriptor has the wrong dimension.",
	}, []string{"section"})

	// MalformedDetections counts faces returned by the descriptor source with the wrong dimension.
	MalformedDetections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "malformed_detections_total",
		Help:      "Detected faces dropped because their descriptor has the wrong dimension.",
	})

	// ActiveSessions is the number of sessions currently scanning.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "active_sessions",
		Help:      "Sessions in the scanning state.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
