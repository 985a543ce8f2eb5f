package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leapstack/leap-collector/internal/models"
)

const (
	// OutcomeAccepted labels log entries persisted by ingestion.
	OutcomeAccepted = "accepted"
	// OutcomeRejected labels log entries that failed validation.
	OutcomeRejected = "rejected"
	// OutcomeError labels ingestion failures after validation (store or alerting).
	OutcomeError = "error"
)

// Resolution outcomes.
const (
	ResolutionResolved        = "resolved"
	ResolutionNotFound        = "not_found"
	ResolutionAlreadyResolved = "already_resolved"
	ResolutionConflict        = "conflict"
	ResolutionError           = "error"
)

var (
	logsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leap_collector",
			Name:      "logs_ingested_total",
			Help:      "Total number of log entries received, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	ingestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "leap_collector",
			Name:      "ingest_seconds",
			Help:      "Time to persist and evaluate one log entry.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	violationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leap_collector",
			Name:      "violations_total",
			Help:      "Log entries that breached a monitored condition, by severity.",
		},
		[]string{"severity"},
	)

	incidentsOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leap_collector",
			Name:      "incidents_opened_total",
			Help:      "Incidents created by the deduplicator, by severity.",
		},
		[]string{"severity"},
	)

	duplicatesSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leap_collector",
			Name:      "duplicates_suppressed_total",
			Help:      "Violations absorbed by an already open incident, by violation severity.",
		},
		[]string{"severity"},
	)

	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leap_collector",
			Name:      "resolutions_total",
			Help:      "Incident resolve attempts, by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches collector metrics to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		logsIngestedTotal,
		ingestDurationSeconds,
		violationsTotal,
		incidentsOpenedTotal,
		duplicatesSuppressedTotal,
		resolutionsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIngest records one ingestion and its duration.
func ObserveIngest(duration time.Duration, outcome string) {
	logsIngestedTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeRejected {
		return
	}
	if duration < 0 {
		duration = 0
	}
	ingestDurationSeconds.Observe(duration.Seconds())
}

// ObserveViolation counts a rule violation.
func ObserveViolation(sev models.Severity) {
	violationsTotal.WithLabelValues(string(sev)).Inc()
}

// ObserveIncidentOpened counts a newly created incident.
func ObserveIncidentOpened(sev models.Severity) {
	incidentsOpenedTotal.WithLabelValues(string(sev)).Inc()
}

// ObserveDuplicateSuppressed counts a violation absorbed by an open incident.
func ObserveDuplicateSuppressed(sev models.Severity) {
	duplicatesSuppressedTotal.WithLabelValues(string(sev)).Inc()
}

// ObserveResolution counts a resolve attempt.
func ObserveResolution(outcome string) {
	resolutionsTotal.WithLabelValues(outcome).Inc()
}
