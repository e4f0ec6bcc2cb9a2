// Package metrics provides Prometheus instrumentation for the grading
// core: mutation throughput, conflict retries, ledger appends, and
// analyzer activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the core registers.
type Metrics struct {
	// GradeMutations counts committed grade transactions by outcome.
	GradeMutations *prometheus.CounterVec

	// GradeConflicts counts optimistic transaction conflicts that
	// triggered a retry.
	GradeConflicts prometheus.Counter

	// MutationDuration observes the latency of a full grade transaction
	// including retries.
	MutationDuration prometheus.Histogram

	// EventsAppended counts ledger appends by event type and whether the
	// append deduplicated against an existing row.
	EventsAppended *prometheus.CounterVec

	// AnalyzerPasses counts completed analysis passes.
	AnalyzerPasses prometheus.Counter

	// AnalyzerInsights counts emitted insights by type.
	AnalyzerInsights *prometheus.CounterVec

	// RecomputeDrift counts students flagged with non-zero drift during
	// full recompute passes.
	RecomputeDrift prometheus.Counter

	// JobRuns counts scheduled job executions by job name and outcome.
	JobRuns *prometheus.CounterVec

	// JobDuration observes scheduled job run time by job name.
	JobDuration *prometheus.HistogramVec
}

// Dedupe outcome labels for EventsAppended.
const (
	AppendNew       = "new"
	AppendDuplicate = "duplicate"
)

// ObserveAppend records one ledger append. Nil-safe on the receiver so
// repos can run uninstrumented.
func (m *Metrics) ObserveAppend(eventType string, inserted bool) {
	if m == nil {
		return
	}
	outcome := AppendDuplicate
	if inserted {
		outcome = AppendNew
	}
	m.EventsAppended.WithLabelValues(eventType, outcome).Inc()
}

// New creates and registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GradeMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classpulse",
			Subsystem: "gradebook",
			Name:      "grade_mutations_total",
			Help:      "Committed grade mutations by outcome (ok, validation_error, not_found, conflict, error).",
		}, []string{"outcome"}),
		GradeConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "classpulse",
			Subsystem: "gradebook",
			Name:      "grade_conflicts_total",
			Help:      "Optimistic transaction conflicts that triggered a retry.",
		}),
		MutationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "classpulse",
			Subsystem: "gradebook",
			Name:      "mutation_duration_seconds",
			Help:      "Duration of a grade mutation including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		EventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classpulse",
			Subsystem: "ledger",
			Name:      "events_appended_total",
			Help:      "Ledger appends by event type and dedupe outcome.",
		}, []string{"type", "dedupe"}),
		AnalyzerPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "classpulse",
			Subsystem: "insight",
			Name:      "analyzer_passes_total",
			Help:      "Completed analyzer passes.",
		}),
		AnalyzerInsights: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classpulse",
			Subsystem: "insight",
			Name:      "insights_total",
			Help:      "Insights emitted by type.",
		}, []string{"type"}),
		RecomputeDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "classpulse",
			Subsystem: "gradebook",
			Name:      "recompute_drift_total",
			Help:      "Students flagged with non-zero drift during recompute.",
		}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classpulse",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by job and outcome (ok, error).",
		}, []string{"job", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "classpulse",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Scheduled job run time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.GradeMutations,
			m.GradeConflicts,
			m.MutationDuration,
			m.EventsAppended,
			m.AnalyzerPasses,
			m.AnalyzerInsights,
			m.RecomputeDrift,
			m.JobRuns,
			m.JobDuration,
		)
	}
	return m
}

// NewNop creates unregistered collectors. Handy in tests where metric
// output is irrelevant.
func NewNop() *Metrics {
	return New(nil)
}
