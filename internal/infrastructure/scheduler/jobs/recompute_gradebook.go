// Package jobs contains implementations of scheduled jobs for ClassPulse Core.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/classpulse/classpulse-core/internal/domain/gradebook"
	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
	"github.com/classpulse/classpulse-core/pkg/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE GRADEBOOK JOB
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeGradebookJob recomputes per-student totals from the canonical
// grade records and compares them against the live gradebook entries.
// Drift is reported through the event ledger, never corrected in place:
// a non-zero delta means some write path broke atomicity, and silently
// patching the entry would destroy the evidence.
type RecomputeGradebookJob struct {
	// Dependencies
	store   gradebook.Store
	events  ledger.Ledger
	bus     shared.EventPublisher
	metrics *metrics.Metrics
	logger  *slog.Logger

	// Configuration
	config RecomputeGradebookConfig

	// State
	lastRunStats atomic.Value // *RecomputeStats
}

// RecomputeGradebookConfig contains configuration for the recompute job.
type RecomputeGradebookConfig struct {
	// Courses lists the course IDs to sweep. Empty means the job is a
	// no-op; course discovery is the operator's responsibility.
	Courses []shared.CourseID

	// Timeout is the maximum duration for one full sweep.
	Timeout time.Duration
}

// DefaultRecomputeGradebookConfig returns sensible defaults.
func DefaultRecomputeGradebookConfig() RecomputeGradebookConfig {
	return RecomputeGradebookConfig{
		Timeout: 5 * time.Minute,
	}
}

// RecomputeStats contains statistics from a recompute run.
type RecomputeStats struct {
	RunID           string
	StartedAt       time.Time
	CompletedAt     time.Time
	Duration        time.Duration
	CoursesChecked  int
	StudentsChecked int
	DriftedStudents int
	ClearedStudents int
	EventsAppended  int
	Errors          []error
}

// NewRecomputeGradebookJob creates a new recompute job. bus may be nil.
func NewRecomputeGradebookJob(
	store gradebook.Store,
	events ledger.Ledger,
	bus shared.EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	config RecomputeGradebookConfig,
) *RecomputeGradebookJob {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewNop()
	}

	return &RecomputeGradebookJob{
		store:   store,
		events:  events,
		bus:     bus,
		metrics: m,
		logger:  logger,
		config:  config,
	}
}

// Name returns the job name.
func (j *RecomputeGradebookJob) Name() string {
	return "recompute_gradebook"
}

// Description returns a human-readable description.
func (j *RecomputeGradebookJob) Description() string {
	return "Recomputes gradebook totals from grade records and reports drift"
}

// Run executes one full recompute sweep.
func (j *RecomputeGradebookJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &RecomputeStats{
		RunID:     uuid.NewString(),
		StartedAt: startedAt,
		Errors:    make([]error, 0),
	}

	j.logger.Info("starting recompute_gradebook job",
		"run_id", stats.RunID,
		"courses", len(j.config.Courses),
	)

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	for _, courseID := range j.config.Courses {
		if err := j.recomputeCourse(ctx, courseID, stats); err != nil {
			stats.Errors = append(stats.Errors, err)
			j.logger.Error("failed to recompute course",
				"course_id", courseID.String(),
				"error", err,
			)
		}
		stats.CoursesChecked++
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastRunStats.Store(stats)

	j.logger.Info("recompute_gradebook job completed",
		"run_id", stats.RunID,
		"duration", stats.Duration.String(),
		"courses_checked", stats.CoursesChecked,
		"students_checked", stats.StudentsChecked,
		"drifted_students", stats.DriftedStudents,
		"cleared_students", stats.ClearedStudents,
	)

	if len(stats.Errors) > 0 {
		return fmt.Errorf("recompute completed with %d errors", len(stats.Errors))
	}

	return nil
}

// recomputeCourse checks one course and appends a recompute event per
// drifted student, plus a zero-delta event for each student whose last
// recorded recompute still reported drift. The drift detector keeps
// only the latest recompute per student, so that closing event is what
// silences the flag once the live entry agrees again.
func (j *RecomputeGradebookJob) recomputeCourse(ctx context.Context, courseID shared.CourseID, stats *RecomputeStats) error {
	records, err := j.store.ListRecordsByCourse(ctx, courseID)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}

	live, err := j.store.ListEntries(ctx, courseID)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}

	open, err := j.openDrift(ctx, courseID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	expected := gradebook.RecomputeTotals(records)
	reports := gradebook.CompareTotals(courseID, expected, live, now)
	stats.StudentsChecked += len(reports)

	for _, d := range reports {
		drifted := d.HasDrift()
		if !drifted && !open[d.StudentID] {
			continue
		}

		if drifted {
			stats.DriftedStudents++
			j.metrics.RecomputeDrift.Inc()
			j.logger.Warn("gradebook drift detected",
				"run_id", stats.RunID,
				"course_id", courseID.String(),
				"student_id", d.StudentID.String(),
				"delta_score", d.DeltaScore().Float64(),
				"delta_possible", d.DeltaPossible().Float64(),
			)
		} else {
			stats.ClearedStudents++
			j.logger.Info("gradebook drift cleared",
				"run_id", stats.RunID,
				"course_id", courseID.String(),
				"student_id", d.StudentID.String(),
			)
		}

		in := ledger.EventInput{
			Type:      shared.EventRecomputeCompleted,
			CourseID:  courseID,
			ActorUID:  "recompute_gradebook",
			ActorRole: shared.RoleSystem,
			Aggregate: ledger.Aggregate{
				Kind: shared.AggregateGradebookEntry,
				ID:   d.StudentID.String(),
			},
			Payload:        gradebook.RecomputePayload(d, stats.RunID),
			IdempotencyKey: ledger.Key(shared.EventRecomputeCompleted, courseID, 1, stats.RunID, d.StudentID.String()),
			OccurredAt:     now,
		}

		ev, err := j.events.Append(ctx, in)
		if err != nil {
			return fmt.Errorf("append recompute event for %s: %w", d.StudentID.String(), err)
		}
		stats.EventsAppended++

		if j.bus != nil {
			if pubErr := j.bus.Publish(*ev); pubErr != nil {
				j.logger.Warn("failed to publish recompute event",
					"event_id", ev.EventID, "error", pubErr)
			}
		}
	}

	return nil
}

// openDrift returns the students whose most recent recompute event for
// the course still reports a non-zero delta.
func (j *RecomputeGradebookJob) openDrift(ctx context.Context, courseID shared.CourseID) (map[shared.StudentID]bool, error) {
	events, err := j.events.ListByCourse(ctx, courseID, time.Time{}, 0)
	if err != nil {
		return nil, fmt.Errorf("list recompute history: %w", err)
	}

	// Events arrive in (occurredAt, eventID) order; the last one per
	// student wins, mirroring the drift detector.
	open := make(map[shared.StudentID]bool)
	for _, e := range events {
		if e.Type != shared.EventRecomputeCompleted {
			continue
		}
		deltaScore, _ := e.Data["deltaScore"].(float64)
		deltaPossible, _ := e.Data["deltaPossible"].(float64)
		open[shared.StudentID(e.Aggregate.ID)] = deltaScore != 0 || deltaPossible != 0
	}
	for student, stillOpen := range open {
		if !stillOpen {
			delete(open, student)
		}
	}
	return open, nil
}

// LastRunStats returns the stats from the most recent completed run, or
// nil if the job has not run yet.
func (j *RecomputeGradebookJob) LastRunStats() *RecomputeStats {
	v := j.lastRunStats.Load()
	if v == nil {
		return nil
	}
	return v.(*RecomputeStats)
}
