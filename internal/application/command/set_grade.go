// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/classpulse/classpulse-core/internal/domain/gradebook"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
	"github.com/classpulse/classpulse-core/pkg/metrics"
	"github.com/classpulse/classpulse-core/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// SET GRADE COMMAND
// The single write path for grades. Validates fail-closed, runs the
// store's atomic transaction, retries contention with fresh reads, and
// fans the committed grade.mutated event out to subscribers.
// ══════════════════════════════════════════════════════════════════════════════

// SetGradeCommand contains the data for one grade mutation.
type SetGradeCommand struct {
	// CourseID is the course the grade belongs to.
	CourseID string

	// SourceType / SourceID identify the gradable work.
	SourceType string
	SourceID   string

	// StudentID is the student being graded.
	StudentID string

	// Score and PointsPossible are the grade itself.
	Score          float64
	PointsPossible float64

	// Feedback is optional free text for the student.
	Feedback string

	// GradedBy is the UID of the grader; GraderRole its role.
	GradedBy   string
	GraderRole shared.ActorRole

	// RequestID for tracing.
	RequestID string
}

// Mutation validates the command and converts it into a domain mutation.
// Everything is checked before any store call: no partial effects on
// malformed input.
func (c SetGradeCommand) Mutation() (gradebook.Mutation, error) {
	courseID, err := shared.NewCourseID(c.CourseID)
	if err != nil {
		return gradebook.Mutation{}, err
	}
	studentID, err := shared.NewStudentID(c.StudentID)
	if err != nil {
		return gradebook.Mutation{}, err
	}
	ref, err := shared.NewSourceRef(c.SourceType, c.SourceID)
	if err != nil {
		return gradebook.Mutation{}, err
	}

	role := c.GraderRole
	if role == "" {
		role = shared.RoleTeacher
	}

	m := gradebook.Mutation{
		CourseID:       courseID,
		Source:         ref,
		StudentID:      studentID,
		Score:          shared.Points(c.Score),
		PointsPossible: shared.Points(c.PointsPossible),
		Feedback:       c.Feedback,
		GradedBy:       c.GradedBy,
		ActorRole:      role,
		RequestID:      c.RequestID,
	}
	if err := m.Validate(); err != nil {
		return gradebook.Mutation{}, err
	}
	return m, nil
}

// SetGradeResult contains the before/after pair of a committed mutation.
type SetGradeResult struct {
	Before        gradebook.Snapshot
	After         gradebook.Snapshot
	Entry         gradebook.GradebookEntry
	DeltaScore    float64
	DeltaPossible float64
	EventID       string
}

// SetGradeHandler executes SetGradeCommand.
type SetGradeHandler struct {
	store   gradebook.Store
	bus     shared.EventPublisher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSetGradeHandler creates a new SetGradeHandler. bus and m may be nil.
func NewSetGradeHandler(store gradebook.Store, bus shared.EventPublisher, m *metrics.Metrics, logger *slog.Logger) *SetGradeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SetGradeHandler{
		store:   store,
		bus:     bus,
		metrics: m,
		logger:  logger,
	}
}

// Handle runs the mutation. Contention on the same (source, student)
// pair is retried with fresh reads; deltas are always computed inside
// the transaction from freshly-read state, so a retry is safe.
func (h *SetGradeHandler) Handle(ctx context.Context, cmd SetGradeCommand) (*SetGradeResult, error) {
	start := time.Now()

	m, err := cmd.Mutation()
	if err != nil {
		h.countOutcome("validation_error")
		return nil, err
	}

	result, err := retry.DoWithData(ctx, func(ctx context.Context) (*gradebook.MutationResult, error) {
		res, applyErr := h.store.ApplyGrade(ctx, m)
		if applyErr != nil && shared.IsRetryable(applyErr) {
			if h.metrics != nil {
				h.metrics.GradeConflicts.Inc()
			}
			h.logger.Debug("grade transaction conflict, retrying",
				"record_id", m.RecordID(), "course_id", m.CourseID.String())
			return nil, retry.Retryable(applyErr)
		}
		return res, applyErr
	},
		retry.WithMaxAttempts(5),
		retry.WithInitialDelay(25*time.Millisecond),
		retry.WithJitter(0.3),
	)
	if err != nil {
		switch {
		case shared.IsNotFound(err):
			h.countOutcome("not_found")
		case shared.IsRetryable(err):
			h.countOutcome("conflict")
		case shared.IsValidation(err):
			h.countOutcome("validation_error")
		default:
			h.countOutcome("error")
		}
		return nil, err
	}

	h.countOutcome("ok")
	if h.metrics != nil {
		h.metrics.MutationDuration.Observe(time.Since(start).Seconds())
	}

	// Fan-out is best-effort and happens only after commit: a bus
	// failure never rolls back a grade.
	if h.bus != nil && result.Event != nil {
		if pubErr := h.bus.Publish(*result.Event); pubErr != nil {
			h.logger.Warn("failed to publish grade.mutated event",
				"event_id", result.Event.EventID, "error", pubErr)
		}
	}

	h.logger.Info("grade set",
		"course_id", m.CourseID.String(),
		"record_id", m.RecordID(),
		"revision", result.After.Revision.Int(),
		"delta_score", result.DeltaScore.Float64(),
	)

	out := &SetGradeResult{
		Before:        result.Before,
		After:         result.After,
		Entry:         result.Entry,
		DeltaScore:    result.DeltaScore.Float64(),
		DeltaPossible: result.DeltaPossible.Float64(),
	}
	if result.Event != nil {
		out.EventID = result.Event.EventID
	}
	return out, nil
}

func (h *SetGradeHandler) countOutcome(outcome string) {
	if h.metrics != nil {
		h.metrics.GradeMutations.WithLabelValues(outcome).Inc()
	}
}
