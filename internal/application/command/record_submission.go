package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/classpulse/classpulse-core/internal/domain/gradebook"
	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD SUBMISSION COMMAND
// Every assignment hand-in flows through here. A submission past the
// source's due date is recorded as submission.late, the raw material for
// late-pattern detection.
// ══════════════════════════════════════════════════════════════════════════════

// RecordSubmissionCommand records a student's assignment hand-in.
type RecordSubmissionCommand struct {
	CourseID   string
	SourceType string
	SourceID   string
	StudentID  string

	// SubmittedAt defaults to now when zero.
	SubmittedAt time.Time
	RequestID   string
}

// SubmissionResult reports the ledger outcome of a submission.
type SubmissionResult struct {
	EventID string
	Late    bool
	// LatenessMinutes is zero for on-time submissions.
	LatenessMinutes float64
}

// RecordSubmissionHandler executes RecordSubmissionCommand.
type RecordSubmissionHandler struct {
	store  gradebook.Store
	events ledger.Writer
	bus    shared.EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

// NewRecordSubmissionHandler creates a new RecordSubmissionHandler.
func NewRecordSubmissionHandler(store gradebook.Store, events ledger.Writer, bus shared.EventPublisher, logger *slog.Logger) *RecordSubmissionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordSubmissionHandler{
		store:  store,
		events: events,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// Handle validates the source, classifies the submission against its due
// date, and appends the matching event. Resubmissions of the same source
// dedupe onto the first recorded event.
func (h *RecordSubmissionHandler) Handle(ctx context.Context, cmd RecordSubmissionCommand) (*SubmissionResult, error) {
	courseID, err := shared.NewCourseID(cmd.CourseID)
	if err != nil {
		return nil, err
	}
	studentID, err := shared.NewStudentID(cmd.StudentID)
	if err != nil {
		return nil, err
	}
	ref, err := shared.NewSourceRef(cmd.SourceType, cmd.SourceID)
	if err != nil {
		return nil, err
	}

	src, err := h.store.GetSource(ctx, courseID, ref)
	if err != nil {
		return nil, err
	}

	submittedAt := cmd.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = h.now()
	}

	eventType := shared.EventSubmissionReceived
	lateness := time.Duration(0)
	if !src.DueAt.IsZero() && submittedAt.After(src.DueAt) {
		eventType = shared.EventSubmissionLate
		lateness = submittedAt.Sub(src.DueAt)
	}

	payload := map[string]any{
		"studentId":  studentID.String(),
		"sourceType": string(ref.Type),
		"sourceId":   ref.ID,
	}
	if lateness > 0 {
		payload["latenessMinutes"] = lateness.Minutes()
	}

	ev, err := h.events.Append(ctx, ledger.EventInput{
		Type:      eventType,
		CourseID:  courseID,
		ActorUID:  studentID.String(),
		ActorRole: shared.RoleStudent,
		Aggregate: ledger.Aggregate{
			Kind: shared.AggregateSubmission,
			ID:   ref.RecordID(studentID),
		},
		Payload:        payload,
		IdempotencyKey: ledger.Key(eventType, courseID, 1, string(ref.Type), ref.ID, studentID.String()),
		RequestID:      cmd.RequestID,
		OccurredAt:     submittedAt,
	})
	if err != nil {
		return nil, err
	}

	if h.bus != nil {
		if pubErr := h.bus.Publish(*ev); pubErr != nil {
			h.logger.Warn("failed to publish submission event", "event_id", ev.EventID, "error", pubErr)
		}
	}

	if lateness > 0 {
		h.logger.Info("late submission recorded",
			"course_id", courseID.String(),
			"student_id", studentID.String(),
			"source", ref.RecordID(studentID),
			"lateness_minutes", lateness.Minutes(),
		)
	}

	return &SubmissionResult{
		EventID:         ev.EventID,
		Late:            lateness > 0,
		LatenessMinutes: lateness.Minutes(),
	}, nil
}
