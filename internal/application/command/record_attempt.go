// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/classpulse/classpulse-core/internal/domain/gradebook"
	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ATTEMPT COMMANDS
// The test-attempt lifecycle ledger: one event on start, one on submit.
// The analyzer's burst and drop-off detectors feed exclusively on these.
// ══════════════════════════════════════════════════════════════════════════════

// StartAttemptCommand records that a student opened a timed test.
type StartAttemptCommand struct {
	CourseID  string
	TestID    string
	StudentID string

	// AttemptID identifies the attempt across start and submit. When
	// empty a new one is generated.
	AttemptID string

	// StartedAt defaults to now when zero.
	StartedAt time.Time
	RequestID string
}

// SubmitAttemptCommand records that a student submitted an attempt.
type SubmitAttemptCommand struct {
	CourseID  string
	TestID    string
	StudentID string
	AttemptID string

	// SubmittedAt defaults to now when zero.
	SubmittedAt time.Time
	RequestID   string
}

// AttemptResult reports the ledger outcome of an attempt operation.
type AttemptResult struct {
	AttemptID string
	EventID   string
	// Late marks a submit that landed past the allotted duration.
	Late bool
}

// RecordAttemptHandler executes the attempt lifecycle commands.
type RecordAttemptHandler struct {
	store  gradebook.Store
	events ledger.Ledger
	bus    shared.EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

// NewRecordAttemptHandler creates a new RecordAttemptHandler. bus may be nil.
func NewRecordAttemptHandler(store gradebook.Store, events ledger.Ledger, bus shared.EventPublisher, logger *slog.Logger) *RecordAttemptHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordAttemptHandler{
		store:  store,
		events: events,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// HandleStart validates the test source and appends test.attempt.started.
func (h *RecordAttemptHandler) HandleStart(ctx context.Context, cmd StartAttemptCommand) (*AttemptResult, error) {
	courseID, err := shared.NewCourseID(cmd.CourseID)
	if err != nil {
		return nil, err
	}
	studentID, err := shared.NewStudentID(cmd.StudentID)
	if err != nil {
		return nil, err
	}
	ref, err := shared.NewSourceRef(string(shared.SourceTest), cmd.TestID)
	if err != nil {
		return nil, err
	}

	src, err := h.store.GetSource(ctx, courseID, ref)
	if err != nil {
		return nil, err
	}

	attemptID := cmd.AttemptID
	if attemptID == "" {
		attemptID = uuid.NewString()
	}
	startedAt := cmd.StartedAt
	if startedAt.IsZero() {
		startedAt = h.now()
	}

	payload := map[string]any{
		"attemptId": attemptID,
		"testId":    cmd.TestID,
		"studentId": studentID.String(),
	}
	if src.Allotted > 0 {
		payload["durationMinutes"] = src.Allotted.Minutes()
	}

	ev, err := h.events.Append(ctx, ledger.EventInput{
		Type:      shared.EventTestAttemptStarted,
		CourseID:  courseID,
		ActorUID:  studentID.String(),
		ActorRole: shared.RoleStudent,
		Aggregate: ledger.Aggregate{
			Kind: shared.AggregateTestAttempt,
			ID:   attemptID,
		},
		Payload:        payload,
		IdempotencyKey: ledger.Key(shared.EventTestAttemptStarted, courseID, 1, cmd.TestID, attemptID),
		RequestID:      cmd.RequestID,
		OccurredAt:     startedAt,
	})
	if err != nil {
		return nil, err
	}

	h.publish(*ev)
	return &AttemptResult{AttemptID: attemptID, EventID: ev.EventID}, nil
}

// HandleSubmit appends test.attempt.submitted for a previously started
// attempt. Submitting twice dedupes onto the first event; submitting an
// attempt that was never started is rejected.
func (h *RecordAttemptHandler) HandleSubmit(ctx context.Context, cmd SubmitAttemptCommand) (*AttemptResult, error) {
	courseID, err := shared.NewCourseID(cmd.CourseID)
	if err != nil {
		return nil, err
	}
	studentID, err := shared.NewStudentID(cmd.StudentID)
	if err != nil {
		return nil, err
	}
	if cmd.AttemptID == "" {
		return nil, shared.NewDomainError("attempt", "Submit", shared.ErrEmptyValue, "attempt ID cannot be empty")
	}

	startKey := ledger.Key(shared.EventTestAttemptStarted, courseID, 1, cmd.TestID, cmd.AttemptID)
	started, err := h.events.GetByKey(ctx, startKey)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.ErrAttemptNotFound
		}
		return nil, err
	}

	submittedAt := cmd.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = h.now()
	}

	elapsed := submittedAt.Sub(started.At)
	late := false
	if minutes, ok := started.Data["durationMinutes"].(float64); ok && minutes > 0 {
		late = elapsed > time.Duration(minutes)*time.Minute
	}

	ev, err := h.events.Append(ctx, ledger.EventInput{
		Type:      shared.EventTestAttemptSubmitted,
		CourseID:  courseID,
		ActorUID:  studentID.String(),
		ActorRole: shared.RoleStudent,
		Aggregate: ledger.Aggregate{
			Kind: shared.AggregateTestAttempt,
			ID:   cmd.AttemptID,
		},
		Payload: map[string]any{
			"attemptId":      cmd.AttemptID,
			"testId":         cmd.TestID,
			"studentId":      studentID.String(),
			"elapsedSeconds": elapsed.Seconds(),
			"late":           late,
		},
		IdempotencyKey: ledger.Key(shared.EventTestAttemptSubmitted, courseID, 1, cmd.TestID, cmd.AttemptID),
		RequestID:      cmd.RequestID,
		OccurredAt:     submittedAt,
	})
	if err != nil {
		return nil, err
	}

	h.publish(*ev)
	if late {
		h.logger.Info("late test attempt submission",
			"course_id", courseID.String(),
			"attempt_id", cmd.AttemptID,
			"elapsed", fmt.Sprintf("%.0fs", elapsed.Seconds()),
		)
	}
	return &AttemptResult{AttemptID: cmd.AttemptID, EventID: ev.EventID, Late: late}, nil
}

func (h *RecordAttemptHandler) publish(ev ledger.DomainEvent) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(ev); err != nil {
		h.logger.Warn("failed to publish attempt event", "event_id", ev.EventID, "error", err)
	}
}
