// Package command contains write operations (CQRS - Commands).
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
// REGISTER SOURCE COMMAND
// Declares one gradable piece of work. SetGrade refuses to grade a
// source that was never registered.
// ══════════════════════════════════════════════════════════════════════════════

// RegisterSourceCommand contains the data to register a grade source.
type RegisterSourceCommand struct {
	CourseID       string
	SourceType     string
	SourceID       string
	Title          string
	PointsPossible float64

	// DueAt is the submission deadline (zero = none).
	DueAt time.Time

	// AllottedMinutes is the allowed attempt duration for timed tests.
	AllottedMinutes int

	// RegisteredBy is the UID of the teacher registering the source.
	RegisteredBy string
	RequestID    string
}

// RegisterSourceHandler executes RegisterSourceCommand.
type RegisterSourceHandler struct {
	store  gradebook.Store
	events ledger.Writer
	logger *slog.Logger
}

// NewRegisterSourceHandler creates a new RegisterSourceHandler.
func NewRegisterSourceHandler(store gradebook.Store, events ledger.Writer, logger *slog.Logger) *RegisterSourceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegisterSourceHandler{store: store, events: events, logger: logger}
}

// Handle validates and persists the source definition, then records the
// registration in the ledger.
func (h *RegisterSourceHandler) Handle(ctx context.Context, cmd RegisterSourceCommand) (*gradebook.GradeSource, error) {
	courseID, err := shared.NewCourseID(cmd.CourseID)
	if err != nil {
		return nil, err
	}
	ref, err := shared.NewSourceRef(cmd.SourceType, cmd.SourceID)
	if err != nil {
		return nil, err
	}

	src := gradebook.GradeSource{
		CourseID:       courseID,
		Ref:            ref,
		Title:          cmd.Title,
		PointsPossible: shared.Points(cmd.PointsPossible),
		DueAt:          cmd.DueAt,
		Allotted:       time.Duration(cmd.AllottedMinutes) * time.Minute,
		Version:        1,
		CreatedAt:      time.Now().UTC(),
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}

	if err := h.store.RegisterSource(ctx, src); err != nil {
		return nil, err
	}

	_, err = h.events.Append(ctx, ledger.EventInput{
		Type:      shared.EventSourceRegistered,
		CourseID:  courseID,
		ActorUID:  cmd.RegisteredBy,
		ActorRole: shared.RoleTeacher,
		Aggregate: ledger.Aggregate{
			Kind:    shared.AggregateCourse,
			ID:      courseID.String(),
			Version: src.Version,
		},
		Payload: map[string]any{
			"sourceType":     ref.Type.String(),
			"sourceId":       ref.ID,
			"title":          cmd.Title,
			"pointsPossible": cmd.PointsPossible,
		},
		IdempotencyKey: ledger.Key(shared.EventSourceRegistered, courseID, src.Version, ref.Type.String(), ref.ID),
		RequestID:      cmd.RequestID,
	})
	if err != nil {
		// The definition is persisted; a failed registration event is
		// logged and left for the next reconcile rather than unwinding
		// the source.
		h.logger.Warn("failed to record source registration event",
			"course_id", courseID.String(), "source", ref.Key(), "error", err)
	}

	return &src, nil
}
