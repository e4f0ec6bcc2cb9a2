package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse-core/internal/domain/gradebook"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
	"github.com/classpulse/classpulse-core/internal/infrastructure/persistence/memory"
)

var submissionDue = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

func newSubmissionFixture(t *testing.T) (*RecordSubmissionHandler, *memory.EventLedger) {
	t.Helper()
	eventLedger := memory.NewEventLedger()
	store := memory.NewGradebookStore(eventLedger)
	err := store.RegisterSource(context.Background(), gradebook.GradeSource{
		CourseID:       shared.CourseID(cmdCourse),
		Ref:            shared.SourceRef{Type: shared.SourceAssignment, ID: "hw3"},
		Title:          "Homework 3",
		PointsPossible: 20,
		DueAt:          submissionDue,
	})
	require.NoError(t, err)
	return NewRecordSubmissionHandler(store, eventLedger, nil, nil), eventLedger
}

func submissionCmd(at time.Time) RecordSubmissionCommand {
	return RecordSubmissionCommand{
		CourseID:    cmdCourse,
		SourceType:  "assignment",
		SourceID:    "hw3",
		StudentID:   cmdStudent,
		SubmittedAt: at,
	}
}

func TestRecordSubmission_OnTime(t *testing.T) {
	ctx := context.Background()
	h, eventLedger := newSubmissionFixture(t)

	res, err := h.Handle(ctx, submissionCmd(submissionDue.Add(-2*time.Hour)))
	require.NoError(t, err)
	assert.False(t, res.Late)
	assert.Zero(t, res.LatenessMinutes)

	ev, err := eventLedger.GetByID(ctx, res.EventID)
	require.NoError(t, err)
	assert.Equal(t, shared.EventSubmissionReceived, ev.Type)
	assert.NotContains(t, ev.Data, "latenessMinutes")
}

func TestRecordSubmission_PastDueIsLate(t *testing.T) {
	ctx := context.Background()
	h, eventLedger := newSubmissionFixture(t)

	res, err := h.Handle(ctx, submissionCmd(submissionDue.Add(90*time.Minute)))
	require.NoError(t, err)
	assert.True(t, res.Late)
	assert.InDelta(t, 90.0, res.LatenessMinutes, 0.001)

	ev, err := eventLedger.GetByID(ctx, res.EventID)
	require.NoError(t, err)
	assert.Equal(t, shared.EventSubmissionLate, ev.Type)
	assert.InDelta(t, 90.0, ev.Data["latenessMinutes"], 0.001)
}

func TestRecordSubmission_ResubmitDedupes(t *testing.T) {
	ctx := context.Background()
	h, eventLedger := newSubmissionFixture(t)

	first, err := h.Handle(ctx, submissionCmd(submissionDue.Add(time.Hour)))
	require.NoError(t, err)
	second, err := h.Handle(ctx, submissionCmd(submissionDue.Add(3*time.Hour)))
	require.NoError(t, err)

	assert.Equal(t, first.EventID, second.EventID, "resubmission lands on the first event")
	assert.Equal(t, 1, eventLedger.Len())
}

func TestRecordSubmission_UnknownSource(t *testing.T) {
	ctx := context.Background()
	h, _ := newSubmissionFixture(t)

	cmd := submissionCmd(submissionDue)
	cmd.SourceID = "hw99"
	_, err := h.Handle(ctx, cmd)
	assert.True(t, shared.IsNotFound(err))
}

func TestRecordSubmission_NoDueDateNeverLate(t *testing.T) {
	ctx := context.Background()
	eventLedger := memory.NewEventLedger()
	store := memory.NewGradebookStore(eventLedger)
	err := store.RegisterSource(ctx, gradebook.GradeSource{
		CourseID:       shared.CourseID(cmdCourse),
		Ref:            shared.SourceRef{Type: shared.SourceProject, ID: "capstone"},
		Title:          "Capstone",
		PointsPossible: 100,
	})
	require.NoError(t, err)
	h := NewRecordSubmissionHandler(store, eventLedger, nil, nil)

	res, err := h.Handle(ctx, RecordSubmissionCommand{
		CourseID:    cmdCourse,
		SourceType:  "project",
		SourceID:    "capstone",
		StudentID:   cmdStudent,
		SubmittedAt: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, res.Late)
}
