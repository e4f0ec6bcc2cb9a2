package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse-core/internal/domain/gradebook"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

var (
	gbCourse  = shared.CourseID("44444444-0000-4000-8000-000000000001")
	gbStudent = shared.StudentID("44444444-0000-4000-8000-000000000002")
	gbQuiz    = shared.SourceRef{Type: shared.SourceQuiz, ID: "q1"}
)

func newStoreWithQuiz(t *testing.T) (*GradebookStore, *EventLedger) {
	t.Helper()
	eventLedger := NewEventLedger()
	store := NewGradebookStore(eventLedger)
	err := store.RegisterSource(context.Background(), gradebook.GradeSource{
		CourseID:       gbCourse,
		Ref:            gbQuiz,
		Title:          "Quiz 1",
		PointsPossible: 10,
	})
	require.NoError(t, err)
	return store, eventLedger
}

func quizMutation(score shared.Points) gradebook.Mutation {
	return gradebook.Mutation{
		CourseID:       gbCourse,
		Source:         gbQuiz,
		StudentID:      gbStudent,
		Score:          score,
		PointsPossible: 10,
		GradedBy:       "teacher-1",
		ActorRole:      shared.RoleTeacher,
	}
}

func TestGradebookStore_FirstGrade(t *testing.T) {
	ctx := context.Background()
	store, eventLedger := newStoreWithQuiz(t)

	res, err := store.ApplyGrade(ctx, quizMutation(8))
	require.NoError(t, err)

	assert.False(t, res.Before.Graded, "no prior snapshot")
	assert.True(t, res.After.Graded)
	assert.Equal(t, shared.Revision(1), res.Record.GradeRevision)
	assert.Equal(t, shared.Points(8), res.DeltaScore)
	assert.Equal(t, shared.Points(10), res.DeltaPossible)
	assert.Equal(t, shared.Points(8), res.Entry.TotalScore)
	assert.Equal(t, shared.Points(10), res.Entry.TotalPossible)

	// The grade.mutated event was appended in the same operation.
	require.NotNil(t, res.Event)
	assert.Equal(t, shared.EventGradeMutated, res.Event.Type)
	assert.Equal(t, 1, eventLedger.Len())
}

func TestGradebookStore_RegradeRevisionsAndDeltas(t *testing.T) {
	ctx := context.Background()
	store, eventLedger := newStoreWithQuiz(t)

	scores := []shared.Points{8, 5, 9, 9, 2}
	prev := gradebook.Snapshot{}
	for i, score := range scores {
		res, err := store.ApplyGrade(ctx, quizMutation(score))
		require.NoError(t, err)
		assert.Equal(t, shared.Revision(i+1), res.Record.GradeRevision, "revision strictly +1 per re-grade")

		// Each emitted event carries the before/after pair: before is the
		// previous event's after, after reflects this mutation.
		require.NotNil(t, res.Event)
		before, ok := res.Event.Data["before"].(gradebook.Snapshot)
		require.True(t, ok, "event payload carries a before snapshot")
		after, ok := res.Event.Data["after"].(gradebook.Snapshot)
		require.True(t, ok, "event payload carries an after snapshot")

		assert.Equal(t, prev, before, "before snapshot chains from the prior mutation")
		assert.Equal(t, gradebook.Snapshot{Score: score, Revision: shared.Revision(i + 1), Graded: true}, after)
		prev = after
	}

	// Entry tracks the latest score; possible counted once.
	entry, err := store.GetEntry(ctx, gbCourse, gbStudent)
	require.NoError(t, err)
	assert.Equal(t, shared.Points(2), entry.TotalScore)
	assert.Equal(t, shared.Points(10), entry.TotalPossible)

	// Every revision produced its own ledger event.
	assert.Equal(t, len(scores), eventLedger.Len())
}

func TestGradebookStore_PointsMismatchRejected(t *testing.T) {
	ctx := context.Background()
	store, eventLedger := newStoreWithQuiz(t)

	m := quizMutation(8)
	m.PointsPossible = 20 // stale client
	_, err := store.ApplyGrade(ctx, m)
	assert.ErrorIs(t, err, shared.ErrPointsMismatch)

	// Nothing committed: no record, no entry, no event.
	_, err = store.GetRecord(ctx, gbCourse, m.RecordID())
	assert.True(t, shared.IsNotFound(err))
	_, err = store.GetEntry(ctx, gbCourse, gbStudent)
	assert.True(t, shared.IsNotFound(err))
	assert.Equal(t, 0, eventLedger.Len())
}

func TestGradebookStore_UnknownSourceRejected(t *testing.T) {
	ctx := context.Background()
	store, _ := newStoreWithQuiz(t)

	m := quizMutation(8)
	m.Source = shared.SourceRef{Type: shared.SourceTest, ID: "missing"}
	_, err := store.ApplyGrade(ctx, m)
	assert.ErrorIs(t, err, shared.ErrSourceNotFound)
}

func TestGradebookStore_ValidationBeforeWrite(t *testing.T) {
	ctx := context.Background()
	store, eventLedger := newStoreWithQuiz(t)

	_, err := store.ApplyGrade(ctx, quizMutation(11))
	assert.ErrorIs(t, err, shared.ErrScoreExceedsMax)
	assert.Equal(t, 0, eventLedger.Len())
}

func TestGradebookStore_RegisterSourceBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store, _ := newStoreWithQuiz(t)

	src, err := store.GetSource(ctx, gbCourse, gbQuiz)
	require.NoError(t, err)
	assert.Equal(t, 1, src.Version)

	err = store.RegisterSource(ctx, gradebook.GradeSource{
		CourseID:       gbCourse,
		Ref:            gbQuiz,
		Title:          "Quiz 1 (revised)",
		PointsPossible: 12,
	})
	require.NoError(t, err)

	src, err = store.GetSource(ctx, gbCourse, gbQuiz)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Version)
	assert.Equal(t, shared.Points(12), src.PointsPossible)
}

func TestGradebookStore_RecomputeMatchesLiveTotals(t *testing.T) {
	// Grades applied in any interleaving over distinct (source, student)
	// pairs must leave entries equal to a full recompute.
	ctx := context.Background()
	eventLedger := NewEventLedger()
	store := NewGradebookStore(eventLedger)

	students := []shared.StudentID{
		"44444444-0000-4000-8000-000000000010",
		"44444444-0000-4000-8000-000000000011",
		"44444444-0000-4000-8000-000000000012",
	}
	refs := make([]shared.SourceRef, 4)
	for i := range refs {
		refs[i] = shared.SourceRef{Type: shared.SourceAssignment, ID: fmt.Sprintf("hw-%d", i)}
		require.NoError(t, store.RegisterSource(ctx, gradebook.GradeSource{
			CourseID:       gbCourse,
			Ref:            refs[i],
			PointsPossible: 10,
		}))
	}

	var wg sync.WaitGroup
	for si, student := range students {
		for ri, ref := range refs {
			wg.Add(1)
			go func(student shared.StudentID, ref shared.SourceRef, score shared.Points) {
				defer wg.Done()
				_, err := store.ApplyGrade(ctx, gradebook.Mutation{
					CourseID:       gbCourse,
					Source:         ref,
					StudentID:      student,
					Score:          score,
					PointsPossible: 10,
					GradedBy:       "teacher-1",
					ActorRole:      shared.RoleTeacher,
				})
				assert.NoError(t, err)
			}(student, ref, shared.Points(si+ri+1))
		}
	}
	wg.Wait()

	records, err := store.ListRecordsByCourse(ctx, gbCourse)
	require.NoError(t, err)
	require.Len(t, records, len(students)*len(refs))

	expected := gradebook.RecomputeTotals(records)
	live, err := store.ListEntries(ctx, gbCourse)
	require.NoError(t, err)

	for _, d := range gradebook.CompareTotals(gbCourse, expected, live, time.Now()) {
		assert.False(t, d.HasDrift(), "student %s drifted", d.StudentID)
	}
}

func TestGradebookStore_CorruptEntryProducesDrift(t *testing.T) {
	ctx := context.Background()
	store, _ := newStoreWithQuiz(t)

	_, err := store.ApplyGrade(ctx, quizMutation(8))
	require.NoError(t, err)

	store.CorruptEntry(gbCourse, gbStudent, 15, 10)

	records, err := store.ListRecordsByCourse(ctx, gbCourse)
	require.NoError(t, err)
	live, err := store.ListEntries(ctx, gbCourse)
	require.NoError(t, err)

	reports := gradebook.CompareTotals(gbCourse, gradebook.RecomputeTotals(records), live, time.Now())
	require.Len(t, reports, 1)
	assert.True(t, reports[0].HasDrift())
	assert.Equal(t, shared.Points(7), reports[0].DeltaScore())
}

func TestGradebookStore_MutatedEventIdempotencyKeyPerRevision(t *testing.T) {
	ctx := context.Background()
	store, eventLedger := newStoreWithQuiz(t)

	first, err := store.ApplyGrade(ctx, quizMutation(8))
	require.NoError(t, err)
	second, err := store.ApplyGrade(ctx, quizMutation(9))
	require.NoError(t, err)

	// Distinct revisions yield distinct keys and distinct events.
	assert.NotEqual(t, first.Event.IdempotencyKey, second.Event.IdempotencyKey)
	assert.Equal(t, 2, eventLedger.Len())
}
