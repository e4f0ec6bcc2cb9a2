package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse-core/internal/domain/gradebook"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
	"github.com/classpulse/classpulse-core/internal/infrastructure/persistence/memory"
	"github.com/classpulse/classpulse-core/pkg/metrics"
)

const (
	cmdCourse  = "55555555-0000-4000-8000-000000000001"
	cmdStudent = "55555555-0000-4000-8000-000000000002"
)

func newGradedFixture(t *testing.T) (*memory.GradebookStore, *memory.EventLedger) {
	t.Helper()
	eventLedger := memory.NewEventLedger()
	store := memory.NewGradebookStore(eventLedger)
	err := store.RegisterSource(context.Background(), gradebook.GradeSource{
		CourseID:       shared.CourseID(cmdCourse),
		Ref:            shared.SourceRef{Type: shared.SourceQuiz, ID: "q1"},
		Title:          "Quiz 1",
		PointsPossible: 10,
	})
	require.NoError(t, err)
	return store, eventLedger
}

func setGradeCmd(score float64) SetGradeCommand {
	return SetGradeCommand{
		CourseID:       cmdCourse,
		SourceType:     "quiz",
		SourceID:       "q1",
		StudentID:      cmdStudent,
		Score:          score,
		PointsPossible: 10,
		GradedBy:       "teacher-1",
	}
}

func TestSetGradeHandler_FirstGradeAndRegrade(t *testing.T) {
	ctx := context.Background()
	store, eventLedger := newGradedFixture(t)
	h := NewSetGradeHandler(store, nil, metrics.NewNop(), nil)

	res, err := h.Handle(ctx, setGradeCmd(8))
	require.NoError(t, err)
	assert.False(t, res.Before.Graded)
	assert.Equal(t, shared.Revision(1), res.After.Revision)
	assert.Equal(t, 8.0, res.DeltaScore)
	assert.Equal(t, 10.0, res.DeltaPossible)
	assert.NotEmpty(t, res.EventID)

	res, err = h.Handle(ctx, setGradeCmd(5))
	require.NoError(t, err)
	assert.True(t, res.Before.Graded)
	assert.Equal(t, shared.Revision(1), res.Before.Revision)
	assert.Equal(t, shared.Revision(2), res.After.Revision)
	assert.Equal(t, -3.0, res.DeltaScore)
	assert.Equal(t, 0.0, res.DeltaPossible)

	assert.Equal(t, 2, eventLedger.Len())
}

func TestSetGradeHandler_ValidationRejectedBeforeStore(t *testing.T) {
	ctx := context.Background()
	store, eventLedger := newGradedFixture(t)
	h := NewSetGradeHandler(store, nil, metrics.NewNop(), nil)

	cases := []struct {
		name   string
		mutate func(c *SetGradeCommand)
	}{
		{"bad course ID", func(c *SetGradeCommand) { c.CourseID = "not-a-uuid" }},
		{"bad student ID", func(c *SetGradeCommand) { c.StudentID = "" }},
		{"unknown source type", func(c *SetGradeCommand) { c.SourceType = "exam" }},
		{"score above possible", func(c *SetGradeCommand) { c.Score = 12 }},
		{"negative score", func(c *SetGradeCommand) { c.Score = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := setGradeCmd(8)
			tc.mutate(&cmd)
			_, err := h.Handle(ctx, cmd)
			assert.Error(t, err)
			assert.True(t, shared.IsValidation(err) || shared.IsNotFound(err))
		})
	}

	assert.Equal(t, 0, eventLedger.Len(), "no partial effects")
}

func TestSetGradeHandler_UnknownSource(t *testing.T) {
	ctx := context.Background()
	store, _ := newGradedFixture(t)
	h := NewSetGradeHandler(store, nil, metrics.NewNop(), nil)

	cmd := setGradeCmd(8)
	cmd.SourceID = "never-registered"
	_, err := h.Handle(ctx, cmd)
	assert.True(t, shared.IsNotFound(err))
}

func TestSetGradeHandler_StalePointsRejected(t *testing.T) {
	ctx := context.Background()
	store, _ := newGradedFixture(t)
	h := NewSetGradeHandler(store, nil, metrics.NewNop(), nil)

	cmd := setGradeCmd(8)
	cmd.PointsPossible = 20
	_, err := h.Handle(ctx, cmd)
	assert.ErrorIs(t, err, shared.ErrPointsMismatch)
}

// conflictingStore fails the first n ApplyGrade calls with a write
// conflict, then delegates.
type conflictingStore struct {
	gradebook.Store
	remaining int
}

func (s *conflictingStore) ApplyGrade(ctx context.Context, m gradebook.Mutation) (*gradebook.MutationResult, error) {
	if s.remaining > 0 {
		s.remaining--
		return nil, shared.ErrGradeWriteConflict
	}
	return s.Store.ApplyGrade(ctx, m)
}

func TestSetGradeHandler_RetriesConflicts(t *testing.T) {
	ctx := context.Background()
	store, _ := newGradedFixture(t)
	flaky := &conflictingStore{Store: store, remaining: 2}
	h := NewSetGradeHandler(flaky, nil, metrics.NewNop(), nil)

	res, err := h.Handle(ctx, setGradeCmd(8))
	require.NoError(t, err, "transient conflicts retried with fresh reads")
	assert.Equal(t, shared.Revision(1), res.After.Revision)
	assert.Equal(t, 0, flaky.remaining)
}

func TestSetGradeHandler_SurfacesExhaustedConflicts(t *testing.T) {
	ctx := context.Background()
	store, _ := newGradedFixture(t)
	flaky := &conflictingStore{Store: store, remaining: 100}
	h := NewSetGradeHandler(flaky, nil, metrics.NewNop(), nil)

	_, err := h.Handle(ctx, setGradeCmd(8))
	require.Error(t, err)
	assert.True(t, shared.IsRetryable(err), "caller learns the failure is retryable")
}
