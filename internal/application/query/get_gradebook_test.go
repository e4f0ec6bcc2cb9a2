package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse-core/internal/domain/gradebook"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
	"github.com/classpulse/classpulse-core/internal/infrastructure/persistence/memory"
)

const (
	qryCourse   = "99999999-0000-4000-8000-000000000001"
	qryStudentA = "99999999-0000-4000-8000-00000000000a"
	qryStudentB = "99999999-0000-4000-8000-00000000000b"
)

func newGradedStore(t *testing.T) *memory.GradebookStore {
	t.Helper()
	ctx := context.Background()
	store := memory.NewGradebookStore(memory.NewEventLedger())

	err := store.RegisterSource(ctx, gradebook.GradeSource{
		CourseID:       shared.CourseID(qryCourse),
		Ref:            shared.SourceRef{Type: shared.SourceQuiz, ID: "q1"},
		Title:          "Quiz 1",
		PointsPossible: 10,
	})
	require.NoError(t, err)

	for student, score := range map[string]shared.Points{qryStudentA: 8, qryStudentB: 6} {
		_, err = store.ApplyGrade(ctx, gradebook.Mutation{
			CourseID:       shared.CourseID(qryCourse),
			Source:         shared.SourceRef{Type: shared.SourceQuiz, ID: "q1"},
			StudentID:      shared.StudentID(student),
			Score:          score,
			PointsPossible: 10,
			GradedBy:       "teacher-1",
			ActorRole:      shared.RoleTeacher,
		})
		require.NoError(t, err)
	}
	return store
}

func TestGetGradebook_CourseWide(t *testing.T) {
	h := NewGetGradebookHandler(newGradedStore(t))

	res, err := h.Handle(context.Background(), GetGradebookQuery{CourseID: qryCourse})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	assert.Equal(t, qryStudentA, res.Rows[0].StudentID, "rows sorted by student")
	assert.Equal(t, 8.0, res.Rows[0].TotalScore)
	assert.Equal(t, 80.0, res.Rows[0].Percent)
	assert.Equal(t, qryStudentB, res.Rows[1].StudentID)
	assert.Equal(t, 60.0, res.Rows[1].Percent)
	assert.Nil(t, res.Rows[0].Records, "records only on request")
}

func TestGetGradebook_SingleStudentWithRecords(t *testing.T) {
	h := NewGetGradebookHandler(newGradedStore(t))

	res, err := h.Handle(context.Background(), GetGradebookQuery{
		CourseID:       qryCourse,
		StudentID:      qryStudentA,
		IncludeRecords: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Len(t, res.Rows[0].Records, 1)

	rec := res.Rows[0].Records[0]
	assert.Equal(t, "quiz", rec.SourceType)
	assert.Equal(t, "q1", rec.SourceID)
	assert.Equal(t, 8.0, rec.Score)
	assert.Equal(t, 1, rec.Revision)
}

func TestGetGradebook_UngradedStudentIsZeroRow(t *testing.T) {
	h := NewGetGradebookHandler(newGradedStore(t))

	res, err := h.Handle(context.Background(), GetGradebookQuery{
		CourseID:  qryCourse,
		StudentID: "99999999-0000-4000-8000-00000000000c",
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Zero(t, res.Rows[0].TotalScore)
	assert.Zero(t, res.Rows[0].TotalPossible)
	assert.Zero(t, res.Rows[0].Percent)
}

func TestGetGradebook_InvalidCourseID(t *testing.T) {
	h := NewGetGradebookHandler(newGradedStore(t))

	_, err := h.Handle(context.Background(), GetGradebookQuery{CourseID: "nope"})
	assert.True(t, shared.IsValidation(err))
}
