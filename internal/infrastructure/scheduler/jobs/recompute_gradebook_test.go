package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse-core/internal/domain/gradebook"
	"github.com/classpulse/classpulse-core/internal/domain/insight"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
	"github.com/classpulse/classpulse-core/internal/infrastructure/persistence/memory"
)

var (
	jobCourse  = shared.CourseID("77777777-0000-4000-8000-000000000001")
	jobStudent = shared.StudentID("77777777-0000-4000-8000-000000000002")
)

func newGradedCourse(t *testing.T) (*memory.GradebookStore, *memory.EventLedger) {
	t.Helper()
	eventLedger := memory.NewEventLedger()
	store := memory.NewGradebookStore(eventLedger)

	ctx := context.Background()
	err := store.RegisterSource(ctx, gradebook.GradeSource{
		CourseID:       jobCourse,
		Ref:            shared.SourceRef{Type: shared.SourceQuiz, ID: "q1"},
		Title:          "Quiz 1",
		PointsPossible: 10,
	})
	require.NoError(t, err)

	_, err = store.ApplyGrade(ctx, gradebook.Mutation{
		CourseID:       jobCourse,
		Source:         shared.SourceRef{Type: shared.SourceQuiz, ID: "q1"},
		StudentID:      jobStudent,
		Score:          8,
		PointsPossible: 10,
		GradedBy:       "teacher-1",
		ActorRole:      shared.RoleTeacher,
	})
	require.NoError(t, err)
	return store, eventLedger
}

func TestRecomputeGradebookJob_CleanCourse(t *testing.T) {
	store, eventLedger := newGradedCourse(t)
	before := eventLedger.Len()

	cfg := DefaultRecomputeGradebookConfig()
	cfg.Courses = []shared.CourseID{jobCourse}
	job := NewRecomputeGradebookJob(store, eventLedger, nil, nil, nil, cfg)

	require.NoError(t, job.Run(context.Background()))

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.CoursesChecked)
	assert.Equal(t, 1, stats.StudentsChecked)
	assert.Equal(t, 0, stats.DriftedStudents)
	assert.Equal(t, 0, stats.EventsAppended)
	assert.Equal(t, before, eventLedger.Len(), "no drift, no report")
}

func TestRecomputeGradebookJob_ReportsDrift(t *testing.T) {
	store, eventLedger := newGradedCourse(t)
	store.CorruptEntry(jobCourse, jobStudent, 15, 10)
	before := eventLedger.Len()

	cfg := DefaultRecomputeGradebookConfig()
	cfg.Courses = []shared.CourseID{jobCourse}
	job := NewRecomputeGradebookJob(store, eventLedger, nil, nil, nil, cfg)

	require.NoError(t, job.Run(context.Background()))

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.DriftedStudents)
	assert.Equal(t, 1, stats.EventsAppended)
	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, before+1, eventLedger.Len())

	events, err := eventLedger.ListByCourse(context.Background(), jobCourse, time.Time{}, 0)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, shared.EventRecomputeCompleted, last.Type)
	assert.Equal(t, jobStudent.String(), last.Aggregate.ID)
	assert.Equal(t, stats.RunID, last.Data["runId"])
	assert.Equal(t, 7.0, last.Data["deltaScore"])

	// A corrupted entry is reported, never patched.
	entries, err := store.ListEntries(context.Background(), jobCourse)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, shared.Points(15), entries[0].TotalScore)
}

func TestRecomputeGradebookJob_CleanPassClearsDrift(t *testing.T) {
	ctx := context.Background()
	store, eventLedger := newGradedCourse(t)

	cfg := DefaultRecomputeGradebookConfig()
	cfg.Courses = []shared.CourseID{jobCourse}
	job := NewRecomputeGradebookJob(store, eventLedger, nil, nil, nil, cfg)

	// First pass sees a corrupted entry and reports drift.
	store.CorruptEntry(jobCourse, jobStudent, 15, 10)
	require.NoError(t, job.Run(ctx))
	require.Equal(t, 1, job.LastRunStats().DriftedStudents)

	// The entry is repaired out of band; the next pass closes the flag
	// with a zero-delta recompute event.
	store.CorruptEntry(jobCourse, jobStudent, 8, 10)
	require.NoError(t, job.Run(ctx))

	stats := job.LastRunStats()
	assert.Equal(t, 0, stats.DriftedStudents)
	assert.Equal(t, 1, stats.ClearedStudents)
	assert.Equal(t, 1, stats.EventsAppended)

	events, err := eventLedger.ListByCourse(ctx, jobCourse, time.Time{}, 0)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, shared.EventRecomputeCompleted, last.Type)
	assert.Equal(t, 0.0, last.Data["deltaScore"])
	assert.Equal(t, 0.0, last.Data["deltaPossible"])

	// The zero-delta event supersedes the drift report: the detector
	// keeps only the latest recompute per student.
	insights := insight.NewAnalyzer(insight.NewGradebookDriftDetector()).Analyze(events, time.Now())
	assert.Empty(t, insights)

	// A third clean pass appends nothing: the flag is already closed.
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 0, job.LastRunStats().EventsAppended)
}

func TestRecomputeGradebookJob_NoCoursesConfigured(t *testing.T) {
	store, eventLedger := newGradedCourse(t)

	job := NewRecomputeGradebookJob(store, eventLedger, nil, nil, nil, DefaultRecomputeGradebookConfig())
	require.NoError(t, job.Run(context.Background()))

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 0, stats.CoursesChecked)
}
