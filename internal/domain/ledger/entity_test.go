package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

const testCourseID = shared.CourseID("7ed99bd0-87b2-4dbb-a97b-596c3f29c49b")

func TestKey_Format(t *testing.T) {
	key := Key(shared.EventGradeMutated, testCourseID, 3, "quiz_q1_student1")
	assert.Equal(t, "grade.mutated:7ed99bd0-87b2-4dbb-a97b-596c3f29c49b:quiz_q1_student1:v3", key)

	key = Key(shared.EventTestAttemptStarted, testCourseID, 1, "test-1", "attempt-9")
	assert.Equal(t, "test.attempt.started:7ed99bd0-87b2-4dbb-a97b-596c3f29c49b:test-1:attempt-9:v1", key)
}

func TestEventIDFromKey_Deterministic(t *testing.T) {
	a := EventIDFromKey("grade.mutated:course:rec:v1")
	b := EventIDFromKey("grade.mutated:course:rec:v1")
	c := EventIDFromKey("grade.mutated:course:rec:v2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, EventIDLength)
}

func TestNewDomainEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := EventInput{
		Type:           shared.EventGradeMutated,
		CourseID:       testCourseID,
		ActorUID:       "teacher-1",
		ActorRole:      shared.RoleTeacher,
		Aggregate:      Aggregate{Kind: shared.AggregateGradeRecord, ID: "quiz_q1_s1"},
		Payload:        map[string]any{"deltaScore": 5.0},
		IdempotencyKey: Key(shared.EventGradeMutated, testCourseID, 1, "quiz_q1_s1"),
	}

	ev, err := NewDomainEvent(in, now)
	require.NoError(t, err)

	assert.Equal(t, EventIDFromKey(in.IdempotencyKey), ev.EventID)
	assert.Equal(t, now, ev.At, "occurredAt defaults to now")
	assert.Equal(t, shared.RoleTeacher, ev.ActorRole)
	assert.Equal(t, 5.0, ev.Data["deltaScore"])

	explicit := in
	explicit.OccurredAt = now.Add(-time.Hour)
	ev, err = NewDomainEvent(explicit, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), ev.At)
}

func TestNewDomainEvent_Validation(t *testing.T) {
	now := time.Now()
	valid := EventInput{
		Type:           shared.EventGradeMutated,
		CourseID:       testCourseID,
		Aggregate:      Aggregate{Kind: shared.AggregateGradeRecord, ID: "rec-1"},
		IdempotencyKey: "grade.mutated:c:rec-1:v1",
	}

	cases := []struct {
		name    string
		mutate  func(in *EventInput)
		wantErr error
	}{
		{
			name:    "empty idempotency key",
			mutate:  func(in *EventInput) { in.IdempotencyKey = "  " },
			wantErr: shared.ErrEmptyIdempotencyKey,
		},
		{
			name:    "empty event type",
			mutate:  func(in *EventInput) { in.Type = "" },
			wantErr: shared.ErrEmptyEventType,
		},
		{
			name:    "empty course",
			mutate:  func(in *EventInput) { in.CourseID = "" },
			wantErr: shared.ErrEmptyValue,
		},
		{
			name:    "empty aggregate ID",
			mutate:  func(in *EventInput) { in.Aggregate.ID = "" },
			wantErr: shared.ErrEmptyValue,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			tc.mutate(&in)
			_, err := NewDomainEvent(in, now)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestSortEvents(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []DomainEvent{
		{EventID: "bb", At: base.Add(time.Minute)},
		{EventID: "aa", At: base.Add(time.Minute)},
		{EventID: "zz", At: base},
	}

	SortEvents(events)

	assert.Equal(t, "zz", events[0].EventID, "earliest first")
	assert.Equal(t, "aa", events[1].EventID, "ties broken by event ID")
	assert.Equal(t, "bb", events[2].EventID)
}
