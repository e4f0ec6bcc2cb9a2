package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

var testCourse = shared.CourseID("33333333-0000-4000-8000-000000000001")

func submissionInput(suffix string, at time.Time) ledger.EventInput {
	return ledger.EventInput{
		Type:           shared.EventSubmissionReceived,
		CourseID:       testCourse,
		ActorUID:       "student-1",
		ActorRole:      shared.RoleStudent,
		Aggregate:      ledger.Aggregate{Kind: shared.AggregateSubmission, ID: "sub-" + suffix},
		Payload:        map[string]any{"sourceId": suffix},
		IdempotencyKey: ledger.Key(shared.EventSubmissionReceived, testCourse, 1, "assignment", suffix),
		OccurredAt:     at,
	}
}

func TestEventLedger_AppendIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewEventLedger()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first, err := l.Append(ctx, submissionInput("hw1", at))
	require.NoError(t, err)

	// Second emit with the identical key: the stored event comes back
	// unchanged, even when the retry carries a different payload.
	retry := submissionInput("hw1", at.Add(time.Hour))
	retry.Payload = map[string]any{"sourceId": "hw1", "retried": true}
	second, err := l.Append(ctx, retry)
	require.NoError(t, err)

	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, first.At, second.At, "stored occurredAt wins")
	assert.Nil(t, second.Data["retried"], "stored payload wins")
	assert.Equal(t, 1, l.Len(), "exactly one stored event")
}

func TestEventLedger_AppendConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	l := NewEventLedger()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, submissionInput("race", at))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, l.Len())
}

func TestEventLedger_GetByIDAndKey(t *testing.T) {
	ctx := context.Background()
	l := NewEventLedger()

	stored, err := l.Append(ctx, submissionInput("hw2", time.Now()))
	require.NoError(t, err)

	byID, err := l.GetByID(ctx, stored.EventID)
	require.NoError(t, err)
	assert.Equal(t, stored.IdempotencyKey, byID.IdempotencyKey)

	byKey, err := l.GetByKey(ctx, stored.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, stored.EventID, byKey.EventID)

	_, err = l.GetByID(ctx, "missing")
	assert.True(t, shared.IsNotFound(err))

	_, err = l.GetByKey(ctx, "missing")
	assert.True(t, shared.IsNotFound(err))
}

func TestEventLedger_ListByCourse(t *testing.T) {
	ctx := context.Background()
	l := NewEventLedger()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, submissionInput(fmt.Sprintf("hw-%d", i), base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	// Full snapshot, time-ordered.
	events, err := l.ListByCourse(ctx, testCourse, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].At.Before(events[i-1].At))
	}

	// Since filter.
	events, err = l.ListByCourse(ctx, testCourse, base.Add(3*time.Minute), 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// Limit.
	events, err = l.ListByCourse(ctx, testCourse, time.Time{}, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// Other course: empty.
	events, err = l.ListByCourse(ctx, shared.CourseID("33333333-0000-4000-8000-000000000099"), time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventLedger_SnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	l := NewEventLedger()

	_, err := l.Append(ctx, submissionInput("hw1", time.Now()))
	require.NoError(t, err)

	events, err := l.ListByCourse(ctx, testCourse, time.Time{}, 0)
	require.NoError(t, err)
	events[0].ActorUID = "tampered"

	again, err := l.ListByCourse(ctx, testCourse, time.Time{}, 0)
	require.NoError(t, err)
	assert.Equal(t, "student-1", again[0].ActorUID)
}

func TestEventLedger_CountByType(t *testing.T) {
	ctx := context.Background()
	l := NewEventLedger()
	at := time.Now()

	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, submissionInput(fmt.Sprintf("hw-%d", i), at))
		require.NoError(t, err)
	}
	late := submissionInput("late-1", at)
	late.Type = shared.EventSubmissionLate
	late.IdempotencyKey = ledger.Key(shared.EventSubmissionLate, testCourse, 1, "assignment", "late-1")
	_, err := l.Append(ctx, late)
	require.NoError(t, err)

	counts, err := l.CountByType(ctx, testCourse)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[shared.EventSubmissionReceived])
	assert.Equal(t, 1, counts[shared.EventSubmissionLate])
}
