package insight

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

var (
	courseA = shared.CourseID("11111111-0000-4000-8000-000000000001")
	courseB = shared.CourseID("11111111-0000-4000-8000-000000000002")

	studentA = shared.StudentID("22222222-0000-4000-8000-000000000001")
	studentB = shared.StudentID("22222222-0000-4000-8000-000000000002")

	analysisNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
)

// event builds a snapshot entry with a unique ID derived from its key.
func event(eventType shared.EventType, courseID shared.CourseID, at time.Time, payload map[string]any) ledger.DomainEvent {
	key := fmt.Sprintf("%s:%s:%d:%v", eventType, courseID, at.UnixNano(), payload)
	return ledger.DomainEvent{
		EventID:        ledger.EventIDFromKey(key),
		Type:           eventType,
		CourseID:       courseID,
		ActorRole:      shared.RoleStudent,
		Aggregate:      ledger.Aggregate{Kind: shared.AggregateCourse, ID: courseID.String()},
		Data:           payload,
		IdempotencyKey: key,
		At:             at,
	}
}

func lateEvent(courseID shared.CourseID, studentID shared.StudentID, at time.Time) ledger.DomainEvent {
	return event(shared.EventSubmissionLate, courseID, at, map[string]any{
		"studentId": studentID.String(),
	})
}

func attemptStartEvent(courseID shared.CourseID, attemptID string, at time.Time, durationMinutes float64) ledger.DomainEvent {
	payload := map[string]any{"attemptId": attemptID}
	if durationMinutes > 0 {
		payload["durationMinutes"] = durationMinutes
	}
	return event(shared.EventTestAttemptStarted, courseID, at, payload)
}

func attemptSubmitEvent(courseID shared.CourseID, attemptID string, at time.Time) ledger.DomainEvent {
	return event(shared.EventTestAttemptSubmitted, courseID, at, map[string]any{
		"attemptId": attemptID,
	})
}

func recomputeEvent(courseID shared.CourseID, studentID shared.StudentID, at time.Time, deltaScore, deltaPossible float64) ledger.DomainEvent {
	return event(shared.EventRecomputeCompleted, courseID, at, map[string]any{
		"studentId":     studentID.String(),
		"deltaScore":    deltaScore,
		"deltaPossible": deltaPossible,
	})
}

func TestAnalyzer_Deterministic(t *testing.T) {
	// A snapshot that trips every detector at once.
	var events []ledger.DomainEvent
	for i := 0; i < 3; i++ {
		events = append(events, lateEvent(courseA, studentA, analysisNow.Add(-time.Duration(i+1)*24*time.Hour)))
	}
	for i := 0; i < 13; i++ {
		events = append(events, attemptStartEvent(courseA, fmt.Sprintf("burst-%d", i), analysisNow.Add(-time.Duration(i)*time.Minute), 0))
	}
	for i := 0; i < 4; i++ {
		events = append(events, attemptStartEvent(courseB, fmt.Sprintf("drop-%d", i), analysisNow.Add(-3*time.Hour), 30))
	}
	events = append(events, recomputeEvent(courseA, studentB, analysisNow.Add(-time.Hour), 7, 0))

	a := NewAnalyzer()
	first := a.Analyze(events, analysisNow)
	require.NotEmpty(t, first)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)

	// Repeated runs over the same snapshot are byte-identical, even with
	// the input order shuffled.
	for run := 0; run < 5; run++ {
		shuffled := make([]ledger.DomainEvent, len(events))
		copy(shuffled, events)
		for i := range shuffled {
			j := (i * 7) % len(shuffled)
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		}

		again := NewAnalyzer().Analyze(shuffled, analysisNow)
		againJSON, err := json.Marshal(again)
		require.NoError(t, err)
		assert.Equal(t, string(firstJSON), string(againJSON))
	}
}

func TestAnalyzer_DoesNotMutateSnapshot(t *testing.T) {
	events := []ledger.DomainEvent{
		lateEvent(courseA, studentA, analysisNow.Add(-time.Hour)),
		lateEvent(courseA, studentA, analysisNow.Add(-2*time.Hour)),
	}
	firstID := events[0].EventID

	NewAnalyzer().Analyze(events, analysisNow)
	assert.Equal(t, firstID, events[0].EventID, "caller's slice order untouched")
}

func TestAnalyzer_OutputSorted(t *testing.T) {
	var events []ledger.DomainEvent
	// Two user-scope late patterns plus one course-scope burst.
	for _, s := range []shared.StudentID{studentB, studentA} {
		events = append(events,
			lateEvent(courseA, s, analysisNow.Add(-time.Hour)),
			lateEvent(courseA, s, analysisNow.Add(-2*time.Hour)),
		)
	}
	for i := 0; i < 12; i++ {
		events = append(events, attemptStartEvent(courseA, fmt.Sprintf("a-%d", i), analysisNow.Add(-time.Duration(i)*time.Minute), 0))
	}

	insights := NewAnalyzer().Analyze(events, analysisNow)
	require.Len(t, insights, 3)

	assert.Equal(t, TypeLatePattern, insights[0].InsightType)
	assert.Equal(t, studentA, insights[0].Scope.UserID, "user scopes ordered by key")
	assert.Equal(t, studentB, insights[1].Scope.UserID)
	assert.Equal(t, TypeAttemptBurst, insights[2].InsightType)
}

func TestSkippedEvents(t *testing.T) {
	events := []ledger.DomainEvent{
		lateEvent(courseA, studentA, analysisNow),
		{Type: "course.renamed", CourseID: courseA, At: analysisNow},
		{Type: "grade.mutated.v2", CourseID: courseA, At: analysisNow},
	}

	assert.Equal(t, 2, SkippedEvents(events))
	assert.Equal(t, 0, SkippedEvents(nil))
}

func TestAnalyzer_EmptySnapshot(t *testing.T) {
	assert.Empty(t, NewAnalyzer().Analyze(nil, analysisNow))
}

func TestNewAnalyzerWith_EmptySetStaysEmpty(t *testing.T) {
	// A snapshot the default detectors would flag.
	events := []ledger.DomainEvent{
		lateEvent(courseA, studentA, analysisNow.Add(-time.Hour)),
		lateEvent(courseA, studentA, analysisNow.Add(-2*time.Hour)),
		lateEvent(courseA, studentA, analysisNow.Add(-3*time.Hour)),
		recomputeEvent(courseA, studentB, analysisNow.Add(-time.Hour), 7, 0),
	}
	require.NotEmpty(t, NewAnalyzer().Analyze(events, analysisNow))

	// Zero detectors means zero insights, not the default set.
	assert.Empty(t, NewAnalyzerWith(nil).Analyze(events, analysisNow))
	assert.Empty(t, NewAnalyzerWith([]Detector{}).Analyze(events, analysisNow))

	// A subset runs exactly that subset.
	only := NewAnalyzerWith([]Detector{NewGradebookDriftDetector()}).Analyze(events, analysisNow)
	require.Len(t, only, 1)
	assert.Equal(t, TypeGradebookDrift, only[0].InsightType)
}
