package insight

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

func TestAttemptDropoff_ExpiredUnsubmittedAttemptsFire(t *testing.T) {
	// Four attempts started 3h ago with 30 minutes allotted; one submitted.
	var events []ledger.DomainEvent
	for i := 0; i < 4; i++ {
		events = append(events, attemptStartEvent(courseA, fmt.Sprintf("a-%d", i), analysisNow.Add(-3*time.Hour), 30))
	}
	events = append(events, attemptSubmitEvent(courseA, "a-0", analysisNow.Add(-3*time.Hour).Add(20*time.Minute)))

	insights := NewAttemptDropoffDetector().Detect(Window{Events: events, Now: analysisNow})
	require.Len(t, insights, 1)

	ins := insights[0]
	assert.Equal(t, TypeAttemptDropoff, ins.InsightType)
	assert.Equal(t, ScopeCourse, ins.Scope.Type)
	assert.Len(t, ins.EvidenceRefs, 3, "only the three abandoned attempts cited")
	assert.InDelta(t, 0.75, ins.Confidence, 1e-9, "confidence equals the drop-off rate")
}

func TestAttemptDropoff_InProgressAttemptsDoNotCount(t *testing.T) {
	// Started ten minutes ago with an hour allotted: still in progress.
	var events []ledger.DomainEvent
	for i := 0; i < 5; i++ {
		events = append(events, attemptStartEvent(courseA, fmt.Sprintf("a-%d", i), analysisNow.Add(-10*time.Minute), 60))
	}

	insights := NewAttemptDropoffDetector().Detect(Window{Events: events, Now: analysisNow})
	assert.Empty(t, insights)
}

func TestAttemptDropoff_BelowMinimumSampleDoesNotFire(t *testing.T) {
	// Two expired unsubmitted attempts: rate 1.0 but too few to judge.
	events := []ledger.DomainEvent{
		attemptStartEvent(courseA, "a-0", analysisNow.Add(-2*time.Hour), 30),
		attemptStartEvent(courseA, "a-1", analysisNow.Add(-2*time.Hour), 30),
	}

	insights := NewAttemptDropoffDetector().Detect(Window{Events: events, Now: analysisNow})
	assert.Empty(t, insights)
}

func TestAttemptDropoff_BelowRateThresholdDoesNotFire(t *testing.T) {
	// One dropped of ten expired: 10% is under the threshold.
	var events []ledger.DomainEvent
	for i := 0; i < 10; i++ {
		events = append(events, attemptStartEvent(courseA, fmt.Sprintf("a-%d", i), analysisNow.Add(-2*time.Hour), 30))
		if i > 0 {
			events = append(events, attemptSubmitEvent(courseA, fmt.Sprintf("a-%d", i), analysisNow.Add(-2*time.Hour).Add(25*time.Minute)))
		}
	}

	insights := NewAttemptDropoffDetector().Detect(Window{Events: events, Now: analysisNow})
	assert.Empty(t, insights)
}

func TestAttemptDropoff_DefaultDurationAppliesWhenMissing(t *testing.T) {
	// No durationMinutes on the starts: the default 60 minutes applies,
	// so attempts started 2h ago are expired.
	var events []ledger.DomainEvent
	for i := 0; i < 3; i++ {
		events = append(events, attemptStartEvent(courseA, fmt.Sprintf("a-%d", i), analysisNow.Add(-2*time.Hour), 0))
	}

	insights := NewAttemptDropoffDetector().Detect(Window{Events: events, Now: analysisNow})
	require.Len(t, insights, 1)
	assert.Equal(t, 1.0, insights[0].Confidence)
}

func TestAttemptDropoff_SkipsStartsWithoutAttemptID(t *testing.T) {
	var events []ledger.DomainEvent
	for i := 0; i < 5; i++ {
		events = append(events, event(shared.EventTestAttemptStarted, courseA, analysisNow.Add(-2*time.Hour), map[string]any{}))
	}

	insights := NewAttemptDropoffDetector().Detect(Window{Events: events, Now: analysisNow})
	assert.Empty(t, insights)
}
