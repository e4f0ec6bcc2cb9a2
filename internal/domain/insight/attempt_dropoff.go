package insight

import (
	"fmt"
	"time"

	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// Drop-off tuning. Fixed reference constants; overridable per detector
// instance, never silently retuned.
const (
	// DefaultDropoffMinAttempts is the minimum number of expired attempts
	// before a rate is considered meaningful.
	DefaultDropoffMinAttempts = 3

	// DefaultDropoffRateThreshold is the unmatched-attempt rate above
	// which the detector fires.
	DefaultDropoffRateThreshold = 0.3

	// DefaultAttemptDuration is assumed when a start event carries no
	// durationMinutes field.
	DefaultAttemptDuration = 60 * time.Minute
)

// AttemptDropoffDetector counts test attempts started with no matching
// submission inside the allotted duration. Only attempts whose deadline
// already passed at analysis time count: an attempt still in progress is
// not a drop-off.
type AttemptDropoffDetector struct {
	MinAttempts     int
	RateThreshold   float64
	DefaultDuration time.Duration
}

// NewAttemptDropoffDetector creates the detector with reference defaults.
func NewAttemptDropoffDetector() *AttemptDropoffDetector {
	return &AttemptDropoffDetector{
		MinAttempts:     DefaultDropoffMinAttempts,
		RateThreshold:   DefaultDropoffRateThreshold,
		DefaultDuration: DefaultAttemptDuration,
	}
}

// Name implements Detector.
func (d *AttemptDropoffDetector) Name() string {
	return string(TypeAttemptDropoff)
}

// Detect implements Detector.
func (d *AttemptDropoffDetector) Detect(w Window) []Insight {
	byCourse := eventsByCourse(w.Events)
	var insights []Insight
	for _, courseID := range sortedCourses(byCourse) {
		submitted := make(map[string]bool)
		for _, e := range byCourse[courseID] {
			if e.Type != shared.EventTestAttemptSubmitted {
				continue
			}
			if id := payloadString(e, "attemptId"); id != "" {
				submitted[id] = true
			}
		}

		var due, dropped int
		var droppedRefs []string
		for _, e := range byCourse[courseID] {
			if e.Type != shared.EventTestAttemptStarted || e.At.After(w.Now) {
				continue
			}
			attemptID := payloadString(e, "attemptId")
			if attemptID == "" {
				continue // malformed start: nothing to match against
			}

			allotted := d.DefaultDuration
			if minutes, ok := payloadFloat(e, "durationMinutes"); ok && minutes > 0 {
				allotted = time.Duration(minutes) * time.Minute
			}
			if w.Now.Before(e.At.Add(allotted)) {
				continue // still inside the allotted duration
			}

			due++
			if !submitted[attemptID] {
				dropped++
				droppedRefs = append(droppedRefs, e.EventID)
			}
		}

		if due < d.MinAttempts || dropped == 0 {
			continue
		}
		rate := float64(dropped) / float64(due)
		if rate < d.RateThreshold {
			continue
		}

		insights = append(insights, Insight{
			InsightType: TypeAttemptDropoff,
			Scope:       CourseScope(courseID),
			WhyGenerated: fmt.Sprintf("%d of %d expired test attempts never submitted (%.0f%% drop-off)",
				dropped, due, rate*100),
			EvidenceRefs:           droppedRefs,
			Confidence:             clampConfidence(rate),
			InvalidationConditions: "submissions arriving for the cited attempts, or the drop-off rate falling below threshold on the next pass",
		})
	}
	return insights
}
