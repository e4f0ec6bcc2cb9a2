package insight

import (
	"fmt"
	"time"

	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// Burst-density tuning. Fixed reference constants; overridable per
// detector instance, never silently retuned.
const (
	// DefaultBurstWindow is the interval attempt starts are clustered
	// within.
	DefaultBurstWindow = time.Hour

	// DefaultBurstThreshold is the attempt-start count inside one window
	// above which the burst fires.
	DefaultBurstThreshold = 12
)

// AttemptBurstDetector flags unusually dense clusters of test-attempt
// starts. Course scope: clustered starts predict load contention
// independent of any one student.
type AttemptBurstDetector struct {
	Window    time.Duration
	Threshold int
}

// NewAttemptBurstDetector creates the detector with reference defaults.
func NewAttemptBurstDetector() *AttemptBurstDetector {
	return &AttemptBurstDetector{
		Window:    DefaultBurstWindow,
		Threshold: DefaultBurstThreshold,
	}
}

// Name implements Detector.
func (d *AttemptBurstDetector) Name() string {
	return string(TypeAttemptBurst)
}

// Detect implements Detector.
func (d *AttemptBurstDetector) Detect(w Window) []Insight {
	byCourse := eventsByCourse(w.Events)
	var insights []Insight
	for _, courseID := range sortedCourses(byCourse) {
		var starts []ledger.DomainEvent
		for _, e := range byCourse[courseID] {
			if e.Type == shared.EventTestAttemptStarted && !e.At.After(w.Now) {
				starts = append(starts, e)
			}
		}
		if len(starts) < d.Threshold {
			continue
		}

		// Snapshot is time-ordered; slide a window over the starts and
		// keep the densest one.
		bestLo, bestHi := 0, 0
		lo := 0
		for hi := range starts {
			for starts[hi].At.Sub(starts[lo].At) > d.Window {
				lo++
			}
			if hi-lo > bestHi-bestLo {
				bestLo, bestHi = lo, hi
			}
		}

		count := bestHi - bestLo + 1
		if count < d.Threshold {
			continue
		}

		refs := make([]string, 0, count)
		for _, e := range starts[bestLo : bestHi+1] {
			refs = append(refs, e.EventID)
		}

		conf := 0.5 * float64(count) / float64(d.Threshold)

		insights = append(insights, Insight{
			InsightType: TypeAttemptBurst,
			Scope:       CourseScope(courseID),
			WhyGenerated: fmt.Sprintf("%d test attempts started within a %s window",
				count, d.Window),
			EvidenceRefs:           refs,
			Confidence:             clampConfidence(conf),
			InvalidationConditions: fmt.Sprintf("attempt-start rate staying below %d per %s for the rest of the day", d.Threshold, d.Window),
		})
	}
	return insights
}
