package insight

import (
	"fmt"
	"sort"
	"time"

	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// Late-pattern tuning. Fixed reference constants; overridable per
// detector instance, never silently retuned.
const (
	// DefaultLateRepeatThreshold is the minimum number of late
	// submissions before the pattern fires.
	DefaultLateRepeatThreshold = 2

	// DefaultLateWindow is the trailing window late submissions are
	// counted within.
	DefaultLateWindow = 14 * 24 * time.Hour

	// lateRecencyBonus is added when the most recent late submission is
	// fresh (within lateRecencyHorizon of now).
	lateRecencyBonus   = 0.1
	lateRecencyHorizon = 48 * time.Hour
)

// LatePatternDetector finds students who repeatedly submit late within a
// trailing window. Student scope; confidence rises with count and
// recency.
type LatePatternDetector struct {
	Threshold int
	Window    time.Duration
}

// NewLatePatternDetector creates the detector with reference defaults.
func NewLatePatternDetector() *LatePatternDetector {
	return &LatePatternDetector{
		Threshold: DefaultLateRepeatThreshold,
		Window:    DefaultLateWindow,
	}
}

// Name implements Detector.
func (d *LatePatternDetector) Name() string {
	return string(TypeLatePattern)
}

// Detect implements Detector.
func (d *LatePatternDetector) Detect(w Window) []Insight {
	cutoff := w.Now.Add(-d.Window)

	type lateGroup struct {
		events []ledger.DomainEvent
	}

	byCourse := eventsByCourse(w.Events)
	var insights []Insight
	for _, courseID := range sortedCourses(byCourse) {
		groups := make(map[shared.StudentID]*lateGroup)
		for _, e := range byCourse[courseID] {
			if e.Type != shared.EventSubmissionLate {
				continue
			}
			if e.At.Before(cutoff) || e.At.After(w.Now) {
				continue
			}
			student := studentFromEvent(e)
			if student.IsEmpty() {
				continue // malformed: no student to attribute
			}
			g := groups[student]
			if g == nil {
				g = &lateGroup{}
				groups[student] = g
			}
			g.events = append(g.events, e)
		}

		students := make([]shared.StudentID, 0, len(groups))
		for s := range groups {
			students = append(students, s)
		}
		sort.Slice(students, func(i, j int) bool { return students[i] < students[j] })

		for _, student := range students {
			g := groups[student]
			if len(g.events) < d.Threshold {
				continue
			}

			refs := make([]string, 0, len(g.events))
			latest := g.events[0].At
			for _, e := range g.events {
				refs = append(refs, e.EventID)
				if e.At.After(latest) {
					latest = e.At
				}
			}

			conf := 0.5 + 0.1*float64(len(g.events)-d.Threshold)
			if w.Now.Sub(latest) <= lateRecencyHorizon {
				conf += lateRecencyBonus
			}

			insights = append(insights, Insight{
				InsightType: TypeLatePattern,
				Scope:       UserScope(student, courseID),
				WhyGenerated: fmt.Sprintf("%d late submissions within the last %s",
					len(g.events), d.Window),
				EvidenceRefs:           refs,
				Confidence:             clampConfidence(conf),
				InvalidationConditions: "on-time submission of the student's next assignment in this course",
			})
		}
	}
	return insights
}
