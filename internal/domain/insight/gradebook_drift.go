package insight

import (
	"fmt"
	"math"
	"sort"

	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// Drift-confidence tuning.
const (
	// driftBaseConfidence is the floor for any confirmed non-zero drift.
	driftBaseConfidence = 0.4

	// driftFullConfidenceDelta is the |delta| at which confidence
	// saturates.
	driftFullConfidenceDelta = 50.0
)

// GradebookDriftDetector consumes recompute events carrying delta fields
// and flags any non-zero, unexplained difference between a live gradebook
// entry and its recomputed totals. The only integrity-class detector:
// drift is treated as evidence of a consistency defect elsewhere, never
// something to quietly repair.
type GradebookDriftDetector struct{}

// NewGradebookDriftDetector creates the detector.
func NewGradebookDriftDetector() *GradebookDriftDetector {
	return &GradebookDriftDetector{}
}

// Name implements Detector.
func (d *GradebookDriftDetector) Name() string {
	return string(TypeGradebookDrift)
}

// Detect implements Detector.
func (d *GradebookDriftDetector) Detect(w Window) []Insight {
	byCourse := eventsByCourse(w.Events)
	var insights []Insight
	for _, courseID := range sortedCourses(byCourse) {
		// Only the most recent recompute per student counts: a later
		// clean pass supersedes earlier drift. Snapshot is time-ordered,
		// so the last event per student wins.
		latest := make(map[shared.StudentID]ledger.DomainEvent)
		for _, e := range byCourse[courseID] {
			if e.Type != shared.EventRecomputeCompleted || e.At.After(w.Now) {
				continue
			}
			student := studentFromEvent(e)
			if student.IsEmpty() {
				continue
			}
			latest[student] = e
		}

		students := make([]shared.StudentID, 0, len(latest))
		for s := range latest {
			students = append(students, s)
		}
		sort.Slice(students, func(i, j int) bool { return students[i] < students[j] })

		for _, student := range students {
			e := latest[student]
			deltaScore, okScore := payloadFloat(e, "deltaScore")
			deltaPossible, okPossible := payloadFloat(e, "deltaPossible")
			if !okScore && !okPossible {
				continue // malformed recompute event: no delta fields
			}

			magnitude := math.Max(math.Abs(deltaScore), math.Abs(deltaPossible))
			if magnitude == 0 {
				continue
			}

			conf := driftBaseConfidence + (1-driftBaseConfidence)*math.Min(1, magnitude/driftFullConfidenceDelta)

			insights = append(insights, Insight{
				InsightType: TypeGradebookDrift,
				Scope:       UserScope(student, courseID),
				WhyGenerated: fmt.Sprintf("full recompute disagrees with live gradebook entry: score delta %+g, possible delta %+g",
					deltaScore, deltaPossible),
				EvidenceRefs:           []string{e.EventID},
				Confidence:             clampConfidence(conf),
				InvalidationConditions: "a subsequent full recompute reporting zero delta for this student",
			})
		}
	}
	return insights
}
