// Package insight implements the read-only pattern analyzer.
package insight

import (
	"sort"
	"time"

	"github.com/classpulse/classpulse-core/internal/domain/ledger"
)

// Analyzer runs every registered detector over one ledger snapshot.
// Pure and side-effect-free: identical snapshot plus identical now yields
// identical output across repeated runs.
type Analyzer struct {
	detectors []Detector
}

// NewAnalyzer creates an analyzer with the given detectors, or the
// default set when none are supplied.
func NewAnalyzer(detectors ...Detector) *Analyzer {
	if len(detectors) == 0 {
		detectors = DefaultDetectors()
	}
	return &Analyzer{detectors: detectors}
}

// NewAnalyzerWith creates an analyzer running exactly the given
// detectors. Unlike NewAnalyzer, an empty set is honored: the analyzer
// scans nothing and emits nothing. Callers assembling detectors from
// operator toggles use this so switching everything off means off.
func NewAnalyzerWith(detectors []Detector) *Analyzer {
	return &Analyzer{detectors: detectors}
}

// DefaultDetectors returns the four reference detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		NewLatePatternDetector(),
		NewAttemptBurstDetector(),
		NewGradebookDriftDetector(),
		NewAttemptDropoffDetector(),
	}
}

// Analyze scans the snapshot and returns all insights found, sorted
// deterministically. The input slice is copied before sorting so the
// caller's snapshot is never reordered.
func (a *Analyzer) Analyze(events []ledger.DomainEvent, now time.Time) []Insight {
	snapshot := make([]ledger.DomainEvent, len(events))
	copy(snapshot, events)
	ledger.SortEvents(snapshot)

	w := Window{Events: snapshot, Now: now}

	var insights []Insight
	for _, d := range a.detectors {
		insights = append(insights, d.Detect(w)...)
	}

	sort.SliceStable(insights, func(i, j int) bool {
		if insights[i].InsightType != insights[j].InsightType {
			return insights[i].InsightType < insights[j].InsightType
		}
		return insights[i].Scope.Key() < insights[j].Scope.Key()
	})
	return insights
}

// SkippedEvents counts snapshot entries the detectors cannot interpret:
// unknown event types, possibly from future schema versions. Callers log
// this; the analyzer itself stays silent and skips them per-event.
func SkippedEvents(events []ledger.DomainEvent) int {
	n := 0
	for _, e := range events {
		if !e.Type.IsValid() {
			n++
		}
	}
	return n
}
