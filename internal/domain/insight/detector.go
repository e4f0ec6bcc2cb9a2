package insight

import (
	"sort"
	"time"

	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// Window is the immutable input to one detector pass: an already-fetched
// ledger snapshot plus the analysis timestamp. Detectors never perform
// I/O and never mutate the snapshot.
type Window struct {
	Events []ledger.DomainEvent
	Now    time.Time
}

// Detector is one independent, stateless pattern strategy. Detectors are
// deliberately separate implementations rather than branches of one
// conditional: each is testable in isolation and new ones can be added
// without touching existing ones.
type Detector interface {
	// Name returns the detector's stable identifier.
	Name() string

	// Detect scans the window and returns zero or more insights.
	// Malformed events are skipped per-event, never fatal.
	Detect(w Window) []Insight
}

// eventsByCourse groups a snapshot per course, preserving order.
func eventsByCourse(events []ledger.DomainEvent) map[shared.CourseID][]ledger.DomainEvent {
	byCourse := make(map[shared.CourseID][]ledger.DomainEvent)
	for _, e := range events {
		byCourse[e.CourseID] = append(byCourse[e.CourseID], e)
	}
	return byCourse
}

// sortedCourses returns course IDs in deterministic order.
func sortedCourses(byCourse map[shared.CourseID][]ledger.DomainEvent) []shared.CourseID {
	ids := make([]shared.CourseID, 0, len(byCourse))
	for id := range byCourse {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// payloadString reads a string payload field, empty when absent or
// mistyped. Ledger entries may come from future schema versions, so
// every read tolerates missing fields.
func payloadString(e ledger.DomainEvent, key string) string {
	if e.Data == nil {
		return ""
	}
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}

// payloadFloat reads a numeric payload field. JSON round-trips turn all
// numbers into float64, but freshly built events may still hold ints.
func payloadFloat(e ledger.DomainEvent, key string) (float64, bool) {
	if e.Data == nil {
		return 0, false
	}
	switch v := e.Data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// studentFromEvent resolves the student an event is about, preferring the
// explicit payload field over the acting user.
func studentFromEvent(e ledger.DomainEvent) shared.StudentID {
	if s := payloadString(e, "studentId"); s != "" {
		return shared.StudentID(s)
	}
	return shared.StudentID(e.ActorUID)
}
