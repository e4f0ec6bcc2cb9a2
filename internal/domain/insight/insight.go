// Package insight implements the pattern analyzer: a pure,
// read-only function over a ledger snapshot producing confidence-scored,
// falsifiable advisory insights. The analyzer never mutates grades or
// test state and its output is never written back into authoritative
// records.
package insight

import (
	"fmt"

	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// Type identifies a detector's insight kind.
type Type string

const (
	TypeLatePattern    Type = "late_pattern.repeat_submissions"
	TypeAttemptBurst   Type = "overload_risk.test_attempt_burst"
	TypeGradebookDrift Type = "gradebook_drift_flagged"
	TypeAttemptDropoff Type = "test_attempt_dropoff"
)

// InformationalConfidenceCeiling is the conventional cutoff below which
// consumers treat an insight as informational-only. Suppression is a
// consumer-side presentation policy: the analyzer always returns every
// insight it finds, whatever the score.
const InformationalConfidenceCeiling = 0.4

// ScopeType discriminates the scope union.
type ScopeType string

const (
	ScopeCourse ScopeType = "course"
	ScopeUser   ScopeType = "user"
)

// Scope is the tagged union an insight applies to: a whole course, or
// one user within a course.
type Scope struct {
	Type     ScopeType        `json:"type"`
	CourseID shared.CourseID  `json:"courseId"`
	UserID   shared.StudentID `json:"userId,omitempty"`
}

// CourseScope builds a course-wide scope.
func CourseScope(courseID shared.CourseID) Scope {
	return Scope{Type: ScopeCourse, CourseID: courseID}
}

// UserScope builds a per-user scope within a course.
func UserScope(userID shared.StudentID, courseID shared.CourseID) Scope {
	return Scope{Type: ScopeUser, CourseID: courseID, UserID: userID}
}

// Key returns a deterministic sort key for output ordering.
func (s Scope) Key() string {
	return fmt.Sprintf("%s/%s/%s", s.Type, s.CourseID, s.UserID)
}

// Insight is a derived, non-authoritative observation from the event
// log. Value object: recomputed per analysis pass, never persisted as
// authoritative state.
type Insight struct {
	InsightType            Type     `json:"insightType"`
	Scope                  Scope    `json:"scope"`
	WhyGenerated           string   `json:"whyGenerated"`
	EvidenceRefs           []string `json:"evidenceRefs"`
	Confidence             float64  `json:"confidence"`
	InvalidationConditions string   `json:"invalidationConditions"`
}

// clampConfidence bounds a score to the [0,1] contract.
func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
