// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UUID validation regex (simple version).
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// CourseID represents a unique course identifier (UUID format).
type CourseID string

// IsValid checks if the course ID is a valid UUID.
func (c CourseID) IsValid() bool {
	return uuidRegex.MatchString(string(c))
}

// String returns the string representation.
func (c CourseID) String() string {
	return string(c)
}

// IsEmpty checks if the ID is empty.
func (c CourseID) IsEmpty() bool {
	return c == ""
}

// NewCourseID creates a new CourseID with validation.
func NewCourseID(id string) (CourseID, error) {
	cid := CourseID(strings.ToLower(strings.TrimSpace(id)))
	if !cid.IsValid() {
		return "", NewDomainError("shared", "NewCourseID", ErrInvalidID, "invalid course ID format")
	}
	return cid, nil
}

// StudentID represents a unique student identifier (UUID format).
type StudentID string

// IsValid checks if the student ID is a valid UUID.
func (s StudentID) IsValid() bool {
	return uuidRegex.MatchString(string(s))
}

// String returns the string representation.
func (s StudentID) String() string {
	return string(s)
}

// IsEmpty checks if the ID is empty.
func (s StudentID) IsEmpty() bool {
	return s == ""
}

// NewStudentID creates a new StudentID with validation.
func NewStudentID(id string) (StudentID, error) {
	sid := StudentID(strings.ToLower(strings.TrimSpace(id)))
	if !sid.IsValid() {
		return "", NewDomainError("shared", "NewStudentID", ErrInvalidID, "invalid student ID format")
	}
	return sid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Grade Source Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// SourceType classifies what kind of work a grade originates from.
type SourceType string

const (
	SourceAssignment SourceType = "assignment"
	SourceTest       SourceType = "test"
	SourceQuiz       SourceType = "quiz"
	SourceProject    SourceType = "project"
)

// IsValid checks if the source type is known.
func (t SourceType) IsValid() bool {
	switch t {
	case SourceAssignment, SourceTest, SourceQuiz, SourceProject:
		return true
	}
	return false
}

// String returns the string representation.
func (t SourceType) String() string {
	return string(t)
}

// SourceRef identifies one gradable source within a course.
type SourceRef struct {
	Type SourceType
	ID   string
}

// IsValid checks both parts of the reference.
func (r SourceRef) IsValid() bool {
	return r.Type.IsValid() && strings.TrimSpace(r.ID) != ""
}

// Key returns the source part of a deterministic record identity.
func (r SourceRef) Key() string {
	return fmt.Sprintf("%s_%s", r.Type, r.ID)
}

// RecordID returns the deterministic grade record identity for a student:
// {sourceType}_{sourceId}_{studentId}. One record per (source, student) pair.
func (r SourceRef) RecordID(studentID StudentID) string {
	return fmt.Sprintf("%s_%s_%s", r.Type, r.ID, studentID)
}

// NewSourceRef creates a SourceRef with validation.
func NewSourceRef(sourceType, sourceID string) (SourceRef, error) {
	ref := SourceRef{
		Type: SourceType(strings.ToLower(strings.TrimSpace(sourceType))),
		ID:   strings.TrimSpace(sourceID),
	}
	if !ref.IsValid() {
		return SourceRef{}, NewDomainError("shared", "NewSourceRef", ErrInvalidInput, "invalid grade source reference")
	}
	return ref, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Score Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Points represents a point value on a grade or gradebook total.
type Points float64

// IsFinite reports whether the value is a usable number (not NaN/Inf).
func (p Points) IsFinite() bool {
	f := float64(p)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Float64 returns the underlying float64 value.
func (p Points) Float64() float64 {
	return float64(p)
}

// ValidateScore checks a score against its points-possible ceiling.
// Fails closed: any non-finite, negative, or out-of-range value is rejected.
func ValidateScore(score, pointsPossible Points) error {
	if !pointsPossible.IsFinite() || pointsPossible <= 0 {
		return ErrPointsNotPositive
	}
	if !score.IsFinite() {
		return ErrScoreNotFinite
	}
	if score < 0 {
		return ErrScoreNegative
	}
	if score > pointsPossible {
		return ErrScoreExceedsMax
	}
	return nil
}

// Revision is a monotonically increasing grade record revision number.
// The first grade of a (source, student) pair has revision 1.
type Revision int

// Next returns the successor revision.
func (r Revision) Next() Revision {
	return r + 1
}

// Int returns the underlying int value.
func (r Revision) Int() int {
	return int(r)
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange Value Object
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange represents a time period.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsValid checks if the time range is valid.
func (t TimeRange) IsValid() bool {
	return !t.From.IsZero() && !t.To.IsZero() && !t.From.After(t.To)
}

// Duration returns the duration of the time range.
func (t TimeRange) Duration() time.Duration {
	return t.To.Sub(t.From)
}

// Contains checks if a time is within the range.
func (t TimeRange) Contains(tm time.Time) bool {
	return (tm.Equal(t.From) || tm.After(t.From)) && (tm.Equal(t.To) || tm.Before(t.To))
}

// TrailingWindow returns the range covering the last d before now.
func TrailingWindow(now time.Time, d time.Duration) TimeRange {
	return TimeRange{From: now.Add(-d), To: now}
}

// NewTimeRange creates a new TimeRange with validation.
func NewTimeRange(from, to time.Time) (TimeRange, error) {
	tr := TimeRange{From: from, To: to}
	if !tr.IsValid() {
		return TimeRange{}, NewDomainError("shared", "NewTimeRange", ErrInvalidInput, "'from' must be before 'to'")
	}
	return tr, nil
}
