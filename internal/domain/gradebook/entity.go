// Package gradebook contains the canonical grade records and the derived
// per-student gradebook totals. All mutation of these types happens inside
// store transactions; the rest of the system only reads them.
package gradebook

import (
	"time"

	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// GradeSource is the definition of one gradable piece of work in a course.
// SetGrade re-validates pointsPossible against this definition inside the
// mutation transaction, so a stale client cannot skew totals.
type GradeSource struct {
	CourseID       shared.CourseID
	Ref            shared.SourceRef
	Title          string
	PointsPossible shared.Points
	DueAt          time.Time     // zero = no deadline
	Allotted       time.Duration // for tests: allowed attempt duration, 0 = untimed
	Version        int
	CreatedAt      time.Time
}

// Validate rejects malformed source definitions.
func (s GradeSource) Validate() error {
	if s.CourseID.IsEmpty() {
		return shared.NewDomainError("gradebook", "RegisterSource", shared.ErrEmptyValue, "course ID cannot be empty")
	}
	if !s.Ref.IsValid() {
		return shared.NewDomainError("gradebook", "RegisterSource", shared.ErrInvalidInput, "invalid source reference")
	}
	if !s.PointsPossible.IsFinite() || s.PointsPossible <= 0 {
		return shared.ErrPointsNotPositive
	}
	return nil
}

// GradeRecord is the canonical grade for one (source, student) pair.
// Identity is deterministic: {sourceType}_{sourceId}_{studentId}.
// Owned exclusively by the store's mutation transaction.
type GradeRecord struct {
	RecordID       string
	CourseID       shared.CourseID
	StudentID      shared.StudentID
	Source         shared.SourceRef
	SourceVersion  int
	Score          shared.Points
	PointsPossible shared.Points
	Feedback       string
	GradedBy       string
	GradeRevision  shared.Revision
	GradedAt       time.Time
}

// Snapshot captures the score/revision pair of a record at one moment.
// A zero Snapshot (Graded=false) represents "never graded".
type Snapshot struct {
	Score    shared.Points   `json:"score"`
	Revision shared.Revision `json:"revision"`
	Graded   bool            `json:"graded"`
}

// Snapshot returns the record's current score/revision pair.
func (r GradeRecord) Snapshot() Snapshot {
	return Snapshot{Score: r.Score, Revision: r.GradeRevision, Graded: true}
}

// GradebookEntry is the derived per-student running total for a course.
// Invariant: TotalScore equals the sum of current scores over the
// student's grade records; TotalPossible sums pointsPossible over
// distinct sources ever graded (counted once regardless of re-grades).
type GradebookEntry struct {
	CourseID      shared.CourseID
	StudentID     shared.StudentID
	TotalScore    shared.Points
	TotalPossible shared.Points
	ComputedAt    time.Time
}

// Apply advances the entry by a delta pair. Deltas always come from
// freshly-read transactional state, never from the client.
func (e *GradebookEntry) Apply(deltaScore, deltaPossible shared.Points, now time.Time) {
	e.TotalScore += deltaScore
	e.TotalPossible += deltaPossible
	e.ComputedAt = now.UTC()
}

// Mutation is one validated grade-write request.
type Mutation struct {
	CourseID       shared.CourseID
	Source         shared.SourceRef
	StudentID      shared.StudentID
	Score          shared.Points
	PointsPossible shared.Points
	Feedback       string
	GradedBy       string
	ActorRole      shared.ActorRole
	RequestID      string
}

// Validate performs the pre-transaction checks. Fail closed: nothing
// reaches the store until the input is provably well-formed.
func (m Mutation) Validate() error {
	if m.CourseID.IsEmpty() {
		return shared.NewDomainError("gradebook", "SetGrade", shared.ErrEmptyValue, "course ID cannot be empty")
	}
	if m.StudentID.IsEmpty() {
		return shared.NewDomainError("gradebook", "SetGrade", shared.ErrEmptyValue, "student ID cannot be empty")
	}
	if !m.Source.IsValid() {
		return shared.NewDomainError("gradebook", "SetGrade", shared.ErrInvalidInput, "invalid source reference")
	}
	return shared.ValidateScore(m.Score, m.PointsPossible)
}

// RecordID returns the deterministic identity the mutation targets.
func (m Mutation) RecordID() string {
	return m.Source.RecordID(m.StudentID)
}

// Deltas computes the entry adjustment for this mutation given the prior
// record (nil = first-time grade). deltaPossible counts the source's
// points exactly once: only when the pair has never been graded.
func (m Mutation) Deltas(prior *GradeRecord) (deltaScore, deltaPossible shared.Points) {
	if prior == nil {
		return m.Score, m.PointsPossible
	}
	return m.Score - prior.Score, 0
}

// NextRecord builds the updated record for this mutation. Revision is
// strictly prior+1; a first-time grade starts at revision 1.
func (m Mutation) NextRecord(prior *GradeRecord, source GradeSource, now time.Time) GradeRecord {
	rev := shared.Revision(1)
	if prior != nil {
		rev = prior.GradeRevision.Next()
	}
	return GradeRecord{
		RecordID:       m.RecordID(),
		CourseID:       m.CourseID,
		StudentID:      m.StudentID,
		Source:         m.Source,
		SourceVersion:  source.Version,
		Score:          m.Score,
		PointsPossible: m.PointsPossible,
		Feedback:       m.Feedback,
		GradedBy:       m.GradedBy,
		GradeRevision:  rev,
		GradedAt:       now.UTC(),
	}
}

// MutationResult is the outcome of one committed grade transaction.
// Event is the grade.mutated ledger record appended in the same
// transaction as the writes it describes.
type MutationResult struct {
	Before        Snapshot
	After         Snapshot
	Record        GradeRecord
	Entry         GradebookEntry
	DeltaScore    shared.Points
	DeltaPossible shared.Points
	Event         *ledger.DomainEvent
}

// MutatedPayload builds the grade.mutated event payload carrying the
// before/after score and revision pairs.
func MutatedPayload(m Mutation, before, after Snapshot, deltaScore, deltaPossible shared.Points) map[string]any {
	return map[string]any{
		"recordId":      m.RecordID(),
		"studentId":     m.StudentID.String(),
		"sourceType":    m.Source.Type.String(),
		"sourceId":      m.Source.ID,
		"before":        before,
		"after":         after,
		"deltaScore":    deltaScore.Float64(),
		"deltaPossible": deltaPossible.Float64(),
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Drift
// ═══════════════════════════════════════════════════════════════════════════

// DriftReport is the difference between a live gradebook entry and the
// totals recomputed from its grade records. Drift is reported, never
// silently corrected: a non-zero delta is evidence of a consistency
// defect elsewhere and must stay visible.
type DriftReport struct {
	CourseID         shared.CourseID
	StudentID        shared.StudentID
	ExpectedScore    shared.Points
	LiveScore        shared.Points
	ExpectedPossible shared.Points
	LivePossible     shared.Points
	CheckedAt        time.Time
}

// DeltaScore returns live minus expected total score.
func (d DriftReport) DeltaScore() shared.Points {
	return d.LiveScore - d.ExpectedScore
}

// DeltaPossible returns live minus expected total possible.
func (d DriftReport) DeltaPossible() shared.Points {
	return d.LivePossible - d.ExpectedPossible
}

// HasDrift reports whether the entry disagrees with its records.
func (d DriftReport) HasDrift() bool {
	return d.DeltaScore() != 0 || d.DeltaPossible() != 0
}

// RecomputeTotals sums grade records per student: the ground truth the
// live entries are checked against.
func RecomputeTotals(records []GradeRecord) map[shared.StudentID]GradebookEntry {
	totals := make(map[shared.StudentID]GradebookEntry)
	for _, r := range records {
		e := totals[r.StudentID]
		e.CourseID = r.CourseID
		e.StudentID = r.StudentID
		e.TotalScore += r.Score
		e.TotalPossible += r.PointsPossible
		totals[r.StudentID] = e
	}
	return totals
}

// CompareTotals builds a drift report per student covered by either side.
// Students with records but no live entry (or vice versa) are reported
// against a zero counterpart.
func CompareTotals(courseID shared.CourseID, expected map[shared.StudentID]GradebookEntry, live []GradebookEntry, now time.Time) []DriftReport {
	liveByStudent := make(map[shared.StudentID]GradebookEntry, len(live))
	for _, e := range live {
		liveByStudent[e.StudentID] = e
	}

	seen := make(map[shared.StudentID]bool, len(expected))
	reports := make([]DriftReport, 0, len(expected))
	for studentID, exp := range expected {
		seen[studentID] = true
		lv := liveByStudent[studentID]
		reports = append(reports, DriftReport{
			CourseID:         courseID,
			StudentID:        studentID,
			ExpectedScore:    exp.TotalScore,
			LiveScore:        lv.TotalScore,
			ExpectedPossible: exp.TotalPossible,
			LivePossible:     lv.TotalPossible,
			CheckedAt:        now.UTC(),
		})
	}
	for _, lv := range live {
		if seen[lv.StudentID] {
			continue
		}
		reports = append(reports, DriftReport{
			CourseID:     courseID,
			StudentID:    lv.StudentID,
			LiveScore:    lv.TotalScore,
			LivePossible: lv.TotalPossible,
			CheckedAt:    now.UTC(),
		})
	}
	return reports
}

// RecomputePayload builds the gradebook.recompute.completed event payload
// carrying the delta fields the drift detector consumes.
func RecomputePayload(d DriftReport, runID string) map[string]any {
	return map[string]any{
		"studentId":        d.StudentID.String(),
		"runId":            runID,
		"expectedScore":    d.ExpectedScore.Float64(),
		"liveScore":        d.LiveScore.Float64(),
		"expectedPossible": d.ExpectedPossible.Float64(),
		"livePossible":     d.LivePossible.Float64(),
		"deltaScore":       d.DeltaScore().Float64(),
		"deltaPossible":    d.DeltaPossible().Float64(),
	}
}
