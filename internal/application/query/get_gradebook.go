// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"sort"
	"time"

	"github.com/classpulse/classpulse-core/internal/domain/gradebook"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET GRADEBOOK QUERY
// Reads the live per-student totals for a course, optionally with the
// individual grade records behind them. Pure read: never recomputes.
// ══════════════════════════════════════════════════════════════════════════════

// GetGradebookQuery contains the parameters for a gradebook read.
type GetGradebookQuery struct {
	CourseID string

	// StudentID narrows the result to a single student when set.
	StudentID string

	// IncludeRecords attaches the per-source grade records to each row.
	IncludeRecords bool
}

// GradebookRowDTO is one student's derived totals.
type GradebookRowDTO struct {
	StudentID     string    `json:"student_id"`
	TotalScore    float64   `json:"total_score"`
	TotalPossible float64   `json:"total_possible"`
	Percent       float64   `json:"percent"`
	ComputedAt    time.Time `json:"computed_at"`

	Records []GradeRecordDTO `json:"records,omitempty"`
}

// GradeRecordDTO is one stored grade.
type GradeRecordDTO struct {
	RecordID   string    `json:"record_id"`
	SourceType string    `json:"source_type"`
	SourceID   string    `json:"source_id"`
	Score      float64   `json:"score"`
	Possible   float64   `json:"possible"`
	Revision   int       `json:"revision"`
	GradedAt   time.Time `json:"graded_at"`
	GradedBy   string    `json:"graded_by"`
}

// GetGradebookResult contains the query result.
type GetGradebookResult struct {
	CourseID    string            `json:"course_id"`
	Rows        []GradebookRowDTO `json:"rows"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// GetGradebookHandler handles gradebook reads.
type GetGradebookHandler struct {
	store gradebook.Store
}

// NewGetGradebookHandler creates a new GetGradebookHandler.
func NewGetGradebookHandler(store gradebook.Store) *GetGradebookHandler {
	return &GetGradebookHandler{store: store}
}

// Handle executes the query. A student with no entry yet is reported as a
// zero row, not an error.
func (h *GetGradebookHandler) Handle(ctx context.Context, q GetGradebookQuery) (*GetGradebookResult, error) {
	courseID, err := shared.NewCourseID(q.CourseID)
	if err != nil {
		return nil, err
	}

	result := &GetGradebookResult{
		CourseID:    courseID.String(),
		GeneratedAt: time.Now().UTC(),
	}

	if q.StudentID != "" {
		studentID, err := shared.NewStudentID(q.StudentID)
		if err != nil {
			return nil, err
		}
		row, err := h.buildRow(ctx, courseID, studentID, q.IncludeRecords)
		if err != nil {
			return nil, err
		}
		result.Rows = []GradebookRowDTO{*row}
		return result, nil
	}

	entries, err := h.store.ListEntries(ctx, courseID)
	if err != nil {
		return nil, err
	}

	result.Rows = make([]GradebookRowDTO, 0, len(entries))
	for _, entry := range entries {
		row := entryToRow(entry)
		if q.IncludeRecords {
			records, err := h.store.ListRecordsByStudent(ctx, courseID, entry.StudentID)
			if err != nil {
				return nil, err
			}
			row.Records = recordsToDTOs(records)
		}
		result.Rows = append(result.Rows, row)
	}

	sort.Slice(result.Rows, func(i, j int) bool {
		return result.Rows[i].StudentID < result.Rows[j].StudentID
	})

	return result, nil
}

func (h *GetGradebookHandler) buildRow(ctx context.Context, courseID shared.CourseID, studentID shared.StudentID, includeRecords bool) (*GradebookRowDTO, error) {
	entry, err := h.store.GetEntry(ctx, courseID, studentID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, err
		}
		entry = &gradebook.GradebookEntry{CourseID: courseID, StudentID: studentID}
	}

	row := entryToRow(*entry)
	if includeRecords {
		records, err := h.store.ListRecordsByStudent(ctx, courseID, studentID)
		if err != nil {
			return nil, err
		}
		row.Records = recordsToDTOs(records)
	}
	return &row, nil
}

func entryToRow(entry gradebook.GradebookEntry) GradebookRowDTO {
	row := GradebookRowDTO{
		StudentID:     entry.StudentID.String(),
		TotalScore:    entry.TotalScore.Float64(),
		TotalPossible: entry.TotalPossible.Float64(),
		ComputedAt:    entry.ComputedAt,
	}
	if entry.TotalPossible > 0 {
		row.Percent = entry.TotalScore.Float64() / entry.TotalPossible.Float64() * 100
	}
	return row
}

func recordsToDTOs(records []gradebook.GradeRecord) []GradeRecordDTO {
	if len(records) == 0 {
		return nil
	}
	dtos := make([]GradeRecordDTO, len(records))
	for i, r := range records {
		dtos[i] = GradeRecordDTO{
			RecordID:   r.RecordID,
			SourceType: r.Source.Type.String(),
			SourceID:   r.Source.ID,
			Score:      r.Score.Float64(),
			Possible:   r.PointsPossible.Float64(),
			Revision:   r.GradeRevision.Int(),
			GradedAt:   r.GradedAt,
			GradedBy:   r.GradedBy,
		}
	}
	sort.Slice(dtos, func(i, j int) bool {
		return dtos[i].RecordID < dtos[j].RecordID
	})
	return dtos
}
