package query

import (
	"context"
	"sort"
	"time"

	"github.com/classpulse/classpulse-core/internal/domain/insight"
	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET COURSE ACTIVITY QUERY
// Operational read over the event ledger: per-type event counts plus an
// optional on-demand analyzer pass over the recent window. Reads only;
// the ledger is never touched.
// ══════════════════════════════════════════════════════════════════════════════

// GetCourseActivityQuery contains the parameters for a course activity read.
type GetCourseActivityQuery struct {
	CourseID string

	// Window bounds the analyzed event range (default 30 days).
	Window time.Duration

	// IncludeInsights runs an analyzer pass over the window's events.
	IncludeInsights bool
}

// EventCountDTO is the number of stored events of one type.
type EventCountDTO struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// GetCourseActivityResult contains the query result.
type GetCourseActivityResult struct {
	CourseID    string            `json:"course_id"`
	Counts      []EventCountDTO   `json:"counts"`
	TotalEvents int               `json:"total_events"`
	Insights    []insight.Insight `json:"insights,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// GetCourseActivityHandler handles course activity reads.
type GetCourseActivityHandler struct {
	events   ledger.Reader
	analyzer *insight.Analyzer
}

// NewGetCourseActivityHandler creates a new GetCourseActivityHandler.
// analyzer may be nil when insights are never requested.
func NewGetCourseActivityHandler(events ledger.Reader, analyzer *insight.Analyzer) *GetCourseActivityHandler {
	return &GetCourseActivityHandler{events: events, analyzer: analyzer}
}

// Handle executes the query.
func (h *GetCourseActivityHandler) Handle(ctx context.Context, q GetCourseActivityQuery) (*GetCourseActivityResult, error) {
	courseID, err := shared.NewCourseID(q.CourseID)
	if err != nil {
		return nil, err
	}

	window := q.Window
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	now := time.Now().UTC()

	counts, err := h.events.CountByType(ctx, courseID)
	if err != nil {
		return nil, err
	}

	result := &GetCourseActivityResult{
		CourseID:    courseID.String(),
		Counts:      make([]EventCountDTO, 0, len(counts)),
		GeneratedAt: now,
	}
	for eventType, n := range counts {
		result.Counts = append(result.Counts, EventCountDTO{Type: string(eventType), Count: n})
		result.TotalEvents += n
	}
	sort.Slice(result.Counts, func(i, j int) bool {
		return result.Counts[i].Type < result.Counts[j].Type
	})

	if q.IncludeInsights && h.analyzer != nil {
		events, err := h.events.ListByCourse(ctx, courseID, now.Add(-window), 0)
		if err != nil {
			return nil, err
		}
		result.Insights = h.analyzer.Analyze(events, now)
	}

	return result, nil
}
