package redis

import (
	"context"
	"errors"
	"time"

	"github.com/classpulse/classpulse-core/internal/domain/insight"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// INSIGHT CACHE
// Stores the latest analyzer report per course. Purely a read model:
// every report is recomputable from the event ledger, so a miss or an
// eviction is never an error condition for consumers.
// ══════════════════════════════════════════════════════════════════════════════

// InsightReport is the cached output of one analyzer pass.
type InsightReport struct {
	CourseID      string            `json:"course_id"`
	Insights      []insight.Insight `json:"insights"`
	EventsScanned int               `json:"events_scanned"`
	SkippedEvents int               `json:"skipped_events"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

// InsightCache caches analyzer reports in Redis.
type InsightCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewInsightCache creates a new InsightCache.
func NewInsightCache(cache *Cache) *InsightCache {
	return &InsightCache{cache: cache, ttl: TTLInsightReport}
}

// StoreReport replaces the cached report for a course.
func (c *InsightCache) StoreReport(ctx context.Context, report InsightReport) error {
	return c.cache.Set(ctx, InsightReportKey(report.CourseID), report, c.ttl)
}

// GetReport returns the cached report for a course, or nil on a miss.
func (c *InsightCache) GetReport(ctx context.Context, courseID shared.CourseID) (*InsightReport, error) {
	var report InsightReport
	err := c.cache.Get(ctx, InsightReportKey(courseID.String()), &report)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

// Invalidate drops the cached report for a course.
func (c *InsightCache) Invalidate(ctx context.Context, courseID shared.CourseID) error {
	return c.cache.Delete(ctx, InsightReportKey(courseID.String()))
}
