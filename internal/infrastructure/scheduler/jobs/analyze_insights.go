package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/classpulse/classpulse-core/internal/domain/insight"
	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
	"github.com/classpulse/classpulse-core/internal/infrastructure/persistence/redis"
	"github.com/classpulse/classpulse-core/pkg/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// ANALYZE INSIGHTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// AnalyzeInsightsJob runs the pattern detectors over each course's recent
// ledger events and caches the resulting report. The pass is strictly
// read-only against the ledger: detectors consume an event snapshot and
// emit advisory insights, nothing is written back.
type AnalyzeInsightsJob struct {
	// Dependencies
	events   ledger.Reader
	analyzer *insight.Analyzer
	cache    *redis.InsightCache
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// Configuration
	config AnalyzeInsightsConfig

	// State
	lastRunStats atomic.Value // *AnalyzeStats
}

// AnalyzeInsightsConfig contains configuration for the analyzer job.
type AnalyzeInsightsConfig struct {
	// Courses lists the course IDs to analyze.
	Courses []shared.CourseID

	// Window is how far back the event snapshot reaches.
	Window time.Duration

	// MaxEvents caps the snapshot size per course (0 = no cap).
	MaxEvents int

	// Timeout is the maximum duration for one full pass.
	Timeout time.Duration
}

// DefaultAnalyzeInsightsConfig returns sensible defaults.
func DefaultAnalyzeInsightsConfig() AnalyzeInsightsConfig {
	return AnalyzeInsightsConfig{
		Window:  30 * 24 * time.Hour,
		Timeout: 2 * time.Minute,
	}
}

// AnalyzeStats contains statistics from an analyzer pass.
type AnalyzeStats struct {
	StartedAt       time.Time
	CompletedAt     time.Time
	Duration        time.Duration
	CoursesAnalyzed int
	EventsScanned   int
	EventsSkipped   int
	InsightsEmitted int
	Errors          []error
}

// NewAnalyzeInsightsJob creates a new analyzer job. A nil cache disables
// report caching; the pass still runs for its metrics and logs.
func NewAnalyzeInsightsJob(
	events ledger.Reader,
	analyzer *insight.Analyzer,
	cache *redis.InsightCache,
	m *metrics.Metrics,
	logger *slog.Logger,
	config AnalyzeInsightsConfig,
) *AnalyzeInsightsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if analyzer == nil {
		analyzer = insight.NewAnalyzer(insight.DefaultDetectors()...)
	}

	return &AnalyzeInsightsJob{
		events:   events,
		analyzer: analyzer,
		cache:    cache,
		metrics:  m,
		logger:   logger,
		config:   config,
	}
}

// Name returns the job name.
func (j *AnalyzeInsightsJob) Name() string {
	return "analyze_insights"
}

// Description returns a human-readable description.
func (j *AnalyzeInsightsJob) Description() string {
	return "Runs pattern detectors over recent ledger events and caches insight reports"
}

// Run executes one analyzer pass over every configured course.
func (j *AnalyzeInsightsJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &AnalyzeStats{
		StartedAt: startedAt,
		Errors:    make([]error, 0),
	}

	j.logger.Info("starting analyze_insights job", "courses", len(j.config.Courses))

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	for _, courseID := range j.config.Courses {
		if err := j.analyzeCourse(ctx, courseID, stats); err != nil {
			stats.Errors = append(stats.Errors, err)
			j.logger.Error("failed to analyze course",
				"course_id", courseID.String(),
				"error", err,
			)
		}
		stats.CoursesAnalyzed++
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastRunStats.Store(stats)

	j.logger.Info("analyze_insights job completed",
		"duration", stats.Duration.String(),
		"courses_analyzed", stats.CoursesAnalyzed,
		"events_scanned", stats.EventsScanned,
		"events_skipped", stats.EventsSkipped,
		"insights_emitted", stats.InsightsEmitted,
	)

	if len(stats.Errors) > 0 {
		return fmt.Errorf("analysis completed with %d errors", len(stats.Errors))
	}

	return nil
}

// analyzeCourse runs one detector pass for a single course.
func (j *AnalyzeInsightsJob) analyzeCourse(ctx context.Context, courseID shared.CourseID, stats *AnalyzeStats) error {
	now := time.Now().UTC()
	since := now.Add(-j.config.Window)

	events, err := j.events.ListByCourse(ctx, courseID, since, j.config.MaxEvents)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	skipped := insight.SkippedEvents(events)
	insights := j.analyzer.Analyze(events, now)

	stats.EventsScanned += len(events)
	stats.EventsSkipped += skipped
	stats.InsightsEmitted += len(insights)

	j.metrics.AnalyzerPasses.Inc()
	for _, ins := range insights {
		j.metrics.AnalyzerInsights.WithLabelValues(string(ins.InsightType)).Inc()
	}

	if skipped > 0 {
		j.logger.Info("skipped unrecognized events during analysis",
			"course_id", courseID.String(),
			"skipped", skipped,
		)
	}

	if j.cache != nil {
		report := redis.InsightReport{
			CourseID:      courseID.String(),
			Insights:      insights,
			EventsScanned: len(events),
			SkippedEvents: skipped,
			GeneratedAt:   now,
		}
		if err := j.cache.StoreReport(ctx, report); err != nil {
			return fmt.Errorf("store report: %w", err)
		}
	}

	return nil
}

// LastRunStats returns the stats from the most recent completed pass, or
// nil if the job has not run yet.
func (j *AnalyzeInsightsJob) LastRunStats() *AnalyzeStats {
	v := j.lastRunStats.Load()
	if v == nil {
		return nil
	}
	return v.(*AnalyzeStats)
}
