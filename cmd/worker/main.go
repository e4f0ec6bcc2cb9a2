// Package main is the entry point for the ClassPulse Core worker.
//
// The worker owns the background half of the grading core:
// - full gradebook recompute with drift reporting
// - periodic detector passes over the event ledger
// - the audit trail fed from the committed-event bus
//
// The synchronous half (grade mutations, queries) is embedded by the
// host application through the application layer handlers; the worker
// keeps the derived state honest.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/classpulse/classpulse-core/config"
	"github.com/classpulse/classpulse-core/internal/domain/insight"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
	"github.com/classpulse/classpulse-core/internal/infrastructure/audit"
	"github.com/classpulse/classpulse-core/internal/infrastructure/messaging"
	"github.com/classpulse/classpulse-core/internal/infrastructure/persistence/postgres"
	"github.com/classpulse/classpulse-core/internal/infrastructure/persistence/redis"
	"github.com/classpulse/classpulse-core/internal/infrastructure/scheduler"
	"github.com/classpulse/classpulse-core/internal/infrastructure/scheduler/jobs"
	"github.com/classpulse/classpulse-core/pkg/logger"
	"github.com/classpulse/classpulse-core/pkg/metrics"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.ForEnv(cfg.App.Name, string(cfg.App.Environment), cfg.Observability.LogLevel)
	slog.SetDefault(log)
	log.Info("starting ClassPulse Core worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"courses", len(cfg.Scheduler.Courses),
	)

	courses, err := parseCourses(cfg.Scheduler.Courses)
	if err != nil {
		return fmt.Errorf("invalid SCHEDULER_COURSES: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Metrics
	// ─────────────────────────────────────────────────────────────────────────
	var m *metrics.Metrics
	if cfg.Observability.MetricsEnabled {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Observability.MetricsPort),
			Handler: mux,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("metrics server listening", "port", cfg.Observability.MetricsPort)
	} else {
		m = metrics.NewNop()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// PostgreSQL
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	eventLedger := postgres.NewEventLedgerRepo(dbConn, m)
	gradebookStore := postgres.NewGradebookRepo(dbConn, m)

	// ─────────────────────────────────────────────────────────────────────────
	// Redis (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var redisCache *redis.Cache
	var insightCache *redis.InsightCache
	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis")

		var cache *redis.Cache
		if cfg.Redis.URL != "" {
			cache, err = redis.NewCacheFromURL(cfg.Redis.URL)
		} else {
			redisCfg := redis.DefaultConfig()
			redisCfg.Host = cfg.Redis.Host
			redisCfg.Port = cfg.Redis.Port
			redisCfg.Password = cfg.Redis.Password
			redisCfg.DB = cfg.Redis.DB
			cache, err = redis.NewCache(redisCfg)
		}
		if err != nil {
			log.Warn("failed to connect to Redis, caching and fan-out disabled", "error", err)
		} else {
			defer cache.Close()
			redisCache = cache
			log.Info("Redis connection established")
		}
	}
	if redisCache != nil && cfg.Features.IsEnabled(config.FeatureInsightCache, nil) {
		insightCache = redis.NewInsightCache(redisCache)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Event bus and audit trail
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log

	var eventBus interface {
		shared.EventBus
		Close() error
	}
	if redisCache != nil && cfg.Features.IsEnabled(config.FeatureRedisBus, nil) {
		eventBus, err = messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewGoRedisClient(redisCache.Client()),
			LocalBusConfig: busConfig,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to start Redis event bus: %w", err)
		}
		log.Info("Redis event bus enabled")
	} else {
		eventBus = messaging.NewInMemoryEventBus(busConfig)
	}
	defer func() {
		log.Info("closing event bus")
		_ = eventBus.Close()
	}()

	if cfg.Features.IsEnabled(config.FeatureAuditSink, nil) {
		sink := audit.NewSink(os.Stdout, log)
		if err := sink.Attach(eventBus); err != nil {
			return fmt.Errorf("failed to attach audit sink: %w", err)
		}
		log.Info("audit sink attached")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Scheduler and jobs
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, worker will idle")
		return waitForShutdown(ctx, log, cfg.App.ShutdownTimeout)
	}

	schedConfig := scheduler.DefaultSchedulerConfig()
	schedConfig.Logger = log
	schedConfig.OnResult = func(r scheduler.JobResult) {
		outcome := "ok"
		if !r.Success {
			outcome = "error"
		}
		m.JobRuns.WithLabelValues(r.JobName, outcome).Inc()
		m.JobDuration.WithLabelValues(r.JobName).Observe(r.Duration.Seconds())
	}
	sched := scheduler.NewScheduler(schedConfig)

	recomputeConfig := jobs.DefaultRecomputeGradebookConfig()
	recomputeConfig.Courses = courses
	recomputeConfig.Timeout = cfg.Scheduler.JobTimeout
	recomputeJob := jobs.NewRecomputeGradebookJob(gradebookStore, eventLedger, eventBus, m, log, recomputeConfig)
	recomputeSchedule, err := buildSchedule(cfg.Scheduler.RecomputeCron, cfg.Scheduler.RecomputeInterval)
	if err != nil {
		return fmt.Errorf("invalid SCHEDULER_RECOMPUTE_CRON: %w", err)
	}
	if err := sched.Register(recomputeJob, recomputeSchedule); err != nil {
		return fmt.Errorf("failed to register recompute job: %w", err)
	}

	analyzeConfig := jobs.DefaultAnalyzeInsightsConfig()
	analyzeConfig.Courses = courses
	analyzeConfig.Window = cfg.Scheduler.AnalysisWindow
	analyzeConfig.Timeout = cfg.Scheduler.JobTimeout
	analyzeJob := jobs.NewAnalyzeInsightsJob(
		eventLedger,
		buildAnalyzer(cfg.Features),
		insightCache,
		m,
		log,
		analyzeConfig,
	)
	analyzeSchedule, err := buildSchedule(cfg.Scheduler.AnalyzeCron, cfg.Scheduler.AnalyzeInterval)
	if err != nil {
		return fmt.Errorf("invalid SCHEDULER_ANALYZE_CRON: %w", err)
	}
	if err := sched.Register(analyzeJob, analyzeSchedule); err != nil {
		return fmt.Errorf("failed to register analyzer job: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		log.Info("stopping scheduler")
		_ = sched.Stop()
	}()

	jobInfos := sched.ListJobs()
	for _, info := range jobInfos {
		log.Info("job scheduled",
			"job", info.Name,
			"schedule", info.Schedule,
			"next_run", info.NextRun.Format(time.RFC3339),
		)
	}

	if cfg.Scheduler.RunOnStart {
		for _, info := range jobInfos {
			if _, err := sched.RunNow(ctx, info.Name); err != nil {
				log.Error("initial job run failed", "job", info.Name, "error", err)
			}
		}
	}

	log.Info("ClassPulse Core worker is running",
		"recompute_interval", cfg.Scheduler.RecomputeInterval.String(),
		"analyze_interval", cfg.Scheduler.AnalyzeInterval.String(),
	)

	return waitForShutdown(ctx, log, cfg.App.ShutdownTimeout)
}

// buildAnalyzer assembles the detector set according to feature flags.
// With everything enabled this matches insight.DefaultDetectors.
func buildAnalyzer(flags *config.FeatureFlags) *insight.Analyzer {
	var detectors []insight.Detector
	if flags.IsEnabled(config.FeatureDetectorLatePattern, nil) {
		detectors = append(detectors, insight.NewLatePatternDetector())
	}
	if flags.IsEnabled(config.FeatureDetectorAttemptBurst, nil) {
		detectors = append(detectors, insight.NewAttemptBurstDetector())
	}
	if flags.IsEnabled(config.FeatureDetectorGradebookDrift, nil) {
		detectors = append(detectors, insight.NewGradebookDriftDetector())
	}
	if flags.IsEnabled(config.FeatureDetectorAttemptDropoff, nil) {
		detectors = append(detectors, insight.NewAttemptDropoffDetector())
	}
	// NewAnalyzerWith honors an empty set; NewAnalyzer would silently
	// substitute the default detectors when every toggle is off.
	return insight.NewAnalyzerWith(detectors)
}

// buildSchedule prefers a cron expression when configured, falling back
// to a fixed interval.
func buildSchedule(cronExpr string, interval time.Duration) (scheduler.Schedule, error) {
	if cronExpr == "" {
		return scheduler.NewIntervalSchedule(interval), nil
	}
	return scheduler.ParseCronExpression(cronExpr)
}

// parseCourses validates the configured course IDs.
func parseCourses(raw []string) ([]shared.CourseID, error) {
	courses := make([]shared.CourseID, 0, len(raw))
	for _, s := range raw {
		courseID, err := shared.NewCourseID(s)
		if err != nil {
			return nil, fmt.Errorf("course %q: %w", s, err)
		}
		courses = append(courses, courseID)
	}
	return courses, nil
}

// waitForShutdown blocks until a termination signal or context cancel.
func waitForShutdown(ctx context.Context, log *slog.Logger, timeout time.Duration) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	log.Info("starting graceful shutdown", "timeout", timeout.String())
	return nil
}
