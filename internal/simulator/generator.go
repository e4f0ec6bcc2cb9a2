// Package simulator generates synthetic ledger snapshots for exercising
// the insight analyzer without a live store. Generation is fully
// deterministic for a given seed and base time, so detector tests and
// dev tooling can assert on exact output.
package simulator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// Scenario mix defaults.
const (
	DefaultLateRepeaters    = 3
	DefaultSingleLate       = 5
	DefaultBurstAttempts    = 15
	DefaultBurstWindow      = 45 * time.Minute
	DefaultSpreadAttempts   = 6
	DefaultSpreadOver       = 7 * 24 * time.Hour
	DefaultDropoffStudents  = 6
	DefaultFinishedAttempts = 6
	DefaultDriftedStudents  = 2
	DefaultDriftDelta       = 7.0
	DefaultAttemptMinutes   = 60.0
)

// Config controls the scenario mix one generator run produces.
type Config struct {
	// Seed drives every random choice. Same seed, same events.
	Seed int64

	// CourseID scopes all generated events. Empty picks a random one.
	CourseID shared.CourseID

	// Now is the snapshot end. All events land strictly before it.
	Now time.Time

	// LateRepeaters is the number of students with repeated late
	// submissions (three each, enough to trip the late detector).
	LateRepeaters int

	// SingleLate is the number of students with exactly one late
	// submission (below the repeat threshold).
	SingleLate int

	// BurstAttempts is the number of test attempt starts packed into
	// BurstWindow immediately before Now.
	BurstAttempts int
	BurstWindow   time.Duration

	// SpreadAttempts are attempt starts scattered over SpreadOver,
	// too sparse to register as a burst.
	SpreadAttempts int
	SpreadOver     time.Duration

	// DropoffStudents start an attempt whose deadline has passed and
	// never submit.
	DropoffStudents int

	// FinishedAttempts start and submit within the allotted duration.
	FinishedAttempts int

	// DriftedStudents each get one recompute event carrying DriftDelta.
	DriftedStudents int
	DriftDelta      float64
}

// DefaultConfig returns the standard mix: every detector has something
// to find, plus enough clean traffic to exercise the negative paths.
func DefaultConfig(seed int64, now time.Time) Config {
	return Config{
		Seed:             seed,
		Now:              now,
		LateRepeaters:    DefaultLateRepeaters,
		SingleLate:       DefaultSingleLate,
		BurstAttempts:    DefaultBurstAttempts,
		BurstWindow:      DefaultBurstWindow,
		SpreadAttempts:   DefaultSpreadAttempts,
		SpreadOver:       DefaultSpreadOver,
		DropoffStudents:  DefaultDropoffStudents,
		FinishedAttempts: DefaultFinishedAttempts,
		DriftedStudents:  DefaultDriftedStudents,
		DriftDelta:       DefaultDriftDelta,
	}
}

// Generator produces deterministic event snapshots.
type Generator struct {
	config Config
	rng    *rand.Rand
	seq    int
}

// New creates a generator for the given config.
func New(config Config) *Generator {
	if config.Now.IsZero() {
		config.Now = time.Now().UTC()
	}
	g := &Generator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
	if config.CourseID.IsEmpty() {
		g.config.CourseID = shared.CourseID(g.id())
	}
	return g
}

// CourseID returns the course all generated events belong to.
func (g *Generator) CourseID() shared.CourseID {
	return g.config.CourseID
}

// Generate builds the full snapshot for the configured mix, sorted in
// ledger order. Calling it twice on one generator advances the random
// stream; build a fresh generator to reproduce a snapshot.
func (g *Generator) Generate() ([]ledger.DomainEvent, error) {
	var events []ledger.DomainEvent

	add := func(evs []ledger.DomainEvent, err error) error {
		if err != nil {
			return err
		}
		events = append(events, evs...)
		return nil
	}

	for i := 0; i < g.config.LateRepeaters; i++ {
		if err := add(g.lateSubmissions(g.id(), 3)); err != nil {
			return nil, err
		}
	}
	for i := 0; i < g.config.SingleLate; i++ {
		if err := add(g.lateSubmissions(g.id(), 1)); err != nil {
			return nil, err
		}
	}
	if err := add(g.attemptBurst(g.config.BurstAttempts, g.config.BurstWindow)); err != nil {
		return nil, err
	}
	if err := add(g.spreadAttempts(g.config.SpreadAttempts, g.config.SpreadOver)); err != nil {
		return nil, err
	}
	for i := 0; i < g.config.DropoffStudents; i++ {
		if err := add(g.attempt(g.id(), false)); err != nil {
			return nil, err
		}
	}
	for i := 0; i < g.config.FinishedAttempts; i++ {
		if err := add(g.attempt(g.id(), true)); err != nil {
			return nil, err
		}
	}
	for i := 0; i < g.config.DriftedStudents; i++ {
		if err := add(g.recompute(g.id(), g.config.DriftDelta)); err != nil {
			return nil, err
		}
	}

	ledger.SortEvents(events)
	return events, nil
}

// lateSubmissions emits n submission.late events for one student, each
// against a distinct assignment, scattered over the past two weeks.
func (g *Generator) lateSubmissions(studentID string, n int) ([]ledger.DomainEvent, error) {
	events := make([]ledger.DomainEvent, 0, n)
	for i := 0; i < n; i++ {
		assignmentID := g.id()
		at := g.config.Now.Add(-g.duration(13 * 24 * time.Hour)).Add(-time.Hour)
		ev, err := g.event(ledger.EventInput{
			Type:      shared.EventSubmissionLate,
			CourseID:  g.config.CourseID,
			ActorUID:  studentID,
			ActorRole: shared.RoleStudent,
			Aggregate: ledger.Aggregate{
				Kind: shared.AggregateSubmission,
				ID:   fmt.Sprintf("assignment:%s:%s", assignmentID, studentID),
			},
			Payload: map[string]any{
				"studentId":       studentID,
				"sourceType":      "assignment",
				"sourceId":        assignmentID,
				"latenessMinutes": float64(1 + g.rng.Intn(240)),
			},
			IdempotencyKey: ledger.Key(shared.EventSubmissionLate, g.config.CourseID, 1, "assignment", assignmentID, studentID),
			OccurredAt:     at,
		})
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, nil
}

// attemptBurst packs n attempt starts by distinct students into the
// window immediately before Now.
func (g *Generator) attemptBurst(n int, window time.Duration) ([]ledger.DomainEvent, error) {
	testID := g.id()
	events := make([]ledger.DomainEvent, 0, n)
	for i := 0; i < n; i++ {
		at := g.config.Now.Add(-g.duration(window - time.Minute)).Add(-time.Second)
		ev, err := g.attemptStart(testID, g.id(), at)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, nil
}

// spreadAttempts scatters n attempt starts evenly over the given span,
// each followed by a matching submit.
func (g *Generator) spreadAttempts(n int, over time.Duration) ([]ledger.DomainEvent, error) {
	if n == 0 {
		return nil, nil
	}
	testID := g.id()
	step := over / time.Duration(n)
	events := make([]ledger.DomainEvent, 0, 2*n)
	for i := 0; i < n; i++ {
		studentID := g.id()
		at := g.config.Now.Add(-over).Add(step * time.Duration(i))
		start, err := g.attemptStart(testID, studentID, at)
		if err != nil {
			return nil, err
		}
		submit, err := g.attemptSubmit(start, at.Add(time.Duration(5+g.rng.Intn(40))*time.Minute))
		if err != nil {
			return nil, err
		}
		events = append(events, *start, *submit)
	}
	return events, nil
}

// attempt produces one started attempt old enough that its deadline has
// passed, optionally followed by an in-time submit.
func (g *Generator) attempt(studentID string, finished bool) ([]ledger.DomainEvent, error) {
	testID := g.id()
	at := g.config.Now.Add(-time.Duration(DefaultAttemptMinutes)*time.Minute - g.duration(48*time.Hour) - time.Minute)
	start, err := g.attemptStart(testID, studentID, at)
	if err != nil {
		return nil, err
	}
	if !finished {
		return []ledger.DomainEvent{*start}, nil
	}
	submit, err := g.attemptSubmit(start, at.Add(time.Duration(10+g.rng.Intn(45))*time.Minute))
	if err != nil {
		return nil, err
	}
	return []ledger.DomainEvent{*start, *submit}, nil
}

func (g *Generator) attemptStart(testID, studentID string, at time.Time) (*ledger.DomainEvent, error) {
	attemptID := g.id()
	return g.event(ledger.EventInput{
		Type:      shared.EventTestAttemptStarted,
		CourseID:  g.config.CourseID,
		ActorUID:  studentID,
		ActorRole: shared.RoleStudent,
		Aggregate: ledger.Aggregate{
			Kind: shared.AggregateTestAttempt,
			ID:   attemptID,
		},
		Payload: map[string]any{
			"attemptId":       attemptID,
			"testId":          testID,
			"studentId":       studentID,
			"durationMinutes": DefaultAttemptMinutes,
		},
		IdempotencyKey: ledger.Key(shared.EventTestAttemptStarted, g.config.CourseID, 1, testID, attemptID),
		OccurredAt:     at,
	})
}

func (g *Generator) attemptSubmit(start *ledger.DomainEvent, at time.Time) (*ledger.DomainEvent, error) {
	attemptID, _ := start.Data["attemptId"].(string)
	testID, _ := start.Data["testId"].(string)
	return g.event(ledger.EventInput{
		Type:      shared.EventTestAttemptSubmitted,
		CourseID:  g.config.CourseID,
		ActorUID:  start.ActorUID,
		ActorRole: shared.RoleStudent,
		Aggregate: ledger.Aggregate{
			Kind: shared.AggregateTestAttempt,
			ID:   attemptID,
		},
		Payload: map[string]any{
			"attemptId":      attemptID,
			"testId":         testID,
			"studentId":      start.ActorUID,
			"elapsedSeconds": at.Sub(start.At).Seconds(),
			"late":           false,
		},
		IdempotencyKey: ledger.Key(shared.EventTestAttemptSubmitted, g.config.CourseID, 1, testID, attemptID),
		OccurredAt:     at,
	})
}

// recompute emits one gradebook.recompute.completed event carrying the
// given score delta for a drifted student.
func (g *Generator) recompute(studentID string, delta float64) ([]ledger.DomainEvent, error) {
	runID := g.id()
	expected := float64(50 + g.rng.Intn(50))
	ev, err := g.event(ledger.EventInput{
		Type:      shared.EventRecomputeCompleted,
		CourseID:  g.config.CourseID,
		ActorUID:  "recompute_gradebook",
		ActorRole: shared.RoleSystem,
		Aggregate: ledger.Aggregate{
			Kind: shared.AggregateGradebookEntry,
			ID:   studentID,
		},
		Payload: map[string]any{
			"studentId":        studentID,
			"runId":            runID,
			"expectedScore":    expected,
			"liveScore":        expected + delta,
			"expectedPossible": 100.0,
			"livePossible":     100.0,
			"deltaScore":       delta,
			"deltaPossible":    0.0,
		},
		IdempotencyKey: ledger.Key(shared.EventRecomputeCompleted, g.config.CourseID, 1, runID, studentID),
		OccurredAt:     g.config.Now.Add(-time.Minute),
	})
	if err != nil {
		return nil, err
	}
	return []ledger.DomainEvent{*ev}, nil
}

func (g *Generator) event(in ledger.EventInput) (*ledger.DomainEvent, error) {
	g.seq++
	// Keep coincident timestamps apart so ledger order is stable across
	// runs regardless of map iteration upstream.
	in.OccurredAt = in.OccurredAt.Add(time.Duration(g.seq) * time.Millisecond).UTC()
	return ledger.NewDomainEvent(in, g.config.Now)
}

// id draws a UUID from the seeded stream.
func (g *Generator) id() string {
	u, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		// math/rand Read never fails.
		panic(err)
	}
	return u.String()
}

// duration draws a uniform duration in [0, max).
func (g *Generator) duration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(g.rng.Int63n(int64(max)))
}
