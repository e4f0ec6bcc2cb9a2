// Package audit implements an append-only audit trail fed from the
// event bus. Every published domain event is written as one JSON line;
// the sink never blocks publishers and never mutates what it records.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// Record is one audit trail line.
type Record struct {
	EventType   shared.EventType `json:"event_type"`
	AggregateID string           `json:"aggregate_id"`
	OccurredAt  time.Time        `json:"occurred_at"`
	RecordedAt  time.Time        `json:"recorded_at"`
	Payload     map[string]any   `json:"payload,omitempty"`
}

// Sink writes audit records to an output stream.
type Sink struct {
	mu     sync.Mutex
	out    io.Writer
	logger *slog.Logger
	now    func() time.Time

	written int64
	failed  int64
}

// NewSink creates a Sink writing JSON lines to out.
func NewSink(out io.Writer, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{out: out, logger: logger, now: time.Now}
}

// Attach subscribes the sink to every event on the bus.
func (s *Sink) Attach(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(s.Handle)
}

// Handle records one event. Failures are counted and logged, never
// propagated: the audit trail must not fail the operation it observes.
func (s *Sink) Handle(event shared.Event) error {
	rec := Record{
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		RecordedAt:  s.now().UTC(),
		Payload:     event.Payload(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		s.fail(err)
		return nil
	}

	s.mu.Lock()
	_, err = fmt.Fprintf(s.out, "%s\n", data)
	if err == nil {
		s.written++
	}
	s.mu.Unlock()

	if err != nil {
		s.fail(err)
	}
	return nil
}

func (s *Sink) fail(err error) {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
	s.logger.Error("audit write failed", "error", err)
}

// Stats returns the written/failed counters.
func (s *Sink) Stats() (written, failed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written, s.failed
}
