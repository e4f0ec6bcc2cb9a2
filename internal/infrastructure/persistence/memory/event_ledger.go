// Package memory implements in-memory persistence. Used by tests and the
// simulator; behavior mirrors the postgres implementations, including
// idempotent appends and conflict-free entry advancement.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// EventLedger implements ledger.Ledger in memory.
type EventLedger struct {
	mu    sync.RWMutex
	byKey map[string]*ledger.DomainEvent
	byID  map[string]*ledger.DomainEvent
	now   func() time.Time
}

// NewEventLedger creates an empty in-memory ledger.
func NewEventLedger() *EventLedger {
	return &EventLedger{
		byKey: make(map[string]*ledger.DomainEvent),
		byID:  make(map[string]*ledger.DomainEvent),
		now:   time.Now,
	}
}

// SetClock overrides the append timestamp source. Test helper.
func (l *EventLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Append stores the event derived from input, or returns the stored
// event unchanged when the idempotency key already exists.
func (l *EventLedger) Append(_ context.Context, in ledger.EventInput) (*ledger.DomainEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev, err := ledger.NewDomainEvent(in, l.now())
	if err != nil {
		return nil, err
	}

	if existing, ok := l.byKey[ev.IdempotencyKey]; ok {
		cp := *existing
		return &cp, nil
	}

	l.byKey[ev.IdempotencyKey] = ev
	l.byID[ev.EventID] = ev
	cp := *ev
	return &cp, nil
}

// GetByID returns a single event by its derived ID.
func (l *EventLedger) GetByID(_ context.Context, eventID string) (*ledger.DomainEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ev, ok := l.byID[eventID]
	if !ok {
		return nil, shared.ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

// GetByKey returns the event stored for an idempotency key, if any.
func (l *EventLedger) GetByKey(_ context.Context, idempotencyKey string) (*ledger.DomainEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ev, ok := l.byKey[idempotencyKey]
	if !ok {
		return nil, shared.ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

// ListByCourse returns a copied snapshot of a course's events since a
// time, ordered by (occurredAt, eventID).
func (l *EventLedger) ListByCourse(_ context.Context, courseID shared.CourseID, since time.Time, limit int) ([]ledger.DomainEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var events []ledger.DomainEvent
	for _, ev := range l.byKey {
		if ev.CourseID != courseID || ev.At.Before(since) {
			continue
		}
		events = append(events, *ev)
	}
	ledger.SortEvents(events)
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// CountByType returns the number of stored events per event type.
func (l *EventLedger) CountByType(_ context.Context, courseID shared.CourseID) (map[shared.EventType]int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := make(map[shared.EventType]int)
	for _, ev := range l.byKey {
		if ev.CourseID == courseID {
			counts[ev.Type]++
		}
	}
	return counts, nil
}

// Len returns the number of stored events. Test helper.
func (l *EventLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byKey)
}
