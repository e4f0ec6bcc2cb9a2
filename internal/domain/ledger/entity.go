// Package ledger contains the append-only domain event ledger: immutable
// records of everything that happened to grades, submissions, and test
// attempts, keyed for at-most-once storage.
package ledger

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// EventIDLength is the length of a derived event ID in hex characters.
const EventIDLength = 32

// EventIDFromKey derives the deterministic event identity from an
// idempotency key. Content-addressing: the same key always maps to the
// same event ID, so a retried emit collides with the stored row instead
// of duplicating it.
func EventIDFromKey(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:EventIDLength]
}

// Key builds an idempotency key following the convention
// "{type}:{courseId}:{...identifying path}:v{version}".
func Key(eventType shared.EventType, courseID shared.CourseID, version int, path ...string) string {
	parts := make([]string, 0, len(path)+3)
	parts = append(parts, string(eventType), string(courseID))
	parts = append(parts, path...)
	parts = append(parts, fmt.Sprintf("v%d", version))
	return strings.Join(parts, ":")
}

// Aggregate identifies the persistent object an event belongs to.
type Aggregate struct {
	Kind    shared.AggregateKind `json:"kind"`
	ID      string               `json:"id"`
	Version int                  `json:"version,omitempty"`
}

// DomainEvent is an immutable record of something that happened.
// Created once per successful mutation, never updated, never deleted.
// At most one stored event exists per idempotency key.
type DomainEvent struct {
	EventID        string           `json:"eventId"`
	Type           shared.EventType `json:"type"`
	CourseID       shared.CourseID  `json:"courseId"`
	ActorUID       string           `json:"actorUid"`
	ActorRole      shared.ActorRole `json:"actorRole"`
	Aggregate      Aggregate        `json:"aggregate"`
	Data           map[string]any   `json:"payload"`
	IdempotencyKey string           `json:"idempotencyKey"`
	RequestID      string           `json:"requestId,omitempty"`
	At             time.Time        `json:"occurredAt"`
}

// EventType implements shared.Event.
func (e DomainEvent) EventType() shared.EventType {
	return e.Type
}

// OccurredAt implements shared.Event.
func (e DomainEvent) OccurredAt() time.Time {
	return e.At
}

// AggregateID implements shared.Event.
func (e DomainEvent) AggregateID() string {
	return e.Aggregate.ID
}

// Payload implements shared.Event.
func (e DomainEvent) Payload() map[string]any {
	return e.Data
}

// EventInput is the caller-supplied part of a domain event. The event ID
// is never supplied: it is always derived from the idempotency key.
type EventInput struct {
	Type           shared.EventType
	CourseID       shared.CourseID
	ActorUID       string
	ActorRole      shared.ActorRole
	Aggregate      Aggregate
	Payload        map[string]any
	IdempotencyKey string
	RequestID      string
	OccurredAt     time.Time
}

// Validate rejects malformed inputs before any write happens.
func (in EventInput) Validate() error {
	if strings.TrimSpace(in.IdempotencyKey) == "" {
		return shared.ErrEmptyIdempotencyKey
	}
	if strings.TrimSpace(string(in.Type)) == "" {
		return shared.ErrEmptyEventType
	}
	if in.CourseID.IsEmpty() {
		return shared.NewDomainError("ledger", "Append", shared.ErrEmptyValue, "course ID cannot be empty")
	}
	if strings.TrimSpace(in.Aggregate.ID) == "" {
		return shared.NewDomainError("ledger", "Append", shared.ErrEmptyValue, "aggregate ID cannot be empty")
	}
	return nil
}

// NewDomainEvent materializes an input into a storable event, deriving
// the event ID from the idempotency key. occurredAt defaults to now.
func NewDomainEvent(in EventInput, now time.Time) (*DomainEvent, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	at := in.OccurredAt
	if at.IsZero() {
		at = now
	}

	return &DomainEvent{
		EventID:        EventIDFromKey(in.IdempotencyKey),
		Type:           in.Type,
		CourseID:       in.CourseID,
		ActorUID:       in.ActorUID,
		ActorRole:      in.ActorRole,
		Aggregate:      in.Aggregate,
		Data:           in.Payload,
		IdempotencyKey: in.IdempotencyKey,
		RequestID:      in.RequestID,
		At:             at.UTC(),
	}, nil
}

// SortEvents orders a snapshot deterministically by (occurredAt, eventID).
// Analyzer passes depend on this ordering for reproducible output.
func SortEvents(events []DomainEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].At.Equal(events[j].At) {
			return events[i].EventID < events[j].EventID
		}
		return events[i].At.Before(events[j].At)
	})
}
