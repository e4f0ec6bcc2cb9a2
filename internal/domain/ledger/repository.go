// Package ledger contains the append-only domain event ledger.
package ledger

import (
	"context"
	"time"

	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// Writer appends immutable domain events.
// This interface is implemented by the infrastructure layer.
type Writer interface {
	// Append stores the event derived from input, or returns the already
	// stored event unchanged when one exists for the same idempotency key.
	// Create-if-absent: safe under concurrent duplicate emits.
	Append(ctx context.Context, in EventInput) (*DomainEvent, error)
}

// Reader provides read-only access to the ledger for analysis and audit.
type Reader interface {
	// GetByID returns a single event by its derived ID.
	GetByID(ctx context.Context, eventID string) (*DomainEvent, error)

	// GetByKey returns the event stored for an idempotency key, if any.
	GetByKey(ctx context.Context, idempotencyKey string) (*DomainEvent, error)

	// ListByCourse returns events for a course with occurredAt >= since,
	// ordered by (occurredAt, eventID), up to limit (0 = no limit).
	// The returned slice is a snapshot: callers own it and the ledger
	// never mutates it afterwards.
	ListByCourse(ctx context.Context, courseID shared.CourseID, since time.Time, limit int) ([]DomainEvent, error)

	// CountByType returns the number of stored events per event type for
	// a course. Used by operational reporting.
	CountByType(ctx context.Context, courseID shared.CourseID) (map[shared.EventType]int, error)
}

// Ledger combines writing and reading.
type Ledger interface {
	Writer
	Reader
}
