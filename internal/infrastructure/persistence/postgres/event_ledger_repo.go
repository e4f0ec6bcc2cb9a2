package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
	"github.com/classpulse/classpulse-core/pkg/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT LEDGER REPOSITORY
// Append-only storage for domain events. The idempotency key carries a
// unique constraint, so a duplicate emit inserts nothing and the re-read
// returns the original row unchanged.
// ══════════════════════════════════════════════════════════════════════════════

// EventLedgerRepo implements ledger.Ledger on PostgreSQL.
type EventLedgerRepo struct {
	conn    *Connection
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEventLedgerRepo creates a new EventLedgerRepo. m may be nil.
func NewEventLedgerRepo(conn *Connection, m *metrics.Metrics) *EventLedgerRepo {
	return &EventLedgerRepo{conn: conn, metrics: m, now: time.Now}
}

const insertEventSQL = `
	INSERT INTO domain_events (
		event_id, event_type, course_id, actor_uid, actor_role,
		aggregate_kind, aggregate_id, aggregate_version,
		payload, idempotency_key, request_id, occurred_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (idempotency_key) DO NOTHING
`

const selectEventSQL = `
	SELECT event_id, event_type, course_id, actor_uid, actor_role,
	       aggregate_kind, aggregate_id, aggregate_version,
	       payload, idempotency_key, request_id, occurred_at
	FROM domain_events
`

// Append stores the event derived from input. Create-if-absent: when a
// row already exists for the idempotency key, that stored row is
// returned and nothing is written.
func (r *EventLedgerRepo) Append(ctx context.Context, in ledger.EventInput) (*ledger.DomainEvent, error) {
	ev, err := ledger.NewDomainEvent(in, r.now())
	if err != nil {
		return nil, err
	}

	inserted, err := appendEvent(ctx, r.conn.Pool(), ev)
	if err != nil {
		return nil, err
	}
	r.metrics.ObserveAppend(string(ev.Type), inserted)

	// Re-read through the key: on a dedupe hit the stored event wins,
	// whatever this call supplied.
	return r.GetByKey(ctx, ev.IdempotencyKey)
}

// appendEvent runs the conflict-tolerant insert on any Querier, so the
// gradebook store can append inside its own transaction. Returns false
// when the idempotency key already held a row and nothing was written.
func appendEvent(ctx context.Context, q Querier, ev *ledger.DomainEvent) (bool, error) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to marshal event payload: %w", err)
	}

	tag, err := q.Exec(ctx, insertEventSQL,
		ev.EventID,
		string(ev.Type),
		ev.CourseID.String(),
		ev.ActorUID,
		string(ev.ActorRole),
		string(ev.Aggregate.Kind),
		ev.Aggregate.ID,
		ev.Aggregate.Version,
		payload,
		ev.IdempotencyKey,
		nullableString(ev.RequestID),
		ev.At,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to append event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID returns a single event by its derived ID.
func (r *EventLedgerRepo) GetByID(ctx context.Context, eventID string) (*ledger.DomainEvent, error) {
	row := r.conn.QueryRow(ctx, selectEventSQL+" WHERE event_id = $1", eventID)
	ev, err := scanEvent(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEventNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get event: %w", err)
	}
	return ev, nil
}

// GetByKey returns the event stored for an idempotency key, if any.
func (r *EventLedgerRepo) GetByKey(ctx context.Context, idempotencyKey string) (*ledger.DomainEvent, error) {
	row := r.conn.QueryRow(ctx, selectEventSQL+" WHERE idempotency_key = $1", idempotencyKey)
	ev, err := scanEvent(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEventNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get event by key: %w", err)
	}
	return ev, nil
}

// ListByCourse returns a course's events since a time, ordered by
// (occurred_at, event_id), up to limit (0 = no limit).
func (r *EventLedgerRepo) ListByCourse(ctx context.Context, courseID shared.CourseID, since time.Time, limit int) ([]ledger.DomainEvent, error) {
	query := selectEventSQL + `
		WHERE course_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at, event_id`
	args := []interface{}{courseID.String(), since}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list events: %w", err)
	}
	defer rows.Close()

	var events []ledger.DomainEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// CountByType returns the number of stored events per event type.
func (r *EventLedgerRepo) CountByType(ctx context.Context, courseID shared.CourseID) (map[shared.EventType]int, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT event_type, COUNT(*) FROM domain_events
		WHERE course_id = $1
		GROUP BY event_type`, courseID.String())
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[shared.EventType]int)
	for rows.Next() {
		var eventType string
		var n int
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan count: %w", err)
		}
		counts[shared.EventType(eventType)] = n
	}
	return counts, rows.Err()
}

// scanEvent reads one event from a row.
func scanEvent(row pgx.Row) (*ledger.DomainEvent, error) {
	var (
		ev        ledger.DomainEvent
		eventType string
		courseID  string
		actorRole string
		aggKind   string
		payload   []byte
		requestID *string
	)

	err := row.Scan(
		&ev.EventID,
		&eventType,
		&courseID,
		&ev.ActorUID,
		&actorRole,
		&aggKind,
		&ev.Aggregate.ID,
		&ev.Aggregate.Version,
		&payload,
		&ev.IdempotencyKey,
		&requestID,
		&ev.At,
	)
	if err != nil {
		return nil, err
	}

	ev.Type = shared.EventType(eventType)
	ev.CourseID = shared.CourseID(courseID)
	ev.ActorRole = shared.ActorRole(actorRole)
	ev.Aggregate.Kind = shared.AggregateKind(aggKind)
	if requestID != nil {
		ev.RequestID = *requestID
	}
	ev.At = ev.At.UTC()

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &ev.Data); err != nil {
			return nil, fmt.Errorf("invalid event payload: %w", err)
		}
	}
	return &ev, nil
}

// nullableString maps "" to SQL NULL.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
