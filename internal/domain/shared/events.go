// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the domain.
const (
	// Grade events
	EventGradeMutated     EventType = "grade.mutated"
	EventSourceRegistered EventType = "grade.source_registered"

	// Gradebook integrity events
	EventRecomputeCompleted EventType = "gradebook.recompute.completed"

	// Submission events
	EventSubmissionReceived EventType = "submission.received"
	EventSubmissionLate     EventType = "submission.late"

	// Test attempt events
	EventTestAttemptStarted   EventType = "test.attempt.started"
	EventTestAttemptSubmitted EventType = "test.attempt.submitted"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// IsValid reports whether the event type is one this core understands.
// The ledger may contain entries from future schema versions; unknown
// types are stored and scanned but skipped by consumers.
func (t EventType) IsValid() bool {
	switch t {
	case EventGradeMutated, EventSourceRegistered,
		EventRecomputeCompleted,
		EventSubmissionReceived, EventSubmissionLate,
		EventTestAttemptStarted, EventTestAttemptSubmitted:
		return true
	}
	return false
}

// ActorRole identifies the role of the actor that caused a mutation.
type ActorRole string

const (
	RoleTeacher ActorRole = "teacher"
	RoleStudent ActorRole = "student"
	RoleSystem  ActorRole = "system"
)

// AggregateKind identifies the kind of aggregate an event belongs to.
type AggregateKind string

const (
	AggregateGradeRecord    AggregateKind = "grade_record"
	AggregateGradebookEntry AggregateKind = "gradebook_entry"
	AggregateSubmission     AggregateKind = "submission"
	AggregateTestAttempt    AggregateKind = "test_attempt"
	AggregateCourse         AggregateKind = "course"
)

// Event is the base interface for all domain events published on the bus.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]any
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
