package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

func busEvent(eventType shared.EventType, aggregateID string) ledger.DomainEvent {
	return ledger.DomainEvent{
		EventID:   ledger.EventIDFromKey("test:" + aggregateID),
		Type:      eventType,
		CourseID:  shared.CourseID("11111111-0000-4000-8000-000000000001"),
		Aggregate: ledger.Aggregate{Kind: shared.AggregateGradebookEntry, ID: aggregateID},
		Data:      map[string]any{"score": 8.0},
		At:        time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
}

func newSyncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
}

func TestInMemoryEventBus_FansOutByType(t *testing.T) {
	bus := newSyncBus()
	defer bus.Close()

	var graded, all []shared.Event
	require.NoError(t, bus.Subscribe(shared.EventGradeMutated, func(e shared.Event) error {
		graded = append(graded, e)
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e)
		return nil
	}))

	require.NoError(t, bus.Publish(busEvent(shared.EventGradeMutated, "entry-1")))
	require.NoError(t, bus.Publish(busEvent(shared.EventSubmissionReceived, "sub-1")))

	assert.Len(t, graded, 1)
	assert.Equal(t, "entry-1", graded[0].AggregateID())
	assert.Len(t, all, 2)
}

func TestInMemoryEventBus_NilArguments(t *testing.T) {
	bus := newSyncBus()
	defer bus.Close()

	assert.Error(t, bus.Subscribe(shared.EventGradeMutated, nil))
	assert.Error(t, bus.SubscribeAll(nil))
	assert.Error(t, bus.Publish(nil))
}

func TestInMemoryEventBus_ClosedBusRejectsOperations(t *testing.T) {
	bus := newSyncBus()
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(busEvent(shared.EventGradeMutated, "entry-1")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventGradeMutated, func(shared.Event) error { return nil }), ErrEventBusClosed)

	// Second close is a no-op.
	assert.NoError(t, bus.Close())
}

func TestInMemoryEventBus_AsyncDeliversBeforeClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var mu sync.Mutex
	var seen int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(busEvent(shared.EventGradeMutated, "entry-1")))
	}

	// Close waits for in-flight handlers.
	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, seen)
}

// fakeRedisClient captures published payloads and lets tests inject
// incoming Pub/Sub messages.
type fakeRedisClient struct {
	mu        sync.Mutex
	published []string
	incoming  chan RedisMessage
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{incoming: make(chan RedisMessage, 16)}
}

func (c *fakeRedisClient) Publish(_ context.Context, _ string, message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, message.(string))
	return nil
}

func (c *fakeRedisClient) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	return c.incoming, nil
}

func (c *fakeRedisClient) Close() error { return nil }

func (c *fakeRedisClient) publishedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func (c *fakeRedisClient) lastPublished() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published[len(c.published)-1]
}

func TestRedisEventBus_PublishReachesRedisAndLocal(t *testing.T) {
	client := newFakeRedisClient()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         client,
		InstanceID:     "instance-a",
		LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
	})
	require.NoError(t, err)
	defer bus.Close()

	var local []shared.Event
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		local = append(local, e)
		return nil
	}))

	require.NoError(t, bus.Publish(busEvent(shared.EventGradeMutated, "entry-1")))

	assert.Len(t, local, 1)
	require.Equal(t, 1, client.publishedCount())
	assert.Contains(t, client.lastPublished(), `"instance-a"`)
	assert.Contains(t, client.lastPublished(), string(shared.EventGradeMutated))
}

func TestRedisEventBus_DeliversRemoteAndFiltersSelf(t *testing.T) {
	client := newFakeRedisClient()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         client,
		InstanceID:     "instance-a",
		LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
	})
	require.NoError(t, err)
	defer bus.Close()

	var mu sync.Mutex
	var seen []string
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		mu.Lock()
		seen = append(seen, e.AggregateID())
		mu.Unlock()
		return nil
	}))

	// A message from another instance is delivered locally.
	client.incoming <- RedisMessage{Payload: `{"instance_id":"instance-b","event_type":"grade.mutated","aggregate_id":"remote-1","occurred_at":"2026-03-15T12:00:00Z","payload":{"score":5}}`}
	// A message from ourselves is dropped: it was already handled locally.
	client.incoming <- RedisMessage{Payload: `{"instance_id":"instance-a","event_type":"grade.mutated","aggregate_id":"self-1","occurred_at":"2026-03-15T12:00:00Z"}`}
	// Malformed payloads are logged and skipped.
	client.incoming <- RedisMessage{Payload: `{not json`}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == "remote-1"
	}, time.Second, 10*time.Millisecond)
}

func TestRedisEventBus_RequiresClient(t *testing.T) {
	_, err := NewRedisEventBus(RedisEventBusConfig{})
	require.Error(t, err)
}
