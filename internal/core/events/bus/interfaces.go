// Package bus is the event-channel abstraction between the sync engine and
// whatever observes it (a UI binding, a headless test harness). The engine
// publishes lifecycle events per entity; observers subscribe without the
// engine knowing who is listening.
package bus

import (
	"time"

	"github.com/driftsync/driftsync/internal/core/mutation"
)

// EventType names a queue or record lifecycle transition.
type EventType string

const (
	EventEnqueued   EventType = "record.enqueued"
	EventSynced     EventType = "record.synced"
	EventSkipped    EventType = "record.skipped"
	EventConflict   EventType = "record.conflict"
	EventResolved   EventType = "record.resolved"
	EventQueueState EventType = "queue.state"
)

// AnyEntity subscribes across every entity topic.
const AnyEntity = "*"

// Event is one observable engine transition. Record is a snapshot; mutating
// it has no effect on the store.
type Event struct {
	Type      EventType
	EntityID  string
	Record    mutation.Record
	Detail    string
	Timestamp time.Time
}

// Handler consumes one event. Handlers run synchronously on the publishing
// goroutine and must not block.
type Handler func(Event)

// Subscription is a cancellable registration.
type Subscription interface {
	ID() string
	Cancel()
}

// Bus delivers engine events to subscribers, keyed by entity id.
type Bus interface {
	// Publish delivers the event to subscribers of its entity and to
	// AnyEntity subscribers.
	Publish(event Event)

	// Subscribe registers a handler for one entity's events; use AnyEntity
	// to observe every queue. An empty eventType matches all types.
	Subscribe(entityID string, eventType EventType, handler Handler) Subscription
}
