package bus

import (
	"sync"

	"github.com/google/uuid"
)

var _ Bus = (*inMemoryBus)(nil)

type subscription struct {
	id        string
	eventType EventType
	handler   Handler
	cancel    func()
}

func (s *subscription) ID() string { return s.id }
func (s *subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// inMemoryBus is a thread-safe Bus keyed by entity topic.
type inMemoryBus struct {
	mu sync.RWMutex
	// handlers: entityID -> subID -> subscription
	handlers map[string]map[string]*subscription
}

// New creates an in-memory Bus.
func New() Bus {
	return &inMemoryBus{
		handlers: make(map[string]map[string]*subscription),
	}
}

func (b *inMemoryBus) Subscribe(entityID string, eventType EventType, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[entityID] == nil {
		b.handlers[entityID] = make(map[string]*subscription)
	}
	id := uuid.NewString()
	s := &subscription{id: id, eventType: eventType, handler: handler}
	s.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m, ok := b.handlers[entityID]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(b.handlers, entityID)
			}
		}
	}
	b.handlers[entityID][id] = s
	return s
}

func (b *inMemoryBus) Publish(event Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, 4)
	for _, topic := range []string{event.EntityID, AnyEntity} {
		for _, s := range b.handlers[topic] {
			if s.eventType == "" || s.eventType == event.Type {
				subs = append(subs, s)
			}
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(event)
	}
}
