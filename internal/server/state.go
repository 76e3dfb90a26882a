package server

import (
	"encoding/json"
	"sync"

	"github.com/driftsync/driftsync/internal/core/clock"
	"github.com/driftsync/driftsync/internal/core/mutation"
	"github.com/driftsync/driftsync/internal/core/protocol"
)

// entityVersion is the server-side truth for one entity.
type entityVersion struct {
	clock clock.VClock
	value json.RawMessage
}

// stateTable holds authoritative entity versions plus the set of applied
// record ids, which makes re-sent records idempotent.
type stateTable struct {
	mu       sync.RWMutex
	entities map[string]*entityVersion
	applied  map[string]struct{}
}

func newStateTable() *stateTable {
	return &stateTable{
		entities: make(map[string]*entityVersion),
		applied:  make(map[string]struct{}),
	}
}

// Apply decides one record. A record is accepted only when its clock is
// strictly ahead of the entity's current clock; anything else, equal clocks
// included, is a conflict carrying the server's clock and value. Records
// seen before succeed again without effect.
func (s *stateTable) Apply(rec mutation.Record) protocol.SyncResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.applied[rec.ID]; seen {
		return protocol.SyncResponse{Result: protocol.ResultSuccess}
	}

	current, ok := s.entities[rec.EntityID]
	if ok && rec.Clock.Compare(current.clock) != clock.OrderAhead {
		return protocol.SyncResponse{
			Result:      protocol.ResultConflict,
			RemoteClock: current.clock.Copy(),
			RemoteValue: append(json.RawMessage(nil), current.value...),
		}
	}

	s.entities[rec.EntityID] = &entityVersion{
		clock: rec.Clock.Copy(),
		value: append(json.RawMessage(nil), rec.Payload...),
	}
	s.applied[rec.ID] = struct{}{}
	return protocol.SyncResponse{Result: protocol.ResultSuccess}
}

// Version returns the current clock and value for an entity.
func (s *stateTable) Version(entityID string) (clock.VClock, json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entities[entityID]
	if !ok {
		return nil, nil, false
	}
	return v.clock.Copy(), append(json.RawMessage(nil), v.value...), true
}
