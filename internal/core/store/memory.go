package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/driftsync/driftsync/internal/core/mutation"
)

const shardCount = 32

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a non-durable Store used for tests and for callers that
// provide durability elsewhere. Entities are sharded by hash so independent
// queues never contend on one lock.
type MemoryStore struct {
	shards [shardCount]memoryShard
}

type memoryShard struct {
	mu      sync.RWMutex
	queues  map[string][]*mutation.Record // entityID -> records in enqueue order
	byID    map[string]string             // record id -> entityID
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].queues = make(map[string][]*mutation.Record)
		s.shards[i].byID = make(map[string]string)
	}
	return s
}

func (s *MemoryStore) shardFor(entityID string) *memoryShard {
	return &s.shards[xxhash.Sum64String(entityID)%shardCount]
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, rec mutation.Record) error {
	sh := s.shardFor(rec.EntityID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	stored := rec.Clone()
	sh.queues[rec.EntityID] = append(sh.queues[rec.EntityID], &stored)
	sh.byID[rec.ID] = rec.EntityID
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, entityID string) ([]mutation.Record, error) {
	sh := s.shardFor(entityID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	queue := sh.queues[entityID]
	out := make([]mutation.Record, 0, len(queue))
	for _, rec := range queue {
		out = append(out, rec.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Has implements Store.
func (s *MemoryStore) Has(_ context.Context, id string) (bool, error) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		_, ok := sh.byID[id]
		sh.mu.RUnlock()
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, id string, patch Patch) error {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		entityID, ok := sh.byID[id]
		if !ok {
			sh.mu.Unlock()
			continue
		}
		for _, rec := range sh.queues[entityID] {
			if rec.ID == id {
				patch.apply(rec)
				rec.UpdatedAt = time.Now().UTC()
				break
			}
		}
		sh.mu.Unlock()
		return nil
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		entityID, ok := sh.byID[id]
		if !ok {
			sh.mu.Unlock()
			continue
		}
		queue := sh.queues[entityID]
		for j, rec := range queue {
			if rec.ID == id {
				sh.queues[entityID] = append(queue[:j], queue[j+1:]...)
				break
			}
		}
		if len(sh.queues[entityID]) == 0 {
			delete(sh.queues, entityID)
		}
		delete(sh.byID, id)
		sh.mu.Unlock()
		return nil
	}
	return nil
}

// Entities implements Store.
func (s *MemoryStore) Entities(_ context.Context) ([]string, error) {
	var out []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for entityID := range sh.queues {
			out = append(out, entityID)
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
