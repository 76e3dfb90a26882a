package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/driftsync/driftsync/internal/core/mutation"
)

var _ Store = (*FileStore)(nil)

// FileStore persists the whole queue as one JSON document, rewritten
// atomically (tmp file + rename) on every mutating call. A crash right
// after a successful call can never lose the record; a failed save rolls
// the in-memory state back so the two views never diverge.
type FileStore struct {
	path  string
	mu    sync.Mutex
	items []mutation.Record
}

type fileStoreState struct {
	Records []mutation.Record `json:"records"`
}

// NewFileStore opens (or creates) the store at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrStorageUnavailable)
	}
	s := &FileStore{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Put implements Store.
func (s *FileStore) Put(_ context.Context, rec mutation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, rec.Clone())
	if err := s.saveLocked(); err != nil {
		s.items = s.items[:len(s.items)-1]
		return err
	}
	return nil
}

// List implements Store.
func (s *FileStore) List(_ context.Context, entityID string) ([]mutation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []mutation.Record
	for _, rec := range s.items {
		if rec.EntityID == entityID {
			out = append(out, rec.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Has implements Store.
func (s *FileStore) Has(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexLocked(id) >= 0, nil
}

// Update implements Store.
func (s *FileStore) Update(_ context.Context, id string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return nil
	}
	prev := s.items[i].Clone()
	patch.apply(&s.items[i])
	s.items[i].UpdatedAt = time.Now().UTC()
	if err := s.saveLocked(); err != nil {
		s.items[i] = prev
		return err
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return nil
	}
	removed := s.items[i]
	s.items = append(s.items[:i], s.items[i+1:]...)
	if err := s.saveLocked(); err != nil {
		s.items = append(s.items[:i], append([]mutation.Record{removed}, s.items[i:]...)...)
		return err
	}
	return nil
}

// Entities implements Store.
func (s *FileStore) Entities(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	for _, rec := range s.items {
		if _, ok := seen[rec.EntityID]; !ok {
			seen[rec.EntityID] = struct{}{}
			out = append(out, rec.EntityID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) indexLocked(id string) int {
	for i, rec := range s.items {
		if rec.ID == id {
			return i
		}
	}
	return -1
}

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	var state fileStoreState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	s.items = state.Records
	return nil
}

func (s *FileStore) saveLocked() error {
	state := fileStoreState{Records: append([]mutation.Record(nil), s.items...)}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
