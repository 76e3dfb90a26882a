package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/core/clock"
	"github.com/driftsync/driftsync/internal/core/mutation"
)

func newRecord(id, entityID string, createdAt time.Time) mutation.Record {
	return mutation.Record{
		ID:        id,
		Kind:      "comment",
		EntityID:  entityID,
		Payload:   json.RawMessage(`{"title":"A"}`),
		Status:    mutation.StatusPending,
		Clock:     clock.VClock{"client-1": 1},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// runStoreContract exercises the Store behavior every backend must honor.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// FIFO order by createdAt within an entity
	require.NoError(t, s.Put(ctx, newRecord("m-2", "doc-1", base.Add(time.Second))))
	require.NoError(t, s.Put(ctx, newRecord("m-1", "doc-1", base)))
	require.NoError(t, s.Put(ctx, newRecord("m-3", "doc-2", base)))

	recs, err := s.List(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "m-1", recs[0].ID)
	assert.Equal(t, "m-2", recs[1].ID)

	// entities are scoped
	recs, err = s.List(ctx, "doc-2")
	require.NoError(t, err)
	require.Len(t, recs, 1)

	entities, err := s.Entities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1", "doc-2"}, entities)

	// Has
	ok, err := s.Has(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Has(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	// partial update
	status := mutation.StatusConflict
	attempt := 3
	require.NoError(t, s.Update(ctx, "m-1", Patch{Status: &status, Attempt: &attempt}))
	recs, err = s.List(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, mutation.StatusConflict, recs[0].Status)
	assert.Equal(t, 3, recs[0].Attempt)
	// untouched fields survive
	assert.Equal(t, clock.VClock{"client-1": 1}, recs[0].Clock)
	assert.JSONEq(t, `{"title":"A"}`, string(recs[0].Payload))

	// update of a vanished id is a no-op, not an error
	require.NoError(t, s.Update(ctx, "nope", Patch{Status: &status}))

	// delete is idempotent
	require.NoError(t, s.Delete(ctx, "m-1"))
	require.NoError(t, s.Delete(ctx, "m-1"))
	recs, err = s.List(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "m-2", recs[0].ID)
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestFileStoreContract(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "queue.json"))
	require.NoError(t, err)
	runStoreContract(t, s)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.json")

	s, err := NewFileStore(path)
	require.NoError(t, err)
	rec := newRecord("m-1", "doc-1", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	rec.Dependencies = []string{"m-0"}
	rec.BatchKey = "batch-1"
	require.NoError(t, s.Put(ctx, rec))
	require.NoError(t, s.Close())

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	recs, err := reopened.List(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
	assert.Equal(t, rec.Clock, recs[0].Clock)
	assert.Equal(t, rec.Dependencies, recs[0].Dependencies)
	assert.Equal(t, rec.BatchKey, recs[0].BatchKey)
}
