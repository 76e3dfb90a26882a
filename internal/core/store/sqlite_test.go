package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreContract(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	runStoreContract(t, s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	rec := newRecord("m-1", "doc-1", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	rec.Dependencies = []string{"m-0"}
	require.NoError(t, s.Put(ctx, rec))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	recs, err := reopened.List(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
	assert.Equal(t, rec.Clock, recs[0].Clock)
	assert.Equal(t, []string{"m-0"}, recs[0].Dependencies)
	assert.JSONEq(t, `{"title":"A"}`, string(recs[0].Payload))
}
