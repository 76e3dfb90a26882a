package driftsync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/core/engine"
	"github.com/driftsync/driftsync/internal/core/policy"
	"github.com/driftsync/driftsync/internal/core/protocol"
	"github.com/driftsync/driftsync/internal/server"
)

func startServer(t *testing.T) string {
	t.Helper()
	srv := server.New(server.Config{}, nil)
	transport := protocol.NewWebSocketTransport()
	l, err := transport.Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = l.Close()
		_ = transport.Close()
	})
	go func() { _ = srv.Serve(ctx, l) }()
	return l.Addr().String()
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := DefaultConfig()
	cfg.Transport = "carrier-pigeon"
	_, err = Open(cfg)
	assert.ErrorIs(t, err, ErrUnknownTransport)
}

func TestClientEnqueueAndSync(t *testing.T) {
	addr := startServer(t)

	cfg := DefaultConfig()
	cfg.ServerAddr = addr
	cfg.ReplicaID = "laptop"
	client, err := Open(cfg)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.RegisterKind("note", policy.Manual, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = client.Enqueue(ctx, "note", "note-1", json.RawMessage(`{"text":"offline edit"}`))
	require.NoError(t, err)

	pending, err := client.Pending(ctx, "note-1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, client.Sync(ctx, "note-1"))

	pending, err = client.Pending(ctx, "note-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, engine.StateIdle, client.State("note-1"))
}

func TestClosedClientRefusesWork(t *testing.T) {
	cfg := DefaultConfig()
	client, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = client.Enqueue(context.Background(), "note", "note-1", nil)
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.ErrorIs(t, client.Sync(context.Background(), "note-1"), ErrClientClosed)
}
