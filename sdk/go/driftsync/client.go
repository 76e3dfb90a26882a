// Package driftsync is the high-level client SDK: an offline mutation queue
// bound to a sync server, for applications that must keep working without a
// connection and reconcile once one returns.
package driftsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/driftsync/driftsync/internal/core/engine"
	"github.com/driftsync/driftsync/internal/core/events/bus"
	"github.com/driftsync/driftsync/internal/core/mutation"
	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/core/policy"
	"github.com/driftsync/driftsync/internal/core/protocol"
)

// Transport selection for the sync connection.
const (
	TransportWebSocket = "websocket"
	TransportQUIC      = "quic"
)

// Config holds client configuration.
type Config struct {
	// ServerAddr is the sync server host:port.
	ServerAddr string
	// Transport is "websocket" or "quic".
	Transport string
	// ReplicaID identifies this device in vector clocks.
	ReplicaID string
	// MaxAttempts is the skip/retry ceiling per queued mutation.
	MaxAttempts int
	// Storage selects where the queue is persisted.
	Storage engine.StorageConfig
	// LogLevel controls SDK logging.
	LogLevel log.Level
}

// DefaultConfig queues in memory and syncs over websocket.
func DefaultConfig() Config {
	return Config{
		ServerAddr:  "localhost:8080",
		Transport:   TransportWebSocket,
		ReplicaID:   "local",
		MaxAttempts: 5,
		Storage:     engine.StorageConfig{Backend: "memory"},
		LogLevel:    log.LevelInfo,
	}
}

// Client wraps the engine and a transport client behind one app-facing
// surface.
type Client struct {
	engine *engine.Engine
	remote *protocol.Client
	logger log.Log
	closed int32
}

// Open builds a client from config. Mutation kinds still have to be
// registered before anything can be enqueued.
func Open(cfg Config) (*Client, error) {
	if cfg.ServerAddr == "" {
		return nil, fmt.Errorf("%w: server address is required", ErrInvalidConfig)
	}

	var transport protocol.Transport
	switch cfg.Transport {
	case "", TransportWebSocket:
		transport = protocol.NewWebSocketTransport()
	case TransportQUIC:
		transport = protocol.NewQuicTransport(nil)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, cfg.Transport)
	}

	logger := log.New(cfg.LogLevel)
	engCfg := engine.DefaultConfig()
	engCfg.ReplicaID = cfg.ReplicaID
	engCfg.MaxAttempts = cfg.MaxAttempts
	engCfg.Storage = cfg.Storage

	st, err := engCfg.BuildStore()
	if err != nil {
		return nil, err
	}

	remote := protocol.NewClient(transport, cfg.ServerAddr, logger)
	return &Client{
		engine: engine.New(engCfg, st, bus.New(), logger),
		remote: remote,
		logger: logger,
	}, nil
}

// RegisterKind binds a mutation kind to the sync server with the given
// conflict policy. merge may be nil unless the policy is commutative.
func (c *Client) RegisterKind(kind string, p policy.Policy, merge policy.MergeFunc) error {
	return c.engine.RegisterAdapter(engine.Adapter{
		Kind:   kind,
		Remote: c.remote.Remote(),
		Policy: p,
		Merge:  merge,
	})
}

// Enqueue queues one mutation for later sync. It works offline; nothing is
// sent until Sync or SyncAll runs.
func (c *Client) Enqueue(ctx context.Context, kind, entityID string, payload json.RawMessage, opts ...engine.EnqueueOption) (mutation.Record, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return mutation.Record{}, ErrClientClosed
	}
	return c.engine.Enqueue(ctx, kind, entityID, payload, opts...)
}

// Sync drains one entity's queue against the server.
func (c *Client) Sync(ctx context.Context, entityID string) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	return c.engine.Process(ctx, entityID)
}

// SyncAll drains every entity queue.
func (c *Client) SyncAll(ctx context.Context) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	return c.engine.ProcessAll(ctx)
}

// Pending lists the queued mutations for an entity.
func (c *Client) Pending(ctx context.Context, entityID string) ([]mutation.Record, error) {
	return c.engine.List(ctx, entityID)
}

// State reports the queue state for an entity.
func (c *Client) State(entityID string) engine.QueueState {
	return c.engine.State(entityID)
}

// Conflicts returns the resolution surface for an entity's queue.
func (c *Client) Conflicts(entityID string) *engine.Controller {
	return c.engine.Controller(entityID)
}

// Events exposes the queue's event bus for UI bindings.
func (c *Client) Events() bus.Bus {
	return c.engine.Bus()
}

// Close drops the server connection. Queued mutations stay in the configured
// store.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.remote.Close()
}
