package protocol

import (
	"context"
	"net"
)

// Transport is an abstract reliable, message-oriented transport. Both ends
// exchange whole frames; ordering within a connection is the transport's
// problem.
type Transport interface {
	// Listen binds a listener on addr.
	Listen(ctx context.Context, addr string) (Listener, error)
	// Dial opens a client connection to addr.
	Dial(ctx context.Context, addr string) (Connection, error)
	// Close releases any transport-wide resources.
	Close() error
}

// Listener accepts inbound connections.
type Listener interface {
	Accept(ctx context.Context) (Connection, error)
	Addr() net.Addr
	Close() error
}

// Connection moves opaque frames between peers.
type Connection interface {
	// Read blocks until the next whole frame arrives.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one whole frame.
	Write(ctx context.Context, data []byte) error
	Close() error
	RemoteAddr() net.Addr
}
