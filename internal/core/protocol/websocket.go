package protocol

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// SyncPath is the websocket endpoint the sync server exposes.
const SyncPath = "/sync"

var _ Transport = (*WebSocketTransport)(nil)

// WebSocketTransport carries frames as binary websocket messages.
type WebSocketTransport struct {
	mu       sync.Mutex
	listener *wsListener
}

// NewWebSocketTransport creates an unbound websocket transport.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{}
}

// Listen starts an http server on addr that upgrades connections at SyncPath.
func (t *WebSocketTransport) Listen(_ context.Context, addr string) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener != nil {
		return nil, ErrAlreadyListening
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}

	l := &wsListener{
		ln:    ln,
		conns: make(chan Connection, 16),
		done:  make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(SyncPath, l.handleUpgrade)
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = l.srv.Serve(ln) }()

	t.listener = l
	return l, nil
}

// Dial opens a websocket connection to the sync endpoint at addr.
func (t *WebSocketTransport) Dial(ctx context.Context, addr string) (Connection, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: SyncPath}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", u.String())
	}
	return &wsConn{conn: conn}, nil
}

// Close shuts the listener down, if any.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	err := t.listener.Close()
	t.listener = nil
	return err
}

type wsListener struct {
	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader
	conns    chan Connection
	done     chan struct{}
	closeOne sync.Once
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case l.conns <- &wsConn{conn: conn}:
	case <-l.done:
		_ = conn.Close()
	}
}

func (l *wsListener) Accept(ctx context.Context) (Connection, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, ErrListenerClosed
	case c := <-l.conns:
		return c, nil
	}
}

func (l *wsListener) Addr() net.Addr { return l.ln.Addr() }

func (l *wsListener) Close() error {
	l.closeOne.Do(func() { close(l.done) })
	return l.srv.Close()
}

// wsConn adapts a gorilla connection. Gorilla permits one concurrent reader
// and one concurrent writer, so writes are serialized here.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, errors.Wrap(err, "read websocket message")
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	return errors.Wrap(c.conn.WriteMessage(websocket.BinaryMessage, data), "write websocket message")
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
