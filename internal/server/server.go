package server

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/core/protocol"
)

// Config selects the listening addresses. An empty address disables that
// transport.
type Config struct {
	WebSocketAddr string `json:"websocket_addr" yaml:"websocket_addr"`
	QuicAddr      string `json:"quic_addr" yaml:"quic_addr"`
}

// Server is the reference sync endpoint: it keeps an authoritative version
// per entity and answers each pushed mutation with success or conflict. It
// serves the same frame protocol over websocket and QUIC.
type Server struct {
	cfg    Config
	logger log.Log
	state  *stateTable

	mu        sync.Mutex
	listeners []protocol.Listener
	closers   []protocol.Transport
}

// New creates a server with empty state.
func New(cfg Config, logger log.Log) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	return &Server{
		cfg:    cfg,
		logger: logger.With(log.String("component", "sync_server")),
		state:  newStateTable(),
	}
}

// Run binds the configured transports and serves until ctx is cancelled or a
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.cfg.WebSocketAddr != "" {
		t := protocol.NewWebSocketTransport()
		l, err := t.Listen(ctx, s.cfg.WebSocketAddr)
		if err != nil {
			return err
		}
		s.track(t, l)
		s.logger.Info("websocket listener up", log.String("addr", l.Addr().String()))
		g.Go(func() error { return s.Serve(ctx, l) })
	}

	if s.cfg.QuicAddr != "" {
		t := protocol.NewQuicTransport(nil)
		l, err := t.Listen(ctx, s.cfg.QuicAddr)
		if err != nil {
			return err
		}
		s.track(t, l)
		s.logger.Info("quic listener up", log.String("addr", l.Addr().String()))
		g.Go(func() error { return s.Serve(ctx, l) })
	}

	g.Go(func() error {
		<-ctx.Done()
		s.Close()
		return ctx.Err()
	})

	return g.Wait()
}

// Serve accepts connections from one listener until it closes.
func (s *Server) Serve(ctx context.Context, l protocol.Listener) error {
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

// Close shuts every listener and transport down.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		_ = l.Close()
	}
	for _, t := range s.closers {
		_ = t.Close()
	}
	s.listeners = nil
	s.closers = nil
}

func (s *Server) track(t protocol.Transport, l protocol.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
	s.closers = append(s.closers, t)
}

func (s *Server) handleConn(ctx context.Context, conn protocol.Connection) {
	defer func() { _ = conn.Close() }()
	logger := s.logger.With(log.String("peer", conn.RemoteAddr().String()))
	logger.Debug("client connected")

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			logger.Debug("client disconnected", log.Error(err))
			return
		}
		reply := s.handleFrame(data, logger)
		out, err := reply.Marshal()
		if err != nil {
			logger.Error("encode reply failed", log.Error(err))
			return
		}
		if err := conn.Write(ctx, out); err != nil {
			logger.Debug("write reply failed", log.Error(err))
			return
		}
	}
}

func (s *Server) handleFrame(data []byte, logger log.Log) protocol.Frame {
	frame, err := protocol.UnmarshalFrame(data)
	if err != nil {
		logger.Warn("dropping bad frame", log.Error(err))
		return errorFrame(err.Error())
	}

	switch frame.Type {
	case protocol.FrameSyncRequest:
		var req protocol.SyncRequest
		if err := frame.DecodeBody(&req); err != nil {
			return errorFrame(err.Error())
		}
		resp := s.state.Apply(req.Record)
		logger.Debug("sync request handled",
			log.String("record_id", req.Record.ID),
			log.String("entity_id", req.Record.EntityID),
			log.String("result", resp.Result))
		reply, err := protocol.NewFrame(protocol.FrameSyncResponse, resp)
		if err != nil {
			return errorFrame(err.Error())
		}
		return reply

	default:
		return errorFrame("unsupported frame type " + string(frame.Type))
	}
}

func errorFrame(msg string) protocol.Frame {
	f, err := protocol.NewFrame(protocol.FrameError, protocol.ErrorBody{Message: msg})
	if err != nil {
		return protocol.Frame{Type: protocol.FrameError}
	}
	return f
}
