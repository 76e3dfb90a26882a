package protocol

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/driftsync/driftsync/internal/core/mutation"
	"github.com/driftsync/driftsync/internal/core/observability/log"
)

// Client sends queued mutations to a sync server over a Transport and maps
// the server's verdicts onto engine outcomes. The connection is dialed
// lazily and re-dialed after a transport failure.
type Client struct {
	transport Transport
	addr      string
	logger    log.Log

	mu   sync.Mutex
	conn Connection
}

// NewClient creates a client for the sync server at addr.
func NewClient(t Transport, addr string, logger log.Log) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		transport: t,
		addr:      addr,
		logger:    logger.With(log.String("component", "sync_client"), log.String("addr", addr)),
	}
}

// Remote adapts the client to the engine's remote function contract. Errors
// it returns are transient by that contract: the engine counts the record as
// skipped and retries later.
func (c *Client) Remote() mutation.RemoteFunc {
	return c.Sync
}

// Sync pushes one record and waits for the verdict. The connection mutex
// pairs each response with its request.
func (c *Client) Sync(ctx context.Context, rec mutation.Record) (mutation.Outcome, error) {
	frame, err := NewFrame(FrameSyncRequest, SyncRequest{Record: rec})
	if err != nil {
		return mutation.Outcome{}, err
	}
	data, err := frame.Marshal()
	if err != nil {
		return mutation.Outcome{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connection(ctx)
	if err != nil {
		return mutation.Outcome{}, err
	}

	if err := conn.Write(ctx, data); err != nil {
		c.dropLocked()
		return mutation.Outcome{}, err
	}
	raw, err := conn.Read(ctx)
	if err != nil {
		c.dropLocked()
		return mutation.Outcome{}, err
	}

	reply, err := UnmarshalFrame(raw)
	if err != nil {
		// A corrupt frame poisons the stream; start fresh next time.
		c.dropLocked()
		return mutation.Outcome{}, err
	}

	switch reply.Type {
	case FrameSyncResponse:
		var resp SyncResponse
		if err := reply.DecodeBody(&resp); err != nil {
			return mutation.Outcome{}, err
		}
		return outcomeFromResponse(resp)

	case FrameError:
		var body ErrorBody
		if err := reply.DecodeBody(&body); err != nil {
			return mutation.Outcome{}, err
		}
		return mutation.Outcome{}, errors.Errorf("server error: %s", body.Message)

	default:
		return mutation.Outcome{}, errors.Wrapf(ErrUnexpectedFrame, "%s", reply.Type)
	}
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) connection(ctx context.Context) (Connection, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := c.transport.Dial(ctx, c.addr)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("connected to sync server")
	c.conn = conn
	return conn, nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func outcomeFromResponse(resp SyncResponse) (mutation.Outcome, error) {
	switch resp.Result {
	case ResultSuccess:
		return mutation.Success(), nil
	case ResultSkipped:
		return mutation.Skipped(), nil
	case ResultConflict:
		return mutation.Conflict(resp.RemoteClock, resp.RemoteValue), nil
	default:
		return mutation.Outcome{}, errors.Errorf("unknown sync result %q", resp.Result)
	}
}
