package protocol

import (
	"encoding/binary"
	"encoding/json"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/driftsync/driftsync/internal/core/clock"
	"github.com/driftsync/driftsync/internal/core/mutation"
)

// FrameType discriminates the JSON body of a frame.
type FrameType string

const (
	// FrameSyncRequest carries one queued mutation to the server.
	FrameSyncRequest FrameType = "sync.request"
	// FrameSyncResponse carries the server's tri-state verdict back.
	FrameSyncResponse FrameType = "sync.response"
	// FrameError reports a server-side processing failure.
	FrameError FrameType = "error"
)

// MaxFrameSize bounds a single encoded frame.
const MaxFrameSize = 1 << 20

// checksumLen is the xxhash64 header prefixed to every encoded frame.
const checksumLen = 8

// Frame is the wire envelope: a type tag plus a type-specific JSON body.
type Frame struct {
	Type FrameType       `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

// SyncRequest asks the server to apply one mutation record.
type SyncRequest struct {
	Record mutation.Record `json:"record"`
}

// SyncResponse is the server's verdict on one record.
type SyncResponse struct {
	// Result is one of "success", "skipped", "conflict".
	Result string `json:"result"`
	// RemoteClock is the server's causal version, set on conflict.
	RemoteClock clock.VClock `json:"remote_clock,omitempty"`
	// RemoteValue is the server's current value, set on conflict.
	RemoteValue json.RawMessage `json:"remote_value,omitempty"`
}

// ErrorBody carries a server-side failure message.
type ErrorBody struct {
	Message string `json:"message"`
}

const (
	ResultSuccess  = "success"
	ResultSkipped  = "skipped"
	ResultConflict = "conflict"
)

// NewFrame builds a frame around any JSON-encodable body.
func NewFrame(typ FrameType, body any) (Frame, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Frame{}, errors.Wrap(err, "encode frame body")
	}
	return Frame{Type: typ, Body: raw}, nil
}

// Marshal encodes the frame as JSON prefixed with an xxhash64 checksum of the
// JSON bytes. The receiving side rejects anything that does not hash to the
// header.
func (f Frame) Marshal() ([]byte, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	if len(payload)+checksumLen > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	out := make([]byte, checksumLen+len(payload))
	binary.BigEndian.PutUint64(out[:checksumLen], xxhash.Sum64(payload))
	copy(out[checksumLen:], payload)
	return out, nil
}

// UnmarshalFrame verifies the checksum header and decodes the frame.
func UnmarshalFrame(data []byte) (Frame, error) {
	if len(data) < checksumLen {
		return Frame{}, ErrFrameTooShort
	}
	if len(data) > MaxFrameSize {
		return Frame{}, ErrFrameTooLarge
	}
	payload := data[checksumLen:]
	if binary.BigEndian.Uint64(data[:checksumLen]) != xxhash.Sum64(payload) {
		return Frame{}, ErrChecksumMismatch
	}
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Frame{}, errors.Wrap(err, "decode frame")
	}
	return f, nil
}

// DecodeBody unmarshals the frame body into v.
func (f Frame) DecodeBody(v any) error {
	return errors.Wrapf(json.Unmarshal(f.Body, v), "decode %s body", f.Type)
}
