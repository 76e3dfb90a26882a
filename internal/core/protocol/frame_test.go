package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/core/clock"
	"github.com/driftsync/driftsync/internal/core/mutation"
)

func TestFrameRoundTrip(t *testing.T) {
	rec := mutation.Record{
		ID:       "rec-1",
		Kind:     "doc",
		EntityID: "doc-1",
		Payload:  json.RawMessage(`{"title":"A"}`),
		Status:   mutation.StatusPending,
		Clock:    clock.VClock{"laptop": 3},
	}
	frame, err := NewFrame(FrameSyncRequest, SyncRequest{Record: rec})
	require.NoError(t, err)

	data, err := frame.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalFrame(data)
	require.NoError(t, err)
	assert.Equal(t, FrameSyncRequest, decoded.Type)

	var req SyncRequest
	require.NoError(t, decoded.DecodeBody(&req))
	assert.Equal(t, rec.ID, req.Record.ID)
	assert.Equal(t, rec.Clock, req.Record.Clock)
	assert.JSONEq(t, string(rec.Payload), string(req.Record.Payload))
}

func TestUnmarshalFrameRejectsCorruption(t *testing.T) {
	frame, err := NewFrame(FrameSyncResponse, SyncResponse{Result: ResultSuccess})
	require.NoError(t, err)
	data, err := frame.Marshal()
	require.NoError(t, err)

	// Flip one bit in the body.
	corrupt := append([]byte(nil), data...)
	corrupt[len(corrupt)-1] ^= 0x01
	_, err = UnmarshalFrame(corrupt)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	// Flip one bit in the checksum header.
	corrupt = append([]byte(nil), data...)
	corrupt[0] ^= 0x01
	_, err = UnmarshalFrame(corrupt)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestUnmarshalFrameRejectsShortInput(t *testing.T) {
	_, err := UnmarshalFrame([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrFrameTooShort)
}

func TestSyncResponseOutcomeMapping(t *testing.T) {
	out, err := outcomeFromResponse(SyncResponse{Result: ResultSuccess})
	require.NoError(t, err)
	assert.Equal(t, mutation.OutcomeSuccess, out.Kind)

	out, err = outcomeFromResponse(SyncResponse{Result: ResultSkipped})
	require.NoError(t, err)
	assert.Equal(t, mutation.OutcomeSkipped, out.Kind)

	remote := clock.VClock{"server": 9}
	out, err = outcomeFromResponse(SyncResponse{
		Result:      ResultConflict,
		RemoteClock: remote,
		RemoteValue: json.RawMessage(`{"v":2}`),
	})
	require.NoError(t, err)
	assert.Equal(t, mutation.OutcomeConflict, out.Kind)
	assert.Equal(t, remote, out.RemoteClock)

	_, err = outcomeFromResponse(SyncResponse{Result: "maybe"})
	assert.Error(t, err)
}
