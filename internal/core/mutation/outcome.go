package mutation

import (
	"context"
	"encoding/json"

	"github.com/driftsync/driftsync/internal/core/clock"
)

// OutcomeKind is the tri-state result of one remote sync attempt.
type OutcomeKind uint8

const (
	// OutcomeSuccess means the mutation was applied remotely and the
	// record is safe to delete.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeSkipped means a transient failure; the record reverts to
	// pending and will be retried.
	OutcomeSkipped
	// OutcomeConflict means the remote state causally diverged and the
	// record needs resolution.
	OutcomeConflict
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Outcome is returned by a RemoteFunc. RemoteClock and RemoteValue are only
// meaningful for OutcomeConflict: the server's current clock for the entity
// and, when available, the server's current value.
type Outcome struct {
	Kind        OutcomeKind
	RemoteClock clock.VClock
	RemoteValue json.RawMessage
}

// Success is the zero-value convenience outcome.
func Success() Outcome { return Outcome{Kind: OutcomeSuccess} }

// Skipped marks a transient failure.
func Skipped() Outcome { return Outcome{Kind: OutcomeSkipped} }

// Conflict carries the diverged remote state back to the engine.
func Conflict(remote clock.VClock, value json.RawMessage) Outcome {
	return Outcome{Kind: OutcomeConflict, RemoteClock: remote, RemoteValue: value}
}

// RemoteFunc attempts to apply one queued record against the server. It must
// be idempotent with respect to record ID: the engine may call it again for
// the same record after a skipped outcome. A returned error (timeouts
// included) is treated exactly like a skipped outcome.
type RemoteFunc func(ctx context.Context, rec Record) (Outcome, error)
