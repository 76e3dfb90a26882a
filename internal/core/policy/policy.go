// Package policy decides what to do with a queued mutation once the server's
// causal version for the same entity is known. It is pure: no storage, no
// side effects.
package policy

import (
	"encoding/json"

	"github.com/driftsync/driftsync/internal/core/clock"
)

// Policy names the conflict-handling rule for an entity kind or a single
// mutation.
type Policy string

const (
	// LastWriteWins applies stale local operations instead of escalating.
	LastWriteWins Policy = "last-write-wins"
	// Manual escalates anything that is not strictly ahead of the server.
	Manual Policy = "manual"
	// Commutative declares the operation type order-independent; concurrent
	// versions are combined with the configured MergeFunc.
	Commutative Policy = "commutative"
)

// Valid reports whether p is a known policy name.
func (p Policy) Valid() bool {
	switch p {
	case LastWriteWins, Manual, Commutative:
		return true
	}
	return false
}

// Decision is the evaluator's verdict for one local/remote clock pair.
type Decision uint8

const (
	// DecisionApply means the operation is safe to apply as-is.
	DecisionApply Decision = iota
	// DecisionMerge means concurrent versions should be combined with the
	// merge function before applying.
	DecisionMerge
	// DecisionEscalate means a human (or the resolution controller) has to
	// pick a side.
	DecisionEscalate
)

func (d Decision) String() string {
	switch d {
	case DecisionApply:
		return "apply"
	case DecisionMerge:
		return "merge"
	case DecisionEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// MergeFunc combines a local and a remote payload for commutative operation
// types. Supplied by the caller; never inspected by the engine.
type MergeFunc func(local, remote json.RawMessage) (json.RawMessage, error)

// Evaluator resolves a policy name (with per-mutation override) into a
// decision for a pair of vector clocks.
type Evaluator struct {
	// Default is used when a record carries no policy of its own.
	Default Policy
	// Merge combines concurrent payloads under the Commutative policy.
	// When nil, Commutative degrades to Manual for concurrent clocks.
	Merge MergeFunc
}

// Evaluate classifies the queued clock against the server clock under the
// given policy override ("" selects the default).
//
// Queued strictly ahead of the server is always safe to apply. Queued stale
// (server dominates or equal) applies under LastWriteWins and escalates
// otherwise. Concurrent clocks merge under Commutative when a MergeFunc is
// configured and escalate under every other policy.
func (e Evaluator) Evaluate(local, remote clock.VClock, override Policy) Decision {
	p := e.resolve(override)
	switch local.Compare(remote) {
	case clock.OrderAhead:
		return DecisionApply
	case clock.OrderEqual, clock.OrderBehind:
		if p == LastWriteWins {
			return DecisionApply
		}
		return DecisionEscalate
	default: // concurrent
		if p == Commutative && e.Merge != nil {
			return DecisionMerge
		}
		return DecisionEscalate
	}
}

func (e Evaluator) resolve(override Policy) Policy {
	if override.Valid() {
		return override
	}
	if e.Default.Valid() {
		return e.Default
	}
	return Manual
}
