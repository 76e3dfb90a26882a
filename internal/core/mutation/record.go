package mutation

import (
	"encoding/json"
	"time"

	"github.com/driftsync/driftsync/internal/core/clock"
)

// Status is the lifecycle state of a queued mutation. Successfully synced
// records are deleted rather than retained, so only three states exist at
// rest.
type Status string

const (
	// StatusPending marks a record waiting to be sent.
	StatusPending Status = "pending"
	// StatusProcessing marks the record currently handed to the remote
	// sync function. At most one per queue.
	StatusProcessing Status = "processing"
	// StatusConflict marks a record whose remote application diverged and
	// which blocks its queue until resolved.
	StatusConflict Status = "conflict"
)

// Record is the persisted unit of offline work: one mutation against one
// entity, carrying its causal version and ordering metadata. The payload is
// opaque to the engine.
type Record struct {
	ID           string          `json:"id" yaml:"id"`
	Kind         string          `json:"kind" yaml:"kind"`
	EntityID     string          `json:"entity_id" yaml:"entity_id"`
	Payload      json.RawMessage `json:"payload" yaml:"payload"`
	Status       Status          `json:"status" yaml:"status"`
	Clock        clock.VClock    `json:"vector_clock" yaml:"vector_clock"`
	Dependencies []string        `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	BatchKey     string          `json:"batch_key,omitempty" yaml:"batch_key,omitempty"`
	Policy       string          `json:"policy,omitempty" yaml:"policy,omitempty"`
	Attempt      int             `json:"attempt" yaml:"attempt"`
	CreatedAt    time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" yaml:"updated_at"`
}

// DependsOn reports whether the record names id as an unresolved
// prerequisite.
func (r Record) DependsOn(id string) bool {
	for _, dep := range r.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Slices and the clock are copied so the
// original cannot be mutated through the result.
func (r Record) Clone() Record {
	out := r
	out.Clock = r.Clock.Copy()
	if r.Dependencies != nil {
		out.Dependencies = append([]string(nil), r.Dependencies...)
	}
	if r.Payload != nil {
		out.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return out
}
