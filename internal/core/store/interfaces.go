package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/driftsync/driftsync/internal/core/clock"
	"github.com/driftsync/driftsync/internal/core/mutation"
)

// ErrStorageUnavailable wraps any failure of the backing storage. Losing a
// queued mutation is a correctness violation, so these are always propagated
// to the caller and the in-memory view stays untouched on a failed write.
var ErrStorageUnavailable = errors.New("mutation store unavailable")

// Patch is a partial update applied to a stored record. Nil fields are left
// as they are. UpdatedAt is bumped by the store on every applied patch.
type Patch struct {
	Status  *mutation.Status
	Attempt *int
	Clock   clock.VClock
	Payload json.RawMessage
}

// Store is durable CRUD for mutation records, scoped by entity and ordered
// FIFO by enqueue time within an entity. Every mutating call must be durably
// acknowledged before it returns.
//
// Updating or deleting an id that no longer exists is not an error: the
// record may have been removed concurrently by the processor.
type Store interface {
	// Put persists a new record.
	Put(ctx context.Context, rec mutation.Record) error

	// List returns all records for an entity in enqueue order, every
	// status included.
	List(ctx context.Context, entityID string) ([]mutation.Record, error)

	// Has reports whether a record with the given id still exists.
	Has(ctx context.Context, id string) (bool, error)

	// Update applies a partial update; no-op when id is gone.
	Update(ctx context.Context, id string, patch Patch) error

	// Delete removes a record; idempotent.
	Delete(ctx context.Context, id string) error

	// Entities lists every entity id that still has queued records.
	Entities(ctx context.Context) ([]string, error)

	Close() error
}

// apply copies the patch onto rec. Shared by every backend.
func (p Patch) apply(rec *mutation.Record) {
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.Attempt != nil {
		rec.Attempt = *p.Attempt
	}
	if p.Clock != nil {
		rec.Clock = p.Clock.Copy()
	}
	if p.Payload != nil {
		rec.Payload = append(json.RawMessage(nil), p.Payload...)
	}
}
