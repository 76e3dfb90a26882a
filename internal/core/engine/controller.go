package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/driftsync/driftsync/internal/core/events/bus"
	"github.com/driftsync/driftsync/internal/core/mutation"
	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/core/store"
)

// ResolveMode picks the winning side of a conflict.
type ResolveMode string

const (
	// ResolveLocal keeps the queued mutation: it is reset to pending and
	// re-sent.
	ResolveLocal ResolveMode = "local"
	// ResolveRemote accepts the server's version: the queued mutation is
	// discarded.
	ResolveRemote ResolveMode = "remote"
)

// Controller is the per-entity resolution surface a UI binds to. A queue
// holds at most one active conflict, since it halts on the first.
type Controller struct {
	engine   *Engine
	entityID string
}

// Controller returns the resolution surface for one entity's queue.
func (e *Engine) Controller(entityID string) *Controller {
	return &Controller{engine: e, entityID: entityID}
}

// CurrentConflict returns the record blocking the queue, or nil when the
// queue is not blocked. The record (payload and clock included) stays
// retrievable until explicitly resolved.
func (c *Controller) CurrentConflict(ctx context.Context) (*mutation.Record, error) {
	state, conflictID, _ := c.engine.queueFor(c.entityID).snapshot()
	if state != StateBlocked {
		return nil, nil
	}
	records, err := c.engine.store.List(ctx, c.entityID)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.ID == conflictID {
			out := rec.Clone()
			return &out, nil
		}
	}
	return nil, nil
}

// IsOpen reports whether the conflict notification is still showing. A
// dismissed conflict keeps the queue blocked but stops being surfaced.
func (c *Controller) IsOpen() bool {
	state, _, dismissed := c.engine.queueFor(c.entityID).snapshot()
	return state == StateBlocked && !dismissed
}

// Dismiss closes the notification without resolving anything; the queue
// remains blocked.
func (c *Controller) Dismiss() {
	c.engine.queueFor(c.entityID).dismiss()
}

// Resolve unblocks the queue. ResolveLocal resets the conflicting record to
// pending with a fresh attempt counter; ResolveRemote replaces the record
// with the supplied remote value and deletes it. Either way the drain
// resumes immediately.
func (c *Controller) Resolve(ctx context.Context, mode ResolveMode, remoteValue json.RawMessage) error {
	q := c.engine.queueFor(c.entityID)
	state, conflictID, _ := q.snapshot()
	if state != StateBlocked {
		return ErrNoActiveConflict
	}

	rec, err := c.CurrentConflict(ctx)
	if err != nil {
		return err
	}

	switch mode {
	case ResolveLocal:
		pending := mutation.StatusPending
		zero := 0
		if err := c.engine.store.Update(ctx, conflictID, store.Patch{Status: &pending, Attempt: &zero}); err != nil {
			return err
		}
		if rec != nil {
			c.engine.publish(bus.EventResolved, *rec, string(ResolveLocal))
		}

	case ResolveRemote:
		if rec != nil && remoteValue != nil {
			// The remote value wins; observers see it on the resolution
			// event before the record disappears.
			resolved := rec.Clone()
			resolved.Payload = append(json.RawMessage(nil), remoteValue...)
			if err := c.engine.store.Update(ctx, conflictID, store.Patch{Payload: remoteValue}); err != nil {
				return err
			}
			c.engine.publish(bus.EventResolved, resolved, string(ResolveRemote))
		} else if rec != nil {
			c.engine.publish(bus.EventResolved, *rec, string(ResolveRemote))
		}
		if err := c.engine.store.Delete(ctx, conflictID); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: unknown mode %q", ErrNoActiveConflict, mode)
	}

	q.unblock()
	c.engine.publishState(c.entityID, StateIdle)
	c.engine.logger.Info("conflict resolved",
		log.String("entity_id", c.entityID),
		log.String("record_id", conflictID),
		log.String("mode", string(mode)))

	// Resolution resumes draining without further manual intervention.
	return c.engine.Process(ctx, c.entityID)
}
