package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/driftsync/driftsync/internal/core/clock"
	"github.com/driftsync/driftsync/internal/core/events/bus"
	"github.com/driftsync/driftsync/internal/core/mutation"
	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/core/policy"
	"github.com/driftsync/driftsync/internal/core/store"
)

// Adapter binds one entity kind to its remote sync function and conflict
// policy. One engine serves any number of kinds (file uploads, comment
// threads, document operations) through the same queueing machinery.
type Adapter struct {
	// Kind matches Record.Kind.
	Kind string
	// Remote attempts one queued record against the server. Required.
	Remote mutation.RemoteFunc
	// Policy is the kind's default conflict policy; individual mutations
	// may override it.
	Policy policy.Policy
	// Merge combines concurrent payloads under the commutative policy.
	Merge policy.MergeFunc
}

// Engine is the generic offline mutation queue: it persists mutations per
// entity, drains each entity's queue in causal order through the registered
// adapter, and halts a queue on conflict until resolved.
type Engine struct {
	cfg    Config
	store  store.Store
	bus    bus.Bus
	logger log.Log

	mu       sync.RWMutex
	adapters map[string]Adapter
	queues   map[string]*queue
	// clocks remembers the last clock issued per entity, so consecutive
	// enqueues from this replica stay causally ordered even when the
	// caller supplies no clock.
	clocks map[string]clock.VClock
}

// New creates an engine over the given store. A nil bus gets an in-memory
// one; a nil logger is replaced with a no-op logger.
func New(cfg Config, st store.Store, b bus.Bus, logger log.Log) *Engine {
	cfg = cfg.withDefaults()
	if b == nil {
		b = bus.New()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		bus:      b,
		logger:   logger.With(log.String("component", "engine")),
		adapters: make(map[string]Adapter),
		queues:   make(map[string]*queue),
		clocks:   make(map[string]clock.VClock),
	}
}

// RegisterAdapter wires an entity kind into the engine.
func (e *Engine) RegisterAdapter(a Adapter) error {
	if a.Kind == "" || a.Remote == nil {
		return fmt.Errorf("%w: adapter needs a kind and a remote function", ErrUnknownKind)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.adapters[a.Kind]; exists {
		return fmt.Errorf("%w: %s", ErrKindAlreadyRegistered, a.Kind)
	}
	e.adapters[a.Kind] = a
	return nil
}

// Bus exposes the observation surface.
func (e *Engine) Bus() bus.Bus { return e.bus }

// EnqueueOption customizes a single enqueue call.
type EnqueueOption func(*mutation.Record)

// WithClock sets the last-known causal version for the entity. Omitted, the
// empty clock is assumed.
func WithClock(c clock.VClock) EnqueueOption {
	return func(r *mutation.Record) { r.Clock = c.Copy() }
}

// WithDependencies orders this mutation after the given record ids.
func WithDependencies(ids ...string) EnqueueOption {
	return func(r *mutation.Record) { r.Dependencies = append([]string(nil), ids...) }
}

// WithBatchKey groups this mutation into a logical change-set.
func WithBatchKey(key string) EnqueueOption {
	return func(r *mutation.Record) { r.BatchKey = key }
}

// WithPolicy overrides the adapter's conflict policy for this mutation only.
func WithPolicy(p policy.Policy) EnqueueOption {
	return func(r *mutation.Record) { r.Policy = string(p) }
}

// Enqueue persists a new pending mutation and returns it. The stored clock
// is the supplied (or empty) clock ticked once for this replica, so two
// enqueues from the same client are always causally ordered.
func (e *Engine) Enqueue(ctx context.Context, kind, entityID string, payload json.RawMessage, opts ...EnqueueOption) (mutation.Record, error) {
	e.mu.RLock()
	_, ok := e.adapters[kind]
	e.mu.RUnlock()
	if !ok {
		return mutation.Record{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	now := time.Now().UTC()
	rec := mutation.Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		EntityID:  entityID,
		Payload:   payload,
		Status:    mutation.StatusPending,
		Clock:     clock.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(&rec)
	}
	rec.Clock = e.nextClock(entityID, rec.Clock)

	if err := e.store.Put(ctx, rec); err != nil {
		return mutation.Record{}, err
	}
	e.publish(bus.EventEnqueued, rec, "")
	e.logger.Debug("mutation enqueued",
		log.String("record_id", rec.ID),
		log.String("entity_id", entityID),
		log.String("kind", kind))
	return rec, nil
}

// List returns every queued record for the entity, all statuses included.
func (e *Engine) List(ctx context.Context, entityID string) ([]mutation.Record, error) {
	return e.store.List(ctx, entityID)
}

// State reports the queue state for an entity.
func (e *Engine) State(entityID string) QueueState {
	state, _, _ := e.queueFor(entityID).snapshot()
	return state
}

// IsProcessing reports whether the entity's queue is currently draining.
func (e *Engine) IsProcessing(entityID string) bool {
	return e.State(entityID) == StateDraining
}

// ProcessAll drains every entity queue with pending work. Queues are
// independent and drain concurrently.
func (e *Engine) ProcessAll(ctx context.Context) error {
	entities, err := e.store.Entities(ctx)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, entityID := range entities {
		entityID := entityID
		g.Go(func() error {
			return e.Process(ctx, entityID)
		})
	}
	return g.Wait()
}

// Process drains the entity's queue: pending records are attempted in
// enqueue order (dependencies permitting) until the queue is empty, a
// conflict blocks it, or the context is cancelled. Calling Process while the
// same queue is already draining is a no-op; queues for different entities
// never interact.
func (e *Engine) Process(ctx context.Context, entityID string) error {
	q := e.queueFor(entityID)
	if !q.beginDrain() {
		return nil
	}
	e.publishState(entityID, StateDraining)

	err := e.drain(ctx, q, entityID)
	if state, _, _ := q.snapshot(); state == StateDraining {
		q.setIdle()
		e.publishState(entityID, StateIdle)
	}
	return err
}

func (e *Engine) drain(ctx context.Context, q *queue, entityID string) error {
	for {
		// Cancellation is honored between records only; an in-flight
		// remote call always completes and its outcome is applied.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		records, err := e.store.List(ctx, entityID)
		if err != nil {
			return err
		}

		// A persisted conflict (this run or a previous crash) blocks the
		// queue before anything else is attempted.
		for _, rec := range records {
			if rec.Status == mutation.StatusConflict {
				q.block(rec.ID)
				e.publishState(entityID, StateBlocked)
				return nil
			}
		}

		rec, ok, err := e.nextReady(ctx, records)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		status := mutation.StatusProcessing
		if err := e.store.Update(ctx, rec.ID, store.Patch{Status: &status}); err != nil {
			return err
		}
		rec.Status = status

		done, err := e.attempt(ctx, q, rec)
		if err != nil || done {
			return err
		}
	}
}

// nextReady picks the earliest record eligible to send: pending (or left
// mid-processing by an interrupted run) with every dependency already gone
// from the store.
func (e *Engine) nextReady(ctx context.Context, records []mutation.Record) (mutation.Record, bool, error) {
	for _, rec := range records {
		if rec.Status != mutation.StatusPending && rec.Status != mutation.StatusProcessing {
			continue
		}
		ready := true
		for _, dep := range rec.Dependencies {
			exists, err := e.store.Has(ctx, dep)
			if err != nil {
				return mutation.Record{}, false, err
			}
			if exists {
				ready = false
				break
			}
		}
		if ready {
			return rec, true, nil
		}
	}
	return mutation.Record{}, false, nil
}

// attempt sends one record and applies the tri-state outcome. done=true
// stops the drain loop without an error (queue blocked).
func (e *Engine) attempt(ctx context.Context, q *queue, rec mutation.Record) (done bool, err error) {
	adapter, ok := e.adapterFor(rec.Kind)
	if !ok {
		// Leave the record pending; it is data, not garbage.
		pending := mutation.StatusPending
		if uerr := e.store.Update(ctx, rec.ID, store.Patch{Status: &pending}); uerr != nil {
			return false, uerr
		}
		return false, fmt.Errorf("%w: %s", ErrUnknownKind, rec.Kind)
	}

	out, remoteErr := adapter.Remote(ctx, rec.Clone())
	if remoteErr != nil {
		// Timeouts and transport failures are transient by contract.
		e.logger.Warn("remote sync failed, treating as skipped",
			log.String("record_id", rec.ID), log.Error(remoteErr))
		out = mutation.Skipped()
	}

	switch out.Kind {
	case mutation.OutcomeSuccess:
		if err := e.store.Delete(ctx, rec.ID); err != nil {
			return false, err
		}
		e.publish(bus.EventSynced, rec, "")
		return false, nil

	case mutation.OutcomeSkipped:
		return false, e.applySkip(ctx, rec)

	case mutation.OutcomeConflict:
		return e.applyConflict(ctx, q, adapter, rec, out)

	default:
		return false, fmt.Errorf("remote returned unknown outcome %d for record %s", out.Kind, rec.ID)
	}
}

func (e *Engine) applySkip(ctx context.Context, rec mutation.Record) error {
	pending := mutation.StatusPending
	attempt := rec.Attempt + 1
	if err := e.store.Update(ctx, rec.ID, store.Patch{Status: &pending, Attempt: &attempt}); err != nil {
		return err
	}
	rec.Attempt = attempt
	e.publish(bus.EventSkipped, rec, "")
	if attempt >= e.cfg.MaxAttempts {
		e.logger.Error("record exceeded retry ceiling, left pending for manual retry",
			log.String("record_id", rec.ID), log.Int("attempts", attempt))
		return fmt.Errorf("%w: record %s after %d attempts", ErrAttemptsExhausted, rec.ID, attempt)
	}
	return nil
}

func (e *Engine) applyConflict(ctx context.Context, q *queue, adapter Adapter, rec mutation.Record, out mutation.Outcome) (bool, error) {
	eval := policy.Evaluator{Default: e.defaultPolicy(adapter), Merge: adapter.Merge}
	decision := eval.Evaluate(rec.Clock, out.RemoteClock, policy.Policy(rec.Policy))

	switch decision {
	case policy.DecisionApply:
		// Advance past the server's version so the re-send dominates.
		merged := e.nextClock(rec.EntityID, rec.Clock.Merge(out.RemoteClock))
		pending := mutation.StatusPending
		attempt := rec.Attempt + 1
		if err := e.store.Update(ctx, rec.ID, store.Patch{Status: &pending, Attempt: &attempt, Clock: merged}); err != nil {
			return false, err
		}
		if attempt >= e.cfg.MaxAttempts {
			return false, fmt.Errorf("%w: record %s after %d attempts", ErrAttemptsExhausted, rec.ID, attempt)
		}
		return false, nil

	case policy.DecisionMerge:
		mergedPayload, err := adapter.Merge(rec.Payload, out.RemoteValue)
		if err != nil {
			e.logger.Warn("merge function failed, escalating to conflict",
				log.String("record_id", rec.ID), log.Error(err))
			return e.escalate(ctx, q, rec)
		}
		mergedClock := e.nextClock(rec.EntityID, rec.Clock.Merge(out.RemoteClock))
		pending := mutation.StatusPending
		attempt := rec.Attempt + 1
		if err := e.store.Update(ctx, rec.ID, store.Patch{Status: &pending, Attempt: &attempt, Clock: mergedClock, Payload: mergedPayload}); err != nil {
			return false, err
		}
		if attempt >= e.cfg.MaxAttempts {
			return false, fmt.Errorf("%w: record %s after %d attempts", ErrAttemptsExhausted, rec.ID, attempt)
		}
		return false, nil

	default:
		return e.escalate(ctx, q, rec)
	}
}

// escalate freezes the record and halts the queue. Payload and clock stay in
// the store untouched until resolution.
func (e *Engine) escalate(ctx context.Context, q *queue, rec mutation.Record) (bool, error) {
	conflicted := mutation.StatusConflict
	if err := e.store.Update(ctx, rec.ID, store.Patch{Status: &conflicted}); err != nil {
		return false, err
	}
	rec.Status = conflicted
	q.block(rec.ID)
	e.publishState(rec.EntityID, StateBlocked)
	e.publish(bus.EventConflict, rec, "")
	e.logger.Info("queue blocked on conflict",
		log.String("entity_id", rec.EntityID), log.String("record_id", rec.ID))
	return true, nil
}

// nextClock merges the supplied clock with the entity's last issued one and
// ticks this replica, keeping everything this engine hands out monotonic per
// entity.
func (e *Engine) nextClock(entityID string, supplied clock.VClock) clock.VClock {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := supplied.Merge(e.clocks[entityID]).Tick(e.cfg.ReplicaID)
	e.clocks[entityID] = next
	return next
}

func (e *Engine) queueFor(entityID string) *queue {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[entityID]
	if !ok {
		q = &queue{}
		e.queues[entityID] = q
	}
	return q
}

func (e *Engine) adapterFor(kind string) (Adapter, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.adapters[kind]
	return a, ok
}

func (e *Engine) defaultPolicy(a Adapter) policy.Policy {
	if a.Policy.Valid() {
		return a.Policy
	}
	return e.cfg.DefaultPolicy
}

func (e *Engine) publish(typ bus.EventType, rec mutation.Record, detail string) {
	e.bus.Publish(bus.Event{
		Type:      typ,
		EntityID:  rec.EntityID,
		Record:    rec.Clone(),
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

func (e *Engine) publishState(entityID string, state QueueState) {
	e.bus.Publish(bus.Event{
		Type:      bus.EventQueueState,
		EntityID:  entityID,
		Detail:    state.String(),
		Timestamp: time.Now().UTC(),
	})
}
