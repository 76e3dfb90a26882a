package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/core/clock"
	"github.com/driftsync/driftsync/internal/core/events/bus"
	"github.com/driftsync/driftsync/internal/core/mutation"
	"github.com/driftsync/driftsync/internal/core/policy"
	"github.com/driftsync/driftsync/internal/core/store"
)

// scriptedRemote replays configured outcomes per record and falls back to
// success, recording every invocation.
type scriptedRemote struct {
	mu       sync.Mutex
	calls    []mutation.Record
	outcomes map[string][]mutation.Outcome // keyed by record id
}

func newScriptedRemote() *scriptedRemote {
	return &scriptedRemote{outcomes: make(map[string][]mutation.Outcome)}
}

func (r *scriptedRemote) script(recordID string, outs ...mutation.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[recordID] = append(r.outcomes[recordID], outs...)
}

func (r *scriptedRemote) fn(_ context.Context, rec mutation.Record) (mutation.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, rec)
	queue := r.outcomes[rec.ID]
	if len(queue) == 0 {
		return mutation.Success(), nil
	}
	out := queue[0]
	r.outcomes[rec.ID] = queue[1:]
	return out, nil
}

func (r *scriptedRemote) callIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.calls))
	for i, rec := range r.calls {
		ids[i] = rec.ID
	}
	return ids
}

func newTestEngine(t *testing.T, remote mutation.RemoteFunc, a Adapter) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	e := New(cfg, store.NewMemoryStore(), bus.New(), nil)
	a.Kind = "doc"
	a.Remote = remote
	require.NoError(t, e.RegisterAdapter(a))
	return e
}

func TestEnqueueProcessSuccess(t *testing.T) {
	ctx := context.Background()
	remote := newScriptedRemote()
	e := newTestEngine(t, remote.fn, Adapter{})

	rec, err := e.Enqueue(ctx, "doc", "doc-1", json.RawMessage(`{"title":"A"}`))
	require.NoError(t, err)
	assert.Equal(t, mutation.StatusPending, rec.Status)
	assert.Equal(t, 0, rec.Attempt)
	assert.Equal(t, uint64(1), rec.Clock["local"])

	require.NoError(t, e.Process(ctx, "doc-1"))

	recs, err := e.List(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, []string{rec.ID}, remote.callIDs())
	assert.Equal(t, StateIdle, e.State("doc-1"))
}

func TestEnqueueUnknownKind(t *testing.T) {
	remote := newScriptedRemote()
	e := newTestEngine(t, remote.fn, Adapter{})
	_, err := e.Enqueue(context.Background(), "upload", "f-1", nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestProcessDrainsInEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	remote := newScriptedRemote()
	e := newTestEngine(t, remote.fn, Adapter{})

	first, err := e.Enqueue(ctx, "doc", "doc-1", json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	second, err := e.Enqueue(ctx, "doc", "doc-1", json.RawMessage(`{"n":2}`))
	require.NoError(t, err)
	third, err := e.Enqueue(ctx, "doc", "doc-1", json.RawMessage(`{"n":3}`))
	require.NoError(t, err)

	// Consecutive enqueues from one replica are causally ordered.
	assert.Equal(t, uint64(1), first.Clock["local"])
	assert.Equal(t, uint64(2), second.Clock["local"])
	assert.Equal(t, uint64(3), third.Clock["local"])
	assert.True(t, third.Clock.Dominates(first.Clock))

	require.NoError(t, e.Process(ctx, "doc-1"))
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, remote.callIDs())
}

func TestReentrantProcessIsNoOp(t *testing.T) {
	ctx := context.Background()
	var e *Engine
	calls := 0
	remote := func(ctx context.Context, rec mutation.Record) (mutation.Outcome, error) {
		calls++
		// Triggering the same queue while it is draining must do nothing.
		require.NoError(t, e.Process(ctx, rec.EntityID))
		return mutation.Success(), nil
	}
	e = newTestEngine(t, remote, Adapter{})

	_, err := e.Enqueue(ctx, "doc", "doc-1", nil)
	require.NoError(t, err)
	_, err = e.Enqueue(ctx, "doc", "doc-1", nil)
	require.NoError(t, err)

	require.NoError(t, e.Process(ctx, "doc-1"))
	assert.Equal(t, 2, calls)

	recs, err := e.List(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSkippedIsRetriedUntilCeiling(t *testing.T) {
	ctx := context.Background()
	remote := newScriptedRemote()
	e := newTestEngine(t, remote.fn, Adapter{})

	rec, err := e.Enqueue(ctx, "doc", "doc-1", nil)
	require.NoError(t, err)
	remote.script(rec.ID, mutation.Skipped(), mutation.Skipped(), mutation.Skipped())

	err = e.Process(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrAttemptsExhausted)

	// The record is never dropped: it stays pending for manual retry.
	recs, err := e.List(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, mutation.StatusPending, recs[0].Status)
	assert.Equal(t, 3, recs[0].Attempt)
	assert.Equal(t, StateIdle, e.State("doc-1"))
}

func TestRemoteErrorTreatedAsSkipped(t *testing.T) {
	ctx := context.Background()
	fail := true
	remote := func(context.Context, mutation.Record) (mutation.Outcome, error) {
		if fail {
			fail = false
			return mutation.Outcome{}, errors.New("connection reset")
		}
		return mutation.Success(), nil
	}
	e := newTestEngine(t, remote, Adapter{})

	_, err := e.Enqueue(ctx, "doc", "doc-1", nil)
	require.NoError(t, err)
	require.NoError(t, e.Process(ctx, "doc-1"))

	recs, err := e.List(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestConflictBlocksQueueAndKeepsData(t *testing.T) {
	ctx := context.Background()
	remote := newScriptedRemote()
	e := newTestEngine(t, remote.fn, Adapter{Policy: policy.Manual})

	payload := json.RawMessage(`{"title":"mine"}`)
	first, err := e.Enqueue(ctx, "doc", "doc-1", payload, WithClock(clock.VClock{"client1": 1}))
	require.NoError(t, err)
	second, err := e.Enqueue(ctx, "doc", "doc-1", json.RawMessage(`{"title":"later"}`))
	require.NoError(t, err)

	remote.script(first.ID, mutation.Conflict(clock.VClock{"server": 5}, json.RawMessage(`{"title":"theirs"}`)))

	require.NoError(t, e.Process(ctx, "doc-1"))
	assert.Equal(t, StateBlocked, e.State("doc-1"))

	// Only the conflicting record was attempted; the queue halted.
	assert.Equal(t, []string{first.ID}, remote.callIDs())

	// No data loss: payload and clock stay retrievable.
	recs, err := e.List(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, mutation.StatusConflict, recs[0].Status)
	assert.JSONEq(t, string(payload), string(recs[0].Payload))
	assert.Equal(t, uint64(1), recs[0].Clock["client1"])
	assert.Equal(t, second.ID, recs[1].ID)
	assert.Equal(t, mutation.StatusPending, recs[1].Status)

	// A further trigger on a blocked queue is a no-op.
	require.NoError(t, e.Process(ctx, "doc-1"))
	assert.Equal(t, []string{first.ID}, remote.callIDs())
}

func TestLastWriteWinsAppliesStaleLocal(t *testing.T) {
	ctx := context.Background()
	remote := newScriptedRemote()
	e := newTestEngine(t, remote.fn, Adapter{Policy: policy.LastWriteWins})

	rec, err := e.Enqueue(ctx, "doc", "doc-1", nil)
	require.NoError(t, err)
	// Server is ahead of the queued clock: stale local operation.
	remote.script(rec.ID, mutation.Conflict(clock.VClock{"local": 5}, nil))

	require.NoError(t, e.Process(ctx, "doc-1"))

	// The record was re-sent with a clock advanced past the server's and
	// succeeded on the second attempt.
	require.Len(t, remote.calls, 2)
	assert.True(t, remote.calls[1].Clock.Dominates(clock.VClock{"local": 5}))
	recs, err := e.List(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCommutativePolicyMergesConcurrentVersions(t *testing.T) {
	ctx := context.Background()
	remote := newScriptedRemote()
	merge := func(local, remoteVal json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"merged":true}`), nil
	}
	e := newTestEngine(t, remote.fn, Adapter{Policy: policy.Commutative, Merge: merge})

	rec, err := e.Enqueue(ctx, "doc", "doc-1", json.RawMessage(`{"mine":1}`), WithClock(clock.VClock{"client1": 1}))
	require.NoError(t, err)
	remote.script(rec.ID, mutation.Conflict(clock.VClock{"server": 1}, json.RawMessage(`{"theirs":1}`)))

	require.NoError(t, e.Process(ctx, "doc-1"))

	require.Len(t, remote.calls, 2)
	assert.JSONEq(t, `{"merged":true}`, string(remote.calls[1].Payload))
	recs, err := e.List(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDependencyOrdering(t *testing.T) {
	ctx := context.Background()
	remote := newScriptedRemote()
	e := newTestEngine(t, remote.fn, Adapter{})

	x, err := e.Enqueue(ctx, "doc", "doc-1", nil)
	require.NoError(t, err)
	y, err := e.Enqueue(ctx, "doc", "doc-2", nil, WithDependencies(x.ID))
	require.NoError(t, err)

	// Y's dependency is still queued: nothing in doc-2 is ready.
	require.NoError(t, e.Process(ctx, "doc-2"))
	assert.Empty(t, remote.callIDs())
	assert.Equal(t, StateIdle, e.State("doc-2"))

	// Once X is synced away, Y becomes ready.
	require.NoError(t, e.Process(ctx, "doc-1"))
	require.NoError(t, e.Process(ctx, "doc-2"))
	assert.Equal(t, []string{x.ID, y.ID}, remote.callIDs())
}

func TestDependencyWithinQueueHoldsLaterRecords(t *testing.T) {
	ctx := context.Background()
	remote := newScriptedRemote()
	e := newTestEngine(t, remote.fn, Adapter{})

	blocker, err := e.Enqueue(ctx, "doc", "doc-other", nil)
	require.NoError(t, err)
	waiting, err := e.Enqueue(ctx, "doc", "doc-1", nil, WithDependencies(blocker.ID))
	require.NoError(t, err)
	free, err := e.Enqueue(ctx, "doc", "doc-1", nil)
	require.NoError(t, err)

	// The dependent record is held back; the independent one still goes.
	require.NoError(t, e.Process(ctx, "doc-1"))
	assert.Equal(t, []string{free.ID}, remote.callIDs())

	recs, err := e.List(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, waiting.ID, recs[0].ID)
}

func TestCancellationBetweenRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	remote := func(context.Context, mutation.Record) (mutation.Outcome, error) {
		// Cancel mid-record: this outcome must still be applied.
		cancel()
		return mutation.Success(), nil
	}
	e := newTestEngine(t, remote, Adapter{})

	first, err := e.Enqueue(context.Background(), "doc", "doc-1", nil)
	require.NoError(t, err)
	second, err := e.Enqueue(context.Background(), "doc", "doc-1", nil)
	require.NoError(t, err)

	err = e.Process(ctx, "doc-1")
	assert.ErrorIs(t, err, context.Canceled)

	// First record's success was applied; the second was never attempted.
	has, err := e.store.Has(context.Background(), first.ID)
	require.NoError(t, err)
	assert.False(t, has)
	recs, err := e.List(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, second.ID, recs[0].ID)
}

func TestProcessAllDrainsIndependentQueues(t *testing.T) {
	ctx := context.Background()
	remote := newScriptedRemote()
	e := newTestEngine(t, remote.fn, Adapter{})

	for _, entity := range []string{"doc-1", "doc-2", "doc-3"} {
		_, err := e.Enqueue(ctx, "doc", entity, nil)
		require.NoError(t, err)
	}
	require.NoError(t, e.ProcessAll(ctx))

	for _, entity := range []string{"doc-1", "doc-2", "doc-3"} {
		recs, err := e.List(ctx, entity)
		require.NoError(t, err)
		assert.Empty(t, recs)
	}
}

func TestEngineEmitsLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	remote := newScriptedRemote()
	b := bus.New()
	cfg := DefaultConfig()
	e := New(cfg, store.NewMemoryStore(), b, nil)
	require.NoError(t, e.RegisterAdapter(Adapter{Kind: "doc", Remote: remote.fn}))

	var types []bus.EventType
	b.Subscribe(bus.AnyEntity, "", func(ev bus.Event) { types = append(types, ev.Type) })

	rec, err := e.Enqueue(ctx, "doc", "doc-1", nil)
	require.NoError(t, err)
	remote.script(rec.ID, mutation.Conflict(clock.VClock{"server": 1, "other": 1}, nil))
	require.NoError(t, e.Process(ctx, "doc-1"))

	assert.Contains(t, types, bus.EventEnqueued)
	assert.Contains(t, types, bus.EventConflict)
	assert.Contains(t, types, bus.EventQueueState)
}
