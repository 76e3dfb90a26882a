package engine

import "sync"

// QueueState is the processing state of one entity's queue.
type QueueState uint8

const (
	// StateIdle means nothing is draining and nothing blocks the queue.
	StateIdle QueueState = iota
	// StateDraining means a process run is walking the queue.
	StateDraining
	// StateBlocked means a conflict halted the queue until resolved.
	StateBlocked
)

func (s QueueState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// queue carries the per-entity state machine. All records live in the store;
// the queue only tracks where the drain loop stands.
type queue struct {
	mu         sync.Mutex
	state      QueueState
	conflictID string
	dismissed  bool
}

// beginDrain transitions Idle -> Draining. A re-entrant trigger while
// draining, or a trigger on a blocked queue, is a no-op.
func (q *queue) beginDrain() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != StateIdle {
		return false
	}
	q.state = StateDraining
	return true
}

func (q *queue) setIdle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state = StateIdle
	q.conflictID = ""
	q.dismissed = false
}

func (q *queue) block(conflictID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state = StateBlocked
	q.conflictID = conflictID
	q.dismissed = false
}

// unblock clears a Blocked state so a fresh drain can begin. Reports false
// when the queue was not blocked.
func (q *queue) unblock() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != StateBlocked {
		return false
	}
	q.state = StateIdle
	q.conflictID = ""
	q.dismissed = false
	return true
}

func (q *queue) snapshot() (QueueState, string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state, q.conflictID, q.dismissed
}

func (q *queue) dismiss() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == StateBlocked {
		q.dismissed = true
	}
}
