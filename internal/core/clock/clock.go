package clock

// VClock is a vector clock mapping replica identifiers to version counters.
// Values are treated as immutable: every operation that would change a clock
// returns a fresh copy, so a clock held by one record can never be corrupted
// through another reference.
type VClock map[string]uint64

// New returns an empty clock. The empty clock is the identity for Merge and
// is dominated by every other clock.
func New() VClock {
	return make(VClock)
}

// Copy returns an independent copy of the clock.
func (vc VClock) Copy() VClock {
	out := make(VClock, len(vc))
	for replica, counter := range vc {
		out[replica] = counter
	}
	return out
}

// Tick returns a copy of the clock with the counter for replica advanced by
// one. The receiver is left untouched.
func (vc VClock) Tick(replica string) VClock {
	out := vc.Copy()
	out[replica]++
	return out
}

// Merge returns the component-wise maximum of both clocks. Commutative,
// associative and idempotent; neither input is modified.
func (vc VClock) Merge(other VClock) VClock {
	out := vc.Copy()
	for replica, counter := range other {
		if out[replica] < counter {
			out[replica] = counter
		}
	}
	return out
}

// Dominates reports whether vc causally descends from other: every counter
// in other is present in vc at the same or a higher value. A clock dominates
// itself.
func (vc VClock) Dominates(other VClock) bool {
	for replica, counter := range other {
		if vc[replica] < counter {
			return false
		}
	}
	return true
}

// Concurrent reports whether neither clock descends from the other. Two
// concurrent clocks represent divergent histories and are conflict
// candidates.
func (vc VClock) Concurrent(other VClock) bool {
	return !vc.Dominates(other) && !other.Dominates(vc)
}

// Equal reports whether both clocks carry identical counters. Missing keys
// are treated as zero, so {} and {"a":0} compare equal.
func (vc VClock) Equal(other VClock) bool {
	return vc.Dominates(other) && other.Dominates(vc)
}

// Ordering is the result of comparing two clocks.
type Ordering uint8

const (
	// OrderEqual means both clocks describe the same causal state.
	OrderEqual Ordering = iota
	// OrderAhead means the receiver strictly dominates the argument.
	OrderAhead
	// OrderBehind means the argument strictly dominates the receiver.
	OrderBehind
	// OrderConcurrent means neither clock dominates the other.
	OrderConcurrent
)

// Compare classifies the causal relation between vc and other.
func (vc VClock) Compare(other VClock) Ordering {
	ahead := vc.Dominates(other)
	behind := other.Dominates(vc)
	switch {
	case ahead && behind:
		return OrderEqual
	case ahead:
		return OrderAhead
	case behind:
		return OrderBehind
	default:
		return OrderConcurrent
	}
}
