package comm

import (
	"sync"

	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/crdt"
)

// Structs

// historyEntry pairs a delta with the replica's
// vector clock right after applying it.
type historyEntry struct {
	clock clock.VectorClock
	delta *crdt.Delta
}

// DeltaHistory keeps the most recent deltas of a
// replica in a bounded FIFO so that syncs can be
// answered without recomputing a diff.
type DeltaHistory struct {
	lock    *sync.RWMutex
	entries []historyEntry
	maxSize int
	horizon clock.VectorClock
}

// Functions

// InitDeltaHistory returns an empty history for at most
// maxSize deltas. base is the clock of everything the
// replica held before the first delta was added.
func InitDeltaHistory(maxSize int, base clock.VectorClock) *DeltaHistory {

	if maxSize < 1 {
		maxSize = 1
	}

	return &DeltaHistory{
		lock:    new(sync.RWMutex),
		entries: make([]historyEntry, 0, maxSize),
		maxSize: maxSize,
		horizon: base.Copy(),
	}
}

// Add appends delta with its clock and evicts the
// oldest entry if the history is full.
func (h *DeltaHistory) Add(vc clock.VectorClock, delta *crdt.Delta) {

	h.lock.Lock()
	defer h.lock.Unlock()

	h.entries = append(h.entries, historyEntry{
		clock: vc.Copy(),
		delta: delta,
	})

	if len(h.entries) > h.maxSize {

		// Remember what was forgotten.
		h.horizon.Merge(h.entries[0].clock)

		h.entries[0] = historyEntry{}
		h.entries = h.entries[1:]
	}
}

// Covers reports whether the holder of vc already has
// everything that is no longer in the history, so that
// DeltaSince(vc) is complete.
func (h *DeltaHistory) Covers(vc clock.VectorClock) bool {

	h.lock.RLock()
	defer h.lock.RUnlock()

	return vc.Dominates(h.horizon)
}

// DeltaSince returns all deltas whose clock does not
// strictly precede vc, flattened into one batch if
// there are several. ErrNoDelta is returned if there
// are none.
func (h *DeltaHistory) DeltaSince(vc clock.VectorClock) (*crdt.Delta, error) {

	h.lock.RLock()

	relevant := make([]*crdt.Delta, 0)
	for _, e := range h.entries {

		if !e.clock.HappensBefore(vc) {
			relevant = append(relevant, e.delta)
		}
	}

	h.lock.RUnlock()

	if len(relevant) == 0 {
		return nil, ErrNoDelta
	}

	return crdt.CombineDeltas(relevant)
}

// Len returns the number of stored deltas.
func (h *DeltaHistory) Len() int {

	h.lock.RLock()
	defer h.lock.RUnlock()

	return len(h.entries)
}

// IsEmpty reports whether no delta is stored.
func (h *DeltaHistory) IsEmpty() bool {
	return h.Len() == 0
}

// Clear drops all deltas. The dropped deltas count
// as evicted.
func (h *DeltaHistory) Clear() {

	h.lock.Lock()
	defer h.lock.Unlock()

	for _, e := range h.entries {
		h.horizon.Merge(e.clock)
	}

	h.entries = make([]historyEntry, 0, h.maxSize)
}
