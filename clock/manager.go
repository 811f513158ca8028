package clock

import (
	"sync"
	"time"
)

// Structs

// Service is the clock collaborator the replicated
// data types consume. Implementations must be safe
// for concurrent use.
type Service interface {

	// Actor returns the identity of the local replica.
	Actor() ActorID

	// AdvanceLocal ticks the clock for a locally generated
	// event and counts that event in the local entry of
	// the vector clock.
	AdvanceLocal() Timestamp

	// AdvanceFromRemote moves the clock past a timestamp
	// received from another replica.
	AdvanceFromRemote(remote Timestamp) Timestamp

	// CurrentVectorClock returns a copy of the vector clock.
	CurrentVectorClock() VectorClock

	// LocalSeq returns the local vector clock entry, which
	// is the sequence number of the last local event.
	LocalSeq() uint64

	// Covers reports whether the vector clock entry of
	// actor has reached seq.
	Covers(actor ActorID, seq uint64) bool

	// Observe records that the operation with sequence
	// number seq of actor was applied. The entry only moves
	// over contiguous sequence numbers, so the vector clock
	// never claims an operation that has not been seen.
	Observe(actor ActorID, seq uint64) bool

	// MergeVectorClock folds a clock whose operations
	// have all been applied locally into the vector clock.
	MergeVectorClock(vc VectorClock)

	// Reset installs persisted clock state.
	Reset(logical uint64, vc VectorClock)
}

// Manager is the default Service. It keeps one hybrid
// logical clock and one vector clock for one replica.
type Manager struct {
	lock    *sync.RWMutex
	actor   ActorID
	logical uint64
	last    uint64
	vc      VectorClock
	pending map[ActorID]map[uint64]struct{}
	now     func() time.Time
}

// Functions

// InitManager returns a clock manager for actor
// reading physical time from the system clock.
func InitManager(actor ActorID) *Manager {
	return InitManagerWithClock(actor, time.Now)
}

// InitManagerWithClock returns a clock manager that
// uses now as its physical time source.
func InitManagerWithClock(actor ActorID, now func() time.Time) *Manager {

	return &Manager{
		lock:    new(sync.RWMutex),
		actor:   actor,
		vc:      NewVectorClock(),
		pending: make(map[ActorID]map[uint64]struct{}),
		now:     now,
	}
}

// physical returns the current wall-clock reading in
// milliseconds, never smaller than a reading returned
// before.
func (m *Manager) physical() uint64 {

	p := uint64(m.now().UnixNano() / int64(time.Millisecond))
	if p < m.last {
		p = m.last
	}
	m.last = p

	return p
}

// Actor returns the replica this manager belongs to.
func (m *Manager) Actor() ActorID {
	return m.actor
}

// AdvanceLocal ticks the hybrid logical clock and
// increments the local vector clock entry.
func (m *Manager) AdvanceLocal() Timestamp {

	m.lock.Lock()
	defer m.lock.Unlock()

	p := m.physical()

	// The logical part follows physical time as long as
	// that moves forward, otherwise it just counts up.
	if p > m.logical {
		m.logical = p
	} else {
		m.logical++
	}

	m.vc.Advance(m.actor)

	return Timestamp{
		Logical:  m.logical,
		Physical: p,
		Replica:  m.actor,
	}
}

// AdvanceFromRemote moves the logical part past remote
// and returns the new local reading. The vector clock
// is left untouched, delivery is accounted for via
// Observe.
func (m *Manager) AdvanceFromRemote(remote Timestamp) Timestamp {

	m.lock.Lock()
	defer m.lock.Unlock()

	p := m.physical()

	max := m.logical
	if remote.Logical > max {
		max = remote.Logical
	}

	if p > max {
		m.logical = p
	} else {
		m.logical = max + 1
	}

	return Timestamp{
		Logical:  m.logical,
		Physical: p,
		Replica:  m.actor,
	}
}

// CurrentVectorClock returns an owned copy of the
// vector clock.
func (m *Manager) CurrentVectorClock() VectorClock {

	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.vc.Copy()
}

// LocalSeq returns the number of local events so far.
func (m *Manager) LocalSeq() uint64 {

	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.vc[m.actor]
}

// Covers reports whether vc[actor] >= seq.
func (m *Manager) Covers(actor ActorID, seq uint64) bool {

	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.vc[actor] >= seq
}

// Observe marks operation seq of actor as applied. A
// sequence number beyond the next expected one is parked
// until the gap before it is filled. It reports whether
// the entry now covers seq.
func (m *Manager) Observe(actor ActorID, seq uint64) bool {

	m.lock.Lock()
	defer m.lock.Unlock()

	cur := m.vc[actor]

	if seq <= cur {
		return true
	}

	if seq > cur+1 {

		parked, found := m.pending[actor]
		if !found {
			parked = make(map[uint64]struct{})
			m.pending[actor] = parked
		}
		parked[seq] = struct{}{}

		return false
	}

	// Move over seq and every parked number
	// directly following it.
	cur = seq
	parked := m.pending[actor]

	for {

		if _, found := parked[cur+1]; !found {
			break
		}

		delete(parked, cur+1)
		cur++
	}

	if len(parked) == 0 {
		delete(m.pending, actor)
	}

	m.vc[actor] = cur

	return true
}

// MergeVectorClock takes the pairwise maximum with vc
// and drops parked numbers the result now covers.
func (m *Manager) MergeVectorClock(vc VectorClock) {

	m.lock.Lock()
	defer m.lock.Unlock()

	m.vc.Merge(vc)

	for actor, parked := range m.pending {

		for seq := range parked {

			if seq <= m.vc[actor] {
				delete(parked, seq)
			}
		}

		if len(parked) == 0 {
			delete(m.pending, actor)
		}
	}
}

// Reset overwrites the clock state, used when a
// replica is restored from persisted state.
func (m *Manager) Reset(logical uint64, vc VectorClock) {

	m.lock.Lock()
	defer m.lock.Unlock()

	if logical > m.logical {
		m.logical = logical
	}
	m.vc = vc.Copy()
	m.pending = make(map[ActorID]map[uint64]struct{})
}
