package crdt

import (
	"encoding/json"
	"sort"
	"sync"
	"unicode"

	"github.com/numbleroot/strand/clock"
	"github.com/pkg/errors"
)

// Structs

// RGA is a replicated growable array of characters.
// All methods are safe for concurrent use: reads share
// the lock, mutations hold it exclusively.
type RGA struct {
	lock    *sync.RWMutex
	actor   clock.ActorID
	clock   clock.Service
	counter uint64
	state   *State
	stable  clock.VectorClock
}

// Functions

// InitRGA returns an empty replica that mints
// timestamps and sequence numbers from svc.
func InitRGA(svc clock.Service) *RGA {

	return &RGA{
		lock:   new(sync.RWMutex),
		actor:  svc.Actor(),
		clock:  svc,
		state:  initState(),
		stable: clock.NewVectorClock(),
	}
}

// NewReplica returns an empty replica for actor
// with its own clock manager.
func NewReplica(actor clock.ActorID) *RGA {
	return InitRGA(clock.InitManager(actor))
}

// Insert places r at visible offset and returns the
// operation to replicate. Offsets range from 0 to Len().
func (r *RGA) Insert(offset int, c rune) (Operation, error) {

	if unicode.IsControl(c) {
		return Operation{}, errors.Wrapf(ErrInvalidOperation, "control character %U can not be inserted", c)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if offset < 0 || offset > r.state.visible {
		return Operation{}, errors.Wrapf(ErrInvalidOperation, "insert offset %d out of bounds [0, %d]", offset, r.state.visible)
	}

	// The anchor is the visible character
	// left of the insert position.
	var anchor *Identifier
	if offset > 0 {
		id := r.state.visibleAt(offset - 1).ID
		anchor = &id
	}

	ts := r.clock.AdvanceLocal()
	seq := r.clock.LocalSeq()

	r.counter++
	id := Identifier{
		Counter:   r.counter,
		Actor:     r.actor,
		Timestamp: ts,
	}

	op := Operation{
		Insert: &InsertOp{
			ID:        id,
			Content:   c,
			Anchor:    anchor,
			Timestamp: ts,
			Author:    r.actor,
			Seq:       seq,
		},
	}

	r.state.integrate(nodeFromInsert(op.Insert))

	return op, nil
}

// Delete tombstones the character at visible offset
// and returns the operation to replicate.
func (r *RGA) Delete(offset int) (Operation, error) {

	r.lock.Lock()
	defer r.lock.Unlock()

	if offset < 0 || offset >= r.state.visible {
		return Operation{}, errors.Wrapf(ErrInvalidOperation, "delete offset %d out of bounds [0, %d)", offset, r.state.visible)
	}

	target := r.state.visibleAt(offset)

	ts := r.clock.AdvanceLocal()
	seq := r.clock.LocalSeq()

	op := Operation{
		Delete: &DeleteOp{
			Target:    target.ID,
			Timestamp: ts,
			Author:    r.actor,
			Seq:       seq,
		},
	}

	r.state.tombstone(target, Dot{
		Actor:     r.actor,
		Seq:       seq,
		Timestamp: ts,
	})

	return op, nil
}

// Apply integrates op into the replica. Applying an
// operation a second time has no effect. Only malformed
// operations are rejected, application problems such as
// a missing delete target are swallowed.
func (r *RGA) Apply(op Operation) error {

	err := Validate(op)
	if err != nil {
		return err
	}

	r.lock.Lock()
	r.deliver(op)
	r.lock.Unlock()

	return nil
}

// ApplyRemote is Apply for operations received from
// another replica. It also moves the local hybrid
// logical clock past the operation's timestamp.
func (r *RGA) ApplyRemote(op Operation) error {

	err := Validate(op)
	if err != nil {
		return err
	}

	r.lock.Lock()
	r.clock.AdvanceFromRemote(op.Timestamp())
	r.deliver(op)
	r.lock.Unlock()

	return nil
}

// deliver applies op and accounts for it in the vector
// clock if it took effect. It reports whether it did.
// The caller holds the write lock.
func (r *RGA) deliver(op Operation) bool {

	if !r.applyLocked(op) {
		return false
	}

	if seq := op.Seq(); seq > 0 {
		r.clock.Observe(op.Author(), seq)
	}

	return true
}

// applyLocked applies a validated operation. It reports
// whether the replica reflects op afterwards, which is
// false for an insert with an unknown anchor and for a
// delete of an unknown target.
func (r *RGA) applyLocked(op Operation) bool {

	if ins := op.Insert; ins != nil {

		if _, found := r.state.index[ins.ID]; found {
			return true
		}

		// An absent node whose insert is already counted
		// has been garbage collected.
		if ins.Seq > 0 && r.clock.Covers(ins.Author, ins.Seq) {
			return true
		}

		if ins.Anchor != nil {

			if _, found := r.state.index[*ins.Anchor]; !found {
				return false
			}
		}

		r.state.integrate(nodeFromInsert(ins))

		if ins.ID.Counter > r.counter {
			r.counter = ins.ID.Counter
		}

		return true
	}

	del := op.Delete

	target, found := r.state.lookup(del.Target)
	if !found {
		return del.Seq > 0 && r.clock.Covers(del.Author, del.Seq)
	}

	r.state.tombstone(target, Dot{
		Actor:     del.Author,
		Seq:       del.Seq,
		Timestamp: del.Timestamp,
	})

	return true
}

// Merge brings r up to date with other. Every node of
// other unknown to r is replayed as its insert, followed
// by its deletes if it is a tombstone.
func (r *RGA) Merge(other *RGA) {

	if other == nil || other == r {
		return
	}

	r.mergeSnapshot(other.Snapshot())
}

// mergeSnapshot replays s on r. It returns the
// operations that took effect and how many did not.
func (r *RGA) mergeSnapshot(s *Snapshot) ([]Operation, int) {

	ops := s.Operations()

	r.lock.Lock()
	defer r.lock.Unlock()

	r.clock.AdvanceFromRemote(clock.Timestamp{Logical: s.Logical})

	applied := make([]Operation, 0, len(ops))
	for _, op := range ops {

		if r.deliver(op) {
			applied = append(applied, op)
		}
	}

	skipped := len(ops) - len(applied)

	// The snapshot's clock only counts what
	// is now also present here.
	if skipped == 0 {
		r.clock.MergeVectorClock(s.Clock)
	}

	return applied, skipped
}

// Diff returns the operations other holds and r lacks,
// in other's sequence order.
func (r *RGA) Diff(other *RGA) []Operation {

	if other == nil || other == r {
		return []Operation{}
	}

	s := other.Snapshot()

	r.lock.RLock()
	defer r.lock.RUnlock()

	ops := make([]Operation, 0)

	for i := range s.Nodes {

		n := &s.Nodes[i]

		local, found := r.state.lookup(n.ID)
		if !found {
			ops = append(ops, nodeOperations(n)...)
			continue
		}

		// Both hold the node but other may
		// know deletes r does not.
		for _, d := range n.Deletes {

			if !local.hasDelete(d.Actor, d.Seq) {

				ops = append(ops, Operation{
					Delete: &DeleteOp{
						Target:    n.ID,
						Timestamp: d.Timestamp,
						Author:    d.Actor,
						Seq:       d.Seq,
					},
				})
			}
		}
	}

	return ops
}

// OperationsSince returns the operations the holder
// of vc lacks, inserts in identifier order first, then
// deletes in sequence order. Operations without a
// sequence number are always included.
func (r *RGA) OperationsSince(vc clock.VectorClock) []Operation {

	r.lock.RLock()
	defer r.lock.RUnlock()

	inserts := make([]*Node, 0)
	deletes := make([]Operation, 0)

	for _, n := range r.state.nodes {

		if n.Seq == 0 || n.Seq > vc.Get(n.Author) {
			inserts = append(inserts, n)
		}

		for _, d := range n.Deletes {

			if d.Seq == 0 || d.Seq > vc.Get(d.Actor) {

				deletes = append(deletes, Operation{
					Delete: &DeleteOp{
						Target:    n.ID,
						Timestamp: d.Timestamp,
						Author:    d.Actor,
						Seq:       d.Seq,
					},
				})
			}
		}
	}

	// Identifier order puts every anchor
	// before the nodes anchored to it.
	sort.Slice(inserts, func(i, j int) bool {
		return inserts[i].ID.Less(inserts[j].ID)
	})

	sort.SliceStable(deletes, func(i, j int) bool {

		if deletes[i].Delete.Seq != deletes[j].Delete.Seq {
			return deletes[i].Delete.Seq < deletes[j].Delete.Seq
		}

		return deletes[i].Delete.Author < deletes[j].Delete.Author
	})

	ops := make([]Operation, 0, len(inserts)+len(deletes))

	for _, n := range inserts {

		c := copyNode(n)

		ops = append(ops, Operation{
			Insert: &InsertOp{
				ID:        c.ID,
				Content:   c.Content,
				Anchor:    c.Anchor,
				Timestamp: c.Timestamp,
				Author:    c.Author,
				Seq:       c.Seq,
			},
		})
	}

	return append(ops, deletes...)
}

// DeltaSince returns a batch delta with exactly the
// operations the holder of vc lacks.
func (r *RGA) DeltaSince(vc clock.VectorClock) (*Delta, error) {
	return BatchDelta(r.OperationsSince(vc))
}

// ApplyDelta applies every operation in d. The whole
// payload is decoded and validated before anything is
// applied, so a malformed delta leaves r untouched. It
// returns how many operations did not take effect.
func (r *RGA) ApplyDelta(d *Delta) (int, error) {

	_, skipped, err := r.ApplyDeltaOperations(d)

	return skipped, err
}

// ApplyDeltaOperations is ApplyDelta that additionally
// returns the operations of d that took effect, in the
// order they were applied. Operations already present
// count as having taken effect.
func (r *RGA) ApplyDeltaOperations(d *Delta) ([]Operation, int, error) {

	if d != nil && d.Kind == KindFullState && d.State != nil {
		applied, skipped := r.mergeSnapshot(d.State)
		return applied, skipped, nil
	}

	ops, err := d.Operations()
	if err != nil {
		return nil, 0, err
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	applied := make([]Operation, 0, len(ops))
	for _, op := range ops {

		r.clock.AdvanceFromRemote(op.Timestamp())

		if r.deliver(op) {
			applied = append(applied, op)
		}
	}

	return applied, len(ops) - len(applied), nil
}

// ObserveClock marks everything vc covers as applied.
// Callers only pass clocks of replicas whose operations
// were completely applied here.
func (r *RGA) ObserveClock(vc clock.VectorClock) {
	r.clock.MergeVectorClock(vc)
}

// SetStableClock tells r which operations every replica
// has applied. It is what GarbageCollect may rely on.
func (r *RGA) SetStableClock(vc clock.VectorClock) {

	r.lock.Lock()
	r.stable = vc.Copy()
	r.lock.Unlock()
}

// GarbageCollect physically removes tombstones that
// are safe to forget and returns how many it removed.
// A tombstone is safe to forget if the stable clock
// covers each of its deletes and the node behind it
// does not outrank it, so that no later placement scan
// would have stopped differently because of it.
func (r *RGA) GarbageCollect() int {

	r.lock.Lock()
	defer r.lock.Unlock()

	if len(r.stable) == 0 {
		return 0
	}

	removed := 0
	lowest := len(r.state.nodes)

	// Walk backwards so that the successor of
	// each node is already final.
	for i := len(r.state.nodes) - 1; i >= 0; i-- {

		n := r.state.nodes[i]
		if n.Visible || len(n.Deletes) == 0 {
			continue
		}

		stable := true
		for _, d := range n.Deletes {

			if d.Seq == 0 || r.stable.Get(d.Actor) < d.Seq {
				stable = false
				break
			}
		}

		if !stable {
			continue
		}

		if i+1 < len(r.state.nodes) && r.state.nodes[i+1].ID.Compare(n.ID) > 0 {
			continue
		}

		r.state.remove(i)
		removed++
		lowest = i
	}

	if removed > 0 {
		r.state.reindex(lowest)
	}

	return removed
}

// NeedsGC reports whether tombstones make up
// more than half of all nodes.
func (r *RGA) NeedsGC() bool {

	r.lock.RLock()
	defer r.lock.RUnlock()

	return 2*r.state.tombstones() > len(r.state.nodes)
}

// GarbageSize returns the number of tombstones.
func (r *RGA) GarbageSize() int {

	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.state.tombstones()
}

// Text returns the visible characters in order.
func (r *RGA) Text() string {

	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.state.text()
}

// Len returns the number of visible characters.
func (r *RGA) Len() int {

	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.state.visible
}

// IsEmpty reports whether no character is visible.
func (r *RGA) IsEmpty() bool {
	return r.Len() == 0
}

// Actor returns the replica's identity.
func (r *RGA) Actor() clock.ActorID {
	return r.actor
}

// VectorClock returns a copy of the replica's vector clock.
func (r *RGA) VectorClock() clock.VectorClock {
	return r.clock.CurrentVectorClock()
}

// Snapshot captures the complete state under one
// acquisition of the read lock.
func (r *RGA) Snapshot() *Snapshot {

	r.lock.RLock()
	defer r.lock.RUnlock()

	s := &Snapshot{
		Actor:   r.actor,
		Counter: r.counter,
		Clock:   r.clock.CurrentVectorClock(),
		Nodes:   make([]Node, len(r.state.nodes)),
	}

	for i, n := range r.state.nodes {

		s.Nodes[i] = copyNode(n)

		if n.Timestamp.Logical > s.Logical {
			s.Logical = n.Timestamp.Logical
		}

		for _, d := range n.Deletes {

			if d.Timestamp.Logical > s.Logical {
				s.Logical = d.Timestamp.Logical
			}
		}
	}

	return s
}

// Restore replaces the state of r with s. It is meant
// for reloading a replica's own persisted snapshot.
func (r *RGA) Restore(s *Snapshot) error {

	if s == nil {
		return errors.Wrap(ErrSerialization, "nil snapshot")
	}

	if s.Actor != "" && s.Actor != r.actor {
		return errors.Wrapf(ErrInvalidOperation, "snapshot of '%s' can not restore replica '%s'", s.Actor, r.actor)
	}

	state := initState()
	visible := 0

	for i := range s.Nodes {

		n := copyNode(&s.Nodes[i])
		if _, found := state.index[n.ID]; found {
			return errors.Wrapf(ErrSerialization, "duplicate node %s in snapshot", n.ID)
		}

		state.nodes = append(state.nodes, &n)
		state.index[n.ID] = i

		if n.Visible {
			visible++
		}
	}
	state.visible = visible

	r.lock.Lock()
	defer r.lock.Unlock()

	r.state = state
	r.counter = s.Counter
	r.clock.Reset(s.Logical, s.Clock)

	return nil
}

// Clone returns an independent replica with the
// same actor and state as r.
func (r *RGA) Clone() *RGA {

	c := NewReplica(r.actor)

	// Restore can not fail on a snapshot of
	// the same actor taken from a valid state.
	_ = c.Restore(r.Snapshot())

	return c
}

// SizeBytes returns the size of the encoded snapshot.
func (r *RGA) SizeBytes() int {

	data, err := json.Marshal(r.Snapshot())
	if err != nil {
		return 0
	}

	return len(data)
}

func (r *RGA) String() string {
	return r.Text()
}

// nodeFromInsert builds the node an insert creates.
func nodeFromInsert(ins *InsertOp) *Node {

	n := &Node{
		ID:        ins.ID,
		Content:   ins.Content,
		Visible:   true,
		Timestamp: ins.Timestamp,
		Author:    ins.Author,
		Seq:       ins.Seq,
	}

	if ins.Anchor != nil {
		anchor := *ins.Anchor
		n.Anchor = &anchor
	}

	return n
}
