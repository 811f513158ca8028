package crdt

import (
	"encoding/json"

	"github.com/numbleroot/strand/clock"
	"github.com/pkg/errors"
)

// Constants

// Kinds of deltas.
const (
	KindFullState DeltaKind = "full_state"
	KindOperation DeltaKind = "operation"
	KindBatch     DeltaKind = "batch"
)

// Structs

// DeltaKind tags the variant a Delta carries.
type DeltaKind string

// Snapshot is the serializable state of one replica.
type Snapshot struct {
	Actor   clock.ActorID     `json:"actor"`
	Counter uint64            `json:"counter"`
	Logical uint64            `json:"logical"`
	Clock   clock.VectorClock `json:"clock"`
	Nodes   []Node            `json:"nodes"`
}

// Delta is what replicas exchange. Depending on Kind,
// State holds a full snapshot, Operation one encoded
// operation or Batch a list of encoded operations.
type Delta struct {
	Kind      DeltaKind         `json:"kind"`
	State     *Snapshot         `json:"state,omitempty"`
	Operation json.RawMessage   `json:"operation,omitempty"`
	Batch     []json.RawMessage `json:"batch,omitempty"`
}

// Functions

// FullStateDelta wraps a snapshot.
func FullStateDelta(s *Snapshot) *Delta {

	return &Delta{
		Kind:  KindFullState,
		State: s,
	}
}

// OperationDelta encodes op into a single-operation delta.
func OperationDelta(op Operation) (*Delta, error) {

	data, err := EncodeOperation(op)
	if err != nil {
		return nil, err
	}

	return &Delta{
		Kind:      KindOperation,
		Operation: data,
	}, nil
}

// BatchDelta encodes ops into one batch delta. A
// batch of no operations is valid.
func BatchDelta(ops []Operation) (*Delta, error) {

	batch := make([]json.RawMessage, 0, len(ops))

	for i := range ops {

		data, err := EncodeOperation(ops[i])
		if err != nil {
			return nil, err
		}

		batch = append(batch, data)
	}

	return &Delta{
		Kind:  KindBatch,
		Batch: batch,
	}, nil
}

// Operations decodes every operation contained in d.
// A full state delta yields the operations rebuilding
// the snapshot. Nothing is returned if any part fails
// to decode.
func (d *Delta) Operations() ([]Operation, error) {

	if d == nil {
		return nil, errors.Wrap(ErrSerialization, "nil delta")
	}

	switch d.Kind {

	case KindFullState:

		if d.State == nil {
			return nil, errors.Wrap(ErrSerialization, "full state delta without state")
		}

		return d.State.Operations(), nil

	case KindOperation:

		op, err := DecodeOperation(d.Operation)
		if err != nil {
			return nil, err
		}

		return []Operation{op}, nil

	case KindBatch:

		ops := make([]Operation, 0, len(d.Batch))

		for i := range d.Batch {

			op, err := DecodeOperation(d.Batch[i])
			if err != nil {
				return nil, errors.Wrapf(err, "batch entry %d", i)
			}

			ops = append(ops, op)
		}

		return ops, nil
	}

	return nil, errors.Wrapf(ErrSerialization, "unknown delta kind '%s'", d.Kind)
}

// Len returns the number of operations d carries. For
// a full state delta that is the number of nodes.
func (d *Delta) Len() int {

	if d == nil {
		return 0
	}

	switch d.Kind {
	case KindFullState:
		if d.State == nil {
			return 0
		}
		return len(d.State.Nodes)
	case KindOperation:
		return 1
	case KindBatch:
		return len(d.Batch)
	}

	return 0
}

// CombineDeltas flattens deltas into one batch delta.
// A single delta is returned unchanged.
func CombineDeltas(deltas []*Delta) (*Delta, error) {

	if len(deltas) == 1 {
		return deltas[0], nil
	}

	batch := make([]json.RawMessage, 0, len(deltas))

	for _, d := range deltas {

		switch d.Kind {

		case KindOperation:
			batch = append(batch, d.Operation)

		case KindBatch:
			batch = append(batch, d.Batch...)

		case KindFullState:

			if d.State == nil {
				return nil, errors.Wrap(ErrSerialization, "full state delta without state")
			}

			for _, op := range d.State.Operations() {

				data, err := EncodeOperation(op)
				if err != nil {
					return nil, err
				}

				batch = append(batch, data)
			}

		default:
			return nil, errors.Wrapf(ErrSerialization, "unknown delta kind '%s'", d.Kind)
		}
	}

	return &Delta{
		Kind:  KindBatch,
		Batch: batch,
	}, nil
}

// EncodeDelta serializes d into its wire format.
func EncodeDelta(d *Delta) ([]byte, error) {

	data, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(ErrSerialization, err.Error())
	}

	return data, nil
}

// DecodeDelta parses the wire format of a delta. The
// contained operations are decoded lazily.
func DecodeDelta(data []byte) (*Delta, error) {

	d := &Delta{}

	err := json.Unmarshal(data, d)
	if err != nil {
		return nil, errors.Wrap(ErrSerialization, err.Error())
	}

	switch d.Kind {
	case KindFullState, KindOperation, KindBatch:
	default:
		return nil, errors.Wrapf(ErrSerialization, "unknown delta kind '%s'", d.Kind)
	}

	return d, nil
}

// Operations returns the operations that rebuild s
// on an empty replica, in sequence order: the insert
// of every node followed by one delete per recorded
// delete of a tombstone.
func (s *Snapshot) Operations() []Operation {

	ops := make([]Operation, 0, len(s.Nodes))

	for i := range s.Nodes {
		ops = append(ops, nodeOperations(&s.Nodes[i])...)
	}

	return ops
}

// Horizon returns the clock of every operation s holds:
// its vector clock raised to the highest insert and
// delete sequence number each author has in it. This
// exceeds Clock when operations were applied out of
// order.
func (s *Snapshot) Horizon() clock.VectorClock {

	h := s.Clock.Copy()

	raise := func(actor clock.ActorID, seq uint64) {
		if seq > h.Get(actor) {
			h.Set(actor, seq)
		}
	}

	for i := range s.Nodes {

		n := &s.Nodes[i]
		raise(n.Author, n.Seq)

		for _, d := range n.Deletes {
			raise(d.Actor, d.Seq)
		}
	}

	return h
}

// nodeOperations expresses n as operations.
func nodeOperations(n *Node) []Operation {

	c := copyNode(n)

	ops := []Operation{
		{
			Insert: &InsertOp{
				ID:        c.ID,
				Content:   c.Content,
				Anchor:    c.Anchor,
				Timestamp: c.Timestamp,
				Author:    c.Author,
				Seq:       c.Seq,
			},
		},
	}

	for _, d := range c.Deletes {

		ops = append(ops, Operation{
			Delete: &DeleteOp{
				Target:    c.ID,
				Timestamp: d.Timestamp,
				Author:    d.Actor,
				Seq:       d.Seq,
			},
		})
	}

	return ops
}
