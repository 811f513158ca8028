package comm

import (
	"fmt"

	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/crdt"
)

// Constants

// Kinds of conflicts between replicas.
const (
	ConflictNone ConflictType = iota
	ConflictConcurrentModification
	ConflictCausalViolation
	ConflictIncompatibleOperations
)

// Strategies to resolve two operation lists.
const (
	LocalWins ResolutionStrategy = iota
	RemoteWins
	MergeBoth
)

// Structs

// ConflictType classifies the relation of two replicas
// or of an operation to a replica. Detecting a conflict
// resolves nothing, it informs the caller.
type ConflictType int

// ResolutionStrategy picks which of two operation
// lists survives.
type ResolutionStrategy int

// Functions

func (c ConflictType) String() string {

	switch c {
	case ConflictNone:
		return "none"
	case ConflictConcurrentModification:
		return "concurrent_modification"
	case ConflictCausalViolation:
		return "causal_violation"
	case ConflictIncompatibleOperations:
		return "incompatible_operations"
	}

	return fmt.Sprintf("conflict(%d)", int(c))
}

func (s ResolutionStrategy) String() string {

	switch s {
	case LocalWins:
		return "local_wins"
	case RemoteWins:
		return "remote_wins"
	case MergeBoth:
		return "merge_both"
	}

	return fmt.Sprintf("strategy(%d)", int(s))
}

// DetectClockConflicts reports a concurrent modification
// if neither clock precedes the other.
func DetectClockConflicts(local clock.VectorClock, remote clock.VectorClock) ConflictType {

	if local.Compare(remote) == clock.Concurrent {
		return ConflictConcurrentModification
	}

	return ConflictNone
}

// ClassifyOperation reports a causal violation if op
// arrives at a replica with clock vc before operations
// of its author that precede it.
func ClassifyOperation(op crdt.Operation, vc clock.VectorClock) ConflictType {

	seq := op.Seq()
	if seq > 0 && seq > vc.Get(op.Author())+1 {
		return ConflictCausalViolation
	}

	return ConflictNone
}

// DetectOperationConflicts reports incompatible
// operations if both lists insert the same identifier
// with different content or anchor.
func DetectOperationConflicts(local []crdt.Operation, remote []crdt.Operation) ConflictType {

	inserts := make(map[crdt.Identifier]*crdt.InsertOp, len(local))

	for _, op := range local {

		if op.Insert != nil {
			inserts[op.Insert.ID] = op.Insert
		}
	}

	for _, op := range remote {

		if op.Insert == nil {
			continue
		}

		other, found := inserts[op.Insert.ID]
		if !found {
			continue
		}

		if other.Content != op.Insert.Content {
			return ConflictIncompatibleOperations
		}

		if (other.Anchor == nil) != (op.Insert.Anchor == nil) {
			return ConflictIncompatibleOperations
		}

		if other.Anchor != nil && other.Anchor.Compare(*op.Insert.Anchor) != 0 {
			return ConflictIncompatibleOperations
		}
	}

	return ConflictNone
}

// ResolveConflicts applies strategy to two lists:
// LocalWins keeps local, RemoteWins keeps remote and
// MergeBoth appends remote to local.
func ResolveConflicts[T any](local []T, remote []T, strategy ResolutionStrategy) []T {

	switch strategy {

	case LocalWins:
		return local

	case RemoteWins:
		return remote
	}

	merged := make([]T, 0, len(local)+len(remote))
	merged = append(merged, local...)

	return append(merged, remote...)
}
