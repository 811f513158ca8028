package node

import (
	"context"

	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/comm"
	"github.com/numbleroot/strand/crdt"
)

// Structs

// Service defines the interface a replica
// node in a strand network provides.
type Service interface {

	// Handler lets peers sync with this node.
	comm.Handler

	// Insert places c at the visible offset of the
	// document and distributes the operation.
	Insert(offset int, c rune) (crdt.Operation, error)

	// Delete hides the character at the visible
	// offset and distributes the operation.
	Delete(offset int) (crdt.Operation, error)

	// Text returns the visible document.
	Text() string

	// SyncWith runs one pull and, if the peer lacks
	// local operations, one push against peer.
	SyncWith(ctx context.Context, peer clock.ActorID) error

	// SyncDue syncs with every peer whose interval
	// has elapsed and returns how many succeeded.
	SyncDue(ctx context.Context) (int, error)

	// ApplyBroadcast integrates an operation another
	// replica published on the broadcast bus.
	ApplyBroadcast(op crdt.Operation) error

	// Persist saves a snapshot of the replica.
	Persist() error

	// CollectGarbage removes tombstones every peer is
	// known to have seen and returns how many.
	CollectGarbage() int

	// Statistics returns the sync statistics.
	Statistics() comm.SyncStatistics
}
