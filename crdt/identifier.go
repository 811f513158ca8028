package crdt

import (
	"fmt"

	"github.com/numbleroot/strand/clock"
)

// Structs

// Identifier names exactly one inserted character.
// Counter is advanced past every counter the minting
// replica has applied before, so an identifier is always
// greater than the identifier of its anchor.
type Identifier struct {
	Counter   uint64          `json:"counter"`
	Actor     clock.ActorID   `json:"actor"`
	Timestamp clock.Timestamp `json:"timestamp"`
}

// Dot names one delete of a character by its author
// and that author's operation sequence number.
type Dot struct {
	Actor     clock.ActorID   `json:"actor"`
	Seq       uint64          `json:"seq"`
	Timestamp clock.Timestamp `json:"timestamp"`
}

// Node is one character in the sequence, live or
// tombstoned. Deletes collects every delete that hit
// the node. It is empty exactly while Visible is true.
type Node struct {
	ID        Identifier      `json:"id"`
	Content   rune            `json:"content"`
	Visible   bool            `json:"visible"`
	Timestamp clock.Timestamp `json:"timestamp"`
	Author    clock.ActorID   `json:"author"`
	Anchor    *Identifier     `json:"anchor,omitempty"`
	Seq       uint64          `json:"seq"`
	Deletes   []Dot           `json:"deletes,omitempty"`
}

// Functions

// Compare orders identifiers lexicographically by
// counter, actor and timestamp. It returns -1, 0 or 1.
func (id Identifier) Compare(other Identifier) int {

	if id.Counter < other.Counter {
		return -1
	} else if id.Counter > other.Counter {
		return 1
	}

	if id.Actor < other.Actor {
		return -1
	} else if id.Actor > other.Actor {
		return 1
	}

	return id.Timestamp.Compare(other.Timestamp)
}

// Less is shorthand for id.Compare(other) < 0.
func (id Identifier) Less(other Identifier) bool {
	return id.Compare(other) < 0
}

func (id Identifier) String() string {
	return fmt.Sprintf("%d@%s", id.Counter, id.Actor)
}

// copyNode returns a deep copy of n.
func copyNode(n *Node) Node {

	c := *n

	if n.Anchor != nil {
		anchor := *n.Anchor
		c.Anchor = &anchor
	}

	if n.Deletes != nil {
		c.Deletes = make([]Dot, len(n.Deletes))
		copy(c.Deletes, n.Deletes)
	}

	return c
}

// hasDelete reports whether the delete named by
// actor and seq already hit n.
func (n *Node) hasDelete(actor clock.ActorID, seq uint64) bool {

	for _, d := range n.Deletes {

		if d.Actor == actor && d.Seq == seq {
			return true
		}
	}

	return false
}
