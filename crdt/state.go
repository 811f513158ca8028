package crdt

import (
	"strings"
)

// Structs

// State is the ordered node sequence of one replica,
// tombstones included, plus a position index and the
// number of visible nodes. It is not synchronized, the
// owning RGA guards it.
type State struct {
	nodes   []*Node
	index   map[Identifier]int
	visible int
}

// Functions

// initState returns an empty state.
func initState() *State {

	return &State{
		nodes: make([]*Node, 0, 64),
		index: make(map[Identifier]int),
	}
}

// reindex rewrites the position index for every
// node at or behind position from.
func (s *State) reindex(from int) {

	for i := from; i < len(s.nodes); i++ {
		s.index[s.nodes[i].ID] = i
	}
}

// lookup returns the node named by id.
func (s *State) lookup(id Identifier) (*Node, bool) {

	pos, found := s.index[id]
	if !found {
		return nil, false
	}

	return s.nodes[pos], true
}

// visibleAt returns the node at offset in the
// sequence of visible nodes.
func (s *State) visibleAt(offset int) *Node {

	seen := 0

	for _, n := range s.nodes {

		if !n.Visible {
			continue
		}

		if seen == offset {
			return n
		}
		seen++
	}

	return nil
}

// integrate places n into the sequence. The scan starts
// right behind the anchor and skips every node whose
// identifier is greater than the one of n. The caller
// has made sure that the anchor is present and n is not.
func (s *State) integrate(n *Node) {

	pos := 0
	if n.Anchor != nil {
		pos = s.index[*n.Anchor] + 1
	}

	for pos < len(s.nodes) && s.nodes[pos].ID.Compare(n.ID) > 0 {
		pos++
	}

	// Splice n in at pos.
	s.nodes = append(s.nodes, nil)
	copy(s.nodes[(pos+1):], s.nodes[pos:])
	s.nodes[pos] = n

	s.reindex(pos)

	if n.Visible {
		s.visible++
	}
}

// tombstone applies the delete named by d to n. It
// reports whether the delete was new to n.
func (s *State) tombstone(n *Node, d Dot) bool {

	if d.Seq > 0 && n.hasDelete(d.Actor, d.Seq) {
		return false
	}

	n.Deletes = append(n.Deletes, d)

	// Visibility is a one-way latch.
	if n.Visible {
		n.Visible = false
		s.visible--
	}

	return true
}

// tombstones counts invisible nodes.
func (s *State) tombstones() int {
	return len(s.nodes) - s.visible
}

// text concatenates the content of all visible nodes.
func (s *State) text() string {

	var b strings.Builder
	b.Grow(s.visible)

	for _, n := range s.nodes {

		if n.Visible {
			b.WriteRune(n.Content)
		}
	}

	return b.String()
}

// remove physically drops the node at position pos.
func (s *State) remove(pos int) {

	n := s.nodes[pos]

	copy(s.nodes[pos:], s.nodes[(pos+1):])
	s.nodes[len(s.nodes)-1] = nil
	s.nodes = s.nodes[:(len(s.nodes) - 1)]

	delete(s.index, n.ID)

	if n.Visible {
		s.visible--
	}
}
