package clock

import (
	"fmt"
	"sort"
	"strings"
)

// Constants

// Possible outcomes of comparing two vector clocks.
const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

// Structs

// Ordering is the causal relation between two vector clocks.
type Ordering int

// VectorClock maps each actor to the number of its
// operations that have been observed. Missing entries
// count as zero. A VectorClock value is not synchronized,
// owners guard it themselves.
type VectorClock map[ActorID]uint64

// Functions

// NewVectorClock returns an empty vector clock.
func NewVectorClock() VectorClock {
	return make(VectorClock)
}

// String returns the textual name of an ordering.
func (o Ordering) String() string {

	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	}

	return fmt.Sprintf("ordering(%d)", int(o))
}

// Get returns the entry of actor, zero if absent.
func (vc VectorClock) Get(actor ActorID) uint64 {
	return vc[actor]
}

// Set overwrites the entry of actor.
func (vc VectorClock) Set(actor ActorID, value uint64) {
	vc[actor] = value
}

// Advance increments the entry of actor by one and
// returns the new value.
func (vc VectorClock) Advance(actor ActorID) uint64 {
	vc[actor]++
	return vc[actor]
}

// Merge folds other into vc by taking the pairwise maximum.
func (vc VectorClock) Merge(other VectorClock) {

	for actor, value := range other {

		if value > vc[actor] {
			vc[actor] = value
		}
	}
}

// Copy returns a deep copy. The copy of a nil clock
// is an empty, non-nil clock.
func (vc VectorClock) Copy() VectorClock {

	c := make(VectorClock, len(vc))
	for actor, value := range vc {
		c[actor] = value
	}

	return c
}

// Compare determines the causal relation of vc to other.
func (vc VectorClock) Compare(other VectorClock) Ordering {

	less := false
	greater := false

	for actor, value := range vc {

		o := other[actor]
		if value < o {
			less = true
		} else if value > o {
			greater = true
		}
	}

	// Entries only present in other can only make
	// vc smaller.
	for actor, value := range other {

		if _, found := vc[actor]; !found && value > 0 {
			less = true
		}
	}

	switch {
	case less && greater:
		return Concurrent
	case less:
		return Before
	case greater:
		return After
	}

	return Equal
}

// HappensBefore reports whether vc strictly precedes other.
func (vc VectorClock) HappensBefore(other VectorClock) bool {
	return vc.Compare(other) == Before
}

// IsConcurrent reports whether neither clock precedes the other.
func (vc VectorClock) IsConcurrent(other VectorClock) bool {
	return vc.Compare(other) == Concurrent
}

// Dominates reports whether vc is pairwise greater
// than or equal to other.
func (vc VectorClock) Dominates(other VectorClock) bool {
	o := vc.Compare(other)
	return o == After || o == Equal
}

// Actors returns the actors with an entry, sorted.
func (vc VectorClock) Actors() []ActorID {

	actors := make([]ActorID, 0, len(vc))
	for actor := range vc {
		actors = append(actors, actor)
	}

	sort.Slice(actors, func(i, j int) bool {
		return actors[i] < actors[j]
	})

	return actors
}

// String renders the clock as 'actor:value' pairs
// separated by semicolons, sorted by actor.
func (vc VectorClock) String() string {

	pairs := make([]string, 0, len(vc))
	for _, actor := range vc.Actors() {
		pairs = append(pairs, fmt.Sprintf("%s:%d", actor, vc[actor]))
	}

	return strings.Join(pairs, ";")
}

// Min returns the pairwise minimum of all supplied clocks.
// An actor missing from any clock is missing from the
// result. Min of no clocks is an empty clock.
func Min(clocks ...VectorClock) VectorClock {

	min := NewVectorClock()
	if len(clocks) == 0 {
		return min
	}

	for actor, value := range clocks[0] {
		min[actor] = value
	}

	for _, c := range clocks[1:] {

		for actor, value := range min {

			o, found := c[actor]
			if !found {
				delete(min, actor)
			} else if o < value {
				min[actor] = o
			}
		}
	}

	return min
}
