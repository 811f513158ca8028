package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Variables

var (
	actorA = ActorID("10000000-a071-4227-9e63-a4b0ee84688f")
	actorB = ActorID("20000000-a071-4227-9e63-a4b0ee84688f")
	actorC = ActorID("30000000-a071-4227-9e63-a4b0ee84688f")
)

// Functions

// TestCompare executes a white-box unit test
// on implemented Compare() function.
func TestCompare(t *testing.T) {

	empty := NewVectorClock()
	a1 := VectorClock{actorA: 1}
	a2 := VectorClock{actorA: 2}
	b1 := VectorClock{actorB: 1}
	a1b1 := VectorClock{actorA: 1, actorB: 1}
	zero := VectorClock{actorC: 0}

	assert.Equalf(t, Equal, empty.Compare(empty), "[clock.TestCompare] Expected empty clocks to be equal\n")
	assert.Equalf(t, Equal, empty.Compare(zero), "[clock.TestCompare] Expected zero entries to count as missing\n")
	assert.Equalf(t, Before, empty.Compare(a1), "[clock.TestCompare] Expected empty clock to precede %s\n", a1)
	assert.Equalf(t, Before, a1.Compare(a2), "[clock.TestCompare] Expected %s to precede %s\n", a1, a2)
	assert.Equalf(t, After, a2.Compare(a1), "[clock.TestCompare] Expected %s to follow %s\n", a2, a1)
	assert.Equalf(t, Concurrent, a1.Compare(b1), "[clock.TestCompare] Expected %s and %s to be concurrent\n", a1, b1)
	assert.Equalf(t, Concurrent, a2.Compare(a1b1), "[clock.TestCompare] Expected %s and %s to be concurrent\n", a2, a1b1)
	assert.Equalf(t, Before, b1.Compare(a1b1), "[clock.TestCompare] Expected %s to precede %s\n", b1, a1b1)

	assert.True(t, a1.HappensBefore(a1b1))
	assert.False(t, a1.HappensBefore(a1))
	assert.True(t, a1.IsConcurrent(b1))
	assert.True(t, a1b1.Dominates(a1))
	assert.True(t, a1b1.Dominates(a1b1))
	assert.False(t, a1.Dominates(b1))
}

// TestMergeAndCopy executes a white-box unit test
// on implemented Merge() and Copy() functions.
func TestMergeAndCopy(t *testing.T) {

	vc := VectorClock{actorA: 3, actorB: 1}
	vc.Merge(VectorClock{actorA: 1, actorB: 4, actorC: 2})

	assert.Equal(t, VectorClock{actorA: 3, actorB: 4, actorC: 2}, vc)

	// Changing the copy must not touch the original.
	c := vc.Copy()
	c.Advance(actorA)

	if vc.Get(actorA) != 3 {
		t.Fatalf("[clock.TestMergeAndCopy] Expected original entry to remain 3 but found %d\n", vc.Get(actorA))
	}

	var nilClock VectorClock
	assert.NotNil(t, nilClock.Copy())
}

// TestMin executes a white-box unit test
// on implemented Min() function.
func TestMin(t *testing.T) {

	assert.Equal(t, NewVectorClock(), Min())

	min := Min(
		VectorClock{actorA: 3, actorB: 5, actorC: 1},
		VectorClock{actorA: 4, actorB: 2},
		VectorClock{actorA: 6, actorB: 7, actorC: 9},
	)

	assert.Equalf(t, VectorClock{actorA: 3, actorB: 2}, min, "[clock.TestMin] Expected actor missing in one clock to be dropped\n")
}

// TestString executes a white-box unit test
// on implemented String() function.
func TestString(t *testing.T) {

	vc := VectorClock{actorB: 2, actorA: 1}
	assert.Equal(t, string(actorA)+":1;"+string(actorB)+":2", vc.String())
	assert.Equal(t, "concurrent", Concurrent.String())
}
