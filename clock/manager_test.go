package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Functions

// TestAdvanceLocal executes a white-box unit test
// on implemented AdvanceLocal() function.
func TestAdvanceLocal(t *testing.T) {

	// Freeze physical time so only the logical
	// part can move.
	frozen := time.Unix(1500000000, 0)
	m := InitManagerWithClock(actorA, func() time.Time { return frozen })

	t1 := m.AdvanceLocal()
	t2 := m.AdvanceLocal()

	if !t1.Less(t2) {
		t.Fatalf("[clock.TestAdvanceLocal] Expected %s to be less than %s\n", t1, t2)
	}

	assert.Equal(t, actorA, t2.Replica)
	assert.Equal(t, uint64(1500000000000), t1.Physical)
	assert.Equal(t, uint64(2), m.CurrentVectorClock().Get(actorA))
}

// TestAdvanceFromRemote executes a white-box unit
// test on implemented AdvanceFromRemote() function.
func TestAdvanceFromRemote(t *testing.T) {

	frozen := time.Unix(10, 0)
	m := InitManagerWithClock(actorA, func() time.Time { return frozen })

	remote := Timestamp{Logical: 99999999, Physical: 5, Replica: actorB}
	local := m.AdvanceFromRemote(remote)

	assert.Equalf(t, uint64(100000000), local.Logical, "[clock.TestAdvanceFromRemote] Expected logical part to move past remote\n")

	next := m.AdvanceLocal()
	assert.True(t, local.Less(next))

	// Remote timestamps do not count as local events.
	assert.Equal(t, uint64(0), m.CurrentVectorClock().Get(actorB))
	assert.Equal(t, uint64(1), m.CurrentVectorClock().Get(actorA))
	assert.Equal(t, uint64(1), m.LocalSeq())
}

// TestObserve executes a white-box unit test
// on implemented Observe() function.
func TestObserve(t *testing.T) {

	m := InitManager(actorA)

	assert.False(t, m.Observe(actorB, 3), "gap must not be accepted")
	assert.False(t, m.Covers(actorB, 3))
	assert.Equal(t, uint64(0), m.CurrentVectorClock().Get(actorB))

	// Filling the gap releases the parked number.
	assert.True(t, m.Observe(actorB, 1))
	assert.Equal(t, uint64(1), m.CurrentVectorClock().Get(actorB))
	assert.True(t, m.Observe(actorB, 2))
	assert.Equal(t, uint64(3), m.CurrentVectorClock().Get(actorB))
	assert.True(t, m.Observe(actorB, 1), "already covered")
	assert.True(t, m.Covers(actorB, 3))

	m.MergeVectorClock(VectorClock{actorB: 5, actorC: 1})
	assert.Equal(t, VectorClock{actorB: 5, actorC: 1}, m.CurrentVectorClock())

	m.Reset(7, VectorClock{actorA: 3})
	assert.Equal(t, VectorClock{actorA: 3}, m.CurrentVectorClock())
}

// TestConcurrentAdvance executes a black-box test
// on concurrent use of one manager.
func TestConcurrentAdvance(t *testing.T) {

	m := InitManager(actorA)
	wg := &sync.WaitGroup{}

	seen := make(chan Timestamp, 400)

	for i := 0; i < 4; i++ {

		wg.Add(1)
		go func() {

			defer wg.Done()
			for j := 0; j < 100; j++ {
				seen <- m.AdvanceLocal()
			}
		}()
	}

	wg.Wait()
	close(seen)

	unique := make(map[uint64]struct{})
	for ts := range seen {
		unique[ts.Logical] = struct{}{}
	}

	assert.Equalf(t, 400, len(unique), "[clock.TestConcurrentAdvance] Expected all timestamps to be distinct\n")
	assert.Equal(t, uint64(400), m.CurrentVectorClock().Get(actorA))
}

// TestParseActorID executes a white-box unit
// test on implemented ParseActorID() function.
func TestParseActorID(t *testing.T) {

	id, err := ParseActorID(string(actorA))
	assert.Nil(t, err)
	assert.Equal(t, actorA, id)

	_, err = ParseActorID("not-a-uuid")
	assert.NotNil(t, err)

	assert.NotEqual(t, NewActorID(), NewActorID())
}
