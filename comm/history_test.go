package comm

import (
	"testing"

	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/crdt"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

// recordTyping types text on r and adds one delta per
// operation to h, the way a replica feeds its history.
func recordTyping(t *testing.T, r *crdt.RGA, h *DeltaHistory, text string) {

	for _, c := range text {

		op, err := r.Insert(r.Len(), c)
		require.Nil(t, err)

		d, err := crdt.OperationDelta(op)
		require.Nil(t, err)

		h.Add(r.VectorClock(), d)
	}
}

// TestDeltaHistory executes a white-box unit test
// on a delta history answering syncs.
func TestDeltaHistory(t *testing.T) {

	r := crdt.NewReplica(actorA)
	h := InitDeltaHistory(3, r.VectorClock())

	assert.True(t, h.IsEmpty())

	_, err := h.DeltaSince(clock.NewVectorClock())
	assert.Equal(t, ErrNoDelta, errors.Cause(err))

	recordTyping(t, r, h, "ab")
	assert.Equal(t, 2, h.Len())
	assert.True(t, h.Covers(clock.NewVectorClock()))

	// A single delta is returned as it is.
	d, err := h.DeltaSince(clock.VectorClock{actorA: 2})
	require.Nil(t, err)
	assert.Equal(t, crdt.KindOperation, d.Kind)

	// Several are flattened into one batch.
	d, err = h.DeltaSince(clock.NewVectorClock())
	require.Nil(t, err)
	assert.Equal(t, crdt.KindBatch, d.Kind)
	assert.Equal(t, 2, d.Len())

	fresh := crdt.NewReplica(actorB)
	skipped, err := fresh.ApplyDelta(d)
	require.Nil(t, err)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, "ab", fresh.Text())

	// Overflowing evicts the oldest delta, after which
	// an empty clock is no longer served completely.
	recordTyping(t, r, h, "cd")
	assert.Equal(t, 3, h.Len())
	assert.False(t, h.Covers(clock.NewVectorClock()))
	assert.True(t, h.Covers(clock.VectorClock{actorA: 1}))

	d, err = h.DeltaSince(clock.VectorClock{actorA: 1})
	require.Nil(t, err)
	assert.Equal(t, 3, d.Len())

	h.Clear()
	assert.True(t, h.IsEmpty())
	assert.False(t, h.Covers(clock.VectorClock{actorA: 3}))
	assert.True(t, h.Covers(r.VectorClock()))
}
