package comm

import (
	"encoding/json"
	"testing"

	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/crdt"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

// TestDecodeSyncResponse executes a white-box unit
// test on the wire format of sync responses.
func TestDecodeSyncResponse(t *testing.T) {

	r := crdt.NewReplica(actorA)

	op1, err := r.Insert(0, 'o')
	require.Nil(t, err)
	op2, err := r.Insert(1, 'k')
	require.Nil(t, err)

	d, err := crdt.OperationDelta(op1)
	require.Nil(t, err)
	extra, err := crdt.EncodeOperation(op2)
	require.Nil(t, err)

	resp := &SyncResponse{
		From:       actorA,
		To:         actorB,
		Delta:      d,
		Operations: []json.RawMessage{extra},
		Clock:      r.VectorClock(),
		SessionID:  "sync-test",
	}

	data, err := EncodeSyncResponse(resp)
	require.Nil(t, err)
	assert.Equal(t, len(data), resp.Size())

	decoded, err := DecodeSyncResponse(data)
	require.Nil(t, err)
	assert.Equal(t, resp.Clock, decoded.Clock)

	ops, err := decoded.AllOperations()
	require.Nil(t, err)
	assert.Equal(t, []crdt.Operation{op1, op2}, ops)

	// Broken extra operations fail the whole response.
	decoded.Operations = append(decoded.Operations, json.RawMessage(`{"delete":{}}`))
	_, err = decoded.AllOperations()
	assert.Equal(t, crdt.ErrSerialization, errors.Cause(err))

	_, err = DecodeSyncResponse([]byte(`{"from":"x"}`))
	assert.Equal(t, crdt.ErrSerialization, errors.Cause(err))
}

// TestDecodeSyncRequest executes a white-box unit
// test on the wire format of sync requests.
func TestDecodeSyncRequest(t *testing.T) {

	req := &SyncRequest{
		From:      actorA,
		To:        actorB,
		Clock:     clock.VectorClock{actorA: 7},
		StateHash: "00ff",
		SessionID: "sync-test",
	}

	data, err := EncodeSyncRequest(req)
	require.Nil(t, err)

	decoded, err := DecodeSyncRequest(data)
	require.Nil(t, err)
	assert.Equal(t, req, decoded)

	_, err = DecodeSyncRequest([]byte(`not json`))
	assert.Equal(t, crdt.ErrSerialization, errors.Cause(err))
}
