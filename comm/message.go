package comm

import (
	"encoding/json"

	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/crdt"
	"github.com/pkg/errors"
)

// Structs

// SyncRequest opens a sync session. Clock is the vector
// clock of the requesting replica, StateHash a digest of
// its visible text.
type SyncRequest struct {
	From      clock.ActorID     `json:"from"`
	To        clock.ActorID     `json:"to"`
	Clock     clock.VectorClock `json:"clock"`
	StateHash string            `json:"state_hash"`
	SessionID string            `json:"session_id"`
}

// SyncResponse answers a SyncRequest and is also what
// an initiator pushes back. Delta holds everything the
// receiver lacks relative to the request's clock,
// Operations optionally carries further individually
// encoded operations to apply after the delta. Clock is
// the vector clock of the sender once Delta was cut.
type SyncResponse struct {
	From       clock.ActorID     `json:"from"`
	To         clock.ActorID     `json:"to"`
	Delta      *crdt.Delta       `json:"delta,omitempty"`
	Operations []json.RawMessage `json:"operations,omitempty"`
	Clock      clock.VectorClock `json:"clock"`
	SessionID  string            `json:"session_id"`
}

// PushReply acknowledges a pushed SyncResponse.
type PushReply struct {
	SessionID string            `json:"session_id"`
	Skipped   int               `json:"skipped"`
	Clock     clock.VectorClock `json:"clock"`
}

// Functions

// EncodeSyncRequest serializes req into its wire format.
func EncodeSyncRequest(req *SyncRequest) ([]byte, error) {

	data, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(crdt.ErrSerialization, err.Error())
	}

	return data, nil
}

// DecodeSyncRequest parses the wire format of a request.
func DecodeSyncRequest(data []byte) (*SyncRequest, error) {

	req := &SyncRequest{}

	err := json.Unmarshal(data, req)
	if err != nil {
		return nil, errors.Wrap(crdt.ErrSerialization, err.Error())
	}

	if req.SessionID == "" {
		return nil, errors.Wrap(crdt.ErrSerialization, "sync request without session id")
	}

	return req, nil
}

// EncodeSyncResponse serializes resp into its wire format.
func EncodeSyncResponse(resp *SyncResponse) ([]byte, error) {

	data, err := json.Marshal(resp)
	if err != nil {
		return nil, errors.Wrap(crdt.ErrSerialization, err.Error())
	}

	return data, nil
}

// DecodeSyncResponse parses the wire format of a response.
func DecodeSyncResponse(data []byte) (*SyncResponse, error) {

	resp := &SyncResponse{}

	err := json.Unmarshal(data, resp)
	if err != nil {
		return nil, errors.Wrap(crdt.ErrSerialization, err.Error())
	}

	if resp.SessionID == "" {
		return nil, errors.Wrap(crdt.ErrSerialization, "sync response without session id")
	}

	return resp, nil
}

// Size returns the number of bytes req occupies
// on the wire.
func (req *SyncRequest) Size() int {

	data, err := EncodeSyncRequest(req)
	if err != nil {
		return 0
	}

	return len(data)
}

// Size returns the number of bytes resp occupies
// on the wire.
func (resp *SyncResponse) Size() int {

	data, err := EncodeSyncResponse(resp)
	if err != nil {
		return 0
	}

	return len(data)
}

// AllOperations decodes the delta and the extra
// operations of resp, in that order. Nothing is
// returned if any part is malformed.
func (resp *SyncResponse) AllOperations() ([]crdt.Operation, error) {

	ops := make([]crdt.Operation, 0)

	if resp.Delta != nil {

		deltaOps, err := resp.Delta.Operations()
		if err != nil {
			return nil, err
		}

		ops = append(ops, deltaOps...)
	}

	for i := range resp.Operations {

		op, err := crdt.DecodeOperation(resp.Operations[i])
		if err != nil {
			return nil, errors.Wrapf(err, "operation %d", i)
		}

		ops = append(ops, op)
	}

	return ops, nil
}
