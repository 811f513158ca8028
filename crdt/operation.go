package crdt

import (
	"encoding/json"
	"unicode"

	"github.com/numbleroot/strand/clock"
	"github.com/pkg/errors"
)

// Structs

// InsertOp places character Content right after
// Anchor, or at the very beginning if Anchor is nil.
type InsertOp struct {
	ID        Identifier      `json:"id"`
	Content   rune            `json:"content"`
	Anchor    *Identifier     `json:"anchor,omitempty"`
	Timestamp clock.Timestamp `json:"timestamp"`
	Author    clock.ActorID   `json:"author"`
	Seq       uint64          `json:"seq"`
}

// DeleteOp tombstones the character named by Target.
type DeleteOp struct {
	Target    Identifier      `json:"target"`
	Timestamp clock.Timestamp `json:"timestamp"`
	Author    clock.ActorID   `json:"author"`
	Seq       uint64          `json:"seq"`
}

// Operation is the unit of replication. Exactly one
// of Insert and Delete is set. Seq is the author's
// operation sequence number, that is the value of the
// author's vector clock entry right after generating
// the operation.
type Operation struct {
	Insert *InsertOp `json:"insert,omitempty"`
	Delete *DeleteOp `json:"delete,omitempty"`
}

// Functions

// Author returns the actor that generated op.
func (op Operation) Author() clock.ActorID {

	if op.Insert != nil {
		return op.Insert.Author
	}

	if op.Delete != nil {
		return op.Delete.Author
	}

	return ""
}

// Seq returns the author's sequence number of op.
func (op Operation) Seq() uint64 {

	if op.Insert != nil {
		return op.Insert.Seq
	}

	if op.Delete != nil {
		return op.Delete.Seq
	}

	return 0
}

// Timestamp returns the hybrid logical timestamp of op.
func (op Operation) Timestamp() clock.Timestamp {

	if op.Insert != nil {
		return op.Insert.Timestamp
	}

	if op.Delete != nil {
		return op.Delete.Timestamp
	}

	return clock.Timestamp{}
}

// IsInsert reports whether op is an insert.
func (op Operation) IsInsert() bool {
	return op.Insert != nil
}

// Validate checks op for structural problems. It does
// not look at any replica state.
func Validate(op Operation) error {

	if (op.Insert == nil) == (op.Delete == nil) {
		return errors.Wrap(ErrInvalidOperation, "exactly one of insert and delete has to be set")
	}

	if op.Insert != nil {

		if unicode.IsControl(op.Insert.Content) {
			return errors.Wrapf(ErrInvalidOperation, "control character %U can not be inserted", op.Insert.Content)
		}

		if op.Insert.Author == "" || op.Insert.ID.Actor == "" {
			return errors.Wrap(ErrInvalidOperation, "insert without author")
		}

		if op.Insert.Anchor != nil && op.Insert.ID.Compare(*op.Insert.Anchor) <= 0 {
			return errors.Wrapf(ErrInvalidOperation, "insert %s does not follow its anchor %s", op.Insert.ID, op.Insert.Anchor)
		}

		return nil
	}

	if op.Delete.Author == "" {
		return errors.Wrap(ErrInvalidOperation, "delete without author")
	}

	return nil
}

// EncodeOperation serializes op into its wire format.
func EncodeOperation(op Operation) ([]byte, error) {

	data, err := json.Marshal(op)
	if err != nil {
		return nil, errors.Wrap(ErrSerialization, err.Error())
	}

	return data, nil
}

// DecodeOperation parses the wire format of one
// operation and validates the result.
func DecodeOperation(data []byte) (Operation, error) {

	var op Operation

	err := json.Unmarshal(data, &op)
	if err != nil {
		return Operation{}, errors.Wrap(ErrSerialization, err.Error())
	}

	err = Validate(op)
	if err != nil {
		return Operation{}, errors.Wrap(ErrSerialization, err.Error())
	}

	return op, nil
}
