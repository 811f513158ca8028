package crdt

import (
	"github.com/pkg/errors"
)

// Variables

var (
	// ErrInvalidOperation is returned for operations that
	// are rejected before being applied, for example an
	// insert of a control character or an offset out of
	// bounds.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrSerialization is returned when an operation or
	// delta payload can not be decoded.
	ErrSerialization = errors.New("malformed payload")
)
