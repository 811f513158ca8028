package comm

import (
	"github.com/pkg/errors"
)

// Variables

var (
	// ErrUnknownSession is returned for session IDs
	// that are not (or no longer) active.
	ErrUnknownSession = errors.New("unknown sync session")

	// ErrBandwidthExceeded is returned when a message
	// does not fit into the current bandwidth budget.
	ErrBandwidthExceeded = errors.New("bandwidth budget exceeded")

	// ErrNoDelta is returned by a delta history holding
	// nothing newer than the supplied clock.
	ErrNoDelta = errors.New("no delta available")
)
