package node

import (
	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/comm"
	"github.com/numbleroot/strand/crdt"
	"github.com/pkg/errors"
)

// Structs

// deltaProvider answers syncs from the delta history
// where it is complete and from the replica otherwise.
type deltaProvider struct {
	replica *crdt.RGA
	history *comm.DeltaHistory
}

// Functions

func (p *deltaProvider) VectorClock() clock.VectorClock {
	return p.replica.VectorClock()
}

func (p *deltaProvider) DeltaSince(vc clock.VectorClock) (*crdt.Delta, error) {

	if !p.history.Covers(vc) {
		return p.replica.DeltaSince(vc)
	}

	d, err := p.history.DeltaSince(vc)
	if errors.Cause(err) == comm.ErrNoDelta {
		return crdt.BatchDelta(nil)
	}

	return d, err
}
