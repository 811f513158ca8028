package clock

import (
	"github.com/pkg/errors"
	"github.com/satori/go.uuid"
)

// Structs

// ActorID identifies one replica. It is the canonical
// string form of a random (version 4) UUID, which keeps
// it usable as map key and comparable in a total order.
type ActorID string

// Functions

// NewActorID returns a fresh random actor identifier.
func NewActorID() ActorID {
	return ActorID(uuid.NewV4().String())
}

// ParseActorID validates that s is a UUID and returns
// it in canonical form as an ActorID.
func ParseActorID(s string) (ActorID, error) {

	id, err := uuid.FromString(s)
	if err != nil {
		return "", errors.Wrapf(err, "invalid actor id '%s'", s)
	}

	return ActorID(id.String()), nil
}

// String returns the UUID representation.
func (a ActorID) String() string {
	return string(a)
}

// Less orders actor identifiers lexicographically.
func (a ActorID) Less(other ActorID) bool {
	return a < other
}
