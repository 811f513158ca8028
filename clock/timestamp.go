package clock

import (
	"fmt"
)

// Structs

// Timestamp is a hybrid logical clock reading. Physical
// holds wall-clock milliseconds since the Unix epoch of
// the replica that issued it, Logical the counter part
// that keeps readings strictly increasing on one replica
// and across every message exchange.
type Timestamp struct {
	Logical  uint64  `json:"logical"`
	Physical uint64  `json:"physical"`
	Replica  ActorID `json:"replica"`
}

// Functions

// Compare orders timestamps by their logical part and
// breaks ties by replica. It returns -1, 0 or 1.
func (t Timestamp) Compare(other Timestamp) int {

	if t.Logical < other.Logical {
		return -1
	} else if t.Logical > other.Logical {
		return 1
	}

	if t.Replica < other.Replica {
		return -1
	} else if t.Replica > other.Replica {
		return 1
	}

	return 0
}

// Less is shorthand for t.Compare(other) < 0.
func (t Timestamp) Less(other Timestamp) bool {
	return t.Compare(other) < 0
}

// IsZero reports whether t has never been set.
func (t Timestamp) IsZero() bool {
	return t.Logical == 0 && t.Physical == 0 && t.Replica == ""
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d@%s", t.Logical, t.Physical, t.Replica)
}
