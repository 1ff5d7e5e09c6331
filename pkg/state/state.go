package state

import (
	"github.com/cbodonnell/flywheel-stats/pkg/stats"
)

// PresenceManager provides shared access to the set of entities the event
// source currently reports as online.
// Implementations must be thread-safe.
type PresenceManager interface {
	Add(id string, displayName string)
	Remove(id string)
	// Snapshot returns a copy of the online set ordered by id.
	Snapshot() []stats.OnlineEntity
	Len() int
}
