package events

import (
	"errors"
	"fmt"

	"github.com/cbodonnell/flywheel-stats/pkg/stats"
)

var ErrInvalidEvent = errors.New("invalid event")

type EventKind string

const (
	EventJoin       EventKind = "join"
	EventQuit       EventKind = "quit"
	EventBlockBreak EventKind = "block_break"
	EventBlockPlace EventKind = "block_place"
	EventDeath      EventKind = "death"
	EventMobKill    EventKind = "mob_kill"
	EventMove       EventKind = "move"
	EventCraft      EventKind = "craft"
	EventConsume    EventKind = "consume"
)

// counterEvents maps the events that only bump one counter of the subject.
var counterEvents = map[EventKind]stats.CounterKind{
	EventBlockBreak: stats.CounterBlocksBroken,
	EventBlockPlace: stats.CounterBlocksPlaced,
	EventMobKill:    stats.CounterMobKills,
	EventMove:       stats.CounterDistanceTraveled,
	EventCraft:      stats.CounterItemsCrafted,
	EventConsume:    stats.CounterFoodConsumed,
}

// Counter returns the counter bumped by a simple counter event.
func (k EventKind) Counter() (stats.CounterKind, bool) {
	c, ok := counterEvents[k]
	return c, ok
}

func (k EventKind) Valid() bool {
	switch k {
	case EventJoin, EventQuit, EventDeath:
		return true
	}
	_, ok := counterEvents[k]
	return ok
}

// Event is one occurrence reported by the event source.
// Timestamp is in Unix milliseconds; zero means "when received".
type Event struct {
	EntityID    string
	Kind        EventKind
	Timestamp   int64
	DisplayName string
	// Amount overrides the default increment of 1. For move events it is the distance.
	Amount   float64
	KillerID string
}

func (e Event) Validate() error {
	if e.EntityID == "" {
		return fmt.Errorf("%w: missing entity id", ErrInvalidEvent)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	if e.Timestamp < 0 {
		return fmt.Errorf("%w: negative timestamp %d", ErrInvalidEvent, e.Timestamp)
	}
	if e.Amount < 0 {
		return fmt.Errorf("%w: negative amount %v", ErrInvalidEvent, e.Amount)
	}
	return nil
}
