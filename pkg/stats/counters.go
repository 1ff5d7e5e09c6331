package stats

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// MaxIncrement is the largest amount a single increment may add. Every whole
// number up to it is exact as a float64.
const MaxIncrement = 1 << 53

var (
	ErrInvalidCounter = errors.New("invalid counter kind")
	ErrInvalidAmount  = errors.New("invalid counter amount")
)

// CounterKind is one of the fixed set of tracked counters.
type CounterKind int

const (
	CounterBlocksBroken CounterKind = iota
	CounterBlocksPlaced
	CounterDeaths
	CounterPlayerKills
	CounterMobKills
	CounterDistanceTraveled
	CounterItemsCrafted
	CounterFoodConsumed

	// NumCounterKinds is the number of valid counter kinds.
	NumCounterKinds int = iota
)

type counterKindInfo struct {
	name       string
	column     string
	jsonField  string
	fractional bool
}

var counterKinds = [NumCounterKinds]counterKindInfo{
	CounterBlocksBroken:     {name: "blocks_broken", column: "blocks_broken", jsonField: "blocksBroken"},
	CounterBlocksPlaced:     {name: "blocks_placed", column: "blocks_placed", jsonField: "blocksPlaced"},
	CounterDeaths:           {name: "deaths", column: "deaths", jsonField: "deaths"},
	CounterPlayerKills:      {name: "player_kills", column: "player_kills", jsonField: "playerKills"},
	CounterMobKills:         {name: "mob_kills", column: "mob_kills", jsonField: "mobKills"},
	CounterDistanceTraveled: {name: "distance_traveled", column: "distance_traveled", jsonField: "distanceTraveled", fractional: true},
	CounterItemsCrafted:     {name: "items_crafted", column: "items_crafted", jsonField: "itemsCrafted"},
	CounterFoodConsumed:     {name: "food_consumed", column: "food_consumed", jsonField: "foodConsumed"},
}

// AllCounterKinds returns every valid counter kind in declaration order.
func AllCounterKinds() []CounterKind {
	kinds := make([]CounterKind, NumCounterKinds)
	for i := range kinds {
		kinds[i] = CounterKind(i)
	}
	return kinds
}

func (k CounterKind) Valid() bool {
	return k >= 0 && int(k) < NumCounterKinds
}

func (k CounterKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("unknown(%d)", int(k))
	}
	return counterKinds[k].name
}

// Column returns the storage column backing the counter.
// It panics for an invalid kind; callers validate first.
func (k CounterKind) Column() string {
	if !k.Valid() {
		panic(fmt.Sprintf("column for invalid counter kind %d", int(k)))
	}
	return counterKinds[k].column
}

// JSONField returns the camelCase name used in API responses.
func (k CounterKind) JSONField() string {
	if !k.Valid() {
		return ""
	}
	return counterKinds[k].jsonField
}

// Fractional reports whether the counter accepts non-integer amounts.
func (k CounterKind) Fractional() bool {
	return k.Valid() && counterKinds[k].fractional
}

// ParseCounterKind parses a counter name. Both snake_case and kebab-case are accepted.
func ParseCounterKind(s string) (CounterKind, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, info := range counterKinds {
		if info.name == name {
			return CounterKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCounter, s)
}

// ValidateIncrement checks that amount may be added to a counter of the given kind.
func ValidateIncrement(kind CounterKind, amount float64) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidCounter, int(kind))
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return fmt.Errorf("%w: %v for %s", ErrInvalidAmount, amount, kind)
	}
	if amount > MaxIncrement {
		return fmt.Errorf("%w: %v for %s exceeds %d", ErrInvalidAmount, amount, kind, int64(MaxIncrement))
	}
	if !kind.Fractional() && amount != math.Trunc(amount) {
		return fmt.Errorf("%w: %s only accepts whole amounts, got %v", ErrInvalidAmount, kind, amount)
	}
	return nil
}
