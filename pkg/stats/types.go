package stats

import "math"

// Live snapshot defaults, used when a snapshot row is first created.
const (
	DefaultHealth     = 20.0
	DefaultFoodLevel  = 20
	DefaultSaturation = 5.0
	DefaultWorld      = "world"
)

// IdentityRecord is the canonical identity and session record of an entity.
// Timestamps are Unix milliseconds.
type IdentityRecord struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	FirstSeen   int64  `json:"firstSeen"`
	LastSeen    int64  `json:"lastSeen"`
	PlaytimeMs  int64  `json:"playtimeMs"`
	Online      bool   `json:"online"`
}

// CounterRecord holds one value per counter kind.
type CounterRecord struct {
	BlocksBroken     int64   `json:"blocksBroken"`
	BlocksPlaced     int64   `json:"blocksPlaced"`
	Deaths           int64   `json:"deaths"`
	PlayerKills      int64   `json:"playerKills"`
	MobKills         int64   `json:"mobKills"`
	DistanceTraveled float64 `json:"distanceTraveled"`
	ItemsCrafted     int64   `json:"itemsCrafted"`
	FoodConsumed     int64   `json:"foodConsumed"`
}

func (c *CounterRecord) intField(kind CounterKind) *int64 {
	switch kind {
	case CounterBlocksBroken:
		return &c.BlocksBroken
	case CounterBlocksPlaced:
		return &c.BlocksPlaced
	case CounterDeaths:
		return &c.Deaths
	case CounterPlayerKills:
		return &c.PlayerKills
	case CounterMobKills:
		return &c.MobKills
	case CounterItemsCrafted:
		return &c.ItemsCrafted
	case CounterFoodConsumed:
		return &c.FoodConsumed
	default:
		return nil
	}
}

// Add adds amount to the counter of the given kind. Integer counters saturate
// at math.MaxInt64. The amount must already have passed ValidateIncrement.
func (c *CounterRecord) Add(kind CounterKind, amount float64) {
	if kind == CounterDistanceTraveled {
		c.DistanceTraveled += amount
		return
	}
	if f := c.intField(kind); f != nil {
		*f = SaturatingAdd(*f, int64(amount))
	}
}

// SaturatingAdd returns a+delta for a non-negative delta, capped at math.MaxInt64.
func SaturatingAdd(a, delta int64) int64 {
	if a > math.MaxInt64-delta {
		return math.MaxInt64
	}
	return a + delta
}

// Get returns the value of the counter of the given kind.
func (c CounterRecord) Get(kind CounterKind) float64 {
	if kind == CounterDistanceTraveled {
		return c.DistanceTraveled
	}
	if f := c.intField(kind); f != nil {
		return float64(*f)
	}
	return 0
}

// LiveSnapshot is the ephemeral in-session status of an online entity.
type LiveSnapshot struct {
	Health           float64 `json:"health"`
	FoodLevel        int     `json:"foodLevel"`
	Saturation       float64 `json:"saturation"`
	ExperienceLevel  int     `json:"experienceLevel"`
	ExperiencePoints float64 `json:"experiencePoints"`
	X                float64 `json:"x"`
	Y                float64 `json:"y"`
	Z                float64 `json:"z"`
	World            string  `json:"world"`
	LastUpdated      int64   `json:"lastUpdated"`
}

// DefaultLiveSnapshot returns the snapshot stored for an entity that has not been refreshed yet.
func DefaultLiveSnapshot() LiveSnapshot {
	return LiveSnapshot{
		Health:     DefaultHealth,
		FoodLevel:  DefaultFoodLevel,
		Saturation: DefaultSaturation,
		World:      DefaultWorld,
	}
}

// EntityView is the joined read model of one entity.
// Live is nil when the entity is offline.
type EntityView struct {
	Identity IdentityRecord
	Counters CounterRecord
	Live     *LiveSnapshot
}

type OnlineEntity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type Aggregate struct {
	TotalEntities int `json:"totalEntities"`
	OnlineCount   int `json:"onlineCount"`
}

type LeaderboardEntry struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	Value       float64 `json:"value"`
}
