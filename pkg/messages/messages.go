package messages

import (
	"encoding/json"

	"github.com/cbodonnell/flywheel-stats/pkg/stats"
)

const (
	// MessageBufferSize represents the maximum size of a decoded message
	MessageBufferSize = 64 * 1024
)

// Message represents an event envelope published by the event source
type Message struct {
	EntityID  string          `json:"entityId"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	DisplayName string `json:"displayName"`
}

type MovePayload struct {
	Distance float64 `json:"distance"`
}

type DeathPayload struct {
	KillerID string `json:"killerId,omitempty"`
}

// CounterPayload is used by every event that only bumps a counter
type CounterPayload struct {
	Amount float64 `json:"amount,omitempty"`
}

// Status is the reply to a status request for one online entity
type Status struct {
	Health           float64  `json:"health"`
	FoodLevel        int      `json:"foodLevel"`
	Saturation       float64  `json:"saturation"`
	ExperienceLevel  int      `json:"experienceLevel"`
	ExperiencePoints float64  `json:"experiencePoints"`
	Location         Location `json:"location"`
}

type Location struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	World string  `json:"world"`
}

// Snapshot converts the status into the live snapshot stored at now.
func (s *Status) Snapshot(now int64) stats.LiveSnapshot {
	world := s.Location.World
	if world == "" {
		world = stats.DefaultWorld
	}
	return stats.LiveSnapshot{
		Health:           s.Health,
		FoodLevel:        s.FoodLevel,
		Saturation:       s.Saturation,
		ExperienceLevel:  s.ExperienceLevel,
		ExperiencePoints: s.ExperiencePoints,
		X:                s.Location.X,
		Y:                s.Location.Y,
		Z:                s.Location.Z,
		World:            world,
		LastUpdated:      now,
	}
}
