package handlers

import (
	"fmt"
	"time"

	"github.com/cbodonnell/flywheel-stats/pkg/stats"
)

const dateLayout = "Jan 02, 2006 at 15:04"

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Store     string `json:"store"`
	Timestamp int64  `json:"timestamp"`
}

type ServerStats struct {
	TotalEntities int   `json:"totalEntities"`
	OnlineCount   int   `json:"onlineCount"`
	Timestamp     int64 `json:"timestamp"`
}

type ServerStatsResponse struct {
	Success bool        `json:"success"`
	Data    ServerStats `json:"data"`
}

type PlayerStatsResponse struct {
	Success bool        `json:"success"`
	Found   bool        `json:"found"`
	Message string      `json:"message,omitempty"`
	Data    *PlayerData `json:"data,omitempty"`
}

type OnlineResponse struct {
	Success bool                 `json:"success"`
	Data    []stats.OnlineEntity `json:"data"`
}

type LeaderboardResponse struct {
	Success bool                     `json:"success"`
	Counter string                   `json:"counter"`
	Data    []stats.LeaderboardEntry `json:"data"`
}

type Location struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	World string  `json:"world"`
}

type LiveData struct {
	Health           float64  `json:"health"`
	FoodLevel        int      `json:"foodLevel"`
	Saturation       float64  `json:"saturation"`
	ExperienceLevel  int      `json:"experienceLevel"`
	ExperiencePoints float64  `json:"experiencePoints"`
	LastUpdated      int64    `json:"lastUpdated"`
	Location         Location `json:"location"`
}

// PlayerData is the rendered view of one entity
type PlayerData struct {
	ID                 string    `json:"id"`
	DisplayName        string    `json:"displayName"`
	Online             bool      `json:"online"`
	FirstSeen          string    `json:"firstSeen"`
	LastSeen           string    `json:"lastSeen"`
	FirstSeenTimestamp int64     `json:"firstSeenTimestamp"`
	LastSeenTimestamp  int64     `json:"lastSeenTimestamp"`
	PlaytimeMs         int64     `json:"playtimeMs"`
	Playtime           string    `json:"playtime"`
	BlocksBroken       int64     `json:"blocksBroken"`
	BlocksPlaced       int64     `json:"blocksPlaced"`
	Deaths             int64     `json:"deaths"`
	PlayerKills        int64     `json:"playerKills"`
	MobKills           int64     `json:"mobKills"`
	DistanceTraveled   float64   `json:"distanceTraveled"`
	ItemsCrafted       int64     `json:"itemsCrafted"`
	FoodConsumed       int64     `json:"foodConsumed"`
	LiveData           *LiveData `json:"liveData,omitempty"`
}

func NewPlayerData(view *stats.EntityView) PlayerData {
	id := view.Identity
	c := view.Counters
	data := PlayerData{
		ID:                 id.ID,
		DisplayName:        id.DisplayName,
		Online:             id.Online,
		FirstSeen:          FormatDate(id.FirstSeen),
		LastSeen:           FormatDate(id.LastSeen),
		FirstSeenTimestamp: id.FirstSeen,
		LastSeenTimestamp:  id.LastSeen,
		PlaytimeMs:         id.PlaytimeMs,
		Playtime:           FormatPlaytime(id.PlaytimeMs),
		BlocksBroken:       c.BlocksBroken,
		BlocksPlaced:       c.BlocksPlaced,
		Deaths:             c.Deaths,
		PlayerKills:        c.PlayerKills,
		MobKills:           c.MobKills,
		DistanceTraveled:   c.DistanceTraveled,
		ItemsCrafted:       c.ItemsCrafted,
		FoodConsumed:       c.FoodConsumed,
	}
	if id.Online {
		data.LastSeen = "Now"
		if live := view.Live; live != nil {
			data.LiveData = &LiveData{
				Health:           live.Health,
				FoodLevel:        live.FoodLevel,
				Saturation:       live.Saturation,
				ExperienceLevel:  live.ExperienceLevel,
				ExperiencePoints: live.ExperiencePoints,
				LastUpdated:      live.LastUpdated,
				Location: Location{
					X:     live.X,
					Y:     live.Y,
					Z:     live.Z,
					World: live.World,
				},
			}
		}
	}
	return data
}

// FormatPlaytime renders a duration in milliseconds using its two largest units.
func FormatPlaytime(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	minutes := ms / int64(time.Minute/time.Millisecond)
	hours := minutes / 60
	days := hours / 24
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours%24)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return "< 1m"
	}
}

// FormatDate renders a Unix millisecond timestamp in UTC
func FormatDate(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(dateLayout)
}
