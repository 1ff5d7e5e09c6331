package config

import (
	"time"

	"github.com/cbodonnell/flywheel-stats/pkg/stats"
)

const playtimeKey = "playtime"

// Settings is the immutable view of the tracking options consumed by the event
// pipeline and the snapshot worker. A reload builds a new Settings value.
type Settings struct {
	counters       [stats.NumCounterKinds]bool
	playtime       bool
	location       bool
	healthFood     bool
	updateInterval time.Duration
}

// DefaultSettings tracks everything and refreshes live data every 30 seconds.
func DefaultSettings() *Settings {
	s, _ := Default().Settings()
	return s
}

// Settings builds the tracking settings. Statistics missing from the map are tracked.
func (c *Config) Settings() (*Settings, error) {
	if err := c.Tracking.validate(); err != nil {
		return nil, err
	}
	if err := validateStatistics(c.Statistics); err != nil {
		return nil, err
	}
	s := &Settings{
		playtime:       true,
		location:       c.Tracking.Location,
		healthFood:     c.Tracking.HealthFood,
		updateInterval: duration(c.Tracking.UpdateInterval),
	}
	for i := range s.counters {
		s.counters[i] = true
	}
	for key, enabled := range c.Statistics {
		if key == playtimeKey {
			s.playtime = enabled
			continue
		}
		kind, err := stats.ParseCounterKind(key)
		if err != nil {
			return nil, err
		}
		s.counters[kind] = enabled
	}
	return s, nil
}

func (s *Settings) Tracks(kind stats.CounterKind) bool {
	return kind.Valid() && s.counters[kind]
}

func (s *Settings) TracksPlaytime() bool {
	return s.playtime
}

// LiveTracking reports whether live snapshots are written at all.
func (s *Settings) LiveTracking() bool {
	return s.location || s.healthFood
}

func (s *Settings) UpdateInterval() time.Duration {
	return s.updateInterval
}
