package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cbodonnell/flywheel-stats/pkg/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	s, err := c.Settings()
	require.NoError(t, err)
	for _, kind := range stats.AllCounterKinds() {
		assert.True(t, s.Tracks(kind), kind.String())
	}
	assert.True(t, s.TracksPlaytime())
	assert.True(t, s.LiveTracking())
	assert.Equal(t, 30*time.Second, s.UpdateInterval())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoad_RepositoryExample(t *testing.T) {
	c, err := Load("../../config.yaml")
	require.NoError(t, err)
	assert.NoError(t, c.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log-level: debug
web-server:
  port: 9090
tracking:
  location: false
  health-food: false
  update-interval: 5s
statistics:
  player-kills: false
  distance_traveled: false
  playtime: false
`)
	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, 9090, c.WebServer.Port)
	assert.True(t, c.WebServer.CORS, "keys missing from the file keep their default")
	assert.Equal(t, "sqlite://stats.db", c.Database.URL)

	s, err := c.Settings()
	require.NoError(t, err)
	assert.False(t, s.Tracks(stats.CounterPlayerKills))
	assert.False(t, s.Tracks(stats.CounterDistanceTraveled))
	assert.True(t, s.Tracks(stats.CounterDeaths))
	assert.False(t, s.Tracks(stats.CounterKind(99)))
	assert.False(t, s.TracksPlaytime())
	assert.False(t, s.LiveTracking())
	assert.Equal(t, 5*time.Second, s.UpdateInterval())
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "web-server: [unclosed"))
	assert.Error(t, err)
}

func TestValidate_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "log level", mutate: func(c *Config) { c.LogLevel = "loud" }},
		{name: "database scheme", mutate: func(c *Config) { c.Database.URL = "mysql://localhost/stats" }},
		{name: "missing migrations", mutate: func(c *Config) { c.Database.Migrations = "" }},
		{name: "web port", mutate: func(c *Config) { c.WebServer.Port = 0 }},
		{name: "wildcard subject", mutate: func(c *Config) { c.Nats.Subject = "stats.>" }},
		{name: "short update interval", mutate: func(c *Config) { c.Tracking.UpdateInterval = "100ms" }},
		{name: "shards", mutate: func(c *Config) { c.Ledger.Shards = 0 }},
		{name: "admit timeout", mutate: func(c *Config) { c.Ledger.AdmitTimeout = "soon" }},
		{name: "unknown statistic", mutate: func(c *Config) { c.Statistics = map[string]bool{"achievements": true} }},
		{name: "duplicate statistic", mutate: func(c *Config) {
			c.Statistics = map[string]bool{"blocks-broken": true, "blocks_broken": false}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	c := Default()
	c.Database.URL = "memory://"
	c.Database.Migrations = ""
	assert.NoError(t, c.Validate(), "memory storage needs no migrations")
}

func TestLoad_DuplicateStatisticKeys(t *testing.T) {
	path := writeConfig(t, `
statistics:
  blocks-broken: false
  blocks_broken: true
  Mob-Kills: false
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Error(t, c.Validate())

	_, err = c.Settings()
	assert.Error(t, err, "settings must not depend on map order")

	c.Statistics = map[string]bool{"blocks-broken": false, "mob_kills": false, "playtime": true}
	require.NoError(t, c.Validate())
	s, err := c.Settings()
	require.NoError(t, err)
	assert.False(t, s.Tracks(stats.CounterBlocksBroken))
	assert.False(t, s.Tracks(stats.CounterMobKills))
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDatabaseURL: "postgresql://stats:secret@db:5432/stats",
		EnvNatsURL:     "nats://broker:4222",
		EnvAPIKey:      "",
	}
	c := Default()
	c.WebServer.APIKey = "from-file"
	c.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "postgresql://stats:secret@db:5432/stats", c.Database.URL)
	assert.Equal(t, "nats://broker:4222", c.Nats.URL)
	assert.Equal(t, "", c.WebServer.APIKey, "an explicitly empty key disables auth")
	assert.NoError(t, c.Validate())
}

func TestDurations(t *testing.T) {
	c := Default()
	assert.Equal(t, 250*time.Millisecond, c.Ledger.AdmitTimeoutDuration())
	assert.Equal(t, 5*time.Second, c.Ledger.WriteTimeoutDuration())
	assert.Equal(t, 10*time.Second, c.Ledger.FlushBudgetDuration())
	assert.Equal(t, 2*time.Second, c.Nats.RequestTimeoutDuration())
	assert.Equal(t, 10*time.Second, c.Nats.StartTimeoutDuration())
	assert.Equal(t, 5*time.Second, c.Tracking.ShutdownGraceDuration())
}
