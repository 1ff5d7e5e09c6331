package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cbodonnell/flywheel-stats/pkg/log"
	"github.com/cbodonnell/flywheel-stats/pkg/stats"
	"github.com/pixil98/go-errors"
	"gopkg.in/yaml.v3"
)

const (
	EnvDatabaseURL = "STATS_DATABASE_URL"
	EnvNatsURL     = "STATS_NATS_URL"
	EnvAPIKey      = "STATS_API_KEY"
)

// Config is the YAML configuration file. Statistics enables or disables single
// statistics by name; names missing from it are tracked.
type Config struct {
	LogLevel   string          `yaml:"log-level"`
	Database   DatabaseConfig  `yaml:"database"`
	WebServer  WebServerConfig `yaml:"web-server"`
	Nats       NatsConfig      `yaml:"nats"`
	Tracking   TrackingConfig  `yaml:"tracking"`
	Statistics map[string]bool `yaml:"statistics"`
	Ledger     LedgerConfig    `yaml:"ledger"`
}

type DatabaseConfig struct {
	URL        string `yaml:"url"`
	Migrations string `yaml:"migrations"`
}

type WebServerConfig struct {
	Port   int    `yaml:"port"`
	CORS   bool   `yaml:"cors"`
	APIKey string `yaml:"api-key"`
}

type NatsConfig struct {
	// URL of an external NATS server. An embedded server is started when empty.
	URL            string `yaml:"url"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Subject        string `yaml:"subject"`
	StartTimeout   string `yaml:"start-timeout"`
	RequestTimeout string `yaml:"request-timeout"`
}

type TrackingConfig struct {
	Location       bool   `yaml:"location"`
	HealthFood     bool   `yaml:"health-food"`
	UpdateInterval string `yaml:"update-interval"`
	ShutdownGrace  string `yaml:"shutdown-grace"`
}

type LedgerConfig struct {
	Shards       int    `yaml:"shards"`
	QueueSize    int    `yaml:"queue-size"`
	AdmitTimeout string `yaml:"admit-timeout"`
	WriteTimeout string `yaml:"write-timeout"`
	FlushBudget  string `yaml:"flush-budget"`
}

// Default returns the configuration used for every key missing from the file.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Database: DatabaseConfig{
			URL:        "sqlite://stats.db",
			Migrations: "migrations",
		},
		WebServer: WebServerConfig{
			Port: 8080,
			CORS: true,
		},
		Nats: NatsConfig{
			Host:           "127.0.0.1",
			Port:           4222,
			Subject:        "stats",
			StartTimeout:   "10s",
			RequestTimeout: "2s",
		},
		Tracking: TrackingConfig{
			Location:       true,
			HealthFood:     true,
			UpdateInterval: "30s",
			ShutdownGrace:  "5s",
		},
		Ledger: LedgerConfig{
			Shards:       16,
			QueueSize:    1024,
			AdmitTimeout: "250ms",
			WriteTimeout: "5s",
			FlushBudget:  "10s",
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Config file %s not found, using defaults", path)
			return c, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return c, nil
}

// ApplyEnv overrides connection settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDatabaseURL); ok && v != "" {
		c.Database.URL = v
	}
	if v, ok := lookup(EnvNatsURL); ok && v != "" {
		c.Nats.URL = v
	}
	if v, ok := lookup(EnvAPIKey); ok {
		c.WebServer.APIKey = v
	}
}

func (c *Config) Validate() error {
	el := errors.NewErrorList()

	if _, err := log.ParseLogLevel(c.LogLevel); err != nil {
		el.Add(fmt.Errorf("log-level: %w", err))
	}
	el.Add(c.Database.validate())
	el.Add(c.WebServer.validate())
	el.Add(c.Nats.validate())
	el.Add(c.Tracking.validate())
	el.Add(c.Ledger.validate())

	el.Add(validateStatistics(c.Statistics))

	return el.Err()
}

// validateStatistics rejects unknown statistic names and keys that name the
// same statistic twice, such as blocks-broken and blocks_broken.
func validateStatistics(statistics map[string]bool) error {
	el := errors.NewErrorList()
	seen := make(map[string]string, len(statistics))
	keys := make([]string, 0, len(statistics))
	for key := range statistics {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		name := key
		if key != playtimeKey {
			kind, err := stats.ParseCounterKind(key)
			if err != nil {
				el.Add(fmt.Errorf("statistics: %w", err))
				continue
			}
			name = kind.String()
		}
		if prev, ok := seen[name]; ok {
			el.Add(fmt.Errorf("statistics: %q and %q both set %s", prev, key, name))
			continue
		}
		seen[name] = key
	}
	return el.Err()
}

func (c *DatabaseConfig) validate() error {
	el := errors.NewErrorList()

	u, err := url.Parse(c.URL)
	if err != nil {
		el.Add(fmt.Errorf("database url: %w", err))
	} else {
		switch u.Scheme {
		case "sqlite", "postgres", "postgresql", "memory":
		default:
			el.Add(fmt.Errorf("database url: unsupported scheme %q", u.Scheme))
		}
		if u.Scheme != "memory" && c.Migrations == "" {
			el.Add(fmt.Errorf("database migrations directory is required"))
		}
	}

	return el.Err()
}

func (c *WebServerConfig) validate() error {
	el := errors.NewErrorList()

	if c.Port <= 0 || c.Port > 65535 {
		el.Add(fmt.Errorf("web-server port %d out of range", c.Port))
	}

	return el.Err()
}

func (c *NatsConfig) validate() error {
	el := errors.NewErrorList()

	if c.URL == "" && (c.Port < 0 || c.Port > 65535) {
		el.Add(fmt.Errorf("nats port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.Subject) == "" || strings.ContainsAny(c.Subject, " *>") {
		el.Add(fmt.Errorf("nats subject %q is invalid", c.Subject))
	}
	el.Add(validateDuration("nats start-timeout", c.StartTimeout, 0))
	el.Add(validateDuration("nats request-timeout", c.RequestTimeout, 0))

	return el.Err()
}

func (c *TrackingConfig) validate() error {
	el := errors.NewErrorList()

	el.Add(validateDuration("tracking update-interval", c.UpdateInterval, time.Second))
	el.Add(validateDuration("tracking shutdown-grace", c.ShutdownGrace, 0))

	return el.Err()
}

func (c *LedgerConfig) validate() error {
	el := errors.NewErrorList()

	if c.Shards <= 0 {
		el.Add(fmt.Errorf("ledger shards must be positive"))
	}
	if c.QueueSize <= 0 {
		el.Add(fmt.Errorf("ledger queue-size must be positive"))
	}
	el.Add(validateDuration("ledger admit-timeout", c.AdmitTimeout, 0))
	el.Add(validateDuration("ledger write-timeout", c.WriteTimeout, 0))
	el.Add(validateDuration("ledger flush-budget", c.FlushBudget, 0))

	return el.Err()
}

func validateDuration(name string, value string, min time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive", name)
	}
	if d < min {
		return fmt.Errorf("%s must be at least %v", name, min)
	}
	return nil
}

// duration parses a value that already passed Validate.
func duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

func (c *NatsConfig) StartTimeoutDuration() time.Duration {
	return duration(c.StartTimeout)
}

func (c *NatsConfig) RequestTimeoutDuration() time.Duration {
	return duration(c.RequestTimeout)
}

func (c *TrackingConfig) ShutdownGraceDuration() time.Duration {
	return duration(c.ShutdownGrace)
}

func (c *LedgerConfig) AdmitTimeoutDuration() time.Duration {
	return duration(c.AdmitTimeout)
}

func (c *LedgerConfig) WriteTimeoutDuration() time.Duration {
	return duration(c.WriteTimeout)
}

func (c *LedgerConfig) FlushBudgetDuration() time.Duration {
	return duration(c.FlushBudget)
}
