// Package config loads the YAML configuration file and applies environment
// overrides for secrets.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvFeedURL       = "FEED_URL"
	EnvAdminUsername = "ADMIN_USERNAME"
	EnvAdminPassword = "ADMIN_PASSWORD"
	EnvLogLevel      = "LOG_LEVEL"
	EnvListenAddr    = "LISTEN_ADDR"
	EnvDataDir       = "DATA_DIR"
)

// FeedConfig describes the external calendar feed.
type FeedConfig struct {
	// URL embeds an access token and is never logged or exposed to clients.
	URL string `yaml:"url" json:"-"`
	// PublicLink is the shareable calendar page attached to feed events.
	PublicLink      string `yaml:"public_link" json:"public_link"`
	TimeoutSeconds  int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	SyncIntervalMin int    `yaml:"sync_interval_min" json:"sync_interval_min"`
	// ImportEnabled mirrors the feed into the events table on a schedule.
	ImportEnabled bool `yaml:"import_enabled" json:"import_enabled"`
}

// BookingConfig holds booking pricing defaults.
type BookingConfig struct {
	DefaultRatePerHour string `yaml:"default_rate_per_hour" json:"default_rate_per_hour"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the admin API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen    string `yaml:"listen" json:"listen"`
	DataDir   string `yaml:"data_dir" json:"data_dir"`
	StaticDir string `yaml:"static_dir" json:"static_dir"`

	// Timezone is the IANA zone of the venue; day boundaries are derived in it.
	Timezone string `yaml:"timezone" json:"timezone"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	Feed FeedConfig `yaml:"feed" json:"feed"`

	HorizonDays          int  `yaml:"horizon_days" json:"horizon_days"`
	EventsCacheSeconds   int  `yaml:"events_cache_seconds" json:"events_cache_seconds"`
	SourceTimeoutSeconds int  `yaml:"source_timeout_seconds" json:"source_timeout_seconds"`
	SampleFallback       bool `yaml:"sample_fallback" json:"sample_fallback"`

	Booking BookingConfig `yaml:"booking" json:"booking"`

	// BasicAuth, if non-nil, protects the admin routes.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    ":8099",
		DataDir:   "./data",
		StaticDir: "./static",
		Timezone:  "America/Los_Angeles",
		LogLevel:  "info",
		Feed: FeedConfig{
			TimeoutSeconds:  15,
			SyncIntervalMin: 15,
			ImportEnabled:   true,
		},
		HorizonDays:          180,
		EventsCacheSeconds:   60,
		SourceTimeoutSeconds: 10,
		SampleFallback:       true,
		Booking:              BookingConfig{DefaultRatePerHour: "150"},
	}
}

// Normalize fills in missing/zero values with defaults.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.StaticDir == "" {
		c.StaticDir = d.StaticDir
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Feed.TimeoutSeconds <= 0 {
		c.Feed.TimeoutSeconds = d.Feed.TimeoutSeconds
	}
	if c.Feed.SyncIntervalMin <= 0 {
		c.Feed.SyncIntervalMin = d.Feed.SyncIntervalMin
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = d.HorizonDays
	}
	if c.EventsCacheSeconds < 0 {
		c.EventsCacheSeconds = 0
	}
	if c.SourceTimeoutSeconds <= 0 {
		c.SourceTimeoutSeconds = d.SourceTimeoutSeconds
	}
	if strings.TrimSpace(c.Booking.DefaultRatePerHour) == "" {
		c.Booking.DefaultRatePerHour = d.Booking.DefaultRatePerHour
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		return errors.New("basic_auth requires both username and password")
	}
	return nil
}

// Location returns the venue time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// FeedTimeout returns the feed request timeout.
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Feed.TimeoutSeconds) * time.Second
}

// SourceTimeout returns the per-source aggregation timeout.
func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.SourceTimeoutSeconds) * time.Second
}

// Horizon returns how far ahead recurring events are expanded.
func (c *Config) Horizon() time.Duration {
	return time.Duration(c.HorizonDays) * 24 * time.Hour
}

// EventsCacheTTL returns how long the public event list is cached.
func (c *Config) EventsCacheTTL() time.Duration {
	return time.Duration(c.EventsCacheSeconds) * time.Second
}

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "dj-epidemik.db")
}

// LoadEnvFile loads a .env file into the process environment if it exists.
// Variables already set are not overwritten.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// Load loads configuration from the given YAML path and applies environment
// overrides.
//
// If the file does not exist a default config is written with 0600
// permissions and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		cfg := DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
		cfg.ApplyEnv()
		return cfg, cfg.Validate()
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, cfg.Validate()
}

// ApplyEnv overrides file values with environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvFeedURL); v != "" {
		c.Feed.URL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvListenAddr); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}

	user, pass := os.Getenv(EnvAdminUsername), os.Getenv(EnvAdminPassword)
	if user != "" || pass != "" {
		if c.BasicAuth == nil {
			c.BasicAuth = &BasicAuthConfig{}
		}
		if user != "" {
			c.BasicAuth.Username = user
		}
		if pass != "" {
			c.BasicAuth.Password = pass
		}
	}
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".djsite-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
