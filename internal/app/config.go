package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"relayhub/internal/hub"
)

// Duration is a time.Duration that unmarshals from TOML strings like "6s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// HeartbeatConfig tunes the liveness sweep.
type HeartbeatConfig struct {
	// Interval is the sweep period.
	Interval Duration `toml:"interval"`

	// IdleAfter is how long a connection may stay quiet before it is pinged.
	IdleAfter Duration `toml:"idle_after"`

	// RefreshEvery schedules the upstream credential refresh.
	RefreshEvery Duration `toml:"refresh_every"`
}

// Config holds runtime wiring options for the daemon.
type Config struct {
	// Listen is the HTTP listen address, e.g. ":8080".
	Listen string `toml:"listen"`

	// AuthProvider is the base URL of the identity provider. When empty the
	// hub resolves each token to itself (development mode).
	AuthProvider string `toml:"auth_provider"`

	// RefreshToken seeds the upstream session credential. Required whenever
	// AuthProvider is set.
	RefreshToken string `toml:"refresh_token"`

	// LogLevel is a zerolog level name; defaults to "info".
	LogLevel string `toml:"log_level"`

	Heartbeat HeartbeatConfig `toml:"heartbeat"`
}

// defaultConfig returns the reference settings.
func defaultConfig() *Config {
	return &Config{
		Listen:   ":8080",
		LogLevel: "info",
		Heartbeat: HeartbeatConfig{
			Interval:     Duration{hub.DefaultSweepInterval},
			IdleAfter:    Duration{hub.DefaultIdleAfter},
			RefreshEvery: Duration{hub.DefaultRefreshEvery},
		},
	}
}

// Load reads the TOML file at path (optional), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AUTH_PROVIDER"); v != "" {
		c.AuthProvider = v
	}
	if v := os.Getenv("REFRESH_TOKEN"); v != "" {
		c.RefreshToken = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Listen = ":" + v
	}
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return errors.New("listen address must be set")
	}
	if c.AuthProvider != "" && c.RefreshToken == "" {
		return errors.New("REFRESH_TOKEN must be set when an auth provider is configured")
	}
	return nil
}
