// Package config loads the agent's static configuration from an optional
// YAML file and APPLOCK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override (APPLOCK_POLL_INTERVAL, ...).
const EnvPrefix = "APPLOCK"

// Prompt backends.
const (
	PromptAuto   = "auto"
	PromptDialog = "dialog"
	PromptTTY    = "tty"
)

// Config is the agent configuration. Runtime settings that may change while
// the agent runs live in the store instead.
type Config struct {
	DataDir              string        `mapstructure:"data_dir"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	DisabledPollInterval time.Duration `mapstructure:"disabled_poll_interval"`
	RecencyWindow        time.Duration `mapstructure:"recency_window"`
	GracePeriod          time.Duration `mapstructure:"grace_period"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	Store                StoreConfig   `mapstructure:"store"`
	Log                  LogConfig     `mapstructure:"log"`
	Prompt               PromptConfig  `mapstructure:"prompt"`
	Metrics              MetricsConfig `mapstructure:"metrics"`
}

// StoreConfig selects how the settings database is opened.
type StoreConfig struct {
	Encrypted bool `mapstructure:"encrypted"` // SQLCipher with a generated key file
}

// LogConfig controls the level and rotation of the agent log file.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// PromptConfig picks the challenge UI: auto, dialog or tty.
type PromptConfig struct {
	Backend string `mapstructure:"backend"`
}

// MetricsConfig enables the Prometheus and health endpoint.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // empty disables the endpoint
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")
	v.SetDefault("poll_interval", 500*time.Millisecond)
	v.SetDefault("disabled_poll_interval", 2*time.Second)
	v.SetDefault("recency_window", 5*time.Second)
	v.SetDefault("grace_period", 3*time.Second)
	v.SetDefault("heartbeat_interval", 30*time.Second)
	v.SetDefault("store.encrypted", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", false)
	v.SetDefault("prompt.backend", PromptAuto)
	v.SetDefault("metrics.listen", "")
}

// Default returns the configuration used when no file or env override exists.
func Default() *Config {
	cfg, _ := load(viper.New(), "", false)
	return cfg
}

// Load reads path (YAML) on top of the defaults, then applies environment
// overrides. A missing file is only an error when required is true.
func Load(path string, required bool) (*Config, error) {
	return load(viper.New(), path, required)
}

func load(v *viper.Viper, path string, required bool) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if required || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the agent cannot run with.
func (c *Config) Validate() error {
	durations := map[string]time.Duration{
		"poll_interval":          c.PollInterval,
		"disabled_poll_interval": c.DisabledPollInterval,
		"recency_window":         c.RecencyWindow,
		"grace_period":           c.GracePeriod,
		"heartbeat_interval":     c.HeartbeatInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	switch c.Prompt.Backend {
	case PromptAuto, PromptDialog, PromptTTY:
	default:
		return fmt.Errorf("prompt.backend must be one of auto, dialog, tty; got %q", c.Prompt.Backend)
	}
	return nil
}
