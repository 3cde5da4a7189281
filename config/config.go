// Package config loads the TOML configuration of a pluginkit process and
// applies its registry overrides to a directory before SetUp.
package config

import (
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/pluginkit/errors"
	"github.com/vinayprograms/pluginkit/logging"
	"github.com/vinayprograms/pluginkit/registry"
)

// Bus kinds accepted in [extension].
const (
	BusMemory = "memory"
	BusNATS   = "nats"
)

// Config is the parsed configuration file.
type Config struct {
	Logging    LoggingConfig             `toml:"logging"`
	Registries map[string]RegistryConfig `toml:"registries"`
	Extension  ExtensionConfig           `toml:"extension"`
	Metrics    MetricsConfig             `toml:"metrics"`
}

// LoggingConfig is the [logging] section.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// RegistryConfig is one [registries.<name>] section.
type RegistryConfig struct {
	// AutoSetup overrides the registry's creation-time setting when set.
	AutoSetup *bool `toml:"auto_setup"`

	// Disabled lists items removed before SetUp.
	Disabled []string `toml:"disabled"`
}

// ExtensionConfig is the [extension] section.
type ExtensionConfig struct {
	Enabled          bool     `toml:"enabled"`
	Name             string   `toml:"name"`
	Bus              string   `toml:"bus"`
	URL              string   `toml:"url"`
	Bucket           string   `toml:"bucket"`
	AnnounceInterval Duration `toml:"announce_interval"`
	TTL              Duration `toml:"ttl"`
}

// MetricsConfig is the [metrics] section.
type MetricsConfig struct {
	Namespace string `toml:"namespace"`
}

// Duration is a time.Duration written as a string ("10s", "1m30s").
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

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// New returns a configuration with defaults.
func New() *Config {
	return &Config{
		Logging:    LoggingConfig{Level: "info"},
		Registries: make(map[string]RegistryConfig),
		Extension: ExtensionConfig{
			Bus:              BusMemory,
			URL:              "nats://localhost:4222",
			Bucket:           "pluginkit-broadcast",
			AnnounceInterval: Duration{10 * time.Second},
			TTL:              Duration{30 * time.Second},
		},
		Metrics: MetricsConfig{Namespace: "pluginkit"},
	}
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file", errors.WithMetadata("path", path))
	}
	return Parse(string(content))
}

// Parse parses configuration from TOML content. Unset keys keep their
// defaults; unknown keys are rejected.
func Parse(content string) (*Config, error) {
	cfg := New()
	md, err := toml.Decode(content, cfg)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "parse config")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.InvalidInput("unknown config keys: " + strings.Join(keys, ", "))
	}
	if cfg.Registries == nil {
		cfg.Registries = make(map[string]RegistryConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "logging.level")
	}

	ext := c.Extension
	switch ext.Bus {
	case BusMemory, BusNATS:
	default:
		return errors.InvalidInput("extension.bus must be \"memory\" or \"nats\", got " + ext.Bus)
	}
	if ext.Bus == BusNATS && ext.URL == "" {
		return errors.InvalidInput("extension.url is required for the nats bus")
	}
	if ext.AnnounceInterval.Duration <= 0 {
		return errors.InvalidInput("extension.announce_interval must be positive")
	}
	if ext.TTL.Duration < ext.AnnounceInterval.Duration {
		return errors.InvalidInput("extension.ttl must not be shorter than extension.announce_interval")
	}
	if ext.Enabled && ext.Bucket == "" {
		return errors.InvalidInput("extension.bucket must not be empty")
	}
	return nil
}

// LogLevel returns the parsed [logging] level.
func (c *Config) LogLevel() logging.Level {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}

// Apply applies registry overrides to d: auto_setup flags first, then
// disabled items are removed. Registries named in the file but absent from d
// are reported together after every known registry has been applied.
func (c *Config) Apply(d *registry.Directory) error {
	names := make([]string, 0, len(c.Registries))
	for name := range c.Registries {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		rc := c.Registries[name]
		container, err := d.Container(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if rc.AutoSetup != nil {
			container.SetAutoSetup(*rc.AutoSetup)
		}
		for _, item := range rc.Disabled {
			container.Remove(item)
		}
	}
	return errors.Join(errs...)
}
