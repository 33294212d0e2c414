package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-loader/errors"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "1h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Cache configures the two acquisition cache tiers
type Cache struct {
	Enabled    *bool    `yaml:"enabled"` // nil means enabled
	TTL        Duration `yaml:"ttl"`
	Dir        string   `yaml:"dir"`
	MaxEntries int      `yaml:"maxEntries"`
}

// On reports whether caching is enabled
func (c *Cache) On() bool {
	return c.Enabled == nil || *c.Enabled
}

// Retry configures network acquisition retries
type Retry struct {
	// Retries is the number of additional attempts after the first.
	// -1 disables retries entirely; 0 means the default.
	Retries    int      `yaml:"retries"`
	RetryDelay Duration `yaml:"retryDelay"`
}

// Shim configures runtime shim management
type Shim struct {
	Version string `yaml:"version"` // default pin for loads that carry none
	BaseURL string `yaml:"baseURL"`
	Dir     string `yaml:"dir"`
}

// Load configures per-load defaults
type Load struct {
	Timeout       Duration `yaml:"timeout"` // readiness wait bound
	ValidateCalls *bool    `yaml:"validateCalls"`
	Isolation     string   `yaml:"isolation"` // "diff" (default) or "virtual"
}

// Validate reports whether descriptor call validation is on
func (l *Load) Validate() bool {
	return l.ValidateCalls == nil || *l.ValidateCalls
}

// Config is the loader's file configuration. Every section and field
// is optional; zero values mean package defaults.
type Config struct {
	Cache Cache `yaml:"cache"`
	Retry Retry `yaml:"retry"`
	Shim  Shim  `yaml:"shim"`
	Load  Load  `yaml:"load"`
}

// Parse decodes YAML configuration
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(errors.PhaseResolve, errors.KindInvalidInput, err, "parse configuration")
	}
	return &c, nil
}

// LoadFile reads and decodes a YAML configuration file
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseResolve, errors.KindInvalidInput, err, "read configuration file")
	}
	return Parse(data)
}
