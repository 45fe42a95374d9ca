package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cachet-ai/cachet/pkg/models"
)

// Config holds all cachet configuration.
type Config struct {
	Listen      string            `yaml:"listen"`
	DBPath      string            `yaml:"db_path"`
	Providers   []ProviderConfig  `yaml:"providers"`
	Cache       CacheConfig       `yaml:"cache"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// ProviderConfig defines an upstream LLM provider.
// Type is "openai" (default) or "anthropic".
type ProviderConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Type   string `yaml:"type"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled        bool    `yaml:"enabled"`
	MaxEntries     int     `yaml:"max_entries"`
	MaxAgeDays     int     `yaml:"max_age_days"`
	MatchThreshold float64 `yaml:"match_threshold"`
	// DefaultTemperature is the temperature a request caches under when it
	// does not set one explicitly.
	DefaultTemperature float64 `yaml:"default_temperature"`
}

// MaintenanceConfig controls the background expiry sweep and optimize pass.
type MaintenanceConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "cachet.db",
		Cache: CacheConfig{
			Enabled:            true,
			MaxEntries:         1000,
			MaxAgeDays:         7,
			MatchThreshold:     1.0,
			DefaultTemperature: 1.0,
		},
		Maintenance: MaintenanceConfig{
			Interval: 10 * time.Minute,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cache settings are within range.
func (c *Config) Validate() error {
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be at least 1, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.MaxAgeDays < 0 {
		return fmt.Errorf("cache.max_age_days must not be negative, got %d", c.Cache.MaxAgeDays)
	}
	if c.Cache.MatchThreshold < 0 || c.Cache.MatchThreshold > 1 {
		return fmt.Errorf("cache.match_threshold must be in [0,1], got %g", c.Cache.MatchThreshold)
	}
	if c.Maintenance.Interval < 0 {
		return fmt.Errorf("maintenance.interval must not be negative, got %v", c.Maintenance.Interval)
	}
	return nil
}

// CacheSettings converts the cache section to the cache package's settings.
func (c *Config) CacheSettings() models.CacheSettings {
	return models.CacheSettings{
		Enabled:        c.Cache.Enabled,
		MaxEntries:     c.Cache.MaxEntries,
		MaxAgeDays:     c.Cache.MaxAgeDays,
		MatchThreshold: c.Cache.MatchThreshold,
	}
}
