package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Listen)
	}
	if cfg.Cache.MaxEntries != 1000 {
		t.Errorf("expected 1000 max entries, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.MaxAgeDays != 7 {
		t.Errorf("expected 7 day max age, got %d", cfg.Cache.MaxAgeDays)
	}
	if cfg.Cache.MatchThreshold != 1.0 {
		t.Errorf("expected exact-match threshold, got %g", cfg.Cache.MatchThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	content := `
listen: ":9090"
db_path: "test.db"
providers:
  - name: openai
    url: https://api.openai.com
    api_key: ${TEST_API_KEY}
cache:
  enabled: true
  max_entries: 250
  max_age_days: 3
  match_threshold: 1.0
  default_temperature: 0.7
maintenance:
  interval: 5m
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if cfg.Providers[0].APIKey != "sk-test-123" {
		t.Errorf("env var not expanded: got %s", cfg.Providers[0].APIKey)
	}
	if cfg.Cache.MaxEntries != 250 {
		t.Errorf("expected 250 max entries, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.MaxAgeDays != 3 {
		t.Errorf("expected 3 day max age, got %d", cfg.Cache.MaxAgeDays)
	}
	if cfg.Maintenance.Interval != 5*time.Minute {
		t.Errorf("expected 5m interval, got %v", cfg.Maintenance.Interval)
	}

	settings := cfg.CacheSettings()
	if !settings.Enabled || settings.MaxEntries != 250 || settings.MaxAgeDays != 3 {
		t.Errorf("settings conversion mismatch: %+v", settings)
	}
}

func TestLoadInvalid(t *testing.T) {
	content := `
cache:
  max_entries: 100
  match_threshold: 2.5
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for out-of-range match_threshold")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}
