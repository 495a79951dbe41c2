package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
telegram:
  token: "123:abc"
transcriber:
  api_key: "key"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("expected token from file, got %q", cfg.Telegram.Token)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Logger.Level)
	}
	if cfg.Transcriber.Model == "" {
		t.Error("expected a default transcriber model")
	}
	if cfg.Retention.MaxAge != 90*24*time.Hour {
		t.Errorf("expected default retention of 90 days, got %v", cfg.Retention.MaxAge)
	}
	if len(cfg.Scheduler.Tasks) == 0 {
		t.Error("expected default scheduler tasks")
	}
	if task, ok := cfg.Scheduler.Tasks["retention"]; !ok || !task.Enabled {
		t.Error("expected the retention task to be enabled by default")
	}
	if cfg.Messages.Processing == "" {
		t.Error("expected a default processing message")
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing token", `
transcriber:
  api_key: "key"
`},
		{"missing api key", `
telegram:
  token: "123:abc"
`},
		{"bad log level", `
telegram:
  token: "123:abc"
transcriber:
  api_key: "key"
logger:
  level: loud
`},
		{"retention too short", `
telegram:
  token: "123:abc"
transcriber:
  api_key: "key"
retention:
  max_age: 1h
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.content)
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected validation to fail")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	// A missing file is tolerated, but the required fields then have no
	// source and validation must reject the result.
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected validation to fail without token and api key")
	}
}
