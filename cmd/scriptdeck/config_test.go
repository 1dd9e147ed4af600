package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scriptdeck/internal/history"
	"scriptdeck/internal/probe"
	"scriptdeck/internal/tail"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" {
		t.Errorf("web.listen = %q", cfg.Web.Listen)
	}
	if cfg.Probe.StartPort != probe.DefaultStartPort || cfg.Probe.EndPort != probe.DefaultEndPort {
		t.Errorf("probe range = %d-%d", cfg.Probe.StartPort, cfg.Probe.EndPort)
	}
	if cfg.Tail.RefreshRate != tail.DefaultRefreshRate {
		t.Errorf("tail.refresh_rate = %v", cfg.Tail.RefreshRate)
	}
	if !cfg.History.Enabled || cfg.History.MaxEntries != history.DefaultMaxEntries {
		t.Errorf("history = %+v", cfg.History)
	}
	if !cfg.SyntaxCheck || !cfg.Catalog.Enabled || !cfg.Assist.Enabled {
		t.Error("syntax check, catalog and assist should default to enabled")
	}
	if cfg.Assist.Timeout != "60s" {
		t.Errorf("assist.timeout = %q", cfg.Assist.Timeout)
	}
	if strings.HasPrefix(cfg.Paths.Scripts, "~") {
		t.Errorf("paths.scripts not expanded: %q", cfg.Paths.Scripts)
	}
	if cfg.Emulator.LogDir != cfg.Paths.Logs {
		t.Errorf("emulator.log_dir = %q, want paths.logs %q", cfg.Emulator.LogDir, cfg.Paths.Logs)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadConfigExplicitMissing(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), true)
	if err == nil {
		t.Fatal("expected error for an explicit missing config")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
web:
  listen: ":9000"
  api_key: k
probe:
  start_port: 7000
  end_port: 7005
  timeout: 100ms
tail:
  refresh_rate: 1.5
paths:
  scripts: /tmp/s
  autoexec: /tmp/a
  logs: /tmp/l
history:
  enabled: false
syntax_check: false
log:
  level: debug
  format: json
`)
	cfg, err := loadConfig(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Listen != ":9000" || cfg.Web.APIKey != "k" {
		t.Errorf("web = %+v", cfg.Web)
	}
	pc := cfg.probeConfig()
	if pc.StartPort != 7000 || pc.EndPort != 7005 || pc.Timeout.Milliseconds() != 100 {
		t.Errorf("probe config = %+v", pc)
	}
	if cfg.History.Enabled || cfg.SyntaxCheck {
		t.Error("explicit false should override the defaults")
	}
	if cfg.Catalog.Enabled != true {
		t.Error("unset catalog.enabled should keep its default")
	}
	if cfg.Tail.RefreshRate != 1.5 {
		t.Errorf("refresh rate = %v", cfg.Tail.RefreshRate)
	}
}

func TestLoadConfigParseError(t *testing.T) {
	path := writeConfig(t, "web: [unclosed")
	if _, err := loadConfig(path, true); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"reversed ports", func(c *Config) { c.Probe.StartPort, c.Probe.EndPort = 7069, 6969 }, "port range"},
		{"port too high", func(c *Config) { c.Probe.EndPort = 70000 }, "port range"},
		{"bad timeout", func(c *Config) { c.Probe.Timeout = "soon" }, "probe.timeout"},
		{"bad emulator timeout", func(c *Config) { c.Emulator.Timeout = "x" }, "emulator.timeout"},
		{"zero assist timeout", func(c *Config) { c.Assist.Timeout = "0s" }, "assist.timeout"},
		{"rate too low", func(c *Config) { c.Tail.RefreshRate = 0.01 }, "refresh_rate"},
		{"same dirs", func(c *Config) { c.Paths.AutoExec = c.Paths.Scripts }, "must differ"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(filepath.Join(t.TempDir(), "none.yaml"), false)
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			err = cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := []struct {
		in, want string
	}{
		{"~", home},
		{"~/scripts", filepath.Join(home, "scripts")},
		{"/abs/path", "/abs/path"},
		{"rel/~x", "rel/~x"},
		{"~other/x", "~other/x"},
	}
	for _, tt := range tests {
		got, err := expandHome(tt.in)
		if err != nil {
			t.Fatalf("expandHome(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerLevels(t *testing.T) {
	cfg := defaultConfig()
	cfg.Log.Level = "warn"
	logger := newLogger(cfg)
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled at warn level")
	}
	if !logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}
