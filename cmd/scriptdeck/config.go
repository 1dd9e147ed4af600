package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"scriptdeck/internal/history"
	"scriptdeck/internal/probe"
	"scriptdeck/internal/tail"
)

const defaultConfigPath = "config.yaml"

type Config struct {
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Probe struct {
		Host      string `yaml:"host"`
		StartPort int    `yaml:"start_port"`
		EndPort   int    `yaml:"end_port"`
		Timeout   string `yaml:"timeout"` // per port
	} `yaml:"probe"`
	Tail struct {
		RefreshRate float64 `yaml:"refresh_rate"` // seconds
		AutoStart   bool    `yaml:"auto_start"`
		Notify      bool    `yaml:"notify"`
	} `yaml:"tail"`
	Paths struct {
		Scripts  string `yaml:"scripts"`
		AutoExec string `yaml:"autoexec"`
		Logs     string `yaml:"logs"`
	} `yaml:"paths"`
	History struct {
		Enabled    bool   `yaml:"enabled"`
		Path       string `yaml:"path"`
		MaxEntries int    `yaml:"max_entries"`
	} `yaml:"history"`
	Catalog struct {
		Enabled  bool   `yaml:"enabled"`
		BaseURL  string `yaml:"base_url"`
		GamesURL string `yaml:"games_url"`
		Retries  int    `yaml:"retries"`
	} `yaml:"catalog"`
	Assist struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"assist"`
	MQTT struct {
		Enabled         bool   `yaml:"enabled"`
		Broker          string `yaml:"broker"`
		Username        string `yaml:"username"`
		Password        string `yaml:"password"`
		ClientID        string `yaml:"client_id"`
		TopicPrefix     string `yaml:"topic_prefix"`
		Discovery       bool   `yaml:"discovery"`
		DiscoveryPrefix string `yaml:"discovery_prefix"`
	} `yaml:"mqtt"`
	Emulator struct {
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
		LogDir  string `yaml:"log_dir"` // defaults to paths.logs
		Timeout string `yaml:"timeout"`
	} `yaml:"emulator"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	SyntaxCheck bool `yaml:"syntax_check"`
}

// defaultConfig returns the configuration used when no file exists. Booleans
// that default to true are set here so a partial file can still turn them off.
func defaultConfig() *Config {
	var cfg Config
	cfg.History.Enabled = true
	cfg.Catalog.Enabled = true
	cfg.Assist.Enabled = true
	cfg.SyntaxCheck = true
	return &cfg
}

func (c *Config) validate() error {
	if c.Probe.StartPort < 1 || c.Probe.EndPort > 65535 || c.Probe.StartPort > c.Probe.EndPort {
		return fmt.Errorf("probe port range %d-%d is invalid", c.Probe.StartPort, c.Probe.EndPort)
	}
	if _, err := time.ParseDuration(c.Probe.Timeout); err != nil {
		return fmt.Errorf("probe.timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Emulator.Timeout); err != nil {
		return fmt.Errorf("emulator.timeout: %w", err)
	}
	if d, err := time.ParseDuration(c.Assist.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("assist.timeout must be a positive duration, got %q", c.Assist.Timeout)
	}
	if c.Tail.RefreshRate < tail.MinRefreshRate || c.Tail.RefreshRate > tail.MaxRefreshRate {
		return fmt.Errorf("tail.refresh_rate must be %.1f-%.1f, got %v", tail.MinRefreshRate, tail.MaxRefreshRate, c.Tail.RefreshRate)
	}
	if c.Paths.Scripts == "" || c.Paths.AutoExec == "" || c.Paths.Logs == "" {
		return errors.New("paths.scripts, paths.autoexec and paths.logs are required")
	}
	if c.Paths.Scripts == c.Paths.AutoExec {
		return errors.New("paths.scripts and paths.autoexec must differ")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt is enabled")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

func (c *Config) probeConfig() probe.Config {
	cfg := probe.Config{
		Host:      c.Probe.Host,
		StartPort: c.Probe.StartPort,
		EndPort:   c.Probe.EndPort,
	}
	cfg.Timeout, _ = time.ParseDuration(c.Probe.Timeout)
	return cfg
}

func (c *Config) emulatorTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Emulator.Timeout)
	return d
}

// loadConfig reads path and fills defaults. A missing file is only an error
// when the path was given explicitly.
func loadConfig(path string, explicit bool) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Probe.Host == "" {
		cfg.Probe.Host = probe.DefaultHost
	}
	if cfg.Probe.StartPort == 0 {
		cfg.Probe.StartPort = probe.DefaultStartPort
	}
	if cfg.Probe.EndPort == 0 {
		cfg.Probe.EndPort = probe.DefaultEndPort
	}
	if cfg.Probe.Timeout == "" {
		cfg.Probe.Timeout = probe.DefaultTimeout.String()
	}
	if cfg.Tail.RefreshRate == 0 {
		cfg.Tail.RefreshRate = tail.DefaultRefreshRate
	}
	if cfg.Paths.Scripts == "" {
		cfg.Paths.Scripts = "~/scriptdeck/scripts"
	}
	if cfg.Paths.AutoExec == "" {
		cfg.Paths.AutoExec = "~/Hydrogen/autoexecute"
	}
	if cfg.Paths.Logs == "" {
		cfg.Paths.Logs = "~/Library/Logs/Roblox"
	}
	if cfg.History.Path == "" {
		cfg.History.Path = "~/scriptdeck/history.db"
	}
	if cfg.History.MaxEntries == 0 {
		cfg.History.MaxEntries = history.DefaultMaxEntries
	}
	if cfg.Catalog.Retries == 0 {
		cfg.Catalog.Retries = 2
	}
	if cfg.Assist.Timeout == "" {
		cfg.Assist.Timeout = "60s"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "scriptdeck"
	}
	if cfg.Emulator.Timeout == "" {
		cfg.Emulator.Timeout = "5s"
	}
	if cfg.Emulator.LogDir == "" {
		cfg.Emulator.LogDir = cfg.Paths.Logs
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	for _, p := range []*string{&cfg.Paths.Scripts, &cfg.Paths.AutoExec, &cfg.Paths.Logs, &cfg.History.Path, &cfg.Emulator.LogDir} {
		expanded, err := expandHome(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}
	return cfg, nil
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, `~\`) {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", p, err)
	}
	return filepath.Join(home, p[1:]), nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
