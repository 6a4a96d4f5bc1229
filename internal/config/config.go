// Package config holds the persisted tool configuration at
// ~/.config/mcpaudit/settings.json. Missing files load as defaults so the
// tool works out of the box.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/mcpaudit/mcpaudit/internal/analytics"
)

type TrackingConfig struct {
	PollIntervalMS int `json:"poll_interval_ms"`
	// CallHistoryCap bounds the per-tool call history kept in memory.
	CallHistoryCap int `json:"call_history_cap"`
}

type Config struct {
	// SessionsDir is where finished session snapshots land. Empty means
	// <config dir>/sessions.
	SessionsDir string `json:"sessions_dir"`
	// PricingFile optionally overrides the built-in model rates.
	PricingFile string `json:"pricing_file,omitempty"`
	// DefaultPlatform skips auto-detection when set.
	DefaultPlatform string `json:"default_platform,omitempty"`

	Tracking TrackingConfig        `json:"tracking"`
	Smells   analytics.SmellConfig `json:"smells"`

	// AdvertisedTools maps MCP server names to the tools they expose, used
	// to surface tools that never get called.
	AdvertisedTools map[string][]string `json:"advertised_tools,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Tracking: TrackingConfig{
			PollIntervalMS: 500,
			CallHistoryCap: 1000,
		},
		Smells: analytics.DefaultSmellConfig(),
	}
}

func ConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "mcpaudit")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "mcpaudit")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "settings.json")
}

func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Tracking.PollIntervalMS <= 0 {
		cfg.Tracking.PollIntervalMS = DefaultConfig().Tracking.PollIntervalMS
	}
	if cfg.Tracking.CallHistoryCap <= 0 {
		cfg.Tracking.CallHistoryCap = DefaultConfig().Tracking.CallHistoryCap
	}

	return cfg, nil
}

func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

func SaveTo(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ResolveSessionsDir expands the configured sessions directory, defaulting
// under the config dir.
func (c Config) ResolveSessionsDir() string {
	if c.SessionsDir != "" {
		return c.SessionsDir
	}
	return filepath.Join(ConfigDir(), "sessions")
}

// PollInterval returns the tracking cadence as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Tracking.PollIntervalMS) * time.Millisecond
}
