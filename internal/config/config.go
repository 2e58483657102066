package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Config holds process-level configuration for the backup-monitor agent.
// Values are loaded from environment variables; the backup jobs themselves
// live in the YAML settings file (see Settings).
type Config struct {
	SettingsPath string `json:"settings_path"`
	HistoryDB    string `json:"history_db"`
	HTTPAddr     string `json:"http_addr"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	EventBusBufferSize int `json:"eventbus_buffer_size"`

	// WatchSettings enables automatic reloads when the settings file
	// changes on disk.
	WatchSettings bool `json:"watch_settings"`

	// HistoryEnabled enables the SQLite run history store.
	HistoryEnabled bool `json:"history_enabled"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		SettingsPath:           os.Getenv("SETTINGS_PATH"),
		HistoryDB:              os.Getenv("HISTORY_DB"),
		HTTPAddr:               os.Getenv("HTTP_ADDR"),
		TickIntervalStr:        os.Getenv("TICK_INTERVAL"),
		HTTPShutdownTimeoutStr: os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:         os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:            os.Getenv("METRICS_PATH"),
		WatchSettings:          os.Getenv("WATCH_SETTINGS") != "false",
		HistoryEnabled:         os.Getenv("HISTORY_ENABLED") != "false",
	}

	if bufStr := os.Getenv("EVENTBUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.EventBusBufferSize = n
		} else {
			log.Printf("config: invalid EVENTBUS_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.EventBusBufferSize == 0 {
		cfg.EventBusBufferSize = 100
	}

	if cfg.SettingsPath == "" {
		cfg.SettingsPath = DefaultSettingsPath()
	}
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = defaultHistoryDBPath()
	}
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = "127.0.0.1:8337"
		}
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "1m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}

	return cfg
}

// DefaultSettingsPath returns the settings file location under the user's
// config directory, falling back to the working directory if it cannot be
// determined.
func DefaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "backup-monitor.yaml"
	}
	return filepath.Join(dir, "backup-monitor.yaml")
}

func defaultHistoryDBPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "backup-monitor-history.db"
	}
	return filepath.Join(dir, "backup-monitor", "history.db")
}

// parseInt parses a string as a non-negative integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON. Kept for symmetry with the
// `config` subcommand; no fields are secret today.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		SettingsPath        string `json:"settings_path"`
		HistoryDB           string `json:"history_db"`
		HTTPAddr            string `json:"http_addr"`
		TickInterval        string `json:"tick_interval"`
		HTTPShutdownTimeout string `json:"http_shutdown_timeout"`
		MetricsEnabled      bool   `json:"metrics_enabled"`
		MetricsPath         string `json:"metrics_path"`
		EventBusBufferSize  int    `json:"eventbus_buffer_size"`
		WatchSettings       bool   `json:"watch_settings"`
		HistoryEnabled      bool   `json:"history_enabled"`
	}{
		SettingsPath:        c.SettingsPath,
		HistoryDB:           c.HistoryDB,
		HTTPAddr:            c.HTTPAddr,
		TickInterval:        c.TickIntervalStr,
		HTTPShutdownTimeout: c.HTTPShutdownTimeoutStr,
		MetricsEnabled:      c.MetricsEnabled,
		MetricsPath:         c.MetricsPath,
		EventBusBufferSize:  c.EventBusBufferSize,
		WatchSettings:       c.WatchSettings,
		HistoryEnabled:      c.HistoryEnabled,
	}
	return json.MarshalIndent(masked, "", "  ")
}
