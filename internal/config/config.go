// Package config loads the engine's tuning knobs from YAML, applies
// environment variable overrides, and watches the file for changes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the engine's operator-tunable knobs. Watcher replaces
// the whole value atomically on file change. The serve command reads
// ListenAddr, DBPath, LogLevel, LogFile and the rate-limit fields once
// at startup, so a reload does not change them for a running process.
// SnapshotInterval, SnapshotMinUpdates, RoomIdleEvict and
// ProjectionInterval are loaded but not read by the maintenance and
// projection loops, which run on their own fixed intervals.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`

	SnapshotInterval   time.Duration `yaml:"snapshot_interval"`
	SnapshotMinUpdates int           `yaml:"snapshot_min_updates"`
	RoomIdleEvict      time.Duration `yaml:"room_idle_evict"`
	ProjectionInterval time.Duration `yaml:"projection_interval"`

	ConnRateLimitPerSec float64 `yaml:"conn_rate_limit_per_sec"`
	ConnRateLimitBurst  int     `yaml:"conn_rate_limit_burst"`
	IPRateLimitPerSec   float64 `yaml:"ip_rate_limit_per_sec"`
	IPRateLimitBurst    int     `yaml:"ip_rate_limit_burst"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// defaults are applied before the YAML file and environment overrides
// are layered on top.
var defaults = Config{
	ListenAddr:          "0.0.0.0:3000",
	DBPath:              "board.db",
	SnapshotInterval:    60 * time.Second,
	SnapshotMinUpdates:  200,
	RoomIdleEvict:       5 * time.Minute,
	ProjectionInterval:  2 * time.Second,
	ConnRateLimitPerSec: 5,
	ConnRateLimitBurst:  20,
	IPRateLimitPerSec:   20,
	IPRateLimitBurst:    100,
	LogLevel:            "info",
}

// Load reads path and returns a Config with defaults applied for any
// field the file doesn't set, then environment overrides applied on
// top. A missing file is not an error: it yields the defaults alone.
func Load(path string) (*Config, error) {
	cfg := defaults

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators override individual knobs without
// editing the file, e.g. in a container where only env vars are
// injected. Malformed values are ignored, leaving the prior value.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BOARDENGINE_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BOARDENGINE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v, ok := envDuration("BOARDENGINE_SNAPSHOT_INTERVAL"); ok {
		cfg.SnapshotInterval = v
	}
	if v, ok := envInt("BOARDENGINE_SNAPSHOT_MIN_UPDATES"); ok {
		cfg.SnapshotMinUpdates = v
	}
	if v, ok := envDuration("BOARDENGINE_EVICT_INTERVAL"); ok {
		cfg.RoomIdleEvict = v
	}
	if v, ok := envDuration("BOARDENGINE_PROJECTION_INTERVAL"); ok {
		cfg.ProjectionInterval = v
	}
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
