package config

import "time"

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Watch    WatchConfig    `json:"watch"`
	OSM      OSMConfig      `json:"osm,omitempty"`
	Storage  StorageConfig  `json:"storage"`
}

type TelegramConfig struct {
	// Token may be omitted; the TELEGRAM_BOT_TOKEN environment variable
	// (optionally via .env) is used as a fallback.
	Token string `json:"token,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// WatchConfig controls the changeset watchdog.
//
// All durations are Go duration strings (e.g. "30s", "6h").
//
// Defaults (when fields are omitted/zero):
//   - interval: "6h"
//   - first_delay: "30s"
//   - workers: 4
type WatchConfig struct {
	Interval   string `json:"interval,omitempty"`
	FirstDelay string `json:"first_delay,omitempty"`
	Workers    int    `json:"workers,omitempty"`
}

// OSMConfig controls the OSM changesets API client.
type OSMConfig struct {
	BaseURL string `json:"base_url,omitempty"` // default: "https://www.openstreetmap.org/api/0.6"
	// UserAgent and From identify the bot towards the OSM API,
	// per the OSM API usage policy.
	UserAgent string `json:"user_agent,omitempty"`
	From      string `json:"from,omitempty"`
	// Timeout is a Go duration string for a single HTTP request.
	Timeout string `json:"timeout,omitempty"`
	// RatePerSec caps outbound API queries across the whole process.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// RetryAttempts bounds retries of a failed API query (default 3).
	RetryAttempts int `json:"retry_attempts,omitempty"`
}

// StorageConfig controls the sqlite registration store.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

const (
	DefaultWatchInterval   = 6 * time.Hour
	DefaultWatchFirstDelay = 30 * time.Second
	DefaultWatchWorkers    = 4
)

// WatchInterval returns the parsed watchdog interval with defaults applied.
func (c *Config) WatchInterval() (time.Duration, error) {
	return ParseDurationOrDefault("watch.interval", c.Watch.Interval, DefaultWatchInterval)
}

func (c *Config) WatchFirstDelay() (time.Duration, error) {
	return ParseDurationOrDefault("watch.first_delay", c.Watch.FirstDelay, DefaultWatchFirstDelay)
}

func (c *Config) WatchWorkers() int {
	if c.Watch.Workers <= 0 {
		return DefaultWatchWorkers
	}
	return c.Watch.Workers
}
