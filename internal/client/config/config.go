package config

import (
	"time"

	"github.com/dmitrijs2005/planbook/internal/client/syncer"
)

// ConfigEnv names the environment variable that can point at the JSON
// config file when -c is not given.
const ConfigEnv = "PLANBOOK_CONFIG"

// Config holds runtime settings for the planbook client.
type Config struct {
	ServerURL           string
	DatabasePath        string
	LogFile             string
	OnlineCheckInterval time.Duration
	SyncInterval        time.Duration
	BackoffMin          time.Duration
	BackoffMax          time.Duration
	RequestTimeout      time.Duration
	MaxAttempts         int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.DatabasePath = "planbook.db"
	c.LogFile = "planbook.log"
	c.OnlineCheckInterval = 3 * time.Second
	c.SyncInterval = syncer.DefaultSyncInterval
	c.BackoffMin = syncer.DefaultBackoffMin
	c.BackoffMax = syncer.DefaultBackoffMax
	c.RequestTimeout = syncer.DefaultRequestTimeout
	c.MaxAttempts = 0
}

// CoordinatorOptions projects the settings the sync coordinator uses.
func (c *Config) CoordinatorOptions() syncer.Options {
	return syncer.Options{
		RequestTimeout: c.RequestTimeout,
		MaxAttempts:    c.MaxAttempts,
	}
}

// SchedulerOptions projects the settings the background scheduler uses.
func (c *Config) SchedulerOptions() syncer.SchedulerOptions {
	return syncer.SchedulerOptions{
		Interval:   c.SyncInterval,
		BackoffMin: c.BackoffMin,
		BackoffMax: c.BackoffMax,
	}
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
