// -----------------------------------------------------------------------
// Configuration - TOML config with defaults and env overrides
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Storage     StorageConfig    `toml:"storage"`
	Crawler     CrawlerConfig    `toml:"crawler"`
	Queue       QueueConfig      `toml:"queue"`
	Logging     LoggingConfig    `toml:"logging"`
	Schedules   []ScheduleConfig `toml:"schedules"`
}

type StorageConfig struct {
	Badger    BadgerConfig `toml:"badger"`
	AuditsDir string       `toml:"audits_dir"` // Root of audits/<domain>/audit-<runID>/ run directories
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// CrawlerConfig controls the reference crawl engine
type CrawlerConfig struct {
	UserAgent      string        `toml:"user_agent"`
	RequestTimeout time.Duration `toml:"request_timeout"` // Per-request HTTP timeout
	Concurrency    int           `toml:"concurrency"`     // Worker count inside the engine
	RateLimit      float64       `toml:"rate_limit"`      // Requests per second per crawl
	MaxPages       int           `toml:"max_pages"`       // Default page cap when the payload has none
	SettleDelay    time.Duration `toml:"settle_delay"`    // Wait before the first snapshot load attempt
}

// QueueConfig controls the audit job queue
type QueueConfig struct {
	BufferSize int `toml:"buffer_size"` // Pending jobs accepted before Add rejects
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// ScheduleConfig defines a recurring audit
type ScheduleConfig struct {
	Domain   string `toml:"domain"`
	Cron     string `toml:"cron"`      // Standard 5-field cron expression
	MaxPages int    `toml:"max_pages"` // 0 means crawler default
}

// DefaultConfig returns the built-in defaults applied before any file or
// env overrides.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger:    BadgerConfig{Path: "./data/siteaudit"},
			AuditsDir: "./audits",
		},
		Crawler: CrawlerConfig{
			UserAgent:      "siteaudit/" + GetVersion(),
			RequestTimeout: 15 * time.Second,
			Concurrency:    4,
			RateLimit:      8,
			MaxPages:       100,
			SettleDelay:    2 * time.Second,
		},
		Queue: QueueConfig{BufferSize: 16},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadConfig loads configuration in priority order:
// defaults -> each file in order -> environment variables.
func LoadConfig(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies SITEAUDIT_* environment variables on top of
// file configuration.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("SITEAUDIT_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("SITEAUDIT_AUDITS_DIR"); v != "" {
		config.Storage.AuditsDir = v
	}
	if v := os.Getenv("SITEAUDIT_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("SITEAUDIT_MAX_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Crawler.MaxPages = n
		}
	}
}

// Validate checks configuration consistency before startup proceeds
func (c *Config) Validate() error {
	if c.Storage.AuditsDir == "" {
		return fmt.Errorf("storage.audits_dir is required")
	}
	if c.Crawler.Concurrency < 1 {
		return fmt.Errorf("crawler.concurrency must be at least 1")
	}
	if c.Queue.BufferSize < 1 {
		return fmt.Errorf("queue.buffer_size must be at least 1")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for _, s := range c.Schedules {
		if s.Domain == "" {
			return fmt.Errorf("schedule entry missing domain")
		}
		if _, err := parser.Parse(s.Cron); err != nil {
			return fmt.Errorf("invalid cron expression %q for %s: %w", s.Cron, s.Domain, err)
		}
	}
	return nil
}
