package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "siteaudit.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", config.Environment)
	assert.Equal(t, "./audits", config.Storage.AuditsDir)
	assert.Equal(t, 4, config.Crawler.Concurrency)
	assert.Equal(t, 100, config.Crawler.MaxPages)
	assert.Equal(t, 15*time.Second, config.Crawler.RequestTimeout)
	assert.Equal(t, 16, config.Queue.BufferSize)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
environment = "production"

[storage]
audits_dir = "/srv/audits"

[crawler]
max_pages = 250
concurrency = 8

[logging]
level = "debug"
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.Equal(t, "/srv/audits", config.Storage.AuditsDir)
	assert.Equal(t, 250, config.Crawler.MaxPages)
	assert.Equal(t, 8, config.Crawler.Concurrency)
	assert.Equal(t, "debug", config.Logging.Level)

	// Untouched values keep their defaults
	assert.Equal(t, 16, config.Queue.BufferSize)
}

func TestLoadConfig_LaterFileWins(t *testing.T) {
	first := writeConfigFile(t, `
[crawler]
max_pages = 50
`)
	second := writeConfigFile(t, `
[crawler]
max_pages = 75
`)

	config, err := LoadConfig(first, second)
	require.NoError(t, err)
	assert.Equal(t, 75, config.Crawler.MaxPages)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
[logging]
level = "warn"
`)
	t.Setenv("SITEAUDIT_LOG_LEVEL", "debug")
	t.Setenv("SITEAUDIT_MAX_PAGES", "42")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, 42, config.Crawler.MaxPages)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadConfig_Schedules(t *testing.T) {
	path := writeConfigFile(t, `
[[schedules]]
domain = "example.com"
cron = "0 3 * * *"
max_pages = 200
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, config.Schedules, 1)
	assert.Equal(t, "example.com", config.Schedules[0].Domain)
	assert.Equal(t, "0 3 * * *", config.Schedules[0].Cron)
	assert.Equal(t, 200, config.Schedules[0].MaxPages)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"missing audits dir", func(c *Config) { c.Storage.AuditsDir = "" }, true},
		{"zero concurrency", func(c *Config) { c.Crawler.Concurrency = 0 }, true},
		{"zero queue buffer", func(c *Config) { c.Queue.BufferSize = 0 }, true},
		{"schedule missing domain", func(c *Config) {
			c.Schedules = []ScheduleConfig{{Cron: "0 * * * *"}}
		}, true},
		{"schedule bad cron", func(c *Config) {
			c.Schedules = []ScheduleConfig{{Domain: "example.com", Cron: "not cron"}}
		}, true},
		{"schedule with seconds field", func(c *Config) {
			c.Schedules = []ScheduleConfig{{Domain: "example.com", Cron: "0 0 3 * * *"}}
		}, true},
		{"valid schedule", func(c *Config) {
			c.Schedules = []ScheduleConfig{{Domain: "example.com", Cron: "*/30 * * * *"}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
