package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"HOST", "PORT", "DATABASE_URL", "CONFIG_ENCRYPTION_KEY", "JWT_SECRET",
		"VIBE_KANBAN_BIN", "VIBE_KANBAN_ARGS", "VIBE_INSTANCES_DATA_ROOT",
		"VIBE_INSTANCES_PORT_BASE", "VIBE_INSTANCES_PORT_MAX",
		"SESSION_TTL_SECS", "SESSION_REFRESH_THRESHOLD_SECS", "SESSION_MAX_PER_USER",
		"STARTUP_TIMEOUT_SECS", "SHUTDOWN_TIMEOUT_SECS", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(name, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8765, cfg.Port)
	assert.Equal(t, "./hutch.db", cfg.DatabaseURL)
	assert.Equal(t, "vibe-kanban", cfg.VibeKanbanBin)
	assert.Empty(t, cfg.VibeKanbanArgs)
	assert.Equal(t, "./instances", cfg.DataRoot)
	assert.Equal(t, 18100, cfg.PortBase)
	assert.Equal(t, 18199, cfg.PortMax)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, time.Hour, cfg.SessionRefreshThreshold)
	assert.Equal(t, 5, cfg.SessionMaxPerUser)
	assert.Equal(t, 30*time.Second, cfg.StartupTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9000")
	t.Setenv("DATABASE_URL", "/var/lib/hutch/hutch.db")
	t.Setenv("VIBE_KANBAN_BIN", "/usr/local/bin/vibe-kanban")
	t.Setenv("VIBE_KANBAN_ARGS", "--verbose --no-open")
	t.Setenv("VIBE_INSTANCES_PORT_BASE", "20000")
	t.Setenv("VIBE_INSTANCES_PORT_MAX", "20010")
	t.Setenv("SESSION_TTL_SECS", "3600")
	t.Setenv("SESSION_MAX_PER_USER", "2")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr())
	assert.Equal(t, "/var/lib/hutch/hutch.db", cfg.DatabaseURL)
	assert.Equal(t, []string{"--verbose", "--no-open"}, cfg.VibeKanbanArgs)
	assert.Equal(t, 20000, cfg.PortBase)
	assert.Equal(t, 20010, cfg.PortMax)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, 2, cfg.SessionMaxPerUser)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestFromEnvRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric port", "PORT", "eight"},
		{"non-numeric port base", "VIBE_INSTANCES_PORT_BASE", "18.1"},
		{"negative ttl", "SESSION_TTL_SECS", "-10"},
		{"zero startup timeout", "STARTUP_TIMEOUT_SECS", "0"},
		{"non-numeric max sessions", "SESSION_MAX_PER_USER", "many"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"port too large", func(c *Config) { c.Port = 70000 }, true},
		{"port zero", func(c *Config) { c.Port = 0 }, true},
		{"port max below base", func(c *Config) { c.PortMax = c.PortBase - 1 }, true},
		{"port max above 65535", func(c *Config) { c.PortBase = 65000; c.PortMax = 66000 }, true},
		{"zero session cap", func(c *Config) { c.SessionMaxPerUser = 0 }, true},
		{"single-port range is valid", func(c *Config) { c.PortMax = c.PortBase }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
