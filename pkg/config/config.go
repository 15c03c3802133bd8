package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the hutch server configuration, loaded from environment
// variables with sensible defaults for local development.
type Config struct {
	// HTTP listener
	Host string
	Port int

	// DatabaseURL is the path to the bolt database file.
	DatabaseURL string

	// Secrets. EncryptionKey is the base64-encoded 32-byte AES key used for
	// agent credentials; JWTSecret signs session tokens. Both are required
	// for server mode but optional for offline tooling.
	EncryptionKey string
	JWTSecret     string

	// Workspace fleet
	VibeKanbanBin string
	VibeKanbanArgs []string
	DataRoot      string
	PortBase      int
	PortMax       int

	// Session lifecycle
	SessionTTL              time.Duration
	SessionRefreshThreshold time.Duration
	SessionMaxPerUser       int

	// Process lifecycle
	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration

	// HealthCheckInterval paces the background reconcile loop.
	HealthCheckInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Defaults returns the configuration used when no environment is set.
func Defaults() *Config {
	return &Config{
		Host:                    "0.0.0.0",
		Port:                    8765,
		DatabaseURL:             "./hutch.db",
		VibeKanbanBin:           "vibe-kanban",
		DataRoot:                "./instances",
		PortBase:                18100,
		PortMax:                 18199,
		SessionTTL:              24 * time.Hour,
		SessionRefreshThreshold: time.Hour,
		SessionMaxPerUser:       5,
		StartupTimeout:          30 * time.Second,
		ShutdownTimeout:         30 * time.Second,
		HealthCheckInterval:     30 * time.Second,
		LogLevel:                "info",
		LogFormat:               "console",
	}
}

// FromEnv loads configuration from the process environment on top of the
// defaults. Malformed numeric or duration values are reported as errors
// rather than silently replaced.
func FromEnv() (*Config, error) {
	cfg := Defaults()

	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	cfg.EncryptionKey = os.Getenv("CONFIG_ENCRYPTION_KEY")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if v := os.Getenv("VIBE_KANBAN_BIN"); v != "" {
		cfg.VibeKanbanBin = v
	}
	if v := os.Getenv("VIBE_KANBAN_ARGS"); v != "" {
		cfg.VibeKanbanArgs = strings.Fields(v)
	}
	if v := os.Getenv("VIBE_INSTANCES_DATA_ROOT"); v != "" {
		cfg.DataRoot = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	var err error
	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	if cfg.PortBase, err = intEnv("VIBE_INSTANCES_PORT_BASE", cfg.PortBase); err != nil {
		return nil, err
	}
	if cfg.PortMax, err = intEnv("VIBE_INSTANCES_PORT_MAX", cfg.PortMax); err != nil {
		return nil, err
	}
	if cfg.SessionMaxPerUser, err = intEnv("SESSION_MAX_PER_USER", cfg.SessionMaxPerUser); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = secondsEnv("SESSION_TTL_SECS", cfg.SessionTTL); err != nil {
		return nil, err
	}
	if cfg.SessionRefreshThreshold, err = secondsEnv("SESSION_REFRESH_THRESHOLD_SECS", cfg.SessionRefreshThreshold); err != nil {
		return nil, err
	}
	if cfg.StartupTimeout, err = secondsEnv("STARTUP_TIMEOUT_SECS", cfg.StartupTimeout); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = secondsEnv("SHUTDOWN_TIMEOUT_SECS", cfg.ShutdownTimeout); err != nil {
		return nil, err
	}
	if cfg.HealthCheckInterval, err = secondsEnv("HEALTH_CHECK_INTERVAL_SECS", cfg.HealthCheckInterval); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and relationships. It does not require the secrets;
// server startup enforces those separately so that offline commands (key
// generation, admin bootstrap) can run without them.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.PortBase < 1 || c.PortBase > 65535 {
		return fmt.Errorf("VIBE_INSTANCES_PORT_BASE out of range: %d", c.PortBase)
	}
	if c.PortMax < c.PortBase {
		return fmt.Errorf("VIBE_INSTANCES_PORT_MAX (%d) below VIBE_INSTANCES_PORT_BASE (%d)", c.PortMax, c.PortBase)
	}
	if c.PortMax > 65535 {
		return fmt.Errorf("VIBE_INSTANCES_PORT_MAX out of range: %d", c.PortMax)
	}
	if c.SessionMaxPerUser < 1 {
		return fmt.Errorf("SESSION_MAX_PER_USER must be at least 1, got %d", c.SessionMaxPerUser)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL_SECS must be positive")
	}
	if c.SessionRefreshThreshold < 0 {
		return fmt.Errorf("SESSION_REFRESH_THRESHOLD_SECS must not be negative")
	}
	if c.StartupTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("startup and shutdown timeouts must be positive")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("HEALTH_CHECK_INTERVAL_SECS must be positive")
	}
	return nil
}

// ListenAddr returns the host:port the API server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func intEnv(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

func secondsEnv(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return time.Duration(n) * time.Second, nil
}
