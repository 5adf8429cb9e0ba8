package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dyluth/redwood/internal/instance"
	"github.com/dyluth/redwood/pkg/bus"
)

// SubjectConfig holds a participant process's runtime configuration loaded
// from environment variables. Validated at startup for fail-fast behavior.
type SubjectConfig struct {
	// InstanceName is the redwood instance identifier (from REDWOOD_INSTANCE)
	InstanceName string

	// Session is the session number (from REDWOOD_SESSION)
	Session int

	// SubjectID is this participant's id (from REDWOOD_SUBJECT)
	SubjectID string

	// RedisURL is the Redis connection string (from REDIS_URL)
	RedisURL string

	// HealthAddr is the listen address of /healthz and /metrics (from REDWOOD_HEALTH_ADDR, default ":8080")
	HealthAddr string

	// LogLevel is the zap level name (from REDWOOD_LOG_LEVEL, default "info")
	LogLevel string
}

// LoadSubjectConfig reads and validates configuration from environment variables.
// Returns an error if any required variable is missing or invalid.
func LoadSubjectConfig() (*SubjectConfig, error) {
	cfg := &SubjectConfig{
		InstanceName: os.Getenv("REDWOOD_INSTANCE"),
		SubjectID:    os.Getenv("REDWOOD_SUBJECT"),
		RedisURL:     os.Getenv("REDIS_URL"),
		HealthAddr:   os.Getenv("REDWOOD_HEALTH_ADDR"),
		LogLevel:     os.Getenv("REDWOOD_LOG_LEVEL"),
	}

	if raw := os.Getenv("REDWOOD_SESSION"); raw != "" {
		session, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDWOOD_SESSION as integer: %w", err)
		}
		cfg.Session = session
	}

	if cfg.HealthAddr == "" {
		cfg.HealthAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns the first validation error encountered.
func (c *SubjectConfig) Validate() error {
	if c.InstanceName == "" {
		return fmt.Errorf("REDWOOD_INSTANCE environment variable is required")
	}

	if err := instance.ValidateName(c.InstanceName); err != nil {
		return fmt.Errorf("REDWOOD_INSTANCE: %w", err)
	}

	if c.Session <= 0 {
		return fmt.Errorf("REDWOOD_SESSION environment variable is required and must be positive")
	}

	if c.SubjectID == "" {
		return fmt.Errorf("REDWOOD_SUBJECT environment variable is required")
	}

	if c.SubjectID == bus.AdminSender {
		return fmt.Errorf("REDWOOD_SUBJECT cannot be '%s'", bus.AdminSender)
	}

	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL environment variable is required")
	}

	return nil
}
