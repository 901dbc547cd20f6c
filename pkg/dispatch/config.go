package dispatch

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/wehubfusion/Herald/pkg/job"
)

const (
	// DefaultMaxBatchSize matches the Graph API batch endpoint limit.
	DefaultMaxBatchSize   = 50
	DefaultExecuteTimeout = 30 * time.Second
)

// Config holds the engine and dispatcher settings.
type Config struct {
	// MaxBatchSize caps the jobs sent in one executor call. Zero means no cap.
	MaxBatchSize int

	// ExecuteTimeout bounds one executor call. Zero means no timeout.
	ExecuteTimeout time.Duration

	// RetryMaxTries enables the retry middleware when greater than one.
	RetryMaxTries int

	// KeyStrategy selects the result key generator: monotonic or uuid.
	KeyStrategy string

	// MaxFanOut caps the targets compiled and submitted at once by
	// DispatchMany. Zero means no cap.
	MaxFanOut int
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		MaxBatchSize:   DefaultMaxBatchSize,
		ExecuteTimeout: DefaultExecuteTimeout,
		KeyStrategy:    job.KeyStrategyMonotonic,
	}
}

// LoadConfig loads settings from HERALD_* environment variables on top of the
// defaults. Malformed values fall back to the default.
func LoadConfig() *Config {
	cfg := DefaultConfig()

	cfg.MaxBatchSize = getEnvInt("HERALD_MAX_BATCH_SIZE", cfg.MaxBatchSize)
	cfg.ExecuteTimeout = getEnvDuration("HERALD_EXECUTE_TIMEOUT", cfg.ExecuteTimeout)
	cfg.RetryMaxTries = getEnvInt("HERALD_RETRY_MAX_TRIES", cfg.RetryMaxTries)
	cfg.MaxFanOut = getEnvInt("HERALD_MAX_FANOUT", cfg.MaxFanOut)

	switch strategy := strings.ToLower(os.Getenv("HERALD_KEY_STRATEGY")); strategy {
	case job.KeyStrategyMonotonic, job.KeyStrategyUUID:
		cfg.KeyStrategy = strategy
	}

	if cfg.MaxBatchSize < 0 {
		cfg.MaxBatchSize = 0
	}
	if cfg.ExecuteTimeout < 0 {
		cfg.ExecuteTimeout = 0
	}
	return cfg
}

// String returns a formatted representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxBatchSize: %d, ExecuteTimeout: %s, RetryMaxTries: %d, KeyStrategy: %s, MaxFanOut: %d}",
		c.MaxBatchSize,
		c.ExecuteTimeout,
		c.RetryMaxTries,
		c.KeyStrategy,
		c.MaxFanOut,
	)
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := cast.ToIntE(value); err == nil {
			return v
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("5s") or plain milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if ms, err := cast.ToInt64E(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := cast.ToDurationE(value); err == nil {
		return d
	}
	return defaultValue
}
