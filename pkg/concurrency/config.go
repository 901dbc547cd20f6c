package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// ConfigSource indicates where the configuration came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
)

// Config holds the limits for frames executing at once across all targets
type Config struct {
	MaxConcurrent int

	// BreakerThreshold is the number of consecutive failed frames that
	// opens the circuit.
	BreakerThreshold int64

	// BreakerReset is how long the circuit stays open before a trial frame is let through.
	BreakerReset time.Duration

	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// LoadConfig loads concurrency configuration with priority: env vars > auto-detection > defaults
func LoadConfig() *Config {
	config := &Config{
		IsKubernetes:  isKubernetes(),
		EffectiveCPUs: runtime.GOMAXPROCS(0),
	}

	if maxConcurrent := getEnvInt("HERALD_MAX_CONCURRENT", 0); maxConcurrent > 0 {
		config.MaxConcurrent = maxConcurrent
		config.Source = ConfigSourceEnvVar
	} else if multiplier := getEnvInt("HERALD_CONCURRENCY_MULTIPLIER", 0); multiplier > 0 {
		config.MaxConcurrent = config.EffectiveCPUs * multiplier
		config.Source = ConfigSourceEnvVar
	} else {
		config.MaxConcurrent = getDefaultMaxConcurrent(config.IsKubernetes, config.EffectiveCPUs)
		config.Source = ConfigSourceAutoDetect
	}
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}

	config.BreakerThreshold = int64(getEnvInt("HERALD_BREAKER_THRESHOLD", 100))
	config.BreakerReset = time.Duration(getEnvInt("HERALD_BREAKER_RESET_SECONDS", 30)) * time.Second

	return config
}

// NewLimiter creates the limiter described by the config
func (c *Config) NewLimiter() *Limiter {
	return NewLimiterWithCircuitBreaker(c.MaxConcurrent, NewCircuitBreaker(c.BreakerThreshold, c.BreakerReset))
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// getDefaultMaxConcurrent returns sensible defaults based on environment.
// Frames spend most of their time waiting on the platform, so the bare
// metal default is generous.
func getDefaultMaxConcurrent(isK8s bool, cpus int) int {
	if isK8s {
		return cpus * 4
	}
	return cpus * 16
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxConcurrent: %d, Breaker: %d/%s, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrent,
		c.BreakerThreshold,
		c.BreakerReset,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
