package concurrency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	herrors "github.com/wehubfusion/Herald/pkg/errors"
)

func TestLoadConfigRespectsEnvironmentOverrides(t *testing.T) {
	t.Setenv("HERALD_MAX_CONCURRENT", "42")
	t.Setenv("HERALD_BREAKER_THRESHOLD", "3")
	t.Setenv("HERALD_BREAKER_RESET_SECONDS", "5")

	cfg := LoadConfig()

	assert.Equal(t, 42, cfg.MaxConcurrent)
	assert.Equal(t, int64(3), cfg.BreakerThreshold)
	assert.Equal(t, 5*time.Second, cfg.BreakerReset)
	assert.Equal(t, ConfigSourceEnvVar, cfg.Source)
}

func TestLoadConfigMultiplier(t *testing.T) {
	t.Setenv("HERALD_MAX_CONCURRENT", "")
	t.Setenv("HERALD_CONCURRENCY_MULTIPLIER", "3")

	cfg := LoadConfig()
	assert.Equal(t, cfg.EffectiveCPUs*3, cfg.MaxConcurrent)
	assert.Equal(t, ConfigSourceEnvVar, cfg.Source)
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	t.Setenv("HERALD_MAX_CONCURRENT", "not-a-number")
	t.Setenv("HERALD_CONCURRENCY_MULTIPLIER", "")

	cfg := LoadConfig()
	assert.GreaterOrEqual(t, cfg.MaxConcurrent, 1)
	assert.Equal(t, ConfigSourceAutoDetect, cfg.Source)
	assert.Equal(t, int64(100), cfg.BreakerThreshold)
	assert.NotNil(t, cfg.NewLimiter())
}

func TestLimiterAcquireReleaseTracksMetrics(t *testing.T) {
	limiter := NewLimiter(2)

	require.NoError(t, limiter.Acquire(context.Background()))
	assert.Equal(t, int64(1), limiter.CurrentActive())
	limiter.Release()

	metrics := limiter.GetMetrics()
	assert.Equal(t, int64(1), metrics.TotalAcquired)
	assert.Equal(t, int64(1), metrics.TotalReleased)
	assert.Equal(t, int64(1), metrics.PeakConcurrent)
}

func TestLimiterAcquireHonorsContextCancellation(t *testing.T) {
	limiter := NewLimiter(1)
	require.NoError(t, limiter.Acquire(context.Background()))
	defer limiter.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	assert.ErrorIs(t, limiter.Acquire(ctx), context.Canceled)
}

func TestLimiterCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	limiter := NewLimiterWithCircuitBreaker(1, cb)

	ctx := context.Background()
	_ = limiter.GoSync(ctx, func() error { return errors.New("boom") })
	assert.Equal(t, StateOpen, cb.GetState())

	err := limiter.Acquire(ctx)
	assert.ErrorIs(t, err, herrors.ErrCircuitOpen)
	assert.Equal(t, int64(1), limiter.GetMetrics().TotalRejected)
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.GetState())
	cb.RecordFailure()
	assert.True(t, cb.IsOpen())

	now = now.Add(2 * time.Minute)
	assert.False(t, cb.IsOpen())
	assert.Equal(t, StateHalfOpen, cb.GetState())

	for range halfOpenSuccesses {
		cb.RecordSuccess()
	}
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, int64(0), cb.GetConsecutiveFailures())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(1, time.Second)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	now = now.Add(2 * time.Second)
	require.False(t, cb.IsOpen())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, "closed", cb.GetState().String())
}
