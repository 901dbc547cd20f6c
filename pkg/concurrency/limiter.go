// Package concurrency caps how many frames execute at once across targets
// and stops sending while the platform keeps failing.
package concurrency

import (
	"context"
	"sync/atomic"
	"time"

	herrors "github.com/wehubfusion/Herald/pkg/errors"
)

// Metrics tracks limiter usage
type Metrics struct {
	TotalAcquired   int64
	TotalReleased   int64
	TotalRejected   int64
	PeakConcurrent  int64
	TotalWaitTimeNs int64
}

// Limiter is a semaphore guarded by a circuit breaker
type Limiter struct {
	sem            chan struct{}
	active         int64
	metrics        Metrics
	circuitBreaker *CircuitBreaker
}

// NewLimiter creates a limiter with the default circuit breaker
func NewLimiter(maxConcurrent int) *Limiter {
	return NewLimiterWithCircuitBreaker(maxConcurrent, NewCircuitBreaker(100, 30*time.Second))
}

// NewLimiterWithCircuitBreaker creates a limiter with custom circuit breaker settings
func NewLimiterWithCircuitBreaker(maxConcurrent int, cb *CircuitBreaker) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if cb == nil {
		cb = NewCircuitBreaker(0, 0)
	}
	return &Limiter{
		sem:            make(chan struct{}, maxConcurrent),
		circuitBreaker: cb,
	}
}

// Acquire waits for a free slot. It fails with ErrCircuitOpen while the
// breaker is open, or with the context error.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.circuitBreaker.IsOpen() {
		atomic.AddInt64(&l.metrics.TotalRejected, 1)
		return herrors.ErrCircuitOpen
	}

	start := time.Now()
	select {
	case l.sem <- struct{}{}:
		atomic.AddInt64(&l.metrics.TotalWaitTimeNs, time.Since(start).Nanoseconds())
		atomic.AddInt64(&l.metrics.TotalAcquired, 1)
		l.updatePeak(atomic.AddInt64(&l.active, 1))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release releases a slot back to the limiter
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		atomic.AddInt64(&l.active, -1)
		atomic.AddInt64(&l.metrics.TotalReleased, 1)
	default:
	}
}

// GoSync runs fn in the calling goroutine once a slot is free and feeds its
// outcome to the circuit breaker.
func (l *Limiter) GoSync(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	if err := fn(); err != nil {
		l.circuitBreaker.RecordFailure()
		return err
	}
	l.circuitBreaker.RecordSuccess()
	return nil
}

// CurrentActive returns the number of slots in use
func (l *Limiter) CurrentActive() int64 {
	return atomic.LoadInt64(&l.active)
}

// GetMetrics returns a snapshot of the metrics
func (l *Limiter) GetMetrics() Metrics {
	return Metrics{
		TotalAcquired:   atomic.LoadInt64(&l.metrics.TotalAcquired),
		TotalReleased:   atomic.LoadInt64(&l.metrics.TotalReleased),
		TotalRejected:   atomic.LoadInt64(&l.metrics.TotalRejected),
		PeakConcurrent:  atomic.LoadInt64(&l.metrics.PeakConcurrent),
		TotalWaitTimeNs: atomic.LoadInt64(&l.metrics.TotalWaitTimeNs),
	}
}

// GetAverageWaitTime returns the average time spent waiting for a slot
func (l *Limiter) GetAverageWaitTime() time.Duration {
	metrics := l.GetMetrics()
	if metrics.TotalAcquired == 0 {
		return 0
	}
	return time.Duration(metrics.TotalWaitTimeNs / metrics.TotalAcquired)
}

// CircuitBreaker returns the limiter's breaker
func (l *Limiter) CircuitBreaker() *CircuitBreaker {
	return l.circuitBreaker
}

func (l *Limiter) updatePeak(current int64) {
	for {
		peak := atomic.LoadInt64(&l.metrics.PeakConcurrent)
		if current <= peak {
			return
		}
		if atomic.CompareAndSwapInt64(&l.metrics.PeakConcurrent, peak, current) {
			return
		}
	}
}
