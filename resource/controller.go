// Package resource provides admission control for ingestion memory and
// background flush work.
package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrBackpressure is returned when admitting more work would exceed the
// configured memory budget. It is retryable: callers should back off and
// retry instead of growing unbounded.
var ErrBackpressure = errors.New("resource: backpressure")

// Config holds resource limits.
type Config struct {
	// MaxMemoryBytes is the hard budget for buffered ingestion memory.
	// If 0, no limit is enforced (only tracking).
	MaxMemoryBytes int64

	// BackpressureThreshold is the fraction of MaxMemoryBytes at which new
	// admissions start failing with ErrBackpressure. Defaults to 0.8.
	BackpressureThreshold float64

	// MaxBackgroundWorkers is the maximum number of concurrent background
	// flush jobs. If 0, defaults to 1.
	MaxBackgroundWorkers int64

	// FlushBytesPerSec caps background flush throughput. If 0, unlimited.
	FlushBytesPerSec int64
}

// Controller manages the ingestion memory budget and background flush slots.
// A nil Controller admits everything.
type Controller struct {
	cfg       Config
	threshold int64

	memUsed atomic.Int64

	bgSem        *semaphore.Weighted
	flushLimiter *rate.Limiter
}

// NewController creates a resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}
	if cfg.BackpressureThreshold <= 0 || cfg.BackpressureThreshold > 1 {
		cfg.BackpressureThreshold = 0.8
	}

	c := &Controller{
		cfg:   cfg,
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}

	if cfg.MaxMemoryBytes > 0 {
		c.threshold = int64(float64(cfg.MaxMemoryBytes) * cfg.BackpressureThreshold)
	}

	if cfg.FlushBytesPerSec > 0 {
		c.flushLimiter = rate.NewLimiter(rate.Limit(cfg.FlushBytesPerSec), int(cfg.FlushBytesPerSec))
	}

	return c
}

// AdmitMemory reserves bytes of buffered memory. Returns ErrBackpressure
// when the reservation would push usage past the backpressure threshold.
// Non-blocking; callers control retry and backoff policy.
func (c *Controller) AdmitMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.threshold > 0 {
		for {
			used := c.memUsed.Load()
			if used+bytes > c.threshold {
				return ErrBackpressure
			}
			if c.memUsed.CompareAndSwap(used, used+bytes) {
				return nil
			}
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory releases a reservation made by AdmitMemory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current reserved bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured budget in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MaxMemoryBytes
}

// AcquireFlushSlot reserves a background flush slot, blocking until one is
// available or ctx is done.
func (c *Controller) AcquireFlushSlot(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.bgSem.Acquire(ctx, 1)
}

// TryAcquireFlushSlot reserves a flush slot without blocking.
func (c *Controller) TryAcquireFlushSlot() bool {
	if c == nil {
		return true
	}
	return c.bgSem.TryAcquire(1)
}

// ReleaseFlushSlot releases a flush slot.
func (c *Controller) ReleaseFlushSlot() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
}

// PaceFlush waits until the flush throughput limit allows bytes more.
func (c *Controller) PaceFlush(ctx context.Context, bytes int) error {
	if c == nil || c.flushLimiter == nil {
		return nil
	}
	if bytes > c.flushLimiter.Burst() {
		bytes = c.flushLimiter.Burst()
	}
	return c.flushLimiter.WaitN(ctx, bytes)
}

// TryPaceFlush reports whether the limiter allows bytes right now.
func (c *Controller) TryPaceFlush(bytes int) bool {
	if c == nil || c.flushLimiter == nil {
		return true
	}
	return c.flushLimiter.AllowN(time.Now(), bytes)
}
