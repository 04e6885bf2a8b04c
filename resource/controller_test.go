package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitMemory(t *testing.T) {
	c := NewController(Config{MaxMemoryBytes: 1000, BackpressureThreshold: 0.8})

	// Threshold is 800 bytes.
	require.NoError(t, c.AdmitMemory(500))
	require.NoError(t, c.AdmitMemory(300))
	assert.EqualValues(t, 800, c.MemoryUsage())

	assert.ErrorIs(t, c.AdmitMemory(1), ErrBackpressure)
	assert.EqualValues(t, 800, c.MemoryUsage())

	c.ReleaseMemory(300)
	require.NoError(t, c.AdmitMemory(100))
	assert.EqualValues(t, 600, c.MemoryUsage())
}

func TestAdmitMemoryUnlimited(t *testing.T) {
	c := NewController(Config{})

	require.NoError(t, c.AdmitMemory(1 << 40))
	assert.EqualValues(t, 1<<40, c.MemoryUsage())
	assert.Zero(t, c.MemoryLimit())
}

func TestDefaultThreshold(t *testing.T) {
	c := NewController(Config{MaxMemoryBytes: 1000})

	require.NoError(t, c.AdmitMemory(800))
	assert.ErrorIs(t, c.AdmitMemory(1), ErrBackpressure)
}

func TestNilController(t *testing.T) {
	var c *Controller

	require.NoError(t, c.AdmitMemory(100))
	c.ReleaseMemory(100)
	assert.Zero(t, c.MemoryUsage())
	assert.True(t, c.TryAcquireFlushSlot())
	c.ReleaseFlushSlot()
	require.NoError(t, c.AcquireFlushSlot(context.Background()))
	require.NoError(t, c.PaceFlush(context.Background(), 1<<20))
	assert.True(t, c.TryPaceFlush(1<<20))
}

func TestFlushSlots(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 2})

	require.True(t, c.TryAcquireFlushSlot())
	require.True(t, c.TryAcquireFlushSlot())
	assert.False(t, c.TryAcquireFlushSlot())

	c.ReleaseFlushSlot()
	assert.True(t, c.TryAcquireFlushSlot())

	t.Run("AcquireRespectsContext", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, c.AcquireFlushSlot(ctx), context.DeadlineExceeded)
	})
}

func TestPaceFlush(t *testing.T) {
	c := NewController(Config{FlushBytesPerSec: 1 << 20})

	// Within burst, pacing is immediate.
	start := time.Now()
	require.NoError(t, c.PaceFlush(context.Background(), 1024))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// Requests beyond the burst are clamped rather than rejected.
	require.NoError(t, c.PaceFlush(context.Background(), 10<<20))

	t.Run("Unlimited", func(t *testing.T) {
		c := NewController(Config{})
		require.NoError(t, c.PaceFlush(context.Background(), 100<<20))
		assert.True(t, c.TryPaceFlush(100<<20))
	})
}
