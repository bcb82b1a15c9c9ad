package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance a chain's notion of "now" deterministically.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setClock(chain *RateLimit, c *fakeClock) {
	for node := chain; node != nil; node = node.parent {
		node.now = c.now
	}
}

func TestRateLimit_SingleWindow_UseAndDeferredFree(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	rl := NewRateLimitChain([]WindowCapacity{{Window: time.Second, Capacity: 2}}, "rl1")
	setClock(rl, clock)

	_, err := rl.Use(2)
	require.NoError(t, err)
	assert.False(t, rl.HasFreeCapacity(1))

	require.NoError(t, rl.Free(2))
	// Usage is not released synchronously; it remains charged until the
	// window elapses (spec.md §4.2).
	assert.False(t, rl.HasFreeCapacity(1))

	clock.advance(time.Second + time.Millisecond)
	changed := rl.Update()
	assert.True(t, changed)
	assert.True(t, rl.HasFreeCapacity(2))
}

func TestRateLimit_ChainedWindows_MigrateOutward(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	// 2 per second AND 3 per hour.
	rl := NewRateLimitChain([]WindowCapacity{
		{Window: time.Second, Capacity: 2},
		{Window: time.Hour, Capacity: 3},
	}, "rl1")
	setClock(rl, clock)

	_, err := rl.Use(2)
	require.NoError(t, err)
	require.NoError(t, rl.Free(2))

	clock.advance(time.Second + time.Millisecond)
	rl.Update()

	// The 1-second window has freed up (2 headroom), but the hour window now
	// carries the migrated charge (usage 2/3, headroom 1) - so the chain's
	// overall headroom is bounded by the hour window, not the second window.
	assert.False(t, rl.HasFreeCapacity(2))
	assert.True(t, rl.HasFreeCapacity(1))

	_, err = rl.Use(1)
	require.NoError(t, err)
	assert.False(t, rl.HasFreeCapacity(1), "hour window should be exhausted at 3/3 usage")
}

func TestRateLimit_AssertsStrictlyIncreasingChain(t *testing.T) {
	assert.Panics(t, func() {
		NewRateLimitChain([]WindowCapacity{
			{Window: time.Hour, Capacity: 2},
			{Window: time.Second, Capacity: 5}, // smaller window than its "parent" - invalid
		}, "")
	})
}

func TestRateLimit_GetTimeToUpdate(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	rl := NewRateLimitChain([]WindowCapacity{{Window: 500 * time.Millisecond, Capacity: 1}}, "rl1")
	setClock(rl, clock)

	assert.Nil(t, rl.TimeToUpdate())

	_, err := rl.Use(1)
	require.NoError(t, err)
	require.NoError(t, rl.Free(1))

	ttu := rl.TimeToUpdate()
	require.NotNil(t, ttu)
	assert.InDelta(t, 500*time.Millisecond, *ttu, float64(10*time.Millisecond))
}

// Rate window bound invariant (spec.md §8.2).
func TestRateLimit_WindowBoundInvariant(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	rl := NewRateLimitChain([]WindowCapacity{{Window: time.Second, Capacity: 2}}, "rl1")
	setClock(rl, clock)

	for i := 0; i < 5; i++ {
		if rl.HasFreeCapacity(1) {
			_, err := rl.Use(1)
			require.NoError(t, err)
			require.NoError(t, rl.Free(1))
		}
		assert.LessOrEqual(t, rl.Usage(), rl.Capacity())
		clock.advance(200 * time.Millisecond)
		rl.Update()
	}
}
