package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleResource_UseFree(t *testing.T) {
	r := NewSimpleResource(3, "r1")

	key, err := r.Use(2)
	require.NoError(t, err)
	assert.Equal(t, "r1", key)
	assert.Equal(t, 1, r.FreeCapacity())
	assert.True(t, r.HasFreeCapacity(1))
	assert.False(t, r.HasFreeCapacity(2))

	_, err = r.Use(2)
	assert.ErrorIs(t, err, ErrInsufficientCapacity)

	require.NoError(t, r.Free(2))
	assert.Equal(t, 3, r.FreeCapacity())
}

func TestSimpleResource_DoubleFreeIsFatal(t *testing.T) {
	r := NewSimpleResource(1, "r1")
	err := r.Free(1)
	assert.ErrorIs(t, err, ErrDoubleFree)
}

func TestSimpleResource_GeneratesKeyWhenEmpty(t *testing.T) {
	r := NewSimpleResource(1, "")
	assert.NotEmpty(t, r.Key())
}

// Capacity bound invariant (spec.md §8.1): usage never exceeds capacity.
func TestSimpleResource_CapacityBoundInvariant(t *testing.T) {
	r := NewSimpleResource(5, "r1")
	for i := 0; i < 10; i++ {
		if r.HasFreeCapacity(1) {
			_, err := r.Use(1)
			require.NoError(t, err)
		}
		assert.LessOrEqual(t, r.Usage(), r.Capacity())
	}
}
