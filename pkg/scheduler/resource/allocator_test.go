package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceAllocator_RegisterAndAllocateSingleResource(t *testing.T) {
	a := NewResourceAllocator("pool")
	a.RegisterResource(NewSimpleResource(5, "r1"))

	a.RegisterRequest("t1", 3)
	a.Update()

	assert.Equal(t, "r1", a.GetAllocatedResource("t1"))
	require.NoError(t, a.Use("t1"))
	assert.Equal(t, 0, a.ReadyUsage())
}

func TestResourceAllocator_BestFit_PacksSmallestSufficientResource(t *testing.T) {
	a := NewResourceAllocator("pool")
	a.RegisterResource(NewSimpleResource(10, "big"))
	a.RegisterResource(NewSimpleResource(3, "small"))

	a.RegisterRequest("t1", 2)
	a.Update()

	// The best-fit heuristic should prefer the resource with the smallest
	// sufficient remaining capacity, preserving "big" for larger requests.
	assert.Equal(t, "small", a.GetAllocatedResource("t1"))
}

func TestResourceAllocator_WaitingWhenNoCapacity(t *testing.T) {
	a := NewResourceAllocator("pool")
	a.RegisterResource(NewSimpleResource(1, "r1"))

	a.RegisterRequest("t1", 1)
	a.Update()
	require.NoError(t, a.Use("t1"))

	a.RegisterRequest("t2", 1)
	a.Update()

	assert.Empty(t, a.GetAllocatedResource("t2"))
	assert.Equal(t, 1, a.WaitingLen())
}

func TestResourceAllocator_UnblocksOnFree(t *testing.T) {
	a := NewResourceAllocator("pool")
	a.RegisterResource(NewSimpleResource(1, "r1"))

	a.RegisterRequest("t1", 1)
	a.Update()
	require.NoError(t, a.Use("t1"))

	a.RegisterRequest("t2", 1)
	a.Update()
	require.Empty(t, a.GetAllocatedResource("t2"))

	require.NoError(t, a.Free("r1", 1))
	a.Update() // capacity change detected -> dequeueAndAllocate runs

	assert.Equal(t, "r1", a.GetAllocatedResource("t2"))
}

func TestResourceAllocator_FIFOOrderingPreservedWhileWaiting(t *testing.T) {
	a := NewResourceAllocator("pool")
	a.RegisterResource(NewSimpleResource(2, "r1"))

	// t1 wants 2 (fits alone), t2 wants 2 arrives after - with capacity 2,
	// only one of them can ever be ready at a time; FIFO means t1 must be
	// serviced first.
	a.RegisterRequest("t1", 2)
	a.RegisterRequest("t2", 2)
	a.Update()

	assert.Equal(t, "r1", a.GetAllocatedResource("t1"))
	assert.Empty(t, a.GetAllocatedResource("t2"))
	assert.Equal(t, 1, a.WaitingLen())

	require.NoError(t, a.Use("t1"))
	require.NoError(t, a.Free("r1", 2))
	a.Update()

	assert.Equal(t, "r1", a.GetAllocatedResource("t2"))
}

func TestResourceAllocator_UnsatisfiableRequestNeverAllocated(t *testing.T) {
	a := NewResourceAllocator("pool")
	a.RegisterResource(NewSimpleResource(1, "r1"))

	assert.True(t, a.IsUnsatisfiable(2))
	a.RegisterRequest("t1", 2)
	a.Update()
	assert.Empty(t, a.GetAllocatedResource("t1"))
	assert.Equal(t, 1, a.WaitingLen())
}

func TestResourceAllocator_ZeroUnitRequestSucceedsTrivially(t *testing.T) {
	a := NewResourceAllocator("pool")
	a.RegisterResource(NewSimpleResource(1, "r1"))

	a.RegisterRequest("t1", 0)
	a.Update()

	assert.NotEmpty(t, a.GetAllocatedResource("t1"))
}

func TestResourceAllocator_EmptyAliasGetsGeneratedUUID(t *testing.T) {
	a := NewResourceAllocator("")
	assert.NotEmpty(t, a.Alias())
}
