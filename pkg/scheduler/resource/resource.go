// Package resource implements the capacity-bearing primitives the scheduler
// allocates to tasks: a sealed Resource sum type with two concrete variants
// (SimpleResource and RateLimit), a ResourceAllocator that pools interchangeable
// resources under one alias, and a ResourceManager that aggregates allocators.
package resource

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Errors surfaced per the programmer-error taxonomy: freeing more than was
// reserved, or freeing against an unknown allocation, indicates a corrupted
// invariant and must not be silently absorbed.
var (
	ErrInsufficientCapacity = errors.New("resource: insufficient free capacity")
	ErrDoubleFree           = errors.New("resource: free exceeds outstanding usage")
	ErrUnknownAllocation    = errors.New("resource: no allocation for task key")
)

// Resource is the sealed interface implemented by SimpleResource and
// RateLimit. There is deliberately no third implementation point: callers
// that need a new capacity model add a variant here, they do not subclass.
type Resource interface {
	// Key returns the resource's stable, globally unique identity.
	Key() string

	// Use reserves n units. It returns the resource's own key on success and
	// an error (wrapping ErrInsufficientCapacity) when capacity is exhausted.
	Use(n int) (string, error)

	// Free releases n units previously reserved via Use. For a SimpleResource
	// this is synchronous; for a RateLimit it defers the release until the
	// sliding window for those units elapses.
	Free(n int) error

	// HasFreeCapacity reports whether a subsequent Use(n) would succeed.
	HasFreeCapacity(n int) bool

	// FreeCapacity returns the immediately usable capacity right now.
	FreeCapacity() int

	// Update advances internal time-dependent state (only meaningful for
	// RateLimit; a no-op returning false for SimpleResource) and reports
	// whether free capacity changed as a result.
	Update() bool

	// TimeToUpdate returns the duration until this resource's state would
	// next change on its own (a rate-limit window expiring), or nil if the
	// resource has no pending time-driven transition.
	TimeToUpdate() *time.Duration
}

// SimpleResource is a bounded integer capacity resource (spec.md §3/§4.1).
// Release is synchronous: freed units are immediately available again.
type SimpleResource struct {
	key      string
	capacity int
	usage    int
}

// NewSimpleResource constructs a SimpleResource with the given capacity. If
// key is empty a UUID is generated, treating unique-ID generation as the
// external primitive spec.md §1 calls it out to be.
func NewSimpleResource(capacity int, key string) *SimpleResource {
	if key == "" {
		key = uuid.NewString()
	}
	return &SimpleResource{key: key, capacity: capacity}
}

func (r *SimpleResource) Key() string { return r.key }

func (r *SimpleResource) Use(n int) (string, error) {
	if r.capacity-r.usage < n {
		return "", fmt.Errorf("%w: resource %s requested %d, free %d", ErrInsufficientCapacity, r.key, n, r.capacity-r.usage)
	}
	r.usage += n
	return r.key, nil
}

func (r *SimpleResource) Free(n int) error {
	if r.usage < n {
		return fmt.Errorf("%w: resource %s freeing %d, outstanding %d", ErrDoubleFree, r.key, n, r.usage)
	}
	r.usage -= n
	return nil
}

func (r *SimpleResource) HasFreeCapacity(n int) bool { return r.capacity-r.usage >= n }

func (r *SimpleResource) FreeCapacity() int { return r.capacity - r.usage }

func (r *SimpleResource) Update() bool { return false }

func (r *SimpleResource) TimeToUpdate() *time.Duration { return nil }

// Capacity returns the resource's declared total capacity.
func (r *SimpleResource) Capacity() int { return r.capacity }

// Usage returns the resource's current outstanding usage.
func (r *SimpleResource) Usage() int { return r.usage }
