package resource

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// defaultPollCeiling bounds how long an allocator ever reports as its next
// update deadline when no resource reports a sooner one (original_source
// resource_allocator/__init__.py get_time_to_update: "time_to_update = 5").
const defaultPollCeiling = 5 * time.Second

// waitingRequest is one entry of an allocator's strict-FIFO waiting queue.
type waitingRequest struct {
	taskKey string
	units   int
}

// ResourceAllocator owns a pool of interchangeable Resources aliased under
// one logical name and implements the best-fit/transit-stack allocation
// algorithm of spec.md §4.3, grounded line-for-line on
// original_source/resource_allocator/__init__.py's ResourceAllocator.
type ResourceAllocator struct {
	alias string

	resources         map[string]Resource
	resourcesCapacity map[string]int // resource key -> last-observed free capacity

	readyAllocation map[string]string // task key -> resource key
	readyQueue      map[string]int    // task key -> units, conceptually a max-heap by units
	readyUsage      int

	waitingQueue []waitingRequest // strict FIFO

	waitingRequests int // outstanding waiting count as of the previous update()
}

// NewResourceAllocator constructs an allocator for the given alias. An empty
// alias is replaced with a generated UUID, matching
// ResourceAllocatorBase.__init__'s `self.alias = alias if alias else uuid4()`.
func NewResourceAllocator(alias string) *ResourceAllocator {
	if alias == "" {
		alias = uuid.NewString()
	}
	return &ResourceAllocator{
		alias:             alias,
		resources:         make(map[string]Resource),
		resourcesCapacity: make(map[string]int),
		readyAllocation:   make(map[string]string),
		readyQueue:        make(map[string]int),
	}
}

// Alias returns the allocator's logical name.
func (a *ResourceAllocator) Alias() string { return a.alias }

// RegisterResource adds a resource to the pool and records its current free
// capacity.
func (a *ResourceAllocator) RegisterResource(r Resource) {
	a.resources[r.Key()] = r
	a.resourcesCapacity[r.Key()] = r.FreeCapacity()
}

// RegisterRequest enqueues a waiting request. Duplicate task keys are the
// caller's responsibility to avoid (spec.md §4.3 edge cases).
func (a *ResourceAllocator) RegisterRequest(taskKey string, units int) {
	a.waitingQueue = append(a.waitingQueue, waitingRequest{taskKey: taskKey, units: units})
}

// GetAllocatedResource returns the resource key allocated to taskKey, or ""
// if the task has no ready allocation.
func (a *ResourceAllocator) GetAllocatedResource(taskKey string) string {
	return a.readyAllocation[taskKey]
}

// Use transitions a ready request into in-use: it looks up the allocation,
// performs resource.Use(units), and removes the entry from readyQueue /
// readyAllocation / readyUsage / resourcesCapacity bookkeeping.
func (a *ResourceAllocator) Use(taskKey string) error {
	units, ok := a.readyQueue[taskKey]
	if !ok {
		return ErrUnknownAllocation
	}
	resourceKey, ok := a.readyAllocation[taskKey]
	if !ok {
		return ErrUnknownAllocation
	}

	delete(a.readyQueue, taskKey)
	delete(a.readyAllocation, taskKey)
	a.readyUsage -= units

	if _, err := a.resources[resourceKey].Use(units); err != nil {
		return err
	}
	a.resourcesCapacity[resourceKey] -= units
	return nil
}

// Free delegates release to the named resource. It does not itself
// reconsider waiting requests; capacity change is detected on the next
// Update() call (spec.md §4.3).
func (a *ResourceAllocator) Free(resourceKey string, units int) error {
	return a.resources[resourceKey].Free(units)
}

// GetTimeToUpdate returns the shortest duration until any owned resource's
// state will change on its own, bounded by defaultPollCeiling.
func (a *ResourceAllocator) GetTimeToUpdate() time.Duration {
	ttu := defaultPollCeiling
	for _, r := range a.resources {
		if d := r.TimeToUpdate(); d != nil && *d < ttu {
			ttu = *d
		}
	}
	return ttu
}

// Update advances every owned resource and, if the observed capacity change
// plus outstanding-wait state calls for it, runs DequeueAndAllocate
// (spec.md §4.3 step 3).
func (a *ResourceAllocator) Update() bool {
	capacityChange := false

	for key, r := range a.resources {
		r.Update()
		capacity := r.FreeCapacity()
		if capacity > a.resourcesCapacity[key] {
			capacityChange = true
		}
		a.resourcesCapacity[key] = capacity
	}

	ranAllocation := false
	if (a.waitingRequests != 0 && capacityChange) ||
		(a.waitingRequests == 0 && len(a.waitingQueue) > 0) {
		a.dequeueAndAllocate()
		ranAllocation = true
	}

	a.waitingRequests = len(a.waitingQueue)
	return ranAllocation
}

// allocateResources attempts to assign every entry in readyQueue to a
// distinct resource using the largest-request-first / best-fit heuristic of
// spec.md §4.3 step 3: iterate the ready queue in decreasing units, and for
// each, pick the resource with the smallest free capacity that still has
// headroom (bin-packing discipline preserving large-capacity resources for
// future large requests). Returns the candidate allocation, the sum of
// units left unallocated, and the max remaining free capacity across
// resources under that candidate allocation.
func (a *ResourceAllocator) allocateResources() (map[string]string, int, int) {
	capacity := make(map[string]int, len(a.resourcesCapacity))
	for k, v := range a.resourcesCapacity {
		capacity[k] = v
	}

	type entry struct {
		taskKey string
		units   int
	}
	entries := make([]entry, 0, len(a.readyQueue))
	for k, v := range a.readyQueue {
		entries = append(entries, entry{taskKey: k, units: v})
	}
	// Max-heap by units; ties broken by task key for determinism.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].units != entries[j].units {
			return entries[i].units > entries[j].units
		}
		return entries[i].taskKey < entries[j].taskKey
	})

	resourceKeys := make([]string, 0, len(capacity))
	for k := range capacity {
		resourceKeys = append(resourceKeys, k)
	}

	allocation := make(map[string]string)
	for _, e := range entries {
		sort.Slice(resourceKeys, func(i, j int) bool {
			if capacity[resourceKeys[i]] != capacity[resourceKeys[j]] {
				return capacity[resourceKeys[i]] < capacity[resourceKeys[j]]
			}
			return resourceKeys[i] < resourceKeys[j]
		})

		placed := false
		for _, rk := range resourceKeys {
			if capacity[rk] >= e.units {
				allocation[e.taskKey] = rk
				capacity[rk] -= e.units
				placed = true
				break
			}
		}
		if !placed {
			break // cannot allocate any more requests
		}
	}

	unallocatedUnits := 0
	for _, e := range entries {
		if _, ok := allocation[e.taskKey]; !ok {
			unallocatedUnits += e.units
		}
	}

	maxCapacity := 0
	for _, v := range capacity {
		if v > maxCapacity {
			maxCapacity = v
		}
	}

	return allocation, unallocatedUnits, maxCapacity
}

// DequeueAndAllocate implements spec.md §4.3's allocation algorithm exactly:
// drain the waiting queue into a transit stack while requests can plausibly
// fit, attempt a concrete best-fit assignment, and on failure requeue the
// transit-stack tail (in reverse, to preserve FIFO) until a valid assignment
// is found or the ready queue is exhausted. Grounded on
// original_source/resource_allocator/__init__.py: dequeue_and_allocate.
func (a *ResourceAllocator) dequeueAndAllocate() {
	// netCapacity is the constant total free capacity observed at the start
	// of this call (Σ resourcesCapacity); workingCapacity is the decrementing
	// local used only by the initial greedy drain, mirroring the original's
	// net_capacity vs. _net_capacity distinction.
	netCapacity := 0
	maxCapacity := 0
	for _, c := range a.resourcesCapacity {
		netCapacity += c
		if c > maxCapacity {
			maxCapacity = c
		}
	}
	workingCapacity := netCapacity - a.readyUsage

	var transitStack []string

	dequeueNext := func() {
		req := a.waitingQueue[0]
		a.waitingQueue = a.waitingQueue[1:]
		a.readyQueue[req.taskKey] = req.units
		a.readyUsage += req.units
	}

	for len(a.waitingQueue) > 0 {
		next := a.waitingQueue[0]
		if next.units > maxCapacity || next.units > workingCapacity {
			break
		}
		dequeueNext()
		transitStack = append(transitStack, next.taskKey)
		workingCapacity -= next.units
	}

	a.readyAllocation = nil

	for {
		allocation, unallocated, newMax := a.allocateResources()

		if unallocated == 0 {
			a.readyAllocation = allocation

			if len(a.waitingQueue) == 0 {
				return
			}

			next := a.waitingQueue[0]
			if next.units > newMax || a.readyUsage+next.units > netCapacity {
				return
			}

			dequeueNext()
			transitStack = append(transitStack, next.taskKey)
			continue
		}

		if a.readyAllocation != nil {
			return // optimal solution found in a previous iteration
		}

		// Requeue unallocated requests from the transit stack, most
		// recently dequeued first, preserving original arrival order.
		for unallocated > 0 {
			n := len(transitStack)
			taskKey := transitStack[n-1]
			transitStack = transitStack[:n-1]

			units := a.readyQueue[taskKey]
			delete(a.readyQueue, taskKey)
			unallocated -= units
			a.readyUsage -= units

			a.waitingQueue = append([]waitingRequest{{taskKey: taskKey, units: units}}, a.waitingQueue...)
		}
	}
}

// IsUnsatisfiable reports whether units could never be satisfied by any
// resource currently registered under this allocator, regardless of future
// capacity release (spec.md §4.3 edge case: exposed so callers can detect
// and report a request that can never be dequeued).
func (a *ResourceAllocator) IsUnsatisfiable(units int) bool {
	type capacitor interface{ Capacity() int }
	for _, r := range a.resources {
		if c, ok := r.(capacitor); ok && c.Capacity() >= units {
			return false
		}
	}
	return true
}

// ReadyUsage returns the sum of units currently in the ready queue.
func (a *ResourceAllocator) ReadyUsage() int { return a.readyUsage }

// WaitingLen returns the number of outstanding waiting requests.
func (a *ResourceAllocator) WaitingLen() int { return len(a.waitingQueue) }
