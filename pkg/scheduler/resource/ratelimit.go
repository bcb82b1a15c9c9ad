package resource

import (
	"container/list"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WindowCapacity pairs a sliding window duration with the capacity enforced
// over that window; used to build a RateLimit chain via NewRateLimitChain.
type WindowCapacity struct {
	Window   time.Duration
	Capacity int
}

// rateLimitEntry is a (releaseTimestamp, units) pair queued on a node's
// updateQueue: the units remain charged to that node until releaseTimestamp.
type rateLimitEntry struct {
	releaseAt time.Time
	units     int
}

// RateLimit is one node of a chained sliding-window resource (spec.md §3/§4.2).
// Only the deepest node (the one with the smallest window) actually performs
// Use; Free defers release by enqueuing onto the deepest node's updateQueue,
// and Update migrates expired entries outward to the parent.
type RateLimit struct {
	key      string
	window   time.Duration
	capacity int
	usage    int

	updateQueue *list.List // of rateLimitEntry, ordered oldest-first

	parent *RateLimit
	child  *RateLimit

	now func() time.Time
}

// NewRateLimitChain builds a chain of RateLimit nodes from ascending
// (window, capacity) pairs, smallest first. Per spec.md §3, each outer node
// must have strictly larger window and capacity than its child; this is
// asserted here the same way the Python original asserts it in
// init_resource, just surfaced as a panic at construction time rather than
// a later logic error, since a malformed chain is a programmer error.
func NewRateLimitChain(pairs []WindowCapacity, key string) *RateLimit {
	if len(pairs) == 0 {
		panic("resource: NewRateLimitChain requires at least one window/capacity pair")
	}
	if key == "" {
		key = uuid.NewString()
	}

	var head, prev *RateLimit
	for i, p := range pairs {
		if i > 0 {
			if p.Window <= pairs[i-1].Window || p.Capacity <= pairs[i-1].Capacity {
				panic(fmt.Sprintf("resource: rate limit chain pair %d must have strictly larger window and capacity than its child", i))
			}
		}
		node := &RateLimit{
			window:      p.Window,
			capacity:    p.Capacity,
			updateQueue: list.New(),
			now:         time.Now,
		}
		if prev != nil {
			node.child = prev
			prev.parent = node
		} else {
			head = node
		}
		prev = node
	}
	// The externally visible key belongs to the chain as a whole; assign it
	// to the deepest (child-most) node since that is the node callers Use
	// and Free against.
	deepest := head
	for deepest.child != nil {
		deepest = deepest.child
	}
	deepest.key = key
	return deepest
}

func (r *RateLimit) Key() string { return r.key }

// hasFreeCapacityChain reports whether every node from r up through the root
// has headroom for n more units — spec.md §4.2: "hasFreeCapacity walks the
// entire chain and returns true only if every node has headroom."
func (r *RateLimit) hasFreeCapacityChain(n int) bool {
	for node := r; node != nil; node = node.parent {
		if node.capacity-node.usage < n {
			return false
		}
	}
	return true
}

func (r *RateLimit) HasFreeCapacity(n int) bool { return r.hasFreeCapacityChain(n) }

func (r *RateLimit) FreeCapacity() int {
	min := r.capacity - r.usage
	for node := r.parent; node != nil; node = node.parent {
		if free := node.capacity - node.usage; free < min {
			min = free
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// Use is delegated to the deepest child per spec.md §4.2: usage is charged at
// every node in the chain simultaneously (the deepest node's usage being the
// authoritative "in use" count, ancestors tracking outward-migrated charge).
func (r *RateLimit) Use(n int) (string, error) {
	if !r.hasFreeCapacityChain(n) {
		return "", fmt.Errorf("%w: rate limit %s requested %d", ErrInsufficientCapacity, r.key, n)
	}
	for node := r; node != nil; node = node.parent {
		node.usage += n
	}
	return r.key, nil
}

// Free enqueues (now, n) on the deepest node's updateQueue without
// immediately decrementing usage: the n units remain charged until the
// window elapses (spec.md §4.2, "deferred release").
func (r *RateLimit) Free(n int) error {
	if n == 0 {
		return nil
	}
	if r.usage < n {
		return fmt.Errorf("%w: rate limit %s freeing %d, outstanding %d", ErrDoubleFree, r.key, n, r.usage)
	}
	r.updateQueue.PushBack(rateLimitEntry{releaseAt: r.now().Add(r.window), units: n})
	return nil
}

// Update advances every node bottom-up: entries whose release time has
// passed are popped, decremented from that node's usage, and (if a parent
// exists) re-enqueued on the parent's updateQueue so the charge migrates
// outward instead of disappearing. Returns true if any node changed state.
func (r *RateLimit) Update() bool {
	changed := false
	now := r.now()

	// Walk from the deepest node outward so a unit released at the child
	// can migrate to the parent within the same Update call.
	nodes := make([]*RateLimit, 0, 4)
	for node := r; node != nil; node = node.parent {
		nodes = append(nodes, node)
	}

	for _, node := range nodes {
		for node.updateQueue.Len() > 0 {
			front := node.updateQueue.Front()
			entry := front.Value.(rateLimitEntry)
			if entry.releaseAt.After(now) {
				break
			}
			node.updateQueue.Remove(front)
			node.usage -= entry.units
			changed = true
			if node.parent != nil {
				// The parent's usage already carries this charge from the
				// original Use() call, which added n to every node in the
				// chain at once - re-enqueue only so the parent later knows
				// when to subtract it, never add it again here.
				node.parent.updateQueue.PushBack(rateLimitEntry{releaseAt: entry.releaseAt.Add(node.parent.window - node.window), units: entry.units})
			}
		}
	}
	return changed
}

// TimeToUpdate returns the time until the earliest queued entry anywhere in
// the chain expires, or nil if every updateQueue is empty.
func (r *RateLimit) TimeToUpdate() *time.Duration {
	now := r.now()
	var min *time.Duration

	for node := r; node != nil; node = node.parent {
		if node.updateQueue.Len() == 0 {
			continue
		}
		entry := node.updateQueue.Front().Value.(rateLimitEntry)
		d := entry.releaseAt.Sub(now)
		if d < 0 {
			d = 0
		}
		if min == nil || d < *min {
			min = &d
		}
	}
	return min
}

// Usage returns the deepest node's current (undeferred) usage count.
func (r *RateLimit) Usage() int { return r.usage }

// Capacity returns the deepest node's declared capacity.
func (r *RateLimit) Capacity() int { return r.capacity }
