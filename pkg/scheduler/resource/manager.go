package resource

import "time"

// Manager aggregates ResourceAllocators by alias (spec.md §4.4), fanning
// out registration, allocation, and release across every alias a task
// depends on and computing the earliest update deadline across all of them.
type Manager struct {
	allocators map[string]*ResourceAllocator
}

// NewManager constructs an empty ResourceManager.
func NewManager() *Manager {
	return &Manager{allocators: make(map[string]*ResourceAllocator)}
}

// RegisterAllocator adds an allocator under its own alias.
func (m *Manager) RegisterAllocator(a *ResourceAllocator) {
	m.allocators[a.Alias()] = a
}

// RegisterResource adds resource under alias, auto-creating the allocator
// for that alias on first use (spec.md §4.4).
func (m *Manager) RegisterResource(alias string, r Resource) {
	a, ok := m.allocators[alias]
	if !ok {
		a = NewResourceAllocator(alias)
		m.allocators[alias] = a
	}
	a.RegisterResource(r)
}

// RegisterRequest fans a task's multi-alias resource usage out to each
// allocator that owns one of the requested aliases.
func (m *Manager) RegisterRequest(taskKey string, usage map[string]int) {
	for alias, units := range usage {
		if a, ok := m.allocators[alias]; ok {
			a.RegisterRequest(taskKey, units)
		}
	}
}

// GetAllocatedResources returns the alias->resourceKey allocation for
// taskKey across usage's aliases, or nil if any alias is not yet allocated.
func (m *Manager) GetAllocatedResources(taskKey string, usage map[string]int) map[string]string {
	allocated := make(map[string]string, len(usage))
	for alias := range usage {
		a, ok := m.allocators[alias]
		if !ok {
			return nil
		}
		resourceKey := a.GetAllocatedResource(taskKey)
		if resourceKey == "" {
			return nil
		}
		allocated[alias] = resourceKey
	}
	return allocated
}

// UseResources transitions every aliased allocation from ready to in-use.
func (m *Manager) UseResources(taskKey string, allocated map[string]string) error {
	for alias := range allocated {
		if a, ok := m.allocators[alias]; ok {
			if err := a.Use(taskKey); err != nil {
				return err
			}
		}
	}
	return nil
}

// FreeResources releases usage's units against the resources named in
// allocated, fanning out per alias.
func (m *Manager) FreeResources(usage map[string]int, allocated map[string]string) error {
	for alias, units := range usage {
		resourceKey, ok := allocated[alias]
		if !ok {
			continue
		}
		if a, ok := m.allocators[alias]; ok {
			if err := a.Free(resourceKey, units); err != nil {
				return err
			}
		}
	}
	return nil
}

// Update advances every allocator and returns the set of aliases whose
// allocator reported a state change this tick.
func (m *Manager) Update() map[string]struct{} {
	updated := make(map[string]struct{})
	for alias, a := range m.allocators {
		if a.Update() {
			updated[alias] = struct{}{}
		}
	}
	return updated
}

// GetTimeToUpdate returns the minimum next-update deadline across every
// registered allocator.
func (m *Manager) GetTimeToUpdate() time.Duration {
	min := defaultPollCeiling
	for _, a := range m.allocators {
		if d := a.GetTimeToUpdate(); d < min {
			min = d
		}
	}
	return min
}

// UseOrQueueResources registers taskKey's request against every aliased
// allocator, runs allocation, and returns either a complete allocation (nil
// resourceConstraints) or the set of aliases that could not be satisfied
// immediately (resourceConstraints populated, caller should block the task).
func (m *Manager) UseOrQueueResources(taskKey string, usage map[string]int) (map[string]string, map[string]struct{}) {
	m.RegisterRequest(taskKey, usage)
	for alias := range usage {
		if a, ok := m.allocators[alias]; ok {
			a.Update()
		}
	}

	allocated := m.GetAllocatedResources(taskKey, usage)
	if allocated != nil {
		return allocated, nil
	}

	constraints := make(map[string]struct{})
	for alias := range usage {
		a, ok := m.allocators[alias]
		if !ok || a.GetAllocatedResource(taskKey) == "" {
			constraints[alias] = struct{}{}
		}
	}
	return nil, constraints
}

// UseFromQueuedResources re-attempts an allocation for a previously blocked
// task against its outstanding constrained aliases. Returns the full
// allocation and an empty constraint set on success, or the still-failing
// aliases otherwise.
func (m *Manager) UseFromQueuedResources(taskKey string, usage map[string]int, constraints map[string]struct{}) (map[string]string, map[string]struct{}) {
	allocated := m.GetAllocatedResources(taskKey, usage)
	if allocated == nil {
		remaining := make(map[string]struct{})
		for alias := range constraints {
			if a, ok := m.allocators[alias]; !ok || a.GetAllocatedResource(taskKey) == "" {
				remaining[alias] = struct{}{}
			}
		}
		return nil, remaining
	}
	return allocated, map[string]struct{}{}
}

// UnsatisfiableAliases returns every alias in usage whose allocator can
// never satisfy the requested unit count, regardless of how long the
// caller waits (spec.md §7 "allocation-impossible reporting").
func (m *Manager) UnsatisfiableAliases(usage map[string]int) []string {
	var bad []string
	for alias, units := range usage {
		if a, ok := m.allocators[alias]; ok && a.IsUnsatisfiable(units) {
			bad = append(bad, alias)
		}
	}
	return bad
}

// Allocator returns the allocator registered for alias, or nil.
func (m *Manager) Allocator(alias string) *ResourceAllocator { return m.allocators[alias] }

// Aliases returns every registered alias.
func (m *Manager) Aliases() []string {
	aliases := make([]string, 0, len(m.allocators))
	for alias := range m.allocators {
		aliases = append(aliases, alias)
	}
	return aliases
}
