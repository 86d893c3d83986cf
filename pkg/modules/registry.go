package modules

import (
	"errors"
	"sync"
)

// Sentinel is the reserved head pointer of the module list. It is never a
// real module; traversal starts from it and an empty next pointer never
// appears, so "no module" and "end of list" stay distinguishable.
const Sentinel = "0x0000000000000000000000000000000000000001"

var (
	// ErrInvalidModule indicates an empty or sentinel module address
	ErrInvalidModule = errors.New("invalid module address")

	// ErrModuleEnabled indicates the module is already in the registry
	ErrModuleEnabled = errors.New("module already enabled")

	// ErrModuleNotEnabled indicates the module is not in the registry
	ErrModuleNotEnabled = errors.New("module not enabled")

	// ErrInvalidPredecessor indicates prev does not point at the module
	ErrInvalidPredecessor = errors.New("predecessor does not match module")
)

// Registry is the set of callers authorized to schedule timelock
// operations, kept as a singly-linked list headed by the sentinel. Add and
// remove are O(1); enumeration is paginated so callers never walk an
// unbounded list in one shot.
type Registry struct {
	next  map[string]string
	count int
	mutex sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		next: map[string]string{Sentinel: Sentinel},
	}
}

// Add enables a module. The new module is linked in directly behind the
// sentinel, so enumeration returns modules in reverse insertion order.
func (r *Registry) Add(module string) error {
	if module == "" || module == Sentinel {
		return ErrInvalidModule
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.next[module]; exists {
		return ErrModuleEnabled
	}
	r.next[module] = r.next[Sentinel]
	r.next[Sentinel] = module
	r.count++
	return nil
}

// Remove disables a module. prev must be the module's current predecessor
// in the list (the sentinel for the most recently added module).
func (r *Registry) Remove(prev, module string) error {
	if module == "" || module == Sentinel {
		return ErrInvalidModule
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.next[module]; !exists {
		return ErrModuleNotEnabled
	}
	if r.next[prev] != module {
		return ErrInvalidPredecessor
	}
	r.next[prev] = r.next[module]
	delete(r.next, module)
	r.count--
	return nil
}

// IsEnabled checks whether a module is in the registry.
func (r *Registry) IsEnabled(module string) bool {
	if module == "" || module == Sentinel {
		return false
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, exists := r.next[module]
	return exists
}

// Count returns the number of enabled modules.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.count
}

// Snapshot captures the current list and returns a function that restores
// it. Used to roll the registry back when a batched operation touching the
// module set fails partway.
func (r *Registry) Snapshot() func() {
	r.mutex.RLock()
	next := make(map[string]string, len(r.next))
	for k, v := range r.next {
		next[k] = v
	}
	count := r.count
	r.mutex.RUnlock()

	return func() {
		r.mutex.Lock()
		defer r.mutex.Unlock()

		r.next = next
		r.count = count
	}
}

// Paginated walks the list from start (the sentinel, or a previously
// returned cursor) and returns up to limit modules plus the cursor to
// continue from. A returned cursor equal to the sentinel means the
// enumeration is complete.
func (r *Registry) Paginated(start string, limit int) ([]string, string, error) {
	if start != Sentinel && !r.IsEnabled(start) {
		return nil, "", ErrModuleNotEnabled
	}
	if limit <= 0 {
		return nil, "", errors.New("page limit must be positive")
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	page := make([]string, 0, limit)
	current := r.next[start]
	for current != Sentinel && len(page) < limit {
		page = append(page, current)
		current = r.next[current]
	}
	// The cursor is the last module of the page, so the next call resumes
	// right after it.
	cursor := Sentinel
	if current != Sentinel {
		cursor = page[len(page)-1]
	}
	return page, cursor, nil
}
