package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[string]*Mapping)
	registryMu sync.RWMutex
)

// Register adds a mapping to the registry.
// Panics if a mapping with the same name is already registered.
func Register(m *Mapping) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[m.Name]; exists {
		panic(fmt.Sprintf("mapping already registered: %s", m.Name))
	}
	registry[m.Name] = m
}

// Replace swaps the whole registry for mappings in one step, so readers
// see either the old set or the new one. Duplicate names are rejected and
// leave the registry unchanged.
func Replace(mappings []*Mapping) error {
	next := make(map[string]*Mapping, len(mappings))
	for _, m := range mappings {
		if _, exists := next[m.Name]; exists {
			return fmt.Errorf("mapping already registered: %s", m.Name)
		}
		next[m.Name] = m
	}

	registryMu.Lock()
	registry = next
	registryMu.Unlock()
	return nil
}

// Get returns a mapping by name.
// Returns false if not found.
func Get(name string) (*Mapping, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	m, ok := registry[name]
	return m, ok
}

// All returns all registered mappings sorted by name.
func All() []*Mapping {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]*Mapping, 0, len(registry))
	for _, m := range registry {
		result = append(result, m)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Count returns the number of registered mappings.
func Count() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered mappings.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]*Mapping)
}
