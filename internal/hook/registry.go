// Package hook provides named value-transform functions applied to raw values
// extracted from source documents before they are stored.
//
// A Registry maps hook names to functions. NewRegistry returns a registry
// seeded with the built-in hooks; Default returns the process-wide registry
// used when a mapper is not given one explicitly.
package hook

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when a hook name has no registered function.
var ErrNotFound = errors.New("hook not found")

// Func transforms one extracted value. Returning an error rejects the value.
type Func func(value any) (any, error)

// Hook is a resolved registry entry.
type Hook struct {
	Name string
	Fn   Func
}

// Apply runs the hook. A nil hook passes the value through.
func (h *Hook) Apply(value any) (any, error) {
	if h == nil || h.Fn == nil {
		return value, nil
	}
	return h.Fn(value)
}

// NotFoundError names the hook that could not be resolved.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("hook not found: %q", e.Name)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Registry maps hook names to functions. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	hooks map[string]*Hook
}

// NewRegistry returns a registry seeded with the built-in hooks.
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	for name, fn := range builtins() {
		r.hooks[name] = &Hook{Name: name, Fn: fn}
	}
	return r
}

// NewEmptyRegistry returns a registry without any hooks.
func NewEmptyRegistry() *Registry {
	return &Registry{hooks: make(map[string]*Hook)}
}

// Register stores fn under name, replacing any previous entry.
func (r *Registry) Register(name string, fn Func) {
	if name == "" {
		panic("hook: empty name")
	}
	if fn == nil {
		panic(fmt.Sprintf("hook: nil function for %q", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[name] = &Hook{Name: name, Fn: fn}
}

// RegisterString registers a hook that only deals with text values.
// Non-string input is formatted with %v first.
func (r *Registry) RegisterString(name string, fn func(string) string) {
	r.Register(name, func(value any) (any, error) {
		return fn(toString(value)), nil
	})
}

// Resolve returns the hook registered under name.
func (r *Registry) Resolve(name string) (*Hook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.hooks[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return h, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, err := r.Resolve(name)
	return err == nil
}

// Names returns all registered hook names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.hooks))
	for name := range r.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered hooks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks)
}

// Clone returns an independent copy of the registry. Tests use it to add
// private hooks without touching the shared registry.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := NewEmptyRegistry()
	for name, h := range r.hooks {
		c.hooks[name] = h
	}
	return c
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds fn to the process-wide registry.
func Register(name string, fn Func) {
	defaultRegistry.Register(name, fn)
}
