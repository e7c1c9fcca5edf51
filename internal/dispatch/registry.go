package dispatch

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps names to handlers registered at process start.
// It is safe for concurrent use.
type Registry[T any] struct {
	kind string

	mu       sync.RWMutex
	handlers map[string]T
}

// NewRegistry creates an empty registry. kind names the handler type in
// error messages ("activity", "orchestrator").
func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{kind: kind, handlers: make(map[string]T)}
}

// Register adds a handler. Names are unique.
func (r *Registry[T]) Register(name string, h T) error {
	if name == "" {
		return fmt.Errorf("%s name is required", r.kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%s %q already registered", r.kind, name)
	}
	r.handlers[name] = h
	return nil
}

// Get returns the handler registered under name.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered names in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
