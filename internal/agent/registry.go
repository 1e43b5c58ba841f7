package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownBackend is returned when a requested backend type is not registered.
var ErrUnknownBackend = errors.New("agent: unknown backend type") //nolint:gochecknoglobals // sentinel error

// Factory creates a Backend for a set of options.
type Factory func(opts Options) (Backend, error)

// Registry manages backend factories by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory for a backend type.
func (r *Registry) Register(backendType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[backendType] = factory
}

// Create instantiates a backend of the given type.
func (r *Registry) Create(backendType string, opts Options) (Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[backendType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("agent.Registry.Create(%q): %w", backendType, ErrUnknownBackend)
	}

	backend, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("agent.Registry.Create(%q): %w", backendType, err)
	}

	return backend, nil
}

// Available returns registered backend type names in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
