package loader

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chazu/neuron/pkg/module"
)

// Factories maps the factory names used in manifests to module factories
type Factories struct {
	mu        sync.RWMutex
	factories map[string]module.Factory
	fallback  module.Factory
}

// NewFactories creates an empty factory table
func NewFactories() *Factories {
	return &Factories{factories: make(map[string]module.Factory)}
}

// Register adds a factory under name, replacing any previous one
func (f *Factories) Register(name string, factory module.Factory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.factories[name] = factory
}

// SetFallback sets the factory Lookup returns for unregistered names
func (f *Factories) SetFallback(factory module.Factory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = factory
}

// Lookup returns the factory registered under name
func (f *Factories) Lookup(name string) (module.Factory, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	factory, ok := f.factories[name]
	switch {
	case ok:
		return factory, nil
	case f.fallback != nil:
		return f.fallback, nil
	}
	return nil, fmt.Errorf("no factory registered as %q", name)
}

// Names returns the registered factory names, sorted
func (f *Factories) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.factories))
	for name := range f.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
