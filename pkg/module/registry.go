package module

import (
	"fmt"

	"github.com/chazu/neuron/pkg/graph"
	"github.com/chazu/neuron/pkg/metrics"
	"github.com/chazu/neuron/pkg/moduleid"
)

// Registry owns module definitions and the per-subgraph instance tables
type Registry struct {
	defs      map[string]*Definition
	instances map[*graph.Subgraph]map[string]*Instance
	guid      uint64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		defs:      make(map[string]*Definition),
		instances: make(map[*graph.Subgraph]map[string]*Instance),
	}
}

// Definition returns the definition for id, creating an undefined one on first access
func (r *Registry) Definition(id moduleid.ID) *Definition {
	full := id.FullID()
	if def, ok := r.defs[full]; ok {
		return def
	}
	def := newDefinition(id)
	r.defs[full] = def
	return def
}

// Lookup returns the definition registered under a full id or package key
func (r *Registry) Lookup(fullID string) (*Definition, bool) {
	def, ok := r.defs[fullID]
	return def, ok
}

// Define attaches a factory and metadata to the definition of id. A main entry
// defined with a path is also registered under its package key, so requiring
// the bare package reaches it.
func (r *Registry) Define(id moduleid.ID, factory Factory, opts DefineOptions) (*Definition, error) {
	if factory == nil {
		return nil, fmt.Errorf("module %s: factory cannot be nil", id.FullID())
	}

	def := r.Definition(id)
	if def.Defined() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyDefined, def.ID)
	}
	def.apply(factory, opts)

	if def.Main && def.Path != "" {
		pkg, ok := r.defs[def.Key]
		switch {
		case !ok:
			r.defs[def.Key] = def
		case !pkg.Defined():
			// Someone asked for the package before its main entry arrived
			pkg.adopt(def)
			defer pkg.loading.Notify()
		}
	}

	def.loading.Notify()
	return def, nil
}

// Instance returns the instance of def within sg. Main entries are keyed by
// package key, so every path that reaches a package's main entry shares one
// instance. With strict set, a missing instance is an error instead of being created.
func (r *Registry) Instance(def *Definition, sg *graph.Subgraph, strict bool) (*Instance, error) {
	realKey := def.ID
	if def.Main {
		realKey = def.Key
	}

	table, ok := r.instances[sg]
	if !ok {
		table = make(map[string]*Instance)
		r.instances[sg] = table
	}

	if inst, ok := table[realKey]; ok {
		return inst, nil
	}
	if strict {
		return nil, notFound(def.ID)
	}

	r.guid++
	inst := &Instance{
		Definition: def,
		Graph:      sg,
		GUID:       r.guid,
	}
	table[realKey] = inst
	metrics.RecordInstanceCreated()
	return inst, nil
}

// Instances returns the number of instances living in sg
func (r *Registry) Instances(sg *graph.Subgraph) int {
	return len(r.instances[sg])
}
