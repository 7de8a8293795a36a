package module

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/chazu/neuron/pkg/graph"
	"github.com/chazu/neuron/pkg/moduleid"
)

// DefaultExt is appended to relative requires of legacy modules
const DefaultExt = ".js"

// Options configures a Manager
type Options struct {
	// Graph is the resolution graph; nil resolves every package under the root
	Graph *graph.Graph

	// Loader gets modules defined; defaults to Immediate
	Loader Loader

	// Locator builds module URLs; defaults to the id with '@' turned into '/'
	Locator Locator

	// Hashes supplies content hashes for Require.Resolve
	Hashes HashSource

	// Ext is the default extension; defaults to DefaultExt
	Ext string

	// Logger receives V(1) resolution logs
	Logger logr.Logger
}

// Manager is the module manager facade
type Manager struct {
	registry *Registry
	selector *graph.Selector
	loader   Loader
	locator  Locator
	hashes   HashSource
	ext      string
	log      logr.Logger
}

// NewManager creates a Manager
func NewManager(opts Options) *Manager {
	m := &Manager{
		registry: NewRegistry(),
		selector: graph.NewSelector(opts.Graph),
		loader:   opts.Loader,
		locator:  opts.Locator,
		hashes:   opts.Hashes,
		ext:      opts.Ext,
		log:      opts.Logger,
	}
	if m.loader == nil {
		m.loader = Immediate
	}
	if m.locator == nil {
		m.locator = identityLocator
	}
	if m.hashes == nil {
		m.hashes = HashTable{}
	}
	if m.ext == "" {
		m.ext = DefaultExt
	}
	if m.log.GetSink() == nil {
		m.log = logr.Discard()
	}
	return m
}

// Registry returns the manager's registry
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Selector returns the manager's graph selector
func (m *Manager) Selector() *graph.Selector {
	return m.selector
}

// Define registers a module. id must be a full id carrying a concrete version.
func (m *Manager) Define(id string, factory Factory, opts DefineOptions) error {
	parsed, err := moduleid.Parse(id)
	if err != nil {
		return err
	}
	def, err := m.registry.Define(parsed, factory, opts)
	if err != nil {
		return err
	}
	m.log.V(1).Info("defined module", "id", def.ID, "main", def.Main)
	return nil
}

// Use requests a module from outside any module, the way a page's entry
// point would. Any module may be used this way, version pins included.
// cb receives the module's exports once it is ready.
func (m *Manager) Use(id string, cb func(any, error)) error {
	return m.async(id, nil, cb)
}

// Instance resolves id in env and returns its instance, creating it unless strict is set
func (m *Manager) Instance(id string, env *Instance, strict bool) (*Instance, error) {
	resolved, err := m.Resolve(id, env)
	if err != nil {
		return nil, err
	}
	def := m.registry.Definition(resolved.ID)
	inst, err := m.registry.Instance(def, resolved.Graph, strict)
	if err != nil {
		return nil, fmt.Errorf("%w (required as '%s')", err, id)
	}
	return inst, nil
}

// ready calls cb once inst is defined and the instances of its declared
// dependencies are, recursively, ready too
func (m *Manager) ready(inst *Instance, cb func()) {
	inst.unsettle()
	m.settle(inst)
	inst.settled.Wait(cb)
}

// settle starts loading inst, once
func (m *Manager) settle(inst *Instance) {
	if inst.settling {
		return
	}
	inst.settling = true
	m.loader.MarkForLoading(inst)
	m.loader.OnReady(inst, func() {
		m.link(inst)
	})
}

// link creates the instances of inst's declared dependencies and notifies
// inst's settled queue when all of them are settled. A dependency that is
// already waiting, directly or not, on inst closes a cycle and is not
// waited for.
func (m *Manager) link(inst *Instance) {
	if !inst.Defined() {
		inst.bare = true
		inst.settled.Notify()
		return
	}

	inst.waitingOn = make(map[*Instance]struct{})
	var deps []*Instance
	for _, id := range inst.Deps {
		dep, err := m.Instance(id, inst, false)
		if err != nil {
			m.log.V(1).Info("skipping unresolvable dependency", "module", inst.ID, "dep", id, "error", err.Error())
			continue
		}
		dep.unsettle()
		if dep == inst || dep.Settled() {
			continue
		}
		if _, ok := inst.waitingOn[dep]; ok {
			continue
		}
		if waitsFor(dep, inst) {
			m.log.V(1).Info("dependency cycle", "module", inst.ID, "dep", dep.ID)
			continue
		}
		inst.waitingOn[dep] = struct{}{}
		deps = append(deps, dep)
		m.settle(dep)
	}

	if len(inst.waitingOn) == 0 {
		inst.settled.Notify()
		return
	}
	for _, dep := range deps {
		dep.settled.Wait(func() {
			delete(inst.waitingOn, dep)
			if len(inst.waitingOn) == 0 {
				inst.settled.Notify()
			}
		})
	}
}

// waitsFor reports whether from waits, through any chain of unsettled
// dependencies, on to
func waitsFor(from, to *Instance) bool {
	seen := map[*Instance]bool{}
	stack := []*Instance{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for next := range cur.waitingOn {
			stack = append(stack, next)
		}
	}
	return false
}
