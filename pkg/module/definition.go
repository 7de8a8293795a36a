package module

import (
	"github.com/chazu/neuron/pkg/moduleid"
	"github.com/chazu/neuron/pkg/readiness"
)

// Exports is the container handed to a factory. A factory may fill it in or
// replace Instance.Exports with any other value.
type Exports map[string]any

// Factory initializes a module instance
type Factory func(require *Require, exports Exports, module *Instance, filename, dirname string) error

// Definition is the version and path specific description of a module.
// There is exactly one per full id, shared by every instance of it.
type Definition struct {
	// Name is the package name
	Name string

	// Version is the concrete package version
	Version string

	// Path is the module path inside the package, empty for the main entry
	Path string

	// ID is the full id, e.g. "a@1.0.0/lib/b.js"
	ID string

	// Key is the package key, e.g. "a@1.0.0"
	Key string

	// Main marks the package's main entry
	Main bool

	// Versions maps dependency names to the identifier used to require them
	Versions map[string]string

	// Map holds aliases from required ids to full ids. A nil Map marks a
	// legacy module whose relative requires get the default extension.
	Map map[string]string

	// Entries lists the full ids a deferred relative require may probe
	Entries []string

	// Deps are the ids the module requires synchronously. Their instances are
	// linked before the module is handed to a deferred request.
	Deps []string

	// Factory initializes instances; nil until the module is defined
	Factory Factory

	loading readiness.Queue
}

// DefineOptions carries the static metadata of a module definition
type DefineOptions struct {
	// Main marks the module as its package's main entry
	Main bool

	// Map holds aliases from required ids to full ids
	Map map[string]string

	// Versions maps dependency names to version specs
	Versions map[string]string

	// Entries lists the full ids a deferred relative require may probe
	Entries []string

	// Deps are the ids the module requires synchronously
	Deps []string
}

func newDefinition(id moduleid.ID) *Definition {
	return &Definition{
		Name:     id.Name,
		Version:  id.Version,
		Path:     id.Path,
		ID:       id.FullID(),
		Key:      id.Key(),
		Main:     id.IsMain(),
		Versions: map[string]string{},
	}
}

// Defined reports whether the module has a factory
func (d *Definition) Defined() bool {
	return d.Factory != nil
}

// Loading returns the queue that is notified once the module is defined
func (d *Definition) Loading() *readiness.Queue {
	return &d.loading
}

func (d *Definition) apply(factory Factory, opts DefineOptions) {
	d.Factory = factory
	if opts.Main {
		d.Main = true
	}
	d.Map = opts.Map
	if opts.Versions != nil {
		d.Versions = opts.Versions
	}
	d.Entries = opts.Entries
	d.Deps = opts.Deps
}

// adopt turns a placeholder created for a package key into the package's
// main entry main, keeping the placeholder's queue and instances
func (d *Definition) adopt(main *Definition) {
	d.Path = main.Path
	d.ID = main.ID
	d.Main = true
	d.Factory = main.Factory
	d.Map = main.Map
	d.Versions = main.Versions
	d.Entries = main.Entries
	d.Deps = main.Deps
}
