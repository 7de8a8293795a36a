package loader

import (
	"errors"
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	schemas "github.com/chazu/neuron/cue"
	"github.com/chazu/neuron/pkg/module"
)

// ErrInvalidManifest is returned when a package manifest does not satisfy #Package
var ErrInvalidManifest = errors.New("invalid package manifest")

// Manifest is a decoded package manifest
type Manifest struct {
	Name    string                `json:"name"`
	Version string                `json:"version"`
	Modules map[string]ModuleSpec `json:"modules"`
	Hashes  map[string]string     `json:"hashes"`
}

// ModuleSpec describes one module of a manifest
type ModuleSpec struct {
	Main     bool              `json:"main"`
	Factory  string            `json:"factory"`
	Map      map[string]string `json:"map,omitempty"`
	Versions map[string]string `json:"versions"`
	Entries  []string          `json:"entries"`
	Deps     []string          `json:"deps"`
}

// Key returns the package key of the manifest
func (m *Manifest) Key() string {
	return m.Name + "@" + m.Version
}

// ModuleID returns the full id of the module at path
func (m *Manifest) ModuleID(path string) string {
	if path == "" {
		return m.Key()
	}
	return m.Key() + "/" + path
}

// Paths returns the module paths of the manifest, sorted
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Modules))
	for p := range m.Modules {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Options returns the define options of the module at path
func (s ModuleSpec) Options() module.DefineOptions {
	return module.DefineOptions{
		Main:     s.Main,
		Map:      s.Map,
		Versions: s.Versions,
		Entries:  s.Entries,
		Deps:     s.Deps,
	}
}

// Compiler compiles manifests against the embedded #Package schema.
// A Compiler is not safe for concurrent use.
type Compiler struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewCompiler creates a Compiler
func NewCompiler() (*Compiler, error) {
	src, err := schemas.SchemaFS.ReadFile(schemas.PackageSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to read package schema: %w", err)
	}

	ctx := cuecontext.New()
	file := ctx.CompileBytes(src, cue.Filename(schemas.PackageSchema))
	if file.Err() != nil {
		return nil, fmt.Errorf("failed to compile package schema: %w", file.Err())
	}

	schema := file.LookupPath(cue.ParsePath("#Package"))
	if !schema.Exists() {
		return nil, fmt.Errorf("#Package definition not found in %s", schemas.PackageSchema)
	}

	return &Compiler{ctx: ctx, schema: schema}, nil
}

// Compile decodes content into a Manifest. source names the content in
// error messages.
func (c *Compiler) Compile(content []byte, source string) (*Manifest, error) {
	value := c.ctx.CompileBytes(content, cue.Filename(source))
	if value.Err() != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, source, value.Err())
	}

	unified := c.schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, source, err)
	}

	var manifest Manifest
	if err := unified.Decode(&manifest); err != nil {
		return nil, fmt.Errorf("%w: %s: failed to decode: %w", ErrInvalidManifest, source, err)
	}

	return &manifest, nil
}

// Definer registers modules; *module.Manager is a Definer
type Definer interface {
	Define(id string, factory module.Factory, opts module.DefineOptions) error
}

// Define registers every module of the manifest with factories looked up in
// table. Modules already defined are skipped. It returns the ids defined.
func (m *Manifest) Define(d Definer, table *Factories) ([]string, error) {
	// resolve every factory first so a bad manifest defines nothing
	factories := make(map[string]module.Factory, len(m.Modules))
	for _, p := range m.Paths() {
		factory, err := table.Lookup(m.Modules[p].Factory)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: module %q: %w", ErrInvalidManifest, m.Key(), p, err)
		}
		factories[p] = factory
	}

	var defined []string
	for _, p := range m.Paths() {
		id := m.ModuleID(p)
		err := d.Define(id, factories[p], m.Modules[p].Options())
		switch {
		case errors.Is(err, module.ErrAlreadyDefined):
			continue
		case err != nil:
			return defined, fmt.Errorf("failed to define %s: %w", id, err)
		}
		defined = append(defined, id)
	}
	return defined, nil
}
