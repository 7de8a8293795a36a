package module

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/chazu/neuron/pkg/metrics"
	"github.com/chazu/neuron/pkg/moduleid"
)

// Require is the require function handed to a module's factory. Every
// identifier it receives is resolved in the environment of that module.
type Require struct {
	m   *Manager
	env *Instance
}

func (m *Manager) newRequire(env *Instance) *Require {
	return &Require{m: m, env: env}
}

// Require returns the exports of an already linked module, initializing it
// if needed. Identifiers may not carry a version.
func (r *Require) Require(id string) (any, error) {
	if moduleid.HasVersion(id) {
		return nil, fmt.Errorf("%w: %s", ErrVersionPinForbidden, id)
	}
	inst, err := r.m.Instance(id, r.env, true)
	if err != nil {
		return nil, err
	}
	return r.m.ExportsOf(inst)
}

// Async loads a module and passes its exports to cb once it is ready.
// Only main entries of other packages, or modules of the requiring module's
// own package, may be loaded this way. Any other request is dropped without
// calling cb.
func (r *Require) Async(id string, cb func(any, error)) error {
	return r.m.async(id, r.env, cb)
}

func (m *Manager) async(id string, env *Instance, cb func(any, error)) error {
	if cb == nil {
		return nil
	}
	if moduleid.HasVersion(id) && env != nil {
		return fmt.Errorf("%w: %s", ErrVersionPinForbidden, id)
	}

	origin := id
	relative := moduleid.IsRelative(id)
	if relative && env != nil {
		id = m.resolveID(id, env)
		if env.Entries != nil {
			probed, ok := probeEntries(id, env.Entries, m.ext)
			if !ok {
				return notFound(origin)
			}
			id = probed
		} else {
			id = m.legacy(id, env)
		}
	}

	inst, err := m.Instance(id, env, false)
	if err != nil {
		return err
	}

	if !inst.Main && env != nil {
		if !relative {
			m.log.V(1).Info("refusing deferred request for non-entry module", "id", origin, "resolved", inst.ID)
			metrics.RecordAsyncRefused()
			return nil
		}
		inst.Async = true
	}

	m.ready(inst, func() {
		cb(m.ExportsOf(inst))
	})
	return nil
}

func probeEntries(id string, entries []string, ext string) (string, bool) {
	for _, candidate := range []string{id, id + ext, id + ".json"} {
		if slices.Contains(entries, candidate) {
			return candidate, true
		}
	}
	return "", false
}

// Resolve returns the URL of a file inside the requiring module's package,
// with the file's content hash in its name when one is known. Only relative
// paths that stay inside the package resolve.
func (r *Require) Resolve(p string) (string, bool) {
	if !moduleid.IsRelative(p) {
		return "", false
	}

	p = moduleid.ResolvePath(p, r.env.Path)
	if moduleid.Escapes(p) {
		return "", false
	}

	if hash, ok := r.m.hashes.Hash(r.env.Key, p); ok {
		p = appendHash(p, hash)
	}
	return r.m.locator.ModuleURL(r.env.Key + "/" + p), true
}

// appendHash turns "dir/name.ext" into "dir/name_<hash>.ext"
func appendHash(p, hash string) string {
	ext := path.Ext(p)
	return strings.TrimSuffix(p, ext) + "_" + hash + ext
}
