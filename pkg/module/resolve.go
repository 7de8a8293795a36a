package module

import (
	"strings"

	"github.com/chazu/neuron/pkg/graph"
	"github.com/chazu/neuron/pkg/metrics"
	"github.com/chazu/neuron/pkg/moduleid"
)

// Resolved is an identifier bound to the subgraph it must be instantiated in
type Resolved struct {
	ID    moduleid.ID
	Graph *graph.Subgraph
}

// Resolve turns id, as required from env, into a version-pinned identifier
// and the subgraph governing it. env is nil for requests from outside any
// module. Resolve never touches the network or the filesystem.
func (m *Manager) Resolve(id string, env *Instance) (Resolved, error) {
	kind := "absolute"
	if moduleid.IsRelative(id) {
		kind = "relative"
	}

	resolved, err := m.resolve(id, env)
	if err != nil {
		metrics.RecordResolution(kind, "failure")
		return Resolved{}, err
	}
	metrics.RecordResolution(kind, "success")
	m.log.V(1).Info("resolved module", "id", id, "resolved", resolved.ID.FullID(), "graph", resolved.Graph.ID)
	return resolved, nil
}

func (m *Manager) resolve(id string, env *Instance) (Resolved, error) {
	if id == "" {
		return Resolved{}, ErrMalformedIdentifier
	}

	if env != nil {
		if alias, ok := env.Map[id]; ok && alias != "" {
			id = alias
		}
	}

	var (
		parsed moduleid.ID
		err    error
	)
	if moduleid.IsRelative(id) {
		if env == nil || env.ID == "" {
			return Resolved{}, notFound(id)
		}
		parsed, err = moduleid.Parse(m.legacy(m.resolveID(id, env), env))
	} else {
		parsed, err = moduleid.Parse(applyVersions(id, env))
	}
	if err != nil {
		return Resolved{}, err
	}

	// Modules of the same package share its subgraph
	if env != nil && parsed.Key() == env.Key {
		return Resolved{ID: parsed, Graph: env.Graph}, nil
	}

	var ctx *graph.Subgraph
	if env != nil {
		ctx = env.Graph
	}
	sg := m.selector.Select(parsed.Key(), parsed.Name, ctx)
	if sg.Version != "" {
		parsed.Version = sg.Version
	}
	return Resolved{ID: parsed, Graph: sg}, nil
}

// resolveID joins a relative path onto env's package key
func (m *Manager) resolveID(rel string, env *Instance) string {
	p := moduleid.ResolvePath(rel, env.Path)
	if p == "" {
		return env.Key
	}
	return env.Key + "/" + p
}

// legacy appends the default extension for modules defined without an alias map
func (m *Manager) legacy(id string, env *Instance) string {
	if env.Map != nil {
		return id
	}
	return id + m.ext
}

// applyVersions maps a bare package name through env's version map.
// Values are either a package key ("b@^1.0.0") or a bare range ("^1.0.0").
func applyVersions(id string, env *Instance) string {
	if env == nil {
		return id
	}
	v, ok := env.Versions[id]
	if !ok || v == "" {
		return id
	}
	if strings.Contains(v, "@") {
		return v
	}
	return id + "@" + v
}
