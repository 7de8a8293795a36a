package graph

import "sync"

// Subgraph is the resolution context a module instance lives in.
// Subgraphs are interned per node, so two lookups that land on the same node
// return the same pointer and therefore share module instances.
type Subgraph struct {
	// ID is the node ID, or RootID for the default graph
	ID string

	// Version is the version this subgraph selects for its package; empty for the root
	Version string

	deps map[string]string
}

// IsRoot reports whether s is the process-wide default graph
func (s *Subgraph) IsRoot() bool {
	return s.ID == RootID
}

// String returns the node ID
func (s *Subgraph) String() string {
	return s.ID
}

// Selector hands out interned subgraphs for a Graph
type Selector struct {
	mu    sync.Mutex
	graph *Graph
	root  *Subgraph
	nodes map[string]*Subgraph
}

// NewSelector creates a selector over g. A nil graph behaves as an empty one,
// so every lookup falls back to the root.
func NewSelector(g *Graph) *Selector {
	if g == nil {
		g = &Graph{}
	}
	return &Selector{
		graph: g,
		root:  &Subgraph{ID: RootID, deps: g.Root},
		nodes: make(map[string]*Subgraph),
	}
}

// Root returns the default graph
func (s *Selector) Root() *Subgraph {
	return s.root
}

// Select returns the subgraph governing package name when it is required from
// within ctx. The package key (name@range) is looked up first, then the bare
// name. A nil ctx means the root. Anything unknown falls back to the root.
func (s *Selector) Select(key, name string, ctx *Subgraph) *Subgraph {
	if ctx == nil {
		ctx = s.root
	}

	id, ok := ctx.deps[key]
	if !ok {
		id, ok = ctx.deps[name]
	}
	if !ok {
		return s.root
	}
	return s.node(id)
}

// Node returns the interned subgraph for a node ID
func (s *Selector) Node(id string) (*Subgraph, bool) {
	if id == RootID {
		return s.root, true
	}
	if _, ok := s.graph.Nodes[id]; !ok {
		return nil, false
	}
	return s.node(id), true
}

func (s *Selector) node(id string) *Subgraph {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sg, ok := s.nodes[id]; ok {
		return sg
	}
	n, ok := s.graph.Nodes[id]
	if !ok {
		// Dangling reference; Validate reports these
		return s.root
	}
	sg := &Subgraph{ID: id, Version: n.Version, deps: n.Deps}
	s.nodes[id] = sg
	return sg
}
