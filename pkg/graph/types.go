package graph

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// RootID is the node ID reserved for the process-wide default graph
const RootID = "_"

// Graph is the resolution graph artifact, usually decoded from configuration
type Graph struct {
	// Metadata contains information about the graph
	Metadata GraphMetadata `json:"metadata"`

	// Root is the dependency table of the default graph.
	// Keys are package keys ("b@^1.0.0") or bare package names, values are node IDs.
	Root map[string]string `json:"root,omitempty"`

	// Nodes maps node IDs to the version they select and their own dependency table
	Nodes map[string]Node `json:"nodes,omitempty"`
}

// GraphMetadata contains metadata about the graph
type GraphMetadata struct {
	// Name is a human-readable name for the graph
	Name string `json:"name,omitempty"`

	// Hash is a hash of the graph content for change detection
	Hash string `json:"hash,omitempty"`
}

// Node selects one version of a package within its parent subgraph
type Node struct {
	// Version is the concrete version selected for the package
	Version string `json:"version"`

	// Deps maps the package's dependencies to node IDs
	Deps map[string]string `json:"deps,omitempty"`
}

// Violation represents a problem found while linting a graph
type Violation struct {
	// Path locates the offending entry, e.g. "nodes.b1.deps[c@*]"
	Path string `json:"path"`

	// Message is a human-readable description of the violation
	Message string `json:"message"`

	// Severity indicates how serious the violation is
	Severity ViolationSeverity `json:"severity"`
}

// ViolationSeverity indicates the severity of a violation
type ViolationSeverity string

const (
	// ViolationSeverityError indicates a graph that cannot resolve correctly
	ViolationSeverityError ViolationSeverity = "Error"

	// ViolationSeverityWarning indicates a graph that resolves but carries dead weight
	ViolationSeverityWarning ViolationSeverity = "Warning"
)

// ComputeHash computes a hash of the root table and nodes.
// Metadata is excluded so renaming a graph does not change its hash.
func (g *Graph) ComputeHash() string {
	h := struct {
		Root  map[string]string `json:"root"`
		Nodes map[string]Node   `json:"nodes"`
	}{
		Root:  g.Root,
		Nodes: g.Nodes,
	}

	// encoding/json sorts map keys, so equal graphs marshal identically
	data, err := json.Marshal(h)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", xxhash.Sum64(data))
}

// SetHash computes and sets the Hash field
func (g *Graph) SetHash() {
	g.Metadata.Hash = g.ComputeHash()
}

// HasChanged returns true if the graph has changed since the last hash
func (g *Graph) HasChanged(previousHash string) bool {
	if previousHash == "" {
		return true
	}
	return g.ComputeHash() != previousHash
}

// Deps returns the dependency table of a node, or of the root when id is RootID
func (g *Graph) Deps(id string) (map[string]string, bool) {
	if id == RootID {
		return g.Root, true
	}
	node, ok := g.Nodes[id]
	if !ok {
		return nil, false
	}
	return node.Deps, true
}
