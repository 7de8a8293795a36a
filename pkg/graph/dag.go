package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dominikbraun/graph"
)

// DAG is a directed view of a resolution graph. Despite the name it may
// contain cycles: packages are allowed to depend on each other, so BuildDAG
// does not prevent them and only Order requires acyclicity.
type DAG struct {
	// graph is the underlying graph structure from dominikbraun/graph.
	// Vertices are node IDs plus RootID; an edge A -> B means A's deps table references B.
	graph graph.Graph[string, string]

	source *Graph
}

// BuildDAG converts a Graph artifact into its directed view
func BuildDAG(g *Graph) (*DAG, error) {
	if g == nil {
		return nil, fmt.Errorf("graph cannot be nil")
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}

	dg := graph.New(graph.StringHash, graph.Directed())

	if err := dg.AddVertex(RootID); err != nil {
		return nil, fmt.Errorf("failed to add root vertex: %w", err)
	}
	for _, id := range g.nodeIDs() {
		if err := dg.AddVertex(id); err != nil {
			return nil, fmt.Errorf("failed to add vertex %s: %w", id, err)
		}
	}

	addEdges := func(from string, deps map[string]string) error {
		for _, key := range sortedKeys(deps) {
			to := deps[key]
			// Several keys ("c", "c@^1.0.0") may point at the same node
			err := dg.AddEdge(from, to, graph.EdgeAttribute("key", key))
			if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
				return fmt.Errorf("failed to add edge %s -> %s: %w", from, to, err)
			}
		}
		return nil
	}

	if err := addEdges(RootID, g.Root); err != nil {
		return nil, err
	}
	for _, id := range g.nodeIDs() {
		if err := addEdges(id, g.Nodes[id].Deps); err != nil {
			return nil, err
		}
	}

	return &DAG{graph: dg, source: g}, nil
}

// Size returns the number of nodes, not counting the root
func (d *DAG) Size() int {
	return len(d.source.Nodes)
}

// Dependencies returns the sorted node IDs referenced by the given node's deps table
func (d *DAG) Dependencies(id string) ([]string, error) {
	adjacency, err := d.graph.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	edges, ok := adjacency[id]
	if !ok {
		return nil, fmt.Errorf("node %s not found: %w", id, graph.ErrVertexNotFound)
	}
	deps := make([]string, 0, len(edges))
	for target := range edges {
		deps = append(deps, target)
	}
	sort.Strings(deps)
	return deps, nil
}

// Dependents returns the sorted IDs of nodes (or RootID) whose deps table references the given node
func (d *DAG) Dependents(id string) ([]string, error) {
	predecessors, err := d.graph.PredecessorMap()
	if err != nil {
		return nil, err
	}
	edges, ok := predecessors[id]
	if !ok {
		return nil, fmt.Errorf("node %s not found: %w", id, graph.ErrVertexNotFound)
	}
	dependents := make([]string, 0, len(edges))
	for source := range edges {
		dependents = append(dependents, source)
	}
	sort.Strings(dependents)
	return dependents, nil
}

// Reachable returns the sorted IDs of nodes reachable from the root table
func (d *DAG) Reachable() []string {
	var reached []string
	_ = graph.BFS(d.graph, RootID, func(id string) bool {
		if id != RootID {
			reached = append(reached, id)
		}
		return false
	})
	sort.Strings(reached)
	return reached
}

// Unreachable returns the sorted IDs of nodes no module can ever be resolved under
func (d *DAG) Unreachable() []string {
	reached := make(map[string]bool)
	for _, id := range d.Reachable() {
		reached[id] = true
	}

	var dead []string
	for _, id := range d.source.nodeIDs() {
		if !reached[id] {
			dead = append(dead, id)
		}
	}
	return dead
}

// Cycles returns each group of mutually dependent nodes, sorted.
// Self-dependencies count as a cycle of one.
func (d *DAG) Cycles() ([][]string, error) {
	components, err := graph.StronglyConnectedComponents(d.graph)
	if err != nil {
		return nil, fmt.Errorf("failed to compute strongly connected components: %w", err)
	}

	adjacency, err := d.graph.AdjacencyMap()
	if err != nil {
		return nil, err
	}

	var cycles [][]string
	for _, component := range components {
		if len(component) == 1 {
			id := component[0]
			if _, self := adjacency[id][id]; !self {
				continue
			}
		}
		sort.Strings(component)
		cycles = append(cycles, component)
	}
	sort.Slice(cycles, func(i, j int) bool {
		return cycles[i][0] < cycles[j][0]
	})
	return cycles, nil
}

// HasCycles checks whether any package transitively depends on itself
func (d *DAG) HasCycles() bool {
	_, err := graph.TopologicalSort(d.graph)
	return err != nil
}

// Order returns node IDs so that every node comes after the nodes that depend
// on it, starting with RootID. It fails when the graph has cycles.
func (d *DAG) Order() ([]string, error) {
	order, err := graph.StableTopologicalSort(d.graph, func(a, b string) bool {
		return a < b
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute topological sort (graph has cycles): %w", err)
	}
	return order, nil
}
