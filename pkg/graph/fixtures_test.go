package graph

// diamondGraph resolves a to b@1 and c@1, both depending on d but pinned
// to different versions of it.
func diamondGraph() *Graph {
	return &Graph{
		Metadata: GraphMetadata{Name: "diamond"},
		Root: map[string]string{
			"a@*": "a1",
		},
		Nodes: map[string]Node{
			"a1": {Version: "1.0.0", Deps: map[string]string{"b@^1.0.0": "b1", "c@^1.0.0": "c1"}},
			"b1": {Version: "1.2.0", Deps: map[string]string{"d@^1.0.0": "d1"}},
			"c1": {Version: "1.0.3", Deps: map[string]string{"d@^2.0.0": "d2"}},
			"d1": {Version: "1.0.0"},
			"d2": {Version: "2.1.0"},
		},
	}
}
