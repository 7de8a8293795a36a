// Package graph holds the version-resolution graph: a precomputed mapping
// from package to the version selected for it and the subgraph that governs
// that package's own dependencies. Two subgraphs may pin different versions
// of the same package, which is what lets diamond dependencies coexist.
//
// The package also validates graph artifacts, analyses them as a directed
// graph of nodes, and hands out interned Subgraph values through a Selector.
package graph
