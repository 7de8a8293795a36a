// Package module is the module manager: it resolves identifiers against the
// requesting module's environment and the resolution graph, keeps one
// instance per module per subgraph, and runs each instance's factory lazily,
// at most once, even when modules require each other cyclically.
//
// All state in this package is owned by a single logical thread. Cycles are
// handled with plain recursion: an instance is marked loaded before its
// factory runs, so a re-entrant require observes the partially populated
// exports instead of initializing again.
//
// Loading source is someone else's job. The Manager talks to a Loader, a
// Locator and a HashSource; Immediate and the zero Options give a manager
// that treats every module as already defined.
package module
