// Package moduleid parses module identifiers of the form name[@version][/path]
// and canonicalizes the in-package paths they carry. Everything here is pure:
// no function depends on registry, graph or caller state.
package moduleid
