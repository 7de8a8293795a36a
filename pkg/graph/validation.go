package graph

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidGraph is wrapped by every ValidationError
var ErrInvalidGraph = errors.New("invalid resolution graph")

// ValidationError lists every error-severity violation of a graph
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("%v: %s: %s", ErrInvalidGraph, e.Violations[0].Path, e.Violations[0].Message)
	}
	return fmt.Sprintf("%v: %d violations, first: %s: %s",
		ErrInvalidGraph, len(e.Violations), e.Violations[0].Path, e.Violations[0].Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidGraph
}

// Validate checks that every dependency table references an existing node
// and that no node claims the reserved root ID
func (g *Graph) Validate() error {
	var violations []Violation
	for _, v := range g.check() {
		if v.Severity == ViolationSeverityError {
			violations = append(violations, v)
		}
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// Lint returns every violation, including warnings for nodes that the root
// can never reach
func (g *Graph) Lint() ([]Violation, error) {
	violations := g.check()
	if err := g.Validate(); err != nil {
		return violations, nil
	}

	dag, err := BuildDAG(g)
	if err != nil {
		return nil, fmt.Errorf("failed to analyse graph: %w", err)
	}
	for _, id := range dag.Unreachable() {
		violations = append(violations, Violation{
			Path:     "nodes." + id,
			Message:  "node is not reachable from the root table",
			Severity: ViolationSeverityWarning,
		})
	}
	return violations, nil
}

func (g *Graph) check() []Violation {
	var violations []Violation

	if _, taken := g.Nodes[RootID]; taken {
		violations = append(violations, Violation{
			Path:     "nodes." + RootID,
			Message:  fmt.Sprintf("node ID %q is reserved for the root table", RootID),
			Severity: ViolationSeverityError,
		})
	}

	violations = append(violations, g.checkDeps("root", g.Root)...)

	for _, id := range g.nodeIDs() {
		node := g.Nodes[id]
		if node.Version == "" {
			violations = append(violations, Violation{
				Path:     "nodes." + id + ".version",
				Message:  "version is empty, identifiers keep their own version",
				Severity: ViolationSeverityWarning,
			})
		}
		violations = append(violations, g.checkDeps("nodes."+id+".deps", node.Deps)...)
	}
	return violations
}

func (g *Graph) checkDeps(path string, deps map[string]string) []Violation {
	var violations []Violation
	for _, key := range sortedKeys(deps) {
		if key == "" {
			violations = append(violations, Violation{
				Path:     path,
				Message:  "empty dependency key",
				Severity: ViolationSeverityError,
			})
			continue
		}
		if _, ok := g.Nodes[deps[key]]; !ok {
			violations = append(violations, Violation{
				Path:     fmt.Sprintf("%s[%s]", path, key),
				Message:  fmt.Sprintf("references non-existent node %q", deps[key]),
				Severity: ViolationSeverityError,
			})
		}
	}
	return violations
}

func (g *Graph) nodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
