package module

import (
	"github.com/chazu/neuron/pkg/graph"
	"github.com/chazu/neuron/pkg/readiness"
)

// Instance is the runtime incarnation of a module within one subgraph.
// Definition fields are shared and must not be modified through an instance.
type Instance struct {
	*Definition

	// Exports is the value require returns; factories may reassign it
	Exports any

	// Loaded is set before the factory runs
	Loaded bool

	// GUID is a process-unique, monotonically assigned instance number
	GUID uint64

	// Graph is the subgraph the instance was created under
	Graph *graph.Subgraph

	// Async marks a non-main module requested on its own, which makes the
	// loader fetch it by module rather than by package
	Async bool

	ready readiness.Queue

	// settled is notified once the instance and the instances of its
	// declared dependencies are all ready
	settled   readiness.Queue
	settling  bool
	bare      bool
	waitingOn map[*Instance]struct{}
}

// Ready returns the queue of callbacks waiting for this instance
func (i *Instance) Ready() *readiness.Queue {
	return &i.ready
}

// Settled reports whether the instance and its dependencies are ready
func (i *Instance) Settled() bool {
	return i.settled.State() == readiness.StateReady
}

// unsettle returns an instance that settled before it was defined to its
// initial state, so that it is requested again
func (i *Instance) unsettle() {
	if !i.bare || i.Loaded {
		return
	}
	i.settling, i.bare = false, false
	i.settled.Reset()
	i.ready.Reset()
}
