package readiness

import "sync"

// State is the readiness state of a queue
type State string

const (
	// StatePending indicates callbacks are being collected
	StatePending State = "Pending"

	// StateReady indicates the queue has been notified; new callbacks run at once
	StateReady State = "Ready"
)

// Queue holds callbacks waiting for a module to become ready.
// The zero value is an empty Pending queue.
type Queue struct {
	mu        sync.Mutex
	ready     bool
	callbacks []func()
}

// State returns the current state
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return StateReady
	}
	return StatePending
}

// Len returns the number of callbacks still waiting
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.callbacks)
}

// Wait registers cb to run on Notify. If the queue is already Ready, cb runs
// immediately on the calling goroutine.
func (q *Queue) Wait(cb func()) {
	if cb == nil {
		return
	}

	q.mu.Lock()
	if q.ready {
		q.mu.Unlock()
		cb()
		return
	}
	q.callbacks = append(q.callbacks, cb)
	q.mu.Unlock()
}

// Notify moves the queue to Ready and runs the waiting callbacks in the order
// they were registered. It reports false if the queue was already Ready.
// Callbacks may call Wait; those run immediately.
func (q *Queue) Notify() bool {
	q.mu.Lock()
	if q.ready {
		q.mu.Unlock()
		return false
	}
	q.ready = true
	callbacks := q.callbacks
	q.callbacks = nil
	q.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	return true
}

// Reset returns a Ready queue to Pending so a module can be waited on again,
// e.g. when a module that settled without a definition is requested anew.
// Waiting callbacks are kept.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = false
}
