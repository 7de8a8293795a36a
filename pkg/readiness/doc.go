// Package readiness provides the two-state queue that deferred module
// requests wait on. A queue starts Pending, collects callbacks, and is
// drained exactly once when the loader reports the module ready.
package readiness
