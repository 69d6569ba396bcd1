// Package resource holds the master's canonical resource states.
//
// The Store owns one entry per resource id (rid). Each entry carries the
// current checked state, a monotonic revision and its own mutex: Apply calls
// on the same rid are serialized, Apply calls on different rids never block
// each other.
//
// Apply is all-or-nothing. The reducer runs on a deep copy of the current
// state; if it returns an error, panics, returns a state that fails the
// resource type's schema, or the journal append fails, the stored state and
// revision are left exactly as they were.
//
// Reducers are plain function values registered per resource type. The store
// never inspects them beyond calling them.
package resource
