// Package client is the client-side proxy of a resource.
//
// A Resource is one client's factory for one resource type. Binding a rid
// yields a Handle holding the client's local copy of the state. Dispatch
// applies an action to the local copy immediately (optimistic apply) and
// forwards it to the master. Every broadcast from the master is then
// reconciled against the local copy: a matching checksum confirms it, a
// differing one replaces it wholesale. No merge is ever attempted; the
// master's commit order is the only order.
package client
