// Package journal records the ordered log of committed actions per resource.
//
// The master commits actions one at a time per resource id, so each
// resource's log is a dense sequence of revisions:
//   - revision 0 is the genesis entry and carries the initial state
//   - revision n (n >= 1) carries the n-th committed action and the
//     checksum of the state it produced
//
// The journal is not a persistence layer for resource state: the master
// keeps state in memory. It is an audit trail that Replay can fold back
// through a reducer to prove commits are deterministic.
//
// # Implementations
//
//   - NewMemory: in-process, used by default and in tests
//   - Open: SQLite (WAL mode, single writer), for durable traces the
//     `resync replay` and `resync trace` commands read back
//
// Appends are idempotent: writing the same (rid, revision) twice with the
// same checksum is a no-op; writing it with a different checksum is an error.
package journal
