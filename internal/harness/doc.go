// Package harness runs clients and a master together in one process.
//
// Orchestrate wires N client proxies to one master for a resource type.
// On top of it, scenarios describe a session as YAML: which clients bind,
// what they dispatch, when they settle and what the converged state must
// be. Run executes a scenario and records a trace of every commit and
// reject the master produced.
//
// # Scenario Format
//
//	name: single_join
//	description: "One participant joins an empty room"
//	resource_type: chat
//	clients: [blue-client]
//	initial_state:
//	  participants: {}
//	  messages: []
//	steps:
//	  - client: blue-client
//	    bind: true
//	  - client: blue-client
//	    dispatch:
//	      type: addParticipant
//	      payload: { id: blue-client, color: blue, atTimestamp: 123 }
//	  - settle: true
//	expect:
//	  converged: true
//	  revision: 1
//	  state: { ... }
//	assertions:
//	  - type: trace_order
//	    actions: [addParticipant]
//
// # Determinism
//
// Steps run sequentially and Dispatch enqueues on the master before it
// returns, so the master's commit order equals step order. Rids come from
// a fixed generator ("<type>:1"). Traces are therefore reproducible and
// RunWithGolden compares them byte for byte against testdata/golden.
package harness
