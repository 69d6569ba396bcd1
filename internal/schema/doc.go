// Package schema validates resource states against CUE definitions.
//
// A resource type may carry a schema. The store checks the initial state at
// create time and every committed state after the reducer runs, so a reducer
// bug that would produce an ill-formed state is reported as a fault instead
// of being broadcast to clients.
//
// A schema source must declare a #State definition:
//
//	#State: {
//		participants: [string]: {
//			id:       string
//			active:   bool
//			joinedAt: int
//			leftAt?:  int
//		}
//		messages: [...{content: string, participantId: string, at: int, id: string}]
//	}
//
// The CUE SDK is used through its Go API; no cue binary is needed.
package schema
