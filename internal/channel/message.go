package channel

import (
	"fmt"

	"github.com/roach88/resync/internal/ir"
)

// Kind distinguishes downstream message types.
type Kind int

const (
	// KindSnapshot is the first message on a subscription: the resource's
	// current checked state at subscribe time.
	KindSnapshot Kind = iota + 1
	// KindBroadcast announces one commit to every subscriber.
	KindBroadcast
	// KindReject tells the originator its action faulted. It carries the
	// unchanged canonical state.
	KindReject
	// KindBarrier marks that every earlier request from this client on the
	// rid has been processed.
	KindBarrier
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindBroadcast:
		return "broadcast"
	case KindReject:
		return "reject"
	case KindBarrier:
		return "barrier"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Message is one downstream delivery.
//
// Field use by kind:
//   - Snapshot: RID, Revision, State, Checksum
//   - Broadcast: RID, Revision, State, Checksum, Origin, ActionType
//   - Reject: RID, Revision, State, Checksum, Origin, ActionType, Error
//   - Barrier: RID, Token
type Message struct {
	Kind       Kind
	RID        ir.RID
	Revision   int64
	State      ir.IRValue
	Checksum   string
	Origin     string // client whose action produced this message
	ActionType string
	Error      string
	Token      uint64
}

// Checked returns the carried state and checksum.
func (m Message) Checked() ir.CheckedState {
	return ir.CheckedState{State: m.State, Checksum: m.Checksum}
}

// Snapshot builds a KindSnapshot message.
func Snapshot(rid ir.RID, revision int64, checked ir.CheckedState) Message {
	return Message{
		Kind:     KindSnapshot,
		RID:      rid,
		Revision: revision,
		State:    checked.State,
		Checksum: checked.Checksum,
	}
}

// Broadcast builds a KindBroadcast message.
func Broadcast(rid ir.RID, revision int64, checked ir.CheckedState, origin, actionType string) Message {
	return Message{
		Kind:       KindBroadcast,
		RID:        rid,
		Revision:   revision,
		State:      checked.State,
		Checksum:   checked.Checksum,
		Origin:     origin,
		ActionType: actionType,
	}
}

// Reject builds a KindReject message.
func Reject(rid ir.RID, revision int64, checked ir.CheckedState, origin, actionType string, cause error) Message {
	return Message{
		Kind:       KindReject,
		RID:        rid,
		Revision:   revision,
		State:      checked.State,
		Checksum:   checked.Checksum,
		Origin:     origin,
		ActionType: actionType,
		Error:      cause.Error(),
	}
}

// Barrier builds a KindBarrier message.
func Barrier(rid ir.RID, token uint64) Message {
	return Message{Kind: KindBarrier, RID: rid, Token: token}
}
