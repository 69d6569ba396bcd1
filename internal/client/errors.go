package client

import (
	"errors"
	"fmt"

	"github.com/roach88/resync/internal/ir"
)

var (
	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("client: handle closed")

	// ErrUnsubscribed is returned once the master has ended the handle's
	// subscription (Unsubscribe, UnsubscribeAll, resource deleted).
	ErrUnsubscribed = errors.New("client: subscription ended")
)

// ChecksumMismatchError describes a broadcast whose checksum differed from
// the local state. It is a diagnostic: the handle has already replaced its
// local state, so it is logged and counted, never returned.
type ChecksumMismatchError struct {
	RID       ir.RID
	Revision  int64
	Local     string
	Canonical string
}

// Error implements the error interface.
func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch on %s@%d: local %s, master %s",
		e.RID, e.Revision,
		ir.CheckedState{Checksum: e.Local}.Short(),
		ir.CheckedState{Checksum: e.Canonical}.Short())
}
