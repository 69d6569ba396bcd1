package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/resync/internal/channel"
	"github.com/roach88/resync/internal/ir"
	"github.com/roach88/resync/internal/resource"
)

// Stats counts what a handle has done since it was bound.
type Stats struct {
	Dispatched    int // actions applied locally and forwarded
	LocalFaults   int // actions the local reducer refused
	Confirmations int // broadcasts whose checksum matched local state
	Replacements  int // broadcasts that replaced local state
	Duplicates    int // broadcasts at or below the last seen revision
	Rejects       int // actions the master refused
	Undecodable   int // downstream frames skipped because they did not decode
}

// Handle is one client's binding to one rid.
//
// The handle's goroutine owns reconciliation: it reads the subscription
// inbox in order and is the only writer of the confirmed state. Dispatch
// writes the local state from the caller's goroutine; both paths hold mu.
type Handle struct {
	rid ir.RID
	res *Resource

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	faults chan error

	// ready is closed once the seed arrived or the subscription failed.
	ready chan struct{}

	mu           sync.Mutex
	inbox        *channel.Inbox
	readyErr     error
	seeded       bool
	local        ir.CheckedState
	confirmed    ir.CheckedState
	revision     int64
	pending      []ir.Action
	lastBarrier  uint64
	barrierWake  chan struct{} // closed and replaced on every barrier
	detached     bool
	closed       bool
	stats        Stats
	lastMismatch *ChecksumMismatchError
}

func newHandle(ctx context.Context, r *Resource, rid ir.RID) *Handle {
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Handle{
		rid:         rid,
		res:         r,
		ctx:         hctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		faults:      make(chan error, r.faultBuffer),
		ready:       make(chan struct{}),
		barrierWake: make(chan struct{}),
	}
}

// RID returns the bound resource id.
func (h *Handle) RID() ir.RID {
	return h.rid
}

func (h *Handle) logger() *slog.Logger {
	return h.res.logger.With("rid", h.rid)
}

// run subscribes and reconciles downstream messages until the inbox ends
// or the handle is closed.
func (h *Handle) run() {
	defer close(h.done)

	inbox, err := h.res.upstream.Subscribe(h.ctx, h.rid, h.res.clientID)
	if err != nil {
		h.detach(err)
		return
	}
	h.mu.Lock()
	h.inbox = inbox
	h.mu.Unlock()

	for {
		msg, err := inbox.Receive(h.ctx)
		if errors.Is(err, channel.ErrUndecodable) && h.skipUndecodable(err) {
			continue
		}
		if err != nil {
			if errors.Is(err, channel.ErrClosed) {
				err = ErrUnsubscribed
			}
			h.detach(err)
			return
		}
		h.reconcile(msg)
	}
}

// skipUndecodable counts a frame that failed to decode and reports whether
// reading may continue. Once seeded, the next broadcast carries the full
// state and repairs whatever the skipped frame would have changed. Before
// the seed there is nothing to repair from.
func (h *Handle) skipUndecodable(err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.seeded {
		return false
	}
	h.stats.Undecodable++
	h.logger().Warn("skipping undecodable frame", "revision", h.revision, "error", err)
	return true
}

// detach marks the subscription as ended. Before the seed, err becomes the
// Ready error and queued actions are dropped.
func (h *Handle) detach(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.detached = true
	if !h.seeded {
		h.readyErr = err
		if n := len(h.pending); n > 0 {
			h.logger().Warn("dropping actions queued before failed bind", "actions", n, "error", err)
		}
		h.pending = nil
		close(h.ready)
	}
	close(h.barrierWake)
	h.barrierWake = make(chan struct{})
}

func (h *Handle) reconcile(msg channel.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch msg.Kind {
	case channel.KindSnapshot:
		if !h.seeded {
			h.seed(msg)
			return
		}
		h.reconcileBroadcast(msg)
	case channel.KindBroadcast:
		h.reconcileBroadcast(msg)
	case channel.KindReject:
		h.reconcileReject(msg)
	case channel.KindBarrier:
		if msg.Token > h.lastBarrier {
			h.lastBarrier = msg.Token
		}
		close(h.barrierWake)
		h.barrierWake = make(chan struct{})
	default:
		h.logger().Warn("ignoring unknown message", "kind", msg.Kind)
	}
}

// seed installs the first state and replays actions dispatched before it,
// in dispatch order. Caller holds mu.
func (h *Handle) seed(msg channel.Message) {
	h.local = msg.Checked()
	h.confirmed = msg.Checked()
	h.revision = msg.Revision
	h.seeded = true

	pending := h.pending
	h.pending = nil
	for _, action := range pending {
		if err := h.applyAndForward(action); err != nil {
			h.publishFault(err)
		}
	}
	close(h.ready)

	h.logger().Debug("bound",
		"revision", msg.Revision,
		"checksum", h.local.Short(),
		"replayed", len(pending),
	)
}

// reconcileBroadcast keeps local state when it matches the master and
// replaces it otherwise. Caller holds mu.
func (h *Handle) reconcileBroadcast(msg channel.Message) {
	if msg.Revision <= h.revision {
		h.stats.Duplicates++
		return
	}
	h.revision = msg.Revision
	h.confirmed = msg.Checked()

	if h.local.Checksum == msg.Checksum {
		h.stats.Confirmations++
		return
	}

	mismatch := &ChecksumMismatchError{
		RID:       h.rid,
		Revision:  msg.Revision,
		Local:     h.local.Checksum,
		Canonical: msg.Checksum,
	}
	h.local = msg.Checked()
	h.stats.Replacements++
	h.lastMismatch = mismatch
	h.logger().Debug("local state replaced", "origin", msg.Origin, "error", mismatch)
}

// reconcileReject rolls local state back to the master's and reports the
// fault. Caller holds mu.
func (h *Handle) reconcileReject(msg channel.Message) {
	if msg.Revision >= h.revision {
		h.revision = msg.Revision
		h.confirmed = msg.Checked()
		h.local = msg.Checked()
	}
	h.stats.Rejects++
	h.publishFault(resource.NewReducerFaultError(h.rid, h.res.resourceType, msg.ActionType, errors.New(msg.Error)))
}

// publishFault never blocks the reconcile loop. Caller holds mu.
func (h *Handle) publishFault(err error) {
	select {
	case h.faults <- err:
	default:
		h.logger().Warn("fault dropped, channel full", "error", err)
	}
}

// applyAndForward runs the reducer on local state and forwards the action.
// Caller holds mu, which keeps forward order equal to apply order.
func (h *Handle) applyAndForward(action ir.Action) error {
	next, err := h.res.reducer.Run(h.local.State, action)
	if err != nil {
		h.stats.LocalFaults++
		return resource.NewReducerFaultError(h.rid, h.res.resourceType, action.Type, err)
	}
	checked, err := ir.Check(next)
	if err != nil {
		h.stats.LocalFaults++
		return resource.NewReducerFaultError(h.rid, h.res.resourceType, action.Type, err)
	}

	if err := h.res.upstream.Dispatch(h.ctx, h.rid, h.res.clientID, action); err != nil {
		return err
	}
	h.local = checked
	h.stats.Dispatched++
	return nil
}

// Dispatch applies action locally and forwards it to the master without
// waiting for the commit.
//
// The payload is NFC-normalized first; a payload with invalid UTF-8 is a
// local reducer fault. A local reducer fault is returned and nothing is
// forwarded. Before the subscription is confirmed the action is queued; a
// fault it raises when replayed is reported on Faults instead.
func (h *Handle) Dispatch(action ir.Action) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	normalized, err := ir.NormalizeAction(action)
	if err != nil {
		h.stats.LocalFaults++
		return resource.NewReducerFaultError(h.rid, h.res.resourceType, action.Type, err)
	}
	action = normalized

	switch {
	case h.closed:
		return ErrClosed
	case h.detached && !h.seeded:
		return h.readyErr
	case h.detached:
		return ErrUnsubscribed
	case !h.seeded:
		h.pending = append(h.pending, action)
		return nil
	}
	return h.applyAndForward(action)
}

// Ready blocks until the local state is seeded. It returns the
// subscription error if binding failed.
func (h *Handle) Ready(ctx context.Context) error {
	select {
	case <-h.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readyErr
}

// Settle blocks until every action dispatched so far has been committed or
// rejected by the master and every resulting message has been reconciled.
func (h *Handle) Settle(ctx context.Context) error {
	if err := h.Ready(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	if err := h.usableLocked(); err != nil {
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()

	token, err := h.res.upstream.Flush(ctx, h.rid, h.res.clientID)
	if err != nil {
		return err
	}

	for {
		h.mu.Lock()
		if h.lastBarrier >= token {
			h.mu.Unlock()
			return nil
		}
		if err := h.usableLocked(); err != nil {
			h.mu.Unlock()
			return err
		}
		wake := h.barrierWake
		h.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Handle) usableLocked() error {
	if h.closed {
		return ErrClosed
	}
	if h.detached {
		return ErrUnsubscribed
	}
	return nil
}

// State returns a copy of the local state. Nil before the seed.
func (h *Handle) State() ir.IRValue {
	h.mu.Lock()
	defer h.mu.Unlock()
	return ir.Clone(h.local.State)
}

// Checked returns a copy of the local checked state.
func (h *Handle) Checked() ir.CheckedState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.local.Clone()
}

// Confirmed returns a copy of the last state received from the master.
func (h *Handle) Confirmed() ir.CheckedState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.confirmed.Clone()
}

// Revision returns the last master revision reconciled.
func (h *Handle) Revision() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revision
}

// InSync reports whether local state equals the last confirmed state.
func (h *Handle) InSync() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seeded && h.local.Matches(h.confirmed)
}

// Faults delivers reducer faults that could not be returned from Dispatch:
// master rejects and faults of actions queued before the seed.
func (h *Handle) Faults() <-chan error {
	return h.faults
}

// Stats returns a snapshot of the handle's counters.
func (h *Handle) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// LastMismatch returns the most recent checksum mismatch, or nil.
func (h *Handle) LastMismatch() *ChecksumMismatchError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastMismatch
}

// Close ends the subscription and stops reconciliation. Local state stays
// readable. Idempotent.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	<-h.done
	h.res.upstream.UnsubscribeFrom(h.rid, h.res.clientID)
	h.res.forget(h.rid, h)
}

// isUsable reports whether the handle can still dispatch: it is neither
// closed nor cut off by the master. A closed inbox counts as cut off even
// before run has drained it.
func (h *Handle) isUsable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.detached {
		return false
	}
	return h.inbox == nil || !h.inbox.Closed()
}

// retire closes a handle whose subscription the master already ended. It
// skips UnsubscribeFrom, which would otherwise remove the subscription of
// the handle replacing this one. Caller holds r.mu.
func (h *Handle) retire() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()
}
