package master

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/resync/internal/channel"
	"github.com/roach88/resync/internal/ir"
	"github.com/roach88/resync/internal/resource"
)

// lane orders and commits the requests of one resource.
//
// INVARIANT: mu is held from the start of a commit until its broadcast has
// been delivered to every subscriber, and by Subscribe while it snapshots
// and registers. A subscriber therefore sees either the pre-commit snapshot
// followed by the broadcast, or the post-commit snapshot alone.
type lane struct {
	rid      ir.RID
	store    *resource.Store
	codec    channel.Codec
	observer Observer
	logger   *slog.Logger

	queue *requestQueue
	done  chan struct{}

	mu      sync.Mutex
	subs    map[string]*channel.Inbox
	stopped bool
}

func newLane(rid ir.RID, m *Master) *lane {
	return &lane{
		rid:      rid,
		store:    m.store,
		codec:    m.codec,
		observer: m.observer,
		logger:   m.logger.With("rid", rid),
		queue:    newRequestQueue(),
		done:     make(chan struct{}),
		subs:     make(map[string]*channel.Inbox),
	}
}

// run drains the queue until it is closed and empty or ctx is cancelled.
// Must be called from exactly one goroutine per lane.
func (l *lane) run(ctx context.Context) {
	defer close(l.done)
	defer l.shutdown()

	for {
		if r, ok := l.queue.TryDequeue(); ok {
			l.process(ctx, r)
			continue
		}

		select {
		case <-ctx.Done():
			l.logger.Debug("lane stopping: context cancelled", "pending", l.queue.Len())
			return
		case <-l.queue.Wait():
			// Signal channel closes with the queue.
			if l.queue.Drained() {
				return
			}
		}
	}
}

func (l *lane) process(ctx context.Context, r request) {
	switch r.kind {
	case requestDispatch:
		l.commit(ctx, r)
	case requestFlush:
		l.barrier(r)
	default:
		l.logger.Error("unknown lane request", "kind", int(r.kind))
	}
}

// commit applies one action and fans the outcome out.
func (l *lane) commit(ctx context.Context, r request) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.store.Apply(ctx, l.rid, r.action, r.clientID)
	if err != nil {
		l.reject(r, err)
		return
	}

	msg := channel.Broadcast(c.RID, c.Revision, c.Checked, c.ClientID, c.Action.Type)
	frame, err := l.codec.Encode(msg)
	if err != nil {
		// Check already rejected everything the codecs refuse, so this is a
		// codec bug. The commit stands; subscribers catch up on the next
		// broadcast, which carries the full state.
		l.logger.Error("encode broadcast", "revision", c.Revision, "error", err)
		if l.observer != nil {
			l.observer(msg)
		}
		return
	}

	l.logger.Debug("committed",
		"revision", c.Revision,
		"action", c.Action.Type,
		"client", c.ClientID,
		"checksum", c.Checked.Short(),
		"subscribers", len(l.subs),
	)

	for _, id := range l.subscriberIDs() {
		l.subs[id].DeliverFrame(frame)
	}
	if l.observer != nil {
		l.observer(msg)
	}
}

// reject tells the originator its action did not commit and hands it the
// unchanged canonical state. Caller holds mu.
func (l *lane) reject(r request, cause error) {
	level := slog.LevelWarn
	if !resource.IsReducerFault(cause) {
		level = slog.LevelError
	}
	l.logger.Log(context.Background(), level, "action rejected",
		"action", r.action.Type,
		"client", r.clientID,
		"code", resource.CodeOf(cause),
		"error", cause,
	)

	snap, err := l.store.Get(l.rid)
	if err != nil {
		l.logger.Error("reject: read state", "error", err)
		return
	}

	msg := channel.Reject(l.rid, snap.Revision, snap.Checked, r.clientID, r.action.Type, cause)
	if inbox, ok := l.subs[r.clientID]; ok {
		if err := inbox.Deliver(msg); err != nil {
			l.logger.Debug("reject not delivered", "client", r.clientID, "error", err)
		}
	}
	if l.observer != nil {
		l.observer(msg)
	}
}

// barrier delivers a flush token to the requesting client. Every request
// the client enqueued earlier on this lane has been processed by now.
func (l *lane) barrier(r request) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inbox, ok := l.subs[r.clientID]
	if !ok {
		return
	}
	if err := inbox.Deliver(channel.Barrier(l.rid, r.token)); err != nil {
		l.logger.Debug("barrier not delivered", "client", r.clientID, "error", err)
	}
}

// subscribe registers clientID and delivers the current snapshot as the
// first message. An existing subscription of the same client is replaced
// and its inbox closed.
func (l *lane) subscribe(clientID string) (*channel.Inbox, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return nil, resource.NewUnknownResourceError(l.rid)
	}
	snap, err := l.store.Get(l.rid)
	if err != nil {
		return nil, err
	}

	inbox := channel.NewInbox(l.codec)
	if err := inbox.Deliver(channel.Snapshot(l.rid, snap.Revision, snap.Checked)); err != nil {
		return nil, err
	}

	if old, ok := l.subs[clientID]; ok {
		old.Close()
	}
	l.subs[clientID] = inbox

	l.logger.Debug("subscribed", "client", clientID, "revision", snap.Revision)
	return inbox, nil
}

// unsubscribe removes clientID. Reports whether it was subscribed.
func (l *lane) unsubscribe(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	inbox, ok := l.subs[clientID]
	if !ok {
		return false
	}
	inbox.Close()
	delete(l.subs, clientID)
	return true
}

func (l *lane) unsubscribeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeSubscribersLocked()
}

// shutdown closes every inbox and refuses later subscriptions.
func (l *lane) shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	l.closeSubscribersLocked()
}

func (l *lane) closeSubscribersLocked() {
	for id, inbox := range l.subs {
		inbox.Close()
		delete(l.subs, id)
	}
}

// subscriberIDs returns subscriber ids sorted, so fan-out order is stable.
// Caller holds mu.
func (l *lane) subscriberIDs() []string {
	ids := make([]string, 0, len(l.subs))
	for id := range l.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// subscribers returns a sorted copy of the subscriber ids.
func (l *lane) subscribers() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subscriberIDs()
}
