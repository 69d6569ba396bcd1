package client

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/resync/internal/channel"
	"github.com/roach88/resync/internal/ir"
	"github.com/roach88/resync/internal/resource"
)

// Upstream is the master as seen from a client. *master.Master satisfies
// it in-process; a network transport would implement it as a stub.
//
// Dispatch is called with the handle's lock held, which keeps forward order
// equal to local apply order. It must enqueue and return without waiting
// for the commit or for the network; a blocking Dispatch stalls the
// handle's reconciliation.
type Upstream interface {
	Create(ctx context.Context, resourceType string, initial ir.IRValue) (ir.RID, error)
	Subscribe(ctx context.Context, rid ir.RID, clientID string) (*channel.Inbox, error)
	Dispatch(ctx context.Context, rid ir.RID, clientID string, action ir.Action) error
	Flush(ctx context.Context, rid ir.RID, clientID string) (uint64, error)
	UnsubscribeFrom(rid ir.RID, clientID string)
	Unsubscribe(clientID string)
}

// DefaultFaultBuffer is the capacity of a handle's Faults channel.
const DefaultFaultBuffer = 64

// Resource is one client's proxy factory for one resource type.
// Thread-safety: safe for concurrent use.
type Resource struct {
	clientID     string
	resourceType string
	reducer      resource.Reducer
	upstream     Upstream
	logger       *slog.Logger
	faultBuffer  int

	mu      sync.Mutex
	handles map[ir.RID]*Handle
}

// Option configures a Resource.
type Option func(*Resource)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Resource) {
		r.logger = l
	}
}

// WithFaultBuffer sets the Faults channel capacity of every handle.
// Faults beyond the capacity are logged and dropped.
func WithFaultBuffer(n int) Option {
	return func(r *Resource) {
		r.faultBuffer = n
	}
}

// New creates the proxy factory of clientID for resourceType. reducer must
// be the same function the master runs for the type.
func New(clientID, resourceType string, reducer resource.Reducer, upstream Upstream, opts ...Option) *Resource {
	r := &Resource{
		clientID:     clientID,
		resourceType: resourceType,
		reducer:      reducer,
		upstream:     upstream,
		logger:       slog.Default(),
		faultBuffer:  DefaultFaultBuffer,
		handles:      make(map[ir.RID]*Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("client", clientID, "type", resourceType)
	return r
}

// ClientID returns the client this factory acts for.
func (r *Resource) ClientID() string {
	return r.clientID
}

// Type returns the resource type name.
func (r *Resource) Type() string {
	return r.resourceType
}

// Create asks the master to create a resource and returns its rid.
func (r *Resource) Create(ctx context.Context, initial ir.IRValue) (ir.RID, error) {
	return r.upstream.Create(ctx, r.resourceType, initial)
}

// Bind subscribes to rid and returns once the master's first message has
// seeded the local state. On error the handle is closed.
//
// Binding a rid that already has a usable handle returns that handle. A
// handle the master has unsubscribed is replaced by a fresh subscription.
func (r *Resource) Bind(ctx context.Context, rid ir.RID) (*Handle, error) {
	h := r.BindAsync(ctx, rid)
	if err := h.Ready(ctx); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// BindAsync starts the subscription and returns immediately. Actions
// dispatched before the subscription is confirmed are queued and applied
// in order right after the seed. Use Ready to wait for the seed.
func (r *Resource) BindAsync(ctx context.Context, rid ir.RID) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.handles[rid]; ok {
		if old.isUsable() {
			return old
		}
		old.retire()
	}
	h := newHandle(ctx, r, rid)
	r.handles[rid] = h
	go h.run()
	return h
}

// Handle returns the usable handle for rid, if any.
func (r *Resource) Handle(rid ir.RID) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[rid]
	if !ok || !h.isUsable() {
		return nil, false
	}
	return h, true
}

// Bound returns the rids with usable handles, sorted.
func (r *Resource) Bound() []ir.RID {
	r.mu.Lock()
	defer r.mu.Unlock()
	rids := make([]ir.RID, 0, len(r.handles))
	for rid, h := range r.handles {
		if h.isUsable() {
			rids = append(rids, rid)
		}
	}
	sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })
	return rids
}

// Unsubscribe ends every subscription of this client at the master and
// closes its handles. Handles keep their last state readable.
func (r *Resource) Unsubscribe() {
	r.upstream.Unsubscribe(r.clientID)

	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
}

func (r *Resource) forget(rid ir.RID, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[rid] == h {
		delete(r.handles, rid)
	}
}
