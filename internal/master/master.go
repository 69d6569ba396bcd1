package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/roach88/resync/internal/channel"
	"github.com/roach88/resync/internal/ir"
	"github.com/roach88/resync/internal/journal"
	"github.com/roach88/resync/internal/resource"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("master: closed")

// Observer receives every broadcast and reject in commit order per rid.
// It runs on the lane goroutine while the lane lock is held and must not
// call back into the Master.
type Observer func(channel.Message)

// Master owns canonical resource state and fans commits out to subscribers.
// Several masters may coexist in one process; they share nothing.
type Master struct {
	store    *resource.Store
	codec    channel.Codec
	observer Observer
	logger   *slog.Logger

	storeOpts []resource.StoreOption
	tokens    atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	lanes  map[ir.RID]*lane
	closed bool
}

// Option configures a Master.
type Option func(*Master)

// WithCodec sets the downstream wire codec. Default: CBOR.
func WithCodec(c channel.Codec) Option {
	return func(m *Master) {
		m.codec = c
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Master) {
		m.logger = l
	}
}

// WithJournal records creations and commits in j.
func WithJournal(j journal.Journal) Option {
	return func(m *Master) {
		m.storeOpts = append(m.storeOpts, resource.WithJournal(j))
	}
}

// WithIDGenerator sets the rid allocator.
func WithIDGenerator(g resource.IDGenerator) Option {
	return func(m *Master) {
		m.storeOpts = append(m.storeOpts, resource.WithIDGenerator(g))
	}
}

// WithObserver registers a commit observer.
func WithObserver(o Observer) Option {
	return func(m *Master) {
		m.observer = o
	}
}

// New creates a master serving the types in registry.
func New(registry *resource.Registry, opts ...Option) *Master {
	m := &Master{
		logger: slog.Default(),
		lanes:  make(map[ir.RID]*lane),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.codec == nil {
		m.codec = channel.NewCBORCodec()
	}
	m.store = resource.NewStore(registry, append(m.storeOpts, resource.WithLogger(m.logger))...)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Create stores a new resource and starts its lane.
func (m *Master) Create(ctx context.Context, resourceType string, initial ir.IRValue) (ir.RID, error) {
	if m.isClosed() {
		return "", ErrClosed
	}
	rid, err := m.store.Create(ctx, resourceType, initial)
	if err != nil {
		return "", err
	}
	if err := m.startLane(rid); err != nil {
		return "", err
	}
	m.logger.Info("resource created", "rid", rid, "type", resourceType)
	return rid, nil
}

// CreateWithID is Create with a caller-chosen rid.
func (m *Master) CreateWithID(ctx context.Context, rid ir.RID, resourceType string, initial ir.IRValue) error {
	if m.isClosed() {
		return ErrClosed
	}
	if err := m.store.CreateWithID(ctx, rid, resourceType, initial); err != nil {
		return err
	}
	if err := m.startLane(rid); err != nil {
		return err
	}
	m.logger.Info("resource created", "rid", rid, "type", resourceType)
	return nil
}

// Recover restores journaled resources and starts their lanes.
func (m *Master) Recover(ctx context.Context) ([]ir.RID, error) {
	rids, err := m.store.Recover(ctx)
	for _, rid := range rids {
		if startErr := m.startLane(rid); startErr != nil {
			return rids, startErr
		}
	}
	return rids, err
}

func (m *Master) startLane(rid ir.RID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, exists := m.lanes[rid]; exists {
		return resource.NewDuplicateCreationError(rid, "")
	}
	l := newLane(rid, m)
	m.lanes[rid] = l

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		l.run(m.ctx)
	}()
	return nil
}

func (m *Master) lane(rid ir.RID) (*lane, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	l, ok := m.lanes[rid]
	if !ok {
		return nil, resource.NewUnknownResourceError(rid)
	}
	return l, nil
}

// Dispatch enqueues action on rid's lane and returns without waiting for
// the commit. The outcome reaches clientID as a broadcast (to every
// subscriber) or a reject (to clientID only).
func (m *Master) Dispatch(_ context.Context, rid ir.RID, clientID string, action ir.Action) error {
	if action.Type == "" {
		return fmt.Errorf("dispatch to %s: action type is required", rid)
	}
	l, err := m.lane(rid)
	if err != nil {
		return err
	}
	if !l.queue.Enqueue(request{kind: requestDispatch, clientID: clientID, action: action}) {
		return resource.NewUnknownResourceError(rid)
	}
	return nil
}

// Subscribe registers clientID on rid. The returned inbox's first message
// is a snapshot of the current state; every later commit follows in order.
// Subscribing again replaces the earlier subscription.
func (m *Master) Subscribe(_ context.Context, rid ir.RID, clientID string) (*channel.Inbox, error) {
	l, err := m.lane(rid)
	if err != nil {
		return nil, err
	}
	return l.subscribe(clientID)
}

// Flush enqueues a barrier for clientID on rid. A Barrier message carrying
// the returned token reaches the client's inbox once every request enqueued
// before it has been processed.
func (m *Master) Flush(_ context.Context, rid ir.RID, clientID string) (uint64, error) {
	l, err := m.lane(rid)
	if err != nil {
		return 0, err
	}
	token := m.tokens.Add(1)
	if !l.queue.Enqueue(request{kind: requestFlush, clientID: clientID, token: token}) {
		return 0, resource.NewUnknownResourceError(rid)
	}
	return token, nil
}

// Unsubscribe removes clientID from every resource and closes its inboxes.
// Actions it already dispatched still commit. Idempotent.
func (m *Master) Unsubscribe(clientID string) {
	removed := 0
	for _, l := range m.snapshotLanes() {
		if l.unsubscribe(clientID) {
			removed++
		}
	}
	m.logger.Debug("client unsubscribed", "client", clientID, "resources", removed)
}

// UnsubscribeFrom removes clientID from rid only.
func (m *Master) UnsubscribeFrom(rid ir.RID, clientID string) {
	if l, err := m.lane(rid); err == nil {
		l.unsubscribe(clientID)
	}
}

// UnsubscribeAll removes every subscription on every resource.
func (m *Master) UnsubscribeAll() {
	for _, l := range m.snapshotLanes() {
		l.unsubscribeAll()
	}
	m.logger.Debug("all clients unsubscribed")
}

// Subscribers returns the ids subscribed to rid, sorted.
func (m *Master) Subscribers(rid ir.RID) ([]string, error) {
	l, err := m.lane(rid)
	if err != nil {
		return nil, err
	}
	return l.subscribers(), nil
}

// Get returns the canonical state of rid.
func (m *Master) Get(rid ir.RID) (resource.Snapshot, error) {
	if m.isClosed() {
		return resource.Snapshot{}, ErrClosed
	}
	return m.store.Get(rid)
}

// Resources returns the live rids, sorted.
func (m *Master) Resources() []ir.RID {
	return m.store.RIDs()
}

// Delete stops accepting requests for rid, lets its lane commit what was
// already queued, closes its subscriptions and drops the resource.
func (m *Master) Delete(ctx context.Context, rid ir.RID) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	l, ok := m.lanes[rid]
	if !ok {
		m.mu.Unlock()
		return resource.NewUnknownResourceError(rid)
	}
	delete(m.lanes, rid)
	m.mu.Unlock()

	l.queue.Close()
	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := m.store.Delete(rid); err != nil {
		return err
	}
	m.logger.Info("resource deleted", "rid", rid)
	return nil
}

// Close drains every lane, closes all inboxes and releases the master.
// Idempotent.
func (m *Master) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	lanes := make([]*lane, 0, len(m.lanes))
	for _, l := range m.lanes {
		lanes = append(lanes, l)
	}
	m.mu.Unlock()

	for _, l := range lanes {
		l.queue.Close()
	}
	m.wg.Wait()
	m.cancel()

	m.logger.Debug("master closed", "resources", len(lanes))
	return nil
}

func (m *Master) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// snapshotLanes returns the current lanes ordered by rid.
func (m *Master) snapshotLanes() []*lane {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lanes := make([]*lane, 0, len(m.lanes))
	for _, l := range m.lanes {
		lanes = append(lanes, l)
	}
	sort.Slice(lanes, func(i, j int) bool { return lanes[i].rid < lanes[j].rid })
	return lanes
}
