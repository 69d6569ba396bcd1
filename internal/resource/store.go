package resource

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/resync/internal/ir"
	"github.com/roach88/resync/internal/journal"
)

// Commit is the outcome of one successfully applied action.
type Commit struct {
	RID          ir.RID
	ResourceType string
	Revision     int64
	Action       ir.Action
	ClientID     string
	Checked      ir.CheckedState
}

// Snapshot is a read-only copy of a resource's canonical state.
type Snapshot struct {
	RID          ir.RID
	ResourceType string
	Revision     int64
	Checked      ir.CheckedState
}

// entry holds one live resource. mu serializes applies on this rid only;
// different rids never contend on it.
type entry struct {
	mu       sync.Mutex
	typ      Type
	checked  ir.CheckedState
	revision int64
	deleted  bool
}

// Store holds the canonical state of every live resource.
//
// Thread-safety model:
//   - The rid table is guarded by an RWMutex held only for lookups and
//     inserts, never while a reducer runs.
//   - Each resource has its own mutex; Apply on one rid never waits for
//     Apply on another.
type Store struct {
	registry *Registry
	ids      IDGenerator
	journal  journal.Journal
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[ir.RID]*entry
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIDGenerator sets the rid allocator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) StoreOption {
	return func(s *Store) {
		s.ids = g
	}
}

// WithJournal records every creation and commit in j. Default: journal.Discard.
func WithJournal(j journal.Journal) StoreOption {
	return func(s *Store) {
		s.journal = j
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore creates an empty store resolving types through registry.
func NewStore(registry *Registry, opts ...StoreOption) *Store {
	s := &Store{
		registry: registry,
		ids:      UUIDv7Generator{},
		journal:  journal.Discard{},
		logger:   slog.Default(),
		entries:  make(map[ir.RID]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create allocates a rid for a new resource of resourceType and stores
// initial at revision 0. Allocation retries on collision with a live rid.
func (s *Store) Create(ctx context.Context, resourceType string, initial ir.IRValue) (ir.RID, error) {
	typ, checked, err := s.prepare("", resourceType, initial)
	if err != nil {
		return "", err
	}

	const maxAttempts = 8
	for range maxAttempts {
		rid := s.ids.Generate(resourceType)
		err := s.install(ctx, rid, typ, checked)
		if IsDuplicateCreation(err) {
			s.logger.Warn("rid collision, reallocating", "rid", rid, "type", resourceType)
			continue
		}
		if err != nil {
			return "", err
		}
		return rid, nil
	}
	return "", fmt.Errorf("create %s: no free rid after %d attempts", resourceType, maxAttempts)
}

// CreateWithID stores initial under a caller-chosen rid.
// Returns a DUPLICATE_CREATION error if rid is live.
func (s *Store) CreateWithID(ctx context.Context, rid ir.RID, resourceType string, initial ir.IRValue) error {
	if rid == "" {
		return fmt.Errorf("create %s: rid is required", resourceType)
	}
	typ, checked, err := s.prepare(rid, resourceType, initial)
	if err != nil {
		return err
	}
	return s.install(ctx, rid, typ, checked)
}

func (s *Store) prepare(rid ir.RID, resourceType string, initial ir.IRValue) (Type, ir.CheckedState, error) {
	typ, err := s.registry.Lookup(resourceType)
	if err != nil {
		return Type{}, ir.CheckedState{}, err
	}
	if initial == nil {
		return Type{}, ir.CheckedState{}, NewInvalidStateError(rid, resourceType, fmt.Errorf("initial state is required"))
	}

	state, err := ir.Normalize(initial)
	if err != nil {
		return Type{}, ir.CheckedState{}, NewInvalidStateError(rid, resourceType, err)
	}
	if err := typ.Schema.Validate(state); err != nil {
		return Type{}, ir.CheckedState{}, NewInvalidStateError(rid, resourceType, err)
	}
	checked, err := ir.Check(state)
	if err != nil {
		return Type{}, ir.CheckedState{}, NewInvalidStateError(rid, resourceType, err)
	}
	return typ, checked, nil
}

// install registers a prepared resource. The genesis entry is journaled
// while the rid is reserved so a concurrent create cannot observe a
// half-created resource.
func (s *Store) install(ctx context.Context, rid ir.RID, typ Type, checked ir.CheckedState) error {
	e := &entry{typ: typ, checked: checked}
	e.mu.Lock()
	defer e.mu.Unlock()

	s.mu.Lock()
	if _, exists := s.entries[rid]; exists {
		s.mu.Unlock()
		return NewDuplicateCreationError(rid, typ.Name)
	}
	s.entries[rid] = e
	s.mu.Unlock()

	err := s.journal.Append(ctx, journal.Entry{
		RID:          rid,
		ResourceType: typ.Name,
		Revision:     0,
		State:        checked.State,
		Checksum:     checked.Checksum,
	})
	if err != nil {
		e.deleted = true
		s.mu.Lock()
		delete(s.entries, rid)
		s.mu.Unlock()
		return fmt.Errorf("create %s: %w", rid, err)
	}

	s.logger.Debug("resource created",
		"rid", rid,
		"type", typ.Name,
		"checksum", checked.Short(),
	)
	return nil
}

func (s *Store) lookup(rid ir.RID) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[rid]
	s.mu.RUnlock()
	if !ok {
		return nil, NewUnknownResourceError(rid)
	}
	return e, nil
}

// Apply runs the resource's reducer on action and commits the result.
//
// All-or-nothing: if the reducer errors or panics, returns nil, produces a
// state that violates the type's schema or cannot be checksummed, or the
// journal append fails, the stored state and revision are left untouched.
// Reducer failures are reported as REDUCER_FAULT.
func (s *Store) Apply(ctx context.Context, rid ir.RID, action ir.Action, clientID string) (Commit, error) {
	e, err := s.lookup(rid)
	if err != nil {
		return Commit{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted {
		return Commit{}, NewUnknownResourceError(rid)
	}

	next, err := e.typ.Reducer.Run(e.checked.State, action)
	if err != nil {
		return Commit{}, NewReducerFaultError(rid, e.typ.Name, action.Type, err)
	}
	// Check before the schema: it refuses what no codec can carry (null,
	// floats, invalid UTF-8), which the schema may not look at.
	checked, err := ir.Check(next)
	if err != nil {
		return Commit{}, NewReducerFaultError(rid, e.typ.Name, action.Type, err)
	}
	if err := e.typ.Schema.Validate(next); err != nil {
		return Commit{}, NewReducerFaultError(rid, e.typ.Name, action.Type, err)
	}

	revision := e.revision + 1
	err = s.journal.Append(ctx, journal.Entry{
		RID:          rid,
		ResourceType: e.typ.Name,
		Revision:     revision,
		ClientID:     clientID,
		Action:       action,
		Checksum:     checked.Checksum,
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit %s@%d: %w", rid, revision, err)
	}

	e.checked = checked
	e.revision = revision

	return Commit{
		RID:          rid,
		ResourceType: e.typ.Name,
		Revision:     revision,
		Action:       action,
		ClientID:     clientID,
		Checked:      checked.Clone(),
	}, nil
}

// Get returns a deep copy of the resource's current state and revision.
func (s *Store) Get(rid ir.RID) (Snapshot, error) {
	e, err := s.lookup(rid)
	if err != nil {
		return Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return Snapshot{}, NewUnknownResourceError(rid)
	}
	return Snapshot{
		RID:          rid,
		ResourceType: e.typ.Name,
		Revision:     e.revision,
		Checked:      e.checked.Clone(),
	}, nil
}

// Delete removes a live resource. The journal keeps its history.
func (s *Store) Delete(rid ir.RID) error {
	e, err := s.lookup(rid)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()

	s.mu.Lock()
	if s.entries[rid] == e {
		delete(s.entries, rid)
	}
	s.mu.Unlock()

	s.logger.Debug("resource deleted", "rid", rid, "type", e.typ.Name)
	return nil
}

// Recover rebuilds every journaled resource whose type is registered by
// replaying its log. Resources already live in the store are skipped.
// Returns the recovered rids in order.
func (s *Store) Recover(ctx context.Context) ([]ir.RID, error) {
	records, err := s.journal.Resources(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}

	var recovered []ir.RID
	for _, rec := range records {
		typ, err := s.registry.Lookup(rec.ResourceType)
		if err != nil {
			s.logger.Warn("skipping journaled resource", "rid", rec.RID, "type", rec.ResourceType, "error", err)
			continue
		}

		result, err := journal.Replay(ctx, s.journal, rec.RID, typ.Reducer.Run)
		if err != nil {
			return recovered, fmt.Errorf("recover %s: %w", rec.RID, err)
		}
		if !result.Deterministic() {
			return recovered, fmt.Errorf("recover %s: replay diverged at revision %d",
				rec.RID, result.Mismatches[0].Revision)
		}

		s.mu.Lock()
		if _, exists := s.entries[rec.RID]; !exists {
			s.entries[rec.RID] = &entry{
				typ:      typ,
				checked:  result.Final,
				revision: result.Revisions,
			}
			recovered = append(recovered, rec.RID)
		}
		s.mu.Unlock()
	}

	s.logger.Info("store recovered", "resources", len(recovered))
	return recovered, nil
}

// Len returns the number of live resources.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RIDs returns live rids in sorted order.
func (s *Store) RIDs() []ir.RID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rids := make([]ir.RID, 0, len(s.entries))
	for rid := range s.entries {
		rids = append(rids, rid)
	}
	sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })
	return rids
}

// Types returns the registry the store resolves resource types through.
func (s *Store) Types() *Registry {
	return s.registry
}
