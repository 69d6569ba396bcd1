package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/resync/internal/ir"
)

// Entry is one record of a resource's commit log.
type Entry struct {
	RID          ir.RID
	ResourceType string
	Revision     int64
	ClientID     string    // empty for genesis
	Action       ir.Action // zero for genesis
	State        ir.IRValue // genesis only
	Checksum     string
}

// IsGenesis reports whether the entry records resource creation.
func (e Entry) IsGenesis() bool {
	return e.Revision == 0
}

// ResourceRecord summarizes one resource's log.
type ResourceRecord struct {
	RID          ir.RID
	ResourceType string
	Revision     int64 // latest revision
	Checksum     string
}

// Journal stores commit logs.
type Journal interface {
	// Append records an entry. Revisions for a rid must arrive densely and
	// in order, starting at 0.
	Append(ctx context.Context, e Entry) error

	// Entries returns a resource's log ordered by revision.
	Entries(ctx context.Context, rid ir.RID) ([]Entry, error)

	// Resources lists every journaled resource ordered by rid.
	Resources(ctx context.Context) ([]ResourceRecord, error)

	Close() error
}

func validateEntry(e Entry) error {
	if e.RID == "" {
		return fmt.Errorf("journal entry: rid is required")
	}
	if e.Revision < 0 {
		return fmt.Errorf("journal entry %s: negative revision %d", e.RID, e.Revision)
	}
	if e.Checksum == "" {
		return fmt.Errorf("journal entry %s@%d: checksum is required", e.RID, e.Revision)
	}
	if e.IsGenesis() && e.State == nil {
		return fmt.Errorf("journal entry %s: genesis requires a state", e.RID)
	}
	if !e.IsGenesis() && e.Action.Type == "" {
		return fmt.Errorf("journal entry %s@%d: action type is required", e.RID, e.Revision)
	}
	return nil
}

// Memory is an in-process Journal.
// Thread-safety: safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	logs map[ir.RID][]Entry
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{logs: make(map[ir.RID][]Entry)}
}

// Append implements Journal.
func (m *Memory) Append(_ context.Context, e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.logs[e.RID]
	next := int64(len(log))
	switch {
	case e.Revision < next:
		if log[e.Revision].Checksum != e.Checksum {
			return fmt.Errorf("journal entry %s@%d: conflicts with recorded checksum", e.RID, e.Revision)
		}
		return nil
	case e.Revision > next:
		return fmt.Errorf("journal entry %s@%d: expected revision %d", e.RID, e.Revision, next)
	}

	e.State = ir.Clone(e.State)
	e.Action.Payload = ir.Clone(e.Action.Payload)
	m.logs[e.RID] = append(log, e)
	return nil
}

// Entries implements Journal.
func (m *Memory) Entries(_ context.Context, rid ir.RID) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.logs[rid]
	out := make([]Entry, len(log))
	for i, e := range log {
		e.State = ir.Clone(e.State)
		e.Action.Payload = ir.Clone(e.Action.Payload)
		out[i] = e
	}
	return out, nil
}

// Resources implements Journal.
func (m *Memory) Resources(_ context.Context) ([]ResourceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ResourceRecord, 0, len(m.logs))
	for rid, log := range m.logs {
		if len(log) == 0 {
			continue
		}
		last := log[len(log)-1]
		out = append(out, ResourceRecord{
			RID:          rid,
			ResourceType: log[0].ResourceType,
			Revision:     last.Revision,
			Checksum:     last.Checksum,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RID < out[j].RID })
	return out, nil
}

// Close implements Journal. It is a no-op.
func (m *Memory) Close() error {
	return nil
}

// Discard is a Journal that drops every entry.
type Discard struct{}

// Append implements Journal.
func (Discard) Append(context.Context, Entry) error { return nil }

// Entries implements Journal.
func (Discard) Entries(context.Context, ir.RID) ([]Entry, error) { return nil, nil }

// Resources implements Journal.
func (Discard) Resources(context.Context) ([]ResourceRecord, error) { return nil, nil }

// Close implements Journal.
func (Discard) Close() error { return nil }
