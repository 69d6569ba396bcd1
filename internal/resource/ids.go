package resource

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/resync/internal/ir"
)

// IDGenerator allocates resource ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate(resourceType string) ir.RID
}

// UUIDv7Generator issues "<type>:<uuidv7>" ids. UUIDv7 embeds a timestamp in
// its high bits, so ids of one type sort by creation time, which helps when
// reading journals.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new rid. Panics if the system random source fails.
func (UUIDv7Generator) Generate(resourceType string) ir.RID {
	return ir.RID(fmt.Sprintf("%s:%s", resourceType, uuid.Must(uuid.NewV7())))
}

// FixedGenerator returns predetermined ids in order, for deterministic
// tests and golden traces. Once exhausted it falls back to
// "<type>:<n>" with a running counter.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []ir.RID
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	rids := make([]ir.RID, len(ids))
	for i, id := range ids {
		rids[i] = ir.RID(id)
	}
	return &FixedGenerator{ids: rids}
}

// Generate returns the next predetermined id.
func (g *FixedGenerator) Generate(resourceType string) ir.RID {
	g.mu.Lock()
	defer g.mu.Unlock()

	defer func() { g.idx++ }()
	if g.idx < len(g.ids) {
		return g.ids[g.idx]
	}
	return ir.RID(fmt.Sprintf("%s:%d", resourceType, g.idx+1))
}
