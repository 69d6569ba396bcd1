package journal

import (
	"context"
	"fmt"

	"github.com/roach88/resync/internal/ir"
)

// ReducerFunc matches resource.Reducer without importing it.
type ReducerFunc func(state ir.IRValue, action ir.Action) (ir.IRValue, error)

// call turns a panic or a nil state into an error, so a broken reducer
// fails the replay instead of the process.
func (f ReducerFunc) call(state ir.IRValue, action ir.Action) (next ir.IRValue, err error) {
	defer func() {
		if p := recover(); p != nil {
			next = nil
			err = fmt.Errorf("reducer panicked: %v", p)
		}
	}()

	next, err = f(state, action)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, fmt.Errorf("reducer returned no state for action %q", action.Type)
	}
	return next, nil
}

// Mismatch is a revision whose recomputed checksum differs from the journal.
type Mismatch struct {
	Revision int64
	Recorded string
	Computed string
}

// ReplayResult is the outcome of folding a resource's log through a reducer.
type ReplayResult struct {
	RID          ir.RID
	ResourceType string
	Revisions    int64 // number of committed actions replayed
	Final        ir.CheckedState
	Mismatches   []Mismatch
}

// Deterministic reports whether every recomputed checksum matched.
func (r ReplayResult) Deterministic() bool {
	return len(r.Mismatches) == 0
}

// Replay rebuilds a resource from its genesis entry by applying every
// journaled action in revision order, comparing each resulting checksum to
// the recorded one. Replay continues past mismatches so the report lists all
// of them; it stops on reducer errors.
func Replay(ctx context.Context, j Journal, rid ir.RID, reduce ReducerFunc) (ReplayResult, error) {
	result := ReplayResult{RID: rid}

	entries, err := j.Entries(ctx, rid)
	if err != nil {
		return result, fmt.Errorf("replay %s: %w", rid, err)
	}
	if len(entries) == 0 {
		return result, fmt.Errorf("replay %s: no journal entries", rid)
	}

	genesis := entries[0]
	if !genesis.IsGenesis() {
		return result, fmt.Errorf("replay %s: log starts at revision %d, not genesis", rid, genesis.Revision)
	}
	result.ResourceType = genesis.ResourceType

	current, err := ir.Check(genesis.State)
	if err != nil {
		return result, fmt.Errorf("replay %s: genesis: %w", rid, err)
	}
	if current.Checksum != genesis.Checksum {
		result.Mismatches = append(result.Mismatches, Mismatch{
			Revision: 0,
			Recorded: genesis.Checksum,
			Computed: current.Checksum,
		})
	}

	for _, e := range entries[1:] {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		next, err := reduce.call(ir.Clone(current.State), e.Action)
		if err != nil {
			return result, fmt.Errorf("replay %s@%d: reducer: %w", rid, e.Revision, err)
		}
		current, err = ir.Check(next)
		if err != nil {
			return result, fmt.Errorf("replay %s@%d: %w", rid, e.Revision, err)
		}
		if current.Checksum != e.Checksum {
			result.Mismatches = append(result.Mismatches, Mismatch{
				Revision: e.Revision,
				Recorded: e.Checksum,
				Computed: current.Checksum,
			})
		}
		result.Revisions++
	}

	result.Final = current
	return result, nil
}
