// Package testutil holds fixtures shared by package tests: a small counter
// resource type and helpers for bounded test contexts.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/resync/internal/ir"
)

// CounterType is the resource type name the counter fixtures use.
const CounterType = "counter"

// CounterSchema constrains counter states to a non-negative count.
const CounterSchema = `
#State: {
	count:  int & >=0
	label?: string
}
`

// Counter action types. Every action other than ActionAdd and ActionLabel
// is a way for the reducer to misbehave.
const (
	ActionAdd    = "add"    // count += payload.by
	ActionLabel  = "label"  // label = payload.text, copied as is
	ActionFail   = "fail"   // returns an error
	ActionPanic  = "panic"  // panics
	ActionNil    = "nil"    // returns a nil state and no error
	ActionMutate = "mutate" // writes into its input, then fails
)

// CounterReducer is the counter resource's reducer. Unknown action types
// leave the state unchanged.
func CounterReducer(state ir.IRValue, action ir.Action) (ir.IRValue, error) {
	obj, ok := state.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("state must be an object")
	}
	switch action.Type {
	case ActionAdd:
		payload, err := action.PayloadObject()
		if err != nil {
			return nil, err
		}
		by, _ := payload.Int("by")
		count, _ := obj.Int("count")
		return obj.With("count", ir.IRInt(count+by)), nil
	case ActionLabel:
		payload, err := action.PayloadObject()
		if err != nil {
			return nil, err
		}
		text, _ := payload.String("text")
		return obj.With("label", ir.IRString(text)), nil
	case ActionFail:
		return nil, fmt.Errorf("deliberate failure")
	case ActionPanic:
		panic("reducer exploded")
	case ActionNil:
		return nil, nil
	case ActionMutate:
		obj["count"] = ir.IRInt(999)
		return nil, fmt.Errorf("refusing after mutation")
	default:
		return state, nil
	}
}

// Counter returns the state {count: n}.
func Counter(n int64) ir.IRObject {
	return ir.IRObject{"count": ir.IRInt(n)}
}

// Add returns an add action.
func Add(by int64) ir.Action {
	return ir.NewAction(ActionAdd, ir.IRObject{"by": ir.IRInt(by)})
}

// Label returns an action that sets the counter's label to text.
func Label(text string) ir.Action {
	return ir.NewAction(ActionLabel, ir.IRObject{"text": ir.IRString(text)})
}

// Fail returns an action the reducer rejects.
func Fail() ir.Action {
	return ir.Action{Type: ActionFail}
}

// Count extracts the count of a counter state.
func Count(t testing.TB, state ir.IRValue) int64 {
	t.Helper()
	obj, ok := state.(ir.IRObject)
	require.True(t, ok, "state is %T, not an object", state)
	n, ok := obj.Int("count")
	require.True(t, ok, "state has no integer count")
	return n
}

// Context returns a context cancelled after five seconds or when the test
// ends, whichever is first.
func Context(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
