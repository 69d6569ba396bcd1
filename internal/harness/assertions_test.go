package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resync/internal/ir"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Kind: traceBroadcast, Revision: 1, Origin: "blue", Action: "addParticipant"},
		{Seq: 2, Kind: traceBroadcast, Revision: 2, Origin: "orange", Action: "addParticipant"},
		{Seq: 3, Kind: traceReject, Revision: 2, Origin: "orange", Action: "writeMessage", Error: "REDUCER_FAULT"},
		{Seq: 4, Kind: traceBroadcast, Revision: 3, Origin: "blue", Action: "writeMessage"},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "writeMessage"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "writeMessage", Origin: "blue"}))

	// The orange writeMessage was rejected, not committed.
	err := assertTraceContains(trace, Assertion{Action: "writeMessage", Origin: "orange"})
	require.Error(t, err)
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertTraceContains, aerr.Type)
	assert.Contains(t, aerr.Expected, "from orange")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"addParticipant", "writeMessage"}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"addParticipant", "addParticipant", "writeMessage"}}))

	err := assertTraceOrder(trace, Assertion{Actions: []string{"writeMessage", "addParticipant"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "next missing: addParticipant")

	err = assertTraceOrder(trace, Assertion{Actions: []string{"writeMessage", "writeMessage"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matched 1 of 2")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "addParticipant", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "writeMessage", Count: 1}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "addParticipant", Origin: "blue", Count: 1}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "removeParticipant", Count: 0}))

	err := assertTraceCount(trace, Assertion{Action: "writeMessage", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 occurrences")
}

func TestAssertFinalState(t *testing.T) {
	state := ir.IRObject{
		"participants": ir.IRObject{
			"blue": ir.IRObject{"active": ir.IRBool(true), "joinedAt": ir.IRInt(123)},
		},
		"messages": ir.IRArray{
			ir.IRObject{"content": ir.IRString("Hey")},
		},
	}

	tests := []struct {
		name    string
		path    string
		equals  any
		wantErr string
	}{
		{name: "bool", path: "participants.blue.active", equals: true},
		{name: "int", path: "participants.blue.joinedAt", equals: 123},
		{name: "array index", path: "messages.0.content", equals: "Hey"},
		{name: "object", path: "participants.blue", equals: map[string]any{"active": true, "joinedAt": 123}},
		{name: "wrong value", path: "messages.0.content", equals: "Hi", wantErr: `messages.0.content = "Hey"`},
		{name: "missing key", path: "participants.red", equals: true, wantErr: `key "red" not found at "participants"`},
		{name: "index out of range", path: "messages.3", equals: "x", wantErr: "out of range"},
		{name: "descend into scalar", path: "participants.blue.active.x", equals: "x", wantErr: "cannot descend"},
		{name: "float expected", path: "messages.0.content", equals: 1.5, wantErr: "expected value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(state, Assertion{Type: AssertFinalState, Path: tt.path, Equals: tt.equals})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEvaluateAssertions_CollectsAllFailures(t *testing.T) {
	result := &Result{Trace: sampleTrace(), FinalState: ir.IRObject{"messages": ir.IRArray{}}}
	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Action: "addParticipant", Count: 2},
		{Type: AssertTraceContains, Action: "removeParticipant"},
		{Type: AssertFinalState, Path: "messages.0", Equals: "x"},
		{Type: "bogus"},
	})
	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "trace_contains")
	assert.Contains(t, errs[1], "final_state")
	assert.Contains(t, errs[2], `unknown assertion type "bogus"`)
}
