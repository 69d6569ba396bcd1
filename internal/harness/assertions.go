package harness

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/resync/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s@%d by %s\n",
				event.Seq, event.Kind, event.Action, event.Revision, event.Origin)
		}
	}

	return buf.String()
}

// commits returns the broadcast events of a trace. Assertions on actions
// only consider what the master committed.
func commits(trace []TraceEvent) []TraceEvent {
	out := make([]TraceEvent, 0, len(trace))
	for _, event := range trace {
		if event.Kind == traceBroadcast {
			out = append(out, event)
		}
	}
	return out
}

func matches(event TraceEvent, action, origin string) bool {
	if event.Action != action {
		return false
	}
	return origin == "" || event.Origin == origin
}

// assertTraceContains checks that some commit has the action type and,
// when given, the origin client.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range commits(trace) {
		if matches(event, assertion.Action, assertion.Origin) {
			return nil
		}
	}

	expected := "commit of " + assertion.Action
	if assertion.Origin != "" {
		expected += " from " + assertion.Origin
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the actions were committed in the given
// relative order. Intervening commits are allowed and an action may be
// listed more than once.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range commits(trace) {
		if next < len(assertion.Actions) && event.Action == assertion.Actions[next] {
			next++
		}
	}
	if next == len(assertion.Actions) {
		return nil
	}

	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
		Actual: fmt.Sprintf("matched %d of %d, next missing: %s",
			next, len(assertion.Actions), assertion.Actions[next]),
		Trace: trace,
	}
}

// assertTraceCount checks that the action was committed exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range commits(trace) {
		if matches(event, assertion.Action, assertion.Origin) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks one value of the master's final state.
func assertFinalState(state ir.IRValue, assertion Assertion) error {
	want, err := ir.FromAny(assertion.Equals)
	if err != nil {
		return fmt.Errorf("final_state %s: expected value: %w", assertion.Path, err)
	}

	got, err := lookupPath(state, assertion.Path)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s = %s", assertion.Path, render(want)),
			Actual:   err.Error(),
		}
	}
	if !ir.Equal(got, want) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s = %s", assertion.Path, render(want)),
			Actual:   fmt.Sprintf("%s = %s", assertion.Path, render(got)),
		}
	}
	return nil
}

// lookupPath walks a dot-separated path through objects and arrays.
func lookupPath(v ir.IRValue, path string) (ir.IRValue, error) {
	current := v
	walked := ""
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case ir.IRObject:
			child, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("key %q not found at %q", part, walked)
			}
			current = child
		case ir.IRArray:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("index %q out of range at %q (len %d)", part, walked, len(node))
			}
			current = node[i]
		default:
			return nil, fmt.Errorf("cannot descend into %T at %q", current, walked)
		}
		if walked == "" {
			walked = part
		} else {
			walked += "." + part
		}
	}
	return current, nil
}

func render(v ir.IRValue) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result.FinalState, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
