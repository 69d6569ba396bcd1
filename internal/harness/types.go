package harness

import (
	"github.com/roach88/resync/internal/ir"
)

// Trace event kinds.
const (
	traceBroadcast = "broadcast"
	traceReject    = "reject"
)

// TraceEvent is one master outcome: a committed broadcast or a reject.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Kind     string `json:"kind"` // "broadcast" or "reject"
	RID      string `json:"rid"`
	Revision int64  `json:"revision"`
	Origin   string `json:"origin"`
	Action   string `json:"action"`
	Checksum string `json:"checksum"`
	Error    string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// RID is the resource the scenario created.
	RID ir.RID `json:"rid"`

	// Trace lists master outcomes in commit order.
	Trace []TraceEvent `json:"trace"`

	// Errors explains every failed check. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// FinalState and FinalChecksum are the master's state after the run.
	FinalState    ir.IRValue `json:"final_state"`
	FinalChecksum string     `json:"final_checksum"`
	Revision      int64      `json:"revision"`

	// ClientChecksums maps each bound client to its local checksum.
	ClientChecksums map[string]string `json:"client_checksums"`

	// Converged is true when every bound client matched the master.
	Converged bool `json:"converged"`

	// Faults lists reducer faults reported to clients, as "client: error".
	Faults []string `json:"faults,omitempty"`

	// ReplayDeterministic reports whether folding the journal through the
	// reducer reproduced every recorded checksum.
	ReplayDeterministic bool `json:"replay_deterministic"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:            true,
		Trace:           []TraceEvent{},
		Errors:          []string{},
		ClientChecksums: make(map[string]string),
	}
}

// AddError records a failed check and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Rejects returns the number of reject events in the trace.
func (r *Result) Rejects() int {
	n := 0
	for _, e := range r.Trace {
		if e.Kind == traceReject {
			n++
		}
	}
	return n
}
