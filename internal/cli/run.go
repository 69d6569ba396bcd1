package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/resync/internal/harness"
	"github.com/roach88/resync/internal/ir"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	DB string // optional SQLite journal
}

// RunReport is the JSON form of a single scenario run.
type RunReport struct {
	Scenario            string               `json:"scenario"`
	Pass                bool                 `json:"pass"`
	RID                 string               `json:"rid"`
	Revision            int64                `json:"revision"`
	FinalChecksum       string               `json:"final_checksum"`
	FinalState          json.RawMessage      `json:"final_state"`
	Converged           bool                 `json:"converged"`
	ReplayDeterministic bool                 `json:"replay_deterministic"`
	ClientChecksums     map[string]string    `json:"client_checksums"`
	Trace               []harness.TraceEvent `json:"trace"`
	Faults              []string             `json:"faults,omitempty"`
	Errors              []string             `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Run one scenario and print its trace and final state",
		Long: `Run a single scenario and print the full outcome: the master's
trace in commit order, the final state, each client's checksum and any
faults reported to clients.

With --db the master journals into a SQLite file, which can then be
inspected with "resync trace" and "resync replay".

Exit codes:
  0 - Scenario passed
  1 - Scenario failed
  2 - Command error (invalid scenario, journal error, etc.)

Examples:
  resync run ./scenarios/three_clients_join.yaml
  resync run ./scenarios/interleaved_writers.yaml --db ./chat.db
  resync run ./scenarios/late_binder.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioCommand(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "journal the run into this SQLite file")

	return cmd
}

func runScenarioCommand(opts *RunOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return out.fail(ExitCommandError, ErrCodeScenario, "failed to load scenario", err)
	}

	runOpts, err := opts.runOptions()
	if err != nil {
		return err
	}
	if opts.DB != "" {
		j, err := openJournal(opts.DB, false)
		if err != nil {
			return err
		}
		defer j.Close()
		runOpts.Journal = j
	}

	result, err := harness.RunWithOptions(scenario, runOpts)
	if err != nil {
		return out.fail(ExitCommandError, ErrCodeGeneric, "scenario execution failed", err)
	}

	state, err := ir.MarshalCanonical(result.FinalState)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to marshal final state", err)
	}

	report := RunReport{
		Scenario:            scenario.Name,
		Pass:                result.Pass,
		RID:                 string(result.RID),
		Revision:            result.Revision,
		FinalChecksum:       result.FinalChecksum,
		FinalState:          state,
		Converged:           result.Converged,
		ReplayDeterministic: result.ReplayDeterministic,
		ClientChecksums:     result.ClientChecksums,
		Trace:               result.Trace,
		Faults:              result.Faults,
		Errors:              result.Errors,
	}

	if out.IsJSON() {
		if err := out.Result(report.Pass, report); err != nil {
			return err
		}
	} else {
		printRunReport(out, report)
	}

	if !report.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

func printRunReport(out *OutputFormatter, r RunReport) {
	out.Textf("Scenario: %s", r.Scenario)
	out.Textf("Resource: %s", r.RID)
	out.Textf("")
	out.Textf("Trace:")
	if len(r.Trace) == 0 {
		out.Textf("  (empty)")
	}
	for _, e := range r.Trace {
		line := fmt.Sprintf("  [%d] %-9s rev=%d %s by %s  %s", e.Seq, e.Kind, e.Revision, e.Action, e.Origin, shortChecksum(e.Checksum))
		if e.Error != "" {
			line += "  error: " + e.Error
		}
		out.Textf("%s", line)
	}
	out.Textf("")
	out.Textf("Final state (revision %d, %s):", r.Revision, shortChecksum(r.FinalChecksum))
	out.Textf("  %s", r.FinalState)
	out.Textf("")
	out.Textf("Clients:")
	clients := make([]string, 0, len(r.ClientChecksums))
	for id := range r.ClientChecksums {
		clients = append(clients, id)
	}
	sort.Strings(clients)
	for _, id := range clients {
		mark := "✓"
		if r.ClientChecksums[id] != r.FinalChecksum {
			mark = "✗"
		}
		out.Textf("  %s %s %s", mark, id, shortChecksum(r.ClientChecksums[id]))
	}
	for _, f := range r.Faults {
		out.Textf("  fault: %s", f)
	}
	out.Textf("")
	out.Textf("Converged: %t  Replay deterministic: %t", r.Converged, r.ReplayDeterministic)

	if r.Pass {
		out.Textf("✓ %s passed", r.Scenario)
		return
	}
	out.Textf("✗ %s failed", r.Scenario)
	for _, e := range r.Errors {
		out.Textf("  %s", e)
	}
}

// shortChecksum abbreviates a checksum for display.
func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
