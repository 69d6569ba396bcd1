package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/resync/internal/ir"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	DB     string
	RID    string
	Action string // optional action type filter
}

// TraceEntry is one journal entry as printed by the trace command.
type TraceEntry struct {
	Revision int64           `json:"revision"`
	ClientID string          `json:"client_id,omitempty"`
	Action   string          `json:"action"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Checksum string          `json:"checksum"`
}

// TraceResult is the JSON output of the trace command.
type TraceResult struct {
	RID     string       `json:"rid"`
	Type    string       `json:"type"`
	Entries []TraceEntry `json:"entries"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print a resource's commit log",
		Long: `Print the commit log of a journaled resource in revision order:
the genesis entry followed by every committed action with the client that
sent it and the resulting checksum.

Exit codes:
  0 - Log printed
  2 - Command error (journal not found, unknown resource, etc.)

Examples:
  resync trace --db ./chat.db --rid chat:1
  resync trace --db ./chat.db --rid chat:1 --action writeMessage
  resync trace --db ./chat.db --rid chat:1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite journal (default $RESYNC_JOURNAL)")
	cmd.Flags().StringVar(&opts.RID, "rid", "", "resource id")
	cmd.Flags().StringVar(&opts.Action, "action", "", "only show this action type")
	_ = cmd.MarkFlagRequired("rid")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path, err := opts.journalPath(opts.DB)
	if err != nil {
		return err
	}
	j, err := openJournal(path, true)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Entries(ctx, ir.RID(opts.RID))
	if err != nil {
		return out.fail(ExitCommandError, ErrCodeJournal, "failed to read journal", err)
	}
	if len(entries) == 0 {
		return out.fail(ExitCommandError, ErrCodeResource, fmt.Sprintf("resource %s not in journal", opts.RID), nil)
	}

	result := TraceResult{RID: opts.RID, Type: entries[0].ResourceType, Entries: []TraceEntry{}}
	for _, e := range entries {
		te := TraceEntry{Revision: e.Revision, ClientID: e.ClientID, Checksum: e.Checksum}
		if e.IsGenesis() {
			te.Action = "(genesis)"
		} else {
			te.Action = e.Action.Type
			if e.Action.Payload != nil {
				payload, err := ir.MarshalCanonical(e.Action.Payload)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to marshal payload", err)
				}
				te.Payload = payload
			}
		}
		if opts.Action != "" && te.Action != opts.Action {
			continue
		}
		result.Entries = append(result.Entries, te)
	}

	if out.IsJSON() {
		return out.Result(true, result)
	}

	out.Textf("%s (%s), %d entries", result.RID, result.Type, len(result.Entries))
	for _, te := range result.Entries {
		line := fmt.Sprintf("  @%d %s", te.Revision, te.Action)
		if te.ClientID != "" {
			line += " by " + te.ClientID
		}
		line += "  " + shortChecksum(te.Checksum)
		out.Textf("%s", line)
		if opts.Verbose && te.Payload != nil {
			out.Textf("      %s", te.Payload)
		}
	}
	return nil
}
