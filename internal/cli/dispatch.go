package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/resync/internal/client"
	"github.com/roach88/resync/internal/harness"
	"github.com/roach88/resync/internal/ir"
	"github.com/roach88/resync/internal/resource"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	DB    string
	Type  string
	State string // initial state JSON, inline or @path
}

// CreateResult is the JSON output of the create command.
type CreateResult struct {
	RID      string `json:"rid"`
	Type     string `json:"type"`
	Checksum string `json:"checksum"`
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a resource in a journal",
		Long: `Create a resource and record its genesis in a SQLite journal.

The initial state defaults to the type's empty state. The new resource id
is printed; pass it to "resync dispatch".

Exit codes:
  0 - Resource created
  1 - Initial state rejected
  2 - Command error (unknown type, bad JSON, journal error)

Examples:
  resync create --db ./chat.db
  resync create --db ./chat.db --state @room.json --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite journal (default $RESYNC_JOURNAL)")
	cmd.Flags().StringVar(&opts.Type, "type", "chat", "resource type")
	cmd.Flags().StringVar(&opts.State, "state", "", "initial state JSON (inline or @file)")

	return cmd
}

func runCreate(opts *CreateOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	entry, ok := harness.DefaultCatalog()[opts.Type]
	if !ok {
		return out.fail(ExitCommandError, ErrCodeResource, "unknown resource type",
			resource.NewUnknownResourceTypeError(opts.Type))
	}
	initial := entry.Initial()
	if opts.State != "" {
		v, err := readJSONArg(opts.State)
		if err != nil {
			return out.fail(ExitCommandError, ErrCodeInvalidJSON, "failed to read state", err)
		}
		initial = v
	}

	path, err := opts.journalPath(opts.DB)
	if err != nil {
		return err
	}
	j, err := openJournal(path, false)
	if err != nil {
		return err
	}
	defer j.Close()

	m, err := opts.openMaster(ctx, j)
	if err != nil {
		return err
	}
	defer m.Close()

	rid, err := m.Create(ctx, opts.Type, initial)
	if err != nil {
		if resource.IsInvalidState(err) {
			return out.fail(ExitFailure, ErrCodeState, "initial state rejected", err)
		}
		return out.fail(ExitCommandError, ErrCodeJournal, "failed to create resource", err)
	}
	snap, err := m.Get(rid)
	if err != nil {
		return err
	}

	result := CreateResult{RID: string(rid), Type: opts.Type, Checksum: snap.Checked.Checksum}
	if out.IsJSON() {
		return out.Result(true, result)
	}
	fmt.Fprintln(out.Writer, rid)
	return nil
}

// DispatchOptions holds flags for the dispatch command.
type DispatchOptions struct {
	*RootOptions
	DB      string
	RID     string
	Action  string
	Payload string // JSON object, inline or @path
}

// DispatchResult is the JSON output of the dispatch command.
type DispatchResult struct {
	RID      string          `json:"rid"`
	Action   string          `json:"action"`
	ClientID string          `json:"client_id"`
	Accepted bool            `json:"accepted"`
	Revision int64           `json:"revision"`
	Checksum string          `json:"checksum"`
	State    json.RawMessage `json:"state"`
	Error    string          `json:"error,omitempty"`
}

// NewDispatchCommand creates the dispatch command.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DispatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch one action to a journaled resource",
		Long: `Recover the master from a SQLite journal, bind a client to the
resource and dispatch one action through it. The command waits until the
master has committed or rejected the action and prints the resulting
revision and state. The client id comes from RESYNC_CLIENT_ID.

Exit codes:
  0 - Action committed
  1 - Action rejected (local or master reducer fault)
  2 - Command error (unknown resource, bad JSON, journal error)

Examples:
  resync dispatch --db ./chat.db --rid chat:... --action addParticipant \
    --payload '{"id":"blue-client","color":"blue","atTimestamp":123}'
  resync dispatch --db ./chat.db --rid chat:... --action writeMessage --payload @msg.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite journal (default $RESYNC_JOURNAL)")
	cmd.Flags().StringVar(&opts.RID, "rid", "", "resource id")
	cmd.Flags().StringVar(&opts.Action, "action", "", "action type")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "action payload JSON object (inline or @file)")
	_ = cmd.MarkFlagRequired("rid")
	_ = cmd.MarkFlagRequired("action")

	return cmd
}

func runDispatch(opts *DispatchOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	cfg := opts.config()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.StepTimeout)
	defer cancel()

	action := ir.Action{Type: opts.Action}
	if opts.Payload != "" {
		v, err := readJSONArg(opts.Payload)
		if err != nil {
			return out.fail(ExitCommandError, ErrCodeInvalidJSON, "failed to read payload", err)
		}
		payload, ok := v.(ir.IRObject)
		if !ok {
			return out.fail(ExitCommandError, ErrCodeInvalidJSON, "payload must be a JSON object", nil)
		}
		action.Payload = payload
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

	m, err := opts.openMaster(ctx, j)
	if err != nil {
		return err
	}
	defer m.Close()

	rid := ir.RID(opts.RID)
	snap, err := m.Get(rid)
	if err != nil {
		return out.fail(ExitCommandError, ErrCodeResource, "unknown resource", err)
	}
	entry, ok := harness.DefaultCatalog()[snap.ResourceType]
	if !ok {
		return out.fail(ExitCommandError, ErrCodeResource, "unknown resource type",
			resource.NewUnknownResourceTypeError(snap.ResourceType))
	}

	res := client.New(cfg.ClientID, snap.ResourceType, entry.Type.Reducer, m,
		client.WithLogger(opts.logger()))
	defer res.Unsubscribe()

	h, err := res.Bind(ctx, rid)
	if err != nil {
		return out.fail(ExitCommandError, ErrCodeResource, "failed to bind", err)
	}

	result := DispatchResult{RID: opts.RID, Action: opts.Action, ClientID: cfg.ClientID, Accepted: true}
	if err := h.Dispatch(action); err != nil {
		result.Accepted = false
		result.Error = err.Error()
	} else if err := h.Settle(ctx); err != nil {
		return WrapExitError(ExitCommandError, "master did not settle", err)
	}

	// A master reject arrives as a fault before Settle returns.
	select {
	case fault := <-h.Faults():
		result.Accepted = false
		result.Error = fault.Error()
	default:
	}

	checked := h.Checked()
	state, err := ir.MarshalCanonical(checked.State)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to marshal state", err)
	}
	result.Revision = h.Revision()
	result.Checksum = checked.Checksum
	result.State = state

	if err := out.Result(result.Accepted, result); err != nil {
		return err
	}
	if !result.Accepted {
		out.Textf("✗ %s rejected on %s", opts.Action, opts.RID)
		out.Textf("  %s", result.Error)
		out.Textf("  revision %d, %s", result.Revision, shortChecksum(result.Checksum))
		return NewExitError(ExitFailure, "action rejected: "+result.Error)
	}
	out.Textf("✓ %s committed on %s", opts.Action, opts.RID)
	out.Textf("  revision %d, %s", result.Revision, shortChecksum(result.Checksum))
	out.Textf("  %s", result.State)
	return nil
}
