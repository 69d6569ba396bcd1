package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/resync/internal/channel"
	"github.com/roach88/resync/internal/chat"
	"github.com/roach88/resync/internal/client"
	"github.com/roach88/resync/internal/ir"
	"github.com/roach88/resync/internal/journal"
	"github.com/roach88/resync/internal/resource"
)

// DefaultStepTimeout bounds every blocking step (bind, settle).
const DefaultStepTimeout = 5 * time.Second

// quiesceClient is the subscriber the runner uses to wait for the master.
const quiesceClient = "harness~quiesce"

// CatalogEntry is a resource type scenarios can name.
type CatalogEntry struct {
	Type resource.Type

	// Initial returns a fresh initial state. Used when a scenario has no
	// initial_state.
	Initial func() ir.IRValue
}

// Catalog maps resource type names to entries.
type Catalog map[string]CatalogEntry

// DefaultCatalog holds the built-in resource types.
func DefaultCatalog() Catalog {
	return Catalog{
		chat.ResourceType: {
			Type:    chat.Type(),
			Initial: func() ir.IRValue { return chat.InitialState() },
		},
	}
}

// Names returns the type names, sorted.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunOptions configures scenario execution.
type RunOptions struct {
	// Catalog resolves resource_type. Default: DefaultCatalog().
	Catalog Catalog

	// Logger defaults to a discarding logger.
	Logger *slog.Logger

	// Journal records the master's commits. Default: a fresh in-memory
	// journal. The caller keeps ownership; Run never closes it.
	Journal journal.Journal

	// Codec is the downstream wire codec. Default: CBOR.
	Codec channel.Codec

	// StepTimeout bounds each blocking step. Default: DefaultStepTimeout.
	StepTimeout time.Duration
}

// runner executes one scenario.
type runner struct {
	scenario *Scenario
	entry    CatalogEntry
	opts     RunOptions
	logger   *slog.Logger
	orch     *Orchestrator
	rid      ir.RID

	// handles holds the open handle per client; every handle ever bound
	// stays in all so its faults can be collected.
	handles map[string]*client.Handle
	all     map[string][]*client.Handle

	traceMu sync.Mutex
	trace   []TraceEvent
}

// Run executes a scenario with default options.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithOptions(scenario, RunOptions{})
}

// RunWithOptions executes a scenario and returns the result.
//
// Each scenario runs against a fresh master, so scenarios are isolated
// from each other. Execution flow:
//  1. Orchestrate the scenario's clients against a new master
//  2. Create the resource (the first client asks the master)
//  3. Execute steps in order, checking expect_error
//  4. Quiesce the master and settle every bound client
//  5. Collect the final state, client checksums and faults
//  6. Replay the journal and evaluate expectations and assertions
//
// An error is returned only when the scenario cannot be executed at all;
// failed checks are reported in the Result.
func RunWithOptions(scenario *Scenario, opts RunOptions) (*Result, error) {
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Journal == nil {
		opts.Journal = journal.NewMemory()
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}

	entry, ok := opts.Catalog[scenario.ResourceType]
	if !ok {
		return nil, resource.NewUnknownResourceTypeError(scenario.ResourceType)
	}

	r := &runner{
		scenario: scenario,
		entry:    entry,
		opts:     opts,
		logger:   opts.Logger.With("scenario", scenario.Name),
		handles:  make(map[string]*client.Handle),
		all:      make(map[string][]*client.Handle),
	}

	orch, err := Orchestrate(OrchestrateOptions{
		ClientIDs:    scenario.Clients,
		ResourceType: entry.Type.Name,
		Reducer:      entry.Type.Reducer,
		Schema:       entry.Type.Schema,
		Journal:      opts.Journal,
		Codec:        opts.Codec,
		Observer:     r.observe,
		Logger:       opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	r.orch = orch
	defer orch.Close()

	if err := r.create(); err != nil {
		return nil, err
	}

	result := NewResult()
	result.RID = r.rid

	r.executeSteps(result)
	r.finish(result)
	r.evaluate(result)

	return result, nil
}

// observe records every broadcast and reject. The master calls it from the
// resource's lane in commit order.
func (r *runner) observe(msg channel.Message) {
	event := TraceEvent{
		RID:      string(msg.RID),
		Revision: msg.Revision,
		Origin:   msg.Origin,
		Action:   msg.ActionType,
		Checksum: msg.Checksum,
	}
	switch msg.Kind {
	case channel.KindBroadcast:
		event.Kind = traceBroadcast
	case channel.KindReject:
		event.Kind = traceReject
		event.Error = msg.Error
	default:
		return
	}

	r.traceMu.Lock()
	defer r.traceMu.Unlock()
	event.Seq = int64(len(r.trace) + 1)
	r.trace = append(r.trace, event)
}

func (r *runner) create() error {
	initial := r.entry.Initial
	var state ir.IRValue
	if r.scenario.InitialState != nil {
		v, err := ir.FromAny(r.scenario.InitialState)
		if err != nil {
			return fmt.Errorf("initial_state: %w", err)
		}
		state = v
	} else if initial != nil {
		state = initial()
	} else {
		return fmt.Errorf("resource type %s has no initial state; set initial_state", r.scenario.ResourceType)
	}

	creator, _ := r.orch.Client(r.scenario.Clients[0])
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.StepTimeout)
	defer cancel()

	rid, err := creator.Create(ctx, state)
	if err != nil {
		return fmt.Errorf("create %s: %w", r.scenario.ResourceType, err)
	}
	r.rid = rid
	r.logger.Debug("resource created", "rid", rid, "creator", creator.ClientID())
	return nil
}

// executeSteps runs steps in order. The first unexpected outcome is
// recorded and ends execution; the end state is still collected.
func (r *runner) executeSteps(result *Result) {
	for i, step := range r.scenario.Steps {
		err := r.executeStep(step)

		switch {
		case step.ExpectError != "" && err == nil:
			result.AddError(fmt.Sprintf("steps[%d]: expected error containing %q, got none", i, step.ExpectError))
			return
		case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
			result.AddError(fmt.Sprintf("steps[%d]: expected error containing %q, got: %v", i, step.ExpectError, err))
			return
		case step.ExpectError == "" && err != nil:
			result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
			return
		}

		r.logger.Debug("step completed",
			"step", i,
			"client", step.Client,
			"op", stepOp(step),
		)
	}
}

func stepOp(step Step) string {
	switch {
	case step.Bind:
		return "bind"
	case step.BindAsync:
		return "bind_async"
	case step.Dispatch != nil:
		return "dispatch:" + step.Dispatch.Type
	case step.Settle:
		return "settle"
	case step.Unsubscribe:
		return "unsubscribe"
	default:
		return "unknown"
	}
}

func (r *runner) executeStep(step Step) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.StepTimeout)
	defer cancel()

	res, _ := r.orch.Client(step.Client)

	switch {
	case step.Bind:
		h, err := res.Bind(ctx, r.rid)
		if err != nil {
			return err
		}
		r.track(step.Client, h)
		return nil

	case step.BindAsync:
		r.track(step.Client, res.BindAsync(ctx, r.rid))
		return nil

	case step.Dispatch != nil:
		h, ok := r.handles[step.Client]
		if !ok {
			return fmt.Errorf("client %s is not bound", step.Client)
		}
		action, err := step.Dispatch.Action()
		if err != nil {
			return err
		}
		return h.Dispatch(action)

	case step.Settle:
		if step.Client != "" {
			h, ok := r.handles[step.Client]
			if !ok {
				return fmt.Errorf("client %s is not bound", step.Client)
			}
			return h.Settle(ctx)
		}
		return r.settleAll(ctx)

	case step.Unsubscribe:
		res.Unsubscribe()
		delete(r.handles, step.Client)
		return nil
	}
	return fmt.Errorf("empty step")
}

func (r *runner) track(clientID string, h *client.Handle) {
	if r.handles[clientID] != h {
		r.all[clientID] = append(r.all[clientID], h)
	}
	r.handles[clientID] = h
}

// settleAll settles every bound client in scenario order.
func (r *runner) settleAll(ctx context.Context) error {
	for _, id := range r.scenario.Clients {
		h, ok := r.handles[id]
		if !ok {
			continue
		}
		if err := h.Settle(ctx); err != nil {
			return fmt.Errorf("settle %s: %w", id, err)
		}
	}
	return nil
}

// quiesce waits until the master has processed every request enqueued so
// far, including those of clients that already unsubscribed.
func (r *runner) quiesce(ctx context.Context) error {
	m := r.orch.Master()
	inbox, err := m.Subscribe(ctx, r.rid, quiesceClient)
	if err != nil {
		return err
	}
	defer m.UnsubscribeFrom(r.rid, quiesceClient)

	token, err := m.Flush(ctx, r.rid, quiesceClient)
	if err != nil {
		return err
	}
	for {
		msg, err := inbox.Receive(ctx)
		if errors.Is(err, channel.ErrUndecodable) {
			continue
		}
		if err != nil {
			return err
		}
		if msg.Kind == channel.KindBarrier && msg.Token == token {
			return nil
		}
	}
}

// finish brings the session to rest and collects the end state.
func (r *runner) finish(result *Result) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.StepTimeout)
	defer cancel()

	if err := r.quiesce(ctx); err != nil {
		result.AddError(fmt.Sprintf("quiesce master: %v", err))
	}
	if err := r.settleAll(ctx); err != nil {
		result.AddError(fmt.Sprintf("final settle: %v", err))
	}

	r.traceMu.Lock()
	result.Trace = append(result.Trace, r.trace...)
	r.traceMu.Unlock()

	snap, err := r.orch.Master().Get(r.rid)
	if err != nil {
		result.AddError(fmt.Sprintf("read final state: %v", err))
		return
	}
	result.FinalState = snap.Checked.State
	result.FinalChecksum = snap.Checked.Checksum
	result.Revision = snap.Revision

	result.Converged = true
	for _, id := range r.scenario.Clients {
		h, ok := r.handles[id]
		if !ok {
			continue
		}
		local := h.Checked()
		result.ClientChecksums[id] = local.Checksum
		if local.Checksum != snap.Checked.Checksum || !h.InSync() {
			result.Converged = false
		}
	}

	for _, id := range r.scenario.Clients {
		for _, h := range r.all[id] {
			result.Faults = append(result.Faults, drainFaults(id, h)...)
		}
	}

	replay, err := journal.Replay(ctx, r.opts.Journal, r.rid, r.entry.Type.Reducer.Run)
	switch {
	case err != nil:
		result.AddError(fmt.Sprintf("replay journal: %v", err))
	case !replay.Deterministic():
		result.AddError(fmt.Sprintf("replay diverged at revision %d", replay.Mismatches[0].Revision))
	case replay.Final.Checksum != snap.Checked.Checksum:
		result.AddError(fmt.Sprintf("replay final checksum %s differs from master %s",
			replay.Final.Short(), snap.Checked.Short()))
	default:
		result.ReplayDeterministic = true
	}
}

func drainFaults(clientID string, h *client.Handle) []string {
	var out []string
	for {
		select {
		case err := <-h.Faults():
			out = append(out, fmt.Sprintf("%s: %v", clientID, err))
		default:
			return out
		}
	}
}

// evaluate checks the scenario's expectations and assertions.
func (r *runner) evaluate(result *Result) {
	if exp := r.scenario.Expect; exp != nil {
		if exp.State != nil {
			want, err := ir.FromAny(exp.State)
			switch {
			case err != nil:
				result.AddError(fmt.Sprintf("expect.state: %v", err))
			case !ir.Equal(want, result.FinalState):
				result.AddError(fmt.Sprintf("expect.state: want %s, got %s",
					render(want), render(result.FinalState)))
			}
		}
		if exp.Converged != nil && *exp.Converged != result.Converged {
			result.AddError(fmt.Sprintf("expect.converged: want %t, got %t (master %s, clients %v)",
				*exp.Converged, result.Converged, result.FinalChecksum, result.ClientChecksums))
		}
		if exp.Revision != nil && *exp.Revision != result.Revision {
			result.AddError(fmt.Sprintf("expect.revision: want %d, got %d", *exp.Revision, result.Revision))
		}
		if exp.Rejects != nil && *exp.Rejects != result.Rejects() {
			result.AddError(fmt.Sprintf("expect.rejects: want %d, got %d", *exp.Rejects, result.Rejects()))
		}
	}

	for _, msg := range EvaluateAssertions(result, r.scenario.Assertions) {
		result.AddError(msg)
	}
}
