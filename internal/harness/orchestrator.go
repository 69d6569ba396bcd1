package harness

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/resync/internal/channel"
	"github.com/roach88/resync/internal/client"
	"github.com/roach88/resync/internal/journal"
	"github.com/roach88/resync/internal/master"
	"github.com/roach88/resync/internal/resource"
	"github.com/roach88/resync/internal/schema"
)

// OrchestrateOptions configures an in-process deployment.
type OrchestrateOptions struct {
	// ClientIDs lists the clients to create, in order. Required.
	ClientIDs []string

	// ResourceType names the type every client proxies. Required.
	ResourceType string

	// Reducer is shared by the master and every client. Required.
	Reducer resource.Reducer

	// Schema optionally validates states on the master.
	Schema *schema.Schema

	// Journal records master commits. Default: none.
	Journal journal.Journal

	// IDs allocates rids. Default: "<type>:<n>" in creation order.
	IDs resource.IDGenerator

	// Codec is the downstream wire codec. Default: CBOR.
	Codec channel.Codec

	// Observer sees every broadcast and reject.
	Observer master.Observer

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Orchestrator is one master and N client proxies wired in-process.
type Orchestrator struct {
	master  *master.Master
	clients []*client.Resource
	byID    map[string]*client.Resource
}

// Orchestrate builds a master serving one resource type and a client
// Resource per client id, each talking to the master directly.
func Orchestrate(opts OrchestrateOptions) (*Orchestrator, error) {
	if len(opts.ClientIDs) == 0 {
		return nil, fmt.Errorf("orchestrate: at least one client id is required")
	}
	if opts.ResourceType == "" {
		return nil, fmt.Errorf("orchestrate: resource type is required")
	}
	if opts.Reducer == nil {
		return nil, fmt.Errorf("orchestrate: reducer is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ids := opts.IDs
	if ids == nil {
		ids = resource.NewFixedGenerator()
	}

	registry := resource.NewRegistry()
	if err := registry.Register(resource.Type{
		Name:    opts.ResourceType,
		Reducer: opts.Reducer,
		Schema:  opts.Schema,
	}); err != nil {
		return nil, fmt.Errorf("orchestrate: %w", err)
	}

	masterOpts := []master.Option{
		master.WithLogger(logger),
		master.WithIDGenerator(ids),
	}
	if opts.Journal != nil {
		masterOpts = append(masterOpts, master.WithJournal(opts.Journal))
	}
	if opts.Codec != nil {
		masterOpts = append(masterOpts, master.WithCodec(opts.Codec))
	}
	if opts.Observer != nil {
		masterOpts = append(masterOpts, master.WithObserver(opts.Observer))
	}

	o := &Orchestrator{
		master: master.New(registry, masterOpts...),
		byID:   make(map[string]*client.Resource, len(opts.ClientIDs)),
	}
	for _, id := range opts.ClientIDs {
		if _, dup := o.byID[id]; dup {
			o.master.Close()
			return nil, fmt.Errorf("orchestrate: duplicate client id %q", id)
		}
		r := client.New(id, opts.ResourceType, opts.Reducer, o.master, client.WithLogger(logger))
		o.clients = append(o.clients, r)
		o.byID[id] = r
	}
	return o, nil
}

// Clients returns the client resources in ClientIDs order.
func (o *Orchestrator) Clients() []*client.Resource {
	out := make([]*client.Resource, len(o.clients))
	copy(out, o.clients)
	return out
}

// Client returns the resource of one client.
func (o *Orchestrator) Client(id string) (*client.Resource, bool) {
	r, ok := o.byID[id]
	return r, ok
}

// Master returns the shared master.
func (o *Orchestrator) Master() *master.Master {
	return o.master
}

// Reset ends every subscription, leaving resources in place. Use between
// test cases sharing one orchestrator.
func (o *Orchestrator) Reset() {
	for _, c := range o.clients {
		c.Unsubscribe()
	}
	o.master.UnsubscribeAll()
}

// Close resets and shuts the master down.
func (o *Orchestrator) Close() error {
	o.Reset()
	return o.master.Close()
}
