package resource

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/resync/internal/ir"
	"github.com/roach88/resync/internal/schema"
)

// Reducer computes the next state of a resource. It must be pure and total:
// unknown action types return the state unchanged. Returning an error aborts
// the action without changing anything.
//
// The state passed in is a private copy; a reducer may build the next state
// from it freely, but should not rely on later mutations being visible.
type Reducer func(state ir.IRValue, action ir.Action) (ir.IRValue, error)

// Run calls the reducer on a deep copy of state. A panic or a nil result is
// converted into an error, so callers only ever see a next state or an
// error.
func (r Reducer) Run(state ir.IRValue, action ir.Action) (next ir.IRValue, err error) {
	defer func() {
		if p := recover(); p != nil {
			next = nil
			err = fmt.Errorf("reducer panicked: %v", p)
		}
	}()

	next, err = r(ir.Clone(state), action)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, fmt.Errorf("reducer returned no state for action %q", action.Type)
	}
	return next, nil
}

// Type describes a resource type: the reducer every instance shares and an
// optional schema states must satisfy.
type Type struct {
	Name    string
	Reducer Reducer
	Schema  *schema.Schema
}

// Registry maps resource type names to their definitions.
// Thread-safety: safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewRegistry creates a registry preloaded with types.
// Panics on an invalid or duplicate type, since registration happens at
// process start with literal definitions.
func NewRegistry(types ...Type) *Registry {
	r := &Registry{types: make(map[string]Type, len(types))}
	for _, t := range types {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a resource type. Names must be unique and non-empty, and a
// reducer is required.
func (r *Registry) Register(t Type) error {
	if t.Name == "" {
		return fmt.Errorf("resource type name is required")
	}
	if t.Reducer == nil {
		return fmt.Errorf("resource type %q: reducer is required", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[t.Name]; exists {
		return fmt.Errorf("resource type %q already registered", t.Name)
	}
	r.types[t.Name] = t
	return nil
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	if !ok {
		return Type{}, NewUnknownResourceTypeError(name)
	}
	return t, nil
}

// Names returns registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
