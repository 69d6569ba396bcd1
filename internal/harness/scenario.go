package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/resync/internal/ir"
)

// Scenario is a scripted session of several clients on one resource.
type Scenario struct {
	// Name uniquely identifies this scenario; it also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ResourceType selects the reducer from the catalog.
	ResourceType string `yaml:"resource_type"`

	// Clients lists the client ids taking part.
	Clients []string `yaml:"clients"`

	// InitialState is the state the resource is created with. If absent,
	// the catalog's initial state for the type is used.
	InitialState map[string]any `yaml:"initial_state,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Expect validates the quiescent end state.
	Expect *Expectation `yaml:"expect,omitempty"`

	// Assertions validate the trace.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one scripted operation. Exactly one of Bind, BindAsync,
// Dispatch, Settle and Unsubscribe is set.
type Step struct {
	// Client performs the step. Optional for settle (all clients).
	Client string `yaml:"client,omitempty"`

	Bind        bool        `yaml:"bind,omitempty"`
	BindAsync   bool        `yaml:"bind_async,omitempty"`
	Dispatch    *ActionSpec `yaml:"dispatch,omitempty"`
	Settle      bool        `yaml:"settle,omitempty"`
	Unsubscribe bool        `yaml:"unsubscribe,omitempty"`

	// ExpectError, when set, requires the step to fail with an error
	// containing this text.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// ActionSpec is an action as written in YAML.
type ActionSpec struct {
	Type    string         `yaml:"type"`
	Payload map[string]any `yaml:"payload,omitempty"`
}

// Action converts the YAML action into an ir.Action.
func (a ActionSpec) Action() (ir.Action, error) {
	if a.Payload == nil {
		return ir.Action{Type: a.Type}, nil
	}
	payload, err := ir.FromAny(a.Payload)
	if err != nil {
		return ir.Action{}, fmt.Errorf("action %s: payload: %w", a.Type, err)
	}
	return ir.Action{Type: a.Type, Payload: payload}, nil
}

// Expectation validates the end state.
type Expectation struct {
	// State must equal the master's final state exactly.
	State map[string]any `yaml:"state,omitempty"`

	// Converged requires every bound client to hold the master's checksum.
	Converged *bool `yaml:"converged,omitempty"`

	// Revision is the expected final revision.
	Revision *int64 `yaml:"revision,omitempty"`

	// Rejects is the expected number of master rejects.
	Rejects *int `yaml:"rejects,omitempty"`
}

// Assertion validates the trace.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Action is the action type (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Origin optionally restricts matches to one client.
	Origin string `yaml:"origin,omitempty"`

	// Actions is the expected relative order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number of broadcasts (trace_count).
	Count int `yaml:"count,omitempty"`

	// Path is a dot-separated path into the final state (final_state).
	// Array elements are addressed by index, e.g. "messages.0.content".
	Path string `yaml:"path,omitempty"`

	// Equals is the value expected at Path (final_state).
	Equals any `yaml:"equals,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and validates a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarioDir loads every *.yaml file in dir, sorted by file name.
func LoadScenarioDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.ResourceType == "" {
		return fmt.Errorf("resource_type is required")
	}
	if len(s.Clients) == 0 {
		return fmt.Errorf("clients list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	known := make(map[string]bool, len(s.Clients))
	for _, id := range s.Clients {
		if id == "" {
			return fmt.Errorf("clients: empty client id")
		}
		if known[id] {
			return fmt.Errorf("clients: duplicate client id %q", id)
		}
		known[id] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(step, known); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, known map[string]bool) error {
	var ops []string
	if step.Bind {
		ops = append(ops, "bind")
	}
	if step.BindAsync {
		ops = append(ops, "bind_async")
	}
	if step.Dispatch != nil {
		ops = append(ops, "dispatch")
	}
	if step.Settle {
		ops = append(ops, "settle")
	}
	if step.Unsubscribe {
		ops = append(ops, "unsubscribe")
	}
	if len(ops) != 1 {
		return fmt.Errorf("exactly one of bind, bind_async, dispatch, settle, unsubscribe is required (got %s)",
			strings.Join(ops, ", "))
	}

	if step.Client == "" && !step.Settle {
		return fmt.Errorf("%s: client is required", ops[0])
	}
	if step.Client != "" && !known[step.Client] {
		return fmt.Errorf("unknown client %q", step.Client)
	}
	if step.Dispatch != nil && step.Dispatch.Type == "" {
		return fmt.Errorf("dispatch: type is required")
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("action is required for trace_contains")
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("actions list is required for trace_order")
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("action is required for trace_count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for trace_count")
		}
	case AssertFinalState:
		if a.Path == "" {
			return fmt.Errorf("path is required for final_state")
		}
		if a.Equals == nil {
			return fmt.Errorf("equals is required for final_state")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
