package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resync/internal/ir"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/single_join.yaml")
	require.NoError(t, err)

	assert.Equal(t, "single_join", s.Name)
	assert.Equal(t, "chat", s.ResourceType)
	assert.Equal(t, []string{"blue-client"}, s.Clients)
	require.Len(t, s.Steps, 3)
	assert.True(t, s.Steps[0].Bind)
	require.NotNil(t, s.Steps[1].Dispatch)
	assert.Equal(t, "addParticipant", s.Steps[1].Dispatch.Type)
	assert.True(t, s.Steps[2].Settle)
	require.NotNil(t, s.Expect)
	require.NotNil(t, s.Expect.Revision)
	assert.Equal(t, int64(1), *s.Expect.Revision)
	require.Len(t, s.Assertions, 2)
}

func TestLoadScenarioDir_AllTestdataScenariosLoad(t *testing.T) {
	scenarios, err := LoadScenarioDir("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	names := make(map[string]bool)
	for _, s := range scenarios {
		assert.False(t, names[s.Name], "duplicate scenario name %s", s.Name)
		names[s.Name] = true
	}
	assert.True(t, names["three_clients_join"])
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownFieldRejected(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "misspelled field"
resource_type: chat
clients: [a]
steps:
  - client: a
    bnid: true
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nresource_type: chat\nclients: [a]\nsteps: [{client: a, bind: true}]",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nresource_type: chat\nclients: [a]\nsteps: [{client: a, bind: true}]",
			wantErr: "description is required",
		},
		{
			name:    "missing resource type",
			yaml:    "name: n\ndescription: d\nclients: [a]\nsteps: [{client: a, bind: true}]",
			wantErr: "resource_type is required",
		},
		{
			name:    "no clients",
			yaml:    "name: n\ndescription: d\nresource_type: chat\nsteps: [{settle: true}]",
			wantErr: "clients list is required",
		},
		{
			name:    "duplicate client",
			yaml:    "name: n\ndescription: d\nresource_type: chat\nclients: [a, a]\nsteps: [{settle: true}]",
			wantErr: `duplicate client id "a"`,
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\nresource_type: chat\nclients: [a]",
			wantErr: "steps list is required",
		},
		{
			name:    "two operations in one step",
			yaml:    "name: n\ndescription: d\nresource_type: chat\nclients: [a]\nsteps: [{client: a, bind: true, settle: true}]",
			wantErr: "exactly one of",
		},
		{
			name:    "empty step",
			yaml:    "name: n\ndescription: d\nresource_type: chat\nclients: [a]\nsteps: [{client: a}]",
			wantErr: "exactly one of",
		},
		{
			name:    "bind without client",
			yaml:    "name: n\ndescription: d\nresource_type: chat\nclients: [a]\nsteps: [{bind: true}]",
			wantErr: "bind: client is required",
		},
		{
			name:    "unknown client",
			yaml:    "name: n\ndescription: d\nresource_type: chat\nclients: [a]\nsteps: [{client: b, bind: true}]",
			wantErr: `unknown client "b"`,
		},
		{
			name:    "dispatch without type",
			yaml:    "name: n\ndescription: d\nresource_type: chat\nclients: [a]\nsteps: [{client: a, dispatch: {payload: {x: 1}}}]",
			wantErr: "dispatch: type is required",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: n\ndescription: d\nresource_type: chat\nclients: [a]\nsteps: [{settle: true}]\nassertions: [{type: bogus}]",
			wantErr: `unknown assertion type "bogus"`,
		},
		{
			name:    "trace_order without actions",
			yaml:    "name: n\ndescription: d\nresource_type: chat\nclients: [a]\nsteps: [{settle: true}]\nassertions: [{type: trace_order}]",
			wantErr: "actions list is required",
		},
		{
			name:    "final_state without path",
			yaml:    "name: n\ndescription: d\nresource_type: chat\nclients: [a]\nsteps: [{settle: true}]\nassertions: [{type: final_state, equals: 1}]",
			wantErr: "path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestActionSpec_Action(t *testing.T) {
	yamlAction := ActionSpec{
		Type:    "writeMessage",
		Payload: map[string]any{"id": "1", "atTimestamp": 130, "nested": []any{true}},
	}
	action, err := yamlAction.Action()
	require.NoError(t, err)
	assert.Equal(t, "writeMessage", action.Type)
	assert.True(t, ir.Equal(ir.IRObject{
		"id":          ir.IRString("1"),
		"atTimestamp": ir.IRInt(130),
		"nested":      ir.IRArray{ir.IRBool(true)},
	}, action.Payload))

	_, err = ActionSpec{Type: "x", Payload: map[string]any{"f": 1.5}}.Action()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")

	bare, err := ActionSpec{Type: "noop"}.Action()
	require.NoError(t, err)
	assert.Nil(t, bare.Payload)
}
