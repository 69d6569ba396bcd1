package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resync/internal/chat"
)

const joinedRoom = `{"participants":{"blue-client":{"id":"blue-client","color":"blue","active":true,"joinedAt":123}},"messages":[]}`

func TestSchemaCommandPrintsBuiltIn(t *testing.T) {
	out, err := execute(t, NewSchemaCommand(textOpts()))
	require.NoError(t, err)
	assert.Equal(t, chat.SchemaSource(), out)
}

func TestSchemaCommandUnknownType(t *testing.T) {
	out, err := execute(t, NewSchemaCommand(textOpts()), "--type", "kanban")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E020]")
}

func TestSchemaCommandValidState(t *testing.T) {
	out, err := execute(t, NewSchemaCommand(jsonOpts()), "--state", joinedRoom)
	require.NoError(t, err)

	var result SchemaResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Checked)
	assert.True(t, result.Valid)
	assert.Equal(t, "3f2d1975be4cb583bb3073b06905e1f8aaad834d7a330bbb909a0594fd935717", result.Checksum)
}

func TestSchemaCommandStateFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(joinedRoom), 0o644))

	out, err := execute(t, NewSchemaCommand(textOpts()), "--state", "@"+path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ state valid for chat/schema.cue")
}

func TestSchemaCommandRejectedState(t *testing.T) {
	state := `{"participants":{"x":{"id":"","color":"blue","active":true,"joinedAt":1}},"messages":[]}`
	out, err := execute(t, NewSchemaCommand(textOpts()), "--state", state)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ state rejected")
}

func TestSchemaCommandInvalidJSON(t *testing.T) {
	_, err := execute(t, NewSchemaCommand(textOpts()), "--state", `{"count": 1.5}`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSchemaCommandFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.cue")
	require.NoError(t, os.WriteFile(path, []byte("#State: { count: int & >=0 }\n"), 0o644))

	_, err := execute(t, NewSchemaCommand(textOpts()), "--file", path, "--state", `{"count": 2}`)
	require.NoError(t, err)

	_, err = execute(t, NewSchemaCommand(textOpts()), "--file", path, "--state", `{"count": -1}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestSchemaCommandFileDoesNotCompile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.cue")
	require.NoError(t, os.WriteFile(path, []byte("#State: {"), 0o644))

	out, err := execute(t, NewSchemaCommand(jsonOpts()), "--file", path)
	require.Error(t, err)
	resp := decodeResponse(t, out, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeSchema, resp.Error.Code)
}
