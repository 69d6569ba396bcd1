package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := execute(t, NewTestCommand(textOpts()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestTestCommandNonExistentPath(t *testing.T) {
	_, err := execute(t, NewTestCommand(textOpts()), "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid scenario path")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := execute(t, NewTestCommand(textOpts()), t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyDirJSON(t *testing.T) {
	out, err := execute(t, NewTestCommand(jsonOpts()), t.TempDir())
	require.NoError(t, err)

	var result TestResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, result.Total)
	assert.Empty(t, result.Scenarios)
}

func TestTestCommandRunsHarnessScenarios(t *testing.T) {
	out, err := execute(t, NewTestCommand(textOpts()), harnessScenarios)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ single_join")
	assert.Contains(t, out, "✓ three_clients_join")
	assert.Contains(t, out, "6 passed, 0 failed, 6 total")
}

func TestTestCommandFilter(t *testing.T) {
	out, err := execute(t, NewTestCommand(jsonOpts()), harnessScenarios, "--filter", "*_join")

	require.NoError(t, err)
	var result TestResult
	decodeResponse(t, out, &result)
	require.Equal(t, 3, result.Total)
	assert.Equal(t, "message_after_join", result.Scenarios[0].Name)
	assert.Equal(t, "single_join", result.Scenarios[1].Name)
	assert.Equal(t, "three_clients_join", result.Scenarios[2].Name)
}

func TestTestCommandInvalidFilter(t *testing.T) {
	_, err := execute(t, NewTestCommand(textOpts()), harnessScenarios, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandUpdateThenMatch(t *testing.T) {
	dir := copyScenarios(t, "single_join", "late_binder")

	out, err := execute(t, NewTestCommand(textOpts()), dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ single_join (golden updated)")
	assert.FileExists(t, filepath.Join(dir, "golden", "single_join.golden"))
	assert.FileExists(t, filepath.Join(dir, "golden", "late_binder.golden"))

	out, err = execute(t, NewTestCommand(jsonOpts()), dir)
	require.NoError(t, err)
	var result TestResult
	decodeResponse(t, out, &result)
	require.Len(t, result.Scenarios, 2)
	for _, s := range result.Scenarios {
		assert.True(t, s.Pass, s.Name)
		assert.Equal(t, "match", s.Golden, s.Name)
	}
}

func TestTestCommandGoldenMatchesHarnessGolden(t *testing.T) {
	dir := copyScenarios(t, "three_clients_join")
	golden, err := os.ReadFile("../harness/testdata/golden/three_clients_join.golden")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "three_clients_join.golden"), golden, 0o644))

	out, err := execute(t, NewTestCommand(jsonOpts()), dir)
	require.NoError(t, err)
	var result TestResult
	decodeResponse(t, out, &result)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "match", result.Scenarios[0].Golden)
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := copyScenarios(t, "single_join")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "single_join.golden"), []byte(`{"trace":[]}`), 0o644))

	out, err := execute(t, NewTestCommand(textOpts()), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ single_join")
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: wrong_revision
description: "Expects a revision that is never reached"
resource_type: chat
clients: [blue-client]
steps:
  - client: blue-client
    bind: true
expect:
  revision: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong_revision.yaml"), []byte(scenario), 0o644))

	out, err := execute(t, NewTestCommand(textOpts()), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_revision")
	assert.Contains(t, out, "expect.revision: want 5, got 0")
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [unclosed"), 0o644))

	out, err := execute(t, NewTestCommand(jsonOpts()), dir)
	require.Error(t, err)

	var result TestResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "broken.yaml", result.Scenarios[0].Name)
	assert.Contains(t, result.Scenarios[0].Errors[0], "failed to load scenario")
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("scenarios", "golden", "single_join.golden"),
		goldenFilePath(filepath.Join("scenarios", "single_join.yaml")))
}
