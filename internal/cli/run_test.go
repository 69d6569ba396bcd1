package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resync/internal/journal"
)

func TestRunCommandMissingArg(t *testing.T) {
	_, err := execute(t, NewRunCommand(textOpts()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestRunCommandLoadError(t *testing.T) {
	out, err := execute(t, NewRunCommand(textOpts()), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E030]: failed to load scenario")
}

func TestRunCommandText(t *testing.T) {
	out, err := execute(t, NewRunCommand(textOpts()), filepath.Join(harnessScenarios, "three_clients_join.yaml"))
	require.NoError(t, err)

	assert.Contains(t, out, "Scenario: three_clients_join")
	assert.Contains(t, out, "Resource: chat:1")
	assert.Contains(t, out, "[1] broadcast rev=1 addParticipant by blue-client")
	assert.Contains(t, out, "✓ orange-client")
	assert.Contains(t, out, "Converged: true  Replay deterministic: true")
	assert.Contains(t, out, "✓ three_clients_join passed")
}

func TestRunCommandJSON(t *testing.T) {
	out, err := execute(t, NewRunCommand(jsonOpts()), filepath.Join(harnessScenarios, "single_join.yaml"))
	require.NoError(t, err)

	var report RunReport
	resp := decodeResponse(t, out, &report)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, report.Pass)
	assert.Equal(t, "chat:1", report.RID)
	assert.Equal(t, int64(1), report.Revision)
	assert.Equal(t, "3f2d1975be4cb583bb3073b06905e1f8aaad834d7a330bbb909a0594fd935717", report.FinalChecksum)
	assert.Equal(t, report.FinalChecksum, report.ClientChecksums["blue-client"])
	require.Len(t, report.Trace, 1)
	assert.Equal(t, "addParticipant", report.Trace[0].Action)
	assert.JSONEq(t,
		`{"messages":[],"participants":{"blue-client":{"active":true,"color":"blue","id":"blue-client","joinedAt":123}}}`,
		string(report.FinalState))
}

func TestRunCommandJournalsToSQLite(t *testing.T) {
	db := filepath.Join(t.TempDir(), "run.db")
	_, err := execute(t, NewRunCommand(textOpts()), filepath.Join(harnessScenarios, "message_after_join.yaml"), "--db", db)
	require.NoError(t, err)

	j, err := journal.Open(db)
	require.NoError(t, err)
	defer j.Close()

	records, err := j.Resources(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "chat", records[0].ResourceType)
	assert.Positive(t, records[0].Revision)
}

func TestRunCommandJSONCodec(t *testing.T) {
	opts := textOpts()
	cfg := opts.config()
	cfg.Codec = "json"
	opts.Config = &cfg

	out, err := execute(t, NewRunCommand(opts), filepath.Join(harnessScenarios, "interleaved_writers.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ interleaved_writers passed")
}
