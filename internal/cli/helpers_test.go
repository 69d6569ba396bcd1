package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resync/internal/chat"
	"github.com/roach88/resync/internal/client"
	"github.com/roach88/resync/internal/journal"
	"github.com/roach88/resync/internal/master"
	"github.com/roach88/resync/internal/resource"
	"github.com/roach88/resync/internal/testutil"
)

const harnessScenarios = "../harness/testdata/scenarios"

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func textOpts() *RootOptions {
	return &RootOptions{Format: "text"}
}

func jsonOpts() *RootOptions {
	return &RootOptions{Format: "json"}
}

// decodeResponse parses a JSON envelope and re-decodes its data into out.
func decodeResponse(t *testing.T, raw string, out any) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp), raw)
	if out != nil && resp.Data != nil {
		data, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out))
	}
	return resp
}

// copyScenarios copies the named harness scenarios into a fresh directory.
func copyScenarios(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(harnessScenarios, name+".yaml"))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0o644))
	}
	return dir
}

// seedJournal writes a chat room "chat:1" with two participants and one
// message into a new SQLite journal.
func seedJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	ctx := testutil.Context(t)

	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	m := master.New(resource.NewRegistry(chat.Type()),
		master.WithJournal(j),
		master.WithIDGenerator(resource.NewFixedGenerator("chat:1")),
		master.WithLogger(testutil.DiscardLogger()),
	)
	defer m.Close()

	rid, err := m.Create(ctx, chat.ResourceType, chat.InitialState())
	require.NoError(t, err)

	blue := client.New("blue-client", chat.ResourceType, chat.Reduce, m, client.WithLogger(testutil.DiscardLogger()))
	h, err := blue.Bind(ctx, rid)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(chat.AddParticipant("blue-client", "blue", 123)))
	require.NoError(t, h.Dispatch(chat.AddParticipant("orange-client", "orange", 124)))
	require.NoError(t, h.Dispatch(chat.WriteMessage("1", "blue-client", "hi", 130)))
	require.NoError(t, h.Settle(ctx))
	blue.Unsubscribe()

	return path
}
