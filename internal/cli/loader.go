package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/roach88/resync/internal/channel"
	"github.com/roach88/resync/internal/harness"
	"github.com/roach88/resync/internal/ir"
	"github.com/roach88/resync/internal/journal"
	"github.com/roach88/resync/internal/master"
	"github.com/roach88/resync/internal/resource"
)

// Error codes reported in JSON output.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeInvalidJSON = "E010" // State or payload is not valid JSON
	ErrCodeSchema      = "E020" // CUE schema failed to compile
	ErrCodeState       = "E021" // State rejected by a schema
	ErrCodeScenario    = "E030" // Scenario failed to load
	ErrCodeJournal     = "E040" // Journal could not be opened or read
	ErrCodeResource    = "E041" // Unknown resource or resource type
)

// journalPath resolves --db against RESYNC_JOURNAL.
func (o *RootOptions) journalPath(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if path := o.config().Journal; path != "" {
		return path, nil
	}
	return "", NewExitError(ExitCommandError, "journal path required: pass --db or set RESYNC_JOURNAL")
}

// openJournal opens an existing journal. Commands that only read must not
// create an empty database by accident.
func openJournal(path string, mustExist bool) (*journal.SQLite, error) {
	if mustExist {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", path))
		}
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return j, nil
}

// registry registers every catalog type on a fresh registry.
func registry(catalog harness.Catalog) (*resource.Registry, error) {
	reg := resource.NewRegistry()
	for _, name := range catalog.Names() {
		if err := reg.Register(catalog[name].Type); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// openMaster builds a master over the built-in types, journaling to j, and
// recovers every resource the journal holds.
func (o *RootOptions) openMaster(ctx context.Context, j journal.Journal) (*master.Master, error) {
	cfg := o.config()
	codec, err := channel.CodecByName(cfg.Codec)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid codec", err)
	}
	reg, err := registry(harness.DefaultCatalog())
	if err != nil {
		return nil, err
	}

	m := master.New(reg,
		master.WithJournal(j),
		master.WithCodec(codec),
		master.WithLogger(o.logger()),
	)
	if _, err := m.Recover(ctx); err != nil {
		m.Close()
		return nil, WrapExitError(ExitFailure, "failed to recover resources from journal", err)
	}
	return m, nil
}

// readJSONArg reads a JSON value given inline or as @path.
func readJSONArg(arg string) (ir.IRValue, error) {
	data := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data = b
	}
	v, err := ir.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return v, nil
}

// runOptions builds harness options from the loaded configuration.
func (o *RootOptions) runOptions() (harness.RunOptions, error) {
	cfg := o.config()
	codec, err := channel.CodecByName(cfg.Codec)
	if err != nil {
		return harness.RunOptions{}, WrapExitError(ExitCommandError, "invalid codec", err)
	}
	return harness.RunOptions{
		Logger:      o.logger(),
		Codec:       codec,
		StepTimeout: cfg.StepTimeout,
	}, nil
}
