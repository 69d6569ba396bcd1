package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/resync/internal/harness"
	"github.com/roach88/resync/internal/schema"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// FileValidation is the outcome for one file.
type FileValidation struct {
	File  string `json:"file"`
	Kind  string `json:"kind"` // "scenario" or "schema"
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ValidateResult lists every validated file.
type ValidateResult struct {
	Files   []FileValidation `json:"files"`
	Valid   int              `json:"valid"`
	Invalid int              `json:"invalid"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <file-or-dir>...",
		Short: "Validate scenario files and CUE schemas without running them",
		Long: `Validate scenario files (.yaml, .yml) and state schemas (.cue).

Scenarios are parsed strictly: unknown fields, missing required fields,
steps naming undeclared clients and malformed assertions are errors. Schemas
must compile and declare a #State definition. Directories are searched
(non-recursively) for both kinds of file.

Exit codes:
  0 - All files valid
  1 - One or more files invalid
  2 - Command error (path not found, etc.)

Examples:
  resync validate ./scenarios
  resync validate ./schemas/room.cue ./scenarios/single_join.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, paths []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	files, err := expandValidatePaths(paths)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid path", err)
	}

	var result ValidateResult
	for _, f := range files {
		v := validateFile(f)
		result.Files = append(result.Files, v)
		if v.Valid {
			result.Valid++
			out.Textf("✓ %s", f)
			continue
		}
		result.Invalid++
		out.Textf("✗ %s", f)
		out.Textf("  %s", v.Error)
	}
	if len(files) == 0 {
		out.Textf("No scenario or schema files found.")
	}

	if err := out.Result(result.Invalid == 0, result); err != nil {
		return err
	}
	if result.Invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d files invalid", result.Invalid, len(files)))
	}
	return nil
}

func expandValidatePaths(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		var found []string
		for _, pattern := range []string{"*.yaml", "*.yml", "*.cue"} {
			matches, err := filepath.Glob(filepath.Join(p, pattern))
			if err != nil {
				return nil, err
			}
			found = append(found, matches...)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

func validateFile(path string) FileValidation {
	switch filepath.Ext(path) {
	case ".cue":
		v := FileValidation{File: path, Kind: "schema"}
		if _, err := compileSchemaFile(path); err != nil {
			v.Error = err.Error()
			return v
		}
		v.Valid = true
		return v
	default:
		v := FileValidation{File: path, Kind: "scenario"}
		if _, err := harness.LoadScenario(path); err != nil {
			v.Error = err.Error()
			return v
		}
		v.Valid = true
		return v
	}
}

// compileSchemaFile reads and compiles a CUE schema file.
func compileSchemaFile(path string) (*schema.Schema, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return schema.Compile(path, string(src))
}
