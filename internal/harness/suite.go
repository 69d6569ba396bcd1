package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// SuiteResult summarizes running a set of scenario files.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
	Results        []*Result         `json:"-"`
}

// ScenarioFailure is one scenario that could not be loaded, could not be
// executed, or failed its checks.
type ScenarioFailure struct {
	ScenarioPath string   `json:"scenario_path"`
	Scenario     string   `json:"scenario,omitempty"`
	Errors       []string `json:"errors"`
}

// ExpandPaths resolves files and directories into scenario file paths.
// Directories contribute their *.yaml files, sorted.
func ExpandPaths(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("scenario path %q: %w", p, err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.yaml"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out, nil
}

// RunSuite loads and runs every scenario file. A failing scenario does not
// stop the suite.
func RunSuite(paths []string, opts RunOptions) (*SuiteResult, error) {
	files, err := ExpandPaths(paths)
	if err != nil {
		return nil, err
	}

	suite := &SuiteResult{}
	for _, path := range files {
		suite.TotalScenarios++

		scenario, err := LoadScenario(path)
		if err != nil {
			suite.fail(ScenarioFailure{
				ScenarioPath: path,
				Errors:       []string{fmt.Sprintf("failed to load scenario: %v", err)},
			})
			continue
		}

		// A caller-supplied journal is shared by every scenario; each
		// scenario reuses rid "<type>:1", so runs need their own log.
		scenarioOpts := opts
		scenarioOpts.Journal = nil

		result, err := RunWithOptions(scenario, scenarioOpts)
		if err != nil {
			suite.fail(ScenarioFailure{
				ScenarioPath: path,
				Scenario:     scenario.Name,
				Errors:       []string{fmt.Sprintf("scenario execution failed: %v", err)},
			})
			continue
		}
		suite.Results = append(suite.Results, result)

		if !result.Pass {
			suite.fail(ScenarioFailure{
				ScenarioPath: path,
				Scenario:     scenario.Name,
				Errors:       result.Errors,
			})
			continue
		}
		suite.Passed++
	}
	return suite, nil
}

func (s *SuiteResult) fail(f ScenarioFailure) {
	s.Failed++
	s.Failures = append(s.Failures, f)
}

// VerifyDeterminism runs scenario the given number of times and reports an
// error if any run's trace snapshot differs from the first.
func VerifyDeterminism(scenario *Scenario, runs int, opts RunOptions) error {
	if runs < 2 {
		return fmt.Errorf("determinism check needs at least 2 runs, got %d", runs)
	}

	var first []byte
	for i := range runs {
		runOpts := opts
		runOpts.Journal = nil

		result, err := RunWithOptions(scenario, runOpts)
		if err != nil {
			return fmt.Errorf("run %d: %w", i+1, err)
		}
		snapshot := NewTraceSnapshot(scenario.Name, result)
		data, err := snapshot.MarshalCanonical()
		if err != nil {
			return fmt.Errorf("run %d: %w", i+1, err)
		}

		if i == 0 {
			first = data
			continue
		}
		if !bytes.Equal(first, data) {
			return fmt.Errorf("run %d differs from run 1:\n  run 1: %s\n  run %d: %s", i+1, first, i+1, data)
		}
	}
	return nil
}
