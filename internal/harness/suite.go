package harness

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
)

// SuiteResult contains results from running every scenario in a directory.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Scenarios      []ScenarioOutcome `json:"scenarios"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioOutcome is the result of one scenario of a suite.
type ScenarioOutcome struct {
	Name         string  `json:"name"`
	ScenarioPath string  `json:"scenario_path"`
	Pass         bool    `json:"pass"`
	Result       *Result `json:"result,omitempty"`
}

// ScenarioFailure represents a scenario that failed to load, run or pass.
type ScenarioFailure struct {
	Name         string `json:"name,omitempty"`
	ScenarioPath string `json:"scenario_path"`
	Error        string `json:"error"`
}

// Discover returns the scenario files under dir, recursively, in lexical
// order. Scenario files end in .yaml or .yml.
func Discover(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan scenario directory: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// RunDir runs every scenario under dir. Schema and data paths resolve
// against the directory of each scenario file.
//
// Returns an error only when dir cannot be scanned; every scenario failure
// is collected in the result.
func RunDir(ctx context.Context, dir string) (*SuiteResult, error) {
	paths, err := Discover(dir)
	if err != nil {
		return nil, err
	}

	suite := &SuiteResult{Scenarios: []ScenarioOutcome{}}
	for _, path := range paths {
		suite.TotalScenarios++

		scenario, err := LoadScenarioWithBasePath(path, filepath.Dir(path))
		if err != nil {
			suite.fail(ScenarioOutcome{ScenarioPath: path}, fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}

		outcome := ScenarioOutcome{Name: scenario.Name, ScenarioPath: path}
		result, err := RunContext(ctx, scenario)
		if err != nil {
			suite.fail(outcome, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}
		outcome.Result = result

		if !result.Pass {
			suite.fail(outcome, fmt.Sprintf("scenario assertions failed: %v", result.Errors))
			continue
		}

		outcome.Pass = true
		suite.Scenarios = append(suite.Scenarios, outcome)
		suite.Passed++
	}

	return suite, nil
}

func (s *SuiteResult) fail(outcome ScenarioOutcome, msg string) {
	s.Failed++
	s.Scenarios = append(s.Scenarios, outcome)
	s.Failures = append(s.Failures, ScenarioFailure{
		Name:         outcome.Name,
		ScenarioPath: outcome.ScenarioPath,
		Error:        msg,
	})
}
