package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: one query against one
// schema, with assertions on the rewritten tree and the generated SQL.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is a CUE file or a directory holding a CUE package.
	Schema string `yaml:"schema"`

	// Query is the query text, parsed against Schema.
	Query string `yaml:"query"`

	// Strict fails translation when a navigation stays unresolved.
	Strict bool `yaml:"strict,omitempty"`

	// ExpectError makes the scenario pass only when translation fails with
	// an error containing this text. Assertions are not evaluated then.
	ExpectError string `yaml:"expect_error,omitempty"`

	// Data is an optional YAML file of rows keyed by entity name. When set
	// the generated SQL runs against an in-memory database holding them.
	Data string `yaml:"data,omitempty"`

	// Assertions validate the translation.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates one property of a translation.
type Assertion struct {
	// Type specifies the assertion type:
	// - "join_count": number of joins whose inner side is Entity
	// - "no_nested_result" / "has_nested_result": presence of a NestedResult
	// - "contains_node" / "not_contains_node": presence of a node kind
	// - "sql_contains" / "sql_not_contains": text of the primary statement
	// - "tree_contains": text of the rewritten tree
	// - "row_count": number of rows the primary statement returns
	// - "matches_evaluation": SQL result agrees with evaluating the query
	Type string `yaml:"type"`

	// Entity restricts join_count to joins with this inner entity.
	// Empty counts every join.
	Entity string `yaml:"entity,omitempty"`

	// Count is the expected number (join_count, row_count).
	Count *int `yaml:"count,omitempty"`

	// Node is a node kind such as Join or RowNumber (contains_node,
	// not_contains_node).
	Node string `yaml:"node,omitempty"`

	// Method restricts a Call node to one query method.
	Method string `yaml:"method,omitempty"`

	// Text is the expected substring (sql_contains, sql_not_contains,
	// tree_contains).
	Text string `yaml:"text,omitempty"`
}

// Assertion type constants.
const (
	AssertJoinCount         = "join_count"
	AssertNoNestedResult    = "no_nested_result"
	AssertHasNestedResult   = "has_nested_result"
	AssertContainsNode      = "contains_node"
	AssertNotContainsNode   = "not_contains_node"
	AssertSQLContains       = "sql_contains"
	AssertSQLNotContains    = "sql_not_contains"
	AssertTreeContains      = "tree_contains"
	AssertRowCount          = "row_count"
	AssertMatchesEvaluation = "matches_evaluation"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// Relative schema and data paths are used as written.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, "")
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving relative schema and data paths against basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve paths BEFORE validation, which checks that they exist
	if basePath != "" {
		scenario.Schema = resolve(basePath, scenario.Schema)
		scenario.Data = resolve(basePath, scenario.Data)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}

	if s.Query == "" {
		return fmt.Errorf("query is required")
	}

	if len(s.Assertions) == 0 && s.ExpectError == "" {
		return fmt.Errorf("assertions list is required unless expect_error is set")
	}

	if _, err := os.Stat(s.Schema); os.IsNotExist(err) {
		return fmt.Errorf("schema not found: %s", s.Schema)
	}
	if s.Data != "" {
		if _, err := os.Stat(s.Data); os.IsNotExist(err) {
			return fmt.Errorf("data file not found: %s", s.Data)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, s.Data != ""); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, hasData bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertJoinCount, AssertRowCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertNoNestedResult, AssertHasNestedResult, AssertMatchesEvaluation:
	case AssertContainsNode, AssertNotContainsNode:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for %s", index, a.Type)
		}
		if !knownNode(a.Node) {
			return fmt.Errorf("assertions[%d]: unknown node kind %q", index, a.Node)
		}
		if a.Method != "" && a.Node != "Call" {
			return fmt.Errorf("assertions[%d]: method requires node Call", index)
		}
	case AssertSQLContains, AssertSQLNotContains, AssertTreeContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if (a.Type == AssertRowCount || a.Type == AssertMatchesEvaluation) && !hasData {
		return fmt.Errorf("assertions[%d]: %s requires a data file", index, a.Type)
	}

	return nil
}
