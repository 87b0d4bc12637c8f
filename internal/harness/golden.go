package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/navsql/internal/expr"
	"github.com/roach88/navsql/internal/querysql"
)

// Snapshot renders the translation in a result as golden file text: the
// rewritten tree, the primary statement with its parameters and every
// secondary statement with its correlations.
//
//	scenario: filter_on_navigation
//	tree: Orders.Join#t0(...)
//	sql: SELECT ...
//	param ?1 = "Berlin"
func Snapshot(name string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	if result.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", result.Error)
		return []byte(b.String())
	}
	fmt.Fprintf(&b, "tree: %s\n", result.Tree)
	fmt.Fprintf(&b, "sql: %s\n", result.SQL)
	writeParams(&b, "", result.Params)
	writeSecondary(&b, "", result.Secondary)
	return []byte(b.String())
}

func writeParams(b *strings.Builder, indent string, params []any) {
	for i, p := range params {
		fmt.Fprintf(b, "%sparam ?%d = %s\n", indent, i+1, expr.FormatValue(p, nil))
	}
}

func writeSecondary(b *strings.Builder, indent string, secs []querysql.Secondary) {
	for _, s := range secs {
		fmt.Fprintf(b, "%ssecondary %s: %s\n", indent, s.Field, s.SQL)
		inner := indent + "  "
		writeParams(b, inner, s.Params)
		for _, c := range s.Correlation {
			fmt.Fprintf(b, "%scorrelate :%s = %s\n", inner, c.Param, c.Column)
		}
		writeSecondary(b, inner, s.Nested)
	}
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Snapshot(scenarioName, result))

	return nil
}
