package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/navsql/internal/querytext"
	"github.com/roach88/navsql/internal/schema"
	"github.com/roach88/navsql/internal/testutil"
	"github.com/roach88/navsql/internal/translate"
)

// Run executes a test scenario and returns the result.
//
// Each scenario gets a fresh translator without a cache, so results never
// depend on the scenarios run before it.
//
// Execution flow:
// 1. Load the schema and parse the query
// 2. Rewrite and compile the query
// 3. Run the SQL on the scenario data, if any
// 4. Evaluate assertions
//
// Returns an error only when the scenario cannot be run. Failed
// expectations are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a context for the translation and the SQL run.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	model, err := schema.LoadDir(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	query, err := querytext.Parse(scenario.Query, model)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query: %w", err)
	}

	tr := translate.New(model.Descriptors,
		translate.WithoutCache(),
		translate.WithStrictNavigation(scenario.Strict),
		translate.WithIDGenerator(testutil.NewSequenceIDs(scenario.Name)),
		translate.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	result := NewResult()
	out, err := tr.Translate(ctx, query)
	if err != nil {
		result.Error = err.Error()
		switch {
		case scenario.ExpectError == "":
			result.AddError(fmt.Sprintf("translation failed: %v", err))
		case !strings.Contains(err.Error(), scenario.ExpectError):
			result.AddError(fmt.Sprintf("translation error %q does not contain %q", err.Error(), scenario.ExpectError))
		}
		return result, nil
	}
	if scenario.ExpectError != "" {
		result.AddError(fmt.Sprintf("expected translation error containing %q, got none", scenario.ExpectError))
	}

	result.Tree = out.Tree
	result.SQL = out.SQL
	result.Params = out.Params
	result.Secondary = out.Secondary
	result.Passes = out.Passes

	actx := &AssertionContext{Tree: out.Expr, SQL: out.SQL}
	if scenario.Data != "" {
		x, err := execute(ctx, model, scenario.Data, query, out.SQL, out.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to execute scenario data: %w", err)
		}
		actx.Execution = x
	}

	EvaluateAssertions(result, scenario.Assertions, actx)
	return result, nil
}
