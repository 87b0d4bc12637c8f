package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/navsql/internal/expr"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Context  string // Rewritten tree or SQL the assertion looked at
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if e.Context != "" {
		fmt.Fprintf(&buf, "\nIn:\n  %s\n", e.Context)
	}

	return buf.String()
}

// AssertionContext provides what assertions inspect.
type AssertionContext struct {
	// Tree is the rewritten expression tree.
	Tree expr.Expr

	// SQL is the primary statement.
	SQL string

	// Execution is nil when the scenario has no data file.
	Execution *Execution
}

// NodeKind names the node type of e, e.g. "Join" or "RowNumber".
func NodeKind(e expr.Expr) string {
	switch e.(type) {
	case *expr.Constant:
		return "Constant"
	case *expr.Parameter:
		return "Parameter"
	case *expr.Source:
		return "Source"
	case *expr.Member:
		return "Member"
	case *expr.Unary:
		return "Unary"
	case *expr.Binary:
		return "Binary"
	case *expr.Conditional:
		return "Conditional"
	case *expr.Lambda:
		return "Lambda"
	case *expr.New:
		return "New"
	case *expr.Call:
		return "Call"
	case *expr.Join:
		return "Join"
	case *expr.NestedResult:
		return "NestedResult"
	case *expr.GroupAggregate:
		return "GroupAggregate"
	case *expr.RowNumber:
		return "RowNumber"
	case *expr.EmptyMarker:
		return "EmptyMarker"
	}
	return fmt.Sprintf("%T", e)
}

var nodeKinds = map[string]bool{
	"Constant": true, "Parameter": true, "Source": true, "Member": true,
	"Unary": true, "Binary": true, "Conditional": true, "Lambda": true,
	"New": true, "Call": true, "Join": true, "NestedResult": true,
	"GroupAggregate": true, "RowNumber": true, "EmptyMarker": true,
}

func knownNode(kind string) bool {
	return nodeKinds[kind]
}

// countJoins counts joins whose inner side has element type entity. An
// empty entity counts every join.
func countJoins(tree expr.Expr, entity string) int {
	return expr.Count(tree, func(e expr.Expr) bool {
		j, ok := e.(*expr.Join)
		if !ok {
			return false
		}
		if entity == "" {
			return true
		}
		t := expr.Elem(j.Inner)
		return t != nil && t.Name == entity
	})
}

// assertJoinCount checks the number of joins against an entity.
func assertJoinCount(tree expr.Expr, a Assertion) error {
	got := countJoins(tree, a.Entity)
	if got == *a.Count {
		return nil
	}
	target := "any entity"
	if a.Entity != "" {
		target = a.Entity
	}
	return &AssertionError{
		Type:     AssertJoinCount,
		Expected: fmt.Sprintf("%d join(s) with %s", *a.Count, target),
		Actual:   fmt.Sprintf("%d join(s)", got),
		Context:  expr.Format(tree),
	}
}

// assertNode checks for the presence or absence of a node kind.
func assertNode(tree expr.Expr, a Assertion, want bool) error {
	label := a.Node
	if a.Method != "" {
		label = a.Node + " " + a.Method
	}

	got := expr.Count(tree, func(e expr.Expr) bool {
		if NodeKind(e) != a.Node {
			return false
		}
		if a.Method == "" {
			return true
		}
		c := e.(*expr.Call)
		return c.Method.String() == a.Method
	})

	if (got > 0) == want {
		return nil
	}
	if want {
		return &AssertionError{
			Type:     a.Type,
			Expected: label + " in the rewritten tree",
			Actual:   "not found",
			Context:  expr.Format(tree),
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: "no " + label + " in the rewritten tree",
		Actual:   fmt.Sprintf("found %d", got),
		Context:  expr.Format(tree),
	}
}

// assertText checks a substring of the SQL or the tree text.
func assertText(typ, haystack, needle string, want bool) error {
	if strings.Contains(haystack, needle) == want {
		return nil
	}
	expected := fmt.Sprintf("text containing %q", needle)
	actual := "not found"
	if !want {
		expected = fmt.Sprintf("text without %q", needle)
		actual = "found"
	}
	return &AssertionError{
		Type:     typ,
		Expected: expected,
		Actual:   actual,
		Context:  haystack,
	}
}

// assertRowCount checks how many rows the primary statement returned.
func assertRowCount(actx *AssertionContext, a Assertion) error {
	if actx.Execution.Rows == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertRowCount,
		Expected: fmt.Sprintf("%d row(s)", *a.Count),
		Actual:   fmt.Sprintf("%d row(s)", actx.Execution.Rows),
		Context:  actx.SQL,
	}
}

// assertMatchesEvaluation checks that SQL and in-memory evaluation agree.
func assertMatchesEvaluation(actx *AssertionContext) error {
	x := actx.Execution
	if x.Agree() {
		return nil
	}
	expected, actual := fmt.Sprint(x.Expected), fmt.Sprint(x.SQLValue)
	if seq, ok := x.Expected.([]any); ok {
		expected = fmt.Sprintf("%d row(s)", len(seq))
		actual = fmt.Sprintf("%d row(s)", x.Rows)
	} else if !x.Scalar {
		expected = fmt.Sprintf("result present: %t", x.Expected != nil)
		actual = fmt.Sprintf("%d row(s)", x.Rows)
	}
	return &AssertionError{
		Type:     AssertMatchesEvaluation,
		Expected: expected,
		Actual:   actual,
		Context:  actx.SQL,
	}
}

// evaluateAssertion checks a single assertion.
func evaluateAssertion(a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertJoinCount:
		return assertJoinCount(actx.Tree, a)
	case AssertNoNestedResult:
		return assertNode(actx.Tree, Assertion{Type: a.Type, Node: "NestedResult"}, false)
	case AssertHasNestedResult:
		return assertNode(actx.Tree, Assertion{Type: a.Type, Node: "NestedResult"}, true)
	case AssertContainsNode:
		return assertNode(actx.Tree, a, true)
	case AssertNotContainsNode:
		return assertNode(actx.Tree, a, false)
	case AssertSQLContains:
		return assertText(a.Type, actx.SQL, a.Text, true)
	case AssertSQLNotContains:
		return assertText(a.Type, actx.SQL, a.Text, false)
	case AssertTreeContains:
		return assertText(a.Type, expr.Format(actx.Tree), a.Text, true)
	case AssertRowCount, AssertMatchesEvaluation:
		if actx.Execution == nil {
			return fmt.Errorf("%s requires a data file", a.Type)
		}
		if a.Type == AssertRowCount {
			return assertRowCount(actx, a)
		}
		return assertMatchesEvaluation(actx)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// EvaluateAssertions checks all assertions and records one outcome per
// assertion on result.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) {
	for _, a := range assertions {
		result.record(a.Type, evaluateAssertion(a, actx))
	}
}
