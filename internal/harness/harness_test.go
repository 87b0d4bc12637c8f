package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navsql/internal/expr"
	"github.com/roach88/navsql/internal/testutil"
)

const (
	testSchema = "testdata/schema/northwind.cue"
	testRows   = "testdata/data/northwind_rows.yaml"
)

func TestRun_FilterOnNavigation(t *testing.T) {
	scenario := &Scenario{
		Name:        "filter",
		Description: "navigation in a filter",
		Schema:      testSchema,
		Data:        testRows,
		Query:       `Orders.Where(o => o.Customer.City == "Berlin")`,
		Assertions: []Assertion{
			{Type: AssertJoinCount, Entity: "Customer", Count: count(1)},
			{Type: AssertNoNestedResult},
			{Type: AssertSQLContains, Text: "INNER JOIN Customers"},
			{Type: AssertRowCount, Count: count(2)},
			{Type: AssertMatchesEvaluation},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Error)
	require.Len(t, result.Assertions, 5)
	for _, a := range result.Assertions {
		assert.True(t, a.Pass, a.Type)
	}

	assert.Contains(t, result.Tree, "Orders.Join#t0(Customers")
	assert.Equal(t, []any{"Berlin"}, result.Params)
	assert.Empty(t, result.Secondary)
	assert.Positive(t, result.Passes)
}

func TestRun_FailingAssertion(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_count",
		Description: "expects a join that is not there",
		Schema:      testSchema,
		Query:       `Orders.Where(o => o.OrderID > 10249)`,
		Assertions: []Assertion{
			{Type: AssertJoinCount, Count: count(1)},
			{Type: AssertSQLNotContains, Text: "JOIN"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: join_count")
	assert.False(t, result.Assertions[0].Pass)
	assert.True(t, result.Assertions[1].Pass)
}

func TestRun_NestedResult(t *testing.T) {
	scenario := &Scenario{
		Name:        "nested",
		Description: "projected collection",
		Schema:      testSchema,
		Data:        testRows,
		Query:       `Customers.Select(c => new { c.CustomerID, Orders = c.Orders })`,
		Assertions: []Assertion{
			{Type: AssertHasNestedResult},
			{Type: AssertRowCount, Count: count(5)},
			{Type: AssertMatchesEvaluation},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Secondary, 1)
	assert.Equal(t, "Orders", result.Secondary[0].Field)
}

func TestRun_ExpectError(t *testing.T) {
	base := Scenario{
		Name:        "last",
		Description: "Last without ordering",
		Schema:      testSchema,
		Query:       `Orders.Last()`,
	}

	t.Run("matching error passes", func(t *testing.T) {
		s := base
		s.ExpectError = "ordering"
		result, err := Run(&s)
		require.NoError(t, err)
		assert.True(t, result.Pass, "errors: %v", result.Errors)
		assert.Contains(t, result.Error, "ordering")
		assert.Empty(t, result.SQL)
	})

	t.Run("other error fails", func(t *testing.T) {
		s := base
		s.ExpectError = "unresolved navigation"
		result, err := Run(&s)
		require.NoError(t, err)
		assert.False(t, result.Pass)
		assert.Contains(t, result.Errors[0], "does not contain")
	})

	t.Run("unexpected error fails", func(t *testing.T) {
		s := base
		s.Assertions = []Assertion{{Type: AssertNoNestedResult}}
		result, err := Run(&s)
		require.NoError(t, err)
		assert.False(t, result.Pass)
		assert.Contains(t, result.Errors[0], "translation failed")
		assert.Empty(t, result.Assertions)
	})

	t.Run("missing error fails", func(t *testing.T) {
		s := base
		s.Query = `Orders.OrderBy(o => o.OrderID).Last()`
		s.ExpectError = "ordering"
		s.Assertions = []Assertion{{Type: AssertNoNestedResult}}
		result, err := Run(&s)
		require.NoError(t, err)
		assert.False(t, result.Pass)
		assert.Contains(t, result.Errors[0], "got none")
	})
}

func TestRun_SetupErrors(t *testing.T) {
	t.Run("schema", func(t *testing.T) {
		_, err := Run(&Scenario{Name: "s", Schema: "/nonexistent", Query: "Orders"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load schema")
	})

	t.Run("query", func(t *testing.T) {
		_, err := Run(&Scenario{Name: "s", Schema: testSchema, Query: "Invoices.Count()"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse query")
	})

	t.Run("data", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rows.yaml")
		require.NoError(t, os.WriteFile(path, []byte("Invoice:\n  - {InvoiceID: 1}\n"), 0644))
		_, err := Run(&Scenario{Name: "s", Schema: testSchema, Data: path, Query: "Orders.Count()"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown entity "Invoice"`)
	})
}

func TestLoadRows(t *testing.T) {
	m := testutil.Northwind(t)

	rows, err := loadRows(testRows, m)
	require.NoError(t, err)

	// Every entity and every row of the shared data set
	want := testutil.NorthwindRows()
	require.Len(t, rows, len(want))
	for name, wantRows := range want {
		require.Len(t, rows[name], len(wantRows), name)
		for i := range wantRows {
			for col, v := range wantRows[i] {
				got := rows[name][i][col]
				if tv, ok := v.(time.Time); ok {
					require.IsType(t, time.Time{}, got, "%s[%d].%s", name, i, col)
					assert.True(t, tv.Equal(got.(time.Time)), "%s[%d].%s", name, i, col)
					continue
				}
				assert.Equal(t, v, got, "%s[%d].%s", name, i, col)
			}
		}
	}
}

func TestLoadRows_UnknownColumn(t *testing.T) {
	m := testutil.Northwind(t)
	path := filepath.Join(t.TempDir(), "rows.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Region:\n  - {RegionID: 1, RegionDescription: East, Color: red}\n"), 0644))

	_, err := loadRows(path, m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown column "Color"`)
}

func TestConvertValue(t *testing.T) {
	day := time.Date(1996, 7, 4, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		in      any
		t       *expr.Type
		want    any
		wantErr string
	}{
		{"int", 7, expr.ScalarOf(expr.Int), int64(7), ""},
		{"int to decimal", 18, expr.ScalarOf(expr.Decimal), 18.0, ""},
		{"float", 0.15, expr.ScalarOf(expr.Double), 0.15, ""},
		{"string", "Berlin", expr.ScalarOf(expr.String), "Berlin", ""},
		{"bool", true, expr.ScalarOf(expr.Bool), true, ""},
		{"date text", "1996-07-04", expr.ScalarOf(expr.DateTime), day, ""},
		{"timestamp", day, expr.ScalarOf(expr.DateTime), day, ""},
		{"nullable null", nil, expr.NullableOf(expr.ScalarOf(expr.Int)), nil, ""},
		{"null for required", nil, expr.ScalarOf(expr.Int), nil, "null for non-nullable"},
		{"string for int", "seven", expr.ScalarOf(expr.Int), nil, "cannot use"},
		{"float for int", 1.5, expr.ScalarOf(expr.Int), nil, "cannot use"},
		{"bad date", "July 4th", expr.ScalarOf(expr.DateTime), nil, "invalid datetime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convertValue(tt.in, tt.t)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
