package harness

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"

	"github.com/roach88/navsql/internal/eval"
	"github.com/roach88/navsql/internal/expr"
	"github.com/roach88/navsql/internal/querysql"
	"github.com/roach88/navsql/internal/schema"
)

// Execution holds what running a scenario's query produced on its data.
type Execution struct {
	// Rows is the number of rows the primary statement returned.
	Rows int

	// SQLValue is the single column value of a scalar query.
	SQLValue any

	// Expected is the value of the query evaluated in memory.
	Expected any

	// Scalar is true when the query type is a scalar.
	Scalar bool
}

// loadRows reads a YAML file of rows keyed by entity name and converts the
// values to the constant representation of the field types. Missing
// nullable columns are null.
func loadRows(path string, m *schema.Model) (map[string][]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	var raw map[string][]map[string]any
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse data file: %w", err)
	}

	out := make(map[string][]map[string]any, len(raw))
	for name, rows := range raw {
		t, ok := m.Entity(name)
		if !ok {
			return nil, fmt.Errorf("data file: unknown entity %q", name)
		}
		for i, row := range rows {
			values := make(map[string]any, len(t.Fields))
			for _, f := range t.Fields {
				if !f.Type.IsScalar() {
					continue
				}
				v, err := convertValue(row[f.Name], f.Type)
				if err != nil {
					return nil, fmt.Errorf("data file: %s[%d].%s: %w", name, i, f.Name, err)
				}
				values[f.Name] = v
			}
			for col := range row {
				if ft, ok := t.Member(col); !ok || !ft.IsScalar() {
					return nil, fmt.Errorf("data file: %s[%d]: unknown column %q", name, i, col)
				}
			}
			out[name] = append(out[name], values)
		}
	}
	return out, nil
}

// convertValue converts a YAML scalar to the value of type t.
func convertValue(v any, t *expr.Type) (any, error) {
	if v == nil {
		if !t.Nullable {
			return nil, fmt.Errorf("null for non-nullable %s", t)
		}
		return nil, nil
	}

	switch t.Name {
	case expr.Int, expr.Long:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int64:
			return x, nil
		}
	case expr.Float, expr.Double, expr.Decimal:
		switch x := v.(type) {
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case float64:
			return x, nil
		}
	case expr.String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case expr.Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case expr.DateTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			for _, layout := range []string{time.DateOnly, time.RFC3339} {
				if d, err := time.Parse(layout, x); err == nil {
					return d, nil
				}
			}
			return nil, fmt.Errorf("invalid datetime %q", x)
		}
	}
	return nil, fmt.Errorf("cannot use %v (%T) as %s", v, v, t)
}

// openDatabase creates an in-memory SQLite database holding rows.
func openDatabase(ctx context.Context, m *schema.Model, rows map[string][]map[string]any) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	for _, stmt := range querysql.CreateTables(m) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create table: %w", err)
		}
	}
	for _, name := range m.Names() {
		for _, row := range rows[name] {
			stmt, params := querysql.InsertRow(m.Entities[name], row)
			if _, err := db.ExecContext(ctx, stmt, params...); err != nil {
				db.Close()
				return nil, fmt.Errorf("insert %s row: %w", name, err)
			}
		}
	}
	return db, nil
}

// execute runs the primary statement of a translation and evaluates the
// original query in memory over the same rows.
func execute(ctx context.Context, m *schema.Model, dataPath string, query expr.Expr, stmt string, params []any) (*Execution, error) {
	rows, err := loadRows(dataPath, m)
	if err != nil {
		return nil, err
	}

	mem, err := eval.NewDatabase(m, rows)
	if err != nil {
		return nil, fmt.Errorf("failed to build evaluation database: %w", err)
	}
	expected, err := eval.Evaluate(query, mem)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate query: %w", err)
	}

	db, err := openDatabase(ctx, m, rows)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	out := &Execution{Expected: expected, Scalar: query.Type().IsScalar()}

	result, err := db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to run SQL: %w", err)
	}
	defer result.Close()

	for result.Next() {
		out.Rows++
		if out.Scalar && out.Rows == 1 {
			if err := result.Scan(&out.SQLValue); err != nil {
				return nil, fmt.Errorf("failed to scan scalar: %w", err)
			}
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read SQL rows: %w", err)
	}
	return out, nil
}

// Agree reports whether the SQL result matches the evaluated one.
// Sequences compare by row count, scalars by value, single results by
// presence.
func (x *Execution) Agree() bool {
	switch want := x.Expected.(type) {
	case []any:
		return len(want) == x.Rows
	}
	if !x.Scalar {
		return (x.Expected != nil) == (x.Rows > 0)
	}
	return scalarsAgree(x.Expected, x.SQLValue)
}

// scalarsAgree compares an evaluated scalar with the value SQLite returned
// for it. SQLite has no boolean or time storage class and sums floating
// point values in its own order.
func scalarsAgree(want, got any) bool {
	if want == nil || got == nil {
		return want == nil && got == nil
	}
	switch w := want.(type) {
	case bool:
		g, ok := got.(int64)
		return ok && (g != 0) == w
	case time.Time:
		switch g := got.(type) {
		case time.Time:
			return w.Equal(g)
		case string:
			for _, layout := range sqlite3.SQLiteTimestampFormats {
				if d, err := time.ParseInLocation(layout, g, time.UTC); err == nil {
					return w.Equal(d)
				}
			}
		}
		return false
	case float64:
		g, ok := toFloat(got)
		return ok && math.Abs(w-g) <= 1e-9*math.Max(1, math.Abs(w))
	case int64:
		if g, ok := toFloat(got); ok {
			return float64(w) == g
		}
		return false
	case string:
		switch g := got.(type) {
		case string:
			return w == g
		case []byte:
			return w == string(g)
		}
		return false
	}
	return eval.Equal(want, got)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
