package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/navsql/internal/expr"
	"github.com/roach88/navsql/internal/schema"
)

var columnTypes = map[string]string{
	expr.Int:      "INTEGER",
	expr.Long:     "INTEGER",
	expr.Bool:     "INTEGER",
	expr.Float:    "REAL",
	expr.Double:   "REAL",
	expr.Decimal:  "REAL",
	expr.String:   "TEXT",
	expr.DateTime: "DATETIME",
}

// CreateTables returns a CREATE TABLE statement per entity of m, in entity
// name order. Non-nullable fields are NOT NULL and the primary key comes
// from the descriptor set.
func CreateTables(m *schema.Model) []string {
	var out []string
	for _, name := range m.Names() {
		t := m.Entities[name]
		var cols []string
		for _, f := range t.Fields {
			if !f.Type.IsScalar() {
				continue
			}
			col := quoteIdent(f.Name) + " " + columnTypes[f.Type.Name]
			if !f.Type.Nullable {
				col += " NOT NULL"
			}
			cols = append(cols, col)
		}
		if pk, ok := m.Descriptors.PrimaryKey(t); ok {
			var keys []string
			for _, part := range pk.Parts(expr.NewParam("x", t)) {
				if mem, ok := part.(*expr.Member); ok {
					keys = append(keys, quoteIdent(mem.Name))
				}
			}
			cols = append(cols, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
		}
		out = append(out, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(t.Table), strings.Join(cols, ", ")))
	}
	return out
}

// InsertRow returns an INSERT statement for one row of entity t.
// CRITICAL: Values are NEVER interpolated.
func InsertRow(t *expr.Type, values map[string]any) (string, []any) {
	var names, marks []string
	var params []any
	for _, f := range t.Fields {
		if !f.Type.IsScalar() {
			continue
		}
		names = append(names, quoteIdent(f.Name))
		marks = append(marks, "?")
		params = append(params, values[f.Name])
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(t.Table), strings.Join(names, ", "), strings.Join(marks, ", "))
	return sql, params
}
