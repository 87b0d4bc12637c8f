// Package querysql renders rewritten expression trees as SQLite SELECT
// statements.
//
// The accepted vocabulary is the output of the rewrite pipeline: sources,
// Where, Select, OrderBy/ThenBy, Skip/Take, Distinct, SelectMany over an
// uncorrelated or key-correlated source, relational joins, grouping
// clauses, row numbers, nested results and the terminal operators. Anything
// else is reported as a TranslationError.
//
// CRITICAL: every constant in the tree is a bound parameter, never
// interpolated into the SQL text. Parameters are numbered (?1, ?2, ...)
// because clauses are compiled in a different order than they are printed.
package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/navsql/internal/expr"
)

// Compiler compiles expression trees to parameterized SQL for SQLite. The
// zero value is ready to use and safe for concurrent use.
type Compiler struct{}

// NewCompiler creates a new Compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Secondary is a nested result compiled as its own statement. It runs once
// per primary row, with each correlation parameter bound to the named
// column of that row.
type Secondary struct {
	// Field is the column prefix of the nested value in the primary row.
	Field string

	SQL         string
	Params      []any
	Correlation []Correlation

	// Nested holds secondaries of this statement's own rows.
	Nested []Secondary
}

// Correlation binds the named parameter :Param of a secondary statement.
type Correlation struct {
	Param  string
	Column string
}

// Compile converts an expression tree to SQL.
// Returns (sql, params, secondaries, error).
//
// MANDATORY: all values are parameterized (never interpolated).
func (c *Compiler) Compile(e expr.Expr) (string, []any, []Secondary, error) {
	if e == nil {
		return "", nil, nil, fmt.Errorf("cannot compile nil expression")
	}
	st := &compilation{}
	sql, secs, err := st.statement(e, nil)
	if err != nil {
		return "", nil, nil, err
	}
	return sql, st.params, secs, nil
}

// compilation is the state of one statement: its parameters and table
// aliases.
type compilation struct {
	params  []any
	aliases int
	windows int
}

func (c *compilation) alias() string {
	a := "t" + strconv.Itoa(c.aliases)
	c.aliases++
	return a
}

// bind appends a parameter and returns its placeholder.
// CRITICAL: Value is NEVER interpolated.
func (c *compilation) bind(v any) string {
	c.params = append(c.params, v)
	return "?" + strconv.Itoa(len(c.params))
}

// statement compiles e as a top-level statement.
func (c *compilation) statement(e expr.Expr, en *env) (string, []Secondary, error) {
	if e.Type().IsSequence() {
		q, err := c.seq(e, en)
		if err != nil {
			return "", nil, err
		}
		cols, _, secs := c.project(q.elem, "")
		return q.render(cols), secs, nil
	}
	if call, ok := e.(*expr.Call); ok {
		if call.Method.IsSingleResult() {
			q, err := c.single(call, en)
			if err != nil {
				return "", nil, err
			}
			cols, _, secs := c.project(q.elem, "")
			return q.render(cols), secs, nil
		}
		if call.Method.IsTerminal() {
			sql, err := c.terminal(call, en)
			return sql, nil, err
		}
	}
	s, err := c.scalar(e, en)
	if err != nil {
		return "", nil, err
	}
	return "SELECT " + s, nil, nil
}

// query is a SELECT under construction. elem describes the current element
// in terms of the FROM clause's aliases.
type query struct {
	from     string
	single   bool // from is exactly one table or subquery
	where    []string
	groupBy  []string
	order    []orderTerm
	limit    string
	offset   string
	distinct bool
	elem     *node
}

type orderTerm struct {
	sql  string
	desc bool
	text bool
}

func (o orderTerm) String() string {
	s := o.sql
	// COLLATE BINARY keeps text ordering deterministic across SQLite builds.
	if o.text {
		s += " COLLATE BINARY"
	}
	if o.desc {
		return s + " DESC"
	}
	return s + " ASC"
}

// bounded reports whether rows are cut or deduplicated, so that further
// filtering must happen outside.
func (q *query) bounded() bool {
	return q.limit != "" || q.offset != "" || q.distinct
}

// filterable reports whether a WHERE clause may be added in place.
func (q *query) filterable() bool {
	return !q.bounded() && !q.elem.hasWindow()
}

type column struct {
	sql  string
	name string
}

func (q *query) render(cols []column) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if q.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(cols) == 0 {
		b.WriteString("NULL")
	}
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(col.sql)
		if columnName(col.sql) != col.name {
			b.WriteString(" AS ")
			b.WriteString(quoteIdent(col.name))
		}
	}
	b.WriteString(" FROM ")
	b.WriteString(q.from)
	if len(q.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.where, " AND "))
	}
	if len(q.groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(q.groupBy, ", "))
	}
	if len(q.order) > 0 {
		terms := make([]string, len(q.order))
		for i, o := range q.order {
			terms[i] = o.String()
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}
	switch {
	case q.limit != "":
		b.WriteString(" LIMIT ")
		b.WriteString(q.limit)
	case q.offset != "":
		b.WriteString(" LIMIT -1")
	}
	if q.offset != "" {
		b.WriteString(" OFFSET ")
		b.WriteString(q.offset)
	}
	return b.String()
}

// renderWith renders q with a single computed column, dropping its
// ordering. Used for aggregates and existence tests.
func (q *query) renderWith(sql string) string {
	bare := *q
	bare.order = nil
	return bare.render([]column{{sql: sql, name: columnName(sql)}})
}

// wrap turns q into a subquery and returns a query selecting from it. The
// ordering is carried out through hidden columns.
func (c *compilation) wrap(q *query) *query {
	alias := c.alias()
	cols, elem, _ := c.project(q.elem, alias)

	inner := *q
	var order []orderTerm
	if !q.distinct {
		for i, o := range q.order {
			name := "_o" + strconv.Itoa(i)
			cols = append(cols, column{sql: o.sql, name: name})
			order = append(order, orderTerm{sql: alias + "." + name, desc: o.desc, text: o.text})
		}
		if !q.bounded() {
			inner.order = nil
		}
	}
	return &query{
		from:   "(" + inner.render(cols) + ") AS " + alias,
		single: true,
		order:  order,
		elem:   elem,
	}
}

// project flattens an element into result columns. With an alias it also
// returns the element rebuilt over those columns as seen from outside the
// subquery. Secondaries are collected for nested results.
func (c *compilation) project(n *node, alias string) ([]column, *node, []Secondary) {
	p := &projector{alias: alias, seen: map[string]int{}}
	out := p.node(n, "")
	return p.cols, out, p.secs
}

type projector struct {
	alias string
	seen  map[string]int
	cols  []column
	secs  []Secondary
}

func (p *projector) name(prefix, field string) string {
	name := field
	if prefix != "" {
		name = prefix + "_" + field
	}
	p.seen[name]++
	if k := p.seen[name]; k > 1 {
		name += "_" + strconv.Itoa(k)
	}
	return name
}

func (p *projector) leaf(sql, name string) *node {
	p.cols = append(p.cols, column{sql: sql, name: name})
	if p.alias == "" {
		return nil
	}
	return &node{kind: leafNode, sql: p.alias + "." + quoteIdent(name)}
}

func (p *projector) node(n *node, prefix string) *node {
	switch n.kind {
	case leafNode:
		field := prefix
		if field == "" {
			field = "value"
		}
		name := p.name("", field)
		return p.leaf(n.sql, name)

	case recordNode:
		out := &node{kind: recordNode, names: n.names, t: n.t}
		for i, f := range n.fields {
			sub := n.names[i]
			if prefix != "" {
				sub = prefix + "_" + sub
			}
			out.fields = append(out.fields, p.node(f, sub))
		}
		return out

	case nestedNode:
		field := prefix
		if field == "" {
			field = "value"
		}
		out := &node{kind: nestedNode, nested: n.nested}
		sec := Secondary{
			Field:  field,
			SQL:    n.nested.sql,
			Params: n.nested.params,
			Nested: n.nested.secs,
		}
		for i, corr := range n.corr {
			name := p.name(field, n.nested.names[i])
			out.corr = append(out.corr, p.leaf(corr.sql, name))
			sec.Correlation = append(sec.Correlation, Correlation{Param: n.nested.names[i], Column: name})
		}
		p.secs = append(p.secs, sec)
		return out
	}
	return &node{kind: nullNode}
}

// columnName returns the name SQLite gives a result column written as sql:
// the column part of alias.column, or sql itself.
func columnName(sql string) string {
	if i := strings.LastIndexByte(sql, '.'); i >= 0 && isIdent(sql[:i]) {
		return strings.Trim(sql[i+1:], `"`)
	}
	return sql
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

var keywords = map[string]bool{
	"ALL": true, "AND": true, "AS": true, "ASC": true, "BY": true, "CASE": true,
	"CROSS": true, "DESC": true, "DISTINCT": true, "ELSE": true, "END": true,
	"EXISTS": true, "FROM": true, "GROUP": true, "IN": true, "INDEX": true,
	"IS": true, "JOIN": true, "KEY": true, "LEFT": true, "LIMIT": true,
	"NOT": true, "NULL": true, "OFFSET": true, "ON": true, "OR": true,
	"ORDER": true, "SELECT": true, "TABLE": true, "THEN": true, "VALUES": true,
	"WHEN": true, "WHERE": true,
}

// quoteIdent quotes an identifier when SQLite would not accept it bare.
func quoteIdent(name string) string {
	if isIdent(name) && !keywords[strings.ToUpper(name)] {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
