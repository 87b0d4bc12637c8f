// Package eval is an in-memory reference evaluator for expression trees.
//
// It runs both the object-graph trees users write (navigation members are
// resolved through the descriptor set) and the relational trees the rewrite
// pipeline produces (joins, nested results, grouping clauses, row numbers),
// so a query and its rewrite can be compared on the same data.
//
// VALUES:
//
//	scalar      int64, float64, string, bool, time.Time, or nil for null
//	entity row  *Row
//	record      *Record
//	sequence    []any
//	grouping    *Grouping
//
// Semantics follow in-memory query evaluation: null == null is true,
// comparisons with null are false, and arithmetic with null yields null.
// Join keys never match on null.
package eval

import (
	"errors"
	"fmt"

	"github.com/roach88/navsql/internal/descriptor"
	"github.com/roach88/navsql/internal/expr"
	"github.com/roach88/navsql/internal/schema"
)

// Errors raised by terminal operators, matching the in-memory behavior of
// First, Single, Min, Max and Average.
var (
	ErrNoElements         = errors.New("sequence contains no elements")
	ErrMoreThanOneElement = errors.New("sequence contains more than one element")
)

// Row is one entity instance.
type Row struct {
	Entity *expr.Type
	Values map[string]any
}

// Record is a constructed record value.
type Record struct {
	T      *expr.Type
	Values []any
}

// Field returns the named field value.
func (r *Record) Field(name string) (any, bool) {
	i := r.T.FieldIndex(name)
	if i < 0 || i >= len(r.Values) {
		return nil, false
	}
	return r.Values[i], true
}

// Grouping is one group produced by GroupBy.
type Grouping struct {
	Key   any
	Elems []any
}

// Database holds the rows of every entity and the descriptors used to
// resolve navigation members.
type Database struct {
	set    *descriptor.Set
	tables map[string][]any
}

// NewDatabase builds a database for model m. data maps entity names to
// rows of column values; every column of the entity must be present.
func NewDatabase(m *schema.Model, data map[string][]map[string]any) (*Database, error) {
	db := &Database{set: m.Descriptors, tables: make(map[string][]any)}
	for name, rows := range data {
		t, ok := m.Entity(name)
		if !ok {
			return nil, fmt.Errorf("unknown entity %q", name)
		}
		for i, values := range rows {
			r := &Row{Entity: t, Values: make(map[string]any, len(values))}
			for _, f := range t.Fields {
				if !f.Type.IsScalar() {
					continue
				}
				v, ok := values[f.Name]
				if !ok {
					return nil, fmt.Errorf("%s row %d: missing column %q", name, i, f.Name)
				}
				r.Values[f.Name] = v
			}
			db.tables[name] = append(db.tables[name], r)
		}
	}
	return db, nil
}

// Rows returns the rows of an entity in insertion order.
func (db *Database) Rows(entity string) []any {
	return db.tables[entity]
}

// Evaluate computes the value of e, which must not have free parameters.
func Evaluate(e expr.Expr, db *Database) (any, error) {
	ev := &evaluator{db: db}
	return ev.eval(e, nil)
}

// scope binds lambda parameters to values.
type scope struct {
	p      *expr.Parameter
	v      any
	parent *scope
}

func (s *scope) lookup(p *expr.Parameter) (any, bool) {
	for ; s != nil; s = s.parent {
		if s.p == p {
			return s.v, true
		}
	}
	return nil, false
}

func (s *scope) bind(params []*expr.Parameter, args ...any) *scope {
	for i, p := range params {
		s = &scope{p: p, v: args[i], parent: s}
	}
	return s
}

type evaluator struct {
	db *Database

	// rowNumbers holds the position of the current element of each Select
	// whose selector numbers rows, innermost last.
	rowNumbers []int64
}

func (ev *evaluator) eval(e expr.Expr, s *scope) (any, error) {
	switch n := e.(type) {
	case *expr.Constant:
		return n.Value, nil

	case *expr.Parameter:
		v, ok := s.lookup(n)
		if !ok {
			return nil, fmt.Errorf("unbound parameter %s", n.Name)
		}
		return v, nil

	case *expr.Source:
		return ev.db.Rows(n.Entity.Name), nil

	case *expr.Member:
		x, err := ev.eval(n.X, s)
		if err != nil {
			return nil, err
		}
		return ev.member(x, n)

	case *expr.Unary:
		x, err := ev.eval(n.X, s)
		if err != nil || x == nil {
			return nil, err
		}
		return unary(n, x)

	case *expr.Binary:
		return ev.binary(n, s)

	case *expr.Conditional:
		test, err := ev.eval(n.Test, s)
		if err != nil {
			return nil, err
		}
		if test == true {
			return ev.eval(n.Then, s)
		}
		return ev.eval(n.Else, s)

	case *expr.Lambda:
		return nil, fmt.Errorf("lambda %s evaluated outside a query method", expr.Format(n))

	case *expr.New:
		vals := make([]any, len(n.Args))
		for i, a := range n.Args {
			v, err := ev.eval(a, s)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return &Record{T: n.T, Values: vals}, nil

	case *expr.Call:
		return ev.call(n, s)

	case *expr.Join:
		return ev.join(n, s)

	case *expr.NestedResult:
		return ev.seq(n.Query, s)

	case *expr.GroupAggregate:
		return ev.groupAggregate(n, s)

	case *expr.RowNumber:
		if len(ev.rowNumbers) == 0 {
			return nil, fmt.Errorf("row number outside a numbering selector")
		}
		return ev.rowNumbers[len(ev.rowNumbers)-1], nil

	case *expr.EmptyMarker:
		x, err := ev.eval(n.X, s)
		if err != nil {
			return nil, err
		}
		return x == nil, nil
	}
	return nil, fmt.Errorf("cannot evaluate %T", e)
}

// seq evaluates a sequence-valued expression.
func (ev *evaluator) seq(e expr.Expr, s *scope) ([]any, error) {
	v, err := ev.eval(e, s)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case []any:
		return x, nil
	case *Grouping:
		return x.Elems, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("%s is not a sequence", expr.Format(e))
}

// apply invokes l with args bound to its parameters.
func (ev *evaluator) apply(l *expr.Lambda, s *scope, args ...any) (any, error) {
	return ev.eval(l.Body, s.bind(l.Params, args...))
}

// test invokes a predicate; null counts as false.
func (ev *evaluator) test(l *expr.Lambda, s *scope, x any) (bool, error) {
	v, err := ev.apply(l, s, x)
	return v == true, err
}

func (ev *evaluator) member(x any, m *expr.Member) (any, error) {
	switch v := x.(type) {
	case nil:
		return nil, nil
	case *Row:
		if nav, ok := ev.db.set.Navigation(v.Entity, m.Name); ok {
			return ev.navigate(v, nav)
		}
		val, ok := v.Values[m.Name]
		if !ok {
			return nil, fmt.Errorf("%s has no column %q", v.Entity.Name, m.Name)
		}
		return val, nil
	case *Record:
		val, ok := v.Field(m.Name)
		if !ok {
			return nil, fmt.Errorf("record has no field %q", m.Name)
		}
		return val, nil
	case *Grouping:
		if m.Name == "Key" {
			return v.Key, nil
		}
	}
	return nil, fmt.Errorf("cannot read member %q of %T", m.Name, x)
}

// navigate follows a navigation from row: the matching target rows for a
// collection, the single match or null otherwise.
func (ev *evaluator) navigate(row *Row, nav *descriptor.Navigation) (any, error) {
	p := expr.NewParam("x", nav.Declaring)
	outer, err := ev.parts(nav.OuterParts(p), (*scope)(nil).bind([]*expr.Parameter{p}, row))
	if err != nil {
		return nil, err
	}
	src, err := ev.seq(nav.Source, nil)
	if err != nil {
		return nil, err
	}

	q := expr.NewParam("t", nav.Target)
	innerParts := nav.InnerParts(q)
	var matches []any
	for _, t := range src {
		inner, err := ev.parts(innerParts, (*scope)(nil).bind([]*expr.Parameter{q}, t))
		if err != nil {
			return nil, err
		}
		if keysMatch(outer, inner) {
			matches = append(matches, t)
		}
	}
	if nav.Many {
		if matches == nil {
			matches = []any{}
		}
		return matches, nil
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

func (ev *evaluator) parts(xs []expr.Expr, s *scope) ([]any, error) {
	out := make([]any, len(xs))
	for i, x := range xs {
		v, err := ev.eval(x, s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// keysMatch compares join keys. A null member never matches.
func keysMatch(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] == nil || b[i] == nil || !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// keyParts splits a join key value into its members.
func keyParts(v any) []any {
	if r, ok := v.(*Record); ok {
		return r.Values
	}
	return []any{v}
}
