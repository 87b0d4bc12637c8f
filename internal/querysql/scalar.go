package querysql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/navsql/internal/expr"
)

// value compiles e to the shape of its value.
func (c *compilation) value(e expr.Expr, en *env) (*node, error) {
	switch n := e.(type) {
	case *expr.Parameter:
		b := en.lookup(n)
		if b == nil {
			return nil, untranslatable(n, "unbound parameter")
		}
		if b.group != nil {
			return nil, untranslatable(n, "group rows are only translatable inside aggregates")
		}
		return b.n, nil

	case *expr.Member:
		x, err := c.value(n.X, en)
		if err != nil {
			return nil, err
		}
		switch x.kind {
		case recordNode:
			if f, ok := x.field(n.Name); ok {
				return f, nil
			}
			return nil, untranslatable(n, "member %s is not mapped to a column", n.Name)
		case nullNode:
			if n.T.IsScalar() {
				return leaf("NULL"), nil
			}
			return x, nil
		}
		return nil, untranslatable(n, "member of a %s value", n.X.Type())

	case *expr.New:
		out := &node{kind: recordNode, t: n.T}
		for i, a := range n.Args {
			f, err := c.value(a, en)
			if err != nil {
				return nil, err
			}
			out.names = append(out.names, n.T.Fields[i].Name)
			out.fields = append(out.fields, f)
		}
		return out, nil

	case *expr.Conditional:
		if !n.T.IsScalar() {
			test, err := c.scalar(n.Test, en)
			if err != nil {
				return nil, err
			}
			a, err := c.value(n.Then, en)
			if err != nil {
				return nil, err
			}
			b, err := c.value(n.Else, en)
			if err != nil {
				return nil, err
			}
			return choose(n, test, a, b)
		}

	case *expr.Constant:
		if n.Value == nil && !n.T.IsScalar() {
			return &node{kind: nullNode}, nil
		}

	case *expr.NestedResult:
		return c.nested(n, en)
	}

	if !e.Type().IsScalar() {
		return nil, untranslatable(e, "%s value outside a query", e.Type())
	}
	before := c.windows
	s, err := c.scalar(e, en)
	if err != nil {
		return nil, err
	}
	return &node{kind: leafNode, sql: s, window: c.windows > before}, nil
}

// choose merges the branches of a conditional over records column by
// column.
func choose(n expr.Expr, test string, a, b *node) (*node, error) {
	switch {
	case a.kind == nullNode && b.kind == nullNode:
		return a, nil
	case a.kind == leafNode || b.kind == leafNode:
		return leaf("CASE WHEN " + test + " THEN " + sqlOf(a) + " ELSE " + sqlOf(b) + " END"), nil
	case a.kind == recordNode || b.kind == recordNode:
		shape := a
		if a.kind != recordNode {
			shape = b
		}
		out := &node{kind: recordNode, t: shape.t, names: shape.names}
		for _, name := range shape.names {
			fa, fb := fieldOrNull(a, name), fieldOrNull(b, name)
			if fa == nil || fb == nil {
				return nil, untranslatable(n, "branches build different records")
			}
			f, err := choose(n, test, fa, fb)
			if err != nil {
				return nil, err
			}
			out.fields = append(out.fields, f)
		}
		return out, nil
	}
	return nil, untranslatable(n, "conditional over nested results")
}

func fieldOrNull(n *node, name string) *node {
	if n.kind == nullNode {
		return n
	}
	f, _ := n.field(name)
	return f
}

func sqlOf(n *node) string {
	if n.kind == leafNode {
		return n.sql
	}
	return "NULL"
}

// scalar compiles e to one SQL expression.
func (c *compilation) scalar(e expr.Expr, en *env) (string, error) {
	switch n := e.(type) {
	case *expr.Constant:
		if n.Value == nil {
			return "NULL", nil
		}
		return c.bind(n.Value), nil

	case *expr.Parameter, *expr.Member:
		v, err := c.value(e, en)
		if err != nil {
			return "", err
		}
		return scalarOf(e, v)

	case *expr.Unary:
		x, err := c.scalar(n.X, en)
		if err != nil {
			return "", err
		}
		switch n.Op {
		case expr.OpNot:
			return "NOT " + x, nil
		case expr.OpNegate:
			return "-" + x, nil
		}
		return convert(x, n.X.Type(), n.T), nil

	case *expr.Binary:
		return c.binary(n, en)

	case *expr.Conditional:
		test, err := c.scalar(n.Test, en)
		if err != nil {
			return "", err
		}
		a, err := c.scalar(n.Then, en)
		if err != nil {
			return "", err
		}
		b, err := c.scalar(n.Else, en)
		if err != nil {
			return "", err
		}
		return "CASE WHEN " + test + " THEN " + a + " ELSE " + b + " END", nil

	case *expr.Call:
		if n.Method == expr.MethodEquals {
			sql, err := c.terminal(n, en)
			return strings.TrimPrefix(sql, "SELECT "), err
		}
		if agg, ok, err := c.groupAggregateCall(n, en); ok || err != nil {
			return agg, err
		}
		if n.Method.IsSingleResult() {
			q, err := c.single(n, en)
			if err != nil {
				return "", err
			}
			if q.elem.kind != leafNode {
				return "", untranslatable(n, "single result used as a scalar is not a column")
			}
			return "(" + q.render([]column{{sql: q.elem.sql, name: columnName(q.elem.sql)}}) + ")", nil
		}
		if n.Method.IsTerminal() {
			sql, err := c.terminal(n, en)
			if err != nil {
				return "", err
			}
			return "(" + sql + ")", nil
		}
		return "", untranslatable(n, "sequence used as a scalar")

	case *expr.RowNumber:
		c.windows++
		terms := make([]string, 0, len(n.Order))
		for _, k := range n.Order {
			s, err := c.scalar(k.X, en)
			if err != nil {
				return "", err
			}
			terms = append(terms, orderTerm{sql: s, desc: k.Desc, text: k.X.Type().Name == expr.String}.String())
		}
		if len(terms) == 0 {
			return "ROW_NUMBER() OVER ()", nil
		}
		return "ROW_NUMBER() OVER (ORDER BY " + strings.Join(terms, ", ") + ")", nil

	case *expr.EmptyMarker:
		if p, ok := n.X.(*expr.Parameter); ok {
			if b := en.lookup(p); b != nil && b.empty != "" {
				return b.empty, nil
			}
		}
		v, err := c.value(n.X, en)
		if err != nil {
			return "", err
		}
		if v.kind != leafNode {
			return "", untranslatable(n, "no column tells a missing row apart")
		}
		return "(" + v.sql + " IS NULL)", nil

	case *expr.New, *expr.NestedResult:
		return "", untranslatable(e, "record used as a scalar")
	}
	return "", untranslatable(e, "no scalar translation")
}

func scalarOf(e expr.Expr, v *node) (string, error) {
	switch v.kind {
	case leafNode:
		return v.sql, nil
	case nullNode:
		return "NULL", nil
	}
	return "", untranslatable(e, "%s is not a column", e.Type())
}

func convert(x string, from, to *expr.Type) string {
	if !to.IsScalar() || !from.IsScalar() || from.Name == to.Name {
		return x
	}
	if integral(from) && integral(to) {
		return x
	}
	switch to.Name {
	case expr.Double, expr.Float:
		return "CAST(" + x + " AS REAL)"
	case expr.Int, expr.Long:
		return "CAST(" + x + " AS INTEGER)"
	case expr.String:
		return "CAST(" + x + " AS TEXT)"
	}
	return x
}

func integral(t *expr.Type) bool {
	return t.Name == expr.Int || t.Name == expr.Long
}

var binaryOps = map[expr.BinaryOp]string{
	expr.OpLt: "<", expr.OpLe: "<=", expr.OpGt: ">", expr.OpGe: ">=",
	expr.OpAnd: "AND", expr.OpOr: "OR",
	expr.OpAdd: "+", expr.OpSub: "-", expr.OpMul: "*", expr.OpDiv: "/",
}

func (c *compilation) binary(n *expr.Binary, en *env) (string, error) {
	if !n.L.Type().IsScalar() || !n.R.Type().IsScalar() {
		if n.Op == expr.OpEq || n.Op == expr.OpNe {
			return "", untranslatable(n, "comparison of %s values without a key", n.L.Type())
		}
	}

	if n.Op == expr.OpEq || n.Op == expr.OpNe {
		neg := ""
		if n.Op == expr.OpNe {
			neg = " NOT"
		}
		switch {
		case expr.IsNull(n.R):
			l, err := c.scalar(n.L, en)
			return "(" + l + " IS" + neg + " NULL)", err
		case expr.IsNull(n.L):
			r, err := c.scalar(n.R, en)
			return "(" + r + " IS" + neg + " NULL)", err
		}
	}

	l, err := c.scalar(n.L, en)
	if err != nil {
		return "", err
	}
	r, err := c.scalar(n.R, en)
	if err != nil {
		return "", err
	}

	switch n.Op {
	case expr.OpEq, expr.OpNe:
		// IS compares nullable operands with null == null semantics.
		op := "="
		if n.L.Type().Nullable || n.R.Type().Nullable {
			op = "IS"
		}
		if n.Op == expr.OpNe {
			if op == "IS" {
				op = "IS NOT"
			} else {
				op = "<>"
			}
		}
		return "(" + l + " " + op + " " + r + ")", nil
	case expr.OpCoalesce:
		return "COALESCE(" + l + ", " + r + ")", nil
	case expr.OpAdd:
		if n.T.Name == expr.String {
			return "(" + l + " || " + r + ")", nil
		}
	}
	op, ok := binaryOps[n.Op]
	if !ok {
		return "", untranslatable(n, "operator %s", n.Op)
	}
	return "(" + l + " " + op + " " + r + ")", nil
}

// terminal compiles a terminal operator as a complete statement.
func (c *compilation) terminal(n *expr.Call, en *env) (string, error) {
	if n.Method == expr.MethodEquals {
		if !n.Args[0].Type().IsScalar() || !n.Args[1].Type().IsScalar() {
			return "", untranslatable(n, "Equals on %s values without a key", n.Args[0].Type())
		}
		s, err := c.binary(expr.Eq(n.Args[0], n.Args[1]), en)
		return "SELECT " + s, err
	}

	q, err := c.seq(n.Args[0], en)
	if err != nil {
		return "", err
	}
	l := lambdaArg(n, 1)
	if !q.filterable() {
		q = c.wrap(q)
	}

	switch n.Method {
	case expr.MethodCount, expr.MethodLongCount:
		if l != nil {
			cond, err := c.scalar(l.Body, en.bind(l.Params[0], q.elem))
			if err != nil {
				return "", err
			}
			q.where = append(q.where, cond)
		}
		return q.renderWith("COUNT(*)"), nil

	case expr.MethodSum, expr.MethodMin, expr.MethodMax, expr.MethodAverage:
		elem := q.elem
		if l != nil {
			if elem, err = c.value(l.Body, en.bind(l.Params[0], q.elem)); err != nil {
				return "", err
			}
		}
		if elem.kind != leafNode {
			return "", untranslatable(n, "aggregate over a non-column")
		}
		if elem.window {
			q.elem = elem
			q = c.wrap(q)
			elem = q.elem
		}
		return q.renderWith(aggregate(n, elem.sql)), nil

	case expr.MethodAny:
		if l != nil {
			cond, err := c.scalar(l.Body, en.bind(l.Params[0], q.elem))
			if err != nil {
				return "", err
			}
			q.where = append(q.where, cond)
		}
		return "SELECT EXISTS (" + q.renderWith("1") + ")", nil

	case expr.MethodAll:
		cond, err := c.scalar(l.Body, en.bind(l.Params[0], q.elem))
		if err != nil {
			return "", err
		}
		q.where = append(q.where, "NOT "+cond)
		return "SELECT NOT EXISTS (" + q.renderWith("1") + ")", nil

	case expr.MethodContains:
		v, err := c.scalar(n.Args[1], en)
		if err != nil {
			return "", err
		}
		if q.elem.kind != leafNode {
			return "", untranslatable(n, "Contains over a non-column")
		}
		q.where = append(q.where, "("+q.elem.sql+" IS "+v+")")
		return "SELECT EXISTS (" + q.renderWith("1") + ")", nil
	}
	return "", untranslatable(n, "%s has no SQL translation", n.Method)
}

// aggregate applies the SQL aggregate for m to x. Sum over no rows is zero.
func aggregate(n *expr.Call, x string) string {
	switch n.Method {
	case expr.MethodMin:
		return "MIN(" + x + ")"
	case expr.MethodMax:
		return "MAX(" + x + ")"
	case expr.MethodAverage:
		return "AVG(" + x + ")"
	}
	return "COALESCE(SUM(" + x + "), 0)"
}

// groupAggregateCall compiles an aggregate over the rows of the enclosing
// grouping clause. ok is false when n does not start at group rows.
func (c *compilation) groupAggregateCall(n *expr.Call, en *env) (string, bool, error) {
	if !n.Method.IsAggregate() && n.Method != expr.MethodAny {
		return "", false, nil
	}
	var chain []*expr.Call
	recv := n.Args[0]
	for {
		cc, ok := recv.(*expr.Call)
		if !ok || (cc.Method != expr.MethodWhere && cc.Method != expr.MethodSelect) {
			break
		}
		chain = append(chain, cc)
		recv = cc.Args[0]
	}
	p, ok := recv.(*expr.Parameter)
	if !ok {
		return "", false, nil
	}
	b := en.lookup(p)
	if b == nil || b.group == nil {
		return "", false, nil
	}

	elem := b.group
	var conds []string
	step := func(l *expr.Lambda, filter bool) error {
		ren := en.bind(l.Params[0], elem)
		if filter {
			cond, err := c.scalar(l.Body, ren)
			conds = append(conds, cond)
			return err
		}
		v, err := c.value(l.Body, ren)
		elem = v
		return err
	}
	for i := len(chain) - 1; i >= 0; i-- {
		if err := step(lambdaArg(chain[i], 1), chain[i].Method == expr.MethodWhere); err != nil {
			return "", true, err
		}
	}
	counting := n.Method == expr.MethodCount || n.Method == expr.MethodLongCount || n.Method == expr.MethodAny
	if l := lambdaArg(n, 1); l != nil {
		if err := step(l, counting); err != nil {
			return "", true, err
		}
	}
	cond := strings.Join(conds, " AND ")

	if counting {
		count := "COUNT(*)"
		if cond != "" {
			count = "COUNT(CASE WHEN " + cond + " THEN 1 END)"
		}
		if n.Method == expr.MethodAny {
			return "(" + count + " > 0)", true, nil
		}
		return count, true, nil
	}
	if elem.kind != leafNode {
		return "", true, untranslatable(n, "aggregate over a non-column")
	}
	x := elem.sql
	if cond != "" {
		x = "CASE WHEN " + cond + " THEN " + x + " END"
	}
	return aggregate(n, x), true, nil
}

var correlationParam = regexp.MustCompile(`:k(\d+)\b`)

// nested compiles a nested result as a secondary statement. Every column of
// an enclosing element it reads becomes a named parameter :kN, bound per
// primary row to the matching column of that row.
func (c *compilation) nested(n *expr.NestedResult, en *env) (*node, error) {
	sub := &compilation{}
	var outer []*node
	var sen *env
	for _, p := range expr.FreeParams(n.Query) {
		b := en.lookup(p)
		if b == nil || b.group != nil {
			return nil, untranslatable(n, "nested result reads %s", p.Name)
		}
		sen = sen.bind(p, proxy(b.n, &outer))
	}
	sql, secs, err := sub.statement(n.Query, sen)
	if err != nil {
		return nil, err
	}

	out := &node{kind: nestedNode, nested: &nestedQuery{sql: sql, params: sub.params, secs: secs}}
	used := map[int]bool{}
	for _, m := range correlationParam.FindAllStringSubmatch(sql, -1) {
		i, _ := strconv.Atoi(m[1])
		used[i] = true
	}
	for i, col := range outer {
		if !used[i] {
			continue
		}
		out.corr = append(out.corr, col)
		out.nested.names = append(out.nested.names, fmt.Sprintf("k%d", i))
	}
	return out, nil
}

// proxy mirrors n with every column replaced by a named parameter,
// recording the replaced columns in order.
func proxy(n *node, cols *[]*node) *node {
	switch n.kind {
	case leafNode:
		*cols = append(*cols, n)
		return leaf(fmt.Sprintf(":k%d", len(*cols)-1))
	case recordNode:
		out := &node{kind: recordNode, t: n.t, names: n.names}
		for _, f := range n.fields {
			out.fields = append(out.fields, proxy(f, cols))
		}
		return out
	}
	return n
}
