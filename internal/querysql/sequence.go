package querysql

import (
	"strings"

	"github.com/roach88/navsql/internal/expr"
)

func lambdaArg(c *expr.Call, i int) *expr.Lambda {
	if i >= len(c.Args) {
		return nil
	}
	l, _ := c.Args[i].(*expr.Lambda)
	return l
}

// seq compiles a sequence-valued expression.
func (c *compilation) seq(e expr.Expr, en *env) (*query, error) {
	switch n := e.(type) {
	case *expr.Source:
		return c.source(n.Entity), nil
	case *expr.Call:
		return c.method(n, en)
	case *expr.Join:
		kind := "INNER JOIN"
		if n.Kind == expr.JoinLeft {
			kind = "LEFT JOIN"
		}
		return c.join(kind, n.Outer, n.Inner, n.OuterKey, n.InnerKey, n.Result, en)
	case *expr.GroupAggregate:
		return c.groupAggregate(n, en)
	case *expr.NestedResult:
		return c.seq(n.Query, en)
	case *expr.Member:
		return nil, untranslatable(n, "collection member has no navigation rewrite")
	case *expr.Parameter:
		if b := en.lookup(n); b != nil && b.group != nil {
			return nil, untranslatable(n, "group rows are only translatable inside aggregates")
		}
	}
	return nil, untranslatable(e, "not a query")
}

func (c *compilation) source(t *expr.Type) *query {
	alias := c.alias()
	elem := &node{kind: recordNode, t: t}
	for _, f := range t.Fields {
		if !f.Type.IsScalar() {
			continue
		}
		elem.names = append(elem.names, f.Name)
		elem.fields = append(elem.fields, leaf(alias+"."+quoteIdent(f.Name)))
	}
	return &query{
		from:   quoteIdent(t.Table) + " AS " + alias,
		single: true,
		elem:   elem,
	}
}

func (c *compilation) method(n *expr.Call, en *env) (*query, error) {
	switch n.Method {
	case expr.MethodWhere, expr.MethodSelect, expr.MethodOrderBy, expr.MethodOrderByDescending,
		expr.MethodThenBy, expr.MethodThenByDescending, expr.MethodSkip, expr.MethodTake,
		expr.MethodDistinct, expr.MethodSelectMany:
	case expr.MethodJoin:
		return c.join("INNER JOIN", n.Args[0], n.Args[1], lambdaArg(n, 2), lambdaArg(n, 3), lambdaArg(n, 4), en)
	default:
		return nil, untranslatable(n, "%s has no SQL translation", n.Method)
	}

	q, err := c.seq(n.Args[0], en)
	if err != nil {
		return nil, err
	}
	l := lambdaArg(n, 1)

	switch n.Method {
	case expr.MethodWhere:
		if !q.filterable() {
			q = c.wrap(q)
		}
		cond, err := c.scalar(l.Body, en.bind(l.Params[0], q.elem))
		if err != nil {
			return nil, err
		}
		q.where = append(q.where, cond)
		return q, nil

	case expr.MethodSelect:
		if q.distinct || (rowNumbered(l.Body) && (q.bounded() || q.elem.hasWindow())) {
			q = c.wrap(q)
		}
		elem, err := c.value(l.Body, en.bind(l.Params[0], q.elem))
		if err != nil {
			return nil, err
		}
		q.elem = elem
		return q, nil

	case expr.MethodOrderBy, expr.MethodOrderByDescending, expr.MethodThenBy, expr.MethodThenByDescending:
		if q.bounded() {
			q = c.wrap(q)
		}
		k, err := c.scalar(l.Body, en.bind(l.Params[0], q.elem))
		if err != nil {
			return nil, err
		}
		term := orderTerm{
			sql:  k,
			desc: n.Method == expr.MethodOrderByDescending || n.Method == expr.MethodThenByDescending,
			text: l.Body.Type().Name == expr.String,
		}
		if n.Method == expr.MethodOrderBy || n.Method == expr.MethodOrderByDescending {
			q.order = nil
		}
		q.order = append(q.order, term)
		return q, nil

	case expr.MethodTake:
		if q.limit != "" {
			q = c.wrap(q)
		}
		if q.limit, err = c.scalar(n.Args[1], en); err != nil {
			return nil, err
		}
		return q, nil

	case expr.MethodSkip:
		if q.limit != "" || q.offset != "" {
			q = c.wrap(q)
		}
		if q.offset, err = c.scalar(n.Args[1], en); err != nil {
			return nil, err
		}
		return q, nil

	case expr.MethodDistinct:
		if q.limit != "" || q.offset != "" {
			q = c.wrap(q)
		}
		q.distinct = true
		return q, nil
	}
	return c.selectMany(n, q, en)
}

// selectMany joins each element with a collection. The collection must be
// a query that does not depend on the element, optionally filtered by a
// predicate that does.
func (c *compilation) selectMany(n *expr.Call, outer *query, en *env) (*query, error) {
	l := lambdaArg(n, 1)
	x := l.Params[0]

	base := l.Body
	var pred *expr.Lambda
	if w, ok := base.(*expr.Call); ok && w.Method == expr.MethodWhere && !expr.References(w.Args[0], x) {
		base, pred = w.Args[0], lambdaArg(w, 1)
	}
	if dc, ok := base.(*expr.Call); ok && dc.Method == expr.MethodDefaultIfEmpty {
		return nil, untranslatable(l.Body, "DefaultIfEmpty outside a guarded left join")
	}
	if expr.References(base, x) {
		return nil, untranslatable(l.Body, "collection is correlated with %s", x.Name)
	}

	if !outer.filterable() {
		outer = c.wrap(outer)
	}
	inner, err := c.seq(base, en)
	if err != nil {
		return nil, err
	}
	inner = c.fromItem(inner)

	conds := inner.where
	if pred != nil {
		cond, err := c.scalar(pred.Body, en.bind(x, outer.elem).bind(pred.Params[0], inner.elem))
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}

	from := outer.from + " CROSS JOIN " + inner.from
	if len(conds) > 0 {
		from = outer.from + " INNER JOIN " + inner.from + " ON " + strings.Join(conds, " AND ")
	}

	elem := inner.elem
	if result := lambdaArg(n, 2); result != nil {
		ren := en.bind(result.Params[0], outer.elem).bind(result.Params[1], inner.elem)
		if elem, err = c.value(result.Body, ren); err != nil {
			return nil, err
		}
	}
	return &query{from: from, where: outer.where, order: outer.order, elem: elem}, nil
}

// fromItem prepares q to appear on the right of a JOIN: one table or
// subquery whose remaining WHERE conditions move into the ON clause.
func (c *compilation) fromItem(q *query) *query {
	q.order = nil
	if !q.single || !q.filterable() {
		q = c.wrap(q)
		q.order = nil
	}
	return q
}

func (c *compilation) join(kind string, outerE, innerE expr.Expr, outerKey, innerKey, result *expr.Lambda, en *env) (*query, error) {
	outer, err := c.seq(outerE, en)
	if err != nil {
		return nil, err
	}
	if !outer.filterable() {
		outer = c.wrap(outer)
	}
	inner, err := c.seq(innerE, en)
	if err != nil {
		return nil, err
	}
	inner = c.fromItem(inner)

	outerK, err := c.value(outerKey.Body, en.bind(outerKey.Params[0], outer.elem))
	if err != nil {
		return nil, err
	}
	innerK, err := c.value(innerKey.Body, en.bind(innerKey.Params[0], inner.elem))
	if err != nil {
		return nil, err
	}
	ol, okOuter := outerK.leaves()
	il, okInner := innerK.leaves()
	if !okOuter || !okInner || len(ol) != len(il) || len(ol) == 0 {
		return nil, untranslatable(outerKey, "join keys do not match column for column")
	}

	// Key equality uses =, so a null key never matches.
	on := make([]string, 0, len(ol)+len(inner.where))
	for i := range ol {
		on = append(on, "("+ol[i].sql+" = "+il[i].sql+")")
	}
	on = append(on, inner.where...)

	ren := en.bind(result.Params[0], outer.elem).bind(result.Params[1], inner.elem)
	if kind == "LEFT JOIN" {
		ren.empty = "(" + il[0].sql + " IS NULL)"
	}
	elem, err := c.value(result.Body, ren)
	if err != nil {
		return nil, err
	}
	return &query{
		from:  outer.from + " " + kind + " " + inner.from + " ON " + strings.Join(on, " AND "),
		where: outer.where,
		order: outer.order,
		elem:  elem,
	}, nil
}

// groupAggregate compiles a grouping clause into a GROUP BY subquery.
func (c *compilation) groupAggregate(n *expr.GroupAggregate, en *env) (*query, error) {
	q, err := c.seq(n.Source, en)
	if err != nil {
		return nil, err
	}
	if !q.filterable() {
		q = c.wrap(q)
	}
	q.order = nil

	key, err := c.value(n.Key.Body, en.bind(n.Key.Params[0], q.elem))
	if err != nil {
		return nil, err
	}
	keys, ok := key.leaves()
	if !ok {
		return nil, untranslatable(n.Key, "grouping key holds a nested result")
	}

	ren := en.bind(n.Result.Params[0], key)
	ren = &env{p: n.Result.Params[1], group: q.elem, parent: ren}
	elem, err := c.value(n.Result.Body, ren)
	if err != nil {
		return nil, err
	}

	grouped := *q
	grouped.elem = elem
	for _, k := range keys {
		grouped.groupBy = append(grouped.groupBy, k.sql)
	}
	return c.wrap(&grouped), nil
}

// single compiles First, Last and Single with their OrDefault variants as a
// bounded query.
func (c *compilation) single(n *expr.Call, en *env) (*query, error) {
	q, err := c.seq(n.Args[0], en)
	if err != nil {
		return nil, err
	}
	if pred := lambdaArg(n, 1); pred != nil {
		if !q.filterable() {
			q = c.wrap(q)
		}
		cond, err := c.scalar(pred.Body, en.bind(pred.Params[0], q.elem))
		if err != nil {
			return nil, err
		}
		q.where = append(q.where, cond)
	}
	if q.limit != "" {
		q = c.wrap(q)
	}

	switch n.Method {
	case expr.MethodLast, expr.MethodLastOrDefault:
		if len(q.order) == 0 {
			return nil, untranslatable(n, "Last requires an ordering")
		}
		if q.offset != "" {
			q = c.wrap(q)
		}
		for i := range q.order {
			q.order[i].desc = !q.order[i].desc
		}
		q.limit = "1"
	case expr.MethodSingle, expr.MethodSingleOrDefault:
		q.limit = "2"
	default:
		q.limit = "1"
	}
	return q, nil
}

func rowNumbered(body expr.Expr) bool {
	found := false
	expr.Walk(body, func(n expr.Expr) bool {
		switch n.(type) {
		case *expr.Lambda:
			return false
		case *expr.RowNumber:
			found = true
		}
		return !found
	})
	return found
}
