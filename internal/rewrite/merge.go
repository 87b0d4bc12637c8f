package rewrite

import "github.com/roach88/navsql/internal/expr"

// MergeSelectors folds a Select into the combinator before it when that
// combinator builds a transparent identifier and the Select only reads its
// members. The identifier type disappears from the tree. A Select that uses
// the identifier whole is left alone; merges further downstream still apply.
//
// GroupBy(k).Select(g => f(g.Key, g.Sum(...))) becomes GroupBy(k, (key,
// rows) => f(key, rows.Sum(...))) when the grouping is used only through
// its Key and in aggregates.
//
// Identity Selects are dropped.
func MergeSelectors(e expr.Expr) expr.Expr {
	return expr.Transform(e, func(n expr.Expr) expr.Expr {
		c, ok := n.(*expr.Call)
		if !ok || c.Method != expr.MethodSelect {
			return n
		}
		if out := mergeSelect(c); out != nil {
			return out
		}
		return n
	})
}

func mergeSelect(c *expr.Call) expr.Expr {
	l := c.Args[1].(*expr.Lambda)
	if isIdentity(l) {
		return c.Args[0]
	}

	switch p := c.Args[0].(type) {
	case *expr.Call:
		slot := -1
		switch p.Method {
		case expr.MethodSelect:
			slot = 1
		case expr.MethodSelectMany:
			if len(p.Args) == 3 {
				slot = 2
			}
		case expr.MethodJoin, expr.MethodGroupJoin:
			slot = 4
		case expr.MethodZip:
			slot = 2
		case expr.MethodGroupBy:
			return mergeGroupBy(p, l)
		}
		if slot < 0 {
			return nil
		}
		m := compose(p.Args[slot].(*expr.Lambda), l, p.Method == expr.MethodSelect)
		if m == nil {
			return nil
		}
		args := append([]expr.Expr(nil), p.Args...)
		args[slot] = m
		out := rebuildCall(p, args...)
		// A merged Select may now merge with the combinator before it.
		if s, ok := out.(*expr.Call); ok && s.Method == expr.MethodSelect {
			if again := mergeSelect(s); again != nil {
				return again
			}
		}
		return out

	case *expr.Join:
		if m := compose(p.Result, l, false); m != nil {
			return expr.NewJoin(p.Kind, p.Outer, p.Inner, p.OuterKey, p.InnerKey, m, p.Alias)
		}
	}
	return nil
}

// compose returns prev followed by next as one lambda over prev's
// parameters, or nil when prev does not build a transparent identifier or
// the identifier is still needed whole. Row numbers stay in Select bodies.
func compose(prev, next *expr.Lambda, intoSelect bool) *expr.Lambda {
	ti, ok := prev.Body.(*expr.New)
	if !ok || !ti.T.Transparent {
		return nil
	}
	body := simplify(expr.Substitute(next.Body, map[*expr.Parameter]expr.Expr{next.Params[0]: ti}))
	escapes := expr.Count(body, func(n expr.Expr) bool {
		if x, ok := n.(*expr.New); ok {
			return x == ti
		}
		return false
	}) > 0
	if escapes {
		return nil
	}
	if !intoSelect && expr.Count(body, func(n expr.Expr) bool {
		_, ok := n.(*expr.RowNumber)
		return ok
	}) > 0 {
		return nil
	}
	return expr.NewLambda(body, prev.Params...)
}

// mergeGroupBy moves a Select over groupings into the GroupBy's result
// selector. The grouping must be used only as Key or as the root of
// aggregates.
func mergeGroupBy(g *expr.Call, l *expr.Lambda) expr.Expr {
	key, elem, result := groupParts(g)
	if result != nil {
		return nil
	}
	gp := l.Params[0]
	if !aggregateOnly(l.Body, gp, true) {
		return nil
	}

	elemT := expr.Elem(g.Args[0])
	if elem != nil {
		elemT = elem.Body.Type()
	}
	k := expr.NewParam("k", key.Body.Type())
	rows := expr.NewParam(gp.Name, expr.SequenceOf(elemT))

	body := expr.Transform(l.Body, func(n expr.Expr) expr.Expr {
		if m, ok := n.(*expr.Member); ok && m.X == expr.Expr(gp) && m.Name == "Key" {
			return k
		}
		return n
	})
	body = expr.Substitute(body, map[*expr.Parameter]expr.Expr{gp: rows})

	args := []expr.Expr{g.Args[0], key}
	if elem != nil {
		args = append(args, elem)
	}
	args = append(args, expr.NewLambda(body, k, rows))
	return rebuildCall(g, args...)
}

// simplify removes member accesses on record constructions and pushes
// member accesses through null-guarded conditionals.
func simplify(e expr.Expr) expr.Expr {
	return expr.Transform(e, simplifyNode)
}

func simplifyNode(n expr.Expr) expr.Expr {
	m, ok := n.(*expr.Member)
	if !ok {
		return n
	}
	switch x := m.X.(type) {
	case *expr.New:
		if arg := x.Arg(m.Name); arg != nil {
			return arg
		}
	case *expr.Conditional:
		if !expr.IsNull(x.Then) {
			return n
		}
		inner, err := expr.NewMember(x.Else, m.Name)
		if err != nil {
			return n
		}
		return expr.Cond(x.Test, expr.Null(expr.NullableOf(inner.T)), simplifyNode(inner))
	}
	return n
}
