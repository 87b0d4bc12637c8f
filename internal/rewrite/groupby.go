package rewrite

import "github.com/roach88/navsql/internal/expr"

// groupBy rewrites a GroupBy into a GroupAggregate node.
//
// Aggregate shape: the key, the element selector and every aggregate over
// the group's rows are bound against the same source frame, so a navigation
// shared by the key and an aggregate is joined once. The rows parameter of
// the result selector then ranges over the joined source rows.
//
// Intact shape: each use of the rows is replaced by a correlated query over
// the source filtered on the group key, which becomes a nested result
// wherever the rows are used as a value.
//
// Without a result selector the groupings themselves flow on; the frame
// rebuilds Key and the elements from each group key.
func (r *navRewriter) groupBy(c *expr.Call) *frame {
	key, elemSel, result := groupParts(c)
	shape := r.groupings.Shape(c)
	f := r.chain(c.Args[0])

	elemOf := func(f *frame, nested bool) (*frame, *expr.Lambda) {
		if elemSel == nil {
			return f, f.value
		}
		return r.bind(f, elemSel, f.roots(), nested)
	}

	// Resolve joins on the source before anything is built on top of it.
	f, _ = r.bind(f, key, f.roots(), false)
	f, _ = elemOf(f, false)
	if result != nil && shape == ShapeAggregate {
		rows := result.Params[1]
		for _, agg := range rowsChains(result.Body, rows) {
			var elem *expr.Lambda
			f, elem = elemOf(f, false)
			g := f.clone()
			g.value, g.group, g.log = elem, nil, nil
			r.roots[rows] = g
			out := r.chain(agg)
			delete(r.roots, rows)
			for _, s := range out.log {
				f = r.replay(f, s)
			}
		}
	}

	f, keyL := r.bind(f, key, f.roots(), true)
	f, elem := elemOf(f, true)
	k := expr.NewParam("k", keyL.Body.Type())
	rowsT := expr.SequenceOf(f.row)

	if result == nil {
		g := expr.NewParam("g", rowsT)
		ga := expr.NewGroupAggregate(f.seq, keyL, expr.NewLambda(k, k, g), true)
		gf := sourceFrame(ga)
		src := f.seq
		gf.group = &groupView{
			key: identityOf(gf.row),
			elems: expr.Lambda1("x", gf.row, func(x *expr.Parameter) expr.Expr {
				return groupRows(src, keyL, x, elem)
			}),
		}
		return gf
	}

	kp, rp := result.Params[0], result.Params[1]
	k.Name = kp.Name
	rows := expr.NewParam(rp.Name, rowsT)

	if shape == ShapeAggregate {
		rf := f.clone()
		rf.seq, rf.value, rf.group, rf.log = rows, elem, nil, nil
		r.roots[rp] = rf
		body := r.expr(expr.Substitute(result.Body, map[*expr.Parameter]expr.Expr{kp: k}))
		delete(r.roots, rp)
		return sourceFrame(expr.NewGroupAggregate(f.seq, keyL, expr.NewLambda(body, k, rows), false))
	}

	body := expr.Substitute(result.Body, map[*expr.Parameter]expr.Expr{
		kp: k,
		rp: groupRows(f.seq, keyL, k, elem),
	})
	return sourceFrame(expr.NewGroupAggregate(f.seq, keyL, expr.NewLambda(r.expr(body), k, rows), true))
}

// groupRows returns the elements of src whose key equals k.
func groupRows(src expr.Expr, key *expr.Lambda, k expr.Expr, elem *expr.Lambda) expr.Expr {
	s := expr.NewParam("s", expr.Elem(src))
	var q expr.Expr = expr.CallOf(expr.MethodWhere, src,
		expr.NewLambda(keyEquals(expr.Apply(key, s), k), s))
	if !isIdentity(elem) {
		q = expr.CallOf(expr.MethodSelect, q, elem)
	}
	return q
}
