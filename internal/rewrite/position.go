package rewrite

import "github.com/roach88/navsql/internal/expr"

// positional rewrites SkipWhile and TakeWhile over a row-numbered source.
// With n the first row number whose element fails the predicate:
//
//	SkipWhile: keep rows with RowNumber >= (n ?? 0)
//	TakeWhile: keep rows with RowNumber <  (n ?? RowNumber + 1)
//
// The threshold is an uncorrelated scalar subquery over the numbered rows.
func (r *navRewriter) positional(c *expr.Call) *frame {
	n := r.number(r.chain(c.Args[0]))
	n, pred := r.bind(n, c.Args[1].(*expr.Lambda), n.roots(), true)

	// Every join added by the predicate nests the numbered row one Outer deeper.
	path := make([]string, 0, len(n.log)+1)
	for range n.log {
		path = append(path, "Outer")
	}
	path = append(path, "RowNumber")

	long := expr.ScalarOf(expr.Long)
	z := expr.NewParam("z", n.row)
	failing := expr.CallOf(expr.MethodWhere, n.seq, expr.NewLambda(expr.Not(expr.Apply(pred, z)), z))
	w := expr.NewParam("z", n.row)
	first := expr.CallOf(expr.MethodMin, expr.CallOf(expr.MethodSelect, failing,
		expr.NewLambda(expr.Convert(expr.Path(w, path...), expr.NullableOf(long)), w)))

	y := expr.NewParam("y", n.row)
	rn := expr.Path(y, path...)
	var test expr.Expr
	if c.Method == expr.MethodSkipWhile {
		test = expr.BinaryOf(expr.OpGe, rn, expr.BinaryOf(expr.OpCoalesce, first, expr.Const(int64(0), long)))
	} else {
		next := expr.BinaryOf(expr.OpAdd, rn, expr.Const(int64(1), long))
		test = expr.BinaryOf(expr.OpLt, rn, expr.BinaryOf(expr.OpCoalesce, first, next))
	}
	n.seq = expr.CallOf(expr.MethodWhere, n.seq, expr.NewLambda(test, y))
	return n
}

// zip pairs two sequences by position: both sides are numbered and joined
// on equal row numbers.
func (r *navRewriter) zip(c *expr.Call) *frame {
	a := r.number(r.chain(c.Args[0]))
	b := r.number(r.chain(c.Args[1]))

	rowNumber := func(t *expr.Type) *expr.Lambda {
		return expr.Lambda1("x", t, func(x *expr.Parameter) expr.Expr {
			return expr.MemberOf(x, "RowNumber")
		})
	}
	j := expr.NewJoin(expr.JoinInner, a.seq, b.seq, rowNumber(a.row), rowNumber(b.row),
		transparentPair(a.row, b.row), r.alias.Next())
	nf := pair(j, a, b)
	nf, l := r.bind(nf, c.Args[2].(*expr.Lambda), []*expr.Lambda{
		relocate(a.value, nf.row, "Outer"),
		relocate(b.value, nf.row, "Inner"),
	}, true)
	return r.project(nf, l)
}

// number wraps every row of f as {Row, RowNumber}, numbering by the
// ordering of f.seq.
func (r *navRewriter) number(f *frame) *frame {
	x := expr.NewParam("x", f.row)
	rec := expr.NewRecord([]string{"Row", "RowNumber"}, []expr.Expr{
		x,
		&expr.RowNumber{Order: orderingOf(f.seq, x)},
	}, true)
	return f.moved(expr.CallOf(expr.MethodSelect, f.seq, expr.NewLambda(rec, x)), "Row")
}

// orderingOf returns the order keys of seq applied to x. Filters and
// Skip/Take keep the order of their receiver; anything else is unordered.
func orderingOf(seq expr.Expr, x expr.Expr) []expr.OrderKey {
	var keys []expr.OrderKey
	for {
		c, ok := seq.(*expr.Call)
		if !ok {
			return nil
		}
		switch {
		case c.Method == expr.MethodWhere, c.Method == expr.MethodSkip, c.Method == expr.MethodTake:
			if keys != nil {
				return nil
			}
			seq = c.Args[0]
			continue
		case c.Method.IsOrdering():
		default:
			return nil
		}
		k := expr.OrderKey{
			X:    expr.Apply(c.Args[1].(*expr.Lambda), x),
			Desc: c.Method == expr.MethodOrderByDescending || c.Method == expr.MethodThenByDescending,
		}
		keys = append([]expr.OrderKey{k}, keys...)
		if c.Method == expr.MethodOrderBy || c.Method == expr.MethodOrderByDescending {
			return keys
		}
		seq = c.Args[0]
	}
}
