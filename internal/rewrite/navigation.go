package rewrite

import (
	"github.com/roach88/navsql/internal/descriptor"
	"github.com/roach88/navsql/internal/expr"
)

// RewriteNavigations expands navigation accesses into joins and correlated
// subqueries. groupings is the output of AnalyzeGroupings on e; GroupBy
// calls it does not cover are classified on the fly. alias may be nil, in
// which case a fresh allocator seeded from e is used.
//
// The result has the same type as e except where an intact grouping is
// materialized: those elements become {Key, Elements} records.
func RewriteNavigations(e expr.Expr, set *descriptor.Set, groupings Groupings, alias *AliasAllocator) expr.Expr {
	if alias == nil {
		alias = NewAliasAllocator(e)
	}
	r := &navRewriter{
		set:       set,
		groupings: groupings,
		alias:     alias,
		roots:     make(map[*expr.Parameter]*frame),
	}
	if e.Type().IsSequence() {
		return r.finalize(r.chain(e))
	}
	return r.expr(e)
}

type navRewriter struct {
	set       *descriptor.Set
	groupings Groupings
	alias     *AliasAllocator

	// roots maps sequence parameters (a group's rows) to the frame their
	// chains start from.
	roots map[*expr.Parameter]*frame
}

// expr rewrites e in a value position.
func (r *navRewriter) expr(e expr.Expr) expr.Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case *expr.Constant, *expr.Parameter, *expr.Source, *expr.NestedResult,
		*expr.Join, *expr.GroupAggregate, *expr.RowNumber:
		return e
	case *expr.Member:
		if nav, ok := r.set.Navigation(n.X.Type(), n.Name); ok && nav.Many {
			return &expr.NestedResult{Query: r.finalize(r.chain(n))}
		}
	case *expr.Call:
		if n.Method.IsTerminal() && n.Args[0].Type().IsSequence() {
			return r.terminal(n)
		}
		if n.Type().IsSequence() {
			return &expr.NestedResult{Query: r.finalize(r.chain(n))}
		}
	}

	kids := expr.Children(e)
	next := make([]expr.Expr, len(kids))
	for i, k := range kids {
		next[i] = r.expr(k)
	}
	return expr.WithChildren(e, next)
}

// chain rewrites a sequence-valued expression into a frame.
func (r *navRewriter) chain(e expr.Expr) *frame {
	switch n := e.(type) {
	case *expr.Parameter:
		if f, ok := r.roots[n]; ok {
			return f.clone()
		}
		return sourceFrame(e)
	case *expr.Source, *expr.Join, *expr.GroupAggregate, *expr.NestedResult:
		return sourceFrame(e)
	case *expr.Member:
		if nav, ok := r.set.Navigation(n.X.Type(), n.Name); ok && nav.Many {
			return sourceFrame(correlate(nav, r.expr(n.X)))
		}
	case *expr.Call:
		if numbered(n) {
			return sourceFrame(e)
		}
		if !n.Method.IsTerminal() {
			return r.call(n)
		}
	}
	return sourceFrame(r.expr(e))
}

// numbered reports whether c is a row numbering built by an earlier pass.
// Its receiver is already rewritten, and a positional filter reads the same
// node from the outer filter and the threshold subquery: it must stay one
// node.
func numbered(c *expr.Call) bool {
	if c.Method != expr.MethodSelect {
		return false
	}
	l, ok := c.Args[1].(*expr.Lambda)
	if !ok {
		return false
	}
	return expr.Count(l.Body, func(n expr.Expr) bool {
		_, ok := n.(*expr.RowNumber)
		return ok
	}) > 0
}

// correlate returns the rows of a to-many navigation from x as a filter on
// the navigation's source.
func correlate(nav *descriptor.Navigation, x expr.Expr) expr.Expr {
	t := expr.NewParam("t", nav.Target)
	inner, outer := nav.InnerParts(t), nav.OuterParts(x)
	terms := make([]expr.Expr, len(inner))
	for i := range inner {
		terms[i] = keyEquals(inner[i], outer[i])
	}
	return expr.CallOf(expr.MethodWhere, nav.Source, expr.NewLambda(expr.AndAll(terms...), t))
}

func (r *navRewriter) call(c *expr.Call) *frame {
	switch c.Method {
	case expr.MethodWhere:
		f := r.chain(c.Args[0])
		f, l := r.bind(f, c.Args[1].(*expr.Lambda), f.roots(), true)
		f.seq = expr.CallOf(c.Method, f.seq, l)
		return f

	case expr.MethodOrderBy, expr.MethodOrderByDescending,
		expr.MethodThenBy, expr.MethodThenByDescending:
		return r.ordering(c)

	case expr.MethodSkip, expr.MethodTake:
		f := r.chain(c.Args[0])
		f.seq = expr.CallOf(c.Method, f.seq, r.expr(c.Args[1]))
		return f

	case expr.MethodDistinct:
		return sourceFrame(expr.CallOf(c.Method, r.finalize(r.chain(c.Args[0]))))

	case expr.MethodDefaultIfEmpty:
		f := sourceFrame(expr.CallOf(c.Method, r.finalize(r.chain(c.Args[0]))))
		f.optional = append(f.optional, f.value)
		return f

	case expr.MethodSelect:
		f := r.chain(c.Args[0])
		f, l := r.bind(f, c.Args[1].(*expr.Lambda), f.roots(), true)
		return r.project(f, l)

	case expr.MethodSelectMany:
		return r.selectMany(c)
	case expr.MethodJoin:
		return r.join(c)
	case expr.MethodGroupJoin:
		return r.groupJoin(c)
	case expr.MethodGroupBy:
		return r.groupBy(c)
	case expr.MethodSkipWhile, expr.MethodTakeWhile:
		return r.positional(c)
	case expr.MethodZip:
		return r.zip(c)
	}

	args := make([]expr.Expr, len(c.Args))
	args[0] = r.finalize(r.chain(c.Args[0]))
	for i := 1; i < len(c.Args); i++ {
		args[i] = r.expr(c.Args[i])
	}
	return sourceFrame(rebuildCall(c, args...))
}

// ordering rewrites an OrderBy with its ThenBy tail. Joins for all keys are
// resolved before the first ordering so the tail stays adjacent.
func (r *navRewriter) ordering(c *expr.Call) *frame {
	var steps []*expr.Call
	var base expr.Expr = c
	for {
		oc, ok := base.(*expr.Call)
		if !ok || !oc.Method.IsOrdering() {
			break
		}
		steps = append(steps, oc)
		base = oc.Args[0]
		if oc.Method == expr.MethodOrderBy || oc.Method == expr.MethodOrderByDescending {
			break
		}
	}

	f := r.chain(base)
	for _, s := range steps {
		f, _ = r.bind(f, s.Args[1].(*expr.Lambda), f.roots(), false)
	}
	for i := len(steps) - 1; i >= 0; i-- {
		var l *expr.Lambda
		f, l = r.bind(f, steps[i].Args[1].(*expr.Lambda), f.roots(), true)
		f.seq = expr.CallOf(steps[i].Method, f.seq, l)
	}
	return f
}

// terminal rewrites a terminal call. A lambda argument is bound against the
// receiver's frame, so Any(o => o.Customer.City == x) joins like Where.
func (r *navRewriter) terminal(c *expr.Call) expr.Expr {
	if len(c.Args) == 2 {
		if l, ok := c.Args[1].(*expr.Lambda); ok && len(l.Params) == 1 {
			f := r.chain(c.Args[0])
			f, l = r.bind(f, l, f.roots(), true)
			return rebuildCall(c, f.seq, l)
		}
	}
	args := make([]expr.Expr, len(c.Args))
	args[0] = r.finalize(r.chain(c.Args[0]))
	for i := 1; i < len(c.Args); i++ {
		args[i] = r.expr(c.Args[i])
	}
	return rebuildCall(c, args...)
}

func rebuildCall(c *expr.Call, args ...expr.Expr) expr.Expr {
	if n, err := expr.NewCall(c.Method, args...); err == nil {
		return n
	}
	return &expr.Call{Method: c.Method, Args: args, T: c.T}
}

// selectMany flattens a collection. A to-many navigation from the row
// becomes a join; anything else stays a correlated SelectMany.
func (r *navRewriter) selectMany(c *expr.Call) *frame {
	f := r.chain(c.Args[0])
	f, coll := r.bind(f, c.Args[1].(*expr.Lambda), f.roots(), false)
	q, body := coll.Params[0], coll.Body

	guarded := false
	if dc, ok := body.(*expr.Call); ok && dc.Method == expr.MethodDefaultIfEmpty {
		guarded, body = true, dc.Args[0]
	}

	var (
		nf   *frame
		elem *expr.Lambda
	)
	if m, ok := body.(*expr.Member); ok {
		if nav, ok := r.set.Navigation(m.X.Type(), m.Name); ok && nav.Many && r.rowDerived(m.X, q) {
			nf, elem = r.collectionJoin(f, nav, expr.NewLambda(m.X, q), guarded)
		}
	}
	if nf == nil {
		inner := r.finalize(r.chain(body))
		if guarded {
			inner = expr.CallOf(expr.MethodDefaultIfEmpty, inner)
		}
		seq := expr.CallOf(expr.MethodSelectMany, f.seq, expr.NewLambda(inner, q),
			transparentPair(f.row, expr.Elem(inner)))
		nf = f.moved(seq, "Outer")
		elem = expr.Lambda1("x", nf.row, func(x *expr.Parameter) expr.Expr {
			return expr.MemberOf(x, "Inner")
		})
	}
	if guarded {
		nf.optional = append(nf.optional, elem)
	}

	if len(c.Args) == 2 {
		nf.value = elem
		return nf
	}
	nf, l := r.bind(nf, c.Args[2].(*expr.Lambda), []*expr.Lambda{nf.value, elem}, true)
	return r.project(nf, l)
}

// collectionJoin joins the rows of a to-many navigation. Guarded by
// DefaultIfEmpty it is a left join whose rows carry an $empty marker, and
// the element reads as null when the marker is set.
func (r *navRewriter) collectionJoin(f *frame, nav *descriptor.Navigation, from *expr.Lambda, guarded bool) (*frame, *expr.Lambda) {
	o := expr.NewParam("o", f.row)
	outerKey := expr.NewLambda(keyOf(nav.OuterParts(simplify(expr.Apply(from, o)))), o)
	i := expr.NewParam("i", nav.Target)
	innerKey := expr.NewLambda(keyOf(nav.InnerParts(i)), i)

	kind := expr.JoinInner
	res := transparentPair(f.row, nav.Target)
	if guarded {
		kind = expr.JoinLeft
		ro, ri := expr.NewParam("o", f.row), expr.NewParam("i", nav.Target)
		rec := expr.NewRecord(
			[]string{"Outer", "Inner", "$empty"},
			[]expr.Expr{ro, ri, &expr.EmptyMarker{X: ri}},
			false,
		)
		res = expr.NewLambda(rec, ro, ri)
	}

	nf := f.moved(expr.NewJoin(kind, f.seq, nav.Source, outerKey, innerKey, res, r.alias.Next()), "Outer")
	x := expr.NewParam("x", nf.row)
	var body expr.Expr = expr.MemberOf(x, "Inner")
	if guarded {
		body = expr.Cond(expr.MemberOf(x, "$empty"), expr.Null(nav.Target), body)
	}
	return nf, expr.NewLambda(body, x)
}

// join turns an explicit Join call into a Join node.
func (r *navRewriter) join(c *expr.Call) *frame {
	fo, fi := r.chain(c.Args[0]), r.chain(c.Args[1])
	fo, ok := r.bind(fo, c.Args[2].(*expr.Lambda), fo.roots(), true)
	fi, ik := r.bind(fi, c.Args[3].(*expr.Lambda), fi.roots(), true)

	j := expr.NewJoin(expr.JoinInner, fo.seq, fi.seq, ok, ik, transparentPair(fo.row, fi.row), r.alias.Next())
	nf := pair(j, fo, fi)
	nf, l := r.bind(nf, c.Args[4].(*expr.Lambda), []*expr.Lambda{
		relocate(fo.value, nf.row, "Outer"),
		relocate(fi.value, nf.row, "Inner"),
	}, true)
	return r.project(nf, l)
}

// groupJoin hands the result selector each outer element together with a
// correlated query for its matching inner elements.
func (r *navRewriter) groupJoin(c *expr.Call) *frame {
	fo, fi := r.chain(c.Args[0]), r.chain(c.Args[1])
	fo, ok := r.bind(fo, c.Args[2].(*expr.Lambda), fo.roots(), true)
	fi, ik := r.bind(fi, c.Args[3].(*expr.Lambda), fi.roots(), true)

	x := expr.NewParam("x", fo.row)
	t := expr.NewParam("t", fi.row)
	var group expr.Expr = expr.CallOf(expr.MethodWhere, fi.seq,
		expr.NewLambda(keyEquals(expr.Apply(ik, t), expr.Apply(ok, x)), t))
	if !isIdentity(fi.value) {
		group = expr.CallOf(expr.MethodSelect, group, fi.value)
	}

	fo, l := r.bind(fo, c.Args[4].(*expr.Lambda), []*expr.Lambda{fo.value, expr.NewLambda(group, x)}, true)
	return r.project(fo, l)
}
