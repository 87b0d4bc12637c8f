package rewrite

import (
	"strconv"

	"github.com/roach88/navsql/internal/descriptor"
	"github.com/roach88/navsql/internal/expr"
)

// frame is the rewriting scope of one query source.
//
// seq is the rewritten sequence and row its element type. value recovers
// the element the original query saw from a row; it starts as the identity
// and grows as joins wrap the row in {Outer, Inner} identifiers or as a
// Select is folded in. joins records every navigation already resolved
// against this source so repeated accesses reuse one binding.
type frame struct {
	seq   expr.Expr
	row   *expr.Type
	value *expr.Lambda
	joins []*joinEntry

	// optional lists accessors whose value may be a missing row, so a
	// navigation starting there needs a left join.
	optional []*expr.Lambda

	// group is set when the elements are groupings: Key and the group's
	// elements are rebuilt from the row.
	group *groupView

	// log lists the joins added since the frame was created, in order.
	log []joinStep
}

// joinEntry is one resolved to-one navigation: from.member is reached as to.
type joinEntry struct {
	from   *expr.Lambda
	member string
	to     *expr.Lambda
	left   bool
}

type joinStep struct {
	from   *expr.Lambda
	member string
}

type groupView struct {
	key   *expr.Lambda
	elems *expr.Lambda
}

func identityOf(t *expr.Type) *expr.Lambda {
	return expr.Lambda1("x", t, func(p *expr.Parameter) expr.Expr { return p })
}

func isIdentity(l *expr.Lambda) bool {
	return len(l.Params) == 1 && l.Body == expr.Expr(l.Params[0])
}

func sourceFrame(seq expr.Expr) *frame {
	row := expr.Elem(seq)
	return &frame{seq: seq, row: row, value: identityOf(row)}
}

func (f *frame) clone() *frame {
	cp := *f
	cp.joins = append([]*joinEntry(nil), f.joins...)
	cp.optional = append([]*expr.Lambda(nil), f.optional...)
	cp.log = append([]joinStep(nil), f.log...)
	return &cp
}

func (f *frame) roots() []*expr.Lambda {
	return []*expr.Lambda{f.value}
}

// relocate turns an accessor over an old row into one over row, where the
// old row sits at path.
func relocate(l *expr.Lambda, row *expr.Type, path ...string) *expr.Lambda {
	x := expr.NewParam("x", row)
	return expr.NewLambda(simplify(expr.Apply(l, expr.Path(x, path...))), x)
}

// moved returns f over seq, whose rows carry the old row at path. The join
// log is not carried over.
func (f *frame) moved(seq expr.Expr, path ...string) *frame {
	row := expr.Elem(seq)
	nf := &frame{seq: seq, row: row, value: relocate(f.value, row, path...)}
	for _, j := range f.joins {
		nf.joins = append(nf.joins, &joinEntry{
			from:   relocate(j.from, row, path...),
			member: j.member,
			to:     relocate(j.to, row, path...),
			left:   j.left,
		})
	}
	for _, o := range f.optional {
		nf.optional = append(nf.optional, relocate(o, row, path...))
	}
	if f.group != nil {
		nf.group = &groupView{
			key:   relocate(f.group.key, row, path...),
			elems: relocate(f.group.elems, row, path...),
		}
	}
	return nf
}

// pair combines the scopes of two joined frames over seq, whose rows are
// {Outer, Inner} identifiers.
func pair(seq expr.Expr, outer, inner *frame) *frame {
	nf := outer.moved(seq, "Outer")
	in := inner.moved(seq, "Inner")
	nf.joins = append(nf.joins, in.joins...)
	nf.optional = append(nf.optional, in.optional...)
	return nf
}

// lookup finds the join for x.member, where x is an expression over q.
func (f *frame) lookup(x expr.Expr, member string, q *expr.Parameter) *joinEntry {
	for _, j := range f.joins {
		if j.member == member && expr.Equal(expr.Apply(j.from, q), x) {
			return j
		}
	}
	return nil
}

// isOptional reports whether x, an expression over q, may be a missing row.
func (f *frame) isOptional(x expr.Expr, q *expr.Parameter) bool {
	for _, o := range f.optional {
		if expr.Equal(expr.Apply(o, q), x) {
			return true
		}
	}
	for _, j := range f.joins {
		if j.left && expr.Equal(expr.Apply(j.to, q), x) {
			return true
		}
	}
	return false
}

// keyOf packs key parts into one join key. Composite keys become records
// with positional field names so both sides build the same shape.
func keyOf(parts []expr.Expr) expr.Expr {
	if len(parts) == 1 {
		return parts[0]
	}
	names := make([]string, len(parts))
	for i := range parts {
		names[i] = "K" + strconv.Itoa(i)
	}
	return expr.NewRecord(names, parts, false)
}

// keyEquals compares two join keys, field by field for composite keys.
// Nullability may differ between the sides, so the node is built directly.
func keyEquals(a, b expr.Expr) expr.Expr {
	na, okA := a.(*expr.New)
	nb, okB := b.(*expr.New)
	if okA && okB && len(na.Args) == len(nb.Args) {
		terms := make([]expr.Expr, len(na.Args))
		for i := range na.Args {
			terms[i] = keyEquals(na.Args[i], nb.Args[i])
		}
		return expr.AndAll(terms...)
	}
	return &expr.Binary{Op: expr.OpEq, L: a, R: b, T: expr.ScalarOf(expr.Bool)}
}

func transparentPair(outer, inner *expr.Type) *expr.Lambda {
	o, i := expr.NewParam("o", outer), expr.NewParam("i", inner)
	rec := expr.NewRecord([]string{"Outer", "Inner"}, []expr.Expr{o, i}, true)
	return expr.NewLambda(rec, o, i)
}

// addJoin resolves from.member (a to-one navigation) with a new join on
// top of f.seq and returns the extended frame. The new entry is last in
// joins.
func (r *navRewriter) addJoin(f *frame, from *expr.Lambda, nav *descriptor.Navigation) *frame {
	kind := expr.JoinInner
	if nav.Optional() || f.isOptional(from.Body, from.Params[0]) {
		kind = expr.JoinLeft
	}

	o := expr.NewParam("o", f.row)
	outerKey := expr.NewLambda(keyOf(nav.OuterParts(simplify(expr.Apply(from, o)))), o)
	i := expr.NewParam("i", nav.Target)
	innerKey := expr.NewLambda(keyOf(nav.InnerParts(i)), i)
	j := expr.NewJoin(kind, f.seq, nav.Source, outerKey, innerKey,
		transparentPair(f.row, nav.Target), r.alias.Next())

	nf := f.moved(j, "Outer")
	nf.log = append(append([]joinStep(nil), f.log...), joinStep{from: from, member: nav.Member})
	nf.joins = append(nf.joins, &joinEntry{
		from:   relocate(from, nf.row, "Outer"),
		member: nav.Member,
		to: expr.Lambda1("x", nf.row, func(x *expr.Parameter) expr.Expr {
			return expr.MemberOf(x, "Inner")
		}),
		left: kind == expr.JoinLeft,
	})
	return nf
}

// replay re-adds a join recorded on a copy of f.
func (r *navRewriter) replay(f *frame, s joinStep) *frame {
	p := s.from.Params[0]
	if !p.T.Equal(f.row) || f.lookup(s.from.Body, s.member, p) != nil {
		return f
	}
	nav, ok := r.set.Navigation(s.from.Body.Type(), s.member)
	if !ok {
		return f
	}
	return r.addJoin(f, s.from, nav)
}

// bind rewrites lambda l against f. Parameter i of l becomes roots[i]
// applied to the row; on a grouping frame the single parameter becomes
// the group's Key and elements instead. Every to-one navigation that starts
// from the row is resolved to a join, extending f as needed. With nested
// set, subqueries in the body are rewritten too.
func (r *navRewriter) bind(f *frame, l *expr.Lambda, roots []*expr.Lambda, nested bool) (*frame, *expr.Lambda) {
	q := expr.NewParam(l.Params[0].Name, f.row)
	body := l.Body
	m := make(map[*expr.Parameter]expr.Expr, len(l.Params))
	if f.group != nil && len(l.Params) == 1 {
		p := l.Params[0]
		key := expr.Apply(f.group.key, q)
		body = expr.Transform(body, func(n expr.Expr) expr.Expr {
			if mm, ok := n.(*expr.Member); ok && mm.X == expr.Expr(p) && mm.Name == "Key" {
				return key
			}
			return n
		})
		m[p] = expr.Apply(f.group.elems, q)
	} else {
		for i, p := range l.Params {
			m[p] = expr.Apply(roots[i], q)
		}
	}
	body = simplify(expr.Substitute(body, m))

	for {
		mem, nav := r.nextNavigation(body, q)
		if mem == nil {
			break
		}
		x := mem.X
		j := f.lookup(x, nav.Member, q)
		if j == nil {
			f = r.addJoin(f, expr.NewLambda(x, q), nav)
			q2 := expr.NewParam(q.Name, f.row)
			outer := map[*expr.Parameter]expr.Expr{q: expr.MemberOf(q2, "Outer")}
			body = expr.Substitute(body, outer)
			x = expr.Substitute(x, outer)
			q = q2
			j = f.joins[len(f.joins)-1]
		}
		body = simplify(replaceMember(body, x, nav.Member, expr.Apply(j.to, q)))
	}

	if nested {
		body = r.expr(body)
	}
	return f, expr.NewLambda(body, q)
}

// nextNavigation finds a to-one navigation access whose receiver is built
// from q alone and is itself free of navigations.
func (r *navRewriter) nextNavigation(body expr.Expr, q *expr.Parameter) (*expr.Member, *descriptor.Navigation) {
	var (
		found *expr.Member
		nav   *descriptor.Navigation
	)
	expr.Walk(body, func(n expr.Expr) bool {
		if found != nil {
			return false
		}
		m, ok := n.(*expr.Member)
		if !ok {
			return true
		}
		if d, ok := r.set.Navigation(m.X.Type(), m.Name); ok && !d.Many && r.rowDerived(m.X, q) {
			found, nav = m, d
			return false
		}
		return true
	})
	return found, nav
}

// rowDerived reports whether x reads only q through non-navigation members.
func (r *navRewriter) rowDerived(x expr.Expr, q *expr.Parameter) bool {
	ok := true
	expr.Walk(x, func(n expr.Expr) bool {
		if !ok {
			return false
		}
		switch m := n.(type) {
		case *expr.Parameter:
			ok = m == q
		case *expr.Member:
			ok = !r.set.IsNavigation(m.X, m.Name)
		case *expr.Conditional, *expr.Constant, *expr.EmptyMarker:
		default:
			ok = false
		}
		return ok
	})
	return ok
}

func replaceMember(e, x expr.Expr, name string, to expr.Expr) expr.Expr {
	return expr.Transform(e, func(n expr.Expr) expr.Expr {
		if m, ok := n.(*expr.Member); ok && m.Name == name && expr.Equal(m.X, x) {
			return to
		}
		return n
	})
}

// finalize returns the rewritten sequence with elements of the original
// element type, projecting away join-only operands.
func (r *navRewriter) finalize(f *frame) expr.Expr {
	if g := f.group; g != nil {
		x := expr.NewParam("x", f.row)
		rec := expr.NewRecord([]string{"Key", "Elements"}, []expr.Expr{
			expr.Apply(g.key, x),
			&expr.NestedResult{Query: expr.Apply(g.elems, x)},
		}, false)
		return expr.CallOf(expr.MethodSelect, f.seq, expr.NewLambda(rec, x))
	}
	if isIdentity(f.value) {
		return f.seq
	}
	return expr.CallOf(expr.MethodSelect, f.seq, f.value)
}

// project folds a Select into f when its body is a plain reshaping of the
// row, and materializes it otherwise.
func (r *navRewriter) project(f *frame, l *expr.Lambda) *frame {
	if deferrable(l.Body) {
		f.value = l
		f.group = nil
		return f
	}
	return sourceFrame(expr.CallOf(expr.MethodSelect, f.seq, l))
}

func deferrable(body expr.Expr) bool {
	return expr.Count(body, func(n expr.Expr) bool {
		switch n.(type) {
		case *expr.Call, *expr.NestedResult, *expr.RowNumber, *expr.GroupAggregate,
			*expr.Join, *expr.Source, *expr.Lambda:
			return true
		}
		return false
	}) == 0
}
