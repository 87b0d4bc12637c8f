package expr

import "fmt"

// Children returns the direct sub-expressions of e in a fixed order.
// Lambda parameters are not children.
func Children(e Expr) []Expr {
	switch n := e.(type) {
	case *Constant, *Parameter, *Source:
		return nil
	case *Member:
		return []Expr{n.X}
	case *Unary:
		return []Expr{n.X}
	case *Binary:
		return []Expr{n.L, n.R}
	case *Conditional:
		return []Expr{n.Test, n.Then, n.Else}
	case *Lambda:
		return []Expr{n.Body}
	case *New:
		return n.Args
	case *Call:
		return n.Args
	case *Join:
		return []Expr{n.Outer, n.Inner, n.OuterKey, n.InnerKey, n.Result}
	case *NestedResult:
		return []Expr{n.Query}
	case *GroupAggregate:
		return []Expr{n.Source, n.Key, n.Result}
	case *RowNumber:
		out := make([]Expr, len(n.Order))
		for i, k := range n.Order {
			out[i] = k.X
		}
		return out
	case *EmptyMarker:
		return []Expr{n.X}
	}
	panic(fmt.Sprintf("expr: unhandled node %T", e))
}

// WithChildren returns e rebuilt over kids, recomputing derived types. It
// returns e itself when every child is pointer-identical.
func WithChildren(e Expr, kids []Expr) Expr {
	old := Children(e)
	if len(old) != len(kids) {
		panic(fmt.Sprintf("expr: %T expects %d children, got %d", e, len(old), len(kids)))
	}
	same := true
	for i := range old {
		if old[i] != kids[i] {
			same = false
			break
		}
	}
	if same {
		return e
	}

	switch n := e.(type) {
	case *Member:
		m := &Member{X: kids[0], Name: n.Name, T: n.T}
		if t, ok := kids[0].Type().Member(n.Name); ok {
			m.T = t
		}
		return m
	case *Unary:
		t := n.T
		if n.Op != OpConvert {
			t = kids[0].Type()
		}
		return &Unary{Op: n.Op, X: kids[0], T: t}
	case *Binary:
		if b, err := NewBinary(n.Op, kids[0], kids[1]); err == nil {
			return b
		}
		return &Binary{Op: n.Op, L: kids[0], R: kids[1], T: n.T}
	case *Conditional:
		c := Cond(kids[0], kids[1], kids[2])
		if IsNull(kids[1]) && IsNull(kids[2]) {
			c.T = n.T
		}
		return c
	case *Lambda:
		return &Lambda{Params: n.Params, Body: kids[0]}
	case *New:
		t := n.T
		if t.Kind == KindRecord {
			fields := make([]Field, len(t.Fields))
			for i, f := range t.Fields {
				fields[i] = Field{Name: f.Name, Type: kids[i].Type()}
			}
			t = &Type{Kind: KindRecord, Fields: fields, Transparent: n.T.Transparent, Name: n.T.Name}
		}
		return &New{T: t, Args: kids}
	case *Call:
		if c, err := NewCall(n.Method, kids...); err == nil {
			return c
		}
		return &Call{Method: n.Method, Args: kids, T: n.T}
	case *Join:
		return NewJoin(n.Kind, kids[0], kids[1], kids[2].(*Lambda), kids[3].(*Lambda), kids[4].(*Lambda), n.Alias)
	case *NestedResult:
		return &NestedResult{Query: kids[0]}
	case *GroupAggregate:
		return NewGroupAggregate(kids[0], kids[1].(*Lambda), kids[2].(*Lambda), n.Intact)
	case *RowNumber:
		order := make([]OrderKey, len(n.Order))
		for i, k := range n.Order {
			order[i] = OrderKey{X: kids[i], Desc: k.Desc}
		}
		return &RowNumber{Order: order}
	case *EmptyMarker:
		return &EmptyMarker{X: kids[0]}
	}
	panic(fmt.Sprintf("expr: unhandled node %T", e))
}

// Transform rewrites e bottom-up: children first, then f on the rebuilt
// node. Unchanged subtrees keep their identity.
func Transform(e Expr, f func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	kids := Children(e)
	if len(kids) > 0 {
		next := make([]Expr, len(kids))
		for i, k := range kids {
			next[i] = Transform(k, f)
		}
		e = WithChildren(e, next)
	}
	return f(e)
}

// Walk visits e in pre-order. Returning false from f skips the children of
// the current node.
func Walk(e Expr, f func(Expr) bool) {
	if e == nil || !f(e) {
		return
	}
	for _, k := range Children(e) {
		Walk(k, f)
	}
}

// Substitute replaces every occurrence of the mapped parameters.
func Substitute(e Expr, m map[*Parameter]Expr) Expr {
	if len(m) == 0 {
		return e
	}
	return Transform(e, func(n Expr) Expr {
		if p, ok := n.(*Parameter); ok {
			if r, ok := m[p]; ok {
				return r
			}
		}
		return n
	})
}

// Apply substitutes args for the parameters of l and returns the body.
func Apply(l *Lambda, args ...Expr) Expr {
	m := make(map[*Parameter]Expr, len(l.Params))
	for i, p := range l.Params {
		m[p] = args[i]
	}
	return Substitute(l.Body, m)
}

// References reports whether p occurs in e.
func References(e Expr, p *Parameter) bool {
	found := false
	Walk(e, func(n Expr) bool {
		if found {
			return false
		}
		if n == p {
			found = true
		}
		return true
	})
	return found
}

// FreeParams returns the parameters used in e that no lambda inside e binds,
// in first-occurrence order.
func FreeParams(e Expr) []*Parameter {
	bound := map[*Parameter]bool{}
	seen := map[*Parameter]bool{}
	var out []*Parameter
	var visit func(Expr)
	visit = func(n Expr) {
		switch x := n.(type) {
		case *Parameter:
			if !bound[x] && !seen[x] {
				seen[x] = true
				out = append(out, x)
			}
			return
		case *Lambda:
			for _, p := range x.Params {
				bound[p] = true
			}
		}
		for _, k := range Children(n) {
			visit(k)
		}
	}
	if e != nil {
		visit(e)
	}
	return out
}

// Count returns how many nodes in e satisfy pred.
func Count(e Expr, pred func(Expr) bool) int {
	n := 0
	Walk(e, func(x Expr) bool {
		if pred(x) {
			n++
		}
		return true
	})
	return n
}
