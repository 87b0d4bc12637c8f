package rewrite

import (
	"github.com/roach88/navsql/internal/descriptor"
	"github.com/roach88/navsql/internal/expr"
)

// RewriteKeyEquality replaces == and != between entities (and Equals calls
// on entities) with comparisons of their key members.
//
// A simple key compares one column. A composite key of k members becomes k
// comparisons joined with && for == and with || for !=. When an operand is
// a to-one navigation whose inner key is the target's primary key, the
// navigation's outer key is used instead, so d.Order.Customer compares
// d.Order.CustomerID and no Customer row is needed. A comparison with the
// null literal becomes a single comparison of the first key member, lifted
// to nullable, with null.
//
// Operands without a primary key descriptor are left alone. The output
// compares scalars only, so the pass is idempotent.
func RewriteKeyEquality(e expr.Expr, set *descriptor.Set) expr.Expr {
	return expr.Transform(e, func(n expr.Expr) expr.Expr {
		switch x := n.(type) {
		case *expr.Binary:
			if x.Op != expr.OpEq && x.Op != expr.OpNe {
				return n
			}
			if out := keyCompare(set, x.Op, x.L, x.R); out != nil {
				return out
			}
		case *expr.Call:
			if x.Method != expr.MethodEquals || len(x.Args) != 2 {
				return n
			}
			if out := keyCompare(set, expr.OpEq, x.Args[0], x.Args[1]); out != nil {
				return out
			}
		}
		return n
	})
}

func keyCompare(set *descriptor.Set, op expr.BinaryOp, l, r expr.Expr) expr.Expr {
	lt, rt := l.Type(), r.Type()
	if !lt.IsEntity() || !rt.IsEntity() || lt.Name != rt.Name {
		return nil
	}

	switch {
	case expr.IsNull(l) && expr.IsNull(r):
		return nil
	case expr.IsNull(r):
		return nullCompare(set, op, l)
	case expr.IsNull(l):
		return nullCompare(set, op, r)
	}

	lp, ok := keyOperand(set, l)
	if !ok {
		return nil
	}
	rp, ok := keyOperand(set, r)
	if !ok || len(lp) != len(rp) {
		return nil
	}

	terms := make([]expr.Expr, len(lp))
	for i := range lp {
		b, err := expr.NewBinary(op, lp[i], rp[i])
		if err != nil {
			return nil
		}
		terms[i] = b
	}
	if op == expr.OpNe {
		return expr.OrAll(terms...)
	}
	return expr.AndAll(terms...)
}

func nullCompare(set *descriptor.Set, op expr.BinaryOp, x expr.Expr) expr.Expr {
	parts, ok := keyOperand(set, x)
	if !ok {
		return nil
	}
	first := parts[0]
	t := expr.NullableOf(first.Type())
	return expr.BinaryOf(op, expr.Convert(first, t), expr.Null(t))
}

// keyOperand returns the key members that identify the entity x.
func keyOperand(set *descriptor.Set, x expr.Expr) ([]expr.Expr, bool) {
	if m, ok := x.(*expr.Member); ok {
		if nav, ok := set.Navigation(m.X.Type(), m.Name); ok && !nav.Many && innerIsPrimaryKey(set, nav) {
			return nav.OuterParts(m.X), true
		}
	}
	pk, ok := set.PrimaryKey(x.Type())
	if !ok {
		return nil, false
	}
	return pk.Parts(x), true
}

// innerIsPrimaryKey reports whether the navigation matches on the target's
// primary key, which makes the outer key an exact stand-in for the target.
func innerIsPrimaryKey(set *descriptor.Set, nav *descriptor.Navigation) bool {
	pk, ok := set.PrimaryKey(nav.Target)
	if !ok {
		return false
	}
	t := expr.NewParam("t", nav.Target)
	inner, key := nav.InnerParts(t), pk.Parts(t)
	if len(inner) != len(key) {
		return false
	}
	for i := range inner {
		if !expr.Equal(inner[i], key[i]) {
			return false
		}
	}
	return true
}
