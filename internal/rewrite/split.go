package rewrite

import "github.com/roach88/navsql/internal/expr"

// SplitOperators rewrites terminal overloads that take a selector or a
// predicate into a Select or Where followed by the zero-argument overload:
//
//	Sum(x => x.Freight)   -> Select(x => x.Freight).Sum()
//	First(x => x.Paid)    -> Where(x => x.Paid).First()
//
// The terminal is re-typed from the projected sequence, so the selector's
// static type drives the result exactly as the one-call form did.
func SplitOperators(e expr.Expr) expr.Expr {
	return expr.Transform(e, func(n expr.Expr) expr.Expr {
		c, ok := n.(*expr.Call)
		if !ok || len(c.Args) != 2 {
			return n
		}
		l, ok := c.Args[1].(*expr.Lambda)
		if !ok || len(l.Params) != 1 {
			return n
		}
		switch c.Method {
		case expr.MethodAverage, expr.MethodMax, expr.MethodMin, expr.MethodSum:
			return expr.CallOf(c.Method, expr.CallOf(expr.MethodSelect, c.Args[0], l))
		case expr.MethodCount, expr.MethodLongCount,
			expr.MethodFirst, expr.MethodFirstOrDefault,
			expr.MethodLast, expr.MethodLastOrDefault,
			expr.MethodSingle, expr.MethodSingleOrDefault:
			return expr.CallOf(c.Method, expr.CallOf(expr.MethodWhere, c.Args[0], l))
		}
		return n
	})
}
