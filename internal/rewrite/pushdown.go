package rewrite

import "github.com/roach88/navsql/internal/expr"

// PushDownSelectors moves member accesses on the result of a single-result
// terminal into a Select in front of the terminal:
//
//	Orders.First(o => o.Paid).Customer.City
//	-> Orders.Where(o => o.Paid).Select(x => x.Customer.City).First()
//
// Chains are folded one member at a time into the same Select. A predicate
// on the terminal is moved into a Where so it still sees the original
// element.
func PushDownSelectors(e expr.Expr) expr.Expr {
	return expr.Transform(e, func(n expr.Expr) expr.Expr {
		m, ok := n.(*expr.Member)
		if !ok {
			return n
		}
		c, ok := m.X.(*expr.Call)
		if !ok || !c.Method.IsSingleResult() {
			return n
		}
		if out := pushMember(c, m.Name); out != nil {
			return out
		}
		return n
	})
}

func pushMember(c *expr.Call, name string) expr.Expr {
	recv := c.Args[0]
	if len(c.Args) == 2 {
		pred, ok := c.Args[1].(*expr.Lambda)
		if !ok {
			return nil
		}
		recv = expr.CallOf(expr.MethodWhere, recv, pred)
	}

	var sel *expr.Lambda
	if s, ok := recv.(*expr.Call); ok && s.Method == expr.MethodSelect {
		prev := s.Args[1].(*expr.Lambda)
		body, err := expr.NewMember(prev.Body, name)
		if err != nil {
			return nil
		}
		recv = s.Args[0]
		sel = expr.NewLambda(body, prev.Params...)
	} else {
		x := expr.NewParam("x", expr.Elem(recv))
		body, err := expr.NewMember(x, name)
		if err != nil {
			return nil
		}
		sel = expr.NewLambda(body, x)
	}
	return expr.CallOf(c.Method, expr.CallOf(expr.MethodSelect, recv, sel))
}
