package rewrite

import "github.com/roach88/navsql/internal/expr"

// Shape is the output shape chosen for a GroupBy.
type Shape uint8

const (
	// ShapeAggregate compiles to a grouping clause with aggregate
	// projections. No group is ever materialized.
	ShapeAggregate Shape = iota + 1

	// ShapeIntact materializes each group's elements as a correlated
	// nested result keyed by the group key.
	ShapeIntact
)

func (s Shape) String() string {
	switch s {
	case ShapeAggregate:
		return "aggregate"
	case ShapeIntact:
		return "intact"
	}
	return "unknown"
}

// Groupings maps each GroupBy call of a tree to its shape.
type Groupings map[*expr.Call]Shape

// AnalyzeGroupings classifies every GroupBy in e by looking at how its
// groups are used downstream. A GroupBy with a (key, rows) result selector
// whose every use of rows feeds an aggregate (rows.Sum(), rows.Where(p).Count(),
// rows.Select(s).Max()) is aggregate. Everything else, including a GroupBy
// whose groupings flow on as values, is intact.
//
// Run MergeSelectors first: it folds GroupBy(k).Select(g => ...) into the
// result selector form this analysis inspects.
func AnalyzeGroupings(e expr.Expr) Groupings {
	out := Groupings{}
	expr.Walk(e, func(n expr.Expr) bool {
		if c, ok := n.(*expr.Call); ok && c.Method == expr.MethodGroupBy {
			out[c] = classify(c)
		}
		return true
	})
	return out
}

// Shape returns the recorded shape of c, classifying it when absent.
func (g Groupings) Shape(c *expr.Call) Shape {
	if s, ok := g[c]; ok {
		return s
	}
	return classify(c)
}

func classify(c *expr.Call) Shape {
	_, _, result := groupParts(c)
	if result != nil && aggregateOnly(result.Body, result.Params[1], false) {
		return ShapeAggregate
	}
	return ShapeIntact
}

// groupParts splits a GroupBy call into its key, element and result
// selectors. The last two may be nil.
func groupParts(c *expr.Call) (key, elem, result *expr.Lambda) {
	key = c.Args[1].(*expr.Lambda)
	switch len(c.Args) {
	case 3:
		l := c.Args[2].(*expr.Lambda)
		if len(l.Params) == 2 {
			result = l
		} else {
			elem = l
		}
	case 4:
		elem = c.Args[2].(*expr.Lambda)
		result = c.Args[3].(*expr.Lambda)
	}
	return key, elem, result
}

// aggregateOnly reports whether every occurrence of g in e is the root of a
// chain ending in an aggregate, or g.Key when keyOK is set.
func aggregateOnly(e expr.Expr, g *expr.Parameter, keyOK bool) bool {
	switch n := e.(type) {
	case *expr.Parameter:
		return n != g
	case *expr.Member:
		if n.X == expr.Expr(g) {
			return keyOK && n.Name == "Key"
		}
	case *expr.Call:
		if n.Method.IsAggregate() {
			if extra, ok := rowsChain(n.Args[0], g); ok {
				for _, x := range append(extra, n.Args[1:]...) {
					if !aggregateOnly(x, g, keyOK) {
						return false
					}
				}
				return true
			}
		}
	}
	for _, k := range expr.Children(e) {
		if !aggregateOnly(k, g, keyOK) {
			return false
		}
	}
	return true
}

// rowsChain reports whether e is g followed by element-wise operators only,
// and returns their non-receiver arguments.
func rowsChain(e expr.Expr, g *expr.Parameter) ([]expr.Expr, bool) {
	var extra []expr.Expr
	for {
		if e == expr.Expr(g) {
			return extra, true
		}
		c, ok := e.(*expr.Call)
		if !ok {
			return nil, false
		}
		switch {
		case c.Method == expr.MethodSelect, c.Method == expr.MethodWhere,
			c.Method == expr.MethodDistinct, c.Method.IsOrdering():
		default:
			return nil, false
		}
		extra = append(extra, c.Args[1:]...)
		e = c.Args[0]
	}
}

// rowsChains returns the receivers of aggregates rooted at g in e.
func rowsChains(e expr.Expr, g *expr.Parameter) []expr.Expr {
	var out []expr.Expr
	expr.Walk(e, func(n expr.Expr) bool {
		if c, ok := n.(*expr.Call); ok && c.Method.IsAggregate() {
			if _, ok := rowsChain(c.Args[0], g); ok {
				out = append(out, c.Args[0])
			}
		}
		return true
	})
	return out
}
