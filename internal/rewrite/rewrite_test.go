package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navsql/internal/expr"
	"github.com/roach88/navsql/internal/querytext"
	"github.com/roach88/navsql/internal/schema"
	"github.com/roach88/navsql/internal/testutil"
)

func parse(t *testing.T, m *schema.Model, src string) expr.Expr {
	t.Helper()
	e, err := querytext.Parse(src, m)
	require.NoError(t, err, "parse %s", src)
	return e
}

// distinct counts the distinct nodes of e matching pred. Rewritten trees
// share subtrees, so a shared join is counted once.
func distinct(e expr.Expr, pred func(expr.Expr) bool) int {
	seen := make(map[expr.Expr]bool)
	expr.Walk(e, func(n expr.Expr) bool {
		if pred(n) {
			seen[n] = true
		}
		return true
	})
	return len(seen)
}

// joinsTo counts Join nodes whose inner side is the root of entity.
func joinsTo(e expr.Expr, entity string) int {
	return distinct(e, func(n expr.Expr) bool {
		j, ok := n.(*expr.Join)
		if !ok {
			return false
		}
		s, ok := j.Inner.(*expr.Source)
		return ok && s.Entity.Name == entity
	})
}

func leftJoins(e expr.Expr) int {
	return distinct(e, func(n expr.Expr) bool {
		j, ok := n.(*expr.Join)
		return ok && j.Kind == expr.JoinLeft
	})
}

func countKind[T expr.Expr](e expr.Expr) int {
	return distinct(e, func(n expr.Expr) bool {
		_, ok := n.(T)
		return ok
	})
}

func countCalls(e expr.Expr, m expr.Method) int {
	return distinct(e, func(n expr.Expr) bool {
		c, ok := n.(*expr.Call)
		return ok && c.Method == m
	})
}

// navigationsLeft counts described navigation accesses still in e.
func navigationsLeft(t *testing.T, m *schema.Model, e expr.Expr) int {
	t.Helper()
	return expr.Count(e, func(n expr.Expr) bool {
		mem, ok := n.(*expr.Member)
		return ok && m.Descriptors.IsNavigation(mem.X, mem.Name)
	})
}

func TestScenarioFilterOnNavigation(t *testing.T) {
	m := testutil.Northwind(t)
	e := parse(t, m, `Orders.Where(o => o.Customer.City == "Berlin")`)

	out := Rewrite(e, m.Descriptors)

	sel, ok := out.(*expr.Call)
	require.True(t, ok)
	assert.Equal(t, expr.MethodSelect, sel.Method, "projection drops the joined customer")
	where, ok := sel.Args[0].(*expr.Call)
	require.True(t, ok)
	assert.Equal(t, expr.MethodWhere, where.Method)
	j, ok := where.Args[0].(*expr.Join)
	require.True(t, ok)
	assert.Equal(t, expr.JoinInner, j.Kind)

	assert.Equal(t, 1, joinsTo(out, "Customer"))
	assert.Zero(t, navigationsLeft(t, m, out))
	assert.True(t, out.Type().Equal(e.Type()))
}

func TestScenarioSkipWhile(t *testing.T) {
	m := testutil.Northwind(t)
	e := parse(t, m, `Orders.SkipWhile(o => o.Customer.City != "Berlin")`)

	out := Rewrite(e, m.Descriptors)

	assert.Zero(t, countCalls(out, expr.MethodSkipWhile))
	assert.Equal(t, 1, countKind[*expr.RowNumber](out))
	assert.Equal(t, 1, countCalls(out, expr.MethodMin))
	assert.Equal(t, 1, joinsTo(out, "Customer"))

	// rownumber >= (min ?? 0)
	var threshold *expr.Binary
	expr.Walk(out, func(n expr.Expr) bool {
		if b, ok := n.(*expr.Binary); ok && b.Op == expr.OpGe {
			threshold = b
		}
		return true
	})
	require.NotNil(t, threshold)
	co, ok := threshold.R.(*expr.Binary)
	require.True(t, ok)
	assert.Equal(t, expr.OpCoalesce, co.Op)
	zero, ok := co.R.(*expr.Constant)
	require.True(t, ok)
	assert.Equal(t, int64(0), zero.Value)
	assert.True(t, out.Type().Equal(e.Type()))
}

func TestScenarioSharedGroupingJoins(t *testing.T) {
	m := testutil.Northwind(t)
	e := parse(t, m, `OrderDetails.GroupBy(d => d.Order.Customer.City).Select(g => new { City = g.Key, Max = g.Max(d => d.Order.OrderDate) })`)

	out := Rewrite(e, m.Descriptors)

	assert.Equal(t, 1, joinsTo(out, "Order"), "key and aggregate share the order join")
	assert.Equal(t, 1, joinsTo(out, "Customer"))
	assert.Zero(t, countKind[*expr.NestedResult](out))
	require.Equal(t, 1, countKind[*expr.GroupAggregate](out))
	expr.Walk(out, func(n expr.Expr) bool {
		if ga, ok := n.(*expr.GroupAggregate); ok {
			assert.False(t, ga.Intact)
		}
		return true
	})
	assert.Zero(t, navigationsLeft(t, m, out))
}

func TestScenarioNavigationEquality(t *testing.T) {
	m := testutil.Northwind(t)
	e := parse(t, m, `OrderDetails.SelectMany(d => OrderDetails, (d, d2) => new <> { d, d2 }).Where(x => x.d.Order.Customer == x.d2.Order.Customer)`)

	keyed := RewriteKeyEquality(e, m.Descriptors)
	assert.Contains(t, expr.Format(keyed), "(x.d.Order.CustomerID == x.d2.Order.CustomerID)")

	out := Rewrite(e, m.Descriptors)
	assert.Zero(t, joinsTo(out, "Customer"), "no customer row is needed")
	assert.Equal(t, 2, joinsTo(out, "Order"), "one order join per side")
	assert.Zero(t, navigationsLeft(t, m, out))
}

func TestRewriteIdempotent(t *testing.T) {
	m := testutil.Northwind(t)
	queries := []string{
		`Orders.Where(o => o.Customer.City == "Berlin")`,
		`Orders.SkipWhile(o => o.Customer.City != "Berlin")`,
		`OrderDetails.GroupBy(d => d.Order.Customer.City).Select(g => new { City = g.Key, Max = g.Max(d => d.Order.OrderDate) })`,
		`Customers.Where(c => c.Orders.Count() > 1)`,
		`Customers.Select(c => new { c.CustomerID, Orders = c.Orders })`,
		`Orders.Select(o => o.Employee.Region.RegionDescription)`,
		`Orders.OrderBy(o => o.Customer.City).ThenBy(o => o.OrderID).Take(2)`,
		`OrderDetails.GroupBy(d => d.OrderID).Select(g => new { g.Key, Items = g })`,
	}
	for _, src := range queries {
		t.Run(src, func(t *testing.T) {
			once := Rewrite(parse(t, m, src), m.Descriptors)
			twice := Rewrite(once, m.Descriptors)
			assert.True(t, expr.Equal(once, twice), "first:  %s\nsecond: %s", expr.Format(once), expr.Format(twice))
		})
	}
}

func TestRewriteDeduplicatesJoins(t *testing.T) {
	m := testutil.Northwind(t)

	tests := []struct {
		name   string
		src    string
		entity string
	}{
		{
			name:   "filter and projection",
			src:    `Orders.Where(o => o.Customer.City == "Berlin" && o.Customer.Country == "Germany").Select(o => o.Customer.CompanyName)`,
			entity: "Customer",
		},
		{
			name:   "ordering keys",
			src:    `Orders.OrderBy(o => o.Customer.City).ThenBy(o => o.Customer.CompanyName)`,
			entity: "Customer",
		},
		{
			name:   "chained navigation",
			src:    `OrderDetails.Where(d => d.Order.Customer.City == "Berlin").Select(d => new { d.Order.OrderDate, d.Order.Customer.CompanyName })`,
			entity: "Order",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Rewrite(parse(t, m, tt.src), m.Descriptors)
			assert.Equal(t, 1, joinsTo(out, tt.entity), expr.Format(out))
		})
	}
}

func TestRewriteOptionalNavigationsUseLeftJoins(t *testing.T) {
	m := testutil.Northwind(t)

	// EmployeeID is nullable, and a join reached through a left join is
	// left as well.
	out := Rewrite(parse(t, m, `Orders.Select(o => o.Employee.Region.RegionDescription)`), m.Descriptors)
	assert.Equal(t, 2, leftJoins(out))

	out = Rewrite(parse(t, m, `Orders.Select(o => o.Customer.CompanyName)`), m.Descriptors)
	assert.Zero(t, leftJoins(out))
}

func TestRewriteCollections(t *testing.T) {
	m := testutil.Northwind(t)

	t.Run("terminal stays a scalar subquery", func(t *testing.T) {
		out := Rewrite(parse(t, m, `Customers.Where(c => c.Orders.Count() > 1)`), m.Descriptors)
		assert.Zero(t, countKind[*expr.NestedResult](out))
		assert.Equal(t, 2, countCalls(out, expr.MethodWhere), "outer filter and correlation")
		assert.Zero(t, navigationsLeft(t, m, out))
	})

	t.Run("value position becomes a nested result", func(t *testing.T) {
		out := Rewrite(parse(t, m, `Customers.Select(c => new { c.CustomerID, Orders = c.Orders })`), m.Descriptors)
		assert.Equal(t, 1, countKind[*expr.NestedResult](out))
		assert.Zero(t, navigationsLeft(t, m, out))
	})

	t.Run("select many becomes a join", func(t *testing.T) {
		out := Rewrite(parse(t, m, `Customers.SelectMany(c => c.Orders, (c, o) => new { c.CompanyName, o.OrderID })`), m.Descriptors)
		assert.Equal(t, 1, joinsTo(out, "Order"))
		assert.Zero(t, countCalls(out, expr.MethodSelectMany))
	})

	t.Run("guarded select many is a left join with a marker", func(t *testing.T) {
		out := Rewrite(parse(t, m, `Customers.SelectMany(c => c.Orders.DefaultIfEmpty(), (c, o) => new { c.CustomerID, o.OrderID })`), m.Descriptors)
		require.Equal(t, 1, joinsTo(out, "Order"))
		assert.Equal(t, 1, leftJoins(out))
		assert.Equal(t, 1, countKind[*expr.EmptyMarker](out))
		assert.Zero(t, countCalls(out, expr.MethodDefaultIfEmpty))
	})
}

func TestRewriteGroupingShapes(t *testing.T) {
	m := testutil.Northwind(t)

	t.Run("aggregate only", func(t *testing.T) {
		out := Rewrite(parse(t, m, `OrderDetails.GroupBy(d => d.OrderID, (k, rows) => new { k, Total = rows.Sum(r => r.Quantity) })`), m.Descriptors)
		assert.Zero(t, countKind[*expr.NestedResult](out))
		assert.Equal(t, 1, countKind[*expr.GroupAggregate](out))
	})

	t.Run("escaping grouping", func(t *testing.T) {
		out := Rewrite(parse(t, m, `OrderDetails.GroupBy(d => d.OrderID).Select(g => new { g.Key, Items = g })`), m.Descriptors)
		assert.Equal(t, 1, countKind[*expr.NestedResult](out))
	})

	t.Run("escaping rows in result selector", func(t *testing.T) {
		out := Rewrite(parse(t, m, `OrderDetails.GroupBy(d => d.OrderID, (k, rows) => new { k, Items = rows })`), m.Descriptors)
		assert.Equal(t, 1, countKind[*expr.NestedResult](out))
	})
}

func TestRewriteZip(t *testing.T) {
	m := testutil.Northwind(t)
	out := Rewrite(parse(t, m, `Orders.OrderBy(o => o.OrderID).Zip(Customers, (o, c) => new { o.OrderID, c.CompanyName })`), m.Descriptors)

	assert.Zero(t, countCalls(out, expr.MethodZip))
	assert.Equal(t, 2, countKind[*expr.RowNumber](out))
	assert.Equal(t, 1, countKind[*expr.Join](out))
}

func TestRewriteTakeWhile(t *testing.T) {
	m := testutil.Northwind(t)
	out := Rewrite(parse(t, m, `Orders.OrderBy(o => o.OrderID).TakeWhile(o => o.Freight > 20m)`), m.Descriptors)

	assert.Zero(t, countCalls(out, expr.MethodTakeWhile))
	require.Equal(t, 1, countKind[*expr.RowNumber](out))
	expr.Walk(out, func(n expr.Expr) bool {
		if rn, ok := n.(*expr.RowNumber); ok {
			require.Len(t, rn.Order, 1)
			assert.False(t, rn.Order[0].Desc)
		}
		return true
	})
}

// The outer filter and the threshold subquery of a positional operator read
// one numbering, including when no ordering pins the row numbers down.
func TestRewritePositionalSharesNumbering(t *testing.T) {
	m := testutil.Northwind(t)
	queries := []string{
		`Orders.OrderBy(o => o.OrderID).TakeWhile(o => o.Freight > 20m)`,
		`Orders.TakeWhile(o => o.Freight > 20m)`,
		`Orders.SkipWhile(o => o.ShipCity != "Berlin")`,
		`Orders.SkipWhile(o => o.Customer.City != "Berlin")`,
	}
	for _, src := range queries {
		t.Run(src, func(t *testing.T) {
			out := Rewrite(parse(t, m, src), m.Descriptors)
			assert.Equal(t, 1, countKind[*expr.RowNumber](out), expr.Format(out))
			assert.Equal(t, 1, countCalls(out, expr.MethodMin))

			again := Rewrite(out, m.Descriptors)
			assert.Equal(t, 1, countKind[*expr.RowNumber](again), expr.Format(again))
			assert.True(t, expr.Equal(out, again))
		})
	}
}

func TestRewriteLeavesUnknownMembers(t *testing.T) {
	m := testutil.Northwind(t)
	e := parse(t, m, `Orders.Where(o => o.Customer.City == "Berlin")`)
	out := Rewrite(e, nil)
	assert.True(t, expr.Equal(e, out))
}

func TestPipelineConvergesAndTraces(t *testing.T) {
	m := testutil.Northwind(t)
	var stages []string
	p := &Pipeline{
		Set: m.Descriptors,
		Trace: func(stage string, pass int, e expr.Expr) {
			stages = append(stages, stage)
		},
	}
	res := p.Run(parse(t, m, `Orders.Where(o => o.Customer.City == "Berlin")`))

	assert.True(t, res.Converged)
	assert.Equal(t, 2, res.Passes)
	require.NotEmpty(t, stages)
	assert.Equal(t, StageNormalize, stages[0])
	assert.Len(t, stages, 1+4*res.Passes)
}

func TestPipelineMaxPasses(t *testing.T) {
	m := testutil.Northwind(t)
	p := &Pipeline{Set: m.Descriptors, MaxPasses: 1}
	res := p.Run(parse(t, m, `Orders.Where(o => o.Customer.City == "Berlin")`))
	assert.False(t, res.Converged)
	assert.Equal(t, 1, res.Passes)
	assert.Equal(t, 1, joinsTo(res.Expr, "Customer"))
}
