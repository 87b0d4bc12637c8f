package descriptor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navsql/internal/expr"
)

type model struct {
	customer, order, detail *expr.Type
}

func newModel() model {
	customer := expr.NewEntity("Customer", "Customers")
	customer.AddField("CustomerID", expr.ScalarOf(expr.String))
	customer.AddField("City", expr.NullableOf(expr.ScalarOf(expr.String)))

	order := expr.NewEntity("Order", "Orders")
	order.AddField("OrderID", expr.ScalarOf(expr.Int))
	order.AddField("CustomerID", expr.NullableOf(expr.ScalarOf(expr.String)))

	detail := expr.NewEntity("OrderDetail", "OrderDetails")
	detail.AddField("OrderID", expr.ScalarOf(expr.Int))
	detail.AddField("ProductID", expr.ScalarOf(expr.Int))

	order.AddField("Customer", customer)
	order.AddField("Details", expr.SequenceOf(detail))
	detail.AddField("Order", order)
	return model{customer, order, detail}
}

func member(t *expr.Type, name string) *expr.Lambda {
	return expr.Lambda1("e", t, func(p *expr.Parameter) expr.Expr { return expr.MemberOf(p, name) })
}

func composite(t *expr.Type, names ...string) *expr.Lambda {
	return expr.Lambda1("e", t, func(p *expr.Parameter) expr.Expr {
		args := make([]expr.Expr, len(names))
		for i, n := range names {
			args[i] = expr.MemberOf(p, n)
		}
		return expr.NewRecord(names, args, false)
	})
}

func (m model) set(t *testing.T) *Set {
	t.Helper()
	s, err := New(
		[]*PrimaryKey{
			{Entity: m.customer, Key: member(m.customer, "CustomerID")},
			{Entity: m.order, Key: member(m.order, "OrderID")},
			{Entity: m.detail, Key: composite(m.detail, "OrderID", "ProductID")},
		},
		[]*Navigation{
			{Declaring: m.order, Member: "Customer", Target: m.customer,
				OuterKey: member(m.order, "CustomerID"), InnerKey: member(m.customer, "CustomerID")},
			{Declaring: m.order, Member: "Details", Target: m.detail, Many: true,
				OuterKey: member(m.order, "OrderID"), InnerKey: member(m.detail, "OrderID")},
			{Declaring: m.detail, Member: "Order", Target: m.order,
				OuterKey: member(m.detail, "OrderID"), InnerKey: member(m.order, "OrderID")},
		},
	)
	require.NoError(t, err)
	return s
}

func TestLookups(t *testing.T) {
	m := newModel()
	s := m.set(t)

	t.Run("primary key", func(t *testing.T) {
		k, ok := s.PrimaryKey(m.order)
		require.True(t, ok)
		assert.Equal(t, 1, k.Arity())

		k, ok = s.PrimaryKey(m.detail)
		require.True(t, ok)
		assert.Equal(t, 2, k.Arity())

		_, ok = s.PrimaryKey(expr.ScalarOf(expr.Int))
		assert.False(t, ok)
	})

	t.Run("navigation", func(t *testing.T) {
		navs := s.Navigations(m.order, "Customer")
		require.Len(t, navs, 1)
		assert.Same(t, m.customer, navs[0].Target)
		assert.False(t, navs[0].Many)
		assert.True(t, navs[0].Optional(), "nullable CustomerID makes the relationship optional")
		assert.Equal(t, "Order.Customer -> Customer (one)", navs[0].String())

		nav, ok := s.Navigation(m.order, "Details")
		require.True(t, ok)
		assert.True(t, nav.Many)
		assert.False(t, nav.Optional())
		assert.Equal(t, "OrderDetails", expr.Format(nav.Source), "source defaults to the target root")
	})

	t.Run("not found is not an error", func(t *testing.T) {
		assert.Empty(t, s.Navigations(m.order, "OrderID"))
		assert.Empty(t, s.Navigations(m.customer, "Orders"))
		_, ok := s.Navigation(m.customer, "Nope")
		assert.False(t, ok)
	})

	t.Run("nil set", func(t *testing.T) {
		var empty *Set
		_, ok := empty.PrimaryKey(m.order)
		assert.False(t, ok)
		assert.Empty(t, empty.Navigations(m.order, "Customer"))
	})

	t.Run("entities and per-entity navigations", func(t *testing.T) {
		assert.Equal(t, []string{"Customer", "Order", "OrderDetail"}, s.Entities())
		assert.Len(t, s.NavigationsOf(m.order), 2)
	})
}

func TestKeyParts(t *testing.T) {
	m := newModel()
	s := m.set(t)

	d := expr.NewParam("d", m.detail)
	k, _ := s.PrimaryKey(m.detail)
	parts := k.Parts(d)
	require.Len(t, parts, 2)
	assert.Equal(t, "d.OrderID", expr.Format(parts[0]))
	assert.Equal(t, "d.ProductID", expr.Format(parts[1]))

	nav, _ := s.Navigation(m.detail, "Order")
	outer := nav.OuterParts(d)
	require.Len(t, outer, 1)
	assert.Equal(t, "d.OrderID", expr.Format(outer[0]))
}

func TestNewFailsFast(t *testing.T) {
	m := newModel()

	tests := []struct {
		name string
		keys []*PrimaryKey
		navs []*Navigation
		code string
	}{
		{
			name: "key arity mismatch",
			navs: []*Navigation{{Declaring: m.detail, Member: "Order", Target: m.order,
				OuterKey: composite(m.detail, "OrderID", "ProductID"), InnerKey: member(m.order, "OrderID")}},
			code: ErrKeyArity,
		},
		{
			name: "key type mismatch",
			navs: []*Navigation{{Declaring: m.order, Member: "Customer", Target: m.customer,
				OuterKey: member(m.order, "OrderID"), InnerKey: member(m.customer, "CustomerID")}},
			code: ErrKeyTypeMismatch,
		},
		{
			name: "selector over wrong entity",
			navs: []*Navigation{{Declaring: m.order, Member: "Customer", Target: m.customer,
				OuterKey: member(m.customer, "CustomerID"), InnerKey: member(m.customer, "CustomerID")}},
			code: ErrBadKeySelector,
		},
		{
			name: "missing target",
			navs: []*Navigation{{Declaring: m.order, Member: "Customer",
				OuterKey: member(m.order, "CustomerID"), InnerKey: member(m.customer, "CustomerID")}},
			code: ErrMissingTarget,
		},
		{
			name: "missing member",
			navs: []*Navigation{{Declaring: m.order, Target: m.customer}},
			code: ErrMissingMember,
		},
		{
			name: "duplicate key",
			keys: []*PrimaryKey{
				{Entity: m.order, Key: member(m.order, "OrderID")},
				{Entity: m.order, Key: member(m.order, "OrderID")},
			},
			code: ErrDuplicateKey,
		},
		{
			name: "non-scalar key",
			keys: []*PrimaryKey{{Entity: m.order, Key: member(m.order, "Customer")}},
			code: ErrNonScalarKey,
		},
		{
			name: "bad source",
			navs: []*Navigation{{Declaring: m.order, Member: "Customer", Target: m.customer,
				OuterKey: member(m.order, "CustomerID"), InnerKey: member(m.customer, "CustomerID"),
				Source: expr.SourceOf(m.order)}},
			code: ErrBadSource,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.keys, tt.navs)
			require.Error(t, err)
			assert.Nil(t, s)

			var verr ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.code, verr.Code)
		})
	}
}

func TestNewReportsEveryProblem(t *testing.T) {
	m := newModel()
	_, err := New(nil, []*Navigation{
		{Declaring: m.order, Target: m.customer},
		{Declaring: m.order, Member: "Customer",
			OuterKey: member(m.order, "CustomerID"), InnerKey: member(m.customer, "CustomerID")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrMissingMember)
	assert.Contains(t, err.Error(), ErrMissingTarget)
}

func TestMustNewPanics(t *testing.T) {
	m := newModel()
	assert.Panics(t, func() {
		MustNew([]*PrimaryKey{{Entity: m.order}}, nil)
	})
}
