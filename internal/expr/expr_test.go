package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// entities builds a small Customer/Order model with a to-one navigation.
func entities() (customer, order *Type) {
	customer = NewEntity("Customer", "Customers")
	customer.AddField("CustomerID", ScalarOf(String))
	customer.AddField("City", NullableOf(ScalarOf(String)))

	order = NewEntity("Order", "Orders")
	order.AddField("OrderID", ScalarOf(Int))
	order.AddField("CustomerID", ScalarOf(String))
	order.AddField("Freight", NullableOf(ScalarOf(Decimal)))
	order.AddField("Customer", customer)
	return customer, order
}

func TestTypeEqualAndString(t *testing.T) {
	customer, order := entities()

	tests := []struct {
		name string
		t    *Type
		want string
	}{
		{"scalar", ScalarOf(Int), "int"},
		{"nullable", NullableOf(ScalarOf(Int)), "int?"},
		{"entity", order, "Order"},
		{"sequence", SequenceOf(customer), "seq<Customer>"},
		{"grouping", GroupingOf(ScalarOf(String), order), "grouping<string,Order>"},
		{"record", RecordOf(Field{"A", ScalarOf(Int)}), "{A: int}"},
		{"transparent", TransparentOf(Field{"o", order}, Field{"c", customer}), "<>{o: Order, c: Customer}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.t.String())
			assert.True(t, tt.t.Equal(tt.t))
		})
	}

	assert.False(t, ScalarOf(Int).Equal(NullableOf(ScalarOf(Int))))
	assert.True(t, SequenceOf(order).Equal(SequenceOf(order)))
	assert.False(t, RecordOf(Field{"A", ScalarOf(Int)}).Equal(TransparentOf(Field{"A", ScalarOf(Int)})))
	assert.True(t, Assignable(ScalarOf(Int), NullableOf(ScalarOf(Int))))
	assert.False(t, Assignable(NullableOf(ScalarOf(Int)), ScalarOf(Int)))
	assert.True(t, Comparable(ScalarOf(Int), NullableOf(ScalarOf(Long))))
}

func TestNewCallTyping(t *testing.T) {
	_, order := entities()
	orders := SourceOf(order)

	t.Run("average promotes int to double", func(t *testing.T) {
		sel := Lambda1("o", order, func(p *Parameter) Expr { return MemberOf(p, "OrderID") })
		c, err := NewCall(MethodAverage, orders, sel)
		require.NoError(t, err)
		assert.Equal(t, "double", c.Type().String())
	})

	t.Run("sum keeps nullable decimal", func(t *testing.T) {
		sel := Lambda1("o", order, func(p *Parameter) Expr { return MemberOf(p, "Freight") })
		c, err := NewCall(MethodSum, orders, sel)
		require.NoError(t, err)
		assert.Equal(t, "decimal?", c.Type().String())
	})

	t.Run("count and long count", func(t *testing.T) {
		assert.Equal(t, "int", CallOf(MethodCount, orders).Type().String())
		assert.Equal(t, "long", CallOf(MethodLongCount, orders).Type().String())
	})

	t.Run("where requires bool predicate", func(t *testing.T) {
		sel := Lambda1("o", order, func(p *Parameter) Expr { return MemberOf(p, "OrderID") })
		_, err := NewCall(MethodWhere, orders, sel)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Where")
	})

	t.Run("group by shapes", func(t *testing.T) {
		key := Lambda1("o", order, func(p *Parameter) Expr { return MemberOf(p, "CustomerID") })
		c := CallOf(MethodGroupBy, orders, key)
		assert.Equal(t, "seq<grouping<string,Order>>", c.Type().String())

		k := NewParam("k", ScalarOf(String))
		rows := NewParam("rows", SequenceOf(order))
		res := NewLambda(CallOf(MethodCount, rows), k, rows)
		c = CallOf(MethodGroupBy, orders, key, res)
		assert.Equal(t, "seq<int>", c.Type().String())
	})

	t.Run("argument count", func(t *testing.T) {
		_, err := NewCall(MethodSelect, orders)
		require.Error(t, err)
	})
}

func TestEqualAlpha(t *testing.T) {
	_, order := entities()
	build := func(name string) Expr {
		pred := Lambda1(name, order, func(p *Parameter) Expr {
			return Eq(MemberOf(p, "CustomerID"), Const("ALFKI", ScalarOf(String)))
		})
		return CallOf(MethodWhere, SourceOf(order), pred)
	}

	assert.True(t, Equal(build("o"), build("x")))
	assert.True(t, Equal(build("o"), build("o")))

	other := CallOf(MethodWhere, SourceOf(order), Lambda1("o", order, func(p *Parameter) Expr {
		return Eq(MemberOf(p, "CustomerID"), Const("BONAP", ScalarOf(String)))
	}))
	assert.False(t, Equal(build("o"), other))

	free1 := NewParam("o", order)
	free2 := NewParam("o", order)
	assert.False(t, Equal(free1, free2), "free parameters compare by identity")
	assert.True(t, Equal(free1, free1))
}

func TestTransformPreservesIdentity(t *testing.T) {
	_, order := entities()
	e := CallOf(MethodWhere, SourceOf(order), Lambda1("o", order, func(p *Parameter) Expr {
		return Eq(MemberOf(p, "OrderID"), Const(int64(1), ScalarOf(Int)))
	}))

	same := Transform(e, func(n Expr) Expr { return n })
	assert.Same(t, e, same)

	changed := Transform(e, func(n Expr) Expr {
		if c, ok := n.(*Constant); ok && c.Value == int64(1) {
			return Const(int64(2), ScalarOf(Int))
		}
		return n
	})
	assert.NotSame(t, e, changed)
	assert.Equal(t, "Orders.Where(o => (o.OrderID == 2))", Format(changed))
	assert.Equal(t, "Orders.Where(o => (o.OrderID == 1))", Format(e), "input is never mutated")
}

func TestSubstituteAndFreeParams(t *testing.T) {
	customer, order := entities()
	o := NewParam("o", order)
	body := MemberOf(MemberOf(o, "Customer"), "City")

	c := NewParam("c", customer)
	got := Substitute(body, map[*Parameter]Expr{o: NewParam("x", order)})
	assert.Equal(t, "x.Customer.City", Format(got))

	l := NewLambda(Eq(MemberOf(c, "CustomerID"), MemberOf(o, "CustomerID")), c)
	free := FreeParams(l)
	require.Len(t, free, 1)
	assert.Same(t, o, free[0])

	assert.True(t, References(l, o))
	assert.Equal(t, 2, Count(l, func(n Expr) bool { _, ok := n.(*Member); return ok }))

	applied := Apply(l, NewParam("x", customer))
	assert.Equal(t, "(x.CustomerID == o.CustomerID)", Format(applied))
}

func TestFormatRelational(t *testing.T) {
	customer, order := entities()
	ok := Lambda1("o", order, func(p *Parameter) Expr { return MemberOf(p, "CustomerID") })
	ik := Lambda1("c", customer, func(p *Parameter) Expr { return MemberOf(p, "CustomerID") })
	o := NewParam("o", order)
	c := NewParam("c", customer)
	res := NewLambda(NewRecord([]string{"o", "c"}, []Expr{o, c}, true), o, c)

	j := NewJoin(JoinLeft, SourceOf(order), SourceOf(customer), ok, ik, res, "t0")
	assert.Equal(t,
		"Orders.LeftJoin#t0(Customers, o => o.CustomerID, c => c.CustomerID, (o, c) => new <> { o = o, c = c })",
		Format(j))
	assert.Equal(t, "seq<<>{o: Order, c: Customer}>", j.Type().String())

	rn := &RowNumber{Order: []OrderKey{{X: MemberOf(o, "OrderID"), Desc: true}}}
	assert.Equal(t, "rownumber(o.OrderID desc)", Format(rn))
	assert.Equal(t, "$empty(c)", Format(&EmptyMarker{X: c}))
	assert.Equal(t, "nested(Customers)", Format(&NestedResult{Query: SourceOf(customer)}))
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		v    any
		t    *Type
		want string
	}{
		{nil, ScalarOf(Int), "null"},
		{"a\"b", ScalarOf(String), `"a\"b"`},
		{int64(3), ScalarOf(Int), "3"},
		{int64(3), ScalarOf(Long), "3L"},
		{1.5, ScalarOf(Decimal), "1.5m"},
		{2.0, ScalarOf(Double), "2.0"},
		{true, ScalarOf(Bool), "true"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.v, tt.t))
	}
}

func TestFingerprint(t *testing.T) {
	_, order := entities()
	build := func(name, city string) Expr {
		return CallOf(MethodWhere, SourceOf(order), Lambda1(name, order, func(p *Parameter) Expr {
			return Eq(MemberOf(p, "CustomerID"), Const(city, ScalarOf(String)))
		}))
	}

	t.Run("alpha invariant", func(t *testing.T) {
		assert.Equal(t, Fingerprint(build("o", "x")), Fingerprint(build("y", "x")))
	})

	t.Run("constants matter", func(t *testing.T) {
		assert.NotEqual(t, Fingerprint(build("o", "Berlin")), Fingerprint(build("o", "Paris")))
	})

	t.Run("NFC normalization", func(t *testing.T) {
		composed := "Caf\u00e9"
		decomposed := "Cafe\u0301"
		assert.Equal(t, Fingerprint(build("o", composed)), Fingerprint(build("o", decomposed)))
	})

	t.Run("hex sha256", func(t *testing.T) {
		assert.Len(t, Fingerprint(build("o", "x")), 64)
	})

	t.Run("join alias matters", func(t *testing.T) {
		customer, order := entities()
		mk := func(alias string) Expr {
			ok := Lambda1("o", order, func(p *Parameter) Expr { return MemberOf(p, "CustomerID") })
			ik := Lambda1("c", customer, func(p *Parameter) Expr { return MemberOf(p, "CustomerID") })
			o, c := NewParam("o", order), NewParam("c", customer)
			return NewJoin(JoinInner, SourceOf(order), SourceOf(customer), ok, ik, NewLambda(c, o, c), alias)
		}
		assert.NotEqual(t, Fingerprint(mk("t0")), Fingerprint(mk("t1")))
	})
}
