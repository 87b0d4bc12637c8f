package expr

import "fmt"

// Const returns a literal of type t.
func Const(v any, t *Type) *Constant {
	return &Constant{Value: v, T: t}
}

// Null returns the null literal of type t.
func Null(t *Type) *Constant {
	return &Constant{T: t}
}

// IsNull reports whether e is the null literal.
func IsNull(e Expr) bool {
	c, ok := e.(*Constant)
	return ok && c.Value == nil
}

// NewParam returns a fresh parameter.
func NewParam(name string, t *Type) *Parameter {
	return &Parameter{Name: name, T: t}
}

// SourceOf returns the root sequence of an entity.
func SourceOf(entity *Type) *Source {
	return &Source{Entity: entity, T: SequenceOf(entity)}
}

// NewMember type-checks a member access.
func NewMember(x Expr, name string) (*Member, error) {
	t, ok := x.Type().Member(name)
	if !ok {
		return nil, fmt.Errorf("%s has no member %q", x.Type(), name)
	}
	return &Member{X: x, Name: name, T: t}, nil
}

// MemberOf is like NewMember but panics when the member does not exist.
func MemberOf(x Expr, name string) *Member {
	m, err := NewMember(x, name)
	if err != nil {
		panic(fmt.Sprintf("expr: %v", err))
	}
	return m
}

// Path applies a chain of member accesses to x.
func Path(x Expr, names ...string) Expr {
	for _, n := range names {
		x = MemberOf(x, n)
	}
	return x
}

// Not negates a boolean.
func Not(x Expr) *Unary {
	return &Unary{Op: OpNot, X: x, T: x.Type()}
}

// Convert changes the static type of x, typically lifting a scalar to its
// nullable variant.
func Convert(x Expr, t *Type) Expr {
	if x.Type().Equal(t) {
		return x
	}
	if c, ok := x.(*Constant); ok && c.Value == nil {
		return Null(t)
	}
	return &Unary{Op: OpConvert, X: x, T: t}
}

// NewUnary type-checks a unary operator other than OpConvert.
func NewUnary(op UnaryOp, x Expr) (*Unary, error) {
	t := x.Type()
	switch op {
	case OpNot:
		if !t.IsScalar() || t.Name != Bool {
			return nil, fmt.Errorf("operator ! needs bool, got %s", t)
		}
	case OpNegate:
		if !t.IsNumeric() {
			return nil, fmt.Errorf("operator - needs a number, got %s", t)
		}
	default:
		return nil, fmt.Errorf("unsupported unary operator %s", op)
	}
	return &Unary{Op: op, X: x, T: t}, nil
}

var numericRank = map[string]int{Int: 1, Long: 2, Float: 3, Double: 4, Decimal: 5}

// NewBinary type-checks a binary operator.
func NewBinary(op BinaryOp, l, r Expr) (*Binary, error) {
	lt, rt := l.Type(), r.Type()
	switch {
	case op == OpEq || op == OpNe:
		if !IsNull(l) && !IsNull(r) && !Comparable(lt, rt) {
			return nil, fmt.Errorf("cannot compare %s with %s", lt, rt)
		}
		return &Binary{Op: op, L: l, R: r, T: boolType}, nil

	case op.IsComparison():
		if !lt.IsScalar() || !rt.IsScalar() || !Comparable(lt, rt) {
			return nil, fmt.Errorf("cannot order %s and %s", lt, rt)
		}
		return &Binary{Op: op, L: l, R: r, T: boolType}, nil

	case op.IsLogical():
		if !isBool(lt) || !isBool(rt) {
			return nil, fmt.Errorf("operator %s needs bool operands, got %s and %s", op, lt, rt)
		}
		return &Binary{Op: op, L: l, R: r, T: boolType}, nil

	case op == OpCoalesce:
		if IsNull(r) {
			return &Binary{Op: op, L: l, R: r, T: lt}, nil
		}
		if !Assignable(NonNullable(lt), rt) && !Assignable(rt, lt) {
			return nil, fmt.Errorf("operator ?? operands differ: %s and %s", lt, rt)
		}
		return &Binary{Op: op, L: l, R: r, T: rt}, nil
	}

	if op == OpAdd && lt.IsScalar() && lt.Name == String && rt.IsScalar() && rt.Name == String {
		return &Binary{Op: op, L: l, R: r, T: ScalarOf(String)}, nil
	}
	if !lt.IsNumeric() || !rt.IsNumeric() {
		return nil, fmt.Errorf("operator %s needs numbers, got %s and %s", op, lt, rt)
	}
	t := ScalarOf(lt.Name)
	if numericRank[rt.Name] > numericRank[lt.Name] {
		t = ScalarOf(rt.Name)
	}
	if lt.Nullable || rt.Nullable {
		t = NullableOf(t)
	}
	return &Binary{Op: op, L: l, R: r, T: t}, nil
}

func isBool(t *Type) bool {
	return t.IsScalar() && t.Name == Bool
}

// BinaryOf is like NewBinary but panics on a type error.
func BinaryOf(op BinaryOp, l, r Expr) *Binary {
	b, err := NewBinary(op, l, r)
	if err != nil {
		panic(fmt.Sprintf("expr: %v", err))
	}
	return b
}

// Eq returns l == r.
func Eq(l, r Expr) *Binary { return BinaryOf(OpEq, l, r) }

// Ne returns l != r.
func Ne(l, r Expr) *Binary { return BinaryOf(OpNe, l, r) }

// AndAll folds xs with &&. It returns nil for an empty list.
func AndAll(xs ...Expr) Expr {
	return fold(OpAnd, xs)
}

// OrAll folds xs with ||. It returns nil for an empty list.
func OrAll(xs ...Expr) Expr {
	return fold(OpOr, xs)
}

func fold(op BinaryOp, xs []Expr) Expr {
	var acc Expr
	for _, x := range xs {
		if acc == nil {
			acc = x
			continue
		}
		acc = BinaryOf(op, acc, x)
	}
	return acc
}

// Cond returns test ? then : els. The result has the type of then, lifted
// to nullable when els is the null literal.
func Cond(test, then, els Expr) *Conditional {
	t := then.Type()
	if IsNull(then) {
		t = els.Type()
	}
	if IsNull(then) || IsNull(els) {
		t = NullableOf(t)
	}
	return &Conditional{Test: test, Then: then, Else: els, T: t}
}

// NewLambda returns a lambda over params.
func NewLambda(body Expr, params ...*Parameter) *Lambda {
	return &Lambda{Params: params, Body: body}
}

// Lambda1 builds a one-parameter lambda from a body constructor.
func Lambda1(name string, t *Type, body func(p *Parameter) Expr) *Lambda {
	p := NewParam(name, t)
	return NewLambda(body(p), p)
}

// NewRecord constructs a record from names and values. The record type is
// transparent when transparent is set.
func NewRecord(names []string, args []Expr, transparent bool) *New {
	fields := make([]Field, len(names))
	for i, n := range names {
		fields[i] = Field{Name: n, Type: args[i].Type()}
	}
	t := RecordOf(fields...)
	t.Transparent = transparent
	return &New{T: t, Args: args}
}

// Arg returns the argument that initializes the named field, or nil.
func (n *New) Arg(name string) Expr {
	if i := n.T.FieldIndex(name); i >= 0 && i < len(n.Args) {
		return n.Args[i]
	}
	return nil
}

// NewJoin builds a relational join. The result type is a sequence of the
// result selector's body type.
func NewJoin(kind JoinKind, outer, inner Expr, outerKey, innerKey, result *Lambda, alias string) *Join {
	return &Join{
		Kind:     kind,
		Outer:    outer,
		Inner:    inner,
		OuterKey: outerKey,
		InnerKey: innerKey,
		Result:   result,
		Alias:    alias,
		T:        SequenceOf(result.Body.Type()),
	}
}

// NewGroupAggregate builds a grouping clause.
func NewGroupAggregate(source Expr, key, result *Lambda, intact bool) *GroupAggregate {
	return &GroupAggregate{
		Source: source,
		Key:    key,
		Result: result,
		Intact: intact,
		T:      SequenceOf(result.Body.Type()),
	}
}

// Elem returns the element type of a sequence-typed expression.
func Elem(e Expr) *Type {
	return e.Type().ElemType()
}
