package expr

// Expr is a node of the expression tree.
//
// This is a sealed interface - only types in this package implement it.
type Expr interface {
	// Type returns the static type of the node.
	Type() *Type

	exprNode() // Marker method - seals interface to this package
}

// Constant is a literal value. A nil Value is the null literal of type T.
//
// Value representation by scalar type: int and long hold int64; float,
// double and decimal hold float64; string, bool and datetime hold string,
// bool and time.Time.
type Constant struct {
	Value any
	T     *Type
}

// Parameter is a lambda parameter. Parameters compare by pointer identity.
type Parameter struct {
	Name string
	T    *Type
}

// Source is the root sequence of all rows of an entity.
type Source struct {
	Entity *Type
	T      *Type // SequenceOf(Entity)
}

// Member accesses a field of a record, entity or grouping.
type Member struct {
	X    Expr
	Name string
	T    *Type
}

// UnaryOp is a unary operator.
type UnaryOp uint8

const (
	OpNot UnaryOp = iota + 1
	OpNegate
	OpConvert
)

// Unary applies a unary operator. For OpConvert the target type is T.
type Unary struct {
	Op UnaryOp
	X  Expr
	T  *Type
}

// BinaryOp is a binary operator.
type BinaryOp uint8

const (
	OpEq BinaryOp = iota + 1
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpCoalesce
)

// Binary applies a binary operator.
type Binary struct {
	Op   BinaryOp
	L, R Expr
	T    *Type
}

// Conditional is the ternary operator Test ? Then : Else.
type Conditional struct {
	Test, Then, Else Expr
	T                *Type
}

// Lambda is an anonymous function. Its type is the type of its body.
type Lambda struct {
	Params []*Parameter
	Body   Expr
}

// New constructs a record value. Args are positional, matching T.Fields.
type New struct {
	T    *Type
	Args []Expr
}

// Call applies a query method. Args[0] is the receiver.
type Call struct {
	Method Method
	Args   []Expr
	T      *Type
}

// JoinKind distinguishes inner from left joins.
type JoinKind uint8

const (
	JoinInner JoinKind = iota + 1
	JoinLeft
)

// Join is a relational equi-join. For a left join the Result lambda sees a
// null inner row when nothing matched.
type Join struct {
	Kind     JoinKind
	Outer    Expr
	Inner    Expr
	OuterKey *Lambda
	InnerKey *Lambda
	Result   *Lambda // (outer, inner) => result
	Alias    string
	T        *Type
}

// NestedResult is a correlated sequence materialized independently of the
// enclosing row set, one sub-result per outer row.
type NestedResult struct {
	Query Expr
}

// GroupAggregate is a grouping clause. Result receives the group key and the
// group's rows. When Intact is false every use of the rows is an aggregate.
type GroupAggregate struct {
	Source Expr
	Key    *Lambda // (row) => key
	Result *Lambda // (key, rows) => result
	Intact bool
	T      *Type
}

// OrderKey is one ordering term of a RowNumber.
type OrderKey struct {
	X    Expr
	Desc bool
}

// RowNumber is the 1-based position of the current row under Order. It may
// only appear in the body of a Select selector; an empty Order means an
// arbitrary but stable order.
type RowNumber struct {
	Order []OrderKey
}

// EmptyMarker is true when X is the null inner row produced by a left join
// that matched nothing.
type EmptyMarker struct {
	X Expr
}

var (
	boolType = ScalarOf(Bool)
	longType = ScalarOf(Long)
)

func (e *Constant) Type() *Type       { return e.T }
func (e *Parameter) Type() *Type      { return e.T }
func (e *Source) Type() *Type         { return e.T }
func (e *Member) Type() *Type         { return e.T }
func (e *Unary) Type() *Type          { return e.T }
func (e *Binary) Type() *Type         { return e.T }
func (e *Conditional) Type() *Type    { return e.T }
func (e *Lambda) Type() *Type         { return e.Body.Type() }
func (e *New) Type() *Type            { return e.T }
func (e *Call) Type() *Type           { return e.T }
func (e *Join) Type() *Type           { return e.T }
func (e *NestedResult) Type() *Type   { return e.Query.Type() }
func (e *GroupAggregate) Type() *Type { return e.T }
func (e *RowNumber) Type() *Type      { return longType }
func (e *EmptyMarker) Type() *Type    { return boolType }

func (*Constant) exprNode()       {}
func (*Parameter) exprNode()      {}
func (*Source) exprNode()         {}
func (*Member) exprNode()         {}
func (*Unary) exprNode()          {}
func (*Binary) exprNode()         {}
func (*Conditional) exprNode()    {}
func (*Lambda) exprNode()         {}
func (*New) exprNode()            {}
func (*Call) exprNode()           {}
func (*Join) exprNode()           {}
func (*NestedResult) exprNode()   {}
func (*GroupAggregate) exprNode() {}
func (*RowNumber) exprNode()      {}
func (*EmptyMarker) exprNode()    {}

// IsComparison reports whether op is one of == != < <= > >=.
func (op BinaryOp) IsComparison() bool {
	return op >= OpEq && op <= OpGe
}

// IsLogical reports whether op is && or ||.
func (op BinaryOp) IsLogical() bool {
	return op == OpAnd || op == OpOr
}

var binaryOpNames = map[BinaryOp]string{
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpAnd: "&&", OpOr: "||", OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/",
	OpCoalesce: "??",
}

func (op BinaryOp) String() string {
	if s, ok := binaryOpNames[op]; ok {
		return s
	}
	return "?"
}

func (op UnaryOp) String() string {
	switch op {
	case OpNot:
		return "!"
	case OpNegate:
		return "-"
	case OpConvert:
		return "convert"
	}
	return "?"
}
