package eval

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/navsql/internal/expr"
)

var errDivideByZero = errors.New("integer division by zero")

// Equal reports whether two values are equal. Numbers compare across
// int64 and float64. Records compare field by field, ignoring the record
// type, so a query and its rewrite produce Equal results. Rows are equal
// when they are the same instance.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		if !ok {
			return false
		}
		if ia, ok := a.(int64); ok {
			if ib, ok := b.(int64); ok {
				return ia == ib
			}
		}
		return fa == fb
	}
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case *Row:
		y, ok := b.(*Row)
		return ok && x == y
	case *Record:
		y, ok := b.(*Record)
		if !ok || len(x.Values) != len(y.Values) {
			return false
		}
		for i := range x.Values {
			if !Equal(x.Values[i], y.Values[i]) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *Grouping:
		y, ok := b.(*Grouping)
		return ok && Equal(x.Key, y.Key) && Equal(x.Elems, y.Elems)
	}
	return a == b
}

// Compare orders two scalar values. Null sorts first.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if ia, ok := a.(int64); ok {
		if ib, ok := b.(int64); ok {
			return cmp3(ia < ib, ia > ib)
		}
	}
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return cmp3(fa < fb, fa > fb)
		}
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			return cmp3(!x && y, x && !y)
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(key(a), key(b))
}

func cmp3(lt, gt bool) int {
	switch {
	case lt:
		return -1
	case gt:
		return 1
	}
	return 0
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// key renders a value so that Equal values share a key.
func key(v any) string {
	var b strings.Builder
	writeKey(&b, v)
	return b.String()
}

func writeKey(b *strings.Builder, v any) {
	if f, ok := number(v); ok {
		b.WriteString("n:")
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		return
	}
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		b.WriteString(strconv.Quote(x))
	case bool:
		b.WriteString(strconv.FormatBool(x))
	case time.Time:
		b.WriteString("t:")
		b.WriteString(x.UTC().Format(time.RFC3339Nano))
	case *Row:
		fmt.Fprintf(b, "row:%p", x)
	case *Record:
		b.WriteString("{")
		for i, f := range x.Values {
			if i > 0 {
				b.WriteString(",")
			}
			writeKey(b, f)
		}
		b.WriteString("}")
	case []any:
		b.WriteString("[")
		for i, f := range x {
			if i > 0 {
				b.WriteString(",")
			}
			writeKey(b, f)
		}
		b.WriteString("]")
	case *Grouping:
		b.WriteString("g:")
		writeKey(b, x.Key)
		writeKey(b, x.Elems)
	default:
		fmt.Fprintf(b, "%v", x)
	}
}

// zero is the default value of t: zero for non-nullable numbers and bool,
// null otherwise.
func zero(t *expr.Type) any {
	if !t.IsScalar() || t.Nullable {
		return nil
	}
	switch t.Name {
	case expr.Int, expr.Long:
		return int64(0)
	case expr.Float, expr.Double, expr.Decimal:
		return float64(0)
	case expr.Bool:
		return false
	}
	return nil
}

func isFloating(t *expr.Type) bool {
	switch t.Name {
	case expr.Float, expr.Double, expr.Decimal:
		return true
	}
	return false
}

func unary(n *expr.Unary, x any) (any, error) {
	switch n.Op {
	case expr.OpNot:
		b, ok := x.(bool)
		if !ok {
			return nil, fmt.Errorf("! applied to %T", x)
		}
		return !b, nil
	case expr.OpNegate:
		switch v := x.(type) {
		case int64:
			return -v, nil
		case float64:
			return -v, nil
		}
		return nil, fmt.Errorf("- applied to %T", x)
	case expr.OpConvert:
		if i, ok := x.(int64); ok && n.T.IsScalar() && isFloating(n.T) {
			return float64(i), nil
		}
		if f, ok := x.(float64); ok && n.T.IsScalar() && (n.T.Name == expr.Int || n.T.Name == expr.Long) {
			return int64(f), nil
		}
		return x, nil
	}
	return nil, fmt.Errorf("unknown unary operator %v", n.Op)
}

func (ev *evaluator) binary(n *expr.Binary, s *scope) (any, error) {
	l, err := ev.eval(n.L, s)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case expr.OpAnd:
		if l != true {
			return false, nil
		}
		r, err := ev.eval(n.R, s)
		return r == true, err
	case expr.OpOr:
		if l == true {
			return true, nil
		}
		r, err := ev.eval(n.R, s)
		return r == true, err
	case expr.OpCoalesce:
		if l != nil {
			return l, nil
		}
		return ev.eval(n.R, s)
	}

	r, err := ev.eval(n.R, s)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case expr.OpEq:
		return Equal(l, r), nil
	case expr.OpNe:
		return !Equal(l, r), nil
	}
	if n.Op.IsComparison() {
		if l == nil || r == nil {
			return false, nil
		}
		c := Compare(l, r)
		switch n.Op {
		case expr.OpLt:
			return c < 0, nil
		case expr.OpLe:
			return c <= 0, nil
		case expr.OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}
	if l == nil || r == nil {
		return nil, nil
	}
	return arith(n.Op, l, r)
}

func arith(op expr.BinaryOp, l, r any) (any, error) {
	if ls, ok := l.(string); ok && op == expr.OpAdd {
		return ls + fmt.Sprint(r), nil
	}
	li, lok := l.(int64)
	ri, rok := r.(int64)
	if lok && rok {
		switch op {
		case expr.OpAdd:
			return li + ri, nil
		case expr.OpSub:
			return li - ri, nil
		case expr.OpMul:
			return li * ri, nil
		case expr.OpDiv:
			if ri == 0 {
				return nil, errDivideByZero
			}
			return li / ri, nil
		}
	}
	lf, lok := number(l)
	rf, rok := number(r)
	if !lok || !rok {
		return nil, fmt.Errorf("%s applied to %T and %T", op, l, r)
	}
	switch op {
	case expr.OpAdd:
		return lf + rf, nil
	case expr.OpSub:
		return lf - rf, nil
	case expr.OpMul:
		return lf * rf, nil
	case expr.OpDiv:
		return lf / rf, nil
	}
	return nil, fmt.Errorf("unknown binary operator %s", op)
}
