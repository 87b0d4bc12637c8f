package expr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Format renders e as a single line of method-syntax text. The output is
// deterministic and is what golden files and scenario assertions match
// against.
//
// Relational nodes print with a distinguishing spelling:
//
//	outer.Join#t0(inner, o => o.CustomerID, i => i.CustomerID, (o, i) => ...)
//	outer.LeftJoin#t1(...)
//	src.GroupAggregate(k => ..., (k, rows) => ...)   // Intact: GroupAggregate!
//	nested(query)
//	rownumber(x.OrderDate desc)
//	$empty(x)
func Format(e Expr) string {
	var b strings.Builder
	format(&b, e)
	return b.String()
}

func format(b *strings.Builder, e Expr) {
	switch n := e.(type) {
	case nil:
		b.WriteString("<nil>")
	case *Constant:
		b.WriteString(FormatValue(n.Value, n.T))
	case *Parameter:
		b.WriteString(n.Name)
	case *Source:
		if n.Entity.Table != "" {
			b.WriteString(n.Entity.Table)
		} else {
			b.WriteString(n.Entity.Name)
		}
	case *Member:
		format(b, n.X)
		b.WriteByte('.')
		b.WriteString(n.Name)
	case *Unary:
		switch n.Op {
		case OpConvert:
			b.WriteString("(" + n.T.String() + ")")
		default:
			b.WriteString(n.Op.String())
		}
		format(b, n.X)
	case *Binary:
		b.WriteByte('(')
		format(b, n.L)
		b.WriteString(" " + n.Op.String() + " ")
		format(b, n.R)
		b.WriteByte(')')
	case *Conditional:
		b.WriteByte('(')
		format(b, n.Test)
		b.WriteString(" ? ")
		format(b, n.Then)
		b.WriteString(" : ")
		format(b, n.Else)
		b.WriteByte(')')
	case *Lambda:
		if len(n.Params) == 1 {
			b.WriteString(n.Params[0].Name)
		} else {
			b.WriteByte('(')
			for i, p := range n.Params {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(p.Name)
			}
			b.WriteByte(')')
		}
		b.WriteString(" => ")
		format(b, n.Body)
	case *New:
		b.WriteString("new ")
		if n.T.Transparent {
			b.WriteString("<> ")
		}
		b.WriteString("{ ")
		for i, a := range n.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(n.T.Fields[i].Name)
			b.WriteString(" = ")
			format(b, a)
		}
		b.WriteString(" }")
	case *Call:
		format(b, n.Args[0])
		b.WriteByte('.')
		b.WriteString(n.Method.String())
		formatArgs(b, n.Args[1:])
	case *Join:
		format(b, n.Outer)
		if n.Kind == JoinLeft {
			b.WriteString(".LeftJoin#")
		} else {
			b.WriteString(".Join#")
		}
		b.WriteString(n.Alias)
		formatArgs(b, []Expr{n.Inner, n.OuterKey, n.InnerKey, n.Result})
	case *NestedResult:
		b.WriteString("nested(")
		format(b, n.Query)
		b.WriteByte(')')
	case *GroupAggregate:
		format(b, n.Source)
		b.WriteString(".GroupAggregate")
		if n.Intact {
			b.WriteByte('!')
		}
		formatArgs(b, []Expr{n.Key, n.Result})
	case *RowNumber:
		b.WriteString("rownumber(")
		for i, k := range n.Order {
			if i > 0 {
				b.WriteString(", ")
			}
			format(b, k.X)
			if k.Desc {
				b.WriteString(" desc")
			}
		}
		b.WriteByte(')')
	case *EmptyMarker:
		b.WriteString("$empty(")
		format(b, n.X)
		b.WriteByte(')')
	default:
		panic(fmt.Sprintf("expr: unhandled node %T", e))
	}
}

func formatArgs(b *strings.Builder, args []Expr) {
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		format(b, a)
	}
	b.WriteByte(')')
}

// FormatValue renders a constant in the query text literal syntax.
func FormatValue(v any, t *Type) string {
	if v == nil {
		return "null"
	}
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		if t != nil && t.Name == Long {
			return strconv.FormatInt(x, 10) + "L"
		}
		return strconv.FormatInt(x, 10)
	case float64:
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if t != nil && t.Name == Decimal {
			return s + "m"
		}
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case time.Time:
		return "datetime(" + strconv.Quote(x.UTC().Format(time.RFC3339)) + ")"
	}
	return fmt.Sprint(v)
}
