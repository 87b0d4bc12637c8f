package expr

import (
	"fmt"
	"reflect"
	"time"
)

// Equal reports whether a and b are structurally identical up to renaming
// of lambda parameters (alpha-equivalence). Free parameters must be the same
// variable.
func Equal(a, b Expr) bool {
	return equal(a, b, map[*Parameter]*Parameter{})
}

func equal(a, b Expr, env map[*Parameter]*Parameter) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *Constant:
		y, ok := b.(*Constant)
		return ok && x.T.Equal(y.T) && sameValue(x.Value, y.Value)
	case *Parameter:
		y, ok := b.(*Parameter)
		if !ok {
			return false
		}
		if mapped, bound := env[x]; bound {
			return mapped == y
		}
		return x == y
	case *Source:
		y, ok := b.(*Source)
		return ok && x.Entity.Equal(y.Entity)
	case *Member:
		y, ok := b.(*Member)
		return ok && x.Name == y.Name && equal(x.X, y.X, env)
	case *Unary:
		y, ok := b.(*Unary)
		return ok && x.Op == y.Op && x.T.Equal(y.T) && equal(x.X, y.X, env)
	case *Binary:
		y, ok := b.(*Binary)
		return ok && x.Op == y.Op && equal(x.L, y.L, env) && equal(x.R, y.R, env)
	case *Conditional:
		y, ok := b.(*Conditional)
		return ok && equal(x.Test, y.Test, env) && equal(x.Then, y.Then, env) && equal(x.Else, y.Else, env)
	case *Lambda:
		y, ok := b.(*Lambda)
		if !ok || len(x.Params) != len(y.Params) {
			return false
		}
		for i, p := range x.Params {
			if !p.T.Equal(y.Params[i].T) {
				return false
			}
			env[p] = y.Params[i]
		}
		return equal(x.Body, y.Body, env)
	case *New:
		y, ok := b.(*New)
		return ok && x.T.Equal(y.T) && equalList(x.Args, y.Args, env)
	case *Call:
		y, ok := b.(*Call)
		return ok && x.Method == y.Method && equalList(x.Args, y.Args, env)
	case *Join:
		y, ok := b.(*Join)
		return ok && x.Kind == y.Kind && x.Alias == y.Alias &&
			equalList(Children(x), Children(y), env)
	case *NestedResult:
		y, ok := b.(*NestedResult)
		return ok && equal(x.Query, y.Query, env)
	case *GroupAggregate:
		y, ok := b.(*GroupAggregate)
		return ok && x.Intact == y.Intact && equalList(Children(x), Children(y), env)
	case *RowNumber:
		y, ok := b.(*RowNumber)
		if !ok || len(x.Order) != len(y.Order) {
			return false
		}
		for i := range x.Order {
			if x.Order[i].Desc != y.Order[i].Desc || !equal(x.Order[i].X, y.Order[i].X, env) {
				return false
			}
		}
		return true
	case *EmptyMarker:
		y, ok := b.(*EmptyMarker)
		return ok && equal(x.X, y.X, env)
	}
	panic(fmt.Sprintf("expr: unhandled node %T", a))
}

func equalList(a, b []Expr, env map[*Parameter]*Parameter) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equal(a[i], b[i], env) {
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}
