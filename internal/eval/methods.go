package eval

import (
	"fmt"
	"sort"

	"github.com/roach88/navsql/internal/expr"
)

func lambdaArg(c *expr.Call, i int) *expr.Lambda {
	if i >= len(c.Args) {
		return nil
	}
	l, _ := c.Args[i].(*expr.Lambda)
	return l
}

func (ev *evaluator) call(c *expr.Call, s *scope) (any, error) {
	if c.Method == expr.MethodEquals {
		a, err := ev.eval(c.Args[0], s)
		if err != nil {
			return nil, err
		}
		b, err := ev.eval(c.Args[1], s)
		if err != nil {
			return nil, err
		}
		return Equal(a, b), nil
	}
	if c.Method.IsOrdering() {
		return ev.order(c, s)
	}

	src, err := ev.seq(c.Args[0], s)
	if err != nil {
		return nil, err
	}

	switch c.Method {
	case expr.MethodWhere:
		return ev.filter(src, lambdaArg(c, 1), s)

	case expr.MethodSelect:
		return ev.project(src, lambdaArg(c, 1), s)

	case expr.MethodSelectMany:
		coll, result := lambdaArg(c, 1), lambdaArg(c, 2)
		out := []any{}
		for _, x := range src {
			ys, err := ev.applySeq(coll, s, x)
			if err != nil {
				return nil, err
			}
			for _, y := range ys {
				if result == nil {
					out = append(out, y)
					continue
				}
				v, err := ev.apply(result, s, x, y)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
		}
		return out, nil

	case expr.MethodJoin, expr.MethodGroupJoin:
		inner, err := ev.seq(c.Args[1], s)
		if err != nil {
			return nil, err
		}
		outerKey, innerKey, result := lambdaArg(c, 2), lambdaArg(c, 3), lambdaArg(c, 4)
		out := []any{}
		err = ev.match(src, inner, outerKey, innerKey, s, func(o any, ms []any) error {
			if c.Method == expr.MethodGroupJoin {
				if ms == nil {
					ms = []any{}
				}
				v, err := ev.apply(result, s, o, ms)
				out = append(out, v)
				return err
			}
			for _, i := range ms {
				v, err := ev.apply(result, s, o, i)
				if err != nil {
					return err
				}
				out = append(out, v)
			}
			return nil
		})
		return out, err

	case expr.MethodGroupBy:
		return ev.groupBy(c, src, s)

	case expr.MethodSkip, expr.MethodTake:
		v, err := ev.eval(c.Args[1], s)
		if err != nil {
			return nil, err
		}
		n, _ := v.(int64)
		n = max(0, min(n, int64(len(src))))
		if c.Method == expr.MethodSkip {
			return src[n:], nil
		}
		return src[:n], nil

	case expr.MethodSkipWhile, expr.MethodTakeWhile:
		pred := lambdaArg(c, 1)
		i := 0
		for ; i < len(src); i++ {
			ok, err := ev.test(pred, s, src[i])
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
		}
		if c.Method == expr.MethodSkipWhile {
			return src[i:], nil
		}
		return src[:i], nil

	case expr.MethodZip:
		other, err := ev.seq(c.Args[1], s)
		if err != nil {
			return nil, err
		}
		result := lambdaArg(c, 2)
		n := min(len(src), len(other))
		out := make([]any, 0, n)
		for i := 0; i < n; i++ {
			v, err := ev.apply(result, s, src[i], other[i])
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case expr.MethodDefaultIfEmpty:
		if len(src) == 0 {
			return []any{nil}, nil
		}
		return src, nil

	case expr.MethodDistinct:
		seen := make(map[string]bool, len(src))
		out := []any{}
		for _, x := range src {
			k := key(x)
			if !seen[k] {
				seen[k] = true
				out = append(out, x)
			}
		}
		return out, nil

	case expr.MethodCount, expr.MethodLongCount:
		if pred := lambdaArg(c, 1); pred != nil {
			if src, err = ev.filter(src, pred, s); err != nil {
				return nil, err
			}
		}
		return int64(len(src)), nil

	case expr.MethodSum, expr.MethodMin, expr.MethodMax, expr.MethodAverage:
		if sel := lambdaArg(c, 1); sel != nil {
			if src, err = ev.project(src, sel, s); err != nil {
				return nil, err
			}
		}
		return aggregate(c.Method, c.T, src)

	case expr.MethodFirst, expr.MethodFirstOrDefault, expr.MethodLast, expr.MethodLastOrDefault,
		expr.MethodSingle, expr.MethodSingleOrDefault:
		if pred := lambdaArg(c, 1); pred != nil {
			if src, err = ev.filter(src, pred, s); err != nil {
				return nil, err
			}
		}
		return pick(c.Method, c.T, src)

	case expr.MethodAny:
		if pred := lambdaArg(c, 1); pred != nil {
			if src, err = ev.filter(src, pred, s); err != nil {
				return nil, err
			}
		}
		return len(src) > 0, nil

	case expr.MethodAll:
		pred := lambdaArg(c, 1)
		for _, x := range src {
			ok, err := ev.test(pred, s, x)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case expr.MethodContains:
		v, err := ev.eval(c.Args[1], s)
		if err != nil {
			return nil, err
		}
		for _, x := range src {
			if Equal(x, v) {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, fmt.Errorf("cannot evaluate method %s", c.Method)
}

func (ev *evaluator) applySeq(l *expr.Lambda, s *scope, args ...any) ([]any, error) {
	v, err := ev.apply(l, s, args...)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case []any:
		return x, nil
	case *Grouping:
		return x.Elems, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("%s does not produce a sequence", expr.Format(l))
}

func (ev *evaluator) filter(src []any, pred *expr.Lambda, s *scope) ([]any, error) {
	out := []any{}
	for _, x := range src {
		ok, err := ev.test(pred, s, x)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, x)
		}
	}
	return out, nil
}

// project maps src through l. A selector that contains a row number is
// evaluated with each element's position under the row number's ordering.
func (ev *evaluator) project(src []any, l *expr.Lambda, s *scope) ([]any, error) {
	var ranks []int64
	if rn := rowNumberIn(l.Body); rn != nil {
		var err error
		if ranks, err = ev.number(src, l, rn, s); err != nil {
			return nil, err
		}
	}
	out := make([]any, 0, len(src))
	for i, x := range src {
		if ranks != nil {
			ev.rowNumbers = append(ev.rowNumbers, ranks[i])
		}
		v, err := ev.apply(l, s, x)
		if ranks != nil {
			ev.rowNumbers = ev.rowNumbers[:len(ev.rowNumbers)-1]
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// rowNumberIn finds a row number belonging to body itself, not to a
// nested selector.
func rowNumberIn(body expr.Expr) *expr.RowNumber {
	var found *expr.RowNumber
	expr.Walk(body, func(n expr.Expr) bool {
		switch x := n.(type) {
		case *expr.Lambda:
			return false
		case *expr.RowNumber:
			if found == nil {
				found = x
			}
		}
		return found == nil
	})
	return found
}

func (ev *evaluator) number(src []any, l *expr.Lambda, rn *expr.RowNumber, s *scope) ([]int64, error) {
	keys := make([][]any, len(src))
	for i, x := range src {
		inner := s.bind(l.Params, x)
		keys[i] = make([]any, len(rn.Order))
		for j, k := range rn.Order {
			v, err := ev.eval(k.X, inner)
			if err != nil {
				return nil, err
			}
			keys[i][j] = v
		}
	}
	idx := make([]int, len(src))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for j, k := range rn.Order {
			c := Compare(keys[idx[a]][j], keys[idx[b]][j])
			if k.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	ranks := make([]int64, len(src))
	for pos, i := range idx {
		ranks[i] = int64(pos + 1)
	}
	return ranks, nil
}

type sortKey struct {
	by   *expr.Lambda
	desc bool
}

// order evaluates an OrderBy/ThenBy chain as one stable sort.
func (ev *evaluator) order(c *expr.Call, s *scope) (any, error) {
	var keys []sortKey
	var base expr.Expr = c
	for {
		oc, ok := base.(*expr.Call)
		if !ok || !oc.Method.IsOrdering() {
			break
		}
		desc := oc.Method == expr.MethodOrderByDescending || oc.Method == expr.MethodThenByDescending
		keys = append([]sortKey{{lambdaArg(oc, 1), desc}}, keys...)
		base = oc.Args[0]
		if oc.Method == expr.MethodOrderBy || oc.Method == expr.MethodOrderByDescending {
			break
		}
	}

	src, err := ev.seq(base, s)
	if err != nil {
		return nil, err
	}
	vals := make([][]any, len(src))
	for i, x := range src {
		vals[i] = make([]any, len(keys))
		for j, k := range keys {
			v, err := ev.apply(k.by, s, x)
			if err != nil {
				return nil, err
			}
			vals[i][j] = v
		}
	}
	idx := make([]int, len(src))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for j, k := range keys {
			c := Compare(vals[idx[a]][j], vals[idx[b]][j])
			if k.desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	out := make([]any, len(src))
	for pos, i := range idx {
		out[pos] = src[i]
	}
	return out, nil
}

// match pairs every outer element with the inner elements whose key equals
// its key, in inner order. ms is nil when nothing matched.
func (ev *evaluator) match(outer, inner []any, outerKey, innerKey *expr.Lambda, s *scope, f func(o any, ms []any) error) error {
	innerKeys := make([][]any, len(inner))
	for i, x := range inner {
		k, err := ev.apply(innerKey, s, x)
		if err != nil {
			return err
		}
		innerKeys[i] = keyParts(k)
	}
	for _, o := range outer {
		k, err := ev.apply(outerKey, s, o)
		if err != nil {
			return err
		}
		parts := keyParts(k)
		var ms []any
		for i, x := range inner {
			if keysMatch(parts, innerKeys[i]) {
				ms = append(ms, x)
			}
		}
		if err := f(o, ms); err != nil {
			return err
		}
	}
	return nil
}

func (ev *evaluator) join(j *expr.Join, s *scope) (any, error) {
	outer, err := ev.seq(j.Outer, s)
	if err != nil {
		return nil, err
	}
	inner, err := ev.seq(j.Inner, s)
	if err != nil {
		return nil, err
	}
	out := []any{}
	err = ev.match(outer, inner, j.OuterKey, j.InnerKey, s, func(o any, ms []any) error {
		if ms == nil && j.Kind == expr.JoinLeft {
			ms = []any{nil}
		}
		for _, i := range ms {
			v, err := ev.apply(j.Result, s, o, i)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

type group struct {
	key   any
	elems []any
}

// groups partitions src by key in order of first appearance.
func (ev *evaluator) groups(src []any, by *expr.Lambda, s *scope) ([]*group, error) {
	var out []*group
	index := make(map[string]*group)
	for _, x := range src {
		k, err := ev.apply(by, s, x)
		if err != nil {
			return nil, err
		}
		ks := key(k)
		g, ok := index[ks]
		if !ok {
			g = &group{key: k}
			index[ks] = g
			out = append(out, g)
		}
		g.elems = append(g.elems, x)
	}
	return out, nil
}

func (ev *evaluator) groupBy(c *expr.Call, src []any, s *scope) (any, error) {
	by := lambdaArg(c, 1)
	var elem, result *expr.Lambda
	switch len(c.Args) {
	case 3:
		if l := lambdaArg(c, 2); len(l.Params) == 2 {
			result = l
		} else {
			elem = l
		}
	case 4:
		elem, result = lambdaArg(c, 2), lambdaArg(c, 3)
	}

	gs, err := ev.groups(src, by, s)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(gs))
	for _, g := range gs {
		elems := g.elems
		if elem != nil {
			if elems, err = ev.project(elems, elem, s); err != nil {
				return nil, err
			}
		}
		if result == nil {
			out = append(out, &Grouping{Key: g.key, Elems: elems})
			continue
		}
		v, err := ev.apply(result, s, g.key, elems)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (ev *evaluator) groupAggregate(n *expr.GroupAggregate, s *scope) (any, error) {
	src, err := ev.seq(n.Source, s)
	if err != nil {
		return nil, err
	}
	gs, err := ev.groups(src, n.Key, s)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(gs))
	for _, g := range gs {
		v, err := ev.apply(n.Result, s, g.key, g.elems)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// aggregate folds values into Sum, Min, Max or Average. Nulls are skipped.
// Over no values Sum is zero, and the others are null for a nullable
// result type and fail otherwise.
func aggregate(m expr.Method, t *expr.Type, vals []any) (any, error) {
	var present []any
	for _, v := range vals {
		if v != nil {
			present = append(present, v)
		}
	}

	if m == expr.MethodSum {
		if isFloating(t) {
			var sum float64
			for _, v := range present {
				f, _ := number(v)
				sum += f
			}
			return sum, nil
		}
		var sum int64
		for _, v := range present {
			i, _ := v.(int64)
			sum += i
		}
		return sum, nil
	}

	if len(present) == 0 {
		if t.Nullable {
			return nil, nil
		}
		return nil, ErrNoElements
	}
	switch m {
	case expr.MethodMin, expr.MethodMax:
		best := present[0]
		for _, v := range present[1:] {
			c := Compare(v, best)
			if (m == expr.MethodMin && c < 0) || (m == expr.MethodMax && c > 0) {
				best = v
			}
		}
		return best, nil
	case expr.MethodAverage:
		var sum float64
		for _, v := range present {
			f, _ := number(v)
			sum += f
		}
		return sum / float64(len(present)), nil
	}
	return nil, fmt.Errorf("%s is not an aggregate", m)
}

// pick implements First, Last and Single with their OrDefault variants.
func pick(m expr.Method, t *expr.Type, src []any) (any, error) {
	orDefault := m == expr.MethodFirstOrDefault || m == expr.MethodLastOrDefault ||
		m == expr.MethodSingleOrDefault
	if len(src) == 0 {
		if orDefault {
			return zero(t), nil
		}
		return nil, ErrNoElements
	}
	switch m {
	case expr.MethodLast, expr.MethodLastOrDefault:
		return src[len(src)-1], nil
	case expr.MethodSingle, expr.MethodSingleOrDefault:
		if len(src) > 1 {
			return nil, ErrMoreThanOneElement
		}
	}
	return src[0], nil
}
