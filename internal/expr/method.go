package expr

import "fmt"

// Method identifies a query method applied by a Call.
type Method uint8

const (
	MethodWhere Method = iota + 1
	MethodSelect
	MethodSelectMany
	MethodJoin
	MethodGroupJoin
	MethodGroupBy
	MethodOrderBy
	MethodOrderByDescending
	MethodThenBy
	MethodThenByDescending
	MethodSkip
	MethodTake
	MethodSkipWhile
	MethodTakeWhile
	MethodZip
	MethodDefaultIfEmpty
	MethodDistinct
	MethodCount
	MethodLongCount
	MethodSum
	MethodMin
	MethodMax
	MethodAverage
	MethodFirst
	MethodFirstOrDefault
	MethodLast
	MethodLastOrDefault
	MethodSingle
	MethodSingleOrDefault
	MethodAny
	MethodAll
	MethodContains
	MethodEquals
)

type methodInfo struct {
	name    string
	minArgs int
	maxArgs int
}

var methods = map[Method]methodInfo{
	MethodWhere:             {"Where", 2, 2},
	MethodSelect:            {"Select", 2, 2},
	MethodSelectMany:        {"SelectMany", 2, 3},
	MethodJoin:              {"Join", 5, 5},
	MethodGroupJoin:         {"GroupJoin", 5, 5},
	MethodGroupBy:           {"GroupBy", 2, 4},
	MethodOrderBy:           {"OrderBy", 2, 2},
	MethodOrderByDescending: {"OrderByDescending", 2, 2},
	MethodThenBy:            {"ThenBy", 2, 2},
	MethodThenByDescending:  {"ThenByDescending", 2, 2},
	MethodSkip:              {"Skip", 2, 2},
	MethodTake:              {"Take", 2, 2},
	MethodSkipWhile:         {"SkipWhile", 2, 2},
	MethodTakeWhile:         {"TakeWhile", 2, 2},
	MethodZip:               {"Zip", 3, 3},
	MethodDefaultIfEmpty:    {"DefaultIfEmpty", 1, 1},
	MethodDistinct:          {"Distinct", 1, 1},
	MethodCount:             {"Count", 1, 2},
	MethodLongCount:         {"LongCount", 1, 2},
	MethodSum:               {"Sum", 1, 2},
	MethodMin:               {"Min", 1, 2},
	MethodMax:               {"Max", 1, 2},
	MethodAverage:           {"Average", 1, 2},
	MethodFirst:             {"First", 1, 2},
	MethodFirstOrDefault:    {"FirstOrDefault", 1, 2},
	MethodLast:              {"Last", 1, 2},
	MethodLastOrDefault:     {"LastOrDefault", 1, 2},
	MethodSingle:            {"Single", 1, 2},
	MethodSingleOrDefault:   {"SingleOrDefault", 1, 2},
	MethodAny:               {"Any", 1, 2},
	MethodAll:               {"All", 2, 2},
	MethodContains:          {"Contains", 2, 2},
	MethodEquals:            {"Equals", 2, 2},
}

var methodsByName = func() map[string]Method {
	m := make(map[string]Method, len(methods))
	for k, v := range methods {
		m[v.name] = k
	}
	return m
}()

func (m Method) String() string {
	if info, ok := methods[m]; ok {
		return info.name
	}
	return fmt.Sprintf("Method(%d)", uint8(m))
}

// LookupMethod resolves a method by its name.
func LookupMethod(name string) (Method, bool) {
	m, ok := methodsByName[name]
	return m, ok
}

// IsAggregate reports whether m folds a sequence into one numeric value.
func (m Method) IsAggregate() bool {
	switch m {
	case MethodCount, MethodLongCount, MethodSum, MethodMin, MethodMax, MethodAverage:
		return true
	}
	return false
}

// IsSingleResult reports whether m returns one element of its receiver.
func (m Method) IsSingleResult() bool {
	switch m {
	case MethodFirst, MethodFirstOrDefault, MethodLast, MethodLastOrDefault,
		MethodSingle, MethodSingleOrDefault:
		return true
	}
	return false
}

// IsTerminal reports whether m produces a single value rather than a
// sequence.
func (m Method) IsTerminal() bool {
	switch m {
	case MethodAny, MethodAll, MethodContains, MethodEquals:
		return true
	}
	return m.IsAggregate() || m.IsSingleResult()
}

// IsOrdering reports whether m is one of the OrderBy/ThenBy family.
func (m Method) IsOrdering() bool {
	switch m {
	case MethodOrderBy, MethodOrderByDescending, MethodThenBy, MethodThenByDescending:
		return true
	}
	return false
}

// PreservesElements reports whether m returns a subset or reordering of its
// receiver's elements, unchanged.
func (m Method) PreservesElements() bool {
	switch m {
	case MethodWhere, MethodSkip, MethodTake, MethodSkipWhile, MethodTakeWhile,
		MethodDistinct:
		return true
	}
	return m.IsOrdering()
}

// NewCall type-checks a method application and computes its result type.
func NewCall(m Method, args ...Expr) (*Call, error) {
	info, ok := methods[m]
	if !ok {
		return nil, fmt.Errorf("unknown method %d", m)
	}
	if len(args) < info.minArgs || len(args) > info.maxArgs {
		return nil, fmt.Errorf("%s: expected %d..%d arguments, got %d", info.name, info.minArgs-1, info.maxArgs-1, len(args)-1)
	}
	for i, a := range args {
		if a == nil {
			return nil, fmt.Errorf("%s: argument %d is nil", info.name, i)
		}
	}
	t, err := callType(m, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", info.name, err)
	}
	return &Call{Method: m, Args: args, T: t}, nil
}

// CallOf is like NewCall but panics on a type error. Rewrite passes use it
// for nodes whose shape they have already established.
func CallOf(m Method, args ...Expr) *Call {
	c, err := NewCall(m, args...)
	if err != nil {
		panic(fmt.Sprintf("expr: %v", err))
	}
	return c
}

func callType(m Method, args []Expr) (*Type, error) {
	if m == MethodEquals {
		return boolType, nil
	}
	recv := args[0].Type()
	if !recv.IsSequence() {
		return nil, fmt.Errorf("receiver is not a sequence: %s", recv)
	}
	elem := recv.Elem

	lambda := func(i, arity int) (*Lambda, error) {
		l, ok := args[i].(*Lambda)
		if !ok {
			return nil, fmt.Errorf("argument %d must be a lambda", i)
		}
		if len(l.Params) != arity {
			return nil, fmt.Errorf("argument %d: expected %d lambda parameters, got %d", i, arity, len(l.Params))
		}
		return l, nil
	}
	predicate := func(i int) error {
		l, err := lambda(i, 1)
		if err != nil {
			return err
		}
		if t := l.Body.Type(); !t.IsScalar() || t.Name != Bool {
			return fmt.Errorf("predicate must return bool, got %s", t)
		}
		return nil
	}
	// projected returns the element type after an optional selector.
	projected := func() (*Type, error) {
		if len(args) == 1 {
			return elem, nil
		}
		l, err := lambda(1, 1)
		if err != nil {
			return nil, err
		}
		return l.Body.Type(), nil
	}

	switch m {
	case MethodWhere, MethodSkipWhile, MethodTakeWhile:
		if err := predicate(1); err != nil {
			return nil, err
		}
		return SequenceOf(elem), nil

	case MethodSelect:
		l, err := lambda(1, 1)
		if err != nil {
			return nil, err
		}
		return SequenceOf(l.Body.Type()), nil

	case MethodSelectMany:
		coll, err := lambda(1, 1)
		if err != nil {
			return nil, err
		}
		ct := coll.Body.Type()
		if !ct.IsSequence() {
			return nil, fmt.Errorf("collection selector must return a sequence, got %s", ct)
		}
		if len(args) == 2 {
			return SequenceOf(ct.Elem), nil
		}
		res, err := lambda(2, 2)
		if err != nil {
			return nil, err
		}
		return SequenceOf(res.Body.Type()), nil

	case MethodJoin, MethodGroupJoin:
		if !args[1].Type().IsSequence() {
			return nil, fmt.Errorf("inner is not a sequence: %s", args[1].Type())
		}
		ok, err := lambda(2, 1)
		if err != nil {
			return nil, err
		}
		ik, err := lambda(3, 1)
		if err != nil {
			return nil, err
		}
		if !Comparable(ok.Body.Type(), ik.Body.Type()) {
			return nil, fmt.Errorf("key types differ: %s vs %s", ok.Body.Type(), ik.Body.Type())
		}
		res, err := lambda(4, 2)
		if err != nil {
			return nil, err
		}
		return SequenceOf(res.Body.Type()), nil

	case MethodGroupBy:
		key, err := lambda(1, 1)
		if err != nil {
			return nil, err
		}
		kt := key.Body.Type()
		switch len(args) {
		case 2:
			return SequenceOf(GroupingOf(kt, elem)), nil
		case 3:
			l, ok := args[2].(*Lambda)
			if !ok {
				return nil, fmt.Errorf("argument 2 must be a lambda")
			}
			switch len(l.Params) {
			case 1:
				return SequenceOf(GroupingOf(kt, l.Body.Type())), nil
			case 2:
				return SequenceOf(l.Body.Type()), nil
			}
			return nil, fmt.Errorf("argument 2: expected 1 or 2 lambda parameters")
		default:
			if _, err := lambda(2, 1); err != nil {
				return nil, err
			}
			res, err := lambda(3, 2)
			if err != nil {
				return nil, err
			}
			return SequenceOf(res.Body.Type()), nil
		}

	case MethodOrderBy, MethodOrderByDescending, MethodThenBy, MethodThenByDescending:
		if _, err := lambda(1, 1); err != nil {
			return nil, err
		}
		return SequenceOf(elem), nil

	case MethodSkip, MethodTake:
		if t := args[1].Type(); !t.IsScalar() || t.Name != Int {
			return nil, fmt.Errorf("count must be int, got %s", t)
		}
		return SequenceOf(elem), nil

	case MethodZip:
		if !args[1].Type().IsSequence() {
			return nil, fmt.Errorf("second is not a sequence: %s", args[1].Type())
		}
		res, err := lambda(2, 2)
		if err != nil {
			return nil, err
		}
		return SequenceOf(res.Body.Type()), nil

	case MethodDefaultIfEmpty, MethodDistinct:
		return SequenceOf(elem), nil

	case MethodCount, MethodLongCount, MethodAny:
		if len(args) == 2 {
			if err := predicate(1); err != nil {
				return nil, err
			}
		}
		switch m {
		case MethodCount:
			return ScalarOf(Int), nil
		case MethodLongCount:
			return longType, nil
		}
		return boolType, nil

	case MethodAll:
		if err := predicate(1); err != nil {
			return nil, err
		}
		return boolType, nil

	case MethodContains:
		return boolType, nil

	case MethodSum, MethodMin, MethodMax, MethodAverage:
		t, err := projected()
		if err != nil {
			return nil, err
		}
		return AggregateType(m, t)

	case MethodFirst, MethodFirstOrDefault, MethodLast, MethodLastOrDefault,
		MethodSingle, MethodSingleOrDefault:
		if len(args) == 2 {
			if err := predicate(1); err != nil {
				return nil, err
			}
		}
		return elem, nil
	}
	return nil, fmt.Errorf("no typing rule")
}

// AggregateType returns the result type of Sum, Min, Max or Average over
// values of type t.
//
// Sum keeps the element type and requires a number. Min and Max keep the
// element type. Average promotes int and long to double and keeps float,
// double and decimal; nullability carries over in every case.
func AggregateType(m Method, t *Type) (*Type, error) {
	switch m {
	case MethodMin, MethodMax:
		if !t.IsScalar() {
			return nil, fmt.Errorf("cannot aggregate %s", t)
		}
		return t, nil
	case MethodSum:
		if !t.IsNumeric() {
			return nil, fmt.Errorf("cannot sum %s", t)
		}
		return t, nil
	case MethodAverage:
		if !t.IsNumeric() {
			return nil, fmt.Errorf("cannot average %s", t)
		}
		switch t.Name {
		case Int, Long:
			r := ScalarOf(Double)
			if t.Nullable {
				r = NullableOf(r)
			}
			return r, nil
		}
		return t, nil
	}
	return nil, fmt.Errorf("%s is not a numeric aggregate", m)
}
