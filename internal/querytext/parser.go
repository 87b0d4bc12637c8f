// Package querytext parses method-syntax query text into typed expression
// trees:
//
//	Orders.Where(o => o.Customer.City == "Berlin").Select(o => o.OrderID)
//
// The grammar, loosest binding first:
//
//	expr     := coalesce ('?' expr ':' expr)?
//	coalesce := or ('??' coalesce)?
//	or       := and ('||' and)*
//	and      := eq ('&&' eq)*
//	eq       := rel (('==' | '!=') rel)*
//	rel      := add (('<' | '<=' | '>' | '>=') add)*
//	add      := mul (('+' | '-') mul)*
//	mul      := unary (('*' | '/') unary)*
//	unary    := ('!' | '-') unary | '(' TYPE ')' unary | postfix
//	postfix  := primary ('.' ID call?)*
//	call     := '(' (arg (',' arg)*)? ')'
//	arg      := lambda | expr
//	lambda   := (ID | '(' ID (',' ID)* ')') '=>' expr
//	primary  := literal | ID | '(' expr ')' | record | 'datetime' '(' STR ')'
//	record   := 'new' '<>'? '{' (field (',' field)*)? '}'
//	field    := ID '=' expr | expr
//
// Root identifiers name tables of the model. Lambda parameter types are
// inferred from the method receiving the lambda, so the text type-checks as
// it is parsed.
package querytext

import (
	"fmt"
	"time"

	"github.com/roach88/navsql/internal/expr"
	"github.com/roach88/navsql/internal/schema"
)

// Parse parses and type-checks one query against m.
func Parse(src string, m *schema.Model) (expr.Expr, error) {
	toks, err := Lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{model: m, toks: toks, nulls: map[*expr.Constant]bool{}}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Kind != TkEOF {
		return nil, p.syntaxErr(tok, "unexpected %s after expression", tok)
	}
	if err := p.checkNulls(e); err != nil {
		return nil, err
	}
	return e, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or with query text known to be valid.
func MustParse(src string, m *schema.Model) expr.Expr {
	e, err := Parse(src, m)
	if err != nil {
		panic(fmt.Sprintf("querytext: %q: %v", src, err))
	}
	return e
}

type parser struct {
	model *schema.Model
	toks  []Token
	pos   int
	scope []*expr.Parameter

	// nulls holds null literals whose type is not known yet. They take the
	// type of the operand they are compared or combined with.
	nulls map[*expr.Constant]bool
}

var untypedNull = expr.NullableOf(expr.ScalarOf(expr.Int))

func (p *parser) peek() Token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) Token {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) advance() Token {
	tok := p.toks[p.pos]
	if tok.Kind != TkEOF {
		p.pos++
	}
	return tok
}

func (p *parser) accept(kind int) bool {
	if p.peek().Kind == kind {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(kind int) (Token, error) {
	tok := p.peek()
	if tok.Kind != kind {
		return tok, p.syntaxErr(tok, "expected %s, found %s", tokenNames[kind], tok)
	}
	return p.advance(), nil
}

func (p *parser) syntaxErr(tok Token, format string, args ...any) error {
	return &SyntaxError{Pos: tok.Pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) typeErr(pos int, format string, args ...any) error {
	return &TypeError{Pos: pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) isUntypedNull(e expr.Expr) bool {
	c, ok := e.(*expr.Constant)
	return ok && p.nulls[c]
}

// unify gives an untyped null the type of the other operand.
func (p *parser) unify(l, r expr.Expr, pos int) (expr.Expr, expr.Expr, error) {
	ln, rn := p.isUntypedNull(l), p.isUntypedNull(r)
	switch {
	case ln && rn:
		return nil, nil, p.typeErr(pos, "cannot infer the type of null")
	case ln:
		l = expr.Null(expr.NullableOf(r.Type()))
	case rn:
		r = expr.Null(expr.NullableOf(l.Type()))
	}
	return l, r, nil
}

func (p *parser) checkNulls(e expr.Expr) error {
	var err error
	expr.Walk(e, func(n expr.Expr) bool {
		if err == nil && p.isUntypedNull(n) {
			err = p.typeErr(0, "cannot infer the type of null")
		}
		return err == nil
	})
	return err
}

func (p *parser) parseExpr() (expr.Expr, error) {
	test, err := p.parseCoalesce()
	if err != nil {
		return nil, err
	}
	tok := p.peek()
	if !p.accept(TkQuestion) {
		return test, nil
	}
	then, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TkColon); err != nil {
		return nil, err
	}
	els, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	if t := test.Type(); !t.IsScalar() || t.Name != expr.Bool {
		return nil, p.typeErr(tok.Pos, "condition must be bool, got %s", t)
	}
	if then, els, err = p.unify(then, els, tok.Pos); err != nil {
		return nil, err
	}
	tt, et := then.Type(), els.Type()
	switch {
	case tt.Equal(et):
	case expr.Assignable(tt, et):
		then = expr.Convert(then, et)
	case expr.Assignable(et, tt):
		els = expr.Convert(els, tt)
	default:
		return nil, p.typeErr(tok.Pos, "conditional branches differ: %s and %s", tt, et)
	}
	return expr.Cond(test, then, els), nil
}

func (p *parser) parseCoalesce() (expr.Expr, error) {
	l, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	tok := p.peek()
	if !p.accept(TkCoalesce) {
		return l, nil
	}
	r, err := p.parseCoalesce()
	if err != nil {
		return nil, err
	}
	return p.binary(expr.OpCoalesce, l, r, tok.Pos)
}

// binaryLevels lists operators by increasing binding strength.
var binaryLevels = [][]struct {
	tok int
	op  expr.BinaryOp
}{
	{{TkOr, expr.OpOr}},
	{{TkAnd, expr.OpAnd}},
	{{TkEq, expr.OpEq}, {TkNe, expr.OpNe}},
	{{TkLt, expr.OpLt}, {TkLe, expr.OpLe}, {TkGt, expr.OpGt}, {TkGe, expr.OpGe}},
	{{TkAdd, expr.OpAdd}, {TkSub, expr.OpSub}},
	{{TkMul, expr.OpMul}, {TkDiv, expr.OpDiv}},
}

func (p *parser) parseBinary(level int) (expr.Expr, error) {
	if level == len(binaryLevels) {
		return p.parseUnary()
	}
	l, err := p.parseBinary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		matched := false
		for _, cand := range binaryLevels[level] {
			if tok.Kind != cand.tok {
				continue
			}
			matched = true
			p.advance()
			r, err := p.parseBinary(level + 1)
			if err != nil {
				return nil, err
			}
			if l, err = p.binary(cand.op, l, r, tok.Pos); err != nil {
				return nil, err
			}
			break
		}
		if !matched {
			return l, nil
		}
	}
}

func (p *parser) binary(op expr.BinaryOp, l, r expr.Expr, pos int) (expr.Expr, error) {
	l, r, err := p.unify(l, r, pos)
	if err != nil {
		return nil, err
	}
	b, err := expr.NewBinary(op, l, r)
	if err != nil {
		return nil, p.typeErr(pos, "%v", err)
	}
	return b, nil
}

func (p *parser) parseUnary() (expr.Expr, error) {
	tok := p.peek()
	switch tok.Kind {
	case TkNot:
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		u, err := expr.NewUnary(expr.OpNot, x)
		if err != nil {
			return nil, p.typeErr(tok.Pos, "%v", err)
		}
		return u, nil

	case TkSub:
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if c, ok := x.(*expr.Constant); ok {
			switch v := c.Value.(type) {
			case int64:
				return expr.Const(-v, c.T), nil
			case float64:
				return expr.Const(-v, c.T), nil
			}
		}
		u, err := expr.NewUnary(expr.OpNegate, x)
		if err != nil {
			return nil, p.typeErr(tok.Pos, "%v", err)
		}
		return u, nil

	case TkLPar:
		if t, n, ok := p.castAhead(); ok {
			p.pos += n
			x, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			if p.isUntypedNull(x) {
				return expr.Null(t), nil
			}
			if !expr.Assignable(x.Type(), t) && !expr.Assignable(t, x.Type()) &&
				!(x.Type().IsNumeric() && t.IsNumeric()) {
				return nil, p.typeErr(tok.Pos, "cannot convert %s to %s", x.Type(), t)
			}
			return expr.Convert(x, t), nil
		}
	}
	return p.parsePostfix()
}

// castAhead recognizes '(' TYPE '?'? ')' and returns the type and the
// number of tokens it spans.
func (p *parser) castAhead() (*expr.Type, int, bool) {
	name := p.peekAt(1)
	if name.Kind != TkIdent || !expr.IsScalarName(name.Text) || p.lookup(name.Text) != nil {
		return nil, 0, false
	}
	t := expr.ScalarOf(name.Text)
	n := 2
	if p.peekAt(n).Kind == TkQuestion {
		t = expr.NullableOf(t)
		n++
	}
	if p.peekAt(n).Kind != TkRPar {
		return nil, 0, false
	}
	return t, n + 1, true
}

func (p *parser) parsePostfix() (expr.Expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.accept(TkDot) {
		name, err := p.expect(TkIdent)
		if err != nil {
			return nil, err
		}
		if p.peek().Kind == TkLPar {
			if x, err = p.parseCall(x, name); err != nil {
				return nil, err
			}
			continue
		}
		m, err := expr.NewMember(x, name.Text)
		if err != nil {
			return nil, p.typeErr(name.Pos, "%v", err)
		}
		x = m
	}
	return x, nil
}

func (p *parser) lookup(name string) *expr.Parameter {
	for i := len(p.scope) - 1; i >= 0; i-- {
		if p.scope[i].Name == name {
			return p.scope[i]
		}
	}
	return nil
}

func (p *parser) parsePrimary() (expr.Expr, error) {
	tok := p.advance()
	switch tok.Kind {
	case TkInt:
		return expr.Const(tok.Int, expr.ScalarOf(expr.Int)), nil
	case TkLong:
		return expr.Const(tok.Int, expr.ScalarOf(expr.Long)), nil
	case TkDouble:
		return expr.Const(tok.Real, expr.ScalarOf(expr.Double)), nil
	case TkFloat:
		return expr.Const(tok.Real, expr.ScalarOf(expr.Float)), nil
	case TkDecimal:
		return expr.Const(tok.Real, expr.ScalarOf(expr.Decimal)), nil
	case TkString:
		return expr.Const(tok.Text, expr.ScalarOf(expr.String)), nil
	case TkTrue:
		return expr.Const(true, expr.ScalarOf(expr.Bool)), nil
	case TkFalse:
		return expr.Const(false, expr.ScalarOf(expr.Bool)), nil
	case TkNull:
		c := expr.Null(untypedNull)
		p.nulls[c] = true
		return c, nil
	case TkNew:
		return p.parseRecord(tok)
	case TkLPar:
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TkRPar); err != nil {
			return nil, err
		}
		return e, nil
	case TkIdent:
		if p.peek().Kind == TkArrow {
			return nil, p.syntaxErr(tok, "lambda is only allowed as a method argument")
		}
		if param := p.lookup(tok.Text); param != nil {
			return param, nil
		}
		if tok.Text == "datetime" && p.peek().Kind == TkLPar {
			return p.parseDateTime(tok)
		}
		if p.model != nil {
			if src, ok := p.model.Root(tok.Text); ok {
				return src, nil
			}
		}
		return nil, p.typeErr(tok.Pos, "unknown identifier %q", tok.Text)
	}
	return nil, p.syntaxErr(tok, "unexpected %s", tok)
}

func (p *parser) parseDateTime(tok Token) (expr.Expr, error) {
	p.advance()
	s, err := p.expect(TkString)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TkRPar); err != nil {
		return nil, err
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if v, err := time.Parse(layout, s.Text); err == nil {
			return expr.Const(v.UTC(), expr.ScalarOf(expr.DateTime)), nil
		}
	}
	return nil, p.typeErr(s.Pos, "bad datetime %q", s.Text)
}

func (p *parser) parseRecord(tok Token) (expr.Expr, error) {
	transparent := p.accept(TkDiamond)
	if _, err := p.expect(TkLBra); err != nil {
		return nil, err
	}
	var names []string
	var args []expr.Expr
	seen := map[string]bool{}
	for p.peek().Kind != TkRBra {
		if len(args) > 0 {
			if _, err := p.expect(TkComma); err != nil {
				return nil, err
			}
		}
		start := p.peek()
		var name string
		if start.Kind == TkIdent && p.peekAt(1).Kind == TkAssign {
			name = start.Text
			p.pos += 2
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if name == "" {
			switch x := v.(type) {
			case *expr.Member:
				name = x.Name
			case *expr.Parameter:
				name = x.Name
			default:
				return nil, p.syntaxErr(start, "record field needs a name")
			}
		}
		if seen[name] {
			return nil, p.typeErr(start.Pos, "duplicate record field %q", name)
		}
		if p.isUntypedNull(v) {
			return nil, p.typeErr(start.Pos, "cannot infer the type of null for field %q", name)
		}
		seen[name] = true
		names = append(names, name)
		args = append(args, v)
	}
	p.advance()
	return expr.NewRecord(names, args, transparent), nil
}

func (p *parser) parseCall(recv expr.Expr, name Token) (expr.Expr, error) {
	m, ok := expr.LookupMethod(name.Text)
	if !ok {
		return nil, p.typeErr(name.Pos, "unknown method %q", name.Text)
	}
	if m != expr.MethodEquals && !recv.Type().IsSequence() {
		return nil, p.typeErr(name.Pos, "%s needs a sequence, got %s", m, recv.Type())
	}
	if _, err := p.expect(TkLPar); err != nil {
		return nil, err
	}
	args := []expr.Expr{recv}
	for p.peek().Kind != TkRPar {
		if len(args) > 1 {
			if _, err := p.expect(TkComma); err != nil {
				return nil, err
			}
		}
		a, err := p.parseArg(m, args)
		if err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	p.advance()

	switch m {
	case expr.MethodEquals:
		if len(args) == 2 {
			l, r, err := p.unify(args[0], args[1], name.Pos)
			if err != nil {
				return nil, err
			}
			args = []expr.Expr{l, r}
		}
	case expr.MethodContains:
		if len(args) == 2 && p.isUntypedNull(args[1]) {
			args[1] = expr.Null(expr.NullableOf(recv.Type().Elem))
		}
	}

	c, err := expr.NewCall(m, args...)
	if err != nil {
		return nil, p.typeErr(name.Pos, "%v", err)
	}
	return c, nil
}

// lambdaAhead reports whether a lambda starts at the current token and
// returns its parameter names.
func (p *parser) lambdaAhead() ([]Token, int, bool) {
	if p.peek().Kind == TkIdent && p.peekAt(1).Kind == TkArrow {
		return []Token{p.peek()}, 2, true
	}
	if p.peek().Kind != TkLPar {
		return nil, 0, false
	}
	var names []Token
	n := 1
	for {
		tok := p.peekAt(n)
		if tok.Kind != TkIdent {
			return nil, 0, false
		}
		names = append(names, tok)
		n++
		switch p.peekAt(n).Kind {
		case TkComma:
			n++
			continue
		case TkRPar:
			if p.peekAt(n+1).Kind != TkArrow {
				return nil, 0, false
			}
			return names, n + 2, true
		}
		return nil, 0, false
	}
}

func (p *parser) parseArg(m expr.Method, prev []expr.Expr) (expr.Expr, error) {
	names, n, ok := p.lambdaAhead()
	if !ok {
		return p.parseExpr()
	}
	start := p.peek()
	types, err := lambdaParams(m, prev, len(names))
	if err != nil {
		return nil, p.typeErr(start.Pos, "%s: %v", m, err)
	}
	p.pos += n

	params := make([]*expr.Parameter, len(names))
	for i, tok := range names {
		params[i] = expr.NewParam(tok.Text, types[i])
	}
	depth := len(p.scope)
	p.scope = append(p.scope, params...)
	body, err := p.parseExpr()
	p.scope = p.scope[:depth]
	if err != nil {
		return nil, err
	}
	if p.isUntypedNull(body) {
		return nil, p.typeErr(start.Pos, "cannot infer the type of null lambda body")
	}
	return expr.NewLambda(body, params...), nil
}

// lambdaParams returns the parameter types of the lambda passed as argument
// len(prev) of method m.
func lambdaParams(m expr.Method, prev []expr.Expr, arity int) ([]*expr.Type, error) {
	i := len(prev)
	elem := prev[0].Type().Elem
	want := func(n int, types ...*expr.Type) ([]*expr.Type, error) {
		if arity != n {
			return nil, fmt.Errorf("argument %d: expected a %d-parameter lambda", i, n)
		}
		return types, nil
	}
	innerElem := func() (*expr.Type, error) {
		t := prev[1].Type()
		if !t.IsSequence() {
			return nil, fmt.Errorf("argument 1 must be a sequence, got %s", t)
		}
		return t.Elem, nil
	}
	lambdaBody := func(j int) (*expr.Type, error) {
		l, ok := prev[j].(*expr.Lambda)
		if !ok {
			return nil, fmt.Errorf("argument %d must be a lambda", j)
		}
		return l.Body.Type(), nil
	}

	switch m {
	case expr.MethodWhere, expr.MethodSelect, expr.MethodOrderBy, expr.MethodOrderByDescending,
		expr.MethodThenBy, expr.MethodThenByDescending, expr.MethodSkipWhile, expr.MethodTakeWhile,
		expr.MethodCount, expr.MethodLongCount, expr.MethodAny, expr.MethodAll,
		expr.MethodSum, expr.MethodMin, expr.MethodMax, expr.MethodAverage,
		expr.MethodFirst, expr.MethodFirstOrDefault, expr.MethodLast, expr.MethodLastOrDefault,
		expr.MethodSingle, expr.MethodSingleOrDefault:
		if i == 1 {
			return want(1, elem)
		}

	case expr.MethodSelectMany:
		switch i {
		case 1:
			return want(1, elem)
		case 2:
			ct, err := lambdaBody(1)
			if err != nil {
				return nil, err
			}
			if !ct.IsSequence() {
				return nil, fmt.Errorf("collection selector must return a sequence, got %s", ct)
			}
			return want(2, elem, ct.Elem)
		}

	case expr.MethodJoin, expr.MethodGroupJoin:
		inner, err := innerElem()
		if err != nil {
			return nil, err
		}
		switch i {
		case 2:
			return want(1, elem)
		case 3:
			return want(1, inner)
		case 4:
			if m == expr.MethodGroupJoin {
				return want(2, elem, expr.SequenceOf(inner))
			}
			return want(2, elem, inner)
		}

	case expr.MethodGroupBy:
		switch i {
		case 1:
			return want(1, elem)
		case 2:
			kt, err := lambdaBody(1)
			if err != nil {
				return nil, err
			}
			if arity == 1 {
				return want(1, elem)
			}
			return want(2, kt, expr.SequenceOf(elem))
		case 3:
			kt, err := lambdaBody(1)
			if err != nil {
				return nil, err
			}
			et, err := lambdaBody(2)
			if err != nil {
				return nil, err
			}
			return want(2, kt, expr.SequenceOf(et))
		}

	case expr.MethodZip:
		if i == 2 {
			second, err := innerElem()
			if err != nil {
				return nil, err
			}
			return want(2, elem, second)
		}
	}
	return nil, fmt.Errorf("argument %d does not take a lambda", i)
}
