package querytext

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token kinds.
const (
	TkEOF = iota
	TkIdent
	TkInt
	TkLong
	TkDouble
	TkFloat
	TkDecimal
	TkString
	TkTrue
	TkFalse
	TkNull
	TkNew

	TkDot
	TkComma
	TkLPar
	TkRPar
	TkLBra
	TkRBra
	TkArrow    // =>
	TkAssign   // =
	TkQuestion // ?
	TkColon
	TkCoalesce // ??
	TkDiamond  // <>

	TkAdd
	TkSub
	TkMul
	TkDiv
	TkNot
	TkAnd
	TkOr
	TkEq
	TkNe
	TkLt
	TkLe
	TkGt
	TkGe
)

var tokenNames = map[int]string{
	TkEOF: "end of input", TkIdent: "identifier", TkInt: "integer", TkLong: "long",
	TkDouble: "double", TkFloat: "float", TkDecimal: "decimal", TkString: "string",
	TkTrue: "true", TkFalse: "false", TkNull: "null", TkNew: "new",
	TkDot: "'.'", TkComma: "','", TkLPar: "'('", TkRPar: "')'", TkLBra: "'{'",
	TkRBra: "'}'", TkArrow: "'=>'", TkAssign: "'='", TkQuestion: "'?'",
	TkColon: "':'", TkCoalesce: "'??'", TkDiamond: "'<>'",
	TkAdd: "'+'", TkSub: "'-'", TkMul: "'*'", TkDiv: "'/'", TkNot: "'!'",
	TkAnd: "'&&'", TkOr: "'||'", TkEq: "'=='", TkNe: "'!='", TkLt: "'<'",
	TkLe: "'<='", TkGt: "'>'", TkGe: "'>='",
}

var keywords = map[string]int{
	"true":  TkTrue,
	"false": TkFalse,
	"null":  TkNull,
	"new":   TkNew,
}

// Token is one lexeme with its byte offset.
type Token struct {
	Kind int
	Pos  int
	Text string
	Int  int64
	Real float64
}

func (t Token) String() string {
	if t.Kind == TkIdent || t.Kind == TkString {
		return fmt.Sprintf("%s %q", tokenNames[t.Kind], t.Text)
	}
	return tokenNames[t.Kind]
}

// Lex splits src into tokens. The last token is always TkEOF.
func Lex(src string) ([]Token, error) {
	l := &lexer{src: src}
	var out []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.Kind == TkEOF {
			return out, nil
		}
	}
}

type lexer struct {
	src    string
	cursor int
}

func (l *lexer) peek(off int) byte {
	if l.cursor+off < len(l.src) {
		return l.src[l.cursor+off]
	}
	return 0
}

func (l *lexer) errorf(pos int, format string, args ...any) error {
	return &SyntaxError{Pos: pos, Message: fmt.Sprintf(format, args...)}
}

func (l *lexer) next() (Token, error) {
	for l.cursor < len(l.src) {
		r, sz := utf8.DecodeRuneInString(l.src[l.cursor:])
		if r == utf8.RuneError && sz == 1 {
			return Token{}, l.errorf(l.cursor, "invalid utf8 character")
		}
		if !unicode.IsSpace(r) {
			break
		}
		l.cursor += sz
	}
	start := l.cursor
	if start == len(l.src) {
		return Token{Kind: TkEOF, Pos: start}, nil
	}

	yield := func(kind, size int) (Token, error) {
		l.cursor += size
		return Token{Kind: kind, Pos: start, Text: l.src[start:l.cursor]}, nil
	}

	c := l.src[start]
	switch {
	case c == '"':
		return l.lexString()
	case c >= '0' && c <= '9':
		return l.lexNumber()
	case c == '_' || c == '$' || c >= utf8.RuneSelf || unicode.IsLetter(rune(c)):
		return l.lexIdent()
	}

	switch c {
	case '.':
		return yield(TkDot, 1)
	case ',':
		return yield(TkComma, 1)
	case '(':
		return yield(TkLPar, 1)
	case ')':
		return yield(TkRPar, 1)
	case '{':
		return yield(TkLBra, 1)
	case '}':
		return yield(TkRBra, 1)
	case ':':
		return yield(TkColon, 1)
	case '+':
		return yield(TkAdd, 1)
	case '-':
		return yield(TkSub, 1)
	case '*':
		return yield(TkMul, 1)
	case '/':
		return yield(TkDiv, 1)
	case '?':
		if l.peek(1) == '?' {
			return yield(TkCoalesce, 2)
		}
		return yield(TkQuestion, 1)
	case '=':
		switch l.peek(1) {
		case '>':
			return yield(TkArrow, 2)
		case '=':
			return yield(TkEq, 2)
		}
		return yield(TkAssign, 1)
	case '!':
		if l.peek(1) == '=' {
			return yield(TkNe, 2)
		}
		return yield(TkNot, 1)
	case '<':
		switch l.peek(1) {
		case '=':
			return yield(TkLe, 2)
		case '>':
			return yield(TkDiamond, 2)
		}
		return yield(TkLt, 1)
	case '>':
		if l.peek(1) == '=' {
			return yield(TkGe, 2)
		}
		return yield(TkGt, 1)
	case '&':
		if l.peek(1) == '&' {
			return yield(TkAnd, 2)
		}
	case '|':
		if l.peek(1) == '|' {
			return yield(TkOr, 2)
		}
	}
	return Token{}, l.errorf(start, "unexpected character %q", c)
}

func (l *lexer) lexIdent() (Token, error) {
	start := l.cursor
	for l.cursor < len(l.src) {
		r, sz := utf8.DecodeRuneInString(l.src[l.cursor:])
		if r != '_' && r != '$' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		l.cursor += sz
	}
	text := l.src[start:l.cursor]
	if kind, ok := keywords[text]; ok {
		return Token{Kind: kind, Pos: start, Text: text}, nil
	}
	return Token{Kind: TkIdent, Pos: start, Text: text}, nil
}

// lexNumber reads an integer or real literal. Suffixes select the type:
// L long, m decimal, f float. A real without suffix is a double.
func (l *lexer) lexNumber() (Token, error) {
	start := l.cursor
	isReal := false
	for l.cursor < len(l.src) {
		c := l.src[l.cursor]
		switch {
		case c >= '0' && c <= '9':
		case c == '.' && !isReal && l.peek(1) >= '0' && l.peek(1) <= '9':
			isReal = true
		case (c == 'e' || c == 'E') && l.cursor > start:
			isReal = true
			if n := l.peek(1); n == '+' || n == '-' {
				l.cursor++
			}
		default:
			goto done
		}
		l.cursor++
	}
done:
	text := l.src[start:l.cursor]
	kind := TkInt
	if isReal {
		kind = TkDouble
	}
	switch l.peek(0) {
	case 'L':
		if isReal {
			return Token{}, l.errorf(start, "long literal %q has a fraction", text)
		}
		kind = TkLong
		l.cursor++
	case 'm', 'M':
		kind = TkDecimal
		l.cursor++
	case 'f', 'F':
		kind = TkFloat
		l.cursor++
	}

	tok := Token{Kind: kind, Pos: start, Text: l.src[start:l.cursor]}
	if kind == TkInt || kind == TkLong {
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Token{}, l.errorf(start, "bad integer %q: %v", text, err)
		}
		tok.Int = v
		return tok, nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Token{}, l.errorf(start, "bad number %q: %v", text, err)
	}
	tok.Real = v
	return tok, nil
}

func (l *lexer) lexString() (Token, error) {
	start := l.cursor
	var b strings.Builder
	l.cursor++
	for {
		if l.cursor >= len(l.src) {
			return Token{}, l.errorf(start, "string literal is not closed")
		}
		c := l.src[l.cursor]
		switch c {
		case '"':
			l.cursor++
			return Token{Kind: TkString, Pos: start, Text: b.String()}, nil
		case '\\':
			esc := l.peek(1)
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '"', '\\', '\'':
				b.WriteByte(esc)
			default:
				return Token{}, l.errorf(l.cursor, "unknown escape sequence \\%c", esc)
			}
			l.cursor += 2
		default:
			b.WriteByte(c)
			l.cursor++
		}
	}
}
