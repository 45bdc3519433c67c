// parser.go: Pratt parser for the calc language.
//
// OVERVIEW
// --------
// Parse tokenizes the source (lexer.go) and assembles a *Program whose Items
// are the top-level statements followed by an *End marker. Expressions are
// parsed with a Pratt loop driven by the binding-power table in lbp; statement
// forms (assignment and function definition) are recognized up front by a
// short lookahead.
//
// Binding powers, loosest first:
//
//	or
//	and
//	not            (prefix)
//	== != < <= > >=
//	+ -
//	* / %
//	-              (prefix)
//	^              (right-assoc)
//	!              (postfix factorial)
//	call, index
//
// `if c then a else b` and `(x, y) -> body` extend as far right as possible.
//
// ERRORS
// ------
// The first token at which no production matches stops parsing with a
// *ParseError carrying that token's offset and index. Offsets count
// characters. At end of input the offset is the length of the source in
// characters, so "1 + " fails at 4.
package calc

import (
	"fmt"
)

// ParseError reports a token sequence with no valid derivation.
type ParseError struct {
	Offset     int // character offset into the source
	TokenIndex int // index of the offending token
	Msg        string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("PARSE ERROR at offset %d: %s", e.Offset, e.Msg)
}

// Parse tokenizes and parses src. sourceName labels the resulting program
// (a file name or a REPL fragment name). The token slice is returned whenever
// tokenization succeeded, even if parsing then failed.
func Parse(src, sourceName string) ([]Token, *Program, error) {
	toks, err := Tokenize(src)
	if err != nil {
		return nil, nil, err
	}
	p := &parser{toks: toks}
	items, err := p.program()
	if err != nil {
		return toks, nil, err
	}
	prog := &Program{Name: sourceName, Source: src, Items: items}
	return toks, prog, nil
}

////////////////////////////////////////////////////////////////////////////////
//                              PRIVATE
////////////////////////////////////////////////////////////////////////////////

type parser struct {
	toks []Token
	i    int
}

func (p *parser) peek() Token { return p.toks[p.i] }

func (p *parser) peekAt(k int) Token {
	if p.i+k < len(p.toks) {
		return p.toks[p.i+k]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() Token {
	t := p.toks[p.i]
	if t.Type != EOF {
		p.i++
	}
	return t
}

func (p *parser) match(tt ...TokenType) bool {
	for _, t := range tt {
		if p.peek().Type == t {
			p.next()
			return true
		}
	}
	return false
}

func (p *parser) errAt(i int, format string, args ...interface{}) error {
	return &ParseError{Offset: p.toks[i].Offset, TokenIndex: i, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) unexpected() error {
	t := p.peek()
	if t.Type == EOF {
		return p.errAt(p.i, "unexpected end of input")
	}
	return p.errAt(p.i, "unexpected %s %q", t.Type, t.Text)
}

func (p *parser) need(tt TokenType, what string) (Token, error) {
	if p.peek().Type != tt {
		if p.peek().Type == EOF {
			return Token{}, p.errAt(p.i, "expected %s but reached end of input", what)
		}
		return Token{}, p.errAt(p.i, "expected %s, got %q", what, p.peek().Text)
	}
	return p.next(), nil
}

func isSeparator(tt TokenType) bool { return tt == NEWLINE || tt == SEMI }

func (p *parser) skipSeparators() {
	for isSeparator(p.peek().Type) {
		p.next()
	}
}

func at(off int) base { return base{Offset: off} }

// program := stmt { sep stmt } EOF
func (p *parser) program() ([]Node, error) {
	var items []Node
	p.skipSeparators()
	for p.peek().Type != EOF {
		st, err := p.statement()
		if err != nil {
			return nil, err
		}
		items = append(items, st)
		if p.peek().Type == EOF {
			break
		}
		if !isSeparator(p.peek().Type) {
			return nil, p.unexpected()
		}
		p.skipSeparators()
	}
	items = append(items, &End{base: at(p.peek().Offset)})
	return items, nil
}

func (p *parser) statement() (Node, error) {
	t := p.peek()
	if t.Type == ID {
		switch p.peekAt(1).Type {
		case ASSIGN:
			p.next()
			p.next()
			v, err := p.expr(0)
			if err != nil {
				return nil, err
			}
			return &Assign{base: at(t.Offset), Name: t.Text, Value: v}, nil
		case LROUND:
			if rp := p.matchingClose(p.i + 1); rp >= 0 && p.toks[rp+1].Type == ASSIGN {
				p.next()
				params, err := p.params()
				if err != nil {
					return nil, err
				}
				p.next() // '='
				body, err := p.expr(0)
				if err != nil {
					return nil, err
				}
				return &FuncDef{base: at(t.Offset), Name: t.Text, Params: params, Body: body}, nil
			}
		}
	}
	x, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	return &ExprStmt{base: at(x.Pos()), X: x}, nil
}

// matchingClose returns the index of the ')' closing the '(' at open, or -1.
func (p *parser) matchingClose(open int) int {
	depth := 0
	for j := open; j < len(p.toks); j++ {
		switch p.toks[j].Type {
		case LROUND, LSQUARE:
			depth++
		case RROUND, RSQUARE:
			depth--
			if depth == 0 {
				if p.toks[j].Type == RROUND {
					return j
				}
				return -1
			}
		case EOF:
			return -1
		}
	}
	return -1
}

// params parses "(" [ID {"," ID}] ")".
func (p *parser) params() ([]string, error) {
	if _, err := p.need(LROUND, "'('"); err != nil {
		return nil, err
	}
	var out []string
	seen := map[string]bool{}
	if p.match(RROUND) {
		return out, nil
	}
	for {
		id, err := p.need(ID, "parameter name")
		if err != nil {
			return nil, err
		}
		if seen[id.Text] {
			return nil, p.errAt(p.i-1, "duplicate parameter %q", id.Text)
		}
		seen[id.Text] = true
		out = append(out, id.Text)
		if p.match(COMMA) {
			continue
		}
		if _, err := p.need(RROUND, "')'"); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// lbp returns the left binding power of an infix/postfix token.
func lbp(t TokenType) (int, bool) {
	switch t {
	case OR:
		return 10, true
	case AND:
		return 20, true
	case EQ, NEQ, LESS, LESS_EQ, GREATER, GREATER_EQ:
		return 40, true
	case PLUS, MINUS:
		return 50, true
	case MULT, DIV, MOD:
		return 60, true
	case POW:
		return 80, true
	case BANG:
		return 90, true
	case LROUND, LSQUARE:
		return 100, true
	}
	return 0, false
}

const (
	bpNot   = 30
	bpUnary = 70
)

var binopText = map[TokenType]string{
	OR: "or", AND: "and",
	EQ: "==", NEQ: "!=", LESS: "<", LESS_EQ: "<=", GREATER: ">", GREATER_EQ: ">=",
	PLUS: "+", MINUS: "-", MULT: "*", DIV: "/", MOD: "%", POW: "^",
}

func (p *parser) expr(minBP int) (Node, error) {
	left, err := p.nud()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		bp, ok := lbp(t.Type)
		if !ok || bp <= minBP {
			return left, nil
		}
		p.next()
		switch t.Type {
		case BANG:
			left = &Unary{base: at(t.Offset), Op: "!", X: left}
		case LROUND:
			args, err := p.exprList(RROUND, "')'")
			if err != nil {
				return nil, err
			}
			left = &Call{base: at(t.Offset), Fn: left, Args: args}
		case LSQUARE:
			idx, err := p.expr(0)
			if err != nil {
				return nil, err
			}
			if _, err := p.need(RSQUARE, "']'"); err != nil {
				return nil, err
			}
			left = &Index{base: at(t.Offset), X: left, Index: idx}
		default:
			rbp := bp
			if t.Type == POW {
				rbp = bp - 1
			}
			right, err := p.expr(rbp)
			if err != nil {
				return nil, err
			}
			left = &Binary{base: at(t.Offset), Op: binopText[t.Type], L: left, R: right}
		}
	}
}

// exprList parses a comma-separated list up to the closing token; the opening
// bracket has already been consumed.
func (p *parser) exprList(closer TokenType, what string) ([]Node, error) {
	var out []Node
	if p.match(closer) {
		return out, nil
	}
	for {
		x, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
		if p.match(COMMA) {
			continue
		}
		if _, err := p.need(closer, what); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func (p *parser) nud() (Node, error) {
	t := p.peek()
	switch t.Type {
	case INTEGER, NUMBER:
		p.next()
		return &Number{base: at(t.Offset), Value: t.Literal}, nil
	case STRING:
		p.next()
		return &String{base: at(t.Offset), Value: t.Literal.(string)}, nil
	case BOOLEAN:
		p.next()
		return &BoolLit{base: at(t.Offset), Value: t.Literal.(bool)}, nil
	case ID:
		p.next()
		return &Ident{base: at(t.Offset), Name: t.Text}, nil
	case MINUS:
		p.next()
		x, err := p.expr(bpUnary)
		if err != nil {
			return nil, err
		}
		return &Unary{base: at(t.Offset), Op: "-", X: x}, nil
	case PLUS:
		p.next()
		return p.expr(bpUnary)
	case NOT:
		p.next()
		x, err := p.expr(bpNot)
		if err != nil {
			return nil, err
		}
		return &Unary{base: at(t.Offset), Op: "not", X: x}, nil
	case IF:
		return p.ifExpr()
	case LSQUARE:
		p.next()
		items, err := p.exprList(RSQUARE, "']'")
		if err != nil {
			return nil, err
		}
		return &ListLit{base: at(t.Offset), Items: items}, nil
	case LROUND:
		if rp := p.matchingClose(p.i); rp >= 0 && p.toks[rp+1].Type == ARROW {
			return p.lambda()
		}
		p.next()
		x, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.need(RROUND, "')'"); err != nil {
			return nil, err
		}
		return x, nil
	}
	return nil, p.unexpected()
}

func (p *parser) ifExpr() (Node, error) {
	t := p.next() // 'if'
	cond, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.need(THEN, "'then'"); err != nil {
		return nil, err
	}
	then, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.need(ELSE, "'else'"); err != nil {
		return nil, err
	}
	els, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	return &If{base: at(t.Offset), Cond: cond, Then: then, Else: els}, nil
}

func (p *parser) lambda() (Node, error) {
	t := p.peek()
	params, err := p.params()
	if err != nil {
		return nil, err
	}
	if _, err := p.need(ARROW, "'->'"); err != nil {
		return nil, err
	}
	body, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	return &Lambda{base: at(t.Offset), Params: params, Body: body}, nil
}
