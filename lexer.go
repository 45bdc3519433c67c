// lexer.go: tokenizer for the calc expression language.
//
// The lexer walks the source once, left to right, and produces a flat slice of
// tokens terminated by EOF. Every token records the character offset of its
// first character so that parse and runtime diagnostics can point back into
// the original text. Scanning works on bytes; offsets are converted to
// character counts as tokens and errors are produced. The first malformed character sequence stops scanning with a
// *TokenizationError; nothing after it is looked at.
//
// Newlines separate statements, except inside (...) and [...] where they are
// ignored. Runs of separators collapse into a single NEWLINE token.
package calc

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// TokenType represents the kind of token.
type TokenType int

const (
	// Special
	EOF TokenType = iota
	NEWLINE
	SEMI

	// Punctuation
	LROUND  // "("
	RROUND  // ")"
	LSQUARE // "["
	RSQUARE // "]"
	COMMA   // ","
	ASSIGN  // "="
	ARROW   // "->"

	// Operators
	PLUS
	MINUS
	MULT
	DIV
	MOD
	POW  // "^"
	BANG // postfix factorial
	EQ
	NEQ
	LESS
	LESS_EQ
	GREATER
	GREATER_EQ

	// Literals & identifiers
	ID
	STRING
	INTEGER
	NUMBER
	BOOLEAN

	// Keywords
	AND
	OR
	NOT
	IF
	THEN
	ELSE
)

var tokenNames = [...]string{
	EOF:        "end of input",
	NEWLINE:    "newline",
	SEMI:       "';'",
	LROUND:     "'('",
	RROUND:     "')'",
	LSQUARE:    "'['",
	RSQUARE:    "']'",
	COMMA:      "','",
	ASSIGN:     "'='",
	ARROW:      "'->'",
	PLUS:       "'+'",
	MINUS:      "'-'",
	MULT:       "'*'",
	DIV:        "'/'",
	MOD:        "'%'",
	POW:        "'^'",
	BANG:       "'!'",
	EQ:         "'=='",
	NEQ:        "'!='",
	LESS:       "'<'",
	LESS_EQ:    "'<='",
	GREATER:    "'>'",
	GREATER_EQ: "'>='",
	ID:         "identifier",
	STRING:     "string",
	INTEGER:    "integer",
	NUMBER:     "number",
	BOOLEAN:    "boolean",
	AND:        "'and'",
	OR:         "'or'",
	NOT:        "'not'",
	IF:         "'if'",
	THEN:       "'then'",
	ELSE:       "'else'",
}

func (t TokenType) String() string {
	if int(t) < len(tokenNames) && tokenNames[t] != "" {
		return tokenNames[t]
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is a lexical token. Tokens are immutable once produced.
type Token struct {
	Type    TokenType
	Text    string      // raw source slice
	Literal interface{} // int64, float64, string or bool for literals
	Offset  int         // character offset of the first character
}

// End returns the offset just past the token.
func (t Token) End() int { return t.Offset + utf8.RuneCountInString(t.Text) }

var keywords = map[string]TokenType{
	"and":   AND,
	"or":    OR,
	"not":   NOT,
	"if":    IF,
	"then":  THEN,
	"else":  ELSE,
	"true":  BOOLEAN,
	"false": BOOLEAN,
}

// TokenizationError reports a malformed character sequence.
type TokenizationError struct {
	Offset int
	Msg    string
}

func (e *TokenizationError) Error() string {
	return fmt.Sprintf("TOKENIZATION ERROR at offset %d: %s", e.Offset, e.Msg)
}

// Lexer scans a source string into tokens.
type Lexer struct {
	src    string
	start  int // start of current token
	cur    int // current index
	depth  int // nesting of () and []
	tokens []Token

	// last byte index converted by pos, and its character offset
	posByte, posChar int
}

// NewLexer creates a new lexer for the given source.
func NewLexer(src string) *Lexer {
	return &Lexer{src: src}
}

// Tokenize scans src completely. The returned slice always ends with EOF,
// whose offset is the number of characters in src.
func Tokenize(src string) ([]Token, error) {
	return NewLexer(src).Scan()
}

func (l *Lexer) isAtEnd() bool { return l.cur >= len(l.src) }

func (l *Lexer) peek() (byte, bool) {
	if l.isAtEnd() {
		return 0, false
	}
	return l.src[l.cur], true
}

func (l *Lexer) peekN(n int) (byte, bool) {
	idx := l.cur + n
	if idx >= len(l.src) {
		return 0, false
	}
	return l.src[idx], true
}

func (l *Lexer) advance() byte {
	ch := l.src[l.cur]
	l.cur++
	return ch
}

// pos converts a byte index into a character offset. Calls are mostly
// monotonic, so counting resumes from the previous conversion.
func (l *Lexer) pos(b int) int {
	if b < l.posByte {
		l.posByte, l.posChar = 0, 0
	}
	l.posChar += utf8.RuneCountInString(l.src[l.posByte:b])
	l.posByte = b
	return l.posChar
}

func (l *Lexer) addToken(tt TokenType, lit interface{}) {
	l.tokens = append(l.tokens, Token{
		Type:    tt,
		Text:    l.src[l.start:l.cur],
		Literal: lit,
		Offset:  l.pos(l.start),
	})
}

// addSeparator emits NEWLINE/SEMI unless the previous token already separates.
func (l *Lexer) addSeparator(tt TokenType) {
	if n := len(l.tokens); n == 0 || l.tokens[n-1].Type == NEWLINE || l.tokens[n-1].Type == SEMI {
		if tt == NEWLINE {
			return
		}
	}
	l.addToken(tt, nil)
}

// errAt reports msg at byte index off.
func (l *Lexer) errAt(off int, msg string) error {
	return &TokenizationError{Offset: l.pos(off), Msg: msg}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
func isAlpha(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '_' }
func isAlphaNum(b byte) bool {
	return isAlpha(b) || isDigit(b)
}

// ----- scanners -----

// scanNumber parses an integer or a float; supports .5, 1., 1.23e-4.
func (l *Lexer) scanNumber() error {
	sawDigits := false
	for {
		b, ok := l.peek()
		if !ok || !isDigit(b) {
			break
		}
		l.advance()
		sawDigits = true
	}

	sawDot := false
	if b, ok := l.peek(); ok && b == '.' {
		if b2, ok2 := l.peekN(1); sawDigits || (ok2 && isDigit(b2)) {
			l.advance()
			sawDot = true
			for {
				b, ok := l.peek()
				if !ok || !isDigit(b) {
					break
				}
				l.advance()
				sawDigits = true
			}
		}
	}

	// exponent; rewound when no digits follow ("2e" is 2 followed by e)
	sawExp := false
	if b, ok := l.peek(); ok && (b == 'e' || b == 'E') {
		save := l.cur
		l.advance()
		if b2, ok := l.peek(); ok && (b2 == '+' || b2 == '-') {
			l.advance()
		}
		if b3, ok := l.peek(); ok && isDigit(b3) {
			sawExp = true
			for {
				b4, ok := l.peek()
				if !ok || !isDigit(b4) {
					break
				}
				l.advance()
			}
		} else {
			l.cur = save
		}
	}

	if !sawDigits {
		return l.errAt(l.start, "malformed number")
	}
	lex := l.src[l.start:l.cur]
	if !sawDot && !sawExp {
		v, err := strconv.ParseInt(lex, 10, 64)
		if err != nil {
			// too large for int64: keep it as a float
			f, ferr := strconv.ParseFloat(lex, 64)
			if ferr != nil {
				return l.errAt(l.start, "invalid integer literal")
			}
			l.addToken(NUMBER, f)
			return nil
		}
		l.addToken(INTEGER, v)
		return nil
	}
	f, err := strconv.ParseFloat(lex, 64)
	if err != nil {
		return l.errAt(l.start, "invalid number literal")
	}
	l.addToken(NUMBER, f)
	return nil
}

// scanString parses a double- or single-quoted string with simple escapes.
func (l *Lexer) scanString() error {
	del := l.advance()
	var b strings.Builder
	for !l.isAtEnd() {
		ch := l.advance()
		if ch == del {
			l.addToken(STRING, b.String())
			return nil
		}
		if ch == '\n' {
			return l.errAt(l.cur-1, "newline in string literal")
		}
		if ch == '\\' {
			if l.isAtEnd() {
				return l.errAt(l.cur, "unfinished escape sequence")
			}
			esc := l.advance()
			switch esc {
			case '\\', '"', '\'':
				b.WriteByte(esc)
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				return l.errAt(l.cur-2, fmt.Sprintf("invalid escape sequence: \\%c", esc))
			}
			continue
		}
		b.WriteByte(ch)
	}
	return l.errAt(len(l.src), "string was not terminated")
}

func (l *Lexer) scanIdentifier() {
	for {
		b, ok := l.peek()
		if !ok || !isAlphaNum(b) {
			break
		}
		l.advance()
	}
	lex := l.src[l.start:l.cur]
	if tt, ok := keywords[lex]; ok {
		if tt == BOOLEAN {
			l.addToken(BOOLEAN, lex == "true")
			return
		}
		l.addToken(tt, nil)
		return
	}
	l.addToken(ID, lex)
}

// two emits `two` when the next byte is `next`, otherwise `one`.
func (l *Lexer) two(next byte, two, one TokenType) {
	if b, ok := l.peek(); ok && b == next {
		l.advance()
		l.addToken(two, nil)
		return
	}
	l.addToken(one, nil)
}

// ----- main scanner -----

func (l *Lexer) scanToken() error {
	ch := l.advance()
	switch ch {
	case ' ', '\t', '\r':
		return nil
	case '\n':
		if l.depth == 0 {
			l.addSeparator(NEWLINE)
		}
		return nil
	case '#':
		for {
			b, ok := l.peek()
			if !ok || b == '\n' {
				return nil
			}
			l.advance()
		}
	case ';':
		l.addSeparator(SEMI)
	case '(':
		l.depth++
		l.addToken(LROUND, nil)
	case ')':
		if l.depth > 0 {
			l.depth--
		}
		l.addToken(RROUND, nil)
	case '[':
		l.depth++
		l.addToken(LSQUARE, nil)
	case ']':
		if l.depth > 0 {
			l.depth--
		}
		l.addToken(RSQUARE, nil)
	case ',':
		l.addToken(COMMA, nil)
	case '+':
		l.addToken(PLUS, nil)
	case '-':
		l.two('>', ARROW, MINUS)
	case '*':
		// "**" is accepted as an alias for '^'
		l.two('*', POW, MULT)
	case '/':
		l.addToken(DIV, nil)
	case '%':
		l.addToken(MOD, nil)
	case '^':
		l.addToken(POW, nil)
	case '=':
		l.two('=', EQ, ASSIGN)
	case '!':
		l.two('=', NEQ, BANG)
	case '<':
		l.two('=', LESS_EQ, LESS)
	case '>':
		l.two('=', GREATER_EQ, GREATER)
	case '"', '\'':
		l.cur = l.start
		return l.scanString()
	default:
		switch {
		case isDigit(ch) || ch == '.':
			l.cur = l.start
			return l.scanNumber()
		case isAlpha(ch):
			l.scanIdentifier()
		default:
			r, _ := utf8.DecodeRuneInString(l.src[l.start:])
			return l.errAt(l.start, fmt.Sprintf("unexpected character: %q", r))
		}
	}
	return nil
}

// Scan tokenizes the entire source and returns tokens (EOF included).
func (l *Lexer) Scan() ([]Token, error) {
	for !l.isAtEnd() {
		l.start = l.cur
		if err := l.scanToken(); err != nil {
			return nil, err
		}
	}
	l.start = l.cur
	l.addToken(EOF, nil)
	return l.tokens, nil
}
