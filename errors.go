// errors.go: rendering toolchain errors for people.
//
// FormatErrorPlace renders the fixed five-line window used by the CLI and the
// REPL:
//
//	On line 2 at position 4
//	x = 1
//	y = 2 +
//	    ^
//	z = 3
//
// Offsets and positions count characters, not bytes. The previous and next
// lines are empty at the edges of the source. Offsets past the end of a line
// spill onto the next one; an offset at the very end of
// the source points just past the last character of the last line.
package calc

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// FormatErrorPlace renders the source window around offset.
func FormatErrorPlace(src string, offset int) string {
	if offset < 0 {
		offset = 0
	}
	lines := append(append([]string{""}, strings.Split(src, "\n")...), "")
	line := 1
	for line < len(lines)-2 && offset > utf8.RuneCountInString(lines[line]) {
		offset -= utf8.RuneCountInString(lines[line]) + 1
		line++
	}
	return fmt.Sprintf("On line %d at position %d\n%s\n%s\n%s^\n%s\n",
		line, offset, lines[line-1], lines[line], strings.Repeat(" ", offset), lines[line+1])
}

// ErrorOffset extracts the source offset carried by a tokenization or parse
// error, or by a linked evaluation error.
func ErrorOffset(err error) (int, bool) {
	var te *TokenizationError
	var pe *ParseError
	var ee *EvaluationError
	switch {
	case errors.As(err, &te):
		return te.Offset, true
	case errors.As(err, &pe):
		return pe.Offset, true
	case errors.As(err, &ee) && ee.Link != nil:
		return ee.Link.Offset, true
	}
	return 0, false
}

// DescribeFault renders any toolchain error as a report. src is the text that
// was being tokenized or parsed; it is not needed for evaluation errors, which
// carry their own source.
func DescribeFault(err error, src string) string {
	var b strings.Builder
	var te *TokenizationError
	var pe *ParseError
	var ee *EvaluationError
	switch {
	case errors.As(err, &te):
		b.WriteString("Tokenization error\n")
		b.WriteString(FormatErrorPlace(src, te.Offset))
		b.WriteString(te.Msg + "\n")
	case errors.As(err, &pe):
		b.WriteString("Parse error\n")
		b.WriteString(FormatErrorPlace(src, pe.Offset))
		b.WriteString(pe.Msg + "\n")
	case errors.As(err, &ee):
		if ee.Link == nil {
			b.WriteString("No debugging information available for this error.\n")
		} else {
			b.WriteString("Runtime error in " + ee.Link.Name + "\n")
			b.WriteString(FormatErrorPlace(ee.Link.Source, ee.Link.Offset))
		}
		b.WriteString(ee.Msg + "\n")
		b.WriteString(strings.Repeat("-", utf8.RuneCountInString(ee.Msg)) + "\n")
	case errors.Is(err, ErrCancelled):
		b.WriteString("Operation timed out\n")
	case IsInternal(err):
		b.WriteString("Internal error (this is a bug in calc)\n")
		b.WriteString(err.Error() + "\n")
	default:
		b.WriteString(err.Error() + "\n")
	}
	return b.String()
}

// ParsePoint renders the token sequence with a caret under token index i, as
// shown by the REPL's :parsepoint toggle.
func ParsePoint(toks []Token, i int) string {
	var texts []string
	col := 0
	for j, t := range toks {
		if t.Type == EOF {
			if j <= i {
				col = utf8.RuneCountInString(strings.Join(texts, " "))
				if len(texts) > 0 {
					col++
				}
			}
			break
		}
		text := t.Text
		if t.Type == NEWLINE {
			text = `\n`
		}
		if j == i {
			col = utf8.RuneCountInString(strings.Join(texts, " "))
			if len(texts) > 0 {
				col++
			}
		}
		texts = append(texts, text)
	}
	return strings.Join(texts, " ") + "\n" + strings.Repeat(" ", col) + "^\n"
}
