package calc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func Test_Errors_FormatErrorPlace(t *testing.T) {
	cases := []struct {
		src    string
		offset int
		want   string
	}{
		{"x = 1\ny = 2 +\nz = 3", 12, "On line 2 at position 6\nx = 1\ny = 2 +\n      ^\nz = 3\n"},
		{"1 + ", 4, "On line 1 at position 4\n\n1 + \n    ^\n\n"},
		{"a\nb", 3, "On line 2 at position 1\na\nb\n ^\n\n"},
		{"abc", 0, "On line 1 at position 0\n\nabc\n^\n\n"},
	}
	for _, c := range cases {
		if got := FormatErrorPlace(c.src, c.offset); got != c.want {
			t.Fatalf("FormatErrorPlace(%q, %d):\nwant %q\ngot  %q", c.src, c.offset, c.want, got)
		}
	}
}

func Test_Errors_FormatErrorPlace_NonASCII(t *testing.T) {
	if got := FormatErrorPlace("é\nñz", 3); got != "On line 2 at position 1\né\nñz\n ^\n\n" {
		t.Fatalf("multi-line: %q", got)
	}
	if got := FormatErrorPlace(`"é" +`, 5); got != "On line 1 at position 5\n\n\"é\" +\n     ^\n\n" {
		t.Fatalf("end of input: %q", got)
	}
}

func Test_Errors_DescribeFault_ParseAndTokenize(t *testing.T) {
	_, _, err := Parse("1 + ", "x")
	want := "Parse error\nOn line 1 at position 4\n\n1 + \n    ^\n\nunexpected end of input\n"
	if got := DescribeFault(err, "1 + "); got != want {
		t.Fatalf("parse:\nwant %q\ngot  %q", want, got)
	}

	_, _, err = Parse("1 $", "x")
	got := DescribeFault(err, "1 $")
	if !strings.HasPrefix(got, "Tokenization error\nOn line 1 at position 2\n") {
		t.Fatalf("tokenize: %q", got)
	}
}

func Test_Errors_DescribeFault_Runtime(t *testing.T) {
	ip := newSession(t)
	ee := runErr(t, ip, "iterm_1", "1 + nope")
	want := "Runtime error in iterm_1\n" +
		"On line 1 at position 4\n\n1 + nope\n    ^\n\n" +
		"name 'nope' is not defined\n" +
		strings.Repeat("-", len("name 'nope' is not defined")) + "\n"
	if got := DescribeFault(ee, ""); got != want {
		t.Fatalf("runtime:\nwant %q\ngot  %q", want, got)
	}

	ee = runErr(t, ip, "iterm_2", "sqrt('x')")
	got := DescribeFault(ee, "")
	if !strings.HasPrefix(got, "No debugging information available for this error.\n") {
		t.Fatalf("unlinked: %q", got)
	}
}

func Test_Errors_DescribeFault_UnderlineMatchesMessageWidth(t *testing.T) {
	got := DescribeFault(&EvaluationError{Msg: "día"}, "")
	if got != "No debugging information available for this error.\ndía\n---\n" {
		t.Fatalf("underline: %q", got)
	}
}

func Test_Errors_DescribeFault_Other(t *testing.T) {
	cancelled := fmt.Errorf("%w: %w", ErrCancelled, context.DeadlineExceeded)
	if got := DescribeFault(cancelled, ""); got != "Operation timed out\n" {
		t.Fatalf("cancel: %q", got)
	}
	if got := DescribeFault(ErrInvariant.New("bad pc"), ""); !strings.HasPrefix(got, "Internal error") {
		t.Fatalf("internal: %q", got)
	}
	if got := DescribeFault(errors.New("plain"), ""); got != "plain\n" {
		t.Fatalf("plain: %q", got)
	}
}

func Test_Errors_ErrorOffset(t *testing.T) {
	_, _, err := Parse("(1", "x")
	if off, ok := ErrorOffset(err); !ok || off != 2 {
		t.Fatalf("parse offset: %d %v", off, ok)
	}
	if _, ok := ErrorOffset(&EvaluationError{Msg: "x"}); ok {
		t.Fatal("unlinked evaluation error has no offset")
	}
	if off, ok := ErrorOffset(&EvaluationError{Msg: "x", Link: &Link{Offset: 7}}); !ok || off != 7 {
		t.Fatalf("linked offset: %d %v", off, ok)
	}
}

func Test_Errors_EvaluationError_Message(t *testing.T) {
	e := &EvaluationError{Msg: "boom", Link: &Link{Name: "iterm_4", Offset: 3}}
	if e.Error() != "RUNTIME ERROR in iterm_4 at offset 3: boom" {
		t.Fatalf("linked: %q", e.Error())
	}
	e.Link = nil
	if e.Error() != "RUNTIME ERROR: boom" {
		t.Fatalf("unlinked: %q", e.Error())
	}
}

func Test_Errors_ParsePoint(t *testing.T) {
	ts, _ := Tokenize("1 + + 2")
	if got := ParsePoint(ts, 2); got != "1 + + 2\n    ^\n" {
		t.Fatalf("middle: %q", got)
	}
	ts, _ = Tokenize("1 +")
	if got := ParsePoint(ts, 2); got != "1 +\n    ^\n" {
		t.Fatalf("at end: %q", got)
	}
}

func Test_Errors_ParsePoint_NonASCII(t *testing.T) {
	ts, _ := Tokenize(`"é" + + 2`)
	if got := ParsePoint(ts, 2); got != "\"é\" + + 2\n      ^\n" {
		t.Fatalf("caret: %q", got)
	}
}
