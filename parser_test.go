package calc

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func parseOK(t *testing.T, src string) *Program {
	t.Helper()
	_, prog, err := Parse(src, "test")
	if err != nil {
		t.Fatalf("parse error for %q: %v", src, err)
	}
	return prog
}

func parseFail(t *testing.T, src string, offset int) *ParseError {
	t.Helper()
	toks, _, err := Parse(src, "test")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("want *ParseError for %q, got %v", src, err)
	}
	if pe.Offset != offset {
		t.Fatalf("parse error offset for %q: want %d, got %d (%s)", src, offset, pe.Offset, pe.Msg)
	}
	if toks == nil {
		t.Fatalf("tokens should be returned alongside a parse error")
	}
	return pe
}

// onlyExpr returns the expression of a single-statement program.
func onlyExpr(t *testing.T, src string) Node {
	t.Helper()
	stmts := parseOK(t, src).Statements()
	if len(stmts) != 1 {
		t.Fatalf("want one statement in %q, got %d", src, len(stmts))
	}
	es, ok := stmts[0].(*ExprStmt)
	if !ok {
		t.Fatalf("want expression statement, got %T", stmts[0])
	}
	return es.X
}

func asBinary(t *testing.T, n Node, op string) *Binary {
	t.Helper()
	b, ok := n.(*Binary)
	if !ok || b.Op != op {
		t.Fatalf("want binop %q, got %#v", op, n)
	}
	return b
}

func Test_Parser_EndMarker(t *testing.T) {
	src := "x = 1\ny = 2"
	prog := parseOK(t, src)
	if len(prog.Items) != 3 {
		t.Fatalf("want 2 statements + end, got %d items", len(prog.Items))
	}
	end, ok := prog.Items[2].(*End)
	if !ok {
		t.Fatalf("last item is %T", prog.Items[2])
	}
	if end.Pos() != len(src) {
		t.Fatalf("end offset: %d", end.Pos())
	}
	if len(prog.Statements()) != 2 {
		t.Fatalf("Statements(): %d", len(prog.Statements()))
	}
	if prog.Name != "test" || prog.Source != src {
		t.Fatalf("program metadata: %q %q", prog.Name, prog.Source)
	}

	empty := parseOK(t, "\n# nothing\n")
	if len(empty.Items) != 1 || empty.Items[0].Tag() != "end" {
		t.Fatalf("empty program: %#v", empty.Items)
	}
}

func Test_Parser_Statements(t *testing.T) {
	stmts := parseOK(t, "a = 1; f(x, y) = x + y\nf(1, 2)\nf(1) == 3").Statements()
	if len(stmts) != 4 {
		t.Fatalf("want 4 statements, got %d", len(stmts))
	}
	if a, ok := stmts[0].(*Assign); !ok || a.Name != "a" {
		t.Fatalf("stmt 0: %#v", stmts[0])
	}
	fd, ok := stmts[1].(*FuncDef)
	if !ok || fd.Name != "f" || !reflect.DeepEqual(fd.Params, []string{"x", "y"}) {
		t.Fatalf("stmt 1: %#v", stmts[1])
	}
	if es, ok := stmts[2].(*ExprStmt); !ok || es.X.Tag() != "function_call" {
		t.Fatalf("stmt 2: %#v", stmts[2])
	}
	if es, ok := stmts[3].(*ExprStmt); !ok || es.X.Tag() != "binop" {
		t.Fatalf("stmt 3: %#v", stmts[3])
	}
}

func Test_Parser_Precedence(t *testing.T) {
	b := asBinary(t, onlyExpr(t, "1 + 2 * 3"), "+")
	asBinary(t, b.R, "*")

	b = asBinary(t, onlyExpr(t, "2 ^ 3 ^ 2"), "^")
	asBinary(t, b.R, "^")

	u, ok := onlyExpr(t, "-2 ^ 2").(*Unary)
	if !ok || u.Op != "-" {
		t.Fatalf("-2^2 should negate the power")
	}
	asBinary(t, u.X, "^")

	b = asBinary(t, onlyExpr(t, "not a and b"), "and")
	if u, ok := b.L.(*Unary); !ok || u.Op != "not" {
		t.Fatalf("not should bind tighter than and: %#v", b.L)
	}

	b = asBinary(t, onlyExpr(t, "a or b and c"), "or")
	asBinary(t, b.R, "and")

	b = asBinary(t, onlyExpr(t, "1 + 2 < 4"), "<")
	asBinary(t, b.L, "+")

	if u, ok := onlyExpr(t, "3!").(*Unary); !ok || u.Op != "!" {
		t.Fatalf("postfix factorial")
	}
	if _, ok := onlyExpr(t, "+3").(*Number); !ok {
		t.Fatalf("unary plus should vanish")
	}
}

func Test_Parser_Postfix_Offsets(t *testing.T) {
	ix, ok := onlyExpr(t, "foo(1)[0]").(*Index)
	if !ok || ix.Pos() != 6 {
		t.Fatalf("index: %#v", ix)
	}
	call, ok := ix.X.(*Call)
	if !ok || call.Pos() != 3 || call.Fn.Pos() != 0 || len(call.Args) != 1 {
		t.Fatalf("call: %#v", ix.X)
	}
}

func Test_Parser_Lambda_And_If(t *testing.T) {
	l, ok := onlyExpr(t, "(x, y) -> x * y").(*Lambda)
	if !ok || !reflect.DeepEqual(l.Params, []string{"x", "y"}) {
		t.Fatalf("lambda: %#v", l)
	}
	asBinary(t, l.Body, "*")

	if _, ok := onlyExpr(t, "() -> 1").(*Lambda); !ok {
		t.Fatal("nullary lambda")
	}
	asBinary(t, onlyExpr(t, "(1 + 2) * 3"), "*")

	i, ok := onlyExpr(t, "if a then 1 else if b then 2 else 3").(*If)
	if !ok {
		t.Fatal("if expression")
	}
	if _, ok := i.Else.(*If); !ok {
		t.Fatalf("nested else-if: %#v", i.Else)
	}
}

func Test_Parser_Lists(t *testing.T) {
	l, ok := onlyExpr(t, "[1, 'two', [3]]").(*ListLit)
	if !ok || len(l.Items) != 3 {
		t.Fatalf("list: %#v", l)
	}
	if l, ok := onlyExpr(t, "[]").(*ListLit); !ok || len(l.Items) != 0 {
		t.Fatal("empty list")
	}
}

func Test_Parser_Errors(t *testing.T) {
	pe := parseFail(t, "1 + ", 4)
	if pe.TokenIndex != 2 || pe.Msg != "unexpected end of input" {
		t.Fatalf("got %+v", pe)
	}
	if pe.Error() != "PARSE ERROR at offset 4: unexpected end of input" {
		t.Fatalf("Error(): %q", pe.Error())
	}
	parseFail(t, "1 2", 2)
	parseFail(t, "if 1 then 2", 11)
	parseFail(t, "f(x, x) = x", 5)
	parseFail(t, "(1, 2)", 2)
	parseFail(t, "[1, 2", 5)
	parseFail(t, "x = ", 4)
}

func Test_Parser_Errors_OffsetsCountCharacters(t *testing.T) {
	pe := parseFail(t, `"é" +`, 5)
	if pe.TokenIndex != 2 {
		t.Fatalf("token index: %d", pe.TokenIndex)
	}
	parseFail(t, `x = "ö" "ö"`, 8)
}

func Test_Parser_TokenizationErrorPassesThrough(t *testing.T) {
	toks, prog, err := Parse("1 + $", "test")
	var te *TokenizationError
	if !errors.As(err, &te) || te.Offset != 4 {
		t.Fatalf("want tokenization error at 4, got %v", err)
	}
	if toks != nil || prog != nil {
		t.Fatal("no tokens or tree on a tokenization error")
	}
}

func Test_Parser_DumpTree(t *testing.T) {
	out, err := DumpTree(parseOK(t, "x = 1 + y"))
	if err != nil {
		t.Fatal(err)
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(out, &tree); err != nil {
		t.Fatalf("dump is not JSON: %v\n%s", err, out)
	}
	items := tree["items"].([]interface{})
	assign := items[0].(map[string]interface{})
	if assign["#"] != "assign" || assign["name"] != "x" {
		t.Fatalf("assign node: %v", assign)
	}
	value := assign["value"].(map[string]interface{})
	if value["#"] != "binop" || value["operator"] != "+" || value["offset"] != 6.0 {
		t.Fatalf("binop node: %v", value)
	}
	if items[1].(map[string]interface{})["#"] != "end" {
		t.Fatalf("end node: %v", items[1])
	}
}
