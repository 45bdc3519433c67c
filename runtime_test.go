package calc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func Test_Runtime_Wrap_DoesNotExecute(t *testing.T) {
	var out bytes.Buffer
	env := NewEnvironment(&out)
	exe, err := WrapWith(NewCompiler(), env, parseOK(t, "print('side effect')\nx = 1"), false)
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Fatalf("wrap executed code: %q", out.String())
	}
	ip := NewInterpreter(exe)
	if out.Len() != 0 {
		t.Fatalf("NewInterpreter executed code: %q", out.String())
	}
	if ip.State() != StateReady {
		t.Fatalf("state: %s", ip.State())
	}
	if _, err := ip.Run(); err != nil {
		t.Fatal(err)
	}
	if out.String() != "side effect\n" {
		t.Fatalf("output: %q", out.String())
	}
}

func Test_Runtime_Wrap_DeclaresEnvironmentSlots(t *testing.T) {
	env := NewEnvironment(io.Discard)
	exe, err := WrapWith(NewCompiler(), env, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	names := env.Names()
	if len(exe.Program.Globals) != len(names) {
		t.Fatalf("want %d slots, got %d", len(names), len(exe.Program.Globals))
	}
	for i, n := range names {
		if exe.Program.Globals[i] != n {
			t.Fatalf("slot %d: want %q, got %q", i, n, exe.Program.Globals[i])
		}
	}
}

func Test_Runtime_Wrap_IsIdempotent(t *testing.T) {
	env := NewEnvironment(io.Discard)
	c := NewCompiler()
	if _, err := WrapWith(c, env, nil, false); err != nil {
		t.Fatal(err)
	}
	n := len(c.Bytecode().Globals)
	exe, err := WrapWith(c, nil, parseOK(t, "y = 2"), false)
	if err != nil {
		t.Fatal(err)
	}
	if exe.Env != env {
		t.Fatal("nil env should reuse the earlier environment")
	}
	if len(exe.Program.Globals) != n+1 {
		t.Fatalf("globals grew by %d", len(exe.Program.Globals)-n)
	}
	if _, err := WrapWith(c, NewEnvironment(io.Discard), nil, false); !IsInternal(err) {
		t.Fatalf("re-wrapping with another environment: %v", err)
	}
}

func Test_Runtime_ExtraBuiltins(t *testing.T) {
	calls := 0
	double := &Builtin{Name: "double", MinArgs: 1, MaxArgs: 1, Pure: true, Fn: func(args []Value) (Value, error) {
		calls++
		return arith(opMul, args[0], Int(2))
	}}
	fails := &Builtin{Name: "boom", MinArgs: 0, MaxArgs: 0, Fn: func([]Value) (Value, error) {
		return Null, errors.New("boom: it broke")
	}}
	ip := newSessionWithEnv(t, NewEnvironment(io.Discard, double, fails))
	wantInt(t, mustRun(t, ip, "double(21)"), 42)
	if calls != 1 {
		t.Fatalf("calls: %d", calls)
	}
	ee := runErr(t, ip, "x", "boom()")
	if ee.Msg != "boom: it broke" || ee.Link != nil {
		t.Fatalf("builtin error: %+v", ee)
	}
}

func Test_Runtime_Constants(t *testing.T) {
	v := evalSrc(t, "[pi, e, tau]")
	items := v.Items()
	if len(items) != 3 || items[0].Tag != VTNum || items[2].Data.(float64) != 2*items[0].Data.(float64) {
		t.Fatalf("constants: %s", v)
	}
}

func Test_Runtime_Range_Bounds(t *testing.T) {
	if got := evalSrc(t, "range(2, 5)").String(); got != "[2, 3, 4]" {
		t.Fatalf("range(2, 5): %s", got)
	}
	if got := evalSrc(t, "range(9000000000000000000, -9000000000000000000)").String(); got != "[]" {
		t.Fatalf("descending bounds: %s", got)
	}

	// a span that does not fit in int64 must still be refused, and quickly
	ip := newSession(t)
	prepare(t, ip, "huge", "x = 1\nrange(-9000000000000000000, 9000000000000000000)")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	task := ip.RunAsync(ctx)
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("range over extreme bounds did not return")
	}
	_, err := task.Wait()
	var ee *EvaluationError
	if !errors.As(err, &ee) || ee.Msg != "range: too many elements" || ee.Link != nil {
		t.Fatalf("want range size error, got %v", err)
	}
	wantInt(t, wantGlobal(t, ip, "x"), 1)
}

func Test_Runtime_BuiltinArityText(t *testing.T) {
	cases := []struct {
		b    Builtin
		want string
	}{
		{Builtin{MinArgs: 1, MaxArgs: 1}, "1"},
		{Builtin{MinArgs: 1, MaxArgs: 2}, "1 to 2"},
		{Builtin{MinArgs: 1, MaxArgs: -1}, "at least 1"},
	}
	for _, c := range cases {
		if got := c.b.arityText(); got != c.want {
			t.Fatalf("arityText: want %q, got %q", c.want, got)
		}
	}
}
