// compiler.go: lowers syntax trees into Bytecode, one fragment at a time.
//
// PUBLIC API
// ----------
//
//	NewCompiler() *Compiler
//	(*Compiler).Compile(tree, exportable) (*Bytecode, error)
//	(*Compiler).Extend(tree) error
//	(*Compiler).Bytecode() *Bytecode
//	(*Compiler).DeclareGlobal(name) int
//
// Name resolution is static. Inside a function body a name is, in order:
// a parameter (local slot), a name captured from an enclosing function, or a
// global slot. Global slots are created on first mention, so a reference to a
// name that is never defined compiles fine and fails only when executed.
//
// Function bodies are not emitted inline. Each fragment is laid out as its
// top-level statements ending in END, followed by the bodies of all functions
// and lambdas defined in it, in discovery order.
//
// Source mapping: a Mark is recorded immediately before every instruction that
// can fail, carrying the offset of the construct to blame. The VM resolves a
// failing PC to the last mark at or before it.
//
// Lowering never fails on user input. The only errors are internal invariant
// violations (ErrInvariant); they are raised with errorx.Panic deep inside the
// lowering and recovered at the API boundary.
package calc

import (
	"fmt"

	"github.com/joomcode/errorx"
)

// Compiler owns a Bytecode under construction.
type Compiler struct {
	prog    *Bytecode
	slots   map[string]int
	consts  map[constKey]uint32
	pending []pendingBody
	env     *Environment // set by WrapWith
}

type constKey struct {
	tag ValueTag
	lit interface{}
}

type pendingBody struct {
	proto *FuncProto
	body  Node
	scope *funcScope
}

// funcScope is the resolution scope of one function body.
type funcScope struct {
	params   []string
	captures []string
}

func (s *funcScope) local(name string) (int, bool) {
	if s == nil {
		return 0, false
	}
	for i, p := range s.params {
		if p == name {
			return i, true
		}
	}
	return 0, false
}

func (s *funcScope) capture(name string) (int, bool) {
	if s == nil {
		return 0, false
	}
	for i, c := range s.captures {
		if c == name {
			return i, true
		}
	}
	return 0, false
}

// NewCompiler returns a compiler with an empty program.
func NewCompiler() *Compiler {
	return &Compiler{
		prog:   &Bytecode{},
		slots:  map[string]int{},
		consts: map[constKey]uint32{},
	}
}

// Bytecode returns the program built so far.
func (c *Compiler) Bytecode() *Bytecode { return c.prog }

// DeclareGlobal returns the slot for name, creating it if needed.
func (c *Compiler) DeclareGlobal(name string) int {
	if s, ok := c.slots[name]; ok {
		return s
	}
	s := len(c.prog.Globals)
	c.prog.Globals = append(c.prog.Globals, name)
	c.slots[name] = s
	return s
}

// Compile lowers a whole program and returns the resulting Bytecode. When
// exportable is set the program may later be serialized with Dump.
func (c *Compiler) Compile(tree *Program, exportable bool) (*Bytecode, error) {
	if exportable {
		c.prog.Exportable = true
	}
	if err := c.Extend(tree); err != nil {
		return nil, err
	}
	return c.prog, nil
}

// Extend appends one fragment to the program. Previously emitted code,
// constants, function entries and global slots are left untouched. On failure
// the program is rolled back to its state before the call.
func (c *Compiler) Extend(tree *Program) (err error) {
	if tree == nil {
		return ErrInvariant.New("nil program")
	}
	snap := c.snapshot()
	defer func() {
		if r := recover(); r != nil {
			e, ok := errorx.ErrorFromPanic(r)
			if !ok {
				panic(r)
			}
			c.restore(snap)
			err = e
		}
	}()
	c.fragment(tree)
	return nil
}

type compilerSnapshot struct {
	code, consts, funcs, globals, frags, marks int
	exportable                                 bool
}

func (c *Compiler) snapshot() compilerSnapshot {
	p := c.prog
	return compilerSnapshot{len(p.Code), len(p.Consts), len(p.Funcs), len(p.Globals), len(p.Fragments), len(p.Marks), p.Exportable}
}

func (c *Compiler) restore(s compilerSnapshot) {
	p := c.prog
	p.Code = p.Code[:s.code]
	for k, i := range c.consts {
		if int(i) >= s.consts {
			delete(c.consts, k)
		}
	}
	p.Consts = p.Consts[:s.consts]
	p.Funcs = p.Funcs[:s.funcs]
	for _, name := range p.Globals[s.globals:] {
		delete(c.slots, name)
	}
	p.Globals = p.Globals[:s.globals]
	p.Fragments = p.Fragments[:s.frags]
	p.Marks = p.Marks[:s.marks]
	p.Exportable = s.exportable
	c.pending = nil
}

func fail(format string, args ...interface{}) {
	errorx.Panic(ErrInvariant.New(format, args...))
}

////////////////////////////////////////////////////////////////////////////////
//                             EMITTER
////////////////////////////////////////////////////////////////////////////////

func (c *Compiler) here() int { return len(c.prog.Code) }

func (c *Compiler) emit(op opcode, imm int) int {
	if imm < 0 || imm > maxImm {
		fail("immediate %d out of range for %s", imm, op)
	}
	at := c.here()
	c.prog.Code = append(c.prog.Code, pack(op, uint32(imm)))
	return at
}

func (c *Compiler) patch(at, to int) {
	c.prog.Code[at] = pack(uop(c.prog.Code[at]), uint32(to))
}

// mark records the blamed offset for the next instruction. Must be called
// immediately before emitting it.
func (c *Compiler) mark(offset int) {
	c.prog.Marks = append(c.prog.Marks, Mark{PC: c.here(), Offset: offset})
}

func (c *Compiler) emitMarked(op opcode, imm int, offset int) {
	c.mark(offset)
	c.emit(op, imm)
}

// k interns a constant.
func (c *Compiler) k(v Value) int {
	key := constKey{v.Tag, v.Data}
	if i, ok := c.consts[key]; ok {
		return int(i)
	}
	c.prog.Consts = append(c.prog.Consts, v)
	i := uint32(len(c.prog.Consts) - 1)
	c.consts[key] = i
	return int(i)
}

func (c *Compiler) fragment(tree *Program) {
	frag := &Fragment{Name: tree.Name, Source: tree.Source, Entry: c.here()}
	fi := len(c.prog.Fragments)
	c.prog.Fragments = append(c.prog.Fragments, frag)

	sawEnd := false
	for i, item := range tree.Items {
		if _, ok := item.(*End); ok {
			if i != len(tree.Items)-1 {
				fail("end marker at %d of %d items", i, len(tree.Items))
			}
			c.emit(opEnd, 0)
			sawEnd = true
			break
		}
		c.emit(opStmt, frag.Statements)
		frag.Statements++
		c.statement(fi, item)
	}
	if !sawEnd {
		fail("program %q has no end marker", tree.Name)
	}

	for len(c.pending) > 0 {
		pb := c.pending[0]
		c.pending = c.pending[1:]
		pb.proto.Entry = c.here()
		c.expr(fi, pb.scope, pb.body)
		c.emit(opReturn, 0)
	}
	frag.End = c.here()
}

func (c *Compiler) statement(fi int, n Node) {
	switch x := n.(type) {
	case *Assign:
		c.expr(fi, nil, x.Value)
		c.emitMarked(opSetGlobal, c.DeclareGlobal(x.Name), x.Pos())
	case *FuncDef:
		c.closure(fi, nil, x.Name, x.Params, x.Body, x.Pos())
		c.emitMarked(opSetGlobal, c.DeclareGlobal(x.Name), x.Pos())
	case *ExprStmt:
		c.expr(fi, nil, x.X)
		c.emit(opResult, 0)
	default:
		fail("unexpected statement node %T", n)
	}
}

// closure emits the capture loads and MAKECLOSURE for a function literal and
// queues its body.
func (c *Compiler) closure(fi int, scope *funcScope, name string, params []string, body Node, offset int) {
	var caps []string
	for _, v := range freeVars(params, body) {
		if _, ok := scope.local(v); ok {
			caps = append(caps, v)
		} else if _, ok := scope.capture(v); ok {
			caps = append(caps, v)
		}
	}
	for _, v := range caps {
		c.load(scope, v, offset)
	}
	proto := &FuncProto{
		Name:        name,
		Params:      append([]string(nil), params...),
		Captures:    caps,
		Fragment:    fi,
		Offset:      offset,
		NumCaptures: len(caps),
	}
	idx := len(c.prog.Funcs)
	c.prog.Funcs = append(c.prog.Funcs, proto)
	c.emit(opMakeClosure, idx)
	c.pending = append(c.pending, pendingBody{proto: proto, body: body, scope: &funcScope{params: proto.Params, captures: caps}})
}

func (c *Compiler) load(scope *funcScope, name string, offset int) {
	if i, ok := scope.local(name); ok {
		c.emit(opGetLocal, i)
		return
	}
	if i, ok := scope.capture(name); ok {
		c.emit(opGetCapture, i)
		return
	}
	c.emitMarked(opGetGlobal, c.DeclareGlobal(name), offset)
}

var binops = map[string]opcode{
	"+": opAdd, "-": opSub, "*": opMul, "/": opDiv, "%": opMod, "^": opPow,
	"==": opEq, "!=": opNe, "<": opLt, "<=": opLe, ">": opGt, ">=": opGe,
}

func (c *Compiler) expr(fi int, scope *funcScope, n Node) {
	switch x := n.(type) {
	case *Number:
		switch v := x.Value.(type) {
		case int64:
			c.emit(opConst, c.k(Int(v)))
		case float64:
			c.emit(opConst, c.k(Num(v)))
		default:
			fail("number literal of type %T", x.Value)
		}
	case *String:
		c.emit(opConst, c.k(Str(x.Value)))
	case *BoolLit:
		c.emit(opConst, c.k(Bool(x.Value)))
	case *Ident:
		c.load(scope, x.Name, x.Pos())
	case *Unary:
		c.expr(fi, scope, x.X)
		switch x.Op {
		case "-":
			c.emitMarked(opNeg, 0, x.Pos())
		case "not":
			c.emitMarked(opNot, 0, x.Pos())
		case "!":
			c.emitMarked(opFact, 0, x.Pos())
		default:
			fail("unknown unary operator %q", x.Op)
		}
	case *Binary:
		switch x.Op {
		case "and", "or":
			c.logic(fi, scope, x)
			return
		}
		op, ok := binops[x.Op]
		if !ok {
			fail("unknown binary operator %q", x.Op)
		}
		c.expr(fi, scope, x.L)
		c.expr(fi, scope, x.R)
		c.emitMarked(op, 0, x.Pos())
	case *If:
		c.expr(fi, scope, x.Cond)
		c.mark(x.Cond.Pos())
		jf := c.emit(opJumpIfFalse, 0)
		c.expr(fi, scope, x.Then)
		j := c.emit(opJump, 0)
		c.patch(jf, c.here())
		c.expr(fi, scope, x.Else)
		c.patch(j, c.here())
	case *ListLit:
		for _, it := range x.Items {
			c.expr(fi, scope, it)
		}
		c.emit(opMakeList, len(x.Items))
	case *Index:
		c.expr(fi, scope, x.X)
		c.expr(fi, scope, x.Index)
		c.emitMarked(opIndex, 0, x.Pos())
	case *Call:
		c.expr(fi, scope, x.Fn)
		for _, a := range x.Args {
			c.expr(fi, scope, a)
		}
		c.emitMarked(opCall, len(x.Args), x.Fn.Pos())
	case *Lambda:
		c.closure(fi, scope, "", x.Params, x.Body, x.Pos())
	default:
		fail("unexpected expression node %T", n)
	}
}

// logic lowers short-circuit and/or. Both operands must be booleans.
//
//	a and b:  a; JUMPIFFALSE F; b; BOOL; JUMP E; F: CONST false; E:
//	a or b:   a; JUMPIFFALSE R; CONST true; JUMP E; R: b; BOOL; E:
func (c *Compiler) logic(fi int, scope *funcScope, x *Binary) {
	c.expr(fi, scope, x.L)
	c.mark(x.Pos())
	jf := c.emit(opJumpIfFalse, 0)
	if x.Op == "and" {
		c.expr(fi, scope, x.R)
		c.emitMarked(opBool, 0, x.Pos())
		j := c.emit(opJump, 0)
		c.patch(jf, c.here())
		c.emit(opConst, c.k(Bool(false)))
		c.patch(j, c.here())
		return
	}
	c.emit(opConst, c.k(Bool(true)))
	j := c.emit(opJump, 0)
	c.patch(jf, c.here())
	c.expr(fi, scope, x.R)
	c.emitMarked(opBool, 0, x.Pos())
	c.patch(j, c.here())
}

// freeVars returns the names referenced in body that are not bound by params
// or by an inner lambda, in first-occurrence order.
func freeVars(params []string, body Node) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(bound map[string]bool, n Node)
	walk = func(bound map[string]bool, n Node) {
		switch x := n.(type) {
		case *Ident:
			if !bound[x.Name] && !seen[x.Name] {
				seen[x.Name] = true
				out = append(out, x.Name)
			}
		case *Unary:
			walk(bound, x.X)
		case *Binary:
			walk(bound, x.L)
			walk(bound, x.R)
		case *If:
			walk(bound, x.Cond)
			walk(bound, x.Then)
			walk(bound, x.Else)
		case *ListLit:
			for _, it := range x.Items {
				walk(bound, it)
			}
		case *Index:
			walk(bound, x.X)
			walk(bound, x.Index)
		case *Call:
			walk(bound, x.Fn)
			for _, a := range x.Args {
				walk(bound, a)
			}
		case *Lambda:
			inner := make(map[string]bool, len(bound)+len(x.Params))
			for k := range bound {
				inner[k] = true
			}
			for _, p := range x.Params {
				inner[p] = true
			}
			walk(inner, x.Body)
		case *Number, *String, *BoolLit:
		default:
			fail("unexpected expression node %T", n)
		}
	}
	bound := map[string]bool{}
	for _, p := range params {
		bound[p] = true
	}
	walk(bound, body)
	return out
}

// String gives a one-line summary, handy in debug output.
func (c *Compiler) String() string {
	p := c.prog
	return fmt.Sprintf("compiler{code=%d consts=%d funcs=%d globals=%d fragments=%d}",
		len(p.Code), len(p.Consts), len(p.Funcs), len(p.Globals), len(p.Fragments))
}
