// vm.go: the bytecode machine.
//
// One machine executes one run. Locals live on the operand stack: a frame's
// parameters start at frame.base, directly above the callee value. Top-level
// code runs without a frame.
//
// Global writes go to a working copy of the session's persistent globals
// vector; commit publishes the working copy at a statement boundary and
// rollback throws it away.
package calc

import (
	"context"
	"errors"
	"fmt"

	"github.com/joomcode/errorx"
	"src.elv.sh/pkg/persistent/vector"
)

type frame struct {
	fn      *Closure
	ret     int     // pc to resume in the caller
	base    int     // stack index of local 0
	args    []Value // argument copy for the cache key
	tainted bool    // an impure builtin ran inside this call
}

type machine struct {
	ip     *Interpreter
	prog   *Bytecode
	ctx    context.Context
	stack  []Value
	frames []frame

	globals vector.Vector // working copy
	rebound bool          // the current statement rebound an existing global

	pending    Value // result of the current statement
	hasPending bool
	result     Value // result of the run so far
}

func (m *machine) push(v Value) { m.stack = append(m.stack, v) }

func (m *machine) pop() Value {
	n := len(m.stack) - 1
	if n < 0 {
		fail("stack underflow")
	}
	v := m.stack[n]
	m.stack = m.stack[:n]
	return v
}

func (m *machine) commit() {
	m.ip.globals = m.globals
	m.rebound = false
	if m.hasPending {
		m.result = m.pending
		m.hasPending = false
	}
}

func (m *machine) rollback() {
	m.globals = m.ip.globals
	if m.rebound {
		// entries computed under the discarded binding are stale
		m.ip.invalidate()
	}
	m.rebound = false
	m.hasPending = false
	m.stack = m.stack[:0]
	m.frames = m.frames[:0]
}

// checkpoint observes cancellation without blocking.
func (m *machine) checkpoint() error {
	select {
	case <-m.ctx.Done():
		return fmt.Errorf("%w: %w", ErrCancelled, m.ctx.Err())
	default:
		return nil
	}
}

// fault builds a linked runtime error for the instruction at pc.
func (m *machine) fault(pc int, format string, args ...interface{}) error {
	e := &EvaluationError{Msg: fmt.Sprintf(format, args...)}
	if fi, off, ok := m.prog.markAt(pc); ok {
		f := m.prog.Fragments[fi]
		e.Link = &Link{Name: f.Name, Source: f.Source, Offset: off}
	}
	return e
}

func (m *machine) taint() {
	for i := range m.frames {
		m.frames[i].tainted = true
	}
}

func (m *machine) emit(ev TraceEvent) {
	if m.ip.tracer == nil {
		return
	}
	ev.Session = m.ip.ID()
	ev.Depth = len(m.frames)
	m.ip.tracer.Trace(ev)
}

func (m *machine) fragmentName(pc int) string {
	if fi := m.prog.fragmentAt(pc); fi >= 0 {
		return m.prog.Fragments[fi].Name
	}
	return ""
}

func isCancel(err error) bool { return errors.Is(err, ErrCancelled) }

func funcName(c *Closure) string {
	if c.Proto.Name != "" {
		return c.Proto.Name
	}
	return "lambda"
}

// run executes pending fragments. Called with ip.mu held.
func (ip *Interpreter) run(ctx context.Context) (result Value, err error) {
	ip.setState(StateRunning)
	ip.ensureGlobals()
	m := &machine{ip: ip, prog: ip.prog, ctx: ctx, globals: ip.globals, result: Null}

	defer func() {
		if r := recover(); r != nil {
			m.rollback()
			if e, ok := errorx.ErrorFromPanic(r); ok && IsInternal(e) {
				err = e
			} else {
				err = ErrInvariant.New("vm panic: %v", r)
			}
			ip.setState(StateFaulted)
			result = Null
		}
	}()

	for ip.next < len(ip.prog.Fragments) {
		frag := ip.prog.Fragments[ip.next]
		ip.next++
		if err := m.exec(frag.Entry); err != nil {
			m.rollback()
			if isCancel(err) {
				ip.setState(StateCancelled)
			} else {
				ip.setState(StateFaulted)
			}
			return Null, err
		}
	}
	ip.setState(StateCompleted)
	return m.result, nil
}

func (m *machine) exec(pc int) error {
	prog := m.prog
	code, consts := prog.Code, prog.Consts
	ip := m.ip

	for {
		if pc < 0 || pc >= len(code) {
			return ErrInvariant.New("pc %d out of range", pc)
		}
		op, imm := uop(code[pc]), int(uimm(code[pc]))
		if ip.trace {
			m.emit(TraceEvent{Kind: TraceStep, PC: pc, Op: op.String(), Imm: imm, Fragment: m.fragmentName(pc)})
		}

		switch op {
		case opNop:

		case opConst:
			m.push(consts[imm])

		case opGetGlobal:
			v, _ := m.globals.Index(imm)
			if v == nil {
				return m.fault(pc, "name '%s' is not defined", prog.Globals[imm])
			}
			if len(m.frames) > 0 {
				ip.deps[imm] = true
			}
			m.push(v.(Value))

		case opSetGlobal:
			if ip.isEnvSlot(imm) {
				return m.fault(pc, "cannot assign to builtin '%s'", prog.Globals[imm])
			}
			if old, _ := m.globals.Index(imm); old != nil {
				m.rebound = true
				if ip.deps[imm] {
					ip.invalidate()
				}
			}
			m.globals = m.globals.Assoc(imm, m.pop())

		case opGetLocal:
			m.push(m.stack[m.frames[len(m.frames)-1].base+imm])

		case opGetCapture:
			m.push(m.frames[len(m.frames)-1].fn.Captures[imm])

		case opMakeClosure:
			proto := prog.Funcs[imm]
			n := len(m.stack) - proto.NumCaptures
			caps := append([]Value(nil), m.stack[n:]...)
			m.stack = m.stack[:n]
			ip.nextClosure++
			m.push(Value{Tag: VTFun, Data: &Closure{Proto: proto, Captures: caps, id: ip.nextClosure}})

		case opMakeList:
			n := len(m.stack) - imm
			v := makeList(m.stack[n:])
			m.stack = m.stack[:n]
			m.push(v)

		case opIndex:
			i := m.pop()
			x := m.pop()
			v, err := index(x, i)
			if err != nil {
				return m.fault(pc, "%v", err)
			}
			m.push(v)

		case opAdd, opSub, opMul, opDiv, opMod, opPow:
			b := m.pop()
			a := m.pop()
			v, err := arith(op, a, b)
			if err != nil {
				return m.fault(pc, "%v", err)
			}
			m.push(v)

		case opEq, opNe, opLt, opLe, opGt, opGe:
			b := m.pop()
			a := m.pop()
			v, err := compare(op, a, b)
			if err != nil {
				return m.fault(pc, "%v", err)
			}
			m.push(v)

		case opNeg, opNot, opFact:
			var v Value
			var err error
			switch x := m.pop(); op {
			case opNeg:
				v, err = negate(x)
			case opNot:
				v, err = logicalNot(x)
			default:
				v, err = factorial(x)
			}
			if err != nil {
				return m.fault(pc, "%v", err)
			}
			m.push(v)

		case opBool:
			if t := m.stack[len(m.stack)-1]; t.Tag != VTBool {
				return m.fault(pc, "'and'/'or' expect bools, got %s", typeName(t))
			}

		case opJump:
			pc = imm
			continue

		case opJumpIfFalse:
			c := m.pop()
			if c.Tag != VTBool {
				return m.fault(pc, "condition must be a bool, got %s", typeName(c))
			}
			if !c.Data.(bool) {
				pc = imm
				continue
			}

		case opCall:
			if err := m.checkpoint(); err != nil {
				return err
			}
			next, err := m.call(pc, imm)
			if err != nil {
				return err
			}
			pc = next
			continue

		case opReturn:
			v := m.pop()
			top := len(m.frames) - 1
			if top < 0 {
				return ErrInvariant.New("return outside of a function at pc %d", pc)
			}
			f := m.frames[top]
			m.frames = m.frames[:top]
			m.stack = m.stack[:f.base-1]
			m.push(v)
			if !f.tainted {
				ip.cache.Store(f.fn, f.args, v)
			}
			if ip.trace {
				m.emit(TraceEvent{Kind: TraceReturn, PC: pc, Func: funcName(f.fn), Args: f.args, Value: v})
			}
			pc = f.ret
			continue

		case opStmt:
			m.commit()
			if err := m.checkpoint(); err != nil {
				return err
			}
			if ip.trace {
				m.emit(TraceEvent{Kind: TraceStatement, PC: pc, Fragment: m.fragmentName(pc), Statement: imm})
			}

		case opResult:
			m.pending = m.pop()
			m.hasPending = true

		case opEnd:
			m.commit()
			return nil

		default:
			return ErrInvariant.New("unknown opcode %d at pc %d", uint8(op), pc)
		}
		pc++
	}
}

// call dispatches CALL argc at pc and returns the next pc.
func (m *machine) call(pc, argc int) (int, error) {
	ci := len(m.stack) - argc - 1
	callee := m.stack[ci]
	args := m.stack[ci+1:]

	switch callee.Tag {
	case VTBuiltin:
		b := callee.Data.(*Builtin)
		if !b.arityOK(argc) {
			return 0, m.fault(pc, "%s expects %s arguments, got %d", b.Name, b.arityText(), argc)
		}
		if !b.Pure {
			m.taint()
		}
		v, err := b.Fn(append([]Value(nil), args...))
		if err != nil {
			return 0, &EvaluationError{Msg: err.Error()}
		}
		m.stack = m.stack[:ci]
		m.push(v)
		return pc + 1, nil

	case VTFun:
		cl := callee.Data.(*Closure)
		if want := len(cl.Proto.Params); argc != want {
			return 0, m.fault(pc, "%s expects %d arguments, got %d", funcName(cl), want, argc)
		}
		if v, ok := m.ip.cache.Lookup(cl, args); ok {
			if m.ip.trace {
				m.emit(TraceEvent{Kind: TraceCacheHit, PC: pc, Func: funcName(cl), Args: append([]Value(nil), args...), Value: v})
			}
			m.stack = m.stack[:ci]
			m.push(v)
			return pc + 1, nil
		}
		if len(m.frames) >= m.ip.maxDepth {
			return 0, m.fault(pc, "maximum recursion depth exceeded")
		}
		f := frame{fn: cl, ret: pc + 1, base: ci + 1, args: append([]Value(nil), args...)}
		m.frames = append(m.frames, f)
		if m.ip.trace {
			m.emit(TraceEvent{Kind: TraceCall, PC: pc, Func: funcName(cl), Args: f.args})
		}
		return cl.Proto.Entry, nil
	}
	return 0, m.fault(pc, "value of type %s is not callable", typeName(callee))
}
