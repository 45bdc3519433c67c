// interpreter.go: the public face of the VM.
//
// PUBLIC API
// ----------
//
//	NewInterpreter(exe, opts...) *Interpreter
//	(*Interpreter).Run() / RunContext(ctx) / RunAsync(ctx) *Task
//	(*Interpreter).PrepareExtraCode(tree) error
//	(*Interpreter).SetTrace(on) / Trace()
//	(*Interpreter).Cache() / ID() / State() / Global(name)
//
// An Interpreter is one session: it owns the program it runs, the global
// bindings established so far and its CallingCache. Nothing is shared
// between sessions, and a session runs at most one execution at a time.
//
// Each run executes every fragment appended since the previous run, in order.
// Its result is the value of the last expression statement executed, or Null
// when there was none.
//
// Statement atomicity: global bindings are committed at each top-level
// statement boundary. A fault or a cancellation discards everything the
// interrupted statement did to the globals and abandons the rest of its
// fragment; statements that completed before it stay committed.
//
// Cancellation is cooperative. The context is polled before every top-level
// statement and before every call; work between two such checkpoints always
// runs to completion.
//
//// END_OF_PUBLIC
package calc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"src.elv.sh/pkg/persistent/vector"
)

// State is the lifecycle state of the most recent run.
type State int

const (
	StateReady State = iota
	StateRunning
	StateCompleted
	StateFaulted
	StateCancelled
)

var stateNames = [...]string{"ready", "running", "completed", "faulted", "cancelled"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Link ties a runtime fault to the source that caused it.
type Link struct {
	Name   string // fragment name
	Source string // fragment source text
	Offset int    // character offset into Source
}

// EvaluationError is a runtime fault. Link is nil when the fault has no
// traceable source location (for example, a failure inside a builtin).
type EvaluationError struct {
	Msg  string
	Link *Link
}

func (e *EvaluationError) Error() string {
	if e.Link != nil {
		return fmt.Sprintf("RUNTIME ERROR in %s at offset %d: %s", e.Link.Name, e.Link.Offset, e.Msg)
	}
	return "RUNTIME ERROR: " + e.Msg
}

var (
	// ErrCancelled is returned (wrapping the context's error) when a run is
	// stopped at a checkpoint.
	ErrCancelled = errors.New("evaluation cancelled")

	// ErrBusy is returned when a session is asked to do something while a
	// run is in progress.
	ErrBusy = errors.New("interpreter is already running")
)

// DefaultMaxDepth bounds the number of nested user function frames.
const DefaultMaxDepth = 4096

// Interpreter executes a wrapped program.
type Interpreter struct {
	exe      *Executable
	prog     *Bytecode
	id       ulid.ULID
	cache    *CallingCache
	tracer   Tracer
	trace    bool
	maxDepth int

	mu          sync.Mutex // held for the duration of a run
	state       atomic.Int32
	next        int           // next fragment to execute
	globals     vector.Vector // committed bindings; nil element = unbound
	deps        []bool        // slots read from inside a function call
	nextClosure uint64
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithTracer sets the trace sink. Tracing still has to be switched on.
func WithTracer(t Tracer) Option { return func(ip *Interpreter) { ip.tracer = t } }

// WithTrace switches tracing on or off from the start.
func WithTrace(on bool) Option { return func(ip *Interpreter) { ip.trace = on } }

// WithCache supplies the calling cache (for example a bounded one).
func WithCache(c *CallingCache) Option { return func(ip *Interpreter) { ip.cache = c } }

// WithMaxDepth bounds the call depth; n <= 0 keeps the default.
func WithMaxDepth(n int) Option {
	return func(ip *Interpreter) {
		if n > 0 {
			ip.maxDepth = n
		}
	}
}

// NewInterpreter starts a session on exe. Nothing is executed until Run.
func NewInterpreter(exe *Executable, opts ...Option) *Interpreter {
	ip := &Interpreter{
		exe:      exe,
		prog:     exe.Program,
		id:       ulid.Make(),
		maxDepth: DefaultMaxDepth,
		globals:  vector.Empty,
	}
	for _, o := range opts {
		o(ip)
	}
	if ip.cache == nil {
		ip.cache = NewCallingCache(0)
	}
	ip.ensureGlobals()
	return ip
}

// ID returns the session identifier.
func (ip *Interpreter) ID() string { return ip.id.String() }

// Cache returns the session's calling cache.
func (ip *Interpreter) Cache() *CallingCache { return ip.cache }

// Program returns the bytecode backing the session.
func (ip *Interpreter) Program() *Bytecode { return ip.prog }

// State reports the outcome of the most recent run.
func (ip *Interpreter) State() State { return State(ip.state.Load()) }

func (ip *Interpreter) setState(s State) { ip.state.Store(int32(s)) }

// SetTrace switches tracing. With no tracer configured, events are dropped.
func (ip *Interpreter) SetTrace(on bool) { ip.trace = on }

// Trace reports whether tracing is on.
func (ip *Interpreter) Trace() bool { return ip.trace }

// Global returns the committed value of a global binding.
func (ip *Interpreter) Global(name string) (Value, bool) {
	slot, ok := ip.prog.GlobalSlot(name)
	if !ok || slot >= ip.globals.Len() {
		return Null, false
	}
	v, _ := ip.globals.Index(slot)
	if v == nil {
		return Null, false
	}
	return v.(Value), true
}

// Run executes all pending fragments to completion or fault.
func (ip *Interpreter) Run() (Value, error) { return ip.RunContext(context.Background()) }

// RunContext is Run with cooperative cancellation through ctx.
func (ip *Interpreter) RunContext(ctx context.Context) (Value, error) {
	if !ip.mu.TryLock() {
		return Null, ErrBusy
	}
	defer ip.mu.Unlock()
	return ip.run(ctx)
}

// PrepareExtraCode appends tree to the session's program. It will run on
// the next Run.
func (ip *Interpreter) PrepareExtraCode(tree *Program) error {
	if !ip.mu.TryLock() {
		return ErrBusy
	}
	defer ip.mu.Unlock()
	if ip.exe.compiler == nil {
		return ErrInvariant.New("program has no compiler attached")
	}
	return ip.exe.compiler.Extend(tree)
}

// ensureGlobals grows the committed globals to cover every declared slot,
// binding environment names as they appear.
func (ip *Interpreter) ensureGlobals() {
	for i := ip.globals.Len(); i < len(ip.prog.Globals); i++ {
		if v, ok := ip.exe.Env.Lookup(ip.prog.Globals[i]); ok {
			ip.globals = ip.globals.Conj(v)
		} else {
			ip.globals = ip.globals.Conj(nil)
		}
	}
	for len(ip.deps) < len(ip.prog.Globals) {
		ip.deps = append(ip.deps, false)
	}
}

// invalidate drops cached results after a global they may depend on changed.
func (ip *Interpreter) invalidate() {
	ip.cache.Clear()
	for i := range ip.deps {
		ip.deps[i] = false
	}
}

func (ip *Interpreter) isEnvSlot(slot int) bool {
	_, ok := ip.exe.Env.Lookup(ip.prog.Globals[slot])
	return ok
}
