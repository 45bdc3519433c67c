// trace.go: execution tracing.
//
// When tracing is on, the VM reports a TraceEvent to its Tracer before every
// instruction executes (TraceStep), plus a semantic event for statement
// boundaries, function entries, cache hits and returns. Tracing only observes;
// it never changes what a program computes.
package calc

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// TraceKind classifies a TraceEvent.
type TraceKind int

const (
	TraceStep      TraceKind = iota // an instruction is about to execute
	TraceStatement                  // a top-level statement is about to start
	TraceCall                       // a user function frame is being entered
	TraceCacheHit                   // a call was answered from the calling cache
	TraceReturn                     // a user function frame returned
)

var traceKindNames = [...]string{"step", "stmt", "call", "hit", "ret"}

func (k TraceKind) String() string {
	if int(k) < len(traceKindNames) {
		return traceKindNames[k]
	}
	return "?"
}

// TraceEvent describes one observable execution step.
type TraceEvent struct {
	Kind      TraceKind
	Session   string
	PC        int
	Op        string
	Imm       int
	Depth     int    // number of active user frames
	Fragment  string // name of the fragment owning PC
	Statement int    // statement index, for TraceStatement
	Func      string // function name, for call/hit/return
	Args      []Value
	Value     Value // result, for hit/return
}

func (e TraceEvent) String() string {
	switch e.Kind {
	case TraceStep:
		return fmt.Sprintf("%s %06d %s%-12s %d", e.Kind, e.PC, strings.Repeat("  ", e.Depth), e.Op, e.Imm)
	case TraceStatement:
		return fmt.Sprintf("%s %s:%d", e.Kind, e.Fragment, e.Statement)
	case TraceCall:
		return fmt.Sprintf("%s %s%s%s", e.Kind, strings.Repeat("  ", e.Depth), e.Func, argText(e.Args))
	default:
		return fmt.Sprintf("%s %s%s%s = %s", e.Kind, strings.Repeat("  ", e.Depth), e.Func, argText(e.Args), e.Value)
	}
}

func argText(args []Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Tracer receives trace events.
type Tracer interface {
	Trace(TraceEvent)
}

// TracerFunc adapts a function to Tracer.
type TracerFunc func(TraceEvent)

func (f TracerFunc) Trace(e TraceEvent) { f(e) }

type writerTracer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterTracer writes one line per event to w, prefixed by the session id.
func NewWriterTracer(w io.Writer) Tracer { return &writerTracer{w: w} }

func (t *writerTracer) Trace(e TraceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess := e.Session
	if len(sess) > 8 {
		sess = sess[len(sess)-8:]
	}
	fmt.Fprintf(t.w, "[%s] %s\n", sess, e)
}
