// bytecode.go: the compiled program representation.
//
// A Bytecode is one linear instruction stream shared by every fragment that
// has been compiled into it. Fragments are laid out back to back:
//
//	fragment 0:  STMT 0 ... STMT 1 ... END   <function bodies of fragment 0>
//	fragment 1:  STMT 0 ... END              <function bodies of fragment 1>
//
// Appending a fragment never rewrites an earlier instruction, constant,
// function entry or global slot, so code that was valid before an append stays
// valid after it.
//
// Instructions are 32 bits: the opcode in the top byte and a 24-bit immediate.
package calc

import (
	"fmt"
	"sort"

	"github.com/joomcode/errorx"
)

type opcode uint8

const (
	opNop opcode = iota

	// constants & names
	opConst       // push Consts[imm]
	opGetGlobal   // push globals[imm]; fails if unbound
	opSetGlobal   // pop → globals[imm]
	opGetLocal    // push frame local imm
	opGetCapture  // push closure capture imm
	opMakeClosure // pop Funcs[imm].NumCaptures values → push closure

	// lists
	opMakeList // pop imm values → push list
	opIndex    // pop idx, list → push list[idx]

	// arithmetic / compare / logic
	opAdd
	opSub
	opMul
	opDiv
	opMod
	opPow
	opNeg
	opNot
	opFact
	opEq
	opNe
	opLt
	opLe
	opGt
	opGe
	opBool // fail unless top is a bool

	// control flow
	opJump        // ip = imm
	opJumpIfFalse // pop cond; if false => ip = imm
	opCall        // argc = imm; pops args then callee; pushes result
	opReturn      // pop v; leave the current frame

	// statement boundaries
	opStmt   // checkpoint before top-level statement imm
	opResult // pop → result of the current run
	opEnd    // end of fragment; commits and moves to the next fragment

	opCount
)

var opNames = [...]string{
	opNop:         "NOP",
	opConst:       "CONST",
	opGetGlobal:   "GETGLOBAL",
	opSetGlobal:   "SETGLOBAL",
	opGetLocal:    "GETLOCAL",
	opGetCapture:  "GETCAPTURE",
	opMakeClosure: "MAKECLOSURE",
	opMakeList:    "MAKELIST",
	opIndex:       "INDEX",
	opAdd:         "ADD",
	opSub:         "SUB",
	opMul:         "MUL",
	opDiv:         "DIV",
	opMod:         "MOD",
	opPow:         "POW",
	opNeg:         "NEG",
	opNot:         "NOT",
	opFact:        "FACT",
	opEq:          "EQ",
	opNe:          "NE",
	opLt:          "LT",
	opLe:          "LE",
	opGt:          "GT",
	opGe:          "GE",
	opBool:        "BOOL",
	opJump:        "JUMP",
	opJumpIfFalse: "JUMPIFFALSE",
	opCall:        "CALL",
	opReturn:      "RETURN",
	opStmt:        "STMT",
	opResult:      "RESULT",
	opEnd:         "END",
}

func (op opcode) String() string {
	if op < opCount {
		return opNames[op]
	}
	return fmt.Sprintf("OP(%d)", uint8(op))
}

func opByName(name string) (opcode, bool) {
	for i, n := range opNames {
		if n == name {
			return opcode(i), true
		}
	}
	return 0, false
}

// pack/unpack helpers
func pack(op opcode, imm uint32) uint32 { return uint32(op)<<24 | (imm & 0xFFFFFF) }
func uop(i uint32) opcode               { return opcode(i >> 24) }
func uimm(i uint32) uint32              { return i & 0xFFFFFF }

const maxImm = 0xFFFFFF

// FuncProto is one entry of the function table.
type FuncProto struct {
	Name        string   // "" for lambdas
	Params      []string // parameter names; locals 0..len-1
	Captures    []string // captured names, in capture-slot order
	Entry       int      // PC of the first body instruction
	Fragment    int      // index of the defining fragment
	Offset      int      // source offset of the definition
	NumCaptures int
}

// Fragment is one appended unit of top-level source.
type Fragment struct {
	Name       string
	Source     string
	Entry      int // PC of the first STMT
	End        int // one past the last instruction (function bodies included)
	Statements int
}

// Mark maps a PC to the source offset of the construct that may fail there.
type Mark struct {
	PC     int
	Offset int
}

// Bytecode is a compiled program.
type Bytecode struct {
	Code       []uint32
	Consts     []Value
	Funcs      []*FuncProto
	Globals    []string // slot → name
	Fragments  []*Fragment
	Marks      []Mark // sorted by PC
	Exportable bool
}

// GlobalSlot returns the slot of a named global.
func (b *Bytecode) GlobalSlot(name string) (int, bool) {
	for i, n := range b.Globals {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// fragmentAt returns the index of the fragment containing pc, or -1.
func (b *Bytecode) fragmentAt(pc int) int {
	i := sort.Search(len(b.Fragments), func(i int) bool { return b.Fragments[i].End > pc })
	if i < len(b.Fragments) && b.Fragments[i].Entry <= pc {
		return i
	}
	return -1
}

// markAt returns the source offset of the last mark at or before pc inside
// the fragment containing pc.
func (b *Bytecode) markAt(pc int) (frag int, offset int, ok bool) {
	frag = b.fragmentAt(pc)
	if frag < 0 {
		return -1, 0, false
	}
	i := sort.Search(len(b.Marks), func(i int) bool { return b.Marks[i].PC > pc }) - 1
	if i < 0 || b.Marks[i].PC < b.Fragments[frag].Entry {
		return frag, 0, false
	}
	return frag, b.Marks[i].Offset, true
}

// Validate checks that every reference in the program is in range: jump
// targets, constants, globals, function entries and fragment bounds. A
// failure is an internal invariant violation.
func (b *Bytecode) Validate() error {
	n := len(b.Code)
	for pc, ins := range b.Code {
		op, imm := uop(ins), int(uimm(ins))
		var bad bool
		switch op {
		case opConst:
			bad = imm >= len(b.Consts)
		case opGetGlobal, opSetGlobal:
			bad = imm >= len(b.Globals)
		case opMakeClosure:
			bad = imm >= len(b.Funcs)
		case opJump, opJumpIfFalse:
			bad = imm >= n
		default:
			bad = op >= opCount
		}
		if bad {
			return ErrInvariant.New("invalid instruction at pc %d: %s %d", pc, op, imm)
		}
	}
	for i, f := range b.Funcs {
		if f.Entry < 0 || f.Entry >= n {
			return ErrInvariant.New("function %d entry %d out of range", i, f.Entry)
		}
		if f.NumCaptures != len(f.Captures) {
			return ErrInvariant.New("function %d capture count mismatch", i)
		}
		if f.Fragment < 0 || f.Fragment >= len(b.Fragments) {
			return ErrInvariant.New("function %d fragment %d out of range", i, f.Fragment)
		}
	}
	prev := 0
	for i, f := range b.Fragments {
		if f.Entry != prev || f.End < f.Entry || f.End > n {
			return ErrInvariant.New("fragment %d spans [%d,%d) but expected to start at %d", i, f.Entry, f.End, prev)
		}
		prev = f.End
	}
	if prev != n {
		return ErrInvariant.New("fragments cover %d of %d instructions", prev, n)
	}
	for i := 1; i < len(b.Marks); i++ {
		if b.Marks[i].PC < b.Marks[i-1].PC {
			return ErrInvariant.New("marks out of order at %d", i)
		}
	}
	return nil
}

var (
	// Errors is the namespace of toolchain-internal failures.
	Errors = errorx.NewNamespace("calc")

	// ErrInvariant marks an internal defect: an unknown node kind, a bad
	// bytecode reference or a corrupted VM state. It is never a user fault.
	ErrInvariant = Errors.NewType("internal")
)

// IsInternal reports whether err is an internal invariant violation.
func IsInternal(err error) bool { return errorx.IsOfType(err, ErrInvariant) }
