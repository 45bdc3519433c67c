// runtime.go: the builtin environment and program wrapping.
//
// PUBLIC API
// ----------
//
//	type Builtin      a named host function (arity bounds, purity flag)
//	type Environment  immutable table of builtins and constants for one session
//	NewEnvironment(out, extra...) / DefaultEnvironment()
//	Wrap(c, tree, exportable) / WrapWith(c, env, tree, exportable)
//	type Executable   wrapped program ready for an Interpreter
//
// Wrapping declares a global slot for every environment name in the
// compiler's program and, when a tree is given, compiles it. It never runs
// anything. Wrapping the same compiler twice with the same environment is a
// no-op apart from compiling the new tree.
//
// Environment names are read-only: assigning to one is a runtime fault.
// Builtin failures are reported without a source link.
package calc

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"src.elv.sh/pkg/persistent/vector"
)

// Builtin is a host function callable from calc code.
type Builtin struct {
	Name    string
	MinArgs int
	MaxArgs int  // < 0 means variadic
	Pure    bool // results may be memoized by callers
	Fn      func(args []Value) (Value, error)
}

func (b *Builtin) arityOK(n int) bool {
	return n >= b.MinArgs && (b.MaxArgs < 0 || n <= b.MaxArgs)
}

func (b *Builtin) arityText() string {
	switch {
	case b.MaxArgs < 0:
		return fmt.Sprintf("at least %d", b.MinArgs)
	case b.MinArgs == b.MaxArgs:
		return strconv.Itoa(b.MinArgs)
	}
	return fmt.Sprintf("%d to %d", b.MinArgs, b.MaxArgs)
}

// Environment is the global namespace a program executes against.
type Environment struct {
	names  []string
	values map[string]Value
}

// NewEnvironment builds the standard environment. print writes to out; extra
// builtins are added after (and may shadow) the standard ones.
func NewEnvironment(out io.Writer, extra ...*Builtin) *Environment {
	env := &Environment{values: map[string]Value{}}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for _, b := range standardBuiltins(out, rng) {
		env.add(b.Name, Value{Tag: VTBuiltin, Data: b})
	}
	env.add("pi", Num(math.Pi))
	env.add("e", Num(math.E))
	env.add("tau", Num(2*math.Pi))
	for _, b := range extra {
		env.add(b.Name, Value{Tag: VTBuiltin, Data: b})
	}
	return env
}

// DefaultEnvironment is NewEnvironment writing to standard output.
func DefaultEnvironment() *Environment { return NewEnvironment(os.Stdout) }

func (e *Environment) add(name string, v Value) {
	if _, ok := e.values[name]; !ok {
		e.names = append(e.names, name)
	}
	e.values[name] = v
}

// Lookup returns the value bound to name.
func (e *Environment) Lookup(name string) (Value, bool) {
	v, ok := e.values[name]
	return v, ok
}

// Names lists the environment's names in declaration order.
func (e *Environment) Names() []string { return append([]string(nil), e.names...) }

// Executable is a wrapped program: bytecode plus the environment it runs in.
type Executable struct {
	Program  *Bytecode
	Env      *Environment
	compiler *Compiler
}

// Compiler returns the compiler backing the program.
func (x *Executable) Compiler() *Compiler { return x.compiler }

// Wrap attaches the default environment. See WrapWith.
func Wrap(c *Compiler, tree *Program, exportable bool) (*Executable, error) {
	return WrapWith(c, nil, tree, exportable)
}

// WrapWith attaches env to the compiler's program and compiles tree if it is
// not nil. A nil env reuses the environment of an earlier wrap, or the
// default one. Re-wrapping with a different environment is an error.
func WrapWith(c *Compiler, env *Environment, tree *Program, exportable bool) (*Executable, error) {
	switch {
	case c.env == nil && env == nil:
		env = DefaultEnvironment()
	case env == nil:
		env = c.env
	case c.env != nil && c.env != env:
		return nil, ErrInvariant.New("program is already wrapped with another environment")
	}
	c.env = env
	for _, name := range env.names {
		c.DeclareGlobal(name)
	}
	if exportable {
		c.prog.Exportable = true
	}
	if tree != nil {
		if err := c.Extend(tree); err != nil {
			return nil, err
		}
	}
	return &Executable{Program: c.prog, Env: env, compiler: c}, nil
}

////////////////////////////////////////////////////////////////////////////////
//                             BUILTINS
////////////////////////////////////////////////////////////////////////////////

func argErr(name string, i int, want string, got Value) error {
	return fmt.Errorf("%s: argument %d must be %s, got %s", name, i+1, want, typeName(got))
}

func numArg(name string, args []Value, i int) (float64, error) {
	if !isNumeric(args[i]) {
		return 0, argErr(name, i, "a number", args[i])
	}
	return toFloat(args[i]), nil
}

func intArg(name string, args []Value, i int) (int64, error) {
	switch args[i].Tag {
	case VTInt:
		return args[i].Data.(int64), nil
	case VTNum:
		f := args[i].Data.(float64)
		if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return int64(f), nil
		}
	}
	return 0, argErr(name, i, "an integer", args[i])
}

func listArg(name string, args []Value, i int) (vector.Vector, error) {
	if args[i].Tag != VTList {
		return nil, argErr(name, i, "a list", args[i])
	}
	return args[i].vec(), nil
}

// math1 wraps a float → float function; NaN results are domain errors.
func math1(name string, f func(float64) float64) *Builtin {
	return &Builtin{Name: name, MinArgs: 1, MaxArgs: 1, Pure: true, Fn: func(args []Value) (Value, error) {
		x, err := numArg(name, args, 0)
		if err != nil {
			return Null, err
		}
		r := f(x)
		if math.IsNaN(r) && !math.IsNaN(x) {
			return Null, fmt.Errorf("%s: math domain error", name)
		}
		return Num(r), nil
	}}
}

// toIntish returns an int when f fits, else the float.
func toIntish(name string, f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null, fmt.Errorf("%s: cannot convert %s to an integer", name, formatNum(f))
	}
	if f >= -(1<<63) && f < 1<<63 {
		return Int(int64(f)), nil
	}
	return Num(f), nil
}

func rounding(name string, f func(float64) float64) *Builtin {
	return &Builtin{Name: name, MinArgs: 1, MaxArgs: 1, Pure: true, Fn: func(args []Value) (Value, error) {
		if args[0].Tag == VTInt {
			return args[0], nil
		}
		x, err := numArg(name, args, 0)
		if err != nil {
			return Null, err
		}
		return toIntish(name, f(x))
	}}
}

// extremum implements max/min over arguments or over a single list.
func extremum(name string, better opcode) *Builtin {
	return &Builtin{Name: name, MinArgs: 1, MaxArgs: -1, Pure: true, Fn: func(args []Value) (Value, error) {
		xs := args
		if len(args) == 1 && args[0].Tag == VTList {
			xs = args[0].Items()
		}
		if len(xs) == 0 {
			return Null, fmt.Errorf("%s: empty sequence", name)
		}
		best := xs[0]
		for _, x := range xs[1:] {
			b, err := compare(better, x, best)
			if err != nil {
				return Null, fmt.Errorf("%s: %v", name, err)
			}
			if b.Data.(bool) {
				best = x
			}
		}
		return best, nil
	}}
}

func gcd(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

const maxRange = 1 << 20

func standardBuiltins(out io.Writer, rng *rand.Rand) []*Builtin {
	return []*Builtin{
		{Name: "abs", MinArgs: 1, MaxArgs: 1, Pure: true, Fn: func(args []Value) (Value, error) {
			switch args[0].Tag {
			case VTInt:
				if args[0].Data.(int64) < 0 {
					return negate(args[0])
				}
				return args[0], nil
			case VTNum:
				return Num(math.Abs(args[0].Data.(float64))), nil
			}
			return Null, argErr("abs", 0, "a number", args[0])
		}},
		math1("sqrt", math.Sqrt),
		math1("sin", math.Sin),
		math1("cos", math.Cos),
		math1("tan", math.Tan),
		math1("asin", math.Asin),
		math1("acos", math.Acos),
		math1("atan", math.Atan),
		math1("exp", math.Exp),
		{Name: "ln", MinArgs: 1, MaxArgs: 1, Pure: true, Fn: func(args []Value) (Value, error) {
			x, err := numArg("ln", args, 0)
			if err != nil {
				return Null, err
			}
			if x <= 0 {
				return Null, errors.New("ln: math domain error")
			}
			return Num(math.Log(x)), nil
		}},
		{Name: "log", MinArgs: 1, MaxArgs: 2, Pure: true, Fn: func(args []Value) (Value, error) {
			x, err := numArg("log", args, 0)
			if err != nil {
				return Null, err
			}
			base := 10.0
			if len(args) == 2 {
				if base, err = numArg("log", args, 1); err != nil {
					return Null, err
				}
			}
			if x <= 0 || base <= 0 || base == 1 {
				return Null, errors.New("log: math domain error")
			}
			if base == 10 {
				return Num(math.Log10(x)), nil
			}
			return Num(math.Log(x) / math.Log(base)), nil
		}},
		rounding("floor", math.Floor),
		rounding("ceil", math.Ceil),
		rounding("round", math.RoundToEven),
		extremum("max", opGt),
		extremum("min", opLt),
		{Name: "gcd", MinArgs: 2, MaxArgs: 2, Pure: true, Fn: func(args []Value) (Value, error) {
			a, err := intArg("gcd", args, 0)
			if err != nil {
				return Null, err
			}
			b, err := intArg("gcd", args, 1)
			if err != nil {
				return Null, err
			}
			return Int(gcd(a, b)), nil
		}},
		{Name: "lcm", MinArgs: 2, MaxArgs: 2, Pure: true, Fn: func(args []Value) (Value, error) {
			a, err := intArg("lcm", args, 0)
			if err != nil {
				return Null, err
			}
			b, err := intArg("lcm", args, 1)
			if err != nil {
				return Null, err
			}
			if a == 0 || b == 0 {
				return Int(0), nil
			}
			r, ok := mulInt(a/gcd(a, b), b)
			if !ok {
				return Null, errors.New("lcm: result too large")
			}
			if r < 0 {
				r = -r
			}
			return Int(r), nil
		}},
		{Name: "len", MinArgs: 1, MaxArgs: 1, Pure: true, Fn: func(args []Value) (Value, error) {
			switch args[0].Tag {
			case VTList:
				return Int(int64(args[0].vec().Len())), nil
			case VTStr:
				return Int(int64(len([]rune(args[0].Data.(string))))), nil
			}
			return Null, argErr("len", 0, "a list or string", args[0])
		}},
		{Name: "sum", MinArgs: 1, MaxArgs: 1, Pure: true, Fn: func(args []Value) (Value, error) {
			v, err := listArg("sum", args, 0)
			if err != nil {
				return Null, err
			}
			acc := Int(0)
			for it := v.Iterator(); it.HasElem(); it.Next() {
				if acc, err = arith(opAdd, acc, it.Elem().(Value)); err != nil {
					return Null, fmt.Errorf("sum: %v", err)
				}
			}
			return acc, nil
		}},
		{Name: "range", MinArgs: 1, MaxArgs: 2, Pure: true, Fn: func(args []Value) (Value, error) {
			lo, hi := int64(0), int64(0)
			var err error
			if len(args) == 1 {
				hi, err = intArg("range", args, 0)
			} else if lo, err = intArg("range", args, 0); err == nil {
				hi, err = intArg("range", args, 1)
			}
			if err != nil {
				return Null, err
			}
			// the span is computed unsigned so extreme bounds cannot wrap
			if hi > lo && uint64(hi)-uint64(lo) > maxRange {
				return Null, errors.New("range: too many elements")
			}
			v := vector.Empty
			for i := lo; i < hi; i++ {
				v = v.Conj(Int(i))
			}
			return listOf(v), nil
		}},
		{Name: "head", MinArgs: 1, MaxArgs: 1, Pure: true, Fn: func(args []Value) (Value, error) {
			v, err := listArg("head", args, 0)
			if err != nil {
				return Null, err
			}
			if v.Len() == 0 {
				return Null, errors.New("head: empty list")
			}
			x, _ := v.Index(0)
			return x.(Value), nil
		}},
		{Name: "tail", MinArgs: 1, MaxArgs: 1, Pure: true, Fn: func(args []Value) (Value, error) {
			v, err := listArg("tail", args, 0)
			if err != nil {
				return Null, err
			}
			if v.Len() == 0 {
				return Null, errors.New("tail: empty list")
			}
			return listOf(v.SubVector(1, v.Len())), nil
		}},
		{Name: "append", MinArgs: 2, MaxArgs: 2, Pure: true, Fn: func(args []Value) (Value, error) {
			v, err := listArg("append", args, 0)
			if err != nil {
				return Null, err
			}
			return listOf(v.Conj(args[1])), nil
		}},
		{Name: "str", MinArgs: 1, MaxArgs: 1, Pure: true, Fn: func(args []Value) (Value, error) {
			if args[0].Tag == VTStr {
				return args[0], nil
			}
			return Str(args[0].String()), nil
		}},
		{Name: "int", MinArgs: 1, MaxArgs: 1, Pure: true, Fn: func(args []Value) (Value, error) {
			switch args[0].Tag {
			case VTInt:
				return args[0], nil
			case VTNum:
				return toIntish("int", math.Trunc(args[0].Data.(float64)))
			case VTBool:
				if args[0].Data.(bool) {
					return Int(1), nil
				}
				return Int(0), nil
			case VTStr:
				s := strings.TrimSpace(args[0].Data.(string))
				n, err := strconv.ParseInt(s, 10, 64)
				if err != nil {
					return Null, fmt.Errorf("int: invalid literal %q", s)
				}
				return Int(n), nil
			}
			return Null, argErr("int", 0, "a number, bool or string", args[0])
		}},
		{Name: "float", MinArgs: 1, MaxArgs: 1, Pure: true, Fn: func(args []Value) (Value, error) {
			switch args[0].Tag {
			case VTInt, VTNum:
				return Num(toFloat(args[0])), nil
			case VTStr:
				s := strings.TrimSpace(args[0].Data.(string))
				f, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return Null, fmt.Errorf("float: invalid literal %q", s)
				}
				return Num(f), nil
			}
			return Null, argErr("float", 0, "a number or string", args[0])
		}},
		{Name: "print", MinArgs: 0, MaxArgs: -1, Pure: false, Fn: func(args []Value) (Value, error) {
			parts := make([]string, len(args))
			for i, a := range args {
				if a.Tag == VTStr {
					parts[i] = a.Data.(string)
				} else {
					parts[i] = a.String()
				}
			}
			if _, err := fmt.Fprintln(out, strings.Join(parts, " ")); err != nil {
				return Null, fmt.Errorf("print: %v", err)
			}
			return Null, nil
		}},
		{Name: "random", MinArgs: 0, MaxArgs: 0, Pure: false, Fn: func(args []Value) (Value, error) {
			return Num(rng.Float64()), nil
		}},
	}
}
