// value.go: runtime values.
//
// Value is the universal carrier moved around by the VM. The Tag selects which
// Go type Data holds:
//
//	VTNull     nil
//	VTBool     bool
//	VTInt      int64
//	VTNum      float64
//	VTStr      string
//	VTList     vector.Vector of Value (persistent, shared freely)
//	VTFun      *Closure
//	VTBuiltin  *Builtin
//
// Values are immutable. Lists are persistent vectors, so "modifying" one always
// yields a new list and old references stay valid; the calling cache relies on
// this when it keeps argument lists as part of its keys.
package calc

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"src.elv.sh/pkg/persistent/vector"
)

// ValueTag enumerates all runtime kinds a Value may hold.
type ValueTag int

const (
	VTNull ValueTag = iota
	VTBool
	VTInt
	VTNum
	VTStr
	VTList
	VTFun
	VTBuiltin
)

var valueTagNames = [...]string{"null", "bool", "int", "num", "str", "list", "function", "builtin"}

func (t ValueTag) String() string {
	if int(t) < len(valueTagNames) {
		return valueTagNames[t]
	}
	return "unknown"
}

// Value is the universal runtime carrier used by the VM.
type Value struct {
	Tag  ValueTag
	Data interface{}
}

// Null is the singleton null Value.
var Null = Value{Tag: VTNull}

func Bool(b bool) Value   { return Value{Tag: VTBool, Data: b} }
func Int(n int64) Value   { return Value{Tag: VTInt, Data: n} }
func Num(f float64) Value { return Value{Tag: VTNum, Data: f} }
func Str(s string) Value  { return Value{Tag: VTStr, Data: s} }

// List builds a list value from xs.
func List(xs ...Value) Value {
	v := vector.Empty
	for _, x := range xs {
		v = v.Conj(x)
	}
	return Value{Tag: VTList, Data: v}
}

func listOf(v vector.Vector) Value { return Value{Tag: VTList, Data: v} }

// Items returns the elements of a list value as a slice.
func (v Value) Items() []Value {
	vec, ok := v.Data.(vector.Vector)
	if !ok {
		return nil
	}
	out := make([]Value, 0, vec.Len())
	for it := vec.Iterator(); it.HasElem(); it.Next() {
		out = append(out, it.Elem().(Value))
	}
	return out
}

func (v Value) vec() vector.Vector { return v.Data.(vector.Vector) }

// Closure is a user function value: a prototype from the function table plus
// the values it captured from enclosing functions.
type Closure struct {
	Proto    *FuncProto
	Captures []Value
	id       uint64 // unique within one interpreter session
}

// ID returns the closure's session-unique identity.
func (c *Closure) ID() uint64 { return c.id }

func (c *Closure) String() string {
	name := c.Proto.Name
	if name == "" {
		name = "lambda"
	}
	return fmt.Sprintf("<function %s/%d #%d>", name, len(c.Proto.Params), c.id)
}

// String renders the value the way the REPL prints results.
func (v Value) String() string {
	switch v.Tag {
	case VTNull:
		return "null"
	case VTBool:
		if v.Data.(bool) {
			return "true"
		}
		return "false"
	case VTInt:
		return strconv.FormatInt(v.Data.(int64), 10)
	case VTNum:
		return formatNum(v.Data.(float64))
	case VTStr:
		return strconv.Quote(v.Data.(string))
	case VTList:
		items := v.Items()
		parts := make([]string, len(items))
		for i, x := range items {
			parts[i] = x.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case VTFun:
		return v.Data.(*Closure).String()
	case VTBuiltin:
		return "<builtin " + v.Data.(*Builtin).Name + ">"
	}
	return "<unknown>"
}

func formatNum(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "infinity"
	case math.IsInf(f, -1):
		return "-infinity"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

// Equal reports structural equality. Integers and floats compare by numeric
// value, so 2 == 2.0.
func Equal(a, b Value) bool {
	if isNumeric(a) && isNumeric(b) {
		c, ok := numCmp(a, b)
		return ok && c == 0
	}
	if a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case VTNull:
		return true
	case VTBool:
		return a.Data.(bool) == b.Data.(bool)
	case VTStr:
		return a.Data.(string) == b.Data.(string)
	case VTList:
		av, bv := a.vec(), b.vec()
		if av.Len() != bv.Len() {
			return false
		}
		ai, bi := av.Iterator(), bv.Iterator()
		for ; ai.HasElem(); ai.Next() {
			if !Equal(ai.Elem().(Value), bi.Elem().(Value)) {
				return false
			}
			bi.Next()
		}
		return true
	case VTFun:
		return a.Data.(*Closure) == b.Data.(*Closure)
	case VTBuiltin:
		return a.Data.(*Builtin) == b.Data.(*Builtin)
	}
	return false
}

func isNumeric(v Value) bool { return v.Tag == VTInt || v.Tag == VTNum }

func toFloat(v Value) float64 {
	if v.Tag == VTInt {
		return float64(v.Data.(int64))
	}
	return v.Data.(float64)
}

// numCmp orders two numbers exactly, without rounding an int through
// float64. ok is false when either side is NaN.
func numCmp(a, b Value) (c int, ok bool) {
	switch {
	case a.Tag == VTInt && b.Tag == VTInt:
		x, y := a.Data.(int64), b.Data.(int64)
		return cmp3(x < y, x > y), true
	case a.Tag == VTInt:
		return intFloatCmp(a.Data.(int64), b.Data.(float64))
	case b.Tag == VTInt:
		c, ok = intFloatCmp(b.Data.(int64), a.Data.(float64))
		return -c, ok
	}
	x, y := a.Data.(float64), b.Data.(float64)
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0, false
	}
	return cmp3(x < y, x > y), true
}

func intFloatCmp(x int64, f float64) (int, bool) {
	switch {
	case math.IsNaN(f):
		return 0, false
	case f >= 1<<63:
		return -1, true
	case f < -(1 << 63):
		return 1, true
	}
	t := math.Trunc(f)
	if n := int64(t); x != n {
		return cmp3(x < n, x > n), true
	}
	return cmp3(f > t, f < t), true
}

// typeName is used in fault messages.
func typeName(v Value) string { return v.Tag.String() }
