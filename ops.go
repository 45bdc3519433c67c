// ops.go: operator semantics shared by the VM and the builtins.
//
// Integers are int64; an operation that would overflow yields a float
// instead. Division of integers stays integral when exact. Modulo takes the
// sign of the divisor.
package calc

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strings"

	"src.elv.sh/pkg/persistent/vector"
)

var errDivZero = errors.New("division by zero")

func typeErr(op string, a, b Value) error {
	return fmt.Errorf("unsupported operand types for %s: %s and %s", op, typeName(a), typeName(b))
}

func addInt(a, b int64) (int64, bool) {
	c := a + b
	return c, (c > a) == (b > 0)
}

func subInt(a, b int64) (int64, bool) {
	c := a - b
	return c, (c < a) == (b > 0)
}

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	if (c < 0) != ((a < 0) != (b < 0)) || c/b != a {
		return c, false
	}
	return c, true
}

// realNum rejects NaN produced from non-NaN operands.
func realNum(f float64) (Value, error) {
	if math.IsNaN(f) {
		return Null, errors.New("result is not a real number")
	}
	return Num(f), nil
}

func arith(op opcode, a, b Value) (Value, error) {
	if a.Tag == VTInt && b.Tag == VTInt {
		return intArith(op, a.Data.(int64), b.Data.(int64))
	}
	if isNumeric(a) && isNumeric(b) {
		return floatArith(op, toFloat(a), toFloat(b))
	}
	if op == opAdd {
		switch {
		case a.Tag == VTStr && b.Tag == VTStr:
			return Str(a.Data.(string) + b.Data.(string)), nil
		case a.Tag == VTList && b.Tag == VTList:
			out := a.vec()
			for it := b.vec().Iterator(); it.HasElem(); it.Next() {
				out = out.Conj(it.Elem())
			}
			return listOf(out), nil
		}
	}
	if op == opMul {
		if a.Tag == VTStr && b.Tag == VTInt {
			return repeatStr(a.Data.(string), b.Data.(int64))
		}
		if a.Tag == VTInt && b.Tag == VTStr {
			return repeatStr(b.Data.(string), a.Data.(int64))
		}
	}
	return Null, typeErr(op.symbol(), a, b)
}

func repeatStr(s string, n int64) (Value, error) {
	if n < 0 {
		n = 0
	}
	if len(s) > 0 && n > int64(1<<24/len(s)) {
		return Null, errors.New("string repetition too large")
	}
	return Str(strings.Repeat(s, int(n))), nil
}

func intArith(op opcode, a, b int64) (Value, error) {
	switch op {
	case opAdd:
		if c, ok := addInt(a, b); ok {
			return Int(c), nil
		}
	case opSub:
		if c, ok := subInt(a, b); ok {
			return Int(c), nil
		}
	case opMul:
		if c, ok := mulInt(a, b); ok {
			return Int(c), nil
		}
	case opDiv:
		if b == 0 {
			return Null, errDivZero
		}
		if a%b == 0 && !(a == math.MinInt64 && b == -1) {
			return Int(a / b), nil
		}
	case opMod:
		if b == 0 {
			return Null, errDivZero
		}
		if b == -1 {
			return Int(0), nil
		}
		r := a % b
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		return Int(r), nil
	case opPow:
		if b >= 0 {
			if c, ok := powInt(a, b); ok {
				return Int(c), nil
			}
		} else if a == 0 {
			return Null, errDivZero
		}
	}
	return floatArith(op, float64(a), float64(b))
}

// powInt computes a^b by squaring; ok is false on overflow.
func powInt(a, b int64) (int64, bool) {
	result := int64(1)
	for b > 0 {
		if b&1 == 1 {
			var ok bool
			if result, ok = mulInt(result, a); !ok {
				return 0, false
			}
		}
		b >>= 1
		if b > 0 {
			var ok bool
			if a, ok = mulInt(a, a); !ok {
				return 0, false
			}
		}
	}
	return result, true
}

func floatArith(op opcode, a, b float64) (Value, error) {
	switch op {
	case opAdd:
		return Num(a + b), nil
	case opSub:
		return Num(a - b), nil
	case opMul:
		return Num(a * b), nil
	case opDiv:
		if b == 0 {
			return Null, errDivZero
		}
		return Num(a / b), nil
	case opMod:
		if b == 0 {
			return Null, errDivZero
		}
		r := math.Mod(a, b)
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		return Num(r), nil
	case opPow:
		if a == 0 && b < 0 {
			return Null, errDivZero
		}
		return realNum(math.Pow(a, b))
	}
	return Null, fmt.Errorf("bad arithmetic operator %s", op)
}

func compare(op opcode, a, b Value) (Value, error) {
	switch op {
	case opEq:
		return Bool(Equal(a, b)), nil
	case opNe:
		return Bool(!Equal(a, b)), nil
	}
	var c int
	switch {
	case isNumeric(a) && isNumeric(b):
		var ok bool
		if c, ok = numCmp(a, b); !ok {
			// NaN is unordered
			return Bool(false), nil
		}
	case a.Tag == VTStr && b.Tag == VTStr:
		c = strings.Compare(a.Data.(string), b.Data.(string))
	default:
		return Null, typeErr(op.symbol(), a, b)
	}
	switch op {
	case opLt:
		return Bool(c < 0), nil
	case opLe:
		return Bool(c <= 0), nil
	case opGt:
		return Bool(c > 0), nil
	case opGe:
		return Bool(c >= 0), nil
	}
	return Null, fmt.Errorf("bad comparison operator %s", op)
}

func cmp3(lt, gt bool) int {
	switch {
	case lt:
		return -1
	case gt:
		return 1
	}
	return 0
}

func negate(v Value) (Value, error) {
	switch v.Tag {
	case VTInt:
		n := v.Data.(int64)
		if n == math.MinInt64 {
			return Num(-float64(n)), nil
		}
		return Int(-n), nil
	case VTNum:
		return Num(-v.Data.(float64)), nil
	}
	return Null, fmt.Errorf("bad operand type for unary -: %s", typeName(v))
}

func logicalNot(v Value) (Value, error) {
	if v.Tag != VTBool {
		return Null, fmt.Errorf("'not' expects a bool, got %s", typeName(v))
	}
	return Bool(!v.Data.(bool)), nil
}

const maxFactorial = 10000

func factorial(v Value) (Value, error) {
	var n int64
	switch v.Tag {
	case VTInt:
		n = v.Data.(int64)
	case VTNum:
		f := v.Data.(float64)
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			return Null, errors.New("factorial is only defined for integers")
		}
		if f > maxFactorial {
			return Null, errors.New("factorial argument too large")
		}
		n = int64(f)
	default:
		return Null, fmt.Errorf("bad operand type for !: %s", typeName(v))
	}
	if n < 0 {
		return Null, errors.New("factorial is not defined for negative numbers")
	}
	if n > maxFactorial {
		return Null, errors.New("factorial argument too large")
	}
	acc := uint64(1)
	for i := uint64(2); i <= uint64(n); i++ {
		hi, lo := bits.Mul64(acc, i)
		if hi != 0 || lo > math.MaxInt64 {
			f := float64(acc)
			for j := i; j <= uint64(n); j++ {
				f *= float64(j)
			}
			return Num(f), nil
		}
		acc = lo
	}
	return Int(int64(acc)), nil
}

// index implements list[i] and string[i]; negative indices count from the end.
func index(x, i Value) (Value, error) {
	var k int64
	switch i.Tag {
	case VTInt:
		k = i.Data.(int64)
	case VTNum:
		f := i.Data.(float64)
		if f != math.Trunc(f) {
			return Null, fmt.Errorf("index must be an integer, got %s", i)
		}
		k = int64(f)
	default:
		return Null, fmt.Errorf("index must be an integer, got %s", typeName(i))
	}
	switch x.Tag {
	case VTList:
		v := x.vec()
		n := int64(v.Len())
		if k < 0 {
			k += n
		}
		if k < 0 || k >= n {
			return Null, fmt.Errorf("list index %s out of range", i)
		}
		e, _ := v.Index(int(k))
		return e.(Value), nil
	case VTStr:
		s := []rune(x.Data.(string))
		n := int64(len(s))
		if k < 0 {
			k += n
		}
		if k < 0 || k >= n {
			return Null, fmt.Errorf("string index %s out of range", i)
		}
		return Str(string(s[k])), nil
	}
	return Null, fmt.Errorf("value of type %s is not indexable", typeName(x))
}

func makeList(xs []Value) Value {
	v := vector.Empty
	for _, x := range xs {
		v = v.Conj(x)
	}
	return listOf(v)
}

func (op opcode) symbol() string {
	switch op {
	case opAdd:
		return "+"
	case opSub:
		return "-"
	case opMul:
		return "*"
	case opDiv:
		return "/"
	case opMod:
		return "%"
	case opPow:
		return "^"
	case opLt:
		return "<"
	case opLe:
		return "<="
	case opGt:
		return ">"
	case opGe:
		return ">="
	}
	return op.String()
}
