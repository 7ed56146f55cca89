package tags

import (
	"fmt"
	"strconv"
)

// Value is the live value of a tag or a physics output. It is a closed set
// of cases: Bool, Int and Float.
type Value interface {
	value()
	fmt.Stringer
}

// Bool is a boolean value.
type Bool bool

// Int is an integer value.
type Int int64

// Float is a floating-point value. Floats are produced by physics engines
// for continuous state and are never stored in a table cell as such.
type Float float64

func (Bool) value()  {}
func (Int) value()   {}
func (Float) value() {}

func (b Bool) String() string  { return strconv.FormatBool(bool(b)) }
func (i Int) String() string   { return strconv.FormatInt(int64(i), 10) }
func (f Float) String() string { return strconv.FormatFloat(float64(f), 'f', -1, 64) }

// AsBool interprets v as a boolean. Numbers are true when non-zero and a nil
// value is false.
func AsBool(v Value) bool {
	switch x := v.(type) {
	case Bool:
		return bool(x)
	case Int:
		return x != 0
	case Float:
		return x != 0
	default:
		return false
	}
}

// AsInt interprets v as an integer. Floats are truncated toward zero.
func AsInt(v Value) int64 {
	switch x := v.(type) {
	case Bool:
		if x {
			return 1
		}
		return 0
	case Int:
		return int64(x)
	case Float:
		return int64(x)
	default:
		return 0
	}
}

// AsFloat interprets v as a float.
func AsFloat(v Value) float64 {
	switch x := v.(type) {
	case Bool:
		if x {
			return 1
		}
		return 0
	case Int:
		return float64(x)
	case Float:
		return float64(x)
	default:
		return 0
	}
}

// ZeroValue returns the zero value for a tag type.
func ZeroValue(t Type) Value {
	if t == TypeBool {
		return Bool(false)
	}
	return Int(0)
}

// Encode converts v into the raw cell representation of a tag of type t.
func Encode(t Type, v Value) (int64, error) {
	switch t {
	case TypeBool:
		switch v.(type) {
		case Bool, Int:
			return AsInt(Bool(AsBool(v))), nil
		}
	case TypeInt:
		switch v.(type) {
		case Bool, Int, Float:
			return AsInt(v), nil
		}
	}
	return 0, fmt.Errorf("cannot store %T in %s tag", v, t)
}

// Decode converts a raw cell into a typed value.
func Decode(t Type, cell int64) Value {
	if t == TypeBool {
		return Bool(cell != 0)
	}
	return Int(cell)
}

// FromAny converts a Go scalar (as produced by YAML, JSON or script
// decoders) into a Value.
func FromAny(x any) (Value, error) {
	switch v := x.(type) {
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(v), nil
	case int32:
		return Int(v), nil
	case int64:
		return Int(v), nil
	case uint8:
		return Int(v), nil
	case float32:
		return Float(v), nil
	case float64:
		if v == float64(int64(v)) {
			return Int(int64(v)), nil
		}
		return Float(v), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", x)
	}
}
