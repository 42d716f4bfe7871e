package expr

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Kind is the dynamic type of a Value.
type Kind int

const (
	Undefined Kind = iota
	Null
	Bool
	Number
	String
	Object
)

func (k Kind) String() string {
	switch k {
	case Undefined:
		return "undefined"
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	default:
		return "object"
	}
}

// Value is the result of evaluating an expression. The zero Value is
// Undefined.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	raw  any
}

// UndefinedValue is returned for unknown paths.
var UndefinedValue = Value{}

// Of converts a Go value obtained from JSON, YAML or executor outputs.
func Of(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{kind: Null}
	case Value:
		return x
	case bool:
		return Value{kind: Bool, b: x, raw: x}
	case string:
		return Value{kind: String, s: x, raw: x}
	case float64:
		return Value{kind: Number, n: x, raw: x}
	case float32:
		return Value{kind: Number, n: float64(x), raw: x}
	case int:
		return Value{kind: Number, n: float64(x), raw: x}
	case int8:
		return Value{kind: Number, n: float64(x), raw: x}
	case int16:
		return Value{kind: Number, n: float64(x), raw: x}
	case int32:
		return Value{kind: Number, n: float64(x), raw: x}
	case int64:
		return Value{kind: Number, n: float64(x), raw: x}
	case uint:
		return Value{kind: Number, n: float64(x), raw: x}
	case uint8:
		return Value{kind: Number, n: float64(x), raw: x}
	case uint16:
		return Value{kind: Number, n: float64(x), raw: x}
	case uint32:
		return Value{kind: Number, n: float64(x), raw: x}
	case uint64:
		return Value{kind: Number, n: float64(x), raw: x}
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{kind: String, s: x.String(), raw: x.String()}
		}
		return Value{kind: Number, n: f, raw: f}
	default:
		return Value{kind: Object, raw: v}
	}
}

func boolValue(b bool) Value { return Value{kind: Bool, b: b, raw: b} }

// Kind returns the dynamic kind.
func (v Value) Kind() Kind { return v.kind }

// IsUndefined reports whether the value came from an unknown path.
func (v Value) IsUndefined() bool { return v.kind == Undefined }

// Raw returns the underlying Go value; nil for Undefined and Null.
func (v Value) Raw() any { return v.raw }

// Truthy converts the value to a boolean for use as a condition.
// Undefined and null are false.
func (v Value) Truthy() bool {
	switch v.kind {
	case Bool:
		return v.b
	case Number:
		return v.n != 0
	case String:
		return v.s != ""
	case Object:
		return true
	default:
		return false
	}
}

// Text renders the value for string interpolation.
func (v Value) Text() string {
	switch v.kind {
	case Undefined, Null:
		return ""
	case String:
		return v.s
	case Object:
		data, err := json.Marshal(v.raw)
		if err != nil {
			return fmt.Sprint(v.raw)
		}
		return string(data)
	default:
		return fmt.Sprint(v.raw)
	}
}

func (v Value) String() string {
	if v.kind == Undefined {
		return "undefined"
	}
	if v.kind == Null {
		return "null"
	}
	if v.kind == String {
		return fmt.Sprintf("%q", v.s)
	}
	return v.Text()
}

func equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Null:
		return true
	case Bool:
		return a.b == b.b
	case Number:
		return a.n == b.n
	case String:
		return a.s == b.s
	default:
		return reflect.DeepEqual(a.raw, b.raw)
	}
}
