package vm

import (
	"fmt"
	"math"
	"strings"
)

// BasicType is the kind of a value as recorded by the bytecode verifier.
type BasicType uint8

const (
	Illegal BasicType = iota
	Boolean
	Char
	Float
	Double
	Byte
	Short
	Int
	Long
	Object
	Array
	Void
)

var basicTypeNames = [...]string{
	Illegal: "illegal",
	Boolean: "boolean",
	Char:    "char",
	Float:   "float",
	Double:  "double",
	Byte:    "byte",
	Short:   "short",
	Int:     "int",
	Long:    "long",
	Object:  "object",
	Array:   "array",
	Void:    "void",
}

func (t BasicType) String() string {
	if int(t) < len(basicTypeNames) {
		return basicTypeNames[t]
	}
	return fmt.Sprintf("basictype(%d)", uint8(t))
}

// ParseBasicType parses the name of a basic type as printed by String.
func ParseBasicType(s string) (BasicType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range basicTypeNames {
		if name == s && BasicType(i) != Illegal {
			return BasicType(i), nil
		}
	}
	return Illegal, fmt.Errorf("unknown type %q", s)
}

// BasicTypeOf returns the basic type of a field descriptor such as "I",
// "Ljava/lang/String;" or "[J".
func BasicTypeOf(signature string) BasicType {
	if signature == "" {
		return Illegal
	}
	switch signature[0] {
	case 'Z':
		return Boolean
	case 'C':
		return Char
	case 'F':
		return Float
	case 'D':
		return Double
	case 'B':
		return Byte
	case 'S':
		return Short
	case 'I':
		return Int
	case 'J':
		return Long
	case 'L':
		return Object
	case '[':
		return Array
	case 'V':
		return Void
	}
	return Illegal
}

// SlotKind returns the kind a local variable slot of type t holds at run
// time: sub-int primitives are stored as ints and arrays as references.
func (t BasicType) SlotKind() BasicType {
	switch t {
	case Boolean, Char, Byte, Short:
		return Int
	case Array:
		return Object
	}
	return t
}

// Slots returns the number of local variable slots used by t.
func (t BasicType) Slots() int {
	if t == Long || t == Double {
		return 2
	}
	return 1
}

// IsReference reports whether t is Object or Array.
func (t BasicType) IsReference() bool {
	return t == Object || t == Array
}

// Value is the content of a local variable slot: primitive bits or a
// reference.
type Value struct {
	Kind BasicType
	bits uint64
	Ref  *Instance
}

func IntValue(i int32) Value        { return Value{Kind: Int, bits: uint64(uint32(i))} }
func LongValue(l int64) Value       { return Value{Kind: Long, bits: uint64(l)} }
func FloatValue(f float32) Value    { return Value{Kind: Float, bits: uint64(math.Float32bits(f))} }
func DoubleValue(d float64) Value   { return Value{Kind: Double, bits: math.Float64bits(d)} }
func ObjectValue(o *Instance) Value { return Value{Kind: Object, Ref: o} }
func (v Value) Int() int32          { return int32(uint32(v.bits)) }
func (v Value) Long() int64         { return int64(v.bits) }
func (v Value) Float() float32      { return math.Float32frombits(uint32(v.bits)) }
func (v Value) Double() float64     { return math.Float64frombits(v.bits) }
func (v Value) IsNull() bool        { return v.Kind == Object && v.Ref == nil }
func (v Value) Bits() uint64        { return v.bits }
func (v Value) Equal(w Value) bool  { return v.Kind == w.Kind && v.bits == w.bits && v.Ref == w.Ref }

func (v Value) String() string {
	switch v.Kind {
	case Int:
		return fmt.Sprintf("%d", v.Int())
	case Long:
		return fmt.Sprintf("%dL", v.Long())
	case Float:
		return fmt.Sprintf("%gf", v.Float())
	case Double:
		return fmt.Sprintf("%g", v.Double())
	case Object:
		if v.Ref == nil {
			return "null"
		}
		return v.Ref.String()
	case Illegal:
		return "<illegal>"
	}
	return fmt.Sprintf("%s(%#x)", v.Kind, v.bits)
}

// ParseValue parses a primitive literal of kind t. References can not be
// parsed, use ObjectValue.
func ParseValue(t BasicType, s string) (Value, error) {
	var err error
	switch t.SlotKind() {
	case Int:
		var i int32
		_, err = fmt.Sscan(s, &i)
		return IntValue(i), err
	case Long:
		var l int64
		_, err = fmt.Sscan(strings.TrimSuffix(s, "L"), &l)
		return LongValue(l), err
	case Float:
		var f float32
		_, err = fmt.Sscan(strings.TrimSuffix(s, "f"), &f)
		return FloatValue(f), err
	case Double:
		var d float64
		_, err = fmt.Sscan(s, &d)
		return DoubleValue(d), err
	case Object:
		if s == "null" {
			return ObjectValue(nil), nil
		}
	}
	return Value{}, fmt.Errorf("can not parse %q as %s", s, t)
}
