package pagedb

import (
	"strconv"

	"github.com/pkg/errors"
)

type Type uint8

const (
	TypeInteger Type = iota
	TypeDouble
	TypeBoolean
	TypeChar
	TypeVarchar
)

// maxVarcharLen is the largest Varchar payload a single length byte can describe.
const maxVarcharLen = 255

var typeNames = map[Type]string{
	TypeInteger: "INTEGER",
	TypeDouble:  "DOUBLE",
	TypeBoolean: "BOOLEAN",
	TypeChar:    "CHAR",
	TypeVarchar: "VARCHAR",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// ParseType maps a type keyword to its Type.
func ParseType(s string) (Type, bool) {
	for t, name := range typeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// Value is a single typed attribute value. The zero Value is a non-null Integer 0.
type Value struct {
	Type Type
	Null bool

	i int32
	d float64
	b bool
	s string
}

func Int(v int32) Value      { return Value{Type: TypeInteger, i: v} }
func Double(v float64) Value { return Value{Type: TypeDouble, d: v} }
func Bool(v bool) Value      { return Value{Type: TypeBoolean, b: v} }
func Char(v string) Value    { return Value{Type: TypeChar, s: v} }
func Varchar(v string) Value { return Value{Type: TypeVarchar, s: v} }
func Null(t Type) Value      { return Value{Type: t, Null: true} }

func (v Value) Int() int32      { return v.i }
func (v Value) Double() float64 { return v.d }
func (v Value) Bool() bool      { return v.b }
func (v Value) Str() string     { return v.s }

func (v Value) String() string {
	if v.Null {
		return "null"
	}
	switch v.Type {
	case TypeInteger:
		return strconv.FormatInt(int64(v.i), 10)
	case TypeDouble:
		return strconv.FormatFloat(v.d, 'g', -1, 64)
	case TypeBoolean:
		return strconv.FormatBool(v.b)
	default:
		return v.s
	}
}

// ParseValue parses the textual form of a value of type t. "null" yields a null value.
func ParseValue(t Type, s string) (Value, error) {
	if s == "null" {
		return Null(t), nil
	}
	switch t {
	case TypeInteger:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return Value{}, errors.Errorf("invalid integer %q", s)
		}
		return Int(int32(n)), nil
	case TypeDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, errors.Errorf("invalid double %q", s)
		}
		return Double(f), nil
	case TypeBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, errors.Errorf("invalid boolean %q", s)
		}
		return Bool(b), nil
	case TypeChar:
		return Char(s), nil
	case TypeVarchar:
		return Varchar(s), nil
	}
	return Value{}, errors.Errorf("unknown type %v", t)
}

func (v Value) numeric() (float64, bool) {
	switch v.Type {
	case TypeInteger:
		return float64(v.i), true
	case TypeDouble:
		return v.d, true
	}
	return 0, false
}

// Equal reports whether Compare(a, b) == 0.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }
