// Package param holds the typed acquisition parameters attached to runs.
package param

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies the payload carried by a Value.
type Kind uint8

const (
	KindString Kind = iota
	KindFloat
	KindInt
	KindBool
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// floatTolerance is the relative tolerance used when comparing floats.
// Header values are decimal strings, so exact equality is too strict.
const floatTolerance = 1e-9

// Value is a single typed parameter value with its unit.
// Valid is false when the source declared the parameter but its value
// could not be read.
type Value struct {
	Kind  Kind     `json:"kind" bson:"kind"`
	Str   string   `json:"str,omitempty" bson:"str,omitempty"`
	Float float64  `json:"float,omitempty" bson:"float,omitempty"`
	Int   int64    `json:"int,omitempty" bson:"int,omitempty"`
	Bool  bool     `json:"bool,omitempty" bson:"bool,omitempty"`
	List  []string `json:"list,omitempty" bson:"list,omitempty"`
	Unit  string   `json:"unit,omitempty" bson:"unit,omitempty"`
	Valid bool     `json:"valid" bson:"valid"`
}

func String(s string) Value { return Value{Kind: KindString, Str: s, Valid: true} }

func Float(f float64, unit string) Value {
	return Value{Kind: KindFloat, Float: f, Unit: unit, Valid: true}
}

func Int(i int64, unit string) Value { return Value{Kind: KindInt, Int: i, Unit: unit, Valid: true} }

func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b, Valid: true} }

// List copies items; order is preserved.
func List(items ...string) Value {
	return Value{Kind: KindList, List: slices.Clone(items), Valid: true}
}

// Invalid marks a parameter that was present but unreadable.
func Invalid(kind Kind) Value { return Value{Kind: kind} }

// Equal compares kind, unit, validity and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind || v.Unit != o.Unit || v.Valid != o.Valid {
		return false
	}
	if !v.Valid {
		return true
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindFloat:
		return floatEqual(v.Float, o.Float)
	case KindInt:
		return v.Int == o.Int
	case KindBool:
		return v.Bool == o.Bool
	case KindList:
		return slices.Equal(v.List, o.List)
	}
	return false
}

func floatEqual(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= floatTolerance*scale
}

// AsFloat converts numeric values.
func (v Value) AsFloat() (float64, bool) {
	if !v.Valid {
		return 0, false
	}
	switch v.Kind {
	case KindFloat:
		return v.Float, true
	case KindInt:
		return float64(v.Int), true
	case KindString:
		f, err := strconv.ParseFloat(v.Str, 64)
		return f, err == nil
	}
	return 0, false
}

// Interface returns the payload as a plain Go value, or nil when invalid.
func (v Value) Interface() any {
	if !v.Valid {
		return nil
	}
	switch v.Kind {
	case KindFloat:
		return v.Float
	case KindInt:
		return v.Int
	case KindBool:
		return v.Bool
	case KindList:
		return slices.Clone(v.List)
	default:
		return v.Str
	}
}

func (v Value) String() string {
	if !v.Valid {
		return "<invalid>"
	}
	var s string
	switch v.Kind {
	case KindFloat:
		s = strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindInt:
		s = strconv.FormatInt(v.Int, 10)
	case KindBool:
		s = strconv.FormatBool(v.Bool)
	case KindList:
		s = "[" + strings.Join(v.List, ",") + "]"
	default:
		s = v.Str
	}
	if v.Unit != "" {
		s += " " + v.Unit
	}
	return s
}
