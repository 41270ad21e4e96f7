// Package entity defines the typed scalar values, entity keys, operation
// list, and query grammar shared by the entity store, the mapping host, and
// the subgraph registrar.
package entity

import (
	"fmt"
	"sort"
)

// Kind tags the dynamic type carried by a Value.
type Kind string

const (
	KindString Kind = "String"
	KindInt    Kind = "Int"
	KindBigInt Kind = "BigInt"
	KindFloat  Kind = "Float"
	KindBool   Kind = "Bool"
	KindBytes  Kind = "Bytes"
	KindID     Kind = "ID"
	KindNull   Kind = "Null"
	KindList   Kind = "List"
)

// Value is a tagged scalar attribute value. Lists are homogeneous: every
// element of Elems carries the same Kind in ElemKind.
type Value struct {
	Kind     Kind    `json:"kind"`
	Str      string  `json:"str,omitempty"`
	Int      int64   `json:"int,omitempty"`
	BigInt   string  `json:"big_int,omitempty"` // decimal-string encoded, arbitrary precision
	Float    float64 `json:"float,omitempty"`
	Bool     bool    `json:"bool,omitempty"`
	Bytes    []byte  `json:"bytes,omitempty"`
	ElemKind Kind    `json:"elem_kind,omitempty"`
	Elems    []Value `json:"elems,omitempty"`
}

func Null() Value                { return Value{Kind: KindNull} }
func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func ID(s string) Value          { return Value{Kind: KindID, Str: s} }
func Int(i int64) Value          { return Value{Kind: KindInt, Int: i} }
func BigInt(decimal string) Value { return Value{Kind: KindBigInt, BigInt: decimal} }
func Float(f float64) Value      { return Value{Kind: KindFloat, Float: f} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Bytes(b []byte) Value       { return Value{Kind: KindBytes, Bytes: append([]byte(nil), b...)} }

func List(elemKind Kind, elems ...Value) Value {
	return Value{Kind: KindList, ElemKind: elemKind, Elems: elems}
}

// IsNull reports whether the value is the Null scalar.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Equal performs a deep, kind-aware comparison of two values.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindString, KindID:
		return v.Str == other.Str
	case KindInt:
		return v.Int == other.Int
	case KindBigInt:
		return v.BigInt == other.BigInt
	case KindFloat:
		return v.Float == other.Float
	case KindBool:
		return v.Bool == other.Bool
	case KindBytes:
		if len(v.Bytes) != len(other.Bytes) {
			return false
		}
		for i := range v.Bytes {
			if v.Bytes[i] != other.Bytes[i] {
				return false
			}
		}
		return true
	case KindList:
		if len(v.Elems) != len(other.Elems) {
			return false
		}
		for i := range v.Elems {
			if !v.Elems[i].Equal(other.Elems[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// GoString renders a diagnostic representation; not a wire format.
func (v Value) GoString() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindString, KindID:
		return fmt.Sprintf("%q", v.Str)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindBigInt:
		return v.BigInt
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindBytes:
		return fmt.Sprintf("0x%x", v.Bytes)
	case KindList:
		return fmt.Sprintf("%v", v.Elems)
	default:
		return "<invalid>"
	}
}

// Attributes maps attribute name to value. It is a plain Go map, so no
// insertion order is kept; SortedNames gives a deterministic order, and the
// JSON encoding writes keys sorted.
type Attributes map[string]Value

// SortedNames returns attribute names in lexicographic order, for
// deterministic iteration (diagnostics, serialization, tests).
func (a Attributes) SortedNames() []string {
	names := make([]string, 0, len(a))
	for k := range a {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns a shallow copy of the attribute map (values are immutable).
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Merge applies patch over the receiver per Set's merge semantics: a Null
// value clears (deletes) the attribute, anything else overwrites it.
func (a Attributes) Merge(patch Attributes) Attributes {
	out := a.Clone()
	for k, v := range patch {
		if v.IsNull() {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
