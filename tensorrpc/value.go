// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tensorrpc

import (
	"bytes"
	"fmt"
	"strings"
)

// Kind identifies which member of the Value union is populated.
type Kind uint8

const (
	// KindNone is the absent/null value.
	KindNone Kind = iota
	// KindBool is a boolean.
	KindBool
	// KindInt is a signed 64-bit integer.
	KindInt
	// KindFloat is a 64-bit float.
	KindFloat
	// KindString is a UTF-8 string.
	KindString
	// KindBytes is an opaque byte string, the escape hatch for anything
	// outside the closed kind set.
	KindBytes
	// KindTensor is a reference to a typed buffer in the envelope's
	// tensor table.
	KindTensor
	// KindSequence is an ordered sequence of values.
	KindSequence
	// KindMapping is a string-keyed mapping of values.
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindTensor:
		return "tensor"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Tensor is an opaque typed buffer with dtype and shape metadata. The
// core never interprets Data; dtype strings are a contract between the
// caller and the callee (e.g. "float32", "int64").
type Tensor struct {
	DType string
	Shape []int64
	Data  []byte
}

// Equal reports whether two tensors have the same dtype, shape and
// buffer bytes.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.DType != other.DType || len(t.Shape) != len(other.Shape) {
		return false
	}
	for i, d := range t.Shape {
		if other.Shape[i] != d {
			return false
		}
	}
	return bytes.Equal(t.Data, other.Data)
}

// TensorTable is the per-envelope side table of tensor buffers. Values
// reference entries by index; the table owns the only serialized copy
// of each buffer.
type TensorTable []*Tensor

// Value is the in-process representation of one RPC-carried datum: a
// tagged union over the closed kind set. The zero Value is None.
type Value struct {
	kind   Kind
	b      bool
	i      int64
	f      float64
	s      string
	raw    []byte
	tensor *Tensor
	seq    []Value
	dict   map[string]Value
}

// None returns the absent value.
func None() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a float value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes returns an opaque bytes value. The slice is not copied.
func Bytes(b []byte) Value { return Value{kind: KindBytes, raw: b} }

// TensorOf returns a value referencing the given tensor buffer. The
// same *Tensor used in several places of one envelope is serialized
// once and shares one table entry.
func TensorOf(t *Tensor) Value { return Value{kind: KindTensor, tensor: t} }

// Seq returns an ordered sequence value.
func Seq(items ...Value) Value { return Value{kind: KindSequence, seq: items} }

// Dict returns a string-keyed mapping value. The map is not copied.
func Dict(m map[string]Value) Value { return Value{kind: KindMapping, dict: m} }

// Kind reports which union member is populated.
func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether v is the absent value.
func (v Value) IsNone() bool { return v.kind == KindNone }

// Bool returns the boolean member, or false for other kinds.
func (v Value) Bool() bool { return v.b }

// Int returns the integer member, or 0 for other kinds.
func (v Value) Int() int64 { return v.i }

// Float returns the float member, or 0 for other kinds.
func (v Value) Float() float64 { return v.f }

// Str returns the string member, or "" for other kinds.
func (v Value) Str() string { return v.s }

// Raw returns the bytes member, or nil for other kinds.
func (v Value) Raw() []byte { return v.raw }

// Tensor returns the referenced tensor, or nil for other kinds.
func (v Value) Tensor() *Tensor { return v.tensor }

// Sequence returns the sequence member, or nil for other kinds.
func (v Value) Sequence() []Value { return v.seq }

// Mapping returns the mapping member, or nil for other kinds.
func (v Value) Mapping() map[string]Value { return v.dict }

// Equal reports structural equality. Tensors compare by dtype, shape
// and buffer bytes rather than by pointer identity.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNone:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindBytes:
		return bytes.Equal(v.raw, other.raw)
	case KindTensor:
		return v.tensor.Equal(other.tensor)
	case KindSequence:
		if len(v.seq) != len(other.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(other.seq[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(v.dict) != len(other.dict) {
			return false
		}
		for k, val := range v.dict {
			ov, ok := other.dict[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String renders a short human-readable form for diagnostics.
func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return "none"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindBytes:
		return fmt.Sprintf("bytes[%d]", len(v.raw))
	case KindTensor:
		if v.tensor == nil {
			return "tensor(nil)"
		}
		return fmt.Sprintf("tensor(%s%v)", v.tensor.DType, v.tensor.Shape)
	case KindSequence:
		parts := make([]string, len(v.seq))
		for i, item := range v.seq {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMapping:
		return fmt.Sprintf("mapping[%d]", len(v.dict))
	default:
		return v.kind.String()
	}
}
