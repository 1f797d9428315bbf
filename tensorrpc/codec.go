// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tensorrpc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// DefaultMaxDepth is the default recursion-depth guard for value trees.
const DefaultMaxDepth = 64

// WireValue is the wire-safe form of one Value: a kind tag plus the
// payload field for that kind, CBOR-encoded with explicit length
// prefixes. A tensor travels as an index into the envelope's tensor
// table, never as inline buffer bytes. Mappings travel as parallel
// key/value arrays.
type WireValue struct {
	Kind  Kind        `cbor:"k"`
	Bool  bool        `cbor:"b,omitempty"`
	Int   int64       `cbor:"i,omitempty"`
	Float float64     `cbor:"f,omitempty"`
	Str   string      `cbor:"s,omitempty"`
	Bytes []byte      `cbor:"y,omitempty"`
	Ref   uint32      `cbor:"t,omitempty"`
	Items []WireValue `cbor:"l,omitempty"`
	Keys  []string    `cbor:"dk,omitempty"`
	Vals  []WireValue `cbor:"dv,omitempty"`
}

// EncodeOptions configures an Encoder.
type EncodeOptions struct {
	// MaxDepth bounds value-tree nesting. Zero means DefaultMaxDepth.
	MaxDepth int
}

// DecodeOptions configures wire-value decoding.
type DecodeOptions struct {
	// MaxDepth bounds value-tree nesting against adversarial input.
	// Zero means DefaultMaxDepth.
	MaxDepth int
}

func (o EncodeOptions) maxDepth() int {
	if o.MaxDepth > 0 {
		return o.MaxDepth
	}
	return DefaultMaxDepth
}

func (o DecodeOptions) maxDepth() int {
	if o.MaxDepth > 0 {
		return o.MaxDepth
	}
	return DefaultMaxDepth
}

// Encoder converts Value trees into WireValues, accumulating the
// envelope's tensor table as it goes. One Encoder is used per outgoing
// envelope; all values encoded through it share one table, and each
// distinct *Tensor is appended at most once regardless of how many
// references the trees contain.
type Encoder struct {
	opts  EncodeOptions
	table TensorTable
	seen  map[*Tensor]uint32
}

// NewEncoder returns an Encoder with default options.
func NewEncoder() *Encoder {
	return NewEncoderWithOptions(EncodeOptions{})
}

// NewEncoderWithOptions returns an Encoder with the given options.
func NewEncoderWithOptions(opts EncodeOptions) *Encoder {
	return &Encoder{opts: opts, seen: make(map[*Tensor]uint32)}
}

// Table returns the tensor table accumulated so far. The table must be
// serialized into the envelope before any value referencing it.
func (e *Encoder) Table() TensorTable { return e.table }

// Encode converts one Value tree. Encoding is total over the closed
// kind set; the only failures are a nil tensor and the depth guard.
func (e *Encoder) Encode(v Value) (*WireValue, error) {
	return e.encode(v, 0)
}

func (e *Encoder) encode(v Value, depth int) (*WireValue, error) {
	if depth > e.opts.maxDepth() {
		return nil, Errorf(StatusInvalidArgument,
			"value tree exceeds maximum depth %d", e.opts.maxDepth())
	}
	switch v.kind {
	case KindNone:
		return &WireValue{Kind: KindNone}, nil
	case KindBool:
		return &WireValue{Kind: KindBool, Bool: v.b}, nil
	case KindInt:
		return &WireValue{Kind: KindInt, Int: v.i}, nil
	case KindFloat:
		return &WireValue{Kind: KindFloat, Float: v.f}, nil
	case KindString:
		return &WireValue{Kind: KindString, Str: v.s}, nil
	case KindBytes:
		return &WireValue{Kind: KindBytes, Bytes: v.raw}, nil
	case KindTensor:
		if v.tensor == nil {
			return nil, Errorf(StatusInvalidArgument, "nil tensor in value tree")
		}
		idx, ok := e.seen[v.tensor]
		if !ok {
			idx = uint32(len(e.table))
			e.table = append(e.table, v.tensor)
			e.seen[v.tensor] = idx
		}
		return &WireValue{Kind: KindTensor, Ref: idx}, nil
	case KindSequence:
		items := make([]WireValue, len(v.seq))
		for i, item := range v.seq {
			wv, err := e.encode(item, depth+1)
			if err != nil {
				return nil, err
			}
			items[i] = *wv
		}
		return &WireValue{Kind: KindSequence, Items: items}, nil
	case KindMapping:
		keys := make([]string, 0, len(v.dict))
		vals := make([]WireValue, 0, len(v.dict))
		for k, item := range v.dict {
			wv, err := e.encode(item, depth+1)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
			vals = append(vals, *wv)
		}
		return &WireValue{Kind: KindMapping, Keys: keys, Vals: vals}, nil
	default:
		return nil, Errorf(StatusInvalidArgument, "unsupported value kind %s", v.kind)
	}
}

// DecodeValue converts a WireValue back into a Value, resolving tensor
// references within table. Out-of-bounds references yield a
// DecodeError with StatusOutOfRange; all other malformed input yields
// StatusInvalidArgument.
func DecodeValue(wv *WireValue, table TensorTable) (Value, error) {
	return DecodeValueWithOptions(wv, table, DecodeOptions{})
}

// DecodeValueWithOptions is DecodeValue with an explicit depth guard.
func DecodeValueWithOptions(wv *WireValue, table TensorTable, opts DecodeOptions) (Value, error) {
	if wv == nil {
		return Value{}, &DecodeError{Code: StatusInvalidArgument, Message: "nil wire value"}
	}
	return decode(wv, table, opts, 0)
}

func decode(wv *WireValue, table TensorTable, opts DecodeOptions, depth int) (Value, error) {
	if depth > opts.maxDepth() {
		return Value{}, &DecodeError{
			Code:    StatusInvalidArgument,
			Message: fmt.Sprintf("wire value exceeds maximum depth %d", opts.maxDepth()),
		}
	}
	switch wv.Kind {
	case KindNone:
		return None(), nil
	case KindBool:
		return Bool(wv.Bool), nil
	case KindInt:
		return Int(wv.Int), nil
	case KindFloat:
		return Float(wv.Float), nil
	case KindString:
		return String(wv.Str), nil
	case KindBytes:
		return Bytes(wv.Bytes), nil
	case KindTensor:
		if int(wv.Ref) >= len(table) {
			return Value{}, &DecodeError{
				Code: StatusOutOfRange,
				Message: fmt.Sprintf("tensor ref %d out of range for table of %d entries",
					wv.Ref, len(table)),
			}
		}
		return TensorOf(table[wv.Ref]), nil
	case KindSequence:
		items := make([]Value, len(wv.Items))
		for i := range wv.Items {
			v, err := decode(&wv.Items[i], table, opts, depth+1)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Seq(items...), nil
	case KindMapping:
		if len(wv.Keys) != len(wv.Vals) {
			return Value{}, &DecodeError{
				Code: StatusInvalidArgument,
				Message: fmt.Sprintf("mapping keys/values length mismatch: %d vs %d",
					len(wv.Keys), len(wv.Vals)),
			}
		}
		dict := make(map[string]Value, len(wv.Keys))
		for i, k := range wv.Keys {
			v, err := decode(&wv.Vals[i], table, opts, depth+1)
			if err != nil {
				return Value{}, err
			}
			dict[k] = v
		}
		return Dict(dict), nil
	default:
		return Value{}, &DecodeError{
			Code:    StatusInvalidArgument,
			Message: fmt.Sprintf("unknown wire kind %d", uint8(wv.Kind)),
		}
	}
}

// cborEnc is the deterministic CBOR encode mode shared by all
// envelopes.
var cborEnc = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("tensorrpc: building CBOR encode mode: %v", err))
	}
	return em
}()

// marshalPayload CBOR-encodes a payload structure (wire call, wire
// result, or a bare WireValue).
func marshalPayload(v any) ([]byte, error) {
	return cborEnc.Marshal(v)
}

// unmarshalPayload decodes CBOR payload bytes with the depth guard
// applied at the CBOR nesting level as well: each value level costs at
// most two CBOR levels (the struct map plus a child array).
func unmarshalPayload(data []byte, v any, opts DecodeOptions) error {
	levels := 2*opts.maxDepth() + 8
	if levels > 65535 {
		levels = 65535
	}
	dm, err := cbor.DecOptions{MaxNestedLevels: levels}.DecMode()
	if err != nil {
		return &DecodeError{Code: StatusInvalidArgument, Message: err.Error()}
	}
	if err := dm.Unmarshal(data, v); err != nil {
		return &DecodeError{
			Code:    StatusInvalidArgument,
			Message: fmt.Sprintf("malformed payload: %v", err),
		}
	}
	return nil
}
