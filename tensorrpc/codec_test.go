// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tensorrpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	enc := NewEncoder()
	wv, err := enc.Encode(v)
	require.NoError(t, err)
	got, err := DecodeValue(wv, enc.Table())
	require.NoError(t, err)
	return got
}

func TestCodecRoundTrip(t *testing.T) {
	tensor := &Tensor{DType: "float32", Shape: []int64{3}, Data: []byte{0, 0, 128, 63, 0, 0, 0, 64, 0, 0, 64, 64}}

	tests := []struct {
		name string
		v    Value
	}{
		{"none", None()},
		{"bool", Bool(true)},
		{"int", Int(-7)},
		{"float", Float(3.25)},
		{"string", String("hello")},
		{"empty_string", String("")},
		{"bytes", Bytes([]byte{0xde, 0xad})},
		{"tensor", TensorOf(tensor)},
		{"empty_sequence", Seq()},
		{"sequence", Seq(Int(1), String("two"), Float(3))},
		{"mapping", Dict(map[string]Value{"a": Int(1), "b": None()})},
		{"nested", Seq(Dict(map[string]Value{"inner": Seq(TensorOf(tensor), Bool(false))}))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, tt.v)
			require.True(t, tt.v.Equal(got), "got %s, want %s", got, tt.v)
		})
	}
}

func TestEncoderDeduplicatesTensors(t *testing.T) {
	tensor := &Tensor{DType: "int64", Shape: []int64{2}, Data: []byte{1, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0}}

	enc := NewEncoder()
	wv, err := enc.Encode(Seq(TensorOf(tensor), TensorOf(tensor)))
	require.NoError(t, err)

	require.Len(t, enc.Table(), 1)
	require.Equal(t, uint32(0), wv.Items[0].Ref)
	require.Equal(t, uint32(0), wv.Items[1].Ref)

	// An equal but distinct buffer gets its own entry.
	clone := &Tensor{DType: tensor.DType, Shape: tensor.Shape, Data: tensor.Data}
	_, err = enc.Encode(TensorOf(clone))
	require.NoError(t, err)
	require.Len(t, enc.Table(), 2)
}

func TestEncoderSharesTableAcrossValues(t *testing.T) {
	tensor := &Tensor{DType: "int8", Data: []byte{1}}
	enc := NewEncoder()

	a, err := enc.Encode(TensorOf(tensor))
	require.NoError(t, err)
	b, err := enc.Encode(TensorOf(tensor))
	require.NoError(t, err)

	require.Equal(t, a.Ref, b.Ref)
	require.Len(t, enc.Table(), 1)
}

func TestEncodeNilTensor(t *testing.T) {
	enc := NewEncoder()
	_, err := enc.Encode(TensorOf(nil))
	require.Error(t, err)
	require.Equal(t, StatusInvalidArgument, AsError(err).Code)
}

func TestDecodeTensorRefOutOfRange(t *testing.T) {
	wv := &WireValue{Kind: KindTensor, Ref: 3}
	_, err := DecodeValue(wv, TensorTable{{DType: "int8"}})

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	require.Equal(t, StatusOutOfRange, decErr.Code)
}

func TestDecodeMappingLengthMismatch(t *testing.T) {
	wv := &WireValue{Kind: KindMapping, Keys: []string{"a", "b"}, Vals: []WireValue{{Kind: KindNone}}}
	_, err := DecodeValue(wv, nil)

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	require.Equal(t, StatusInvalidArgument, decErr.Code)
}

func TestDecodeUnknownKind(t *testing.T) {
	wv := &WireValue{Kind: Kind(200)}
	_, err := DecodeValue(wv, nil)

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	require.Equal(t, StatusInvalidArgument, decErr.Code)
}

func TestEncodeDepthGuard(t *testing.T) {
	deep := Int(0)
	for range DefaultMaxDepth + 1 {
		deep = Seq(deep)
	}
	enc := NewEncoder()
	_, err := enc.Encode(deep)
	require.Error(t, err)
	require.Equal(t, StatusInvalidArgument, AsError(err).Code)

	// A larger configured budget accepts the same tree.
	enc = NewEncoderWithOptions(EncodeOptions{MaxDepth: DefaultMaxDepth * 2})
	_, err = enc.Encode(deep)
	require.NoError(t, err)
}

func TestDecodeDepthGuard(t *testing.T) {
	wv := &WireValue{Kind: KindInt, Int: 1}
	for range DefaultMaxDepth + 1 {
		wv = &WireValue{Kind: KindSequence, Items: []WireValue{*wv}}
	}
	_, err := DecodeValue(wv, nil)

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	require.Equal(t, StatusInvalidArgument, decErr.Code)
}

func TestPayloadRoundTrip(t *testing.T) {
	in := wireCall{
		Args:   []WireValue{{Kind: KindInt, Int: 5}},
		Kwargs: map[string]WireValue{"k": {Kind: KindString, Str: "v"}},
	}
	data, err := marshalPayload(&in)
	require.NoError(t, err)

	var out wireCall
	require.NoError(t, unmarshalPayload(data, &out, DecodeOptions{}))
	require.Equal(t, in.Args, out.Args)
	require.Equal(t, in.Kwargs, out.Kwargs)
}

func TestUnmarshalMalformedPayload(t *testing.T) {
	var out wireCall
	err := unmarshalPayload([]byte{0xff, 0xff, 0xff}, &out, DecodeOptions{})

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	require.Equal(t, StatusInvalidArgument, decErr.Code)
}

func BenchmarkEncodeNested(b *testing.B) {
	tensor := &Tensor{DType: "float32", Shape: []int64{128}, Data: make([]byte, 512)}
	v := Seq(
		Dict(map[string]Value{"t": TensorOf(tensor), "n": Int(1)}),
		Seq(Float(1.5), String("x"), TensorOf(tensor)),
	)
	b.ReportAllocs()
	for b.Loop() {
		enc := NewEncoder()
		if _, err := enc.Encode(v); err != nil {
			b.Fatal(err)
		}
	}
}
