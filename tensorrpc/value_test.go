// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tensorrpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroValueIsNone(t *testing.T) {
	var v Value
	require.Equal(t, KindNone, v.Kind())
	require.True(t, v.IsNone())
	require.True(t, v.Equal(None()))
}

func TestValueEqual(t *testing.T) {
	tensor := &Tensor{DType: "float32", Shape: []int64{2, 2}, Data: []byte{1, 2, 3, 4}}
	sameBytes := &Tensor{DType: "float32", Shape: []int64{2, 2}, Data: []byte{1, 2, 3, 4}}
	otherShape := &Tensor{DType: "float32", Shape: []int64{4}, Data: []byte{1, 2, 3, 4}}

	tests := []struct {
		name  string
		a, b  Value
		equal bool
	}{
		{"none", None(), None(), true},
		{"bool", Bool(true), Bool(true), true},
		{"bool_mismatch", Bool(true), Bool(false), false},
		{"int", Int(42), Int(42), true},
		{"int_vs_float", Int(1), Float(1), false},
		{"string", String("a"), String("a"), true},
		{"bytes", Bytes([]byte{1, 2}), Bytes([]byte{1, 2}), true},
		{"tensor_by_content", TensorOf(tensor), TensorOf(sameBytes), true},
		{"tensor_shape_mismatch", TensorOf(tensor), TensorOf(otherShape), false},
		{"sequence", Seq(Int(1), String("x")), Seq(Int(1), String("x")), true},
		{"sequence_length", Seq(Int(1)), Seq(Int(1), Int(2)), false},
		{"mapping", Dict(map[string]Value{"k": Int(1)}), Dict(map[string]Value{"k": Int(1)}), true},
		{"mapping_key", Dict(map[string]Value{"k": Int(1)}), Dict(map[string]Value{"j": Int(1)}), false},
		{"nested", Seq(Dict(map[string]Value{"t": TensorOf(tensor)})), Seq(Dict(map[string]Value{"t": TensorOf(sameBytes)})), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.equal, tt.a.Equal(tt.b))
			require.Equal(t, tt.equal, tt.b.Equal(tt.a))
		})
	}
}

func TestTensorEqualNil(t *testing.T) {
	var a *Tensor
	require.True(t, a.Equal(nil))
	require.False(t, a.Equal(&Tensor{DType: "int64"}))
}

func TestValueString(t *testing.T) {
	require.Equal(t, "none", None().String())
	require.Equal(t, `"hi"`, String("hi").String())
	require.Equal(t, "[1, 2]", Seq(Int(1), Int(2)).String())
	require.Equal(t, "tensor(float32[2 2])",
		TensorOf(&Tensor{DType: "float32", Shape: []int64{2, 2}}).String())
}
