// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tensorrpc

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallEnvelopeRoundTrip(t *testing.T) {
	tensor := &Tensor{DType: "float32", Shape: []int64{2, 2}, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}

	enc := NewEncoder()
	arg0, err := enc.Encode(Seq(TensorOf(tensor), TensorOf(tensor)))
	require.NoError(t, err)
	kwarg, err := enc.Encode(Int(9))
	require.NoError(t, err)

	call := &CallArguments{
		Method:    "predict",
		RequestID: "req-1",
		Args:      []WireValue{*arg0},
		Kwargs:    map[string]WireValue{"step": *kwarg},
		Tensors:   enc.Table(),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCall(&buf, call, EnvelopeOptions{}))

	got, err := ReadCall(&buf, EnvelopeOptions{})
	require.NoError(t, err)
	require.Equal(t, "predict", got.Method)
	require.Equal(t, "req-1", got.RequestID)
	require.Len(t, got.Args, 1)
	require.Len(t, got.Kwargs, 1)

	// One table entry despite two references; order is preserved.
	require.Len(t, got.Tensors, 1)
	require.True(t, tensor.Equal(got.Tensors[0]))

	v, err := DecodeValue(&got.Args[0], got.Tensors)
	require.NoError(t, err)
	require.True(t, v.Equal(Seq(TensorOf(tensor), TensorOf(tensor))))

	// Both references resolve to the same decoded tensor instance.
	seq := v.Sequence()
	require.Same(t, seq[0].Tensor(), seq[1].Tensor())
}

func TestCallEnvelopeTensorOrder(t *testing.T) {
	first := &Tensor{DType: "int8", Data: []byte{1}}
	second := &Tensor{DType: "int8", Data: []byte{2}}
	third := &Tensor{DType: "int8", Data: []byte{3}}

	enc := NewEncoder()
	arg, err := enc.Encode(Seq(TensorOf(first), TensorOf(second), TensorOf(third)))
	require.NoError(t, err)

	var buf bytes.Buffer
	call := &CallArguments{Method: "m", Args: []WireValue{*arg}, Tensors: enc.Table()}
	require.NoError(t, WriteCall(&buf, call, EnvelopeOptions{}))

	got, err := ReadCall(&buf, EnvelopeOptions{})
	require.NoError(t, err)
	require.Len(t, got.Tensors, 3)
	require.Equal(t, []byte{1}, got.Tensors[0].Data)
	require.Equal(t, []byte{2}, got.Tensors[1].Data)
	require.Equal(t, []byte{3}, got.Tensors[2].Data)
}

func TestResultEnvelopeRoundTrip(t *testing.T) {
	enc := NewEncoder()
	wv, err := enc.Encode(Dict(map[string]Value{"ok": Bool(true)}))
	require.NoError(t, err)

	var buf bytes.Buffer
	res := &CallResult{Value: wv, Tensors: enc.Table()}
	require.NoError(t, WriteResult(&buf, res, "server-1", "req-1", EnvelopeOptions{}))

	got, err := ReadResult(&buf, EnvelopeOptions{})
	require.NoError(t, err)
	require.Nil(t, got.Err)

	v, err := DecodeValue(got.Value, got.Tensors)
	require.NoError(t, err)
	require.True(t, v.Equal(Dict(map[string]Value{"ok": Bool(true)})))
}

func TestResultEnvelopeNilValueIsNone(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, &CallResult{}, "", "", EnvelopeOptions{}))

	got, err := ReadResult(&buf, EnvelopeOptions{})
	require.NoError(t, err)
	require.Nil(t, got.Err)
	require.Equal(t, KindNone, got.Value.Kind)
}

func TestErrorResultRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	res := &CallResult{Err: Errorf(StatusResourceExhausted, "out of memory")}
	require.NoError(t, WriteResult(&buf, res, "server-1", "req-1", EnvelopeOptions{}))

	got, err := ReadResult(&buf, EnvelopeOptions{})
	require.NoError(t, err)
	require.NotNil(t, got.Err)
	require.Equal(t, StatusResourceExhausted, got.Err.Code)
	require.Equal(t, "out of memory", got.Err.Message)
	require.Nil(t, got.Value)
}

func TestCompressedEnvelopeRoundTrip(t *testing.T) {
	enc := NewEncoder()
	long := make([]byte, 4096)
	wv, err := enc.Encode(Bytes(long))
	require.NoError(t, err)

	var buf bytes.Buffer
	opts := EnvelopeOptions{Compress: true}
	require.NoError(t, WriteResult(&buf, &CallResult{Value: wv}, "", "", opts))

	got, err := ReadResult(&buf, EnvelopeOptions{})
	require.NoError(t, err)
	v, err := DecodeValue(got.Value, got.Tensors)
	require.NoError(t, err)
	require.Equal(t, long, v.Raw())
}

func TestReadCallPayloadLimit(t *testing.T) {
	enc := NewEncoder()
	wv, err := enc.Encode(Bytes(make([]byte, 2048)))
	require.NoError(t, err)

	var buf bytes.Buffer
	call := &CallArguments{Method: "m", Args: []WireValue{*wv}, Tensors: enc.Table()}
	require.NoError(t, WriteCall(&buf, call, EnvelopeOptions{}))

	_, err = ReadCall(&buf, EnvelopeOptions{MaxPayloadBytes: 128})
	var rpcErr *Error
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, StatusInvalidArgument, rpcErr.Code)
}

func TestReadCallMissingMethod(t *testing.T) {
	var buf bytes.Buffer
	// A response envelope has no method metadata; reading it as a call
	// is a protocol violation, not a transport fault.
	require.NoError(t, WriteResult(&buf, &CallResult{}, "", "", EnvelopeOptions{}))

	_, err := ReadCall(&buf, EnvelopeOptions{})
	var rpcErr *Error
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, StatusInvalidArgument, rpcErr.Code)
}

func TestReadCallVersionMismatch(t *testing.T) {
	var buf bytes.Buffer
	payload, err := marshalPayload(&wireCall{})
	require.NoError(t, err)
	require.NoError(t, writeEnvelope(&buf, nil, payload,
		[]string{MetaMethod, MetaRequestVersion}, []string{"m", "999"}, EnvelopeOptions{}))

	_, err = ReadCall(&buf, EnvelopeOptions{})
	var rpcErr *Error
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, StatusInvalidArgument, rpcErr.Code)
	require.Contains(t, rpcErr.Message, "version")
}

func TestReadCallEOF(t *testing.T) {
	_, err := ReadCall(bytes.NewReader(nil), EnvelopeOptions{})
	require.Equal(t, io.EOF, err)
}

func TestDepthGuardAppliesToPayload(t *testing.T) {
	deep := WireValue{Kind: KindInt, Int: 1}
	for range DefaultMaxDepth * 4 {
		deep = WireValue{Kind: KindSequence, Items: []WireValue{deep}}
	}

	var buf bytes.Buffer
	call := &CallArguments{Method: "m", Args: []WireValue{deep}}
	require.NoError(t, WriteCall(&buf, call, EnvelopeOptions{}))

	_, err := ReadCall(&buf, EnvelopeOptions{})
	var rpcErr *Error
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, StatusInvalidArgument, rpcErr.Code)
}
