// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tensorrpc

import (
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/klauspost/compress/zstd"
)

// DefaultMaxPayloadBytes bounds the decoded payload column of one
// envelope. Tensor buffers are not counted against it; they are sized
// by the transport.
const DefaultMaxPayloadBytes = 256 << 20

// envelopeSchema is the Arrow schema shared by every envelope batch.
// Tensor-table rows populate dtype/shape/data and leave payload null;
// the payload row does the opposite. Keeping dtype and shape in their
// own columns leaves the raw buffer bytes out-of-band so the transport
// can move them without inspection.
var envelopeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "payload", Type: arrow.BinaryTypes.Binary, Nullable: true},
	{Name: "dtype", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "shape", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64), Nullable: true},
	{Name: "data", Type: arrow.BinaryTypes.Binary, Nullable: true},
}, nil)

// CallArguments is a decoded inbound call: the endpoint name plus
// positional and keyword wire values and the tensor table they
// reference. It is created per request, consumed once and discarded.
type CallArguments struct {
	Method    string
	RequestID string
	Args      []WireValue
	Kwargs    map[string]WireValue
	Tensors   TensorTable

	// Metadata holds the raw envelope custom metadata, surfaced to
	// dispatch hooks.
	Metadata map[string]string
}

// CallResult is the outcome of one call: exactly one of a value (with
// its tensor table) or a classified error.
type CallResult struct {
	Value   *WireValue
	Tensors TensorTable
	Err     *Error
}

// wireCall is the CBOR payload of a request envelope.
type wireCall struct {
	Args   []WireValue          `cbor:"a,omitempty"`
	Kwargs map[string]WireValue `cbor:"kw,omitempty"`
}

// wireResult is the CBOR payload of a success response envelope.
type wireResult struct {
	Value *WireValue `cbor:"v"`
}

// EnvelopeOptions configures envelope reading and writing.
type EnvelopeOptions struct {
	// Compress zstd-compresses the payload column on write.
	Compress bool
	// MaxDepth bounds value-tree nesting on read. Zero means
	// DefaultMaxDepth.
	MaxDepth int
	// MaxPayloadBytes bounds the payload column on read, before and
	// after decompression. Zero means DefaultMaxPayloadBytes.
	MaxPayloadBytes int64
}

func (o EnvelopeOptions) decodeOpts() DecodeOptions {
	return DecodeOptions{MaxDepth: o.MaxDepth}
}

func (o EnvelopeOptions) maxPayloadBytes() int64 {
	if o.MaxPayloadBytes > 0 {
		return o.MaxPayloadBytes
	}
	return DefaultMaxPayloadBytes
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// WriteCall writes one request envelope: the tensor table first, then
// the one-row payload batch carrying method metadata.
func WriteCall(w io.Writer, call *CallArguments, opts EnvelopeOptions) error {
	payload, err := marshalPayload(&wireCall{Args: call.Args, Kwargs: call.Kwargs})
	if err != nil {
		return fmt.Errorf("encoding call payload: %w", err)
	}

	keys := []string{MetaMethod, MetaRequestVersion}
	vals := []string{call.Method, ProtocolVersion}
	if call.RequestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, call.RequestID)
	}
	return writeEnvelope(w, call.Tensors, payload, keys, vals, opts)
}

// WriteResult writes one response envelope. Errors travel as a
// zero-row batch whose metadata carries the status code and message;
// successes carry the tensor table and a payload batch.
func WriteResult(w io.Writer, res *CallResult, serverID, requestID string, opts EnvelopeOptions) error {
	keys := []string{}
	vals := []string{}
	if serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, serverID)
	}
	if requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, requestID)
	}

	if res.Err != nil {
		keys = append(keys, MetaStatusCode, MetaErrorMessage)
		vals = append(vals, res.Err.Code.String(), res.Err.Message)
		return writeStatusBatch(w, keys, vals)
	}

	value := res.Value
	if value == nil {
		value = &WireValue{Kind: KindNone}
	}
	payload, err := marshalPayload(&wireResult{Value: value})
	if err != nil {
		return fmt.Errorf("encoding result payload: %w", err)
	}
	return writeEnvelope(w, res.Tensors, payload, keys, vals, opts)
}

// writeEnvelope writes a complete IPC stream: schema, the tensor-table
// batch (if any), the payload batch, EOS.
func writeEnvelope(w io.Writer, table TensorTable, payload []byte, metaKeys, metaVals []string, opts EnvelopeOptions) error {
	if opts.Compress {
		payload = zstdEncoder.EncodeAll(payload, nil)
		metaKeys = append(metaKeys, MetaPayloadCodec)
		metaVals = append(metaVals, payloadCodecZstd)
	}

	writer := ipc.NewWriter(w, ipc.WithSchema(envelopeSchema))
	defer writer.Close()

	if len(table) > 0 {
		batch, err := tensorBatch(table)
		if err != nil {
			return err
		}
		werr := writer.Write(batch)
		batch.Release()
		if werr != nil {
			return fmt.Errorf("writing tensor table: %w", werr)
		}
	}

	batch := payloadBatch(payload, arrow.NewMetadata(metaKeys, metaVals))
	defer batch.Release()
	if err := writer.Write(batch); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}
	return nil
}

// writeStatusBatch writes a complete IPC stream containing one
// zero-row batch whose metadata carries a classified error.
func writeStatusBatch(w io.Writer, metaKeys, metaVals []string) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(envelopeSchema))
	defer writer.Close()

	mem := memory.NewGoAllocator()
	cols := make([]arrow.Array, envelopeSchema.NumFields())
	for i, f := range envelopeSchema.Fields() {
		b := array.NewBuilder(mem, f.Type)
		cols[i] = b.NewArray()
		b.Release()
	}
	batch := array.NewRecordBatchWithMetadata(envelopeSchema, cols, 0,
		arrow.NewMetadata(metaKeys, metaVals))
	for _, c := range cols {
		c.Release()
	}
	defer batch.Release()
	return writer.Write(batch)
}

// tensorBatch builds an N-row batch holding the tensor table. The
// payload column is all-null.
func tensorBatch(table TensorTable) (arrow.RecordBatch, error) {
	mem := memory.NewGoAllocator()

	payloadB := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer payloadB.Release()
	dtypeB := array.NewStringBuilder(mem)
	defer dtypeB.Release()
	shapeB := array.NewListBuilder(mem, arrow.PrimitiveTypes.Int64)
	defer shapeB.Release()
	dataB := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer dataB.Release()

	dims := shapeB.ValueBuilder().(*array.Int64Builder)
	for i, t := range table {
		if t == nil {
			return nil, Errorf(StatusInternal, "nil tensor at table index %d", i)
		}
		payloadB.AppendNull()
		dtypeB.Append(t.DType)
		shapeB.Append(true)
		for _, d := range t.Shape {
			dims.Append(d)
		}
		dataB.Append(t.Data)
	}

	cols := []arrow.Array{payloadB.NewArray(), dtypeB.NewArray(), shapeB.NewArray(), dataB.NewArray()}
	batch := array.NewRecordBatch(envelopeSchema, cols, int64(len(table)))
	for _, c := range cols {
		c.Release()
	}
	return batch, nil
}

// payloadBatch builds the one-row payload batch with tensor columns
// null.
func payloadBatch(payload []byte, meta arrow.Metadata) arrow.RecordBatch {
	mem := memory.NewGoAllocator()

	payloadB := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer payloadB.Release()
	dtypeB := array.NewStringBuilder(mem)
	defer dtypeB.Release()
	shapeB := array.NewListBuilder(mem, arrow.PrimitiveTypes.Int64)
	defer shapeB.Release()
	dataB := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer dataB.Release()

	payloadB.Append(payload)
	dtypeB.AppendNull()
	shapeB.AppendNull()
	dataB.AppendNull()

	cols := []arrow.Array{payloadB.NewArray(), dtypeB.NewArray(), shapeB.NewArray(), dataB.NewArray()}
	batch := array.NewRecordBatchWithMetadata(envelopeSchema, cols, 1, meta)
	for _, c := range cols {
		c.Release()
	}
	return batch
}

// envelope is the raw content of one IPC stream before interpretation.
type envelope struct {
	meta    map[string]string
	payload []byte
	tensors TensorTable
}

// readEnvelope reads one complete IPC stream. io.EOF is returned
// unchanged when the transport closed before a stream started; *Error
// marks protocol violations the caller can answer; anything else is a
// transport fault.
func readEnvelope(r io.Reader, opts EnvelopeOptions) (*envelope, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading envelope stream: %w", err)
	}
	defer reader.Release()

	env := &envelope{meta: make(map[string]string)}
	sawPayload := false

	for reader.Next() {
		batch := reader.RecordBatch()
		if rb, ok := batch.(arrow.RecordBatchWithMetadata); ok {
			meta := rb.Metadata()
			for i := range meta.Len() {
				env.meta[meta.Keys()[i]] = meta.Values()[i]
			}
		}

		payloadCol := batch.Column(0).(*array.Binary)
		dtypeCol := batch.Column(1).(*array.String)
		shapeCol := batch.Column(2).(*array.List)
		dataCol := batch.Column(3).(*array.Binary)

		for row := 0; row < int(batch.NumRows()); row++ {
			if !dataCol.IsNull(row) {
				t := &Tensor{
					DType: dtypeCol.Value(row),
					Data:  append([]byte(nil), dataCol.Value(row)...),
				}
				if !shapeCol.IsNull(row) {
					start, end := shapeCol.ValueOffsets(row)
					dims := shapeCol.ListValues().(*array.Int64)
					t.Shape = make([]int64, 0, end-start)
					for j := start; j < end; j++ {
						t.Shape = append(t.Shape, dims.Value(int(j)))
					}
				}
				env.tensors = append(env.tensors, t)
			}
			if !payloadCol.IsNull(row) {
				if sawPayload {
					return nil, Errorf(StatusInvalidArgument, "multiple payload rows in envelope")
				}
				sawPayload = true
				env.payload = append([]byte(nil), payloadCol.Value(row)...)
			}
		}
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading envelope batch: %w", err)
	}
	if !sawPayload && len(env.meta) == 0 {
		return nil, io.EOF
	}

	if env.payload != nil {
		limit := opts.maxPayloadBytes()
		if int64(len(env.payload)) > limit {
			return nil, Errorf(StatusInvalidArgument,
				"payload of %d bytes exceeds limit %d", len(env.payload), limit)
		}
		if env.meta[MetaPayloadCodec] == payloadCodecZstd {
			decoded, err := zstdDecoder.DecodeAll(env.payload, nil)
			if err != nil {
				return nil, Errorf(StatusInvalidArgument, "decompressing payload: %v", err)
			}
			if int64(len(decoded)) > limit {
				return nil, Errorf(StatusInvalidArgument,
					"decompressed payload of %d bytes exceeds limit %d", len(decoded), limit)
			}
			env.payload = decoded
		}
	}
	return env, nil
}

// ReadCall reads one request envelope. The returned *Error values are
// protocol violations that should be answered with an error result;
// io.EOF means the transport closed cleanly between requests.
func ReadCall(r io.Reader, opts EnvelopeOptions) (*CallArguments, error) {
	env, err := readEnvelope(r, opts)
	if err != nil {
		return nil, err
	}

	method, ok := env.meta[MetaMethod]
	if !ok {
		return nil, Errorf(StatusInvalidArgument,
			"missing %q in request metadata", MetaMethod)
	}
	version, ok := env.meta[MetaRequestVersion]
	if !ok {
		return nil, Errorf(StatusInvalidArgument,
			"missing %q in request metadata", MetaRequestVersion)
	}
	if version != ProtocolVersion {
		return nil, Errorf(StatusInvalidArgument,
			"unsupported request version %q, expected %q", version, ProtocolVersion)
	}
	if env.payload == nil {
		return nil, Errorf(StatusInvalidArgument, "request envelope has no payload row")
	}

	var call wireCall
	if err := unmarshalPayload(env.payload, &call, opts.decodeOpts()); err != nil {
		return nil, AsError(err)
	}
	return &CallArguments{
		Method:    method,
		RequestID: env.meta[MetaRequestID],
		Args:      call.Args,
		Kwargs:    call.Kwargs,
		Tensors:   env.tensors,
		Metadata:  env.meta,
	}, nil
}

// ReadResult reads one response envelope, reconstructing either the
// value/tensor pair or the classified error.
func ReadResult(r io.Reader, opts EnvelopeOptions) (*CallResult, error) {
	env, err := readEnvelope(r, opts)
	if err != nil {
		return nil, err
	}

	if code, ok := env.meta[MetaStatusCode]; ok {
		return &CallResult{Err: &Error{
			Code:    statusCodeFromString(code),
			Message: env.meta[MetaErrorMessage],
		}}, nil
	}
	if env.payload == nil {
		return nil, Errorf(StatusInternal, "response envelope has neither payload nor status")
	}

	var res wireResult
	if err := unmarshalPayload(env.payload, &res, opts.decodeOpts()); err != nil {
		return nil, AsError(err)
	}
	if res.Value == nil {
		res.Value = &WireValue{Kind: KindNone}
	}
	return &CallResult{Value: res.Value, Tensors: env.tensors}, nil
}
