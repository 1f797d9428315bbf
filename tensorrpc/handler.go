// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tensorrpc

import (
	"context"
)

// Handler is the polymorphic unit of callable dispatch behind an
// endpoint. Call never faults uncontrolled: every failure surfaces as
// the error variant of CallResult.
//
// A handler may be called concurrently and must be safe for concurrent
// use. A handler is only closed (if it implements io.Closer) once all
// in-flight calls have returned.
type Handler interface {
	Call(ctx context.Context, endpoint string, args *CallArguments) *CallResult
}

// Call is the decoded view of one invocation handed to native
// functions: tensor references already resolved against the envelope
// table.
type Call struct {
	Endpoint string
	Args     []Value
	Kwargs   map[string]Value
}

// NativeFunc is the fixed signature wrapped by NativeHandler.
type NativeFunc func(ctx context.Context, call *Call) (Value, error)

// NativeHandler wraps an in-process function, e.g. framework
// introspection endpoints. Errors returned by the function are coerced
// through AsError; panics are captured as StatusInternal.
type NativeHandler struct {
	fn   NativeFunc
	opts DecodeOptions
}

// NewNativeHandler wraps fn with default decode options.
func NewNativeHandler(fn NativeFunc) *NativeHandler {
	return NewNativeHandlerWithOptions(fn, DecodeOptions{})
}

// NewNativeHandlerWithOptions wraps fn with an explicit depth guard
// for argument decoding.
func NewNativeHandlerWithOptions(fn NativeFunc, opts DecodeOptions) *NativeHandler {
	if fn == nil {
		panic("tensorrpc: NewNativeHandler with nil function")
	}
	return &NativeHandler{fn: fn, opts: opts}
}

// Call implements Handler.
func (h *NativeHandler) Call(ctx context.Context, endpoint string, args *CallArguments) (res *CallResult) {
	defer func() {
		if rv := recover(); rv != nil {
			res = &CallResult{Err: Errorf(StatusInternal, "handler panic: %v", rv)}
		}
	}()

	call, err := decodeArguments(endpoint, args, h.opts)
	if err != nil {
		return &CallResult{Err: AsError(err)}
	}

	value, err := h.fn(ctx, call)
	if err != nil {
		return &CallResult{Err: AsError(err)}
	}

	enc := NewEncoderWithOptions(EncodeOptions{MaxDepth: h.opts.MaxDepth})
	wv, err := enc.Encode(value)
	if err != nil {
		return &CallResult{Err: Errorf(StatusInternal, "encoding result: %v", err)}
	}
	return &CallResult{Value: wv, Tensors: enc.Table()}
}

// decodeArguments materializes the wire arguments of one call,
// including tensor resolution, into in-process values.
func decodeArguments(endpoint string, args *CallArguments, opts DecodeOptions) (*Call, error) {
	call := &Call{Endpoint: endpoint}

	call.Args = make([]Value, len(args.Args))
	for i := range args.Args {
		v, err := DecodeValueWithOptions(&args.Args[i], args.Tensors, opts)
		if err != nil {
			return nil, err
		}
		call.Args[i] = v
	}

	if len(args.Kwargs) > 0 {
		call.Kwargs = make(map[string]Value, len(args.Kwargs))
		for k := range args.Kwargs {
			wv := args.Kwargs[k]
			v, err := DecodeValueWithOptions(&wv, args.Tensors, opts)
			if err != nil {
				return nil, err
			}
			call.Kwargs[k] = v
		}
	}
	return call, nil
}
