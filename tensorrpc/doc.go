// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package tensorrpc implements the call-dispatch and serialization core
// for exposing named callables — including callables that consume and
// produce large numeric tensor buffers — to remote clients as RPCs.
//
// The package converts a call (endpoint name plus positional and
// keyword arguments) into a wire-safe envelope, routes it under
// concurrent endpoint binding and unbinding to the registered handler,
// executes it, and returns a result or a classified error. The network
// transport is consumed as an opaque byte stream: [Server.Serve] reads
// call envelopes from an io.Reader and writes result envelopes to an
// io.Writer, and [Client] does the inverse over an io.ReadWriter.
//
// # Values and tensors
//
// RPC-carried data is modelled by [Value], a closed tagged union over
// {None, Bool, Int, Float, String, Bytes, Tensor, Sequence, Mapping}.
// Anything outside this set must be converted to Bytes by the caller.
// Tensor buffers never travel inline in the value tree: [Encoder]
// appends each distinct buffer to a per-envelope [TensorTable] exactly
// once and emits an index reference, so a buffer referenced from many
// places in the tree is serialized a single time.
//
// On the wire an envelope is one Arrow IPC stream. The tensor table is
// written first as record-batch rows with dtype, shape and raw buffer
// bytes in separate columns, followed by a one-row batch whose payload
// column holds the CBOR-encoded value tree and whose batch custom
// metadata carries the method name, protocol version and request ID.
//
// # Handlers and routing
//
// [Handler] is the polymorphic unit of dispatch. [NativeHandler] wraps
// an in-process Go function over decoded values. [ForeignHandler]
// wraps a callable owned by an embedded runtime, holding it through a
// reference count and invoking it under the runtime's invocation lock;
// tensor materialization happens before the lock is taken. The wasm
// subpackage provides a concrete foreign runtime backed by wazero.
//
// [Router] is the concurrency-safe endpoint registry: Bind and Unbind
// mutate bindings while calls are in flight, and a replaced or removed
// handler is only closed once its last in-flight call has returned.
//
// # Errors
//
// Every failure inside a call is captured as data: [CallResult] carries
// either a value or an [Error] with a code from the closed [StatusCode]
// set. Callee-side failures are classified through [FailureKind] and
// the fixed [CodeForFailure] mapping so that classification is
// reproducible across implementations.
package tensorrpc
