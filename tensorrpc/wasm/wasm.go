// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package tensorwasm exposes exported functions of WebAssembly modules
// as foreign callables. Invocation of one module instance is not
// concurrency-safe, so every callable of a module shares the module's
// invocation lock; the handler layer holds it around each Invoke.
package tensorwasm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/Query-farm/tensor-rpc/tensorrpc"
)

// Runtime owns a wazero runtime and the modules instantiated in it.
type Runtime struct {
	rt wazero.Runtime
}

// NewRuntime creates an empty runtime.
func NewRuntime(ctx context.Context) *Runtime {
	return &Runtime{rt: wazero.NewRuntime(ctx)}
}

// Close tears down the runtime and every module instantiated in it.
func (r *Runtime) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}

// Instantiate compiles and instantiates a wasm binary. The returned
// Module starts with one reference owned by the caller; Close releases
// it.
func (r *Runtime) Instantiate(ctx context.Context, wasm []byte) (*Module, error) {
	mod, err := r.rt.Instantiate(ctx, wasm)
	if err != nil {
		return nil, tensorrpc.Errorf(tensorrpc.StatusInvalidArgument, "instantiating wasm module: %v", err)
	}
	m := &Module{mod: mod}
	m.refs.Store(1)
	return m, nil
}

// Module is one instantiated wasm module plus its invocation lock and
// reference count. Callables retain the module while bound; the
// instance is closed when the last reference is released.
type Module struct {
	mod  api.Module
	mu   sync.Mutex
	refs atomic.Int32
}

// Lock returns the module's invocation lock, for handing to
// tensorrpc.NewForeignHandler.
func (m *Module) Lock() sync.Locker { return &m.mu }

// Close releases the creator's reference.
func (m *Module) Close() {
	m.release()
}

func (m *Module) retain() { m.refs.Add(1) }

func (m *Module) release() {
	if m.refs.Add(-1) == 0 {
		_ = m.mod.Close(context.Background())
	}
}

// Callable looks up an exported function and wraps it as a foreign
// callable. The callable does not retain the module; binding it into a
// ForeignHandler does.
func (m *Module) Callable(name string) (*Callable, error) {
	fn := m.mod.ExportedFunction(name)
	if fn == nil {
		return nil, tensorrpc.Errorf(tensorrpc.StatusNotFound,
			"module exports no function %q", name)
	}
	return &Callable{mod: m, fn: fn, name: name}, nil
}

// Callable adapts one exported wasm function to
// tensorrpc.ForeignCallable. Arguments and results map onto the wasm
// numeric types; anything beyond numbers is reported as not
// implemented rather than guessed at.
type Callable struct {
	mod  *Module
	fn   api.Function
	name string
}

// Retain adds a module reference. Called with the invocation lock held.
func (c *Callable) Retain() { c.mod.retain() }

// Release drops a module reference. Called with the invocation lock held.
func (c *Callable) Release() { c.mod.release() }

// Invoke calls the wasm function. The caller holds the module's
// invocation lock.
func (c *Callable) Invoke(ctx context.Context, args []tensorrpc.Value, kwargs map[string]tensorrpc.Value) (tensorrpc.Value, *tensorrpc.Failure) {
	if len(kwargs) > 0 {
		return tensorrpc.Value{}, &tensorrpc.Failure{
			Kind:    tensorrpc.FailureBadArgument,
			Message: "wasm functions take positional arguments only",
		}
	}

	params := c.fn.Definition().ParamTypes()
	if len(args) != len(params) {
		return tensorrpc.Value{}, &tensorrpc.Failure{
			Kind:    tensorrpc.FailureBadArgument,
			Message: fmt.Sprintf("%s takes %d arguments, got %d", c.name, len(params), len(args)),
		}
	}

	raw := make([]uint64, len(args))
	for i, arg := range args {
		v, failure := encodeParam(arg, params[i])
		if failure != nil {
			return tensorrpc.Value{}, failure
		}
		raw[i] = v
	}

	results, err := c.fn.Call(ctx, raw...)
	if err != nil {
		return tensorrpc.Value{}, classify(err)
	}

	resultTypes := c.fn.Definition().ResultTypes()
	switch len(results) {
	case 0:
		return tensorrpc.None(), nil
	case 1:
		return decodeResult(results[0], resultTypes[0]), nil
	default:
		vals := make([]tensorrpc.Value, len(results))
		for i, r := range results {
			vals[i] = decodeResult(r, resultTypes[i])
		}
		return tensorrpc.Seq(vals...), nil
	}
}

// encodeParam converts one argument value to the wasm stack
// representation expected for the parameter type.
func encodeParam(arg tensorrpc.Value, vt api.ValueType) (uint64, *tensorrpc.Failure) {
	switch arg.Kind() {
	case tensorrpc.KindInt:
		switch vt {
		case api.ValueTypeI32:
			return api.EncodeI32(int32(arg.Int())), nil
		case api.ValueTypeI64:
			return api.EncodeI64(arg.Int()), nil
		}
	case tensorrpc.KindFloat:
		switch vt {
		case api.ValueTypeF32:
			return api.EncodeF32(float32(arg.Float())), nil
		case api.ValueTypeF64:
			return api.EncodeF64(arg.Float()), nil
		}
	case tensorrpc.KindBool:
		if vt == api.ValueTypeI32 {
			var v int32
			if arg.Bool() {
				v = 1
			}
			return api.EncodeI32(v), nil
		}
	case tensorrpc.KindString, tensorrpc.KindBytes, tensorrpc.KindTensor,
		tensorrpc.KindSequence, tensorrpc.KindMapping:
		return 0, &tensorrpc.Failure{
			Kind:    tensorrpc.FailureNotImplemented,
			Message: "passing " + arg.Kind().String() + " values to wasm is not implemented",
		}
	}
	return 0, &tensorrpc.Failure{
		Kind:    tensorrpc.FailureBadArgument,
		Message: "cannot pass " + arg.Kind().String() + " value as wasm " + api.ValueTypeName(vt),
	}
}

// decodeResult converts one wasm stack result back to a value.
func decodeResult(raw uint64, vt api.ValueType) tensorrpc.Value {
	switch vt {
	case api.ValueTypeI32:
		return tensorrpc.Int(int64(int32(raw)))
	case api.ValueTypeF32:
		return tensorrpc.Float(float64(api.DecodeF32(raw)))
	case api.ValueTypeF64:
		return tensorrpc.Float(api.DecodeF64(raw))
	default:
		return tensorrpc.Int(int64(raw))
	}
}

// classify maps a wazero invocation error onto the failure tag set.
// Predicates run in order, first match wins, and anything unmatched
// stays FailureUnknown.
func classify(err error) *tensorrpc.Failure {
	msg := err.Error()

	var exitErr *sys.ExitError
	switch {
	case errors.As(err, &exitErr):
		return &tensorrpc.Failure{Kind: tensorrpc.FailureInterrupted, Message: msg}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &tensorrpc.Failure{Kind: tensorrpc.FailureInterrupted, Message: msg}
	case strings.Contains(msg, "out of bounds memory"),
		strings.Contains(msg, "module closed"),
		strings.Contains(msg, "integer divide by zero"):
		return &tensorrpc.Failure{Kind: tensorrpc.FailureInternal, Message: msg}
	default:
		return &tensorrpc.Failure{Kind: tensorrpc.FailureUnknown, Message: msg}
	}
}
