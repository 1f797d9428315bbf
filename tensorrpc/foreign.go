// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tensorrpc

import (
	"context"
	"sync"
)

// ForeignCallable is a callable owned by an embedded runtime. Invoke
// reports failures as a tagged Failure rather than a Go error so the
// runtime's classifier runs at the invocation boundary, where the
// native failure state is still retrievable.
//
// Retain and Release manage the callable's native ownership. Both are
// only called while the runtime's invocation lock is held; reference
// counting on runtime-owned objects is only safe under that lock.
type ForeignCallable interface {
	Invoke(ctx context.Context, args []Value, kwargs map[string]Value) (Value, *Failure)
	Retain()
	Release()
}

// noopLock is the degenerate invocation lock for runtimes that allow
// fully concurrent invocation.
type noopLock struct{}

func (noopLock) Lock()   {}
func (noopLock) Unlock() {}

// NoInvocationLock is the no-op lock used when the embedding runtime
// has no global execution lock.
var NoInvocationLock sync.Locker = noopLock{}

// ForeignHandler dispatches calls to a ForeignCallable. It holds a
// reference to the callable from construction until Close, and it
// serializes runtime access through the injected invocation lock.
//
// The lock is held for the minimal span from argument handoff through
// result or failure extraction. Tensor materialization does not touch
// the runtime, so it runs before the lock is taken; on tensor-heavy
// calls that copy dominates the call cost and would otherwise
// serialize unrelated endpoints.
type ForeignHandler struct {
	callable ForeignCallable
	lock     sync.Locker
	opts     DecodeOptions
}

// NewForeignHandler wraps callable. A nil lock selects
// NoInvocationLock. The callable is retained under the lock before the
// handler becomes visible to any caller.
func NewForeignHandler(callable ForeignCallable, lock sync.Locker) *ForeignHandler {
	return NewForeignHandlerWithOptions(callable, lock, DecodeOptions{})
}

// NewForeignHandlerWithOptions is NewForeignHandler with an explicit
// depth guard for argument decoding.
func NewForeignHandlerWithOptions(callable ForeignCallable, lock sync.Locker, opts DecodeOptions) *ForeignHandler {
	if callable == nil {
		panic("tensorrpc: NewForeignHandler with nil callable")
	}
	if lock == nil {
		lock = NoInvocationLock
	}
	lock.Lock()
	callable.Retain()
	lock.Unlock()
	return &ForeignHandler{callable: callable, lock: lock, opts: opts}
}

// Close releases the wrapped callable. The Router calls it once the
// last in-flight call has returned.
func (h *ForeignHandler) Close() error {
	h.lock.Lock()
	h.callable.Release()
	h.lock.Unlock()
	return nil
}

// Call implements Handler.
func (h *ForeignHandler) Call(ctx context.Context, endpoint string, args *CallArguments) (res *CallResult) {
	defer func() {
		if rv := recover(); rv != nil {
			res = &CallResult{Err: Errorf(StatusInternal, "handler panic: %v", rv)}
		}
	}()

	// Materialize arguments, including tensor resolution, before
	// acquiring the invocation lock.
	call, err := decodeArguments(endpoint, args, h.opts)
	if err != nil {
		return &CallResult{Err: AsError(err)}
	}

	h.lock.Lock()
	value, failure := h.callable.Invoke(ctx, call.Args, call.Kwargs)
	h.lock.Unlock()

	if failure != nil {
		if failure.Message == "" {
			// The failure indicator was set but no diagnostic could be
			// retrieved from the runtime.
			return &CallResult{Err: Errorf(StatusInternal,
				"callee %q failed but no diagnostic could be retrieved", endpoint)}
		}
		return &CallResult{Err: &Error{
			Code:    CodeForFailure(failure.Kind),
			Message: failure.Message,
		}}
	}

	enc := NewEncoderWithOptions(EncodeOptions{MaxDepth: h.opts.MaxDepth})
	wv, err := enc.Encode(value)
	if err != nil {
		return &CallResult{Err: Errorf(StatusInternal, "encoding result: %v", err)}
	}
	return &CallResult{Value: wv, Tensors: enc.Table()}
}
