// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tensorrpc

import (
	"context"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// Wildcard is the fallback binding consulted when an endpoint has no
// binding of its own.
const Wildcard = "*"

// Router is the concurrency-safe endpoint registry. Bind and Unbind
// may run concurrently with in-flight Dispatch calls; Dispatch holds
// the registry lock only long enough to look up and reference the
// handler, so a slow callee never serializes unrelated endpoints.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]*boundHandler
}

// boundHandler pairs a handler with a reference count: one reference
// for the registry plus one per in-flight call. The final release
// closes the handler, so a handler is never destroyed while a call
// still references it.
type boundHandler struct {
	handler Handler
	refs    atomic.Int64
}

func newBoundHandler(h Handler) *boundHandler {
	b := &boundHandler{handler: h}
	b.refs.Store(1)
	return b
}

func (b *boundHandler) acquire() { b.refs.Add(1) }

func (b *boundHandler) release() {
	if b.refs.Add(-1) == 0 {
		if c, ok := b.handler.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// NewRouter returns an empty registry.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]*boundHandler)}
}

// Bind registers handler under name, atomically replacing any prior
// binding: a concurrent Dispatch observes either the prior or the new
// handler, never a gap. A replaced handler is closed once its last
// in-flight call returns; Bind itself never blocks on that.
func (r *Router) Bind(name string, handler Handler) error {
	if name == "" {
		return Errorf(StatusInvalidArgument, "bind name must be non-empty")
	}
	if handler == nil {
		return Errorf(StatusInvalidArgument, "bind handler must be non-nil")
	}

	bound := newBoundHandler(handler)
	r.mu.Lock()
	prior := r.handlers[name]
	r.handlers[name] = bound
	r.mu.Unlock()

	if prior != nil {
		prior.release()
	}
	return nil
}

// Unbind removes the binding for name. Unknown names are a no-op. The
// removed handler is closed once its last in-flight call returns.
func (r *Router) Unbind(name string) {
	r.mu.Lock()
	prior := r.handlers[name]
	delete(r.handlers, name)
	r.mu.Unlock()

	if prior != nil {
		prior.release()
	}
}

// Dispatch resolves the endpoint's handler (falling back to the
// Wildcard binding) and forwards the call unchanged, returning the
// handler's result unchanged. An unbound endpoint yields
// StatusNotFound.
func (r *Router) Dispatch(ctx context.Context, endpoint string, args *CallArguments) *CallResult {
	r.mu.RLock()
	bound, ok := r.handlers[endpoint]
	if !ok {
		bound, ok = r.handlers[Wildcard]
	}
	if !ok {
		r.mu.RUnlock()
		return &CallResult{Err: Errorf(StatusNotFound, "%s not bound", endpoint)}
	}
	bound.acquire()
	r.mu.RUnlock()

	defer bound.release()
	return bound.handler.Call(ctx, endpoint, args)
}

// Names returns the sorted names of all bound endpoints. The list is
// advisory only: presence does not imply a later call will succeed,
// nor absence that it will fail.
func (r *Router) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Close unbinds everything. Handlers with in-flight calls are closed
// as those calls return.
func (r *Router) Close() {
	r.mu.Lock()
	handlers := r.handlers
	r.handlers = make(map[string]*boundHandler)
	r.mu.Unlock()

	for _, bound := range handlers {
		bound.release()
	}
}
