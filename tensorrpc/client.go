// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tensorrpc

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Client issues calls over a byte transport speaking the envelope
// protocol, one request-response exchange at a time. It is safe for
// concurrent use; calls are serialized on the transport.
type Client struct {
	mu      sync.Mutex
	rw      io.ReadWriter
	monitor CallMonitor
	envOpts EnvelopeOptions
}

// NewClient wraps an established transport. The client does not own
// the transport and never closes it.
func NewClient(rw io.ReadWriter) *Client {
	return &Client{rw: rw}
}

// SetCallMonitor installs a per-call observer. Each call opens one
// scope before the request is written and ends it exactly once, after
// the result or transport error arrives.
func (c *Client) SetCallMonitor(m CallMonitor) {
	c.mu.Lock()
	c.monitor = m
	c.mu.Unlock()
}

// SetEnvelopeOptions configures envelope limits and compression for
// this client's transport.
func (c *Client) SetEnvelopeOptions(opts EnvelopeOptions) {
	c.mu.Lock()
	c.envOpts = opts
	c.mu.Unlock()
}

// Call invokes endpoint with positional arguments only.
func (c *Client) Call(ctx context.Context, endpoint string, args ...Value) (Value, error) {
	return c.CallKw(ctx, endpoint, args, nil)
}

// CallKw invokes endpoint with positional and keyword arguments. A
// classified error from the callee comes back as *Error; transport
// faults come back as plain errors.
func (c *Client) CallKw(ctx context.Context, endpoint string, args []Value, kwargs map[string]Value) (Value, error) {
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}

	enc := NewEncoderWithOptions(EncodeOptions{MaxDepth: c.envOpts.MaxDepth})
	call := &CallArguments{
		Method:    endpoint,
		RequestID: uuid.NewString(),
	}
	if len(args) > 0 {
		call.Args = make([]WireValue, len(args))
		for i := range args {
			wv, err := enc.Encode(args[i])
			if err != nil {
				return Value{}, err
			}
			call.Args[i] = *wv
		}
	}
	if len(kwargs) > 0 {
		call.Kwargs = make(map[string]WireValue, len(kwargs))
		for k, v := range kwargs {
			wv, err := enc.Encode(v)
			if err != nil {
				return Value{}, err
			}
			call.Kwargs[k] = *wv
		}
	}
	call.Tensors = enc.Table()

	c.mu.Lock()
	defer c.mu.Unlock()

	var scope MonitoredCallScope
	if c.monitor != nil {
		scope = c.monitor(endpoint)
	}
	res, err := c.exchange(call)
	if scope != nil {
		scope.End()
	}
	if err != nil {
		return Value{}, err
	}
	if res.Err != nil {
		return Value{}, res.Err
	}

	value := res.Value
	if value == nil {
		value = &WireValue{Kind: KindNone}
	}
	return DecodeValueWithOptions(value, res.Tensors, c.envOpts.decodeOpts())
}

// exchange performs one write-then-read cycle on the transport. Caller
// holds c.mu.
func (c *Client) exchange(call *CallArguments) (*CallResult, error) {
	if err := WriteCall(c.rw, call, c.envOpts); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	res, err := ReadResult(c.rw, c.envOpts)
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return res, nil
}

// Names fetches the server's bound endpoint names via the built-in
// introspection endpoint.
func (c *Client) Names(ctx context.Context) ([]string, error) {
	v, err := c.Call(ctx, EndpointNames)
	if err != nil {
		return nil, err
	}
	if v.Kind() != KindSequence {
		return nil, Errorf(StatusInternal, "%s returned %s, expected sequence", EndpointNames, v.Kind())
	}
	seq := v.Sequence()
	names := make([]string, len(seq))
	for i := range seq {
		if seq[i].Kind() != KindString {
			return nil, Errorf(StatusInternal, "%s returned a non-string name", EndpointNames)
		}
		names[i] = seq[i].Str()
	}
	return names, nil
}
