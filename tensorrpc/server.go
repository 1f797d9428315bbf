// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tensorrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

// EndpointNames is the built-in introspection endpoint. It takes no
// arguments and returns the sorted endpoint names as a sequence of
// strings.
const EndpointNames = "__names__"

// Server drives the request-response loop over a byte transport and
// dispatches each call through its Router.
type Server struct {
	router      *Router
	serverID    string
	serviceName string
	hook        DispatchHook
	envOpts     EnvelopeOptions
}

// NewServer creates a server with a fresh Router, a random server ID
// and the introspection endpoint bound.
func NewServer() *Server {
	s := &Server{
		router:   NewRouter(),
		serverID: uuid.NewString(),
	}
	_ = s.router.Bind(EndpointNames, NewNativeHandler(func(ctx context.Context, call *Call) (Value, error) {
		if len(call.Args) > 0 || len(call.Kwargs) > 0 {
			return Value{}, Errorf(StatusInvalidArgument, "%s takes no arguments", EndpointNames)
		}
		names := s.router.Names()
		vals := make([]Value, len(names))
		for i, n := range names {
			vals[i] = String(n)
		}
		return Seq(vals...), nil
	}))
	return s
}

// Router exposes the server's endpoint registry.
func (s *Server) Router() *Router {
	return s.router
}

// Bind registers handler on the server's router.
func (s *Server) Bind(name string, handler Handler) error {
	return s.router.Bind(name, handler)
}

// Unbind removes a binding from the server's router.
func (s *Server) Unbind(name string) {
	s.router.Unbind(name)
}

// SetServerID sets the server identifier included in response metadata.
func (s *Server) SetServerID(id string) {
	s.serverID = id
}

// SetServiceName sets a logical service name used by observability hooks.
func (s *Server) SetServiceName(name string) {
	s.serviceName = name
}

// ServiceName returns the logical service name, or empty string if not set.
func (s *Server) ServiceName() string {
	return s.serviceName
}

// SetDispatchHook registers a hook that is called around each dispatch.
func (s *Server) SetDispatchHook(hook DispatchHook) {
	s.hook = hook
}

// SetEnvelopeOptions configures envelope limits and compression for
// this server's transport.
func (s *Server) SetEnvelopeOptions(opts EnvelopeOptions) {
	s.envOpts = opts
}

// RunStdio runs the server loop reading from stdin and writing to
// stdout. If either is connected to a terminal, a warning is printed
// to stderr.
func (s *Server) RunStdio() {
	// Ignore SIGPIPE so writes to closed pipes return errors instead of
	// killing the process. Transport errors are already handled by
	// isTransportClosed() in the serve loop.
	signal.Ignore(syscall.SIGPIPE)

	if isTerminal(os.Stdin) || isTerminal(os.Stdout) {
		fmt.Fprintln(os.Stderr,
			"WARNING: This process communicates via Arrow IPC on stdin/stdout "+
				"and is not intended to be run interactively.\n"+
				"It should be launched as a subprocess by an RPC client.")
	}
	s.Serve(os.Stdin, os.Stdout)
}

// isTerminal reports whether f is connected to a terminal.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Serve runs the server loop on the given reader/writer pair.
func (s *Server) Serve(r io.Reader, w io.Writer) {
	s.ServeWithContext(context.Background(), r, w)
}

// ServeWithContext runs the server loop on the given reader/writer pair
// with a context.
func (s *Server) ServeWithContext(ctx context.Context, r io.Reader, w io.Writer) {
	for {
		err := s.serveOne(ctx, r, w)
		if err != nil {
			if err == io.EOF {
				return
			}
			// Only log unexpected errors (not broken pipe / connection reset)
			if !isTransportClosed(err) {
				slog.Error("serve loop error", "err", err)
			}
			return
		}
	}
}

// serveOne handles one complete request-response cycle.
func (s *Server) serveOne(ctx context.Context, r io.Reader, w io.Writer) error {
	args, err := ReadCall(r, s.envOpts)
	if err != nil {
		if err == io.EOF {
			return io.EOF
		}
		// Protocol violations are answered; the transport stays usable.
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			_ = WriteResult(w, &CallResult{Err: rpcErr}, s.serverID, "", s.envOpts)
			return nil
		}
		return err
	}

	info := DispatchInfo{
		Endpoint:          args.Method,
		ServerID:          s.serverID,
		RequestID:         args.RequestID,
		TransportMetadata: args.Metadata,
	}

	var hookToken HookToken
	var hookActive bool
	stats := &CallStatistics{}
	stats.RecordInput(int64(len(args.Tensors)), tableBytes(args.Tensors))

	if s.hook != nil {
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					slog.Error("dispatch hook start panic", "err", rv)
				}
			}()
			var hookCtx context.Context
			hookCtx, hookToken = s.hook.OnDispatchStart(ctx, info)
			if hookCtx != nil {
				ctx = hookCtx
			}
			hookActive = true
		}()
	}

	res := s.router.Dispatch(ctx, args.Method, args)
	if res == nil {
		res = &CallResult{Err: Errorf(StatusInternal, "handler for %q returned no result", args.Method)}
	}
	if res.Err == nil {
		stats.RecordOutput(int64(len(res.Tensors)), tableBytes(res.Tensors))
	}

	if hookActive {
		var handlerErr error
		if res.Err != nil {
			handlerErr = res.Err
		}
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					slog.Error("dispatch hook end panic", "err", rv)
				}
			}()
			s.hook.OnDispatchEnd(ctx, hookToken, info, stats, handlerErr)
		}()
	}

	return WriteResult(w, res, s.serverID, args.RequestID, s.envOpts)
}

// isTransportClosed returns true for errors that indicate the transport
// was closed normally.
func isTransportClosed(err error) bool {
	if err == io.EOF {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}
