// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tensorrpc

import (
	"context"
)

// DispatchHook provides observability callpoints around call dispatch.
// Implementations must be safe for concurrent use.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error)
}

// HookToken is an opaque value returned by OnDispatchStart and passed back to
// OnDispatchEnd. Only meaningful to the DispatchHook that created it.
type HookToken interface{}

// DispatchInfo carries call metadata passed to hooks.
type DispatchInfo struct {
	Endpoint          string            // Endpoint name
	ServerID          string            // Server identifier
	RequestID         string            // Client-supplied request identifier
	TransportMetadata map[string]string // Envelope custom metadata
}

// CallStatistics holds per-call I/O counters.
type CallStatistics struct {
	InputTensors  int64
	OutputTensors int64
	InputBytes    int64
	OutputBytes   int64
}

// RecordInput records the request side of one call: the tensor count of
// the incoming table and its total buffer bytes.
func (s *CallStatistics) RecordInput(numTensors, bufferBytes int64) {
	s.InputTensors += numTensors
	s.InputBytes += bufferBytes
}

// RecordOutput records the response side of one call.
func (s *CallStatistics) RecordOutput(numTensors, bufferBytes int64) {
	s.OutputTensors += numTensors
	s.OutputBytes += bufferBytes
}

// tableBytes returns the total buffer size in bytes across a tensor table.
func tableBytes(table TensorTable) int64 {
	var total int64
	for _, t := range table {
		if t != nil {
			total += int64(len(t.Data))
		}
	}
	return total
}

// CallMonitor observes client-side calls. It is invoked before the
// request is written; the returned scope is ended exactly once, after
// the result (or transport error) arrives.
type CallMonitor func(method string) MonitoredCallScope

// MonitoredCallScope brackets one monitored client call.
type MonitoredCallScope interface {
	End()
}
