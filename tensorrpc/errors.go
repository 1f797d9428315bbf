package tensorrpc

import (
	"errors"
	"fmt"
)

// StatusCode is the closed status taxonomy carried across the process
// boundary. A handler unable to classify a failure must use
// StatusUnknown, never guess a more specific code.
type StatusCode int

const (
	StatusUnknown StatusCode = iota
	StatusInvalidArgument
	StatusOutOfRange
	StatusResourceExhausted
	StatusUnimplemented
	StatusAborted
	StatusInternal
	StatusNotFound
)

func (c StatusCode) String() string {
	switch c {
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusOutOfRange:
		return "OUT_OF_RANGE"
	case StatusResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case StatusUnimplemented:
		return "UNIMPLEMENTED"
	case StatusAborted:
		return "ABORTED"
	case StatusInternal:
		return "INTERNAL"
	case StatusNotFound:
		return "NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

// statusCodeFromString reverses StatusCode.String for wire decoding.
// Unrecognized names decode as StatusUnknown.
func statusCodeFromString(s string) StatusCode {
	switch s {
	case "INVALID_ARGUMENT":
		return StatusInvalidArgument
	case "OUT_OF_RANGE":
		return StatusOutOfRange
	case "RESOURCE_EXHAUSTED":
		return StatusResourceExhausted
	case "UNIMPLEMENTED":
		return StatusUnimplemented
	case "ABORTED":
		return StatusAborted
	case "INTERNAL":
		return StatusInternal
	case "NOT_FOUND":
		return StatusNotFound
	default:
		return StatusUnknown
	}
}

// ErrCall is a sentinel for use with errors.Is to check whether any
// error in a chain is an *Error.
var ErrCall = &Error{}

// Error is a classified call failure: a status code plus diagnostic
// text. It is the error variant of CallResult and travels verbatim
// from callee to remote caller.
type Error struct {
	Code    StatusCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is supports errors.Is by matching any *Error target.
func (e *Error) Is(target error) bool {
	_, ok := target.(*Error)
	return ok
}

// Errorf builds an Error with a formatted message.
func Errorf(code StatusCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// DecodeError reports malformed or out-of-range wire data. It is
// returned by the codec, never propagated as an uncontrolled fault;
// Code is StatusOutOfRange for tensor-table bound violations and
// StatusInvalidArgument for everything else.
type DecodeError struct {
	Code    StatusCode
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %s", e.Message)
}

// Status converts the decode failure into the Error carried back to
// the caller.
func (e *DecodeError) Status() *Error {
	return &Error{Code: e.Code, Message: e.Message}
}

// AsError coerces any failure surfaced inside a call into an *Error.
// Unclassifiable errors map to StatusUnknown.
func AsError(err error) *Error {
	var callErr *Error
	if errors.As(err, &callErr) {
		return callErr
	}
	var decErr *DecodeError
	if errors.As(err, &decErr) {
		return decErr.Status()
	}
	return &Error{Code: StatusUnknown, Message: err.Error()}
}

// FailureKind is the tagged failure variant produced at the
// callee-invocation boundary. Embedding runtimes classify their native
// failures into this closed tag set via an ordered predicate list,
// first match wins; CodeForFailure then maps tags to status codes.
type FailureKind int

const (
	// FailureUnknown is the mandatory default for anything the runtime
	// cannot classify.
	FailureUnknown FailureKind = iota
	// FailureBadArgument covers argument and type errors.
	FailureBadArgument
	// FailureExhausted covers iteration exhaustion.
	FailureExhausted
	// FailureOutOfMemory covers allocation failure in the callee.
	FailureOutOfMemory
	// FailureNotImplemented covers explicitly unimplemented operations.
	FailureNotImplemented
	// FailureInterrupted covers interruption of the callee.
	FailureInterrupted
	// FailureInternal covers internal and syntax-level anomalies.
	FailureInternal
	// FailureLookup covers lookup failures inside the callee.
	FailureLookup
)

// Failure is a classified callee-side failure as extracted from an
// embedded runtime: the tag plus formatted diagnostic text.
type Failure struct {
	Kind    FailureKind
	Message string
}

// CodeForFailure is the fixed failure-category to status-code mapping,
// reproduced exactly for cross-implementation compatibility.
func CodeForFailure(kind FailureKind) StatusCode {
	switch kind {
	case FailureBadArgument:
		return StatusInvalidArgument
	case FailureExhausted:
		return StatusOutOfRange
	case FailureOutOfMemory:
		return StatusResourceExhausted
	case FailureNotImplemented:
		return StatusUnimplemented
	case FailureInterrupted:
		return StatusAborted
	case FailureInternal:
		return StatusInternal
	case FailureLookup:
		return StatusNotFound
	default:
		return StatusUnknown
	}
}
