package tensorrpc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeForFailure(t *testing.T) {
	tests := []struct {
		kind FailureKind
		code StatusCode
	}{
		{FailureBadArgument, StatusInvalidArgument},
		{FailureExhausted, StatusOutOfRange},
		{FailureOutOfMemory, StatusResourceExhausted},
		{FailureNotImplemented, StatusUnimplemented},
		{FailureInterrupted, StatusAborted},
		{FailureInternal, StatusInternal},
		{FailureLookup, StatusNotFound},
		{FailureUnknown, StatusUnknown},
		{FailureKind(99), StatusUnknown},
	}
	for _, tt := range tests {
		require.Equal(t, tt.code, CodeForFailure(tt.kind))
	}
}

func TestStatusCodeStringRoundTrip(t *testing.T) {
	codes := []StatusCode{
		StatusUnknown, StatusInvalidArgument, StatusOutOfRange,
		StatusResourceExhausted, StatusUnimplemented, StatusAborted,
		StatusInternal, StatusNotFound,
	}
	for _, code := range codes {
		require.Equal(t, code, statusCodeFromString(code.String()))
	}
	require.Equal(t, StatusUnknown, statusCodeFromString("NO_SUCH_CODE"))
}

func TestErrorIs(t *testing.T) {
	err := Errorf(StatusNotFound, "missing %q", "thing")
	require.ErrorIs(t, err, ErrCall)
	require.ErrorIs(t, fmt.Errorf("wrapped: %w", err), ErrCall)
	require.NotErrorIs(t, errors.New("plain"), ErrCall)
	require.Equal(t, `NOT_FOUND: missing "thing"`, err.Error())
}

func TestAsError(t *testing.T) {
	callErr := Errorf(StatusAborted, "stopped")
	require.Same(t, callErr, AsError(callErr))
	require.Same(t, callErr, AsError(fmt.Errorf("wrapped: %w", callErr)))

	decErr := &DecodeError{Code: StatusOutOfRange, Message: "ref out of range"}
	converted := AsError(decErr)
	require.Equal(t, StatusOutOfRange, converted.Code)
	require.Equal(t, "ref out of range", converted.Message)

	unknown := AsError(errors.New("something else"))
	require.Equal(t, StatusUnknown, unknown.Code)
	require.Equal(t, "something else", unknown.Message)
}
