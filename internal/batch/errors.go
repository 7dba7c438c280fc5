package batch

import (
	"errors"
	"fmt"
)

// Error kinds for the batching engine. Callers classify failures with
// errors.Is; none of them are retryable.
var (
	// ErrInvalidArgument marks malformed caller input, detected before any
	// work is done.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRuntime marks state-dependent failures discovered mid-operation,
	// such as an ambiguous one-hot sample or an undersized output buffer.
	ErrRuntime = errors.New("runtime error")

	// ErrLogic marks internal invariant violations. These are defects, not
	// conditions callers should handle.
	ErrLogic = errors.New("logic error")

	// ErrNotImplemented marks deliberately unsupported operations.
	ErrNotImplemented = errors.New("not implemented")
)

func invalidArgf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func runtimef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrRuntime, fmt.Sprintf(format, args...))
}

func logicf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrLogic, fmt.Sprintf(format, args...))
}

func notImplementedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotImplemented, fmt.Sprintf(format, args...))
}
