package ronet

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

// Error sentinels for the recoverable failure classes. Instance
// methods return these (usually wrapped with call context); the
// package-level surface converts the lifecycle classes into fatal
// aborts because a single PE cannot recover from them without
// desynchronizing its peers.
var (
	// ErrInvalidArgument covers malformed team splits, bad active
	// sets, and out-of-range operands. Local and recoverable.
	ErrInvalidArgument = errors.New("ronet: invalid argument")

	// ErrResourceExhausted covers a full team table, a drained
	// context pool, and an exhausted heap arena.
	ErrResourceExhausted = errors.New("ronet: resource exhausted")

	// ErrNotInitialized is returned when an operation runs before
	// Init or after Finalize.
	ErrNotInitialized = errors.New("ronet: library not initialized")

	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("ronet: library already initialized")

	// ErrBackend wraps transport failures. No partial-failure
	// recovery exists for an in-flight one-sided operation, so the
	// package-level surface treats these as fatal.
	ErrBackend = errors.New("ronet: backend failure")
)

// OpError carries the operation name and peer for a failed backend
// call.
type OpError struct {
	Op    string
	PE    int
	Cause error
}

func (e *OpError) Error() string {
	if e.PE >= 0 {
		return fmt.Sprintf("ronet: %s to pe %d: %v", e.Op, e.PE, e.Cause)
	}
	return fmt.Sprintf("ronet: %s: %v", e.Op, e.Cause)
}

func (e *OpError) Unwrap() error { return e.Cause }

// fatal reports an unrecoverable condition and terminates the
// process. The diagnostic names the failing call and the caller's
// source location, matching the propagation policy for lifecycle and
// resource failures.
func fatal(logger *slog.Logger, call string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	file, line := "unknown", 0
	if _, f, l, ok := runtime.Caller(2); ok {
		file, line = f, l
	}
	logger.Error(fmt.Sprintf("RONET_ERROR: call '%s' in file %s line %d", call, file, line),
		"error", err,
	)
	os.Exit(1)
}
