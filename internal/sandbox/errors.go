package sandbox

import (
	"errors"
	"fmt"
)

// Kind classifies sandbox failures so callers can tell "your command
// failed" apart from "the substrate is down".
type Kind string

const (
	// KindProvisionFailed means the runtime could not allocate a new
	// sandbox. Fatal to the requesting generation; retry policy belongs
	// to the caller.
	KindProvisionFailed Kind = "provision_failed"

	// KindRuntimeUnavailable means the container substrate itself is
	// unreachable (daemon down, network). Fails the whole generation.
	KindRuntimeUnavailable Kind = "runtime_unavailable"

	// KindNotFound means a file, sandbox, or session does not exist.
	// Local to the operation; does not abort the generation.
	KindNotFound Kind = "not_found"

	// KindTimedOut means an exec exceeded its bound. Treated as a
	// failed action; the generation continues.
	KindTimedOut Kind = "timed_out"
)

// Error is the unified error type for sandbox operations.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "exec", "write_file"
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sandbox %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("sandbox %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and operation name.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsRuntimeUnavailable reports whether err indicates the substrate is
// unreachable rather than a command-level failure.
func IsRuntimeUnavailable(err error) bool { return IsKind(err, KindRuntimeUnavailable) }

// IsTimedOut reports whether err is an exec timeout.
func IsTimedOut(err error) bool { return IsKind(err, KindTimedOut) }
