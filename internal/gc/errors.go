package gc

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the error taxonomy of §7. Most kinds are not failures in
// the usual sense -- Invalidated and StaleReference are expected outcomes
// that cause a single block to be skipped, never the pass to abort.
type Kind int

const (
	KindNoMemory Kind = iota
	KindIOError
	KindStaleReference
	KindInvalidated
	KindNoVictim
	KindCheckpointError
	KindFilesystemInactive
)

func (k Kind) String() string {
	switch k {
	case KindNoMemory:
		return "no_memory"
	case KindIOError:
		return "io_error"
	case KindStaleReference:
		return "stale_reference"
	case KindInvalidated:
		return "invalidated"
	case KindNoVictim:
		return "no_victim"
	case KindCheckpointError:
		return "checkpoint_error"
	case KindFilesystemInactive:
		return "filesystem_inactive"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with context, implementing Unwrap so callers can use
// errors.Is/errors.As against both the Kind and the underlying cause.
type Error struct {
	Kind  Kind
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes errors.Is(err, target) report a match when target is a *Error
// with the same Kind. A bare Kind is not an error value; use IsKind to test
// an error against a Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

func newErr(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func wrapErr(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, cause: errors.WithStack(cause)}
}

// IsKind reports whether err (possibly wrapped) carries the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
