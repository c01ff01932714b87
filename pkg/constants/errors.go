package constants

import "errors"

// Errors
var (
	// ErrLockDenied reports that the target object is held by another
	// session. Recoverable: callers treat the object as read-only.
	ErrLockDenied = errors.New("object locked by another session")

	// ErrStaleMutation reports that an operation targeted an object that
	// no longer exists or was modified more recently than the caller's
	// view. Recoverable: the operation is dropped.
	ErrStaleMutation = errors.New("stale mutation dropped")

	// ErrBackendUnavailable reports a transport-level subscribe/write
	// failure. Recoverable: the core keeps operating on last-known-good
	// local state while the backend reconnects.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrInvariantViolation reports malformed state such as a connection
	// endpoint carrying both a shape anchor and a free point.
	ErrInvariantViolation = errors.New("invariant violation")

	ErrNotFound = errors.New("object not found")
	ErrIDInUse  = errors.New("id already in use")
	ErrTimeout  = errors.New("timeout")
	ErrClosed   = errors.New("closed")
)
