package store

import "errors"

// Typed failures for record-store operations. Callers branch with errors.Is
// and decide propagation (HTTP mapping in the API layer, retry-at-next-poll
// in the worker loop).
var (
	// ErrNotFound is returned when no record exists for the given id.
	ErrNotFound = errors.New("record not found")

	// ErrAuthFailure is returned when authentication with the record store
	// fails and cannot be recovered by a token refresh.
	ErrAuthFailure = errors.New("record store authentication failed")

	// ErrConflict is returned when the store rejects a mutation as
	// conflicting with the record's current state.
	ErrConflict = errors.New("record store conflict")

	// ErrTransport is returned for network-level failures (connection,
	// timeout) where the request may not have reached the store.
	ErrTransport = errors.New("record store unreachable")

	// ErrServerError is returned for 5xx responses from the store.
	ErrServerError = errors.New("record store server error")
)
