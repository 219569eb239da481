// Package session tracks the two kinds of long-lived client state the
// gateway offers: pinned sessions, which hold a dedicated connection so
// session-scoped state (SET, temporary tables) survives across calls, and
// async queries, which run in the background and are polled for results.
package session

import "errors"

var (
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session: not found")
	// ErrExists is returned when beginning a pinned session with an id that
	// is already in use.
	ErrExists = errors.New("session: session id already exists")
	// ErrBusy is returned when a pinned session is already executing a
	// statement. Callers retry; statements are never queued silently.
	ErrBusy = errors.New("session: session is busy executing another statement")
	// ErrTooMany is returned when the registry is at capacity.
	ErrTooMany = errors.New("session: too many sessions")
	// ErrAlreadyTerminal is returned when cancelling a query that already
	// completed, failed, or was cancelled.
	ErrAlreadyTerminal = errors.New("session: query already reached a terminal state")
	// ErrNotCompleted is returned when fetching the result of a query that
	// has not completed.
	ErrNotCompleted = errors.New("session: query has not completed")
	// ErrClosed is returned after the registry has shut down.
	ErrClosed = errors.New("session: registry closed")
)
