package pggate

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ewancroft/pggate/internal/pool"
	"github.com/ewancroft/pggate/internal/resilience"
	"github.com/ewancroft/pggate/internal/session"
	"github.com/ewancroft/pggate/internal/txn"
)

// Kind is the closed error taxonomy exposed on every failed operation as
// `error_kind`. Clients branch on the kind, never on message text.
type Kind string

const (
	KindValidationRejected  Kind = "validation_rejected"
	KindResourceExhausted   Kind = "resource_exhausted"
	KindTransient           Kind = "transient"
	KindTransactionAborted  Kind = "transaction_aborted"
	KindSessionNotFound     Kind = "session_not_found"
	KindTransactionNotFound Kind = "transaction_not_found"
	KindSessionBusy         Kind = "session_busy"
	KindSessionExists       Kind = "session_exists"
	KindAlreadyTerminal     Kind = "already_terminal"
	KindSavepointConflict   Kind = "savepoint_conflict"
	KindUnknownSavepoint    Kind = "unknown_savepoint"
	KindCircuitOpen         Kind = "circuit_open"
	KindTimeout             Kind = "timeout"
	KindInternal            Kind = "internal"
)

// errRejected marks statements the validator refused to execute.
var errRejected = errors.New("statement rejected")

// classify maps any error produced inside the gateway onto the taxonomy.
func classify(err error) Kind {
	switch {
	case errors.Is(err, errRejected):
		return KindValidationRejected
	case errors.Is(err, pool.ErrAcquireTimeout),
		errors.Is(err, session.ErrTooMany),
		errors.Is(err, txn.ErrTooMany):
		return KindResourceExhausted
	case errors.Is(err, resilience.ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, txn.ErrAborted):
		return KindTransactionAborted
	case errors.Is(err, txn.ErrNotFound):
		return KindTransactionNotFound
	case errors.Is(err, txn.ErrSavepointExists):
		return KindSavepointConflict
	case errors.Is(err, txn.ErrUnknownSavepoint):
		return KindUnknownSavepoint
	case errors.Is(err, session.ErrNotFound):
		return KindSessionNotFound
	case errors.Is(err, session.ErrBusy):
		return KindSessionBusy
	case errors.Is(err, session.ErrExists):
		return KindSessionExists
	case errors.Is(err, session.ErrAlreadyTerminal):
		return KindAlreadyTerminal
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case isTransient(err):
		return KindTransient
	}
	return KindInternal
}

// isTransient reports whether the failure is connectivity- or
// capacity-related rather than semantic. Only transient failures are retried
// and only they count against the circuit breaker.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, pool.ErrAcquireTimeout) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		switch {
		case len(code) >= 2 && code[:2] == "08": // connection exceptions
			return true
		case code == "57P01": // admin_shutdown
			return true
		case code == "57P02": // crash_shutdown
			return true
		case code == "53300": // too_many_connections
			return true
		}
		return false
	}
	// Dial and handshake failures surface before a PgError exists.
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}
