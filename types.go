package pggate

import (
	"time"

	"github.com/ewancroft/pggate/internal/session"
	"github.com/ewancroft/pggate/internal/txn"
)

// QueryInput is the input for the Query tool.
type QueryInput struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params,omitempty"`
}

// QueryOutput is the output of every statement-executing tool. All errors
// (driver errors, validation rejections, hook rejections, Go errors) are
// placed in Error with their taxonomy kind in ErrorKind. The error message is
// evaluated against error_prompts and matching prompt messages are appended.
// Callers only need to check Error, never a Go error.
type QueryOutput struct {
	Columns      []string         `json:"columns"`
	Rows         []map[string]any `json:"rows"`
	RowsAffected int64            `json:"rows_affected"`
	// Warnings carries validator annotations for statements that executed
	// despite matching a heuristic (Warn verdicts).
	Warnings []string `json:"warnings,omitempty"`
	// Cached marks a result served from the result cache.
	Cached    bool   `json:"cached,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind Kind   `json:"error_kind,omitempty"`
}

// SessionInput identifies a pinned session.
type SessionInput struct {
	SessionID string `json:"session_id"`
}

// BeginSessionOutput is the output of the begin_session tool.
type BeginSessionOutput struct {
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind Kind   `json:"error_kind,omitempty"`
}

// SessionExecInput is the input for execute_in_session.
type SessionExecInput struct {
	SessionID string `json:"session_id"`
	SQL       string `json:"sql"`
	Params    []any  `json:"params,omitempty"`
}

// StatusOutput is the output of tools whose success carries no payload.
type StatusOutput struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	ErrorKind Kind   `json:"error_kind,omitempty"`
}

// ListSessionsOutput is the output of the list_sessions tool.
type ListSessionsOutput struct {
	Sessions  []session.PinnedInfo `json:"sessions"`
	Error     string               `json:"error,omitempty"`
	ErrorKind Kind                 `json:"error_kind,omitempty"`
}

// SubmitInput is the input for the submit_query tool.
type SubmitInput struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params,omitempty"`
	// TimeoutSeconds bounds background execution. Zero uses the default
	// query timeout; values above the configured maximum are capped.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// SubmitOutput is the output of the submit_query tool.
type SubmitOutput struct {
	QueryID   string `json:"query_id,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind Kind   `json:"error_kind,omitempty"`
}

// AsyncInput identifies an async query.
type AsyncInput struct {
	QueryID string `json:"query_id"`
}

// AsyncStatusOutput is the output of the get_session_status tool.
type AsyncStatusOutput struct {
	Info      session.AsyncInfo `json:"info"`
	Error     string            `json:"error,omitempty"`
	ErrorKind Kind              `json:"error_kind,omitempty"`
}

// ListAsyncInput is the input for the list_async_queries tool.
type ListAsyncInput struct {
	// Status filters by lifecycle state; empty lists everything.
	Status string `json:"status,omitempty"`
}

// ListAsyncOutput is the output of the list_async_queries tool.
type ListAsyncOutput struct {
	Queries   []session.AsyncInfo `json:"queries"`
	Error     string              `json:"error,omitempty"`
	ErrorKind Kind                `json:"error_kind,omitempty"`
}

// BeginTransactionInput is the input for the begin_transaction tool.
type BeginTransactionInput struct {
	// Isolation is "read_committed" (default), "repeatable_read",
	// "serializable", or "read_uncommitted".
	Isolation string `json:"isolation,omitempty"`
}

// BeginTransactionOutput is the output of the begin_transaction tool.
type BeginTransactionOutput struct {
	TransactionID string `json:"transaction_id,omitempty"`
	Error         string `json:"error,omitempty"`
	ErrorKind     Kind   `json:"error_kind,omitempty"`
}

// TransactionExecInput is the input for execute_in_transaction.
type TransactionExecInput struct {
	TransactionID string `json:"transaction_id"`
	SQL           string `json:"sql"`
	Params        []any  `json:"params,omitempty"`
}

// SavepointInput is the input for the create_savepoint tool.
type SavepointInput struct {
	TransactionID string `json:"transaction_id"`
	Name          string `json:"name"`
}

// RollbackInput is the input for the rollback_transaction tool.
type RollbackInput struct {
	TransactionID string `json:"transaction_id"`
	// Savepoint rewinds to a named savepoint instead of ending the
	// transaction.
	Savepoint string `json:"savepoint,omitempty"`
}

// TransactionInput identifies a transaction.
type TransactionInput struct {
	TransactionID string `json:"transaction_id"`
}

// ListTransactionsOutput is the output of the list_transactions tool.
type ListTransactionsOutput struct {
	Transactions []txn.Summary `json:"transactions"`
	Error        string        `json:"error,omitempty"`
	ErrorKind    Kind          `json:"error_kind,omitempty"`
}

// PoolMetrics is the pool section of the metrics snapshot. Leased counts
// gateway leases; Idle and TotalConns count the driver's physical
// connections.
type PoolMetrics struct {
	Leased          int64 `json:"leased"`
	Capacity        int   `json:"capacity"`
	Idle            int   `json:"idle"`
	TotalConns      int   `json:"total_conns"`
	TotalAcquires   int64 `json:"total_acquires"`
	AcquireTimeouts int64 `json:"acquire_timeouts"`
	Retired         int64 `json:"retired"`
}

// BreakerMetrics is the circuit breaker section of the metrics snapshot.
type BreakerMetrics struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Calls               int64  `json:"calls"`
	Successes           int64  `json:"successes"`
	TransientFailures   int64  `json:"transient_failures"`
	Retries             int64  `json:"retries"`
	ShortCircuits       int64  `json:"short_circuits"`
	TimesOpened         int64  `json:"times_opened"`
}

// CacheMetrics is the result cache section of the metrics snapshot.
type CacheMetrics struct {
	Enabled   bool    `json:"enabled"`
	Entries   int     `json:"entries"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Expired   int64   `json:"expired"`
	HitRatio  float64 `json:"hit_ratio"`
}

// RegistryMetrics is the session and transaction section of the metrics
// snapshot.
type RegistryMetrics struct {
	PinnedSessions      int `json:"pinned_sessions"`
	ActiveAsyncQueries  int `json:"active_async_queries"`
	TrackedAsyncQueries int `json:"tracked_async_queries"`
	OpenTransactions    int `json:"open_transactions"`
}

// OpMetrics is one operation's entry in the per-operation section of the
// metrics snapshot. Keys are tool names ("query", "begin_session", ...).
type OpMetrics struct {
	Calls  int64 `json:"calls"`
	Errors int64 `json:"errors"`
	// TotalMicros is the cumulative latency across all calls; LastMicros is
	// the latency of the most recent one.
	TotalMicros int64 `json:"total_micros"`
	LastMicros  int64 `json:"last_micros"`
}

// MetricsOutput is the output of the get_metrics tool.
type MetricsOutput struct {
	Pool        PoolMetrics          `json:"pool"`
	Breaker     BreakerMetrics       `json:"breaker"`
	Cache       CacheMetrics         `json:"cache"`
	Registries  RegistryMetrics      `json:"registries"`
	Operations  map[string]OpMetrics `json:"operations"`
	CollectedAt time.Time            `json:"collected_at"`
}

// HealthOutput is the output of the health_check tool.
type HealthOutput struct {
	Healthy      bool   `json:"healthy"`
	BreakerState string `json:"breaker_state"`
	Error        string `json:"error,omitempty"`
	ErrorKind    Kind   `json:"error_kind,omitempty"`
}
