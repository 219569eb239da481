package pggate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ewancroft/pggate/internal/session"
	"github.com/ewancroft/pggate/internal/validate"
)

// SubmitQuery validates a statement and queues it for background execution.
// The statement holds no connection while queued; a worker acquires one when
// it starts running. Returns a query ID for polling.
func (g *Gateway) SubmitQuery(ctx context.Context, input SubmitInput) (out *SubmitOutput) {
	start := time.Now()
	defer func() { g.ops.observe("submit_query", start, out.Error != "") }()
	sql := input.SQL

	if len(sql) > g.config.Query.MaxSQLLength {
		msg, kind := g.describeError(fmt.Errorf("SQL query too long: %d bytes exceeds maximum of %d bytes", len(sql), g.config.Query.MaxSQLLength))
		return &SubmitOutput{Error: msg, ErrorKind: kind}
	}

	// Validation happens at submission, not execution, so rejections surface
	// immediately instead of as a failed background query.
	verdict := g.checker.Classify(sql)
	if verdict.Action == validate.ActionBlock {
		msg, kind := g.describeError(fmt.Errorf("%w: %s", errRejected, strings.Join(verdict.Reasons, "; ")))
		return &SubmitOutput{Error: msg, ErrorKind: kind}
	}

	timeout := g.timeoutMgr.Clamp(time.Duration(input.TimeoutSeconds) * time.Second)
	id, err := g.async.Submit(sql, input.Params, timeout)
	if err != nil {
		msg, kind := g.describeError(err)
		return &SubmitOutput{Error: msg, ErrorKind: kind}
	}
	g.logger.Info().
		Str("query_id", id).
		Str("sql", truncateForLog(sql, 200)).
		Dur("timeout", timeout).
		Msg("async query submitted")
	return &SubmitOutput{QueryID: id}
}

// GetSessionStatus returns the lifecycle record of an async query.
func (g *Gateway) GetSessionStatus(ctx context.Context, input AsyncInput) (out *AsyncStatusOutput) {
	start := time.Now()
	defer func() { g.ops.observe("get_session_status", start, out.Error != "") }()

	info, err := g.async.Poll(input.QueryID)
	if err != nil {
		msg, kind := g.describeError(err)
		return &AsyncStatusOutput{Error: msg, ErrorKind: kind}
	}
	info.Error = g.redactor.Error(info.Error)
	return &AsyncStatusOutput{Info: info}
}

// GetSessionResult returns the rows of a completed async query. Queries in
// any other state fail; failed queries report their stored error with its
// taxonomy kind.
func (g *Gateway) GetSessionResult(ctx context.Context, input AsyncInput) (out *QueryOutput) {
	start := time.Now()
	defer func() { g.ops.observe("get_session_result", start, out.Error != "") }()

	result, info, err := g.async.Result(input.QueryID)
	if err != nil {
		// A failed query's own error is more useful than "not completed".
		if info.Status == session.StatusFailed {
			if cause, causeErr := g.async.Err(input.QueryID); causeErr == nil && cause != nil {
				return g.failure(cause)
			}
		}
		return g.failure(err)
	}

	out = &QueryOutput{
		Columns:      result.Columns,
		Rows:         result.Rows,
		RowsAffected: result.RowsAffected,
	}
	g.redactor.SanitizeRows(out.Rows)
	g.truncateIfNeeded(out)
	return out
}

// CancelSession cancels an async query. Queued queries will never execute;
// running queries get their context cancelled. A late result from a
// cancelled query is discarded, never readable.
func (g *Gateway) CancelSession(ctx context.Context, input AsyncInput) (out *StatusOutput) {
	start := time.Now()
	defer func() { g.ops.observe("cancel_session", start, out.Error != "") }()

	if err := g.async.Cancel(input.QueryID); err != nil {
		msg, kind := g.describeError(err)
		return &StatusOutput{Error: msg, ErrorKind: kind}
	}
	g.logger.Info().Str("query_id", input.QueryID).Msg("async query cancelled")
	return &StatusOutput{OK: true}
}

// ListAsyncQueries lists tracked async queries in submission order,
// optionally filtered by status.
func (g *Gateway) ListAsyncQueries(ctx context.Context, input ListAsyncInput) (out *ListAsyncOutput) {
	start := time.Now()
	defer func() { g.ops.observe("list_async_queries", start, out.Error != "") }()

	var filter session.Status
	if input.Status != "" {
		filter = session.Status(strings.ToLower(input.Status))
		switch filter {
		case session.StatusQueued, session.StatusRunning, session.StatusCompleted,
			session.StatusFailed, session.StatusCancelled:
		default:
			msg, kind := g.describeError(fmt.Errorf("unknown status filter %q", input.Status))
			return &ListAsyncOutput{Error: msg, ErrorKind: kind}
		}
	}
	queries := g.async.List(filter)
	for i := range queries {
		queries[i].Error = g.redactor.Error(queries[i].Error)
	}
	return &ListAsyncOutput{Queries: queries}
}
