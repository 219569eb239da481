package pggate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ewancroft/pggate/internal/validate"
)

// BeginSession opens a pinned session holding a dedicated connection.
// Session-scoped state (SET, temp tables, prepared statements) persists
// across ExecuteInSession calls until EndSession or the idle reaper ends it.
func (g *Gateway) BeginSession(ctx context.Context, input SessionInput) (out *BeginSessionOutput) {
	start := time.Now()
	defer func() { g.ops.observe("begin_session", start, out.Error != "") }()

	id, err := g.pinned.Begin(ctx, input.SessionID)
	if err != nil {
		msg, kind := g.describeError(err)
		return &BeginSessionOutput{Error: msg, ErrorKind: kind}
	}
	g.logger.Info().Str("session_id", id).Msg("session started")
	return &BeginSessionOutput{SessionID: id}
}

// ExecuteInSession runs one validated statement on a pinned session's
// dedicated connection. A session executes at most one statement at a time;
// concurrent calls fail with session_busy rather than queue.
func (g *Gateway) ExecuteInSession(ctx context.Context, input SessionExecInput) (out *QueryOutput) {
	start := time.Now()
	defer func() { g.ops.observe("execute_in_session", start, out.Error != "") }()

	return g.executeHeld(ctx, input.SQL, func(execCtx context.Context) (*QueryOutput, error) {
		result, err := g.pinned.Execute(execCtx, input.SessionID, input.SQL, input.Params...)
		if err != nil {
			return nil, err
		}
		return &QueryOutput{
			Columns:      result.Columns,
			Rows:         result.Rows,
			RowsAffected: result.RowsAffected,
		}, nil
	})
}

// EndSession closes a pinned session and retires its connection.
func (g *Gateway) EndSession(ctx context.Context, input SessionInput) (out *StatusOutput) {
	start := time.Now()
	defer func() { g.ops.observe("end_session", start, out.Error != "") }()

	if err := g.pinned.End(ctx, input.SessionID); err != nil {
		msg, kind := g.describeError(err)
		return &StatusOutput{Error: msg, ErrorKind: kind}
	}
	g.logger.Info().Str("session_id", input.SessionID).Msg("session ended")
	return &StatusOutput{OK: true}
}

// ListSessions returns all live pinned sessions.
func (g *Gateway) ListSessions(ctx context.Context) (out *ListSessionsOutput) {
	start := time.Now()
	defer func() { g.ops.observe("list_sessions", start, out.Error != "") }()

	return &ListSessionsOutput{Sessions: g.pinned.List()}
}

// executeHeld is the shared pipeline for statements executed on held
// connections (pinned sessions and explicit transactions): validate, clamp
// to the statement timeout, run, sanitize, truncate.
func (g *Gateway) executeHeld(ctx context.Context, sql string, run func(context.Context) (*QueryOutput, error)) *QueryOutput {
	startTime := time.Now()

	if len(sql) > g.config.Query.MaxSQLLength {
		return g.failure(fmt.Errorf("SQL query too long: %d bytes exceeds maximum of %d bytes", len(sql), g.config.Query.MaxSQLLength))
	}

	verdict := g.checker.Classify(sql)
	if verdict.Action == validate.ActionBlock {
		return g.failure(fmt.Errorf("%w: %s", errRejected, strings.Join(verdict.Reasons, "; ")))
	}
	var warnings []string
	if verdict.Action == validate.ActionWarn {
		warnings = verdict.Reasons
	}

	timeout, timeoutRule := g.timeoutMgr.GetTimeoutWithPattern(sql)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := run(execCtx)
	if err != nil {
		return g.failure(err)
	}
	result.Warnings = warnings

	g.redactor.SanitizeRows(result.Rows)
	g.truncateIfNeeded(result)

	logEvent := g.logger.Info().
		Str("sql", truncateForLog(sql, 200)).
		Dur("duration", time.Since(startTime)).
		Int("row_count", len(result.Rows)).
		Int64("rows_affected", result.RowsAffected)
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if len(warnings) > 0 {
		logEvent = logEvent.Strs("warnings", warnings)
	}
	logEvent.Msg("query executed")

	return result
}

// describeError redacts an error message, appends matching error_prompts
// guidance, and classifies the error onto the taxonomy. Shared by every
// non-QueryOutput tool surface.
func (g *Gateway) describeError(err error) (string, Kind) {
	msg := g.redactor.Error(err.Error())
	kind := classify(err)
	g.logger.Error().Err(err).Str("error_kind", string(kind)).Msg("operation error")
	if guidance := g.redactor.Guidance(msg); guidance != "" {
		msg = msg + "\n\n" + guidance
	}
	return msg, kind
}
