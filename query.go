package pggate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ewancroft/pggate/internal/cache"
	"github.com/ewancroft/pggate/internal/pool"
	"github.com/ewancroft/pggate/internal/rowset"
	"github.com/ewancroft/pggate/internal/validate"
)

// Query executes the full one-shot query pipeline and returns only
// QueryOutput. All errors (Postgres errors, validation rejections, hook
// rejections, Go errors) are converted to output.Error with the taxonomy kind
// in output.ErrorKind. The error message is then evaluated against
// error_prompts patterns and any matching prompt messages are appended.
// This means callers only need to check output.Error, never a Go error.
func (g *Gateway) Query(ctx context.Context, input QueryInput) (out *QueryOutput) {
	startTime := time.Now()
	defer func() { g.ops.observe("query", startTime, out.Error != "") }()
	sql := input.SQL

	// 1. Acquire semaphore. The wait respects context cancellation and is
	// bounded by the acquire timeout, so callers without a deadline still get
	// deterministic backpressure instead of queueing forever. Zero timeout
	// means wait only as long as ctx allows, matching the pool.
	var slotTimeout <-chan time.Time
	if wait := time.Duration(g.config.Pool.AcquireTimeoutSeconds) * time.Second; wait > 0 {
		slotTimer := time.NewTimer(wait)
		defer slotTimer.Stop()
		slotTimeout = slotTimer.C
	}
	select {
	case g.semaphore <- struct{}{}:
	case <-ctx.Done():
		return g.failure(fmt.Errorf("failed to acquire query slot: all %d connection slots are in use, context cancelled while waiting: %w", cap(g.semaphore), ctx.Err()))
	case <-slotTimeout:
		return g.failure(fmt.Errorf("failed to acquire query slot: all %d connection slots are in use: %w", cap(g.semaphore), pool.ErrAcquireTimeout))
	}
	defer func() { <-g.semaphore }()

	// 2. Check SQL length (before any processing — parsing, hooks, validation)
	if len(sql) > g.config.Query.MaxSQLLength {
		return g.failure(fmt.Errorf("SQL query too long: %d bytes exceeds maximum of %d bytes", len(sql), g.config.Query.MaxSQLLength))
	}

	// --- Pipeline tracking ---
	var beforeHooks, afterHooks []string
	timeoutRule := ""
	sanitized := false

	// 3. Run BeforeQuery hooks (middleware chain)
	var err error
	if len(g.goBeforeHooks) > 0 {
		sql, err = g.runBeforeHooks(ctx, sql)
		if err != nil {
			return g.failure(err)
		}
		for _, entry := range g.goBeforeHooks {
			beforeHooks = append(beforeHooks, entry.Name)
		}
	}

	// 4. Validation (on potentially modified query)
	verdict := g.checker.Classify(sql)
	if verdict.Action == validate.ActionBlock {
		return g.failure(fmt.Errorf("%w: %s", errRejected, strings.Join(verdict.Reasons, "; ")))
	}
	var warnings []string
	if verdict.Action == validate.ActionWarn {
		warnings = verdict.Reasons
	}

	// 5. Determine timeout
	var timeout time.Duration
	timeout, timeoutRule = g.timeoutMgr.GetTimeoutWithPattern(sql)
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 6. Result cache lookup. Only clean pipelines (no hooks) over single
	// read statements are cacheable; everything else always hits the
	// database.
	cacheable := g.cache != nil && len(g.goBeforeHooks) == 0 &&
		len(g.goAfterHooks) == 0 && g.checker.Cacheable(sql)
	var key uint64
	if cacheable {
		key = cache.Fingerprint(sql, input.Params)
		if v, ok := g.cache.Get(key); ok {
			stored := v.(*QueryOutput)
			// Each hit gets its own copy of the rows so a caller mutating its
			// result cannot corrupt the cached entry.
			hit := *stored
			hit.Columns = append([]string(nil), stored.Columns...)
			hit.Rows = cloneRows(stored.Rows)
			hit.Cached = true
			hit.Warnings = warnings
			g.logger.Info().
				Str("sql", truncateForLog(sql, 200)).
				Dur("duration", time.Since(startTime)).
				Int("row_count", len(hit.Rows)).
				Bool("cached", true).
				Msg("query executed")
			return &hit
		}
	}

	// 7. Execute under the resilience policy. Only read-only statements are
	// retried; write statements get a single attempt.
	var finalResult *QueryOutput
	err = g.exec.Call(queryCtx, "query", verdict.ReadOnly, func(callCtx context.Context) error {
		result, execErr := g.runTransactional(ctx, callCtx, sql, input.Params, verdict.ReadOnly)
		if execErr != nil {
			return execErr
		}
		finalResult = result
		return nil
	})
	if err != nil {
		return g.failure(err)
	}
	for _, entry := range g.goAfterHooks {
		afterHooks = append(afterHooks, entry.Name)
	}
	finalResult.Warnings = warnings

	// 8. Apply sanitization (per-field, recursive into JSONB/arrays)
	sanitized = g.redactor.HasFieldRules()
	g.redactor.SanitizeRows(finalResult.Rows)

	// 9. Apply max result length truncation
	g.truncateIfNeeded(finalResult)

	// 10. Populate the cache with the post-sanitization result. The stored
	// copy owns its rows; the caller's result stays mutable without touching
	// the entry.
	if cacheable && finalResult.Error == "" {
		stored := *finalResult
		stored.Columns = append([]string(nil), finalResult.Columns...)
		stored.Rows = cloneRows(finalResult.Rows)
		stored.Warnings = nil
		g.cache.Put(key, &stored)
	}

	// 11. Log successful query execution with pipeline details
	logEvent := g.logger.Info().
		Str("sql", truncateForLog(sql, 200)).
		Dur("duration", time.Since(startTime)).
		Int("row_count", len(finalResult.Rows)).
		Int64("rows_affected", finalResult.RowsAffected)
	if len(beforeHooks) > 0 {
		logEvent = logEvent.Strs("before_hooks", beforeHooks)
	}
	if len(afterHooks) > 0 {
		logEvent = logEvent.Strs("after_hooks", afterHooks)
	}
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if len(warnings) > 0 {
		logEvent = logEvent.Strs("warnings", warnings)
	}
	if sanitized {
		logEvent = logEvent.Bool("sanitized", true)
	}
	logEvent.Msg("query executed")

	return finalResult
}

// cloneRows deep-copies result rows, including nested JSONB containers, so
// two copies never share mutable state.
func cloneRows(rows []map[string]any) []map[string]any {
	if rows == nil {
		return nil
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		m := make(map[string]any, len(row))
		for k, v := range row {
			m[k] = cloneValue(v)
		}
		out[i] = m
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	}
	return v
}

// runTransactional executes one statement inside its own transaction on a
// fresh lease. Read-only statements are rolled back, writes run AfterQuery
// hooks and then commit. The lease is always given back: released on the
// clean paths, retired when the wire state is unknown.
func (g *Gateway) runTransactional(parent, queryCtx context.Context, sql string, params []any, readOnly bool) (*QueryOutput, error) {
	lease, err := g.pool.Acquire(queryCtx)
	if err != nil {
		return nil, err
	}

	if _, err := lease.Conn.Exec(queryCtx, "BEGIN"); err != nil {
		lease.Retire()
		return nil, err
	}
	committed := false
	defer func() {
		if committed {
			lease.Release()
			return
		}
		// Use parent ctx, not queryCtx — if the query timed out, queryCtx is
		// cancelled and the rollback would fail with it.
		if _, err := lease.Conn.Exec(parent, "ROLLBACK"); err != nil {
			lease.Retire()
			return
		}
		lease.Release()
	}()

	rows, err := lease.Conn.Query(queryCtx, sql, params...)
	if err != nil {
		return nil, err
	}
	collected, err := rowset.Collect(rows)
	if err != nil {
		return nil, err
	}
	result := &QueryOutput{
		Columns:      collected.Columns,
		Rows:         collected.Rows,
		RowsAffected: collected.RowsAffected,
	}

	// Read-only statements never commit; the deferred rollback ends the
	// transaction.
	if readOnly {
		return result, nil
	}

	// AfterQuery hooks run BEFORE commit for write queries. This allows
	// hooks to reject and trigger rollback for writes.
	if len(g.goAfterHooks) > 0 {
		result, err = g.runAfterHooks(parent, result)
		if err != nil {
			return nil, err
		}
	}

	// Commit uses queryCtx intentionally — ensures the entire pipeline
	// completes within the query timeout.
	if _, err := lease.Conn.Exec(queryCtx, "COMMIT"); err != nil {
		return nil, err
	}
	committed = true
	return result, nil
}

// runBeforeHooks runs Go-interface BeforeQuery hooks in middleware chain.
func (g *Gateway) runBeforeHooks(ctx context.Context, sql string) (string, error) {
	for _, entry := range g.goBeforeHooks {
		timeout := entry.Timeout
		if timeout == 0 {
			timeout = time.Duration(g.config.DefaultHookTimeoutSeconds) * time.Second
		}
		hookCtx, cancel := context.WithTimeout(ctx, timeout)

		modified, err := entry.Hook.Run(hookCtx, sql)
		cancel()
		if err != nil {
			if hookCtx.Err() == context.DeadlineExceeded {
				return "", fmt.Errorf("before_query hook error: hook timed out (name: %s, timeout: %s)", entry.Name, timeout)
			}
			return "", fmt.Errorf("before_query hook error: hook rejected query (name: %s): %w", entry.Name, err)
		}
		sql = modified
	}
	return sql, nil
}

// runAfterHooks runs Go-interface AfterQuery hooks in middleware chain.
func (g *Gateway) runAfterHooks(ctx context.Context, result *QueryOutput) (*QueryOutput, error) {
	for _, entry := range g.goAfterHooks {
		timeout := entry.Timeout
		if timeout == 0 {
			timeout = time.Duration(g.config.DefaultHookTimeoutSeconds) * time.Second
		}
		hookCtx, cancel := context.WithTimeout(ctx, timeout)

		modified, err := entry.Hook.Run(hookCtx, result)
		cancel()
		if err != nil {
			if hookCtx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("after_query hook error: hook timed out (name: %s, timeout: %s)", entry.Name, timeout)
			}
			return nil, fmt.Errorf("after_query hook error: hook rejected result (name: %s): %w", entry.Name, err)
		}
		result = modified
	}
	return result, nil
}

// failure converts any error into a QueryOutput with a redacted error
// message, its taxonomy kind, and any matching error_prompts guidance
// appended.
func (g *Gateway) failure(err error) *QueryOutput {
	errMsg := g.redactor.Error(err.Error())
	kind := classify(err)
	guidance := g.redactor.Guidance(errMsg)

	g.logger.Error().Err(err).Str("error_kind", string(kind)).Msg("query error")

	if guidance != "" {
		errMsg = errMsg + "\n\n" + guidance
	}
	return &QueryOutput{Error: errMsg, ErrorKind: kind}
}

// truncateIfNeeded truncates query output rows if they exceed MaxResultLength
// (in characters).
func (g *Gateway) truncateIfNeeded(output *QueryOutput) {
	jsonBytes, _ := json.Marshal(output.Rows)
	jsonStr := string(jsonBytes)
	if utf8.RuneCountInString(jsonStr) <= g.config.Query.MaxResultLength {
		return
	}
	// Truncate to MaxResultLength characters (runes)
	runes := []rune(jsonStr)
	truncated := string(runes[:g.config.Query.MaxResultLength])
	output.Rows = nil
	output.Error = truncated + "...[truncated] Result is too long! Add limits in your query!"
}

// truncateForLog truncates a string for log output to avoid oversized log
// entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
