// Package pggate provides a PostgreSQL gateway for AI agents through the
// Model Context Protocol (MCP).
//
// Every statement runs through a shared pipeline: SQL validation (parse,
// classify, screen by access mode), pattern-based timeouts, a bounded
// connection lease pool, a retrying circuit breaker, per-field sanitization,
// and result truncation. On top of the one-shot query tool the gateway
// manages three kinds of long-lived state:
//
//   - Pinned sessions hold a dedicated connection so SET, temp tables, and
//     prepared statements persist across calls (begin_session,
//     execute_in_session, end_session).
//   - Async queries run in the background on a worker pool and are polled by
//     ID (submit_query, get_session_status, get_session_result,
//     cancel_session).
//   - Explicit transactions span multiple statements with isolation levels
//     and savepoints (begin_transaction, execute_in_transaction,
//     create_savepoint, commit_transaction, rollback_transaction).
//
// SQL injection is prevented at the protocol level using pgx extended query
// protocol (QueryExecModeExec) with positional parameters. On top of that,
// statements are classified using PostgreSQL's actual C parser via pg_query
// and screened against the configured access mode, plus heuristic injection
// scanning that can warn or block.
//
// # Library Usage
//
//	g, err := pggate.New(ctx, connString, pggate.Config{
//		Pool:       pggate.PoolConfig{MaxConns: 10},
//		Validation: pggate.ValidationConfig{Mode: "standard"},
//		Query:      pggate.QueryConfig{DefaultTimeoutSeconds: 30},
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer g.Close(ctx)
//
//	// Use directly
//	output := g.Query(ctx, pggate.QueryInput{SQL: "SELECT * FROM users LIMIT 10"})
//
//	// Or register as MCP tools
//	pggate.RegisterMCPTools(mcpServer, g)
//
// Failed operations never return Go errors to tool callers; the error
// message, redacted of credentials, and a stable error_kind land in the
// output struct. Clients branch on error_kind, never on message text.
//
// # Hooks
//
// BeforeQuery and AfterQuery hooks run as a middleware chain around one-shot
// query execution. Implement [BeforeQueryHook] and [AfterQueryHook]:
//
//	type AuditHook struct{}
//
//	func (h *AuditHook) Run(ctx context.Context, query string) (string, error) {
//		log.Printf("query: %s", query)
//		return query, nil // return modified query or original
//	}
//
// AfterQuery hooks run before transaction commit for write queries, enabling
// guardrails like rolling back if too many rows are affected. AfterQuery
// hooks do not run for read-only queries (SELECT, EXPLAIN) — those are rolled
// back immediately after collecting results.
package pggate
