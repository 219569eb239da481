package pggate

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterMCPTools registers every gateway operation as an MCP tool on the
// given MCP server: one-shot queries, pinned sessions, async queries,
// explicit transactions, metrics, and health.
func RegisterMCPTools(mcpServer *server.MCPServer, g *Gateway) {
	registerQueryTool(mcpServer, g)
	registerSessionTools(mcpServer, g)
	registerAsyncTools(mcpServer, g)
	registerTransactionTools(mcpServer, g)
	registerObservabilityTools(mcpServer, g)
}

func registerQueryTool(mcpServer *server.MCPServer, g *Gateway) {
	queryTool := mcp.NewTool("query",
		mcp.WithDescription("Execute a single SQL statement against the PostgreSQL database in its own transaction. Returns results as JSON."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL statement to execute"),
		),
		mcp.WithArray("params",
			mcp.Description("Positional parameters bound to $1, $2, ... placeholders"),
		),
	)

	mcpServer.AddTool(queryTool, g.loggedToolHandler("query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, err := req.RequireString("sql")
		if err != nil {
			return mcp.NewToolResultError("sql parameter is required"), nil
		}
		output := g.Query(ctx, QueryInput{SQL: sql, Params: optionalParams(req)})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		return marshalToolResult(output)
	}))
}

func registerSessionTools(mcpServer *server.MCPServer, g *Gateway) {
	beginTool := mcp.NewTool("begin_session",
		mcp.WithDescription("Open a pinned session holding a dedicated connection. Session state (SET, temp tables, prepared statements) persists across execute_in_session calls until end_session."),
		mcp.WithString("session_id",
			mcp.Description("Client-chosen session ID; generated when omitted"),
		),
	)
	mcpServer.AddTool(beginTool, g.loggedToolHandler("begin_session", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output := g.BeginSession(ctx, SessionInput{SessionID: req.GetString("session_id", "")})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		return marshalToolResult(output)
	}))

	execTool := mcp.NewTool("execute_in_session",
		mcp.WithDescription("Execute a SQL statement on a pinned session's dedicated connection. A session runs one statement at a time; concurrent calls fail as busy."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The session to execute in"),
		),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL statement to execute"),
		),
		mcp.WithArray("params",
			mcp.Description("Positional parameters bound to $1, $2, ... placeholders"),
		),
	)
	mcpServer.AddTool(execTool, g.loggedToolHandler("execute_in_session", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError("session_id parameter is required"), nil
		}
		sql, err := req.RequireString("sql")
		if err != nil {
			return mcp.NewToolResultError("sql parameter is required"), nil
		}
		output := g.ExecuteInSession(ctx, SessionExecInput{SessionID: sessionID, SQL: sql, Params: optionalParams(req)})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		return marshalToolResult(output)
	}))

	endTool := mcp.NewTool("end_session",
		mcp.WithDescription("End a pinned session and discard its connection."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The session to end"),
		),
	)
	mcpServer.AddTool(endTool, g.loggedToolHandler("end_session", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError("session_id parameter is required"), nil
		}
		output := g.EndSession(ctx, SessionInput{SessionID: sessionID})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		return marshalToolResult(output)
	}))

	listTool := mcp.NewTool("list_sessions",
		mcp.WithDescription("List all live pinned sessions."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(listTool, g.loggedToolHandler("list_sessions", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return marshalToolResult(g.ListSessions(ctx))
	}))
}

func registerAsyncTools(mcpServer *server.MCPServer, g *Gateway) {
	submitTool := mcp.NewTool("submit_query",
		mcp.WithDescription("Submit a SQL statement for background execution and return immediately with a query ID. Poll with get_session_status; fetch rows with get_session_result."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL statement to execute in the background"),
		),
		mcp.WithArray("params",
			mcp.Description("Positional parameters bound to $1, $2, ... placeholders"),
		),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("Execution timeout in seconds; defaults to the configured query timeout, capped at the maximum"),
		),
	)
	mcpServer.AddTool(submitTool, g.loggedToolHandler("submit_query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, err := req.RequireString("sql")
		if err != nil {
			return mcp.NewToolResultError("sql parameter is required"), nil
		}
		output := g.SubmitQuery(ctx, SubmitInput{
			SQL:            sql,
			Params:         optionalParams(req),
			TimeoutSeconds: req.GetInt("timeout_seconds", 0),
		})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		return marshalToolResult(output)
	}))

	statusTool := mcp.NewTool("get_session_status",
		mcp.WithDescription("Get the lifecycle status of a background query: queued, running, completed, failed, or cancelled."),
		mcp.WithString("query_id",
			mcp.Required(),
			mcp.Description("The query ID returned by submit_query"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(statusTool, g.loggedToolHandler("get_session_status", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		queryID, err := req.RequireString("query_id")
		if err != nil {
			return mcp.NewToolResultError("query_id parameter is required"), nil
		}
		output := g.GetSessionStatus(ctx, AsyncInput{QueryID: queryID})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		return marshalToolResult(output)
	}))

	resultTool := mcp.NewTool("get_session_result",
		mcp.WithDescription("Fetch the rows of a completed background query. Fails for queries in any other state."),
		mcp.WithString("query_id",
			mcp.Required(),
			mcp.Description("The query ID returned by submit_query"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(resultTool, g.loggedToolHandler("get_session_result", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		queryID, err := req.RequireString("query_id")
		if err != nil {
			return mcp.NewToolResultError("query_id parameter is required"), nil
		}
		output := g.GetSessionResult(ctx, AsyncInput{QueryID: queryID})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		return marshalToolResult(output)
	}))

	cancelTool := mcp.NewTool("cancel_session",
		mcp.WithDescription("Cancel a background query. Queued queries never execute; running queries are interrupted."),
		mcp.WithString("query_id",
			mcp.Required(),
			mcp.Description("The query ID returned by submit_query"),
		),
	)
	mcpServer.AddTool(cancelTool, g.loggedToolHandler("cancel_session", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		queryID, err := req.RequireString("query_id")
		if err != nil {
			return mcp.NewToolResultError("query_id parameter is required"), nil
		}
		output := g.CancelSession(ctx, AsyncInput{QueryID: queryID})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		return marshalToolResult(output)
	}))

	listTool := mcp.NewTool("list_async_queries",
		mcp.WithDescription("List tracked background queries in submission order, optionally filtered by status."),
		mcp.WithString("status",
			mcp.Description("Filter: queued, running, completed, failed, or cancelled"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(listTool, g.loggedToolHandler("list_async_queries", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output := g.ListAsyncQueries(ctx, ListAsyncInput{Status: req.GetString("status", "")})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		return marshalToolResult(output)
	}))
}

func registerTransactionTools(mcpServer *server.MCPServer, g *Gateway) {
	beginTool := mcp.NewTool("begin_transaction",
		mcp.WithDescription("Open an explicit transaction on a dedicated connection and return its ID. The connection is held until commit_transaction or rollback_transaction."),
		mcp.WithString("isolation",
			mcp.Description("Isolation level: read_committed (default), repeatable_read, serializable, or read_uncommitted"),
		),
	)
	mcpServer.AddTool(beginTool, g.loggedToolHandler("begin_transaction", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output := g.BeginTransaction(ctx, BeginTransactionInput{Isolation: req.GetString("isolation", "")})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		return marshalToolResult(output)
	}))

	execTool := mcp.NewTool("execute_in_transaction",
		mcp.WithDescription("Execute a SQL statement inside an open transaction. A failed statement marks the transaction aborted until rolled back."),
		mcp.WithString("transaction_id",
			mcp.Required(),
			mcp.Description("The transaction to execute in"),
		),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL statement to execute"),
		),
		mcp.WithArray("params",
			mcp.Description("Positional parameters bound to $1, $2, ... placeholders"),
		),
	)
	mcpServer.AddTool(execTool, g.loggedToolHandler("execute_in_transaction", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		txID, err := req.RequireString("transaction_id")
		if err != nil {
			return mcp.NewToolResultError("transaction_id parameter is required"), nil
		}
		sql, err := req.RequireString("sql")
		if err != nil {
			return mcp.NewToolResultError("sql parameter is required"), nil
		}
		output := g.ExecuteInTransaction(ctx, TransactionExecInput{TransactionID: txID, SQL: sql, Params: optionalParams(req)})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		return marshalToolResult(output)
	}))

	savepointTool := mcp.NewTool("create_savepoint",
		mcp.WithDescription("Create a named savepoint in an open transaction. rollback_transaction with the savepoint name rewinds to it without ending the transaction."),
		mcp.WithString("transaction_id",
			mcp.Required(),
			mcp.Description("The transaction to create the savepoint in"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("The savepoint name"),
		),
	)
	mcpServer.AddTool(savepointTool, g.loggedToolHandler("create_savepoint", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		txID, err := req.RequireString("transaction_id")
		if err != nil {
			return mcp.NewToolResultError("transaction_id parameter is required"), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError("name parameter is required"), nil
		}
		output := g.CreateSavepoint(ctx, SavepointInput{TransactionID: txID, Name: name})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		return marshalToolResult(output)
	}))

	commitTool := mcp.NewTool("commit_transaction",
		mcp.WithDescription("Commit an open transaction and release its connection. Aborted transactions cannot commit."),
		mcp.WithString("transaction_id",
			mcp.Required(),
			mcp.Description("The transaction to commit"),
		),
	)
	mcpServer.AddTool(commitTool, g.loggedToolHandler("commit_transaction", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		txID, err := req.RequireString("transaction_id")
		if err != nil {
			return mcp.NewToolResultError("transaction_id parameter is required"), nil
		}
		output := g.CommitTransaction(ctx, TransactionInput{TransactionID: txID})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		return marshalToolResult(output)
	}))

	rollbackTool := mcp.NewTool("rollback_transaction",
		mcp.WithDescription("Roll back a transaction. With a savepoint name, rewinds to that savepoint and keeps the transaction open; without one, ends the transaction."),
		mcp.WithString("transaction_id",
			mcp.Required(),
			mcp.Description("The transaction to roll back"),
		),
		mcp.WithString("savepoint",
			mcp.Description("Savepoint to rewind to instead of ending the transaction"),
		),
	)
	mcpServer.AddTool(rollbackTool, g.loggedToolHandler("rollback_transaction", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		txID, err := req.RequireString("transaction_id")
		if err != nil {
			return mcp.NewToolResultError("transaction_id parameter is required"), nil
		}
		output := g.RollbackTransaction(ctx, RollbackInput{TransactionID: txID, Savepoint: req.GetString("savepoint", "")})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		return marshalToolResult(output)
	}))

	listTool := mcp.NewTool("list_transactions",
		mcp.WithDescription("List all open explicit transactions."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(listTool, g.loggedToolHandler("list_transactions", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return marshalToolResult(g.ListTransactions(ctx))
	}))
}

func registerObservabilityTools(mcpServer *server.MCPServer, g *Gateway) {
	metricsTool := mcp.NewTool("get_metrics",
		mcp.WithDescription("Get a snapshot of pool, circuit breaker, cache, session, and transaction counters."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(metricsTool, g.loggedToolHandler("get_metrics", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return marshalToolResult(g.Metrics(ctx))
	}))

	healthTool := mcp.NewTool("health_check",
		mcp.WithDescription("Ping the database and report gateway health and circuit breaker state."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(healthTool, g.loggedToolHandler("health_check", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output := g.HealthCheck(ctx)
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		return marshalToolResult(output)
	}))
}

// optionalParams extracts the optional positional parameter array.
func optionalParams(req mcp.CallToolRequest) []any {
	args := req.GetArguments()
	if raw, ok := args["params"].([]any); ok {
		return raw
	}
	return nil
}

// marshalToolResult marshals a tool output struct as the text content of a
// successful call.
func marshalToolResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("failed to marshal tool result"), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// loggedToolHandler wraps a tool handler to log request and response lengths.
func (g *Gateway) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		g.logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
