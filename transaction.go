package pggate

import (
	"context"
	"time"

	"github.com/ewancroft/pggate/internal/txn"
)

// BeginTransaction opens an explicit transaction on a dedicated connection at
// the requested isolation level and returns its ID. The connection is held
// until commit or rollback.
func (g *Gateway) BeginTransaction(ctx context.Context, input BeginTransactionInput) (out *BeginTransactionOutput) {
	start := time.Now()
	defer func() { g.ops.observe("begin_transaction", start, out.Error != "") }()

	isolation, err := txn.ParseIsolation(input.Isolation)
	if err != nil {
		msg, kind := g.describeError(err)
		return &BeginTransactionOutput{Error: msg, ErrorKind: kind}
	}
	id, err := g.txns.Begin(ctx, isolation)
	if err != nil {
		msg, kind := g.describeError(err)
		return &BeginTransactionOutput{Error: msg, ErrorKind: kind}
	}
	g.logger.Info().
		Str("transaction_id", id).
		Str("isolation", isolation.String()).
		Msg("transaction started")
	return &BeginTransactionOutput{TransactionID: id}
}

// ExecuteInTransaction runs one validated statement inside an open
// transaction. A failed statement marks the transaction aborted; further
// statements are refused until a rollback (full or to a savepoint).
func (g *Gateway) ExecuteInTransaction(ctx context.Context, input TransactionExecInput) (out *QueryOutput) {
	start := time.Now()
	defer func() { g.ops.observe("execute_in_transaction", start, out.Error != "") }()

	return g.executeHeld(ctx, input.SQL, func(execCtx context.Context) (*QueryOutput, error) {
		result, err := g.txns.Execute(execCtx, input.TransactionID, input.SQL, input.Params...)
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

// CreateSavepoint establishes a named savepoint in an open transaction.
func (g *Gateway) CreateSavepoint(ctx context.Context, input SavepointInput) (out *StatusOutput) {
	start := time.Now()
	defer func() { g.ops.observe("create_savepoint", start, out.Error != "") }()

	if err := g.txns.Savepoint(ctx, input.TransactionID, input.Name); err != nil {
		msg, kind := g.describeError(err)
		return &StatusOutput{Error: msg, ErrorKind: kind}
	}
	g.logger.Info().
		Str("transaction_id", input.TransactionID).
		Str("savepoint", input.Name).
		Msg("savepoint created")
	return &StatusOutput{OK: true}
}

// CommitTransaction commits an open transaction and releases its connection.
// Aborted transactions cannot commit; they must be rolled back.
func (g *Gateway) CommitTransaction(ctx context.Context, input TransactionInput) (out *StatusOutput) {
	start := time.Now()
	defer func() { g.ops.observe("commit_transaction", start, out.Error != "") }()

	if err := g.txns.Commit(ctx, input.TransactionID); err != nil {
		msg, kind := g.describeError(err)
		return &StatusOutput{Error: msg, ErrorKind: kind}
	}
	g.logger.Info().Str("transaction_id", input.TransactionID).Msg("transaction committed")
	return &StatusOutput{OK: true}
}

// RollbackTransaction rolls back a transaction. With a savepoint name it
// rewinds to that savepoint and clears the aborted flag, keeping the
// transaction open; without one it ends the transaction and releases its
// connection.
func (g *Gateway) RollbackTransaction(ctx context.Context, input RollbackInput) (out *StatusOutput) {
	start := time.Now()
	defer func() { g.ops.observe("rollback_transaction", start, out.Error != "") }()

	if err := g.txns.Rollback(ctx, input.TransactionID, input.Savepoint); err != nil {
		msg, kind := g.describeError(err)
		return &StatusOutput{Error: msg, ErrorKind: kind}
	}
	logEvent := g.logger.Info().Str("transaction_id", input.TransactionID)
	if input.Savepoint != "" {
		logEvent = logEvent.Str("savepoint", input.Savepoint)
	}
	logEvent.Msg("transaction rolled back")
	return &StatusOutput{OK: true}
}

// ListTransactions returns all open transactions.
func (g *Gateway) ListTransactions(ctx context.Context) (out *ListTransactionsOutput) {
	start := time.Now()
	defer func() { g.ops.observe("list_transactions", start, out.Error != "") }()

	return &ListTransactionsOutput{Transactions: g.txns.List()}
}
