// Package txn manages explicit multi-statement transactions.
//
// Each transaction holds one dedicated connection lease from begin to end.
// Statement failure marks the transaction aborted: further statements and
// commit are refused, only rollback (full or to a savepoint) is valid, which
// mirrors how the server itself treats a failed transaction. Whatever happens
// to the COMMIT or ROLLBACK statement, ending a transaction always gives the
// lease back.
package txn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ewancroft/pggate/internal/pool"
	"github.com/ewancroft/pggate/internal/rowset"
	"github.com/ewancroft/pggate/internal/validate"
)

var (
	// ErrNotFound is returned for an unknown or already-ended transaction id.
	ErrNotFound = errors.New("txn: transaction not found")
	// ErrAborted is returned when a statement or commit is attempted on an
	// aborted transaction.
	ErrAborted = errors.New("txn: transaction is aborted, only rollback is valid")
	// ErrTooMany is returned when MaxOpen transactions are already open.
	ErrTooMany = errors.New("txn: too many open transactions")
	// ErrSavepointExists is returned when a savepoint name is already on the
	// transaction's stack.
	ErrSavepointExists = errors.New("txn: savepoint name already exists")
	// ErrUnknownSavepoint is returned when rolling back to a name that is
	// not on the stack (never created, or discarded by an earlier rollback).
	ErrUnknownSavepoint = errors.New("txn: unknown savepoint")
)

// Isolation is the transaction isolation level.
type Isolation int

const (
	ReadCommitted Isolation = iota
	RepeatableRead
	Serializable
	ReadUncommitted
)

// ParseIsolation parses a request string. Empty selects ReadCommitted.
func ParseIsolation(s string) (Isolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "read_committed", "read committed":
		return ReadCommitted, nil
	case "repeatable_read", "repeatable read":
		return RepeatableRead, nil
	case "serializable":
		return Serializable, nil
	case "read_uncommitted", "read uncommitted":
		return ReadUncommitted, nil
	}
	return ReadCommitted, fmt.Errorf("txn: unknown isolation level %q", s)
}

func (i Isolation) String() string {
	switch i {
	case ReadCommitted:
		return "read_committed"
	case RepeatableRead:
		return "repeatable_read"
	case Serializable:
		return "serializable"
	case ReadUncommitted:
		return "read_uncommitted"
	}
	return "unknown"
}

func (i Isolation) beginSQL() string {
	switch i {
	case RepeatableRead:
		return "BEGIN ISOLATION LEVEL REPEATABLE READ"
	case Serializable:
		return "BEGIN ISOLATION LEVEL SERIALIZABLE"
	case ReadUncommitted:
		return "BEGIN ISOLATION LEVEL READ UNCOMMITTED"
	default:
		return "BEGIN ISOLATION LEVEL READ COMMITTED"
	}
}

// Config configures a Manager.
type Config struct {
	// MaxOpen caps concurrently open transactions. Must be >= 1.
	MaxOpen int
}

// Summary is a read-only snapshot of one open transaction.
type Summary struct {
	ID           string    `json:"transaction_id"`
	Isolation    string    `json:"isolation"`
	Started      time.Time `json:"started"`
	LastActivity time.Time `json:"last_activity"`
	Statements   int       `json:"statements"`
	Aborted      bool      `json:"aborted"`
	Savepoints   []string  `json:"savepoints,omitempty"`
}

type tx struct {
	mu           sync.Mutex // serializes use of the dedicated connection
	id           string
	lease        *pool.Lease
	isolation    Isolation
	savepoints   []string
	aborted      bool
	done         bool
	started      time.Time
	lastActivity time.Time
	statements   int
}

// Manager owns all open transactions. Safe for concurrent use.
type Manager struct {
	pool   *pool.Pool
	cfg    Config
	logger zerolog.Logger

	mu   sync.Mutex
	txns map[string]*tx
}

// NewManager creates a Manager. Panics on invalid config.
func NewManager(p *pool.Pool, cfg Config, logger zerolog.Logger) *Manager {
	if p == nil {
		panic("txn: nil pool")
	}
	if cfg.MaxOpen < 1 {
		panic(fmt.Sprintf("txn: MaxOpen must be >= 1, got %d", cfg.MaxOpen))
	}
	return &Manager{pool: p, cfg: cfg, logger: logger, txns: make(map[string]*tx)}
}

// Begin opens a transaction at the given isolation level on a dedicated
// lease and returns its id.
func (m *Manager) Begin(ctx context.Context, isolation Isolation) (string, error) {
	m.mu.Lock()
	if len(m.txns) >= m.cfg.MaxOpen {
		m.mu.Unlock()
		return "", ErrTooMany
	}
	m.mu.Unlock()

	lease, err := m.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	if _, err := lease.Conn.Exec(ctx, isolation.beginSQL()); err != nil {
		lease.Retire()
		return "", fmt.Errorf("txn: begin: %w", err)
	}

	now := time.Now()
	t := &tx{
		id:           uuid.NewString(),
		lease:        lease,
		isolation:    isolation,
		started:      now,
		lastActivity: now,
	}

	m.mu.Lock()
	// Recheck under lock: Begin calls may have raced past the cap check.
	if len(m.txns) >= m.cfg.MaxOpen {
		m.mu.Unlock()
		_, _ = lease.Conn.Exec(ctx, "ROLLBACK")
		lease.Release()
		return "", ErrTooMany
	}
	m.txns[t.id] = t
	m.mu.Unlock()

	m.logger.Info().Str("transaction_id", t.id).Str("isolation", isolation.String()).Msg("transaction started")
	return t.id, nil
}

func (m *Manager) get(id string) (*tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// Execute runs one statement inside the transaction. A statement failure
// marks the transaction aborted.
func (m *Manager) Execute(ctx context.Context, id, sql string, args ...any) (*rowset.Result, error) {
	t, err := m.get(id)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, ErrNotFound
	}
	if t.aborted {
		return nil, ErrAborted
	}

	t.statements++
	t.lastActivity = time.Now()

	rows, err := t.lease.Conn.Query(ctx, sql, args...)
	if err != nil {
		t.aborted = true
		return nil, err
	}
	result, err := rowset.Collect(rows)
	if err != nil {
		t.aborted = true
		return nil, err
	}
	return result, nil
}

// Savepoint creates a named savepoint. Names are unique within a
// transaction.
func (m *Manager) Savepoint(ctx context.Context, id, name string) error {
	quoted, err := validate.QuoteIdentifier(name)
	if err != nil {
		return err
	}
	t, err := m.get(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrNotFound
	}
	if t.aborted {
		return ErrAborted
	}
	for _, existing := range t.savepoints {
		if existing == name {
			return fmt.Errorf("%w: %q", ErrSavepointExists, name)
		}
	}

	if _, err := t.lease.Conn.Exec(ctx, "SAVEPOINT "+quoted); err != nil {
		t.aborted = true
		return err
	}
	t.savepoints = append(t.savepoints, name)
	t.lastActivity = time.Now()
	return nil
}

// Rollback rolls the transaction back. With an empty savepoint the whole
// transaction ends and the lease is released whatever the ROLLBACK statement
// returned. With a savepoint, state rewinds to it: the savepoint stays on the
// stack, everything created after it is discarded, and an aborted transaction
// becomes usable again (server savepoint semantics).
func (m *Manager) Rollback(ctx context.Context, id, savepoint string) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrNotFound
	}

	if savepoint == "" {
		return m.finish(ctx, t, "ROLLBACK")
	}

	idx := -1
	for i, existing := range t.savepoints {
		if existing == savepoint {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownSavepoint, savepoint)
	}
	quoted, err := validate.QuoteIdentifier(savepoint)
	if err != nil {
		return err
	}
	if _, err := t.lease.Conn.Exec(ctx, "ROLLBACK TO SAVEPOINT "+quoted); err != nil {
		t.aborted = true
		return err
	}
	t.savepoints = t.savepoints[:idx+1]
	t.aborted = false
	t.lastActivity = time.Now()
	m.logger.Debug().Str("transaction_id", t.id).Str("savepoint", savepoint).Msg("rolled back to savepoint")
	return nil
}

// Commit commits the transaction. Refused while aborted. The lease is
// released whatever the COMMIT statement returned; a failed commit retires
// the connection because its state is unknown.
func (m *Manager) Commit(ctx context.Context, id string) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrNotFound
	}
	if t.aborted {
		return ErrAborted
	}
	return m.finish(ctx, t, "COMMIT")
}

// finish ends the transaction with the given statement. Caller holds t.mu.
// The registry entry and the lease are always released.
func (m *Manager) finish(ctx context.Context, t *tx, stmt string) error {
	t.done = true
	m.mu.Lock()
	delete(m.txns, t.id)
	m.mu.Unlock()

	_, err := t.lease.Conn.Exec(ctx, stmt)
	if err != nil {
		// The server-side state is unknown; do not reuse the connection.
		t.lease.Retire()
		m.logger.Warn().Str("transaction_id", t.id).Str("stmt", stmt).Err(err).Msg("transaction end statement failed, connection retired")
		return err
	}
	t.lease.Release()
	m.logger.Info().Str("transaction_id", t.id).Str("stmt", stmt).Int("statements", t.statements).Msg("transaction ended")
	return nil
}

// List returns summaries of all open transactions.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	txns := make([]*tx, 0, len(m.txns))
	for _, t := range m.txns {
		txns = append(txns, t)
	}
	m.mu.Unlock()

	out := make([]Summary, 0, len(txns))
	for _, t := range txns {
		t.mu.Lock()
		out = append(out, Summary{
			ID:           t.id,
			Isolation:    t.isolation.String(),
			Started:      t.started,
			LastActivity: t.lastActivity,
			Statements:   t.statements,
			Aborted:      t.aborted,
			Savepoints:   append([]string(nil), t.savepoints...),
		})
		t.mu.Unlock()
	}
	return out
}

// Count returns the number of open transactions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txns)
}

// Close rolls back every open transaction. Used at shutdown.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	txns := make([]*tx, 0, len(m.txns))
	for _, t := range m.txns {
		txns = append(txns, t)
	}
	m.mu.Unlock()

	for _, t := range txns {
		t.mu.Lock()
		if !t.done {
			_ = m.finish(ctx, t, "ROLLBACK")
		}
		t.mu.Unlock()
	}
}
