// Package dbmock provides a scripted pool.Source for tests that need to
// exercise lease, session, transaction, and resilience behavior without a
// running database. A Source hands out fake connections whose responses come
// from a programmable handler, and records every statement and lifecycle
// event for assertions.
package dbmock

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ewancroft/pggate/internal/pool"
)

// Response is what a fake connection returns for one statement.
type Response struct {
	Columns []string
	Rows    [][]any
	// Tag is the command tag text (e.g. "INSERT 0 1"). Empty derives a
	// SELECT tag from the row count.
	Tag string
	Err error
	// Delay simulates server-side latency; the wait respects ctx so
	// cancellation tests behave like a real interrupted query.
	Delay time.Duration
}

// Handler produces the Response for a statement.
type Handler func(sql string, args []any) Response

// Source is a fake pool.Source.
type Source struct {
	mu         sync.Mutex
	handler    Handler
	acquireErr error
	pingErr    error
	conns      []*Conn
	closed     bool
}

// NewSource creates a Source whose connections succeed with empty results
// until a handler or failure is installed.
func NewSource() *Source {
	return &Source{}
}

// Respond installs the statement handler.
func (s *Source) Respond(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// FailAcquire makes subsequent Acquire calls return err (nil restores
// success).
func (s *Source) FailAcquire(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquireErr = err
}

// FailPing makes Ping return err.
func (s *Source) FailPing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

func (s *Source) Acquire(ctx context.Context) (pool.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	c := &Conn{src: s}
	s.conns = append(s.conns, c)
	return c, nil
}

func (s *Source) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

// Stat counts connections the way a driver pool would: retired connections
// are gone, released ones sit idle awaiting reuse.
func (s *Source) Stat() pool.SourceStat {
	s.mu.Lock()
	conns := make([]*Conn, len(s.conns))
	copy(conns, s.conns)
	s.mu.Unlock()

	var stat pool.SourceStat
	for _, c := range conns {
		if c.Retired() {
			continue
		}
		stat.Total++
		if c.Released() {
			stat.Idle++
		}
	}
	return stat
}

func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Conns returns every connection ever acquired, in order.
func (s *Source) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, len(s.conns))
	copy(out, s.conns)
	return out
}

func (s *Source) respond(sql string, args []any) Response {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return Response{}
	}
	return h(sql, args)
}

// Conn is a fake pool.Conn.
type Conn struct {
	src *Source

	mu       sync.Mutex
	executed []string
	released bool
	retired  bool
}

func (c *Conn) run(ctx context.Context, sql string, args []any) (Response, error) {
	c.mu.Lock()
	c.executed = append(c.executed, sql)
	c.mu.Unlock()

	r := c.src.respond(sql, args)
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	return r, r.Err
}

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r, err := c.run(ctx, sql, args)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	tag := r.Tag
	if tag == "" {
		tag = "SELECT " + strconv.Itoa(len(r.Rows))
	}
	return pgconn.NewCommandTag(tag), nil
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	r, err := c.run(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	return NewRows(r.Columns, r.Rows), nil
}

func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.run(ctx, ";", nil)
	return err
}

func (c *Conn) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
}

func (c *Conn) Retire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retired = true
}

// Statements returns every statement executed on this connection, in order.
func (c *Conn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.executed))
	copy(out, c.executed)
	return out
}

// Released reports whether the connection was returned for reuse.
func (c *Conn) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Retired reports whether the connection was destroyed.
func (c *Conn) Retired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retired
}

// Done reports whether the connection reached either terminal state.
func (c *Conn) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released || c.retired
}

// Rows is a fake pgx.Rows over in-memory values.
type Rows struct {
	fields []pgconn.FieldDescription
	data   [][]any
	idx    int
	closed bool
	err    error
}

// NewRows builds a Rows with the given column names and row values.
func NewRows(columns []string, data [][]any) *Rows {
	fields := make([]pgconn.FieldDescription, len(columns))
	for i, name := range columns {
		fields[i] = pgconn.FieldDescription{Name: name}
	}
	return &Rows{fields: fields, data: data, idx: -1}
}

func (r *Rows) Close()                                       { r.closed = true }
func (r *Rows) Err() error                                   { return r.err }
func (r *Rows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT " + strconv.Itoa(len(r.data))) }
func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *Rows) Conn() *pgx.Conn                              { return nil }
func (r *Rows) RawValues() [][]byte                          { return nil }

func (r *Rows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *Rows) Values() ([]any, error) {
	if r.idx < 0 || r.idx >= len(r.data) {
		return nil, fmt.Errorf("dbmock: Values called outside row")
	}
	return r.data[r.idx], nil
}

func (r *Rows) Scan(dest ...any) error {
	return fmt.Errorf("dbmock: Scan is not supported, use Values")
}
