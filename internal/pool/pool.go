// Package pool bounds and accounts for database connection leases.
//
// The physical pooling (dialing, idle retirement, health checks) belongs to
// pgxpool; this package adds the gateway's own guarantees on top: a hard cap
// on concurrently leased connections, classification of acquire timeouts as
// capacity exhaustion, idempotent release/retire, and a draining shutdown.
// The Source interface keeps the driver swappable so tests can run against a
// scripted fake.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// ErrAcquireTimeout is returned when no lease slot or connection became
// available within the acquire timeout. Callers map it to capacity-exhaustion
// handling, never to a transient driver failure.
var ErrAcquireTimeout = errors.New("pool: acquire timed out, all connections leased")

// ErrClosed is returned by Acquire after Close has begun.
var ErrClosed = errors.New("pool: closed")

// Conn is the slice of driver surface the gateway uses. *pgxpool.Conn
// satisfies it through the pgxSource adapter; dbmock fakes satisfy it in
// tests.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	// Release returns the connection to its source for reuse.
	Release()
	// Retire destroys the underlying connection instead of reusing it.
	// Used after failures that may have left session state or the wire
	// protocol in an unknown condition.
	Retire()
}

// Source produces connections. The production implementation wraps
// *pgxpool.Pool.
type Source interface {
	Acquire(ctx context.Context) (Conn, error)
	Ping(ctx context.Context) error
	// Stat reports the source's physical connection counts.
	Stat() SourceStat
	Close()
}

// SourceStat is the physical connection accounting of a Source. Leases track
// what the gateway handed out; these count what the driver actually holds.
type SourceStat struct {
	Idle  int
	Total int
}

// Config configures a Pool.
type Config struct {
	// MaxLeases caps concurrently leased connections. Must be >= 1.
	MaxLeases int
	// AcquireTimeout bounds how long Acquire waits for a slot and a
	// connection. Zero means wait only as long as ctx allows.
	AcquireTimeout time.Duration
}

// Stats is a point-in-time snapshot of pool accounting. Leased counts what
// the gateway handed out; Idle and TotalConns come from the source and count
// the physical connections behind the leases.
type Stats struct {
	Leased          int64
	Capacity        int
	Idle            int
	TotalConns      int
	TotalAcquires   int64
	AcquireTimeouts int64
	Retired         int64
}

// Pool is the bounded lease layer. Safe for concurrent use.
type Pool struct {
	src       Source
	slots     chan struct{}
	capacity  int
	acqTO     time.Duration
	logger    zerolog.Logger

	leased   atomic.Int64
	acquires atomic.Int64
	timeouts atomic.Int64
	retired  atomic.Int64

	mu     sync.Mutex
	closed bool
	active sync.WaitGroup
}

// New creates a Pool over src. Panics if cfg is invalid: a mis-sized pool is
// a programming error, not a runtime condition.
func New(src Source, cfg Config, logger zerolog.Logger) *Pool {
	if src == nil {
		panic("pool: nil source")
	}
	if cfg.MaxLeases < 1 {
		panic(fmt.Sprintf("pool: MaxLeases must be >= 1, got %d", cfg.MaxLeases))
	}
	return &Pool{
		src:      src,
		slots:    make(chan struct{}, cfg.MaxLeases),
		capacity: cfg.MaxLeases,
		acqTO:    cfg.AcquireTimeout,
		logger:   logger,
	}
}

// Acquire leases a connection. It blocks until a slot and a connection are
// available, the acquire timeout fires (ErrAcquireTimeout), or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	// Registered while the pool lock is held so Close cannot start waiting
	// between the closed check and the Add.
	p.active.Add(1)
	p.mu.Unlock()

	if p.acqTO > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, p.acqTO, ErrAcquireTimeout)
		defer cancel()
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		p.active.Done()
		return nil, p.acquireErr(ctx)
	}

	conn, err := p.src.Acquire(ctx)
	if err != nil {
		<-p.slots
		p.active.Done()
		if ctx.Err() != nil {
			return nil, p.acquireErr(ctx)
		}
		return nil, fmt.Errorf("pool: acquire: %w", err)
	}

	p.acquires.Add(1)
	p.leased.Add(1)
	return &Lease{Conn: conn, pool: p}, nil
}

func (p *Pool) acquireErr(ctx context.Context) error {
	if errors.Is(context.Cause(ctx), ErrAcquireTimeout) {
		p.timeouts.Add(1)
		p.logger.Warn().
			Int("capacity", p.capacity).
			Int64("leased", p.leased.Load()).
			Msg("connection acquire timed out")
		return ErrAcquireTimeout
	}
	return ctx.Err()
}

// Ping checks liveness of the underlying source.
func (p *Pool) Ping(ctx context.Context) error {
	return p.src.Ping(ctx)
}

// Stats returns a snapshot of the accounting counters.
func (p *Pool) Stats() Stats {
	srcStat := p.src.Stat()
	return Stats{
		Leased:          p.leased.Load(),
		Capacity:        p.capacity,
		Idle:            srcStat.Idle,
		TotalConns:      srcStat.Total,
		TotalAcquires:   p.acquires.Load(),
		AcquireTimeouts: p.timeouts.Load(),
		Retired:         p.retired.Load(),
	}
}

// Close drains the pool: new Acquires fail immediately, outstanding leases
// are waited for until ctx is done, then the source is closed. Connections
// still leased past the deadline are abandoned to the source's own shutdown.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.active.Wait()
		close(done)
	}()

	var drainErr error
	select {
	case <-done:
	case <-ctx.Done():
		drainErr = fmt.Errorf("pool: close: %d leases still outstanding: %w", p.leased.Load(), ctx.Err())
		p.logger.Warn().Int64("leased", p.leased.Load()).Msg("closing pool with outstanding leases")
	}
	p.src.Close()
	return drainErr
}

// Lease is one leased connection. Exactly one of Release or Retire must be
// called; both are safe to call more than once and only the first takes
// effect.
type Lease struct {
	Conn Conn
	pool *Pool
	once sync.Once
}

// Release returns the connection for reuse.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.Conn.Release()
		l.pool.leased.Add(-1)
		<-l.pool.slots
		l.pool.active.Done()
	})
}

// Retire destroys the connection instead of returning it.
func (l *Lease) Retire() {
	l.once.Do(func() {
		l.Conn.Retire()
		l.pool.retired.Add(1)
		l.pool.leased.Add(-1)
		<-l.pool.slots
		l.pool.active.Done()
	})
}
