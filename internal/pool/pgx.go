package pool

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPgxSource adapts a *pgxpool.Pool to the Source interface.
func NewPgxSource(p *pgxpool.Pool) Source {
	return &pgxSource{pool: p}
}

type pgxSource struct {
	pool *pgxpool.Pool
}

func (s *pgxSource) Acquire(ctx context.Context) (Conn, error) {
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxConn{conn: c}, nil
}

func (s *pgxSource) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *pgxSource) Stat() SourceStat {
	stat := s.pool.Stat()
	return SourceStat{
		Idle:  int(stat.IdleConns()),
		Total: int(stat.TotalConns()),
	}
}

func (s *pgxSource) Close() {
	s.pool.Close()
}

type pgxConn struct {
	conn *pgxpool.Conn
}

func (c *pgxConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.conn.Exec(ctx, sql, args...)
}

func (c *pgxConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.conn.Query(ctx, sql, args...)
}

func (c *pgxConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *pgxConn) Release() {
	c.conn.Release()
}

func (c *pgxConn) Retire() {
	// Closing the underlying *pgx.Conn marks it unusable; pgxpool destroys
	// it on release instead of returning it to the idle set.
	_ = c.conn.Conn().Close(context.Background())
	c.conn.Release()
}
