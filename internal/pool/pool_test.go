package pool_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ewancroft/pggate/internal/dbmock"
	"github.com/ewancroft/pggate/internal/pool"
)

func newPool(t *testing.T, src pool.Source, cfg pool.Config) *pool.Pool {
	t.Helper()
	return pool.New(src, cfg, zerolog.Nop())
}

func TestLeaseBoundNeverExceeded(t *testing.T) {
	t.Parallel()
	src := dbmock.NewSource()
	p := newPool(t, src, pool.Config{MaxLeases: 4, AcquireTimeout: 5 * time.Second})

	var inFlight, maxSeen atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				lease, err := p.Acquire(context.Background())
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				cur := inFlight.Add(1)
				for {
					prev := maxSeen.Load()
					if cur <= prev || maxSeen.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(time.Duration(rand.Intn(200)) * time.Microsecond)
				inFlight.Add(-1)
				if j%5 == 0 {
					lease.Retire()
				} else {
					lease.Release()
				}
			}
		}()
	}
	wg.Wait()

	if got := maxSeen.Load(); got > 4 {
		t.Fatalf("observed %d concurrent leases, capacity is 4", got)
	}
	stats := p.Stats()
	if stats.Leased != 0 {
		t.Fatalf("expected 0 leased after drain, got %d", stats.Leased)
	}
	if stats.TotalAcquires != 32*25 {
		t.Fatalf("expected %d acquires, got %d", 32*25, stats.TotalAcquires)
	}
}

func TestAcquireTimeoutWhenExhausted(t *testing.T) {
	t.Parallel()
	src := dbmock.NewSource()
	p := newPool(t, src, pool.Config{MaxLeases: 1, AcquireTimeout: 30 * time.Millisecond})

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer lease.Release()

	start := time.Now()
	_, err = p.Acquire(context.Background())
	if !errors.Is(err, pool.ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("timed out too early: %v", elapsed)
	}
	if got := p.Stats().AcquireTimeouts; got != 1 {
		t.Fatalf("expected 1 recorded timeout, got %d", got)
	}
}

func TestAcquireHonorsCallerContext(t *testing.T) {
	t.Parallel()
	src := dbmock.NewSource()
	p := newPool(t, src, pool.Config{MaxLeases: 1, AcquireTimeout: time.Minute})

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
	if got := p.Stats().AcquireTimeouts; got != 0 {
		t.Fatalf("caller cancellation must not count as pool timeout, got %d", got)
	}
}

func TestStatsReportSourceConnections(t *testing.T) {
	t.Parallel()
	src := dbmock.NewSource()
	p := newPool(t, src, pool.Config{MaxLeases: 2})

	a, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	b, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	a.Release()

	stats := p.Stats()
	if stats.TotalConns != 2 || stats.Idle != 1 {
		t.Fatalf("expected 2 source conns with 1 idle, got idle=%d total=%d", stats.Idle, stats.TotalConns)
	}

	// A retired connection leaves the source entirely.
	b.Retire()
	stats = p.Stats()
	if stats.TotalConns != 1 || stats.Idle != 1 {
		t.Fatalf("expected retired conn gone from source, got idle=%d total=%d", stats.Idle, stats.TotalConns)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	t.Parallel()
	src := dbmock.NewSource()
	p := newPool(t, src, pool.Config{MaxLeases: 2})

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lease.Release()
	lease.Release()
	lease.Retire()

	stats := p.Stats()
	if stats.Leased != 0 {
		t.Fatalf("expected 0 leased, got %d", stats.Leased)
	}
	if stats.Retired != 0 {
		t.Fatalf("retire after release must be a no-op, got %d retired", stats.Retired)
	}
}

func TestRetireDestroysConnection(t *testing.T) {
	t.Parallel()
	src := dbmock.NewSource()
	p := newPool(t, src, pool.Config{MaxLeases: 2})

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lease.Retire()

	conns := src.Conns()
	if len(conns) != 1 || !conns[0].Retired() || conns[0].Released() {
		t.Fatalf("expected the connection to be retired, not released")
	}
	if got := p.Stats().Retired; got != 1 {
		t.Fatalf("expected 1 retired, got %d", got)
	}
}

func TestAcquireFailureFreesSlot(t *testing.T) {
	t.Parallel()
	src := dbmock.NewSource()
	src.FailAcquire(errors.New("connection refused"))
	p := newPool(t, src, pool.Config{MaxLeases: 1, AcquireTimeout: time.Second})

	if _, err := p.Acquire(context.Background()); err == nil {
		t.Fatal("expected acquire failure")
	}

	// The slot must have been returned; a healthy source can acquire again.
	src.FailAcquire(nil)
	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after recovery: %v", err)
	}
	lease.Release()
}

func TestCloseDrainsOutstandingLeases(t *testing.T) {
	t.Parallel()
	src := dbmock.NewSource()
	p := newPool(t, src, pool.Config{MaxLeases: 2})

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	released := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		lease.Release()
		close(released)
	}()

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	<-released
	if !src.Closed() {
		t.Fatal("expected source to be closed after drain")
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, pool.ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestCloseGivesUpAtDeadline(t *testing.T) {
	t.Parallel()
	src := dbmock.NewSource()
	p := newPool(t, src, pool.Config{MaxLeases: 1})

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Close(ctx); err == nil {
		t.Fatal("expected close to report the stuck lease")
	}
	if !src.Closed() {
		t.Fatal("source must still be closed after drain deadline")
	}
}

func TestNewPanicsOnInvalidConfig(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for MaxLeases 0")
		}
	}()
	pool.New(dbmock.NewSource(), pool.Config{MaxLeases: 0}, zerolog.Nop())
}
