package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ewancroft/pggate/internal/rowset"
)

// Status is an async query's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// AsyncConfig configures an AsyncRunner.
type AsyncConfig struct {
	// MaxWorkers bounds queries executing concurrently; queued queries hold
	// no connection. Must be >= 1.
	MaxWorkers int64
	// MaxTracked caps queued + running queries. Must be >= 1.
	MaxTracked int
	// Retention is how long terminal query records stay pollable before the
	// reaper drops them. Must be > 0.
	Retention time.Duration
	// ReapInterval is how often the reaper scans. Defaults to one minute.
	ReapInterval time.Duration
}

// RunFunc executes one statement and returns its collected result. The
// runner calls it only after worker admission, under the query's deadline.
type RunFunc func(ctx context.Context, sql string, args []any) (*rowset.Result, error)

// AsyncInfo is a read-only snapshot of one async query.
type AsyncInfo struct {
	ID        string    `json:"query_id"`
	Status    Status    `json:"status"`
	Submitted time.Time `json:"submitted"`
	Started   time.Time `json:"started,omitzero"`
	Finished  time.Time `json:"finished,omitzero"`
	Error     string    `json:"error,omitempty"`
}

type asyncQuery struct {
	id      string
	sql     string
	args    []any
	timeout time.Duration

	status    Status
	submitted time.Time
	started   time.Time
	finished  time.Time
	err       error
	result    *rowset.Result
	cancel    context.CancelFunc
}

// AsyncRunner executes submitted queries in the background. Safe for
// concurrent use.
type AsyncRunner struct {
	run    RunFunc
	cfg    AsyncConfig
	logger zerolog.Logger
	sem    *semaphore.Weighted

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	queries map[string]*asyncQuery
	closed  bool

	workers  sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
	reaperWG sync.WaitGroup
}

// NewAsync creates an AsyncRunner. Panics on invalid config.
func NewAsync(run RunFunc, cfg AsyncConfig, logger zerolog.Logger) *AsyncRunner {
	if run == nil {
		panic("session: nil run func")
	}
	if cfg.MaxWorkers < 1 {
		panic(fmt.Sprintf("session: MaxWorkers must be >= 1, got %d", cfg.MaxWorkers))
	}
	if cfg.MaxTracked < 1 {
		panic(fmt.Sprintf("session: MaxTracked must be >= 1, got %d", cfg.MaxTracked))
	}
	if cfg.Retention <= 0 {
		panic(fmt.Sprintf("session: Retention must be > 0, got %v", cfg.Retention))
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &AsyncRunner{
		run:        run,
		cfg:        cfg,
		logger:     logger,
		sem:        semaphore.NewWeighted(cfg.MaxWorkers),
		baseCtx:    ctx,
		baseCancel: cancel,
		queries:    make(map[string]*asyncQuery),
		stop:       make(chan struct{}),
	}
	a.reaperWG.Add(1)
	go a.reapLoop()
	return a
}

// Submit registers a query for background execution and returns its id
// immediately. The query holds no connection until a worker slot admits it.
func (a *AsyncRunner) Submit(sql string, args []any, timeout time.Duration) (string, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return "", ErrClosed
	}
	active := 0
	for _, q := range a.queries {
		if !q.status.Terminal() {
			active++
		}
	}
	if active >= a.cfg.MaxTracked {
		a.mu.Unlock()
		return "", ErrTooMany
	}
	q := &asyncQuery{
		id:        uuid.NewString(),
		sql:       sql,
		args:      args,
		timeout:   timeout,
		status:    StatusQueued,
		submitted: time.Now(),
	}
	a.queries[q.id] = q
	a.workers.Add(1)
	a.mu.Unlock()

	go a.work(q)
	a.logger.Info().Str("query_id", q.id).Dur("timeout", timeout).Msg("async query submitted")
	return q.id, nil
}

func (a *AsyncRunner) work(q *asyncQuery) {
	defer a.workers.Done()

	if err := a.sem.Acquire(a.baseCtx, 1); err != nil {
		a.mu.Lock()
		if !q.status.Terminal() {
			q.status = StatusFailed
			q.err = fmt.Errorf("session: shutting down before execution: %w", err)
			q.finished = time.Now()
		}
		a.mu.Unlock()
		return
	}
	defer a.sem.Release(1)

	a.mu.Lock()
	if q.status.Terminal() {
		// Cancelled while queued; never touches a connection.
		a.mu.Unlock()
		return
	}
	q.status = StatusRunning
	q.started = time.Now()
	ctx, cancel := context.WithTimeout(a.baseCtx, q.timeout)
	q.cancel = cancel
	a.mu.Unlock()
	defer cancel()

	result, err := a.run(ctx, q.sql, q.args)

	a.mu.Lock()
	defer a.mu.Unlock()
	if q.status.Terminal() {
		// Cancel won the race; a result arriving afterwards is discarded so
		// a cancelled query can never read as completed.
		return
	}
	q.finished = time.Now()
	if err != nil {
		q.status = StatusFailed
		q.err = err
		a.logger.Warn().Str("query_id", q.id).Err(err).Msg("async query failed")
		return
	}
	q.status = StatusCompleted
	q.result = result
	a.logger.Info().Str("query_id", q.id).Dur("elapsed", q.finished.Sub(q.started)).Msg("async query completed")
}

func (a *AsyncRunner) get(id string) (*asyncQuery, error) {
	q, ok := a.queries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return q, nil
}

func (q *asyncQuery) info() AsyncInfo {
	info := AsyncInfo{
		ID:        q.id,
		Status:    q.status,
		Submitted: q.submitted,
		Started:   q.started,
		Finished:  q.finished,
	}
	if q.err != nil {
		info.Error = q.err.Error()
	}
	return info
}

// Poll returns the query's current status snapshot.
func (a *AsyncRunner) Poll(id string) (AsyncInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, err := a.get(id)
	if err != nil {
		return AsyncInfo{}, err
	}
	return q.info(), nil
}

// Err returns the failure cause of a Failed query, nil otherwise. Callers
// use it to classify the failure without parsing the snapshot's message.
func (a *AsyncRunner) Err(id string) (error, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, err := a.get(id)
	if err != nil {
		return nil, err
	}
	return q.err, nil
}

// Result returns the buffered result of a Completed query.
func (a *AsyncRunner) Result(id string) (*rowset.Result, AsyncInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, err := a.get(id)
	if err != nil {
		return nil, AsyncInfo{}, err
	}
	if q.status != StatusCompleted {
		return nil, q.info(), fmt.Errorf("%w: status is %s", ErrNotCompleted, q.status)
	}
	return q.result, q.info(), nil
}

// Cancel moves a queued or running query to Cancelled. Running queries have
// their context cancelled, which interrupts the statement server-side.
func (a *AsyncRunner) Cancel(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, err := a.get(id)
	if err != nil {
		return err
	}
	if q.status.Terminal() {
		return fmt.Errorf("%w: status is %s", ErrAlreadyTerminal, q.status)
	}
	q.status = StatusCancelled
	q.finished = time.Now()
	if q.cancel != nil {
		q.cancel()
	}
	a.logger.Info().Str("query_id", id).Msg("async query cancelled")
	return nil
}

// List returns snapshots, optionally filtered by status (empty = all),
// ordered by submission time.
func (a *AsyncRunner) List(filter Status) []AsyncInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AsyncInfo, 0, len(a.queries))
	for _, q := range a.queries {
		if filter != "" && q.status != filter {
			continue
		}
		out = append(out, q.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Submitted.Before(out[j].Submitted) })
	return out
}

// Counts returns the number of non-terminal and total tracked queries.
func (a *AsyncRunner) Counts() (active, total int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, q := range a.queries {
		if !q.status.Terminal() {
			active++
		}
	}
	return active, len(a.queries)
}

func (a *AsyncRunner) reapLoop() {
	defer a.reaperWG.Done()
	ticker := time.NewTicker(a.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.reapExpired()
		case <-a.stop:
			return
		}
	}
}

func (a *AsyncRunner) reapExpired() {
	cutoff := time.Now().Add(-a.cfg.Retention)
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, q := range a.queries {
		if q.status.Terminal() && q.finished.Before(cutoff) {
			delete(a.queries, id)
		}
	}
}

// Close cancels all running queries, stops the reaper, and waits for
// workers to exit.
func (a *AsyncRunner) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.baseCancel()
	a.stopOnce.Do(func() { close(a.stop) })
	a.reaperWG.Wait()
	a.workers.Wait()
}
