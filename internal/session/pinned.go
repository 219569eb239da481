package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ewancroft/pggate/internal/pool"
	"github.com/ewancroft/pggate/internal/rowset"
)

// PinnedConfig configures a PinnedRegistry.
type PinnedConfig struct {
	// MaxSessions caps concurrently open pinned sessions. Must be >= 1.
	MaxSessions int
	// IdleTimeout force-closes sessions with no activity. Zero disables
	// reaping.
	IdleTimeout time.Duration
	// ReapInterval is how often the reaper scans. Defaults to one minute
	// when IdleTimeout is set.
	ReapInterval time.Duration
}

// PinnedInfo is a read-only snapshot of one pinned session.
type PinnedInfo struct {
	ID           string    `json:"session_id"`
	Created      time.Time `json:"created"`
	LastActivity time.Time `json:"last_activity"`
	Statements   int       `json:"statements"`
}

type pinned struct {
	id      string
	lease   *pool.Lease
	slot    chan struct{} // capacity 1, held while a statement is in flight
	created time.Time

	mu           sync.Mutex
	lastActivity time.Time
	statements   int
	closed       bool
}

func (s *pinned) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.statements++
	s.mu.Unlock()
}

// PinnedRegistry owns all pinned sessions. Safe for concurrent use.
type PinnedRegistry struct {
	pool   *pool.Pool
	cfg    PinnedConfig
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*pinned
	closed   bool

	stop     chan struct{}
	stopOnce sync.Once
	reaperWG sync.WaitGroup
}

// NewPinned creates a PinnedRegistry and starts its idle reaper when
// IdleTimeout is set. Panics on invalid config.
func NewPinned(p *pool.Pool, cfg PinnedConfig, logger zerolog.Logger) *PinnedRegistry {
	if p == nil {
		panic("session: nil pool")
	}
	if cfg.MaxSessions < 1 {
		panic(fmt.Sprintf("session: MaxSessions must be >= 1, got %d", cfg.MaxSessions))
	}
	if cfg.IdleTimeout > 0 && cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}
	r := &PinnedRegistry{
		pool:     p,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*pinned),
		stop:     make(chan struct{}),
	}
	if cfg.IdleTimeout > 0 {
		r.reaperWG.Add(1)
		go r.reapLoop()
	}
	return r
}

// Begin opens a pinned session on a dedicated lease. An empty id generates
// one; a caller-chosen id must be unused. Returns the session id.
func (r *PinnedRegistry) Begin(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrExists, id)
	}
	if len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return "", ErrTooMany
	}
	// Reserve the id before the acquire so concurrent Begins with the same
	// id cannot both proceed.
	r.sessions[id] = nil
	r.mu.Unlock()

	lease, err := r.pool.Acquire(ctx)
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		return "", err
	}

	now := time.Now()
	s := &pinned{
		id:           id,
		lease:        lease,
		slot:         make(chan struct{}, 1),
		created:      now,
		lastActivity: now,
	}
	r.mu.Lock()
	if r.closed {
		delete(r.sessions, id)
		r.mu.Unlock()
		lease.Retire()
		return "", ErrClosed
	}
	r.sessions[id] = s
	r.mu.Unlock()

	r.logger.Info().Str("session_id", id).Msg("pinned session started")
	return id, nil
}

func (r *PinnedRegistry) get(id string) (*pinned, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return s, nil
}

// Execute runs one statement on the session's dedicated connection. A
// session runs one statement at a time: a second call while one is in flight
// returns ErrBusy immediately.
func (r *PinnedRegistry) Execute(ctx context.Context, id, sql string, args ...any) (*rowset.Result, error) {
	s, err := r.get(id)
	if err != nil {
		return nil, err
	}

	select {
	case s.slot <- struct{}{}:
	default:
		return nil, fmt.Errorf("%w: %q", ErrBusy, id)
	}
	defer func() { <-s.slot }()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	s.touch()
	rows, err := s.lease.Conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rowset.Collect(rows)
}

// End closes a pinned session, waiting for any in-flight statement first.
// The dedicated connection is retired: its session-scoped state (SET,
// temporary tables) must not leak into the pool.
func (r *PinnedRegistry) End(ctx context.Context, id string) error {
	s, err := r.get(id)
	if err != nil {
		return err
	}

	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.slot }()

	return r.close(s)
}

// close tears the session down. Caller holds the statement slot.
func (r *PinnedRegistry) close(s *pinned) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, s.id)
	}
	s.closed = true
	s.mu.Unlock()

	r.mu.Lock()
	delete(r.sessions, s.id)
	r.mu.Unlock()

	s.lease.Retire()
	r.logger.Info().Str("session_id", s.id).Msg("pinned session ended")
	return nil
}

// List returns snapshots of all open sessions.
func (r *PinnedRegistry) List() []PinnedInfo {
	r.mu.Lock()
	sessions := make([]*pinned, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	r.mu.Unlock()

	out := make([]PinnedInfo, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, PinnedInfo{
			ID:           s.id,
			Created:      s.created,
			LastActivity: s.lastActivity,
			Statements:   s.statements,
		})
		s.mu.Unlock()
	}
	return out
}

// Count returns the number of open sessions.
func (r *PinnedRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *PinnedRegistry) reapLoop() {
	defer r.reaperWG.Done()
	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reapIdle()
		case <-r.stop:
			return
		}
	}
}

func (r *PinnedRegistry) reapIdle() {
	cutoff := time.Now().Add(-r.cfg.IdleTimeout)

	r.mu.Lock()
	var idle []*pinned
	for _, s := range r.sessions {
		if s == nil {
			continue
		}
		s.mu.Lock()
		if s.lastActivity.Before(cutoff) {
			idle = append(idle, s)
		}
		s.mu.Unlock()
	}
	r.mu.Unlock()

	for _, s := range idle {
		// Drain any in-flight statement before closing.
		s.slot <- struct{}{}
		if err := r.close(s); err == nil {
			r.logger.Warn().Str("session_id", s.id).Dur("idle_timeout", r.cfg.IdleTimeout).Msg("pinned session reaped after idle timeout")
		}
		<-s.slot
	}
}

// Close force-closes every session and stops the reaper.
func (r *PinnedRegistry) Close(ctx context.Context) {
	r.stopOnce.Do(func() { close(r.stop) })
	r.reaperWG.Wait()

	r.mu.Lock()
	r.closed = true
	sessions := make([]*pinned, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	r.mu.Unlock()

	for _, s := range sessions {
		select {
		case s.slot <- struct{}{}:
			_ = r.close(s)
			<-s.slot
		case <-ctx.Done():
			_ = r.close(s)
		}
	}
}
