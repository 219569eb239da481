// Package resilience wraps database operations with retry and a circuit
// breaker.
//
// Only transient failures (connection loss, server shutdown, capacity
// refusals) participate: they are retried when the operation is idempotent
// and they feed the breaker. Semantic failures (bad SQL, constraint
// violations) pass straight through without counting against the database's
// health.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrCircuitOpen is returned without touching the database while the breaker
// is open or half-open at trial capacity.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Config configures an Executor.
type Config struct {
	// MaxAttempts bounds total attempts for idempotent operations. 1
	// disables retry.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// FailureThreshold consecutive transient failures open the breaker.
	FailureThreshold int
	// SuccessThreshold half-open successes close it again.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before admitting trials.
	Cooldown time.Duration
	// HalfOpenMax caps concurrent trial operations while half-open.
	HalfOpenMax int

	// IsTransient classifies errors. Required.
	IsTransient func(error) bool
}

// Stats is a snapshot of executor counters and breaker state.
type Stats struct {
	State               State
	ConsecutiveFailures int
	Calls               int64
	Successes           int64
	TransientFailures   int64
	Retries             int64
	ShortCircuits       int64
	OpenedCount         int64
}

// Executor runs operations under the retry and breaker policy. One Executor
// guards one database target.
type Executor struct {
	cfg    Config
	logger zerolog.Logger

	calls         atomic.Int64
	successes     atomic.Int64
	transientErrs atomic.Int64
	retries       atomic.Int64
	shortCircuits atomic.Int64
	openedCount   atomic.Int64

	mu               sync.Mutex
	state            State
	failures         int
	openedAt         time.Time
	halfOpenInFlight int
	halfOpenSuccess  int

	now func() time.Time
}

// New creates an Executor. Panics on invalid config.
func New(cfg Config, logger zerolog.Logger) *Executor {
	if cfg.MaxAttempts < 1 {
		panic(fmt.Sprintf("resilience: MaxAttempts must be >= 1, got %d", cfg.MaxAttempts))
	}
	if cfg.Multiplier < 1 {
		panic(fmt.Sprintf("resilience: Multiplier must be >= 1, got %g", cfg.Multiplier))
	}
	if cfg.FailureThreshold < 1 {
		panic(fmt.Sprintf("resilience: FailureThreshold must be >= 1, got %d", cfg.FailureThreshold))
	}
	if cfg.SuccessThreshold < 1 {
		panic(fmt.Sprintf("resilience: SuccessThreshold must be >= 1, got %d", cfg.SuccessThreshold))
	}
	if cfg.HalfOpenMax < 1 {
		panic(fmt.Sprintf("resilience: HalfOpenMax must be >= 1, got %d", cfg.HalfOpenMax))
	}
	if cfg.IsTransient == nil {
		panic("resilience: IsTransient classifier is required")
	}
	return &Executor{cfg: cfg, logger: logger, now: time.Now}
}

// Call runs op under the policy. Non-idempotent operations execute at most
// once regardless of outcome; idempotent operations are retried on transient
// failure with exponential backoff until MaxAttempts or ctx expiry. The
// returned error is the last attempt's error, or ErrCircuitOpen when the
// breaker refused admission.
func (e *Executor) Call(ctx context.Context, label string, idempotent bool, op func(context.Context) error) error {
	e.calls.Add(1)

	maxAttempts := 1
	if idempotent {
		maxAttempts = e.cfg.MaxAttempts
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := e.admit(); err != nil {
			e.shortCircuits.Add(1)
			e.logger.Debug().Str("op", label).Msg("circuit breaker short-circuited call")
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			e.onSuccess()
			e.successes.Add(1)
			return nil
		}

		transient := e.cfg.IsTransient(lastErr)
		e.onFailure(transient)
		if !transient {
			return lastErr
		}
		e.transientErrs.Add(1)

		if attempt >= maxAttempts {
			return lastErr
		}

		delay := e.backoff(attempt)
		e.logger.Debug().
			Str("op", label).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(lastErr).
			Msg("retrying after transient failure")
		select {
		case <-time.After(delay):
			e.retries.Add(1)
		case <-ctx.Done():
			return fmt.Errorf("%w (while waiting to retry: %w)", lastErr, ctx.Err())
		}
	}
}

// backoff computes InitialDelay*Multiplier^(attempt-1), capped at MaxDelay,
// with ±25% jitter so synchronized callers spread out.
func (e *Executor) backoff(attempt int) time.Duration {
	d := float64(e.cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= e.cfg.Multiplier
		if d >= float64(e.cfg.MaxDelay) {
			d = float64(e.cfg.MaxDelay)
			break
		}
	}
	if max := float64(e.cfg.MaxDelay); e.cfg.MaxDelay > 0 && d > max {
		d = max
	}
	jitter := 1 + (rand.Float64()*0.5 - 0.25)
	return time.Duration(d * jitter)
}

func (e *Executor) admit() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateClosed:
		return nil
	case StateOpen:
		if e.now().Sub(e.openedAt) < e.cfg.Cooldown {
			return ErrCircuitOpen
		}
		e.state = StateHalfOpen
		e.halfOpenInFlight = 1
		e.halfOpenSuccess = 0
		e.logger.Info().Msg("circuit breaker half-open, admitting trial calls")
		return nil
	case StateHalfOpen:
		if e.halfOpenInFlight >= e.cfg.HalfOpenMax {
			return ErrCircuitOpen
		}
		e.halfOpenInFlight++
		return nil
	}
	return nil
}

func (e *Executor) onSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateClosed:
		e.failures = 0
	case StateHalfOpen:
		e.halfOpenInFlight--
		e.halfOpenSuccess++
		if e.halfOpenSuccess >= e.cfg.SuccessThreshold {
			e.state = StateClosed
			e.failures = 0
			e.logger.Info().Msg("circuit breaker closed after successful trials")
		}
	}
}

func (e *Executor) onFailure(transient bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateHalfOpen {
		e.halfOpenInFlight--
		if transient {
			// Any transient failure during trial reopens immediately.
			e.open()
		}
		return
	}
	if !transient {
		return
	}
	e.failures++
	if e.state == StateClosed && e.failures >= e.cfg.FailureThreshold {
		e.open()
	}
}

// open transitions to StateOpen. Caller holds mu.
func (e *Executor) open() {
	e.state = StateOpen
	e.openedAt = e.now()
	e.openedCount.Add(1)
	e.logger.Warn().Int("consecutive_failures", e.failures).Msg("circuit breaker opened")
}

// State returns the current breaker state, accounting for an elapsed
// cooldown.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateOpen && e.now().Sub(e.openedAt) >= e.cfg.Cooldown {
		return StateHalfOpen
	}
	return e.state
}

// Stats returns a counters snapshot.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	state := e.state
	failures := e.failures
	e.mu.Unlock()
	return Stats{
		State:               state,
		ConsecutiveFailures: failures,
		Calls:               e.calls.Load(),
		Successes:           e.successes.Load(),
		TransientFailures:   e.transientErrs.Load(),
		Retries:             e.retries.Load(),
		ShortCircuits:       e.shortCircuits.Load(),
		OpenedCount:         e.openedCount.Load(),
	}
}
