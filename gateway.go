package pggate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ewancroft/pggate/internal/cache"
	"github.com/ewancroft/pggate/internal/pool"
	"github.com/ewancroft/pggate/internal/redact"
	"github.com/ewancroft/pggate/internal/resilience"
	"github.com/ewancroft/pggate/internal/rowset"
	"github.com/ewancroft/pggate/internal/session"
	"github.com/ewancroft/pggate/internal/timeout"
	"github.com/ewancroft/pggate/internal/txn"
	"github.com/ewancroft/pggate/internal/validate"
)

// Gateway is the core engine exposing pooled, validated, resilient database
// access plus pinned sessions, async queries, and explicit transactions.
// All exported methods are safe for concurrent use from multiple goroutines.
type Gateway struct {
	config        Config
	pool          *pool.Pool
	semaphore     chan struct{}
	checker       *validate.Checker
	redactor      *redact.Redactor
	timeoutMgr    *timeout.Manager
	exec          *resilience.Executor
	cache         *cache.Cache // nil when disabled
	pinned        *session.PinnedRegistry
	async         *session.AsyncRunner
	txns          *txn.Manager
	goBeforeHooks []BeforeQueryHookEntry
	goAfterHooks  []AfterQueryHookEntry
	ops           *opsRecorder
	logger        zerolog.Logger
}

// New creates a new Gateway.
// connString is the PostgreSQL connection string (must include credentials).
// In library mode, connString is required — Config.Connection fields are
// ignored (the CLI is responsible for building connString from
// Config.Connection + prompted credentials).
// Panics on invalid config. Returns error only for runtime failures (e.g.,
// pool creation).
func New(ctx context.Context, connString string, config Config, logger zerolog.Logger) (*Gateway, error) {
	// --- Config validation (panics on invalid config) ---

	if connString == "" {
		panic("pggate: connString must be non-empty")
	}
	if config.Pool.MaxConns <= 0 {
		panic("pggate: pool.max_conns must be > 0")
	}
	if config.Query.DefaultTimeoutSeconds <= 0 {
		panic("pggate: query.default_timeout_seconds must be > 0")
	}

	mode, err := validate.ParseMode(config.Validation.Mode)
	if err != nil {
		panic(fmt.Sprintf("pggate: %v", err))
	}
	injectionAction := validate.ActionWarn
	switch strings.ToLower(config.Validation.OnInjection) {
	case "", "warn":
	case "block":
		injectionAction = validate.ActionBlock
	default:
		panic(fmt.Sprintf("pggate: validation.on_injection must be \"warn\" or \"block\", got %q", config.Validation.OnInjection))
	}

	// Apply defaults for zero values
	if config.Pool.AcquireTimeoutSeconds == 0 {
		config.Pool.AcquireTimeoutSeconds = 5
	}
	if config.Query.MaxSQLLength == 0 {
		config.Query.MaxSQLLength = 100000
	}
	if config.Query.MaxResultLength == 0 {
		config.Query.MaxResultLength = 100000
	}
	if config.Query.MaxTimeoutSeconds == 0 {
		config.Query.MaxTimeoutSeconds = 600
	}
	if config.Query.MaxSQLLength < 0 {
		panic("pggate: query.max_sql_length must be > 0")
	}
	if config.Query.MaxResultLength < 0 {
		panic("pggate: query.max_result_length must be > 0")
	}
	if config.Cache.MaxEntries == 0 {
		config.Cache.MaxEntries = 256
	}
	if config.Cache.TTLSeconds == 0 {
		config.Cache.TTLSeconds = 30
	}
	applyResilienceDefaults(&config.Resilience)
	if config.Sessions.MaxPinned == 0 {
		config.Sessions.MaxPinned = config.Pool.MaxConns
	}
	if config.Sessions.PinnedIdleSeconds == 0 {
		config.Sessions.PinnedIdleSeconds = 900
	}
	if config.Sessions.MaxAsyncWorkers == 0 {
		config.Sessions.MaxAsyncWorkers = 4
	}
	if config.Sessions.MaxAsyncTracked == 0 {
		config.Sessions.MaxAsyncTracked = 100
	}
	if config.Sessions.AsyncRetentionSeconds == 0 {
		config.Sessions.AsyncRetentionSeconds = 600
	}
	if config.Transactions.MaxOpen == 0 {
		config.Transactions.MaxOpen = config.Pool.MaxConns
	}

	// Validate hook timeouts
	hasGoHooks := len(config.BeforeQueryHooks) > 0 || len(config.AfterQueryHooks) > 0
	if hasGoHooks && config.DefaultHookTimeoutSeconds <= 0 {
		panic("pggate: default_hook_timeout_seconds must be > 0 when hooks are configured")
	}
	for _, entry := range config.BeforeQueryHooks {
		if entry.Timeout < 0 {
			panic(fmt.Sprintf("pggate: before_query hook %q has negative timeout", entry.Name))
		}
	}
	for _, entry := range config.AfterQueryHooks {
		if entry.Timeout < 0 {
			panic(fmt.Sprintf("pggate: after_query hook %q has negative timeout", entry.Name))
		}
	}
	for _, rule := range config.Query.TimeoutRules {
		if rule.TimeoutSeconds <= 0 {
			panic(fmt.Sprintf("pggate: timeout_rule with pattern %q has timeout_seconds <= 0", rule.Pattern))
		}
	}

	// --- Configure pgxpool ---

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(config.Pool.MaxConns)
	poolConfig.MinConns = int32(config.Pool.MinConns)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	// Parse pool duration strings
	if config.Pool.MaxConnLifetime != "" {
		d, err := time.ParseDuration(config.Pool.MaxConnLifetime)
		if err != nil {
			panic(fmt.Sprintf("pggate: invalid pool.max_conn_lifetime %q: %v", config.Pool.MaxConnLifetime, err))
		}
		poolConfig.MaxConnLifetime = d
	}
	if config.Pool.MaxConnIdleTime != "" {
		d, err := time.ParseDuration(config.Pool.MaxConnIdleTime)
		if err != nil {
			panic(fmt.Sprintf("pggate: invalid pool.max_conn_idle_time %q: %v", config.Pool.MaxConnIdleTime, err))
		}
		poolConfig.MaxConnIdleTime = d
	}
	if config.Pool.HealthCheckPeriod != "" {
		d, err := time.ParseDuration(config.Pool.HealthCheckPeriod)
		if err != nil {
			panic(fmt.Sprintf("pggate: invalid pool.health_check_period %q: %v", config.Pool.HealthCheckPeriod, err))
		}
		poolConfig.HealthCheckPeriod = d
	}

	// Set AfterConnect hook for session-level settings
	if mode == validate.ModeReadOnly || config.Timezone != "" {
		readOnly := mode == validate.ModeReadOnly
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if readOnly {
				if _, err := conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
					return fmt.Errorf("failed to SET default_transaction_read_only: %w", err)
				}
			}
			if config.Timezone != "" {
				escaped := strings.ReplaceAll(config.Timezone, "'", "''")
				if _, err := conn.Exec(ctx, fmt.Sprintf("SET timezone = '%s'", escaped)); err != nil {
					return fmt.Errorf("failed to SET timezone: %w", err)
				}
			}
			return nil
		}
	}

	pgxPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	g, err := assemble(pool.NewPgxSource(pgxPool), config, mode, injectionAction, logger)
	if err != nil {
		pgxPool.Close()
		return nil, err
	}
	return g, nil
}

// assemble wires the engine components over an already-built connection
// source. Split from New so tests can inject a fake source.
func assemble(src pool.Source, config Config, mode validate.Mode, injectionAction validate.Action, logger zerolog.Logger) (*Gateway, error) {
	redactor, err := redact.New(mapSanitizationRules(config.Sanitization), mapErrorPromptRules(config.ErrorPrompts))
	if err != nil {
		return nil, err
	}

	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr, err := timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second,
		MaxTimeout:     time.Duration(config.Query.MaxTimeoutSeconds) * time.Second,
		Rules:          timeoutRules,
	})
	if err != nil {
		return nil, err
	}

	p := pool.New(src, pool.Config{
		MaxLeases:      config.Pool.MaxConns,
		AcquireTimeout: time.Duration(config.Pool.AcquireTimeoutSeconds) * time.Second,
	}, logger)

	g := &Gateway{
		config:    config,
		pool:      p,
		semaphore: make(chan struct{}, config.Pool.MaxConns),
		checker: validate.NewChecker(validate.Config{
			Mode:            mode,
			InjectionAction: injectionAction,
		}),
		redactor:   redactor,
		timeoutMgr: tmgr,
		exec: resilience.New(resilience.Config{
			MaxAttempts:      config.Resilience.MaxAttempts,
			InitialDelay:     time.Duration(config.Resilience.InitialDelayMillis) * time.Millisecond,
			MaxDelay:         time.Duration(config.Resilience.MaxDelayMillis) * time.Millisecond,
			Multiplier:       config.Resilience.BackoffMultiplier,
			FailureThreshold: config.Resilience.FailureThreshold,
			SuccessThreshold: config.Resilience.SuccessThreshold,
			Cooldown:         time.Duration(config.Resilience.CooldownSeconds) * time.Second,
			HalfOpenMax:      config.Resilience.HalfOpenMaxRequests,
			IsTransient:      isTransient,
		}, logger),
		goBeforeHooks: config.BeforeQueryHooks,
		goAfterHooks:  config.AfterQueryHooks,
		ops:           newOpsRecorder(),
		logger:        logger,
	}

	if config.Cache.Enabled {
		g.cache = cache.New(cache.Config{
			MaxEntries: config.Cache.MaxEntries,
			TTL:        time.Duration(config.Cache.TTLSeconds) * time.Second,
		})
	}

	g.pinned = session.NewPinned(p, session.PinnedConfig{
		MaxSessions: config.Sessions.MaxPinned,
		IdleTimeout: time.Duration(config.Sessions.PinnedIdleSeconds) * time.Second,
	}, logger)

	g.async = session.NewAsync(g.runAsync, session.AsyncConfig{
		MaxWorkers: int64(config.Sessions.MaxAsyncWorkers),
		MaxTracked: config.Sessions.MaxAsyncTracked,
		Retention:  time.Duration(config.Sessions.AsyncRetentionSeconds) * time.Second,
	}, logger)

	g.txns = txn.NewManager(p, txn.Config{
		MaxOpen: config.Transactions.MaxOpen,
	}, logger)

	return g, nil
}

func applyResilienceDefaults(r *ResilienceConfig) {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.InitialDelayMillis == 0 {
		r.InitialDelayMillis = 100
	}
	if r.MaxDelayMillis == 0 {
		r.MaxDelayMillis = 5000
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
	if r.FailureThreshold == 0 {
		r.FailureThreshold = 5
	}
	if r.SuccessThreshold == 0 {
		r.SuccessThreshold = 2
	}
	if r.CooldownSeconds == 0 {
		r.CooldownSeconds = 30
	}
	if r.HalfOpenMaxRequests == 0 {
		r.HalfOpenMaxRequests = 1
	}
}

// runAsync executes one admitted async statement on a fresh lease under the
// resilience policy. Async statements were validated at submission; they are
// retried only when read-only.
func (g *Gateway) runAsync(ctx context.Context, sql string, args []any) (*rowset.Result, error) {
	idempotent := g.checker.Classify(sql).ReadOnly
	return g.execStatement(ctx, "async_query", sql, args, idempotent)
}

// execStatement runs one autocommit statement on a pool lease under the
// resilience policy.
func (g *Gateway) execStatement(ctx context.Context, label, sql string, args []any, idempotent bool) (*rowset.Result, error) {
	var result *rowset.Result
	err := g.exec.Call(ctx, label, idempotent, func(ctx context.Context) error {
		lease, err := g.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		rows, err := lease.Conn.Query(ctx, sql, args...)
		if err != nil {
			g.finishLease(lease, err)
			return err
		}
		res, err := rowset.Collect(rows)
		if err != nil {
			g.finishLease(lease, err)
			return err
		}
		lease.Release()
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// finishLease returns a lease after a failure: connections behind transient
// failures are retired because their wire state is unknown.
func (g *Gateway) finishLease(lease *pool.Lease, err error) {
	if isTransient(err) {
		lease.Retire()
		return
	}
	lease.Release()
}

// Close drains the gateway: async workers stop, pinned sessions end, open
// transactions roll back, then the pool drains until ctx is done.
func (g *Gateway) Close(ctx context.Context) {
	g.async.Close()
	g.pinned.Close(ctx)
	g.txns.Close(ctx)
	if err := g.pool.Close(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("pool drain incomplete at shutdown")
	}
}

// mapSanitizationRules converts pggate SanitizationRules to internal
// redact.Rules.
func mapSanitizationRules(rules []SanitizationRule) []redact.Rule {
	result := make([]redact.Rule, len(rules))
	for i, r := range rules {
		result[i] = redact.Rule{
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
		}
	}
	return result
}

// mapErrorPromptRules converts pggate ErrorPromptRules to internal
// redact.PromptRules.
func mapErrorPromptRules(rules []ErrorPromptRule) []redact.PromptRule {
	result := make([]redact.PromptRule, len(rules))
	for i, r := range rules {
		result[i] = redact.PromptRule{
			Pattern: r.Pattern,
			Message: r.Message,
		}
	}
	return result
}
