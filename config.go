package pggate

import (
	"context"
	"time"
)

// Config is the base configuration used by library mode via New().
type Config struct {
	Pool         PoolConfig         `json:"pool"`
	Validation   ValidationConfig   `json:"validation"`
	Query        QueryConfig        `json:"query"`
	Cache        CacheConfig        `json:"cache"`
	Resilience   ResilienceConfig   `json:"resilience"`
	Sessions     SessionConfig      `json:"sessions"`
	Transactions TransactionConfig  `json:"transactions"`
	ErrorPrompts []ErrorPromptRule  `json:"error_prompts"`
	Sanitization []SanitizationRule `json:"sanitization"`
	Timezone     string             `json:"timezone"`

	DefaultHookTimeoutSeconds int `json:"default_hook_timeout_seconds"`

	// Library mode: Go function hooks (not serializable). Run only in the
	// one-shot query pipeline.
	BeforeQueryHooks []BeforeQueryHookEntry `json:"-"`
	AfterQueryHooks  []AfterQueryHookEntry  `json:"-"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config
	Connection ConnectionConfig `json:"connection"`
	Server     ServerSettings   `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
}

// ConnectionConfig holds database connection parameters used by CLI mode.
type ConnectionConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	DBName  string `json:"dbname"`
	SSLMode string `json:"sslmode"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxConns          int    `json:"max_conns"`
	MinConns          int    `json:"min_conns"`
	MaxConnLifetime   string `json:"max_conn_lifetime"`
	MaxConnIdleTime   string `json:"max_conn_idle_time"`
	HealthCheckPeriod string `json:"health_check_period"`
	// AcquireTimeoutSeconds bounds how long an operation waits for a free
	// connection before failing as resource exhaustion. Defaults to 5.
	AcquireTimeoutSeconds int `json:"acquire_timeout_seconds"`
}

// ValidationConfig controls statement screening.
type ValidationConfig struct {
	// Mode is "read_only", "standard" (default), or "unrestricted".
	Mode string `json:"mode"`
	// OnInjection is what a heuristic injection match does: "warn"
	// (default) or "block".
	OnInjection string `json:"on_injection"`
}

// ServerSettings holds HTTP server settings for CLI mode.
type ServerSettings struct {
	Port               int    `json:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stdout, or file path
}

// QueryConfig holds query execution settings.
type QueryConfig struct {
	DefaultTimeoutSeconds int           `json:"default_timeout_seconds"`
	MaxTimeoutSeconds     int           `json:"max_timeout_seconds"`
	MaxSQLLength          int           `json:"max_sql_length"`
	MaxResultLength       int           `json:"max_result_length"`
	TimeoutRules          []TimeoutRule `json:"timeout_rules"`
}

// CacheConfig holds result cache settings. The cache only ever serves
// single read-only statements outside sessions and transactions.
type CacheConfig struct {
	Enabled    bool `json:"enabled"`
	MaxEntries int  `json:"max_entries"`
	TTLSeconds int  `json:"ttl_seconds"`
}

// ResilienceConfig holds retry and circuit breaker settings.
type ResilienceConfig struct {
	MaxAttempts         int     `json:"max_attempts"`
	InitialDelayMillis  int     `json:"initial_delay_millis"`
	MaxDelayMillis      int     `json:"max_delay_millis"`
	BackoffMultiplier   float64 `json:"backoff_multiplier"`
	FailureThreshold    int     `json:"failure_threshold"`
	SuccessThreshold    int     `json:"success_threshold"`
	CooldownSeconds     int     `json:"cooldown_seconds"`
	HalfOpenMaxRequests int     `json:"half_open_max_requests"`
}

// SessionConfig holds pinned-session and async-query settings.
type SessionConfig struct {
	MaxPinned             int `json:"max_pinned"`
	PinnedIdleSeconds     int `json:"pinned_idle_seconds"`
	MaxAsyncWorkers       int `json:"max_async_workers"`
	MaxAsyncTracked       int `json:"max_async_tracked"`
	AsyncRetentionSeconds int `json:"async_retention_seconds"`
}

// TransactionConfig holds explicit-transaction settings.
type TransactionConfig struct {
	MaxOpen int `json:"max_open"`
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Pattern        string `json:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ErrorPromptRule maps an error message pattern to a guidance message.
type ErrorPromptRule struct {
	Pattern string `json:"pattern"`
	Message string `json:"message"`
}

// SanitizationRule defines a regex-based field sanitization rule.
type SanitizationRule struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Description string `json:"description"`
}

// BeforeQueryHook can inspect and modify queries before execution.
type BeforeQueryHook interface {
	Run(ctx context.Context, query string) (string, error)
}

// AfterQueryHook can inspect and modify results after execution.
type AfterQueryHook interface {
	Run(ctx context.Context, result *QueryOutput) (*QueryOutput, error)
}

// BeforeQueryHookEntry wraps a BeforeQueryHook with metadata.
type BeforeQueryHookEntry struct {
	Name    string
	Timeout time.Duration
	Hook    BeforeQueryHook
}

// AfterQueryHookEntry wraps an AfterQueryHook with metadata.
type AfterQueryHookEntry struct {
	Name    string
	Timeout time.Duration
	Hook    AfterQueryHook
}
