package pggate

import (
	"context"
	"sync"
	"time"
)

// opsRecorder accumulates per-operation call, error, and latency counters.
// Every public gateway operation reports here; Metrics snapshots it.
type opsRecorder struct {
	mu  sync.Mutex
	ops map[string]*opCounters
}

type opCounters struct {
	calls  int64
	errors int64
	total  time.Duration
	last   time.Duration
}

func newOpsRecorder() *opsRecorder {
	return &opsRecorder{ops: make(map[string]*opCounters)}
}

func (r *opsRecorder) observe(op string, start time.Time, failed bool) {
	elapsed := time.Since(start)
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.ops[op]
	if c == nil {
		c = &opCounters{}
		r.ops[op] = c
	}
	c.calls++
	if failed {
		c.errors++
	}
	c.total += elapsed
	c.last = elapsed
}

func (r *opsRecorder) snapshot() map[string]OpMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]OpMetrics, len(r.ops))
	for op, c := range r.ops {
		out[op] = OpMetrics{
			Calls:       c.calls,
			Errors:      c.errors,
			TotalMicros: c.total.Microseconds(),
			LastMicros:  c.last.Microseconds(),
		}
	}
	return out
}

// Metrics returns a point-in-time snapshot of pool, breaker, cache, registry,
// and per-operation counters.
func (g *Gateway) Metrics(ctx context.Context) *MetricsOutput {
	poolStats := g.pool.Stats()
	breakerStats := g.exec.Stats()

	out := &MetricsOutput{
		Pool: PoolMetrics{
			Leased:          poolStats.Leased,
			Capacity:        poolStats.Capacity,
			Idle:            poolStats.Idle,
			TotalConns:      poolStats.TotalConns,
			TotalAcquires:   poolStats.TotalAcquires,
			AcquireTimeouts: poolStats.AcquireTimeouts,
			Retired:         poolStats.Retired,
		},
		Breaker: BreakerMetrics{
			State:               breakerStats.State.String(),
			ConsecutiveFailures: breakerStats.ConsecutiveFailures,
			Calls:               breakerStats.Calls,
			Successes:           breakerStats.Successes,
			TransientFailures:   breakerStats.TransientFailures,
			Retries:             breakerStats.Retries,
			ShortCircuits:       breakerStats.ShortCircuits,
			TimesOpened:         breakerStats.OpenedCount,
		},
		CollectedAt: time.Now().UTC(),
	}

	if g.cache != nil {
		cacheStats := g.cache.Stats()
		out.Cache = CacheMetrics{
			Enabled:   true,
			Entries:   cacheStats.Entries,
			Hits:      cacheStats.Hits,
			Misses:    cacheStats.Misses,
			Evictions: cacheStats.Evictions,
			Expired:   cacheStats.Expired,
		}
		if lookups := cacheStats.Hits + cacheStats.Misses; lookups > 0 {
			out.Cache.HitRatio = float64(cacheStats.Hits) / float64(lookups)
		}
	}

	active, total := g.async.Counts()
	out.Registries = RegistryMetrics{
		PinnedSessions:      g.pinned.Count(),
		ActiveAsyncQueries:  active,
		TrackedAsyncQueries: total,
		OpenTransactions:    g.txns.Count(),
	}

	out.Operations = g.ops.snapshot()

	return out
}

// HealthCheck pings the database and reports the breaker state. An open
// breaker is reported but does not itself mark the gateway unhealthy; the
// ping verdict does.
func (g *Gateway) HealthCheck(ctx context.Context) (out *HealthOutput) {
	start := time.Now()
	defer func() { g.ops.observe("health_check", start, out.Error != "") }()

	out = &HealthOutput{BreakerState: g.exec.State().String()}
	if err := g.pool.Ping(ctx); err != nil {
		msg, kind := g.describeError(err)
		out.Error = msg
		out.ErrorKind = kind
		return out
	}
	out.Healthy = true
	return out
}
