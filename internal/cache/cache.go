// Package cache is a TTL + LRU cache for read-only statement results.
//
// Keys are fingerprints of the normalized statement text plus its parameter
// values, so formatting and casing differences hit the same entry while any
// semantic difference misses. The cache fails open: expiry, eviction, and
// absence all present as a miss, never as an error.
package cache

import (
	"container/list"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes a statement and its parameters into a cache key. The
// statement text is case-folded and whitespace-collapsed first.
func Fingerprint(sql string, args []any) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(normalize(sql))
	for _, a := range args {
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(fmt.Sprintf("%v", a))
	}
	return h.Sum64()
}

func normalize(sql string) string {
	return strings.ToUpper(strings.Join(strings.Fields(sql), " "))
}

// Config configures a Cache.
type Config struct {
	// MaxEntries caps the entry count; the least recently used entry is
	// evicted at capacity. Must be >= 1.
	MaxEntries int
	// TTL is each entry's lifetime. Must be > 0.
	TTL time.Duration
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
	Expired   int64
}

type entry struct {
	key     uint64
	value   any
	expires time.Time
}

// Cache is the TTL + LRU store. Safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	cfg   Config
	order *list.List // front = most recently used
	index map[uint64]*list.Element

	hits      int64
	misses    int64
	evictions int64
	expired   int64

	now func() time.Time
}

// New creates a Cache. Panics on invalid config.
func New(cfg Config) *Cache {
	if cfg.MaxEntries < 1 {
		panic(fmt.Sprintf("cache: MaxEntries must be >= 1, got %d", cfg.MaxEntries))
	}
	if cfg.TTL <= 0 {
		panic(fmt.Sprintf("cache: TTL must be > 0, got %v", cfg.TTL))
	}
	return &Cache{
		cfg:   cfg,
		order: list.New(),
		index: make(map[uint64]*list.Element),
		now:   time.Now,
	}
}

// Get returns the live entry for key, touching its recency. Expired entries
// are removed and reported as a miss.
func (c *Cache) Get(key uint64) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if !c.now().Before(e.expires) {
		c.order.Remove(el)
		delete(c.index, key)
		c.expired++
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Put stores value under key with the configured TTL, replacing any existing
// entry and evicting the least recently used entry at capacity.
func (c *Cache) Put(key uint64, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.cfg.TTL)
	if el, ok := c.index[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expires = expires
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.cfg.MaxEntries {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.index, oldest.Value.(*entry).key)
			c.evictions++
		}
	}
	c.index[key] = c.order.PushFront(&entry{key: key, value: value, expires: expires})
}

// Purge drops every entry. Counters are kept.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.index = make(map[uint64]*list.Element)
}

// Stats returns a counters snapshot.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.order.Len(),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
}
