package cache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// Defaults applied when Options fields are left zero.
const (
	DefaultTTL           = 5 * time.Minute
	DefaultMaxEntries    = 50
	DefaultSweepInterval = time.Minute
)

// globalKey is the sentinel cache key used when no identifier is given
// (Invalidate accepts an empty identifier; Get does not).
const globalKey = "global"

// ErrIdentifierRequired is returned by Get when the identifier is empty.
var ErrIdentifierRequired = errors.New("identifier required")

// Builder constructs the aggregate value for a cache miss. It is invoked
// synchronously from Get with the same identifier, client and options the
// caller provided. A returned error propagates from Get and nothing is stored.
type Builder[C comparable, V any] func(identifier string, client C, opts GetOptions) (V, error)

// GetOptions carries per-call settings for Get. They are also forwarded to the
// Builder, which is free to ignore them.
type GetOptions struct {
	// TTL overrides the cache-wide default expiry for the entry created by
	// this call. Zero or negative means "use the default".
	TTL time.Duration
}

// Options controls construction of an AggregateCache.
type Options struct {
	// TTL is the default entry lifetime. Expiry is measured from creation,
	// not from last access.
	TTL time.Duration

	// MaxEntries bounds the cache size. After each insertion (and on each
	// periodic sweep) the least recently accessed entries beyond this count
	// are evicted.
	MaxEntries int

	// SweepInterval is the period of the background sweep started by Run.
	SweepInterval time.Duration
}

// entry stores one cached aggregate together with the bookkeeping the cleanup
// passes rely on.
type entry[C comparable, V any] struct {
	value      V
	client     C
	createdAt  time.Time
	lastAccess time.Time
	ttl        time.Duration
}

// AggregateCache memoizes expensive per-identifier aggregate values with
// age-based expiry and size-bounded least-recently-accessed eviction.
//
// The cache key is derived from the identifier alone, but a hit additionally
// requires the stored client handle to equal the one passed to Get; the same
// identifier queried through a different client rebuilds and overwrites.
//
// Construct one cache per process at startup and inject it where needed; the
// zero value is not usable.
type AggregateCache[C comparable, V any] struct {
	mu      sync.Mutex
	build   Builder[C, V]
	entries map[string]*entry[C, V]

	ttl           time.Duration
	maxEntries    int
	sweepInterval time.Duration
}

// now is a small indirection to allow test stubbing.
var now = time.Now

// New constructs an AggregateCache around the given builder. Zero Options
// fields fall back to the package defaults.
func New[C comparable, V any](build Builder[C, V], opts Options) *AggregateCache[C, V] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	return &AggregateCache[C, V]{
		build:         build,
		entries:       make(map[string]*entry[C, V]),
		ttl:           opts.TTL,
		maxEntries:    opts.MaxEntries,
		sweepInterval: opts.SweepInterval,
	}
}

// keyFor derives the cache key for an identifier.
func keyFor(identifier string) string {
	if strings.TrimSpace(identifier) == "" {
		return globalKey
	}
	return identifier
}

// Get returns the cached aggregate for the identifier, building and storing it
// on a miss. A hit refreshes the entry's last-access time and returns the
// stored value as-is; staleness is enforced only by the cleanup passes, never
// on the read path. After storing a freshly built value, Get runs a cleanup
// pass, so it may evict unrelated expired or overflow entries as a side
// effect.
func (c *AggregateCache[C, V]) Get(identifier string, client C, opts GetOptions) (V, error) {
	var zero V
	if strings.TrimSpace(identifier) == "" {
		return zero, ErrIdentifierRequired
	}
	key := keyFor(identifier)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.client == client {
		e.lastAccess = now()
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	// Miss (or client mismatch): build outside the lock, then overwrite.
	value, err := c.build(identifier, client, opts)
	if err != nil {
		return zero, err
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	ts := now()
	c.entries[key] = &entry[C, V]{
		value:      value,
		client:     client,
		createdAt:  ts,
		lastAccess: ts,
		ttl:        ttl,
	}
	c.cleanupLocked(ts)
	c.mu.Unlock()

	return value, nil
}

// Invalidate removes the entry for the identifier's key, regardless of which
// client produced it. An empty identifier targets the sentinel global key.
// Absent keys are a no-op.
func (c *AggregateCache[C, V]) Invalidate(identifier string) {
	c.mu.Lock()
	delete(c.entries, keyFor(identifier))
	c.mu.Unlock()
}

// Clear empties the entire cache, all keys and all clients.
func (c *AggregateCache[C, V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry[C, V])
	c.mu.Unlock()
}

// Len returns the number of entries currently stored, expired or not.
func (c *AggregateCache[C, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep runs one cleanup pass. It never fails; cleanup is best-effort.
func (c *AggregateCache[C, V]) Sweep() {
	c.mu.Lock()
	c.cleanupLocked(now())
	c.mu.Unlock()
}

// Run drives the periodic sweep and blocks until ctx is cancelled. The caller
// that constructs the cache owns this task; start it with `go cache.Run(ctx)`
// and cancel the context on shutdown.
func (c *AggregateCache[C, V]) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// cleanupLocked removes expired entries, then evicts the least recently
// accessed entries until the count is back within maxEntries. Expiry is
// measured from creation (not an idle timeout). Callers must hold c.mu.
func (c *AggregateCache[C, V]) cleanupLocked(ts time.Time) {
	for k, e := range c.entries {
		if ts.Sub(e.createdAt) > e.ttl {
			delete(c.entries, k)
		}
	}

	overflow := len(c.entries) - c.maxEntries
	if overflow <= 0 {
		return
	}

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]], c.entries[keys[j]]
		if !a.lastAccess.Equal(b.lastAccess) {
			return a.lastAccess.Before(b.lastAccess)
		}
		// Simultaneous timestamps are immaterial; break the tie by key so
		// eviction order stays deterministic.
		return keys[i] < keys[j]
	})
	for _, k := range keys[:overflow] {
		delete(c.entries, k)
	}
}
