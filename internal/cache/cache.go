// Package cache memoizes active-record lookups per context descriptor.
//
// The Cache sits in front of a Backend and never lets a backend failure
// reach the caller: every error is logged, counted and treated as a miss.
// Invalidation is synchronous, so once Invalidate returns no caller reads
// the entry it removed.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alfredjeanlab/ctxconf/internal/merge"
	"github.com/alfredjeanlab/ctxconf/internal/metrics"
	"github.com/alfredjeanlab/ctxconf/internal/model"
)

const (
	// DefaultTTL bounds how long an entry lives when no TTL is configured.
	DefaultTTL = 5 * time.Minute
	// DefaultOpTimeout bounds a single backend call.
	DefaultOpTimeout = 100 * time.Millisecond
	// DefaultLoadTimeout bounds a shared read-through load.
	DefaultLoadTimeout = 5 * time.Second
)

// Entry is a cached lookup outcome. Found is false for a negative result:
// the descriptor had no active record when the entry was filled.
type Entry struct {
	Found  bool          `json:"found"`
	Record *model.Record `json:"record,omitempty"`
}

// Backend stores entries by key. Implementations must be safe for
// concurrent use.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Flush(ctx context.Context) error
	// Len returns the number of entries, or -1 when the backend cannot tell.
	Len(ctx context.Context) (int, error)
	Close() error
}

// Notifier tells other instances about local invalidations.
type Notifier interface {
	NotifyInvalidate(ctx context.Context, d model.Descriptor) error
	NotifyInvalidateAll(ctx context.Context) error
}

// Stats is a snapshot of cache activity since start.
type Stats struct {
	Backend       string `json:"backend"`
	Size          int    `json:"size"`
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Errors        uint64 `json:"errors"`
	Fills         uint64 `json:"fills"`
	StaleFills    uint64 `json:"stale_fills"`
	Invalidations uint64 `json:"invalidations"`
	Flushes       uint64 `json:"flushes"`
}

// Cache is safe for concurrent use.
type Cache struct {
	backend     Backend
	ttl         time.Duration
	opTimeout   time.Duration
	loadTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	notifier    Notifier

	// gen is bumped by every invalidation. Fills started under an older
	// generation are discarded. fillMu orders fills against invalidations
	// so a fill can never land after the delete that should have removed it.
	gen     atomic.Uint64
	fillMu  sync.RWMutex
	flights singleflight.Group

	hits, misses, errors, fills, staleFills, invalidations, flushes atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the default entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithOpTimeout bounds each backend call.
func WithOpTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.opTimeout = d
		}
	}
}

// WithLoadTimeout bounds each shared load run by Fetch.
func WithLoadTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.loadTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithNotifier broadcasts local invalidations to other instances.
func WithNotifier(n Notifier) Option {
	return func(c *Cache) { c.notifier = n }
}

// New wraps backend. A nil backend disables caching.
func New(backend Backend, opts ...Option) *Cache {
	if backend == nil {
		backend = NoopBackend{}
	}
	c := &Cache{
		backend:     backend,
		ttl:         DefaultTTL,
		opTimeout:   DefaultOpTimeout,
		loadTimeout: DefaultLoadTimeout,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetNotifier installs the notifier after construction. The event broadcaster
// needs the cache to exist before it can be built.
func (c *Cache) SetNotifier(n Notifier) {
	c.notifier = n
}

// TTL returns the default entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the cached entry for d. Backend errors are reported as a miss.
func (c *Cache) Get(ctx context.Context, d model.Descriptor) (Entry, bool) {
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	e, ok, err := c.backend.Get(opCtx, d.Key())
	if err != nil {
		c.fail("get", d.Key(), err)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		c.metrics.CacheMiss()
		return Entry{}, false
	}
	c.hits.Add(1)
	c.metrics.CacheHit()
	return cloneEntry(e), true
}

// Set stores e for d. A non-positive ttl uses the default.
func (c *Cache) Set(ctx context.Context, d model.Descriptor, e Entry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.backend.Set(opCtx, d.Key(), cloneEntry(e), ttl); err != nil {
		c.fail("set", d.Key(), err)
	}
}

// Fetch returns the entry for d, calling load on a miss and caching its
// result. Concurrent misses for one descriptor share a single load, which
// runs detached from any one caller's cancellation and is bounded by the
// load timeout. A load that overlaps an invalidation is returned to its
// callers but not cached.
func (c *Cache) Fetch(ctx context.Context, d model.Descriptor, load func(context.Context) (Entry, error)) (Entry, error) {
	if e, ok := c.Get(ctx, d); ok {
		return e, nil
	}

	gen := c.gen.Load()
	// Keying flights by generation keeps callers arriving after an
	// invalidation from joining a load that started before it.
	flightKey := fmt.Sprintf("%d/%s", gen, d.Key())
	ch := c.flights.DoChan(flightKey, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		e, err := load(loadCtx)
		if err != nil {
			return Entry{}, err
		}
		c.fill(loadCtx, d, e, gen)
		return e, nil
	})

	select {
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, res.Err
		}
		return cloneEntry(res.Val.(Entry)), nil
	}
}

func (c *Cache) fill(ctx context.Context, d model.Descriptor, e Entry, gen uint64) {
	c.fillMu.RLock()
	defer c.fillMu.RUnlock()
	if c.gen.Load() != gen {
		c.staleFills.Add(1)
		c.metrics.CacheFill(false)
		return
	}
	c.Set(ctx, d, e, 0)
	c.fills.Add(1)
	c.metrics.CacheFill(true)
}

// Invalidate removes the entry for d here and on every instance reachable
// through the notifier.
func (c *Cache) Invalidate(ctx context.Context, d model.Descriptor) {
	c.evict(ctx, d, "local")
	if c.notifier != nil {
		if err := c.notifier.NotifyInvalidate(ctx, d); err != nil {
			c.logger.Warn("cache invalidation broadcast failed", "key", d.Key(), "err", err)
		}
	}
}

// InvalidateAll empties the cache here and on every instance reachable
// through the notifier.
func (c *Cache) InvalidateAll(ctx context.Context) {
	c.evictAll(ctx, "local")
	if c.notifier != nil {
		if err := c.notifier.NotifyInvalidateAll(ctx); err != nil {
			c.logger.Warn("cache flush broadcast failed", "err", err)
		}
	}
}

// Evict applies an invalidation received from another instance. It does not
// notify.
func (c *Cache) Evict(ctx context.Context, d model.Descriptor) {
	c.evict(ctx, d, "remote")
}

// EvictAll applies a flush received from another instance. It does not
// notify.
func (c *Cache) EvictAll(ctx context.Context) {
	c.evictAll(ctx, "remote")
}

func (c *Cache) evict(ctx context.Context, d model.Descriptor, origin string) {
	c.fillMu.Lock()
	defer c.fillMu.Unlock()
	c.gen.Add(1)

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.backend.Delete(opCtx, d.Key()); err != nil {
		c.fail("delete", d.Key(), err)
	}
	c.invalidations.Add(1)
	c.metrics.CacheInvalidated("key", origin)
}

func (c *Cache) evictAll(ctx context.Context, origin string) {
	c.fillMu.Lock()
	defer c.fillMu.Unlock()
	c.gen.Add(1)

	// A flush may need several round trips on a shared backend.
	opCtx, cancel := context.WithTimeout(ctx, 10*c.opTimeout)
	defer cancel()
	if err := c.backend.Flush(opCtx); err != nil {
		c.fail("flush", "*", err)
	}
	c.flushes.Add(1)
	c.metrics.CacheInvalidated("all", origin)
}

// Stats returns counters since start and the backend size where known.
func (c *Cache) Stats(ctx context.Context) Stats {
	size, err := c.backend.Len(ctx)
	if err != nil {
		c.fail("len", "*", err)
		size = -1
	}
	return Stats{
		Backend:       c.backend.Name(),
		Size:          size,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Errors:        c.errors.Load(),
		Fills:         c.fills.Load(),
		StaleFills:    c.staleFills.Load(),
		Invalidations: c.invalidations.Load(),
		Flushes:       c.flushes.Load(),
	}
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}

func (c *Cache) fail(op, key string, err error) {
	c.errors.Add(1)
	c.metrics.CacheError(op)
	c.logger.Warn("cache backend error", "op", op, "key", key, "backend", c.backend.Name(), "err", err)
}

func cloneEntry(e Entry) Entry {
	if e.Record == nil {
		return e
	}
	r := *e.Record
	r.Payload = model.Payload(merge.Clone(e.Record.Payload))
	e.Record = &r
	return e
}

// NoopBackend caches nothing. It backs CTXCONF_CACHE_BACKEND=none.
type NoopBackend struct{}

func (NoopBackend) Name() string { return "none" }

func (NoopBackend) Get(context.Context, string) (Entry, bool, error) { return Entry{}, false, nil }

func (NoopBackend) Set(context.Context, string, Entry, time.Duration) error { return nil }

func (NoopBackend) Delete(context.Context, string) error { return nil }

func (NoopBackend) Flush(context.Context) error { return nil }

func (NoopBackend) Len(context.Context) (int, error) { return 0, nil }

func (NoopBackend) Close() error { return nil }
