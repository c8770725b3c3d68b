// Package client is the consumer side of the realtime contract: a query cache
// whose entries are marked stale by change events, a WebSocket subscriber that
// feeds it, and the REST calls that refill it.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"lagerkoll/internal/realtime"
)

const (
	DefaultExpiration      = 10 * time.Minute
	DefaultCleanupInterval = 30 * time.Minute
)

// Fetcher loads the current value of one query.
type Fetcher func(ctx context.Context) (any, error)

type entry struct {
	value any
	stale bool
}

// QueryCache holds one result per cache key. Invalidate only marks entries
// stale; the next Get or a Refetch reloads them through the key's fetcher.
type QueryCache struct {
	cache  *gocache.Cache
	logger *slog.Logger

	mu       sync.RWMutex
	fetchers map[realtime.CacheKey]Fetcher
	// generation counts invalidations per key so a fetch that races an
	// event is stored stale rather than fresh.
	generation map[realtime.CacheKey]uint64
	onStale    []func(keys []realtime.CacheKey)
}

type CacheOption func(*QueryCache)

func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *QueryCache) { c.logger = logger }
}

// WithExpiration sets how long a fetched result lives even without events.
func WithExpiration(ttl time.Duration) CacheOption {
	return func(c *QueryCache) { c.cache = gocache.New(ttl, DefaultCleanupInterval) }
}

func NewQueryCache(opts ...CacheOption) *QueryCache {
	c := &QueryCache{
		cache:      gocache.New(DefaultExpiration, DefaultCleanupInterval),
		logger:     slog.Default(),
		fetchers:   make(map[realtime.CacheKey]Fetcher),
		generation: make(map[realtime.CacheKey]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register sets the fetcher for key, replacing any previous one.
func (c *QueryCache) Register(key realtime.CacheKey, fetch Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchers[key] = fetch
}

// OnStale adds a callback run after every Invalidate with the keys that were
// marked. Callbacks run on the invalidating goroutine and must not block.
func (c *QueryCache) OnStale(fn func(keys []realtime.CacheKey)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStale = append(c.onStale, fn)
}

// Get returns the cached value for key, fetching it when missing or stale.
func (c *QueryCache) Get(ctx context.Context, key realtime.CacheKey) (any, error) {
	if e, ok := c.lookup(key); ok && !e.stale {
		return e.value, nil
	}
	return c.fetch(ctx, key)
}

// Peek returns the cached value without fetching, and whether it is fresh.
func (c *QueryCache) Peek(key realtime.CacheKey) (value any, fresh bool) {
	e, ok := c.lookup(key)
	if !ok {
		return nil, false
	}
	return e.value, !e.stale
}

// IsStale reports whether key holds a value that an event has invalidated.
func (c *QueryCache) IsStale(key realtime.CacheKey) bool {
	e, ok := c.lookup(key)
	return ok && e.stale
}

// Invalidate marks every cached key in keys stale. Keys never fetched are
// ignored; they will be fetched fresh on first use anyway.
func (c *QueryCache) Invalidate(keys ...realtime.CacheKey) {
	// the generation bump and the marking happen under one lock so a
	// concurrent fetch either sees the new generation or is marked here
	c.mu.Lock()
	marked := make([]realtime.CacheKey, 0, len(keys))
	for _, key := range keys {
		c.generation[key]++
		e, ok := c.lookup(key)
		if !ok || e.stale {
			continue
		}
		e.stale = true
		c.cache.Set(string(key), e, gocache.DefaultExpiration)
		marked = append(marked, key)
	}
	c.mu.Unlock()

	if len(marked) == 0 {
		return
	}
	c.logger.Debug("cache keys marked stale", "keys", marked)

	c.mu.RLock()
	callbacks := append([]func([]realtime.CacheKey){}, c.onStale...)
	c.mu.RUnlock()
	for _, fn := range callbacks {
		fn(marked)
	}
}

// Refetch reloads every stale key concurrently and returns the first error.
func (c *QueryCache) Refetch(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for key, item := range c.cache.Items() {
		if e, ok := item.Object.(entry); !ok || !e.stale {
			continue
		}
		g.Go(func() error {
			_, err := c.fetch(ctx, realtime.CacheKey(key))
			return err
		})
	}
	return g.Wait()
}

// Flush drops every cached value.
func (c *QueryCache) Flush() {
	c.cache.Flush()
}

func (c *QueryCache) lookup(key realtime.CacheKey) (entry, bool) {
	v, ok := c.cache.Get(string(key))
	if !ok {
		return entry{}, false
	}
	e, ok := v.(entry)
	if !ok {
		c.logger.Error("wrong type in query cache", "key", key)
		return entry{}, false
	}
	return e, true
}

func (c *QueryCache) fetch(ctx context.Context, key realtime.CacheKey) (any, error) {
	c.mu.RLock()
	fetch, ok := c.fetchers[key]
	gen := c.generation[key]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no fetcher registered for %s", key)
	}
	value, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	c.mu.Lock()
	stale := c.generation[key] != gen
	c.cache.Set(string(key), entry{value: value, stale: stale}, gocache.DefaultExpiration)
	c.mu.Unlock()
	return value, nil
}
