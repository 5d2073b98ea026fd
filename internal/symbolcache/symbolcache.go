// Package symbolcache holds the scan scheduler's single shared cache of
// fetched bars and derived indicators, keyed by (instrument, interval). It
// generalizes the exchange-symbol Redis cache pattern into a coalescing,
// freshness-bounded, bounded-size in-memory cache: exactly one fetch runs
// per key at a time, entries expire on a per-interval TTL, and the least
// recently used fresh entry is evicted once the cache is full.
package symbolcache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/marketwatch/scanscheduler/internal/models"
)

// Key identifies one cache entry.
type Key struct {
	Instrument models.Instrument
	Interval   models.Interval
}

// String renders a stable single-flight/map key.
func (k Key) String() string {
	return fmt.Sprintf("%s|%s", k.Instrument, k.Interval)
}

// FetchFunc produces a fresh SymbolData for key, honoring ctx cancellation.
type FetchFunc func(ctx context.Context, key Key) (models.SymbolData, error)

// TTLPolicy maps an interval to how long a fetched entry stays fresh.
type TTLPolicy struct {
	Intraday time.Duration
	Daily    time.Duration
}

// DefaultTTLPolicy matches spec.md §3: 30 minutes intraday, 24 hours daily.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{Intraday: 30 * time.Minute, Daily: 24 * time.Hour}
}

func (p TTLPolicy) ttlFor(iv models.Interval) time.Duration {
	if iv.IsIntraday() {
		return p.Intraday
	}
	return p.Daily
}

// Clock is the minimal time source this cache needs.
type Clock interface {
	Now() time.Time
}

type entry struct {
	data models.SymbolData
	elem *list.Element // position in the LRU list; nil while in flight
}

// Cache is a single-flight, TTL-bounded, LRU-evicting cache of SymbolData.
type Cache struct {
	clock    Clock
	ttl      TTLPolicy
	capacity int
	log      *logrus.Logger

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front = most recently used

	group singleflight.Group

	hits, misses, evictions int64
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithCapacity overrides the default bound on fresh-but-unused entries.
func WithCapacity(n int) Option {
	return func(c *Cache) { c.capacity = n }
}

// WithTTLPolicy overrides the default freshness policy.
func WithTTLPolicy(p TTLPolicy) Option {
	return func(c *Cache) { c.ttl = p }
}

// WithLogger overrides the default logger.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// New builds a Cache bound to clock, with a default capacity of 2048 entries
// (spec.md §4.2) and DefaultTTLPolicy.
func New(clock Clock, opts ...Option) *Cache {
	c := &Cache{
		clock:    clock,
		ttl:      DefaultTTLPolicy(),
		capacity: 2048,
		log:      logrus.StandardLogger(),
		entries:  make(map[string]*entry),
		lru:      list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrFetch returns a fresh SymbolData for key. Concurrent callers for the
// same key observe exactly one underlying fetch; each waits for its outcome
// or for ctx's deadline, whichever comes first. If ctx expires first, this
// call returns context.DeadlineExceeded/context.Canceled but the in-flight
// fetch keeps running and its result is still stored on success.
func (c *Cache) GetOrFetch(ctx context.Context, key Key, fetch FetchFunc) (models.SymbolData, error) {
	if data, ok := c.lookupFresh(key); ok {
		return data, nil
	}

	keyStr := key.String()
	resultCh := c.group.DoChan(keyStr, func() (interface{}, error) {
		data, err := fetch(context.WithoutCancel(ctx), key)
		if err != nil {
			return models.SymbolData{}, err
		}
		c.store(key, data)
		return data, nil
	})

	select {
	case res := <-resultCh:
		if res.Err != nil {
			return models.SymbolData{}, res.Err
		}
		return res.Val.(models.SymbolData), nil
	case <-ctx.Done():
		return models.SymbolData{}, ctx.Err()
	}
}

func (c *Cache) lookupFresh(key Key) (models.SymbolData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok {
		c.misses++
		return models.SymbolData{}, false
	}
	if !e.data.Fresh(c.clock.Now()) {
		c.misses++
		return models.SymbolData{}, false
	}
	if e.elem != nil {
		c.lru.MoveToFront(e.elem)
	}
	c.hits++
	return e.data, true
}

func (c *Cache) store(key Key, data models.SymbolData) {
	now := c.clock.Now()
	data.FetchedAt = now
	data.ValidUntil = now.Add(c.ttl.ttlFor(key.Interval))

	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := key.String()
	e, exists := c.entries[keyStr]
	if !exists {
		e = &entry{}
		c.entries[keyStr] = e
	}
	e.data = data
	if e.elem == nil {
		e.elem = c.lru.PushFront(keyStr)
	} else {
		c.lru.MoveToFront(e.elem)
	}

	c.evictIfNeeded()
}

// evictIfNeeded drops least-recently-used fresh entries until the cache is
// back within capacity. In-flight fetches have no LRU element yet (store has
// not been called) and are implicitly pinned.
func (c *Cache) evictIfNeeded() {
	for len(c.entries) > c.capacity {
		back := c.lru.Back()
		if back == nil {
			return
		}
		keyStr := back.Value.(string)
		c.lru.Remove(back)
		delete(c.entries, keyStr)
		c.evictions++
	}
}

// Invalidate removes a cached entry. A concurrent in-flight fetch for the
// same key is unaffected and will still populate the cache when it completes.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := key.String()
	e, ok := c.entries[keyStr]
	if !ok {
		return
	}
	if e.elem != nil {
		c.lru.Remove(e.elem)
	}
	delete(c.entries, keyStr)
}

// Stats is a point-in-time snapshot of cache performance counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// Stats returns current cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}
