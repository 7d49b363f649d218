// Package cache provides the result cache used by the search engine:
// a bounded LRU with per-entry TTL and single-flight computation per key.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

const (
	// DefaultCapacity is the default number of cached entries.
	DefaultCapacity = 1000

	// DefaultTTL matches the expiry used for cached search results.
	DefaultTTL = time.Hour
)

// Outcome reports how GetOrCompute produced its value.
type Outcome int

const (
	// OutcomeMiss means this caller ran the computation.
	OutcomeMiss Outcome = iota
	// OutcomeHit means the value came from the cache.
	OutcomeHit
	// OutcomeShared means the value came from another caller's in-flight computation.
	OutcomeShared
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeShared:
		return "shared"
	default:
		return "miss"
	}
}

// Entry is a stored value with its bookkeeping.
type Entry[V any] struct {
	Fingerprint string
	Value       V
	CreatedAt   time.Time
	TTL         time.Duration
	Size        int
}

func (e Entry[V]) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) >= e.TTL
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	Bytes     int64   `json:"bytes"`
	Evictions int64   `json:"evictions"`
	Expired   int64   `json:"expired"`
	Shared    int64   `json:"shared"`
	HitRate   float64 `json:"hit_rate"`
}

// Options configures a Cache.
type Options[V any] struct {
	// Capacity is the maximum number of entries. Zero or less disables the cache.
	Capacity int

	// DefaultTTL applies to Put calls with ttl <= 0.
	DefaultTTL time.Duration

	// Sizer estimates the memory footprint of a value. Optional.
	Sizer func(V) int

	// FlightTimeout bounds a shared computation. Zero means unbounded.
	FlightTimeout time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Cache is a concurrency-safe LRU cache with TTL expiry and
// per-key single-flight computation.
type Cache[V any] struct {
	lru    *lru.Cache[string, Entry[V]]
	flight singleflight.Group
	sizer  func(V) int
	now    func() time.Time

	flightTimeout time.Duration

	defaultTTL atomic.Int64
	capacity   atomic.Int64

	hits      atomic.Int64
	misses    atomic.Int64
	bytes     atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
	shared    atomic.Int64
}

// New creates a cache. A non-positive capacity returns a CacheUnavailable
// error so callers can bypass caching.
func New[V any](opts Options[V]) (*Cache[V], error) {
	if opts.Capacity <= 0 {
		return nil, kberrors.New(kberrors.ErrCodeCacheUnavailable, "cache disabled: capacity must be positive", nil)
	}

	c := &Cache[V]{
		sizer:         opts.Sizer,
		now:           opts.Now,
		flightTimeout: opts.FlightTimeout,
	}
	if c.now == nil {
		c.now = time.Now
	}
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.defaultTTL.Store(int64(ttl))
	c.capacity.Store(int64(opts.Capacity))

	l, err := lru.NewWithEvict[string, Entry[V]](opts.Capacity, func(_ string, e Entry[V]) {
		c.bytes.Add(-int64(e.Size))
	})
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeCacheUnavailable, "create lru", err)
	}
	c.lru = l
	return c, nil
}

// Get returns the value for key. Expired entries are removed and count as misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return v, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	if e.expired(c.now()) {
		c.lru.Remove(key)
		c.expired.Add(1)
		return zero, false
	}
	return e.Value, true
}

// Put stores value under key. A ttl <= 0 uses the default TTL.
func (c *Cache[V]) Put(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Duration(c.defaultTTL.Load())
	}
	size := 0
	if c.sizer != nil {
		size = c.sizer(value)
	}

	// Replacing a key does not fire the eviction callback.
	if old, ok := c.lru.Peek(key); ok {
		c.bytes.Add(-int64(old.Size))
	}
	c.bytes.Add(int64(size))

	if evicted := c.lru.Add(key, Entry[V]{
		Fingerprint: key,
		Value:       value,
		CreatedAt:   c.now(),
		TTL:         ttl,
		Size:        size,
	}); evicted {
		c.evictions.Add(1)
	}
}

// GetOrCompute returns the cached value for key, or runs compute exactly once
// across concurrent callers sharing the key. compute reports whether its
// result may be stored; unstored results are still handed to every waiter.
//
// compute runs detached from the starting caller's cancellation, bounded by
// FlightTimeout, so one caller giving up never fails the others. Each caller
// still returns as soon as its own ctx is done.
func (c *Cache[V]) GetOrCompute(
	ctx context.Context,
	key string,
	compute func(ctx context.Context) (V, bool, error),
) (V, Outcome, error) {
	var zero V
	if v, ok := c.Get(key); ok {
		return v, OutcomeHit, nil
	}

	leader := false
	ch := c.flight.DoChan(key, func() (any, error) {
		leader = true
		// A flight that finished between Get and DoChan may have stored it.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		fctx := context.WithoutCancel(ctx)
		if c.flightTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, c.flightTimeout)
			defer cancel()
		}
		v, store, err := compute(fctx)
		if err != nil {
			return nil, err
		}
		if store {
			c.Put(key, v, 0)
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, OutcomeMiss, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, OutcomeMiss, res.Err
		}
		outcome := OutcomeMiss
		if res.Shared && !leader {
			outcome = OutcomeShared
			c.shared.Add(1)
		}
		v, _ := res.Val.(V)
		return v, outcome, nil
	}
}

// Clear removes all entries. Counters other than size are kept.
func (c *Cache[V]) Clear() {
	c.lru.Purge()
	c.bytes.Store(0)
}

// Resize changes the capacity, evicting least recently used entries if needed.
func (c *Cache[V]) Resize(capacity int) {
	if capacity <= 0 {
		return
	}
	if evicted := c.lru.Resize(capacity); evicted > 0 {
		c.evictions.Add(int64(evicted))
	}
	c.capacity.Store(int64(capacity))
}

// SetDefaultTTL changes the TTL applied to subsequent Put calls.
func (c *Cache[V]) SetDefaultTTL(ttl time.Duration) {
	if ttl > 0 {
		c.defaultTTL.Store(int64(ttl))
	}
}

// Len returns the number of entries, including expired ones not yet removed.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Stats returns the current counters.
func (c *Cache[V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := Stats{
		Hits:      hits,
		Misses:    misses,
		Size:      c.lru.Len(),
		Capacity:  int(c.capacity.Load()),
		Bytes:     c.bytes.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
		Shared:    c.shared.Load(),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
