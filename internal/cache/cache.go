// Package cache implements the generic, TTL- and size-bounded cache of
// spec §4.F with pluggable eviction policies, grounded in the teacher's
// preference for mutex-guarded in-memory maps (internal/db's single-DB
// pattern) generalized to a reusable generic type, enriched with
// golang.org/x/sync/singleflight to dedupe concurrent refills the way the
// rest of the pack's caching examples do, and an optional Prefetcher that
// learns key-access order to warm the next likely key in the background.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// EvictionPolicy selects which entry a full cache evicts to make room for a
// new one.
type EvictionPolicy string

const (
	EvictLRU    EvictionPolicy = "lru"
	EvictLFU    EvictionPolicy = "lfu"
	EvictFIFO   EvictionPolicy = "fifo"
	EvictRandom EvictionPolicy = "random"
)

type entry[V any] struct {
	value       V
	expiresAt   time.Time
	insertedAt  time.Time
	lastAccess  time.Time
	accessCount int64
	listElem    *list.Element // order of insertion/access, policy-dependent
}

// Stats is a point-in-time snapshot of a cache's hit/miss behavior.
type Stats struct {
	Hits               uint64
	Misses             uint64
	Size               int
	AvgAgeSeconds      float64
	EstimatedBytes     int64
}

// Cache is a generic in-memory cache bounded by both a per-entry TTL and a
// total entry count, evicting under either pressure according to Policy.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	items    map[K]*entry[V]
	order    *list.List // back = next to evict under LRU/FIFO
	ttl      time.Duration
	maxSize  int
	policy   EvictionPolicy
	hits     uint64
	misses   uint64
	sizeHint func(V) int64

	sf singleflight.Group

	stopEvictor chan struct{}

	prefetch     *Prefetcher[K]
	prefetchLoad func(context.Context, K) (V, error)
}

// Option configures a Cache at construction time.
type Option[K comparable, V any] func(*Cache[K, V])

// WithSizeHint supplies a per-value byte-size estimator used by Stats'
// EstimatedBytes field.
func WithSizeHint[K comparable, V any](f func(V) int64) Option[K, V] {
	return func(c *Cache[K, V]) { c.sizeHint = f }
}

// WithPredictivePrefetch tracks key-access order with a Prefetcher and,
// after every Get, warms the key most often observed to follow it via load,
// so a caller's next access lands on a hit instead of a cold miss.
func WithPredictivePrefetch[K comparable, V any](load func(context.Context, K) (V, error)) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.prefetch = NewPrefetcher[K]()
		c.prefetchLoad = load
	}
}

// New creates a cache with the given TTL, maximum entry count and eviction
// policy, and starts its background evictor.
func New[K comparable, V any](ttl time.Duration, maxSize int, policy EvictionPolicy, opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		items:       make(map[K]*entry[V]),
		order:       list.New(),
		ttl:         ttl,
		maxSize:     maxSize,
		policy:      policy,
		stopEvictor: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.runEvictor()
	return c
}

func (c *Cache[K, V]) runEvictor() {
	interval := c.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-c.stopEvictor:
			return
		}
	}
}

// Stop halts the background evictor goroutine.
func (c *Cache[K, V]) Stop() {
	close(c.stopEvictor)
}

func (c *Cache[K, V]) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			c.removeLocked(k, e)
		}
	}
}

// Get returns the cached value for key if present and unexpired. If
// predictive prefetch is enabled, it also records this access and, in the
// background, warms the key most often observed to follow it.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()

	e, ok := c.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		if ok {
			c.removeLocked(key, e)
		}
		c.misses++
		c.mu.Unlock()
		c.notePrefetch(key)
		var zero V
		return zero, false
	}

	c.hits++
	e.lastAccess = time.Now()
	e.accessCount++
	if c.policy == EvictLRU {
		c.order.MoveToFront(e.listElem)
	}
	value := e.value
	c.mu.Unlock()

	c.notePrefetch(key)
	return value, true
}

// peekFresh reports whether key is cached and unexpired, without touching
// hit/miss counters or triggering another prefetch observation.
func (c *Cache[K, V]) peekFresh(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	return ok && !time.Now().After(e.expiresAt)
}

// notePrefetch records key with the Prefetcher and, if it predicts a
// followup key not already cached, warms it via prefetchLoad in the
// background.
func (c *Cache[K, V]) notePrefetch(key K) {
	if c.prefetch == nil {
		return
	}
	c.prefetch.Observe(key)
	predicted, ok := c.prefetch.Predict(key)
	if !ok {
		return
	}
	if c.peekFresh(predicted) {
		return
	}
	go func() {
		v, err := c.prefetchLoad(context.Background(), predicted)
		if err != nil {
			return
		}
		c.Set(predicted, v)
	}()
}

// Set inserts or overwrites key's cached value, evicting under the
// configured policy if the cache is at capacity.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

func (c *Cache[K, V]) setLocked(key K, value V) {
	now := time.Now()
	if existing, ok := c.items[key]; ok {
		existing.value = value
		existing.expiresAt = now.Add(c.ttl)
		existing.lastAccess = now
		if c.policy == EvictLRU {
			c.order.MoveToFront(existing.listElem)
		}
		return
	}

	if c.maxSize > 0 && len(c.items) >= c.maxSize {
		c.evictOneLocked()
	}

	e := &entry[V]{
		value:      value,
		expiresAt:  now.Add(c.ttl),
		insertedAt: now,
		lastAccess: now,
	}
	e.listElem = c.order.PushFront(key)
	c.items[key] = e
}

func (c *Cache[K, V]) evictOneLocked() {
	var victim K
	found := false

	switch c.policy {
	case EvictLRU, EvictFIFO:
		if back := c.order.Back(); back != nil {
			victim = back.Value.(K)
			found = true
		}
	case EvictLFU:
		var minCount int64 = -1
		for k, e := range c.items {
			if !found || e.accessCount < minCount {
				victim = k
				minCount = e.accessCount
				found = true
			}
		}
	case EvictRandom:
		for k := range c.items {
			victim = k
			found = true
			break
		}
	}

	if found {
		if e, ok := c.items[victim]; ok {
			c.removeLocked(victim, e)
		}
	}
}

func (c *Cache[K, V]) removeLocked(key K, e *entry[V]) {
	delete(c.items, key)
	if e.listElem != nil {
		c.order.Remove(e.listElem)
	}
}

// Delete removes key from the cache, if present.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.removeLocked(key, e)
	}
}

// GetOrLoad returns the cached value for key, or calls loader exactly once
// across all concurrent callers sharing the same key (via singleflight)
// when absent or expired, caching and returning its result.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, loader func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	sfKey := fmt.Sprint(key)
	v, err, _ := c.sf.Do(sfKey, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		loaded, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, loaded)
		return loaded, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Stats reports the cache's current hit/miss counters and size.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var totalAge float64
	var estimatedBytes int64
	now := time.Now()
	for _, e := range c.items {
		totalAge += now.Sub(e.insertedAt).Seconds()
		if c.sizeHint != nil {
			estimatedBytes += c.sizeHint(e.value)
		}
	}

	avgAge := 0.0
	if len(c.items) > 0 {
		avgAge = totalAge / float64(len(c.items))
	}

	return Stats{
		Hits:           c.hits,
		Misses:         c.misses,
		Size:           len(c.items),
		AvgAgeSeconds:  avgAge,
		EstimatedBytes: estimatedBytes,
	}
}

// Len reports the current entry count.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
