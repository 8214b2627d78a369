package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL             = 5 * time.Minute
	DefaultCleanupInterval = time.Minute
)

type Options struct {
	// DefaultTTL applies when Set/GetOrSet receive a non-positive ttl.
	DefaultTTL time.Duration
	// CleanupInterval is the janitor period used by Start.
	CleanupInterval time.Duration
	// MaxEntries bounds the map; 0 means unbounded. Oldest keys are evicted first.
	MaxEntries int
	// Now overrides the clock (tests).
	Now func() time.Time
}

type MetricsHooks struct {
	OnHit    func(labels map[string]string)
	OnMiss   func(labels map[string]string)
	OnExpire func(labels map[string]string)
	OnStore  func(labels map[string]string)
	OnEvict  func(labels map[string]string)
}

// Producer computes a value on a cache miss.
type Producer func() (interface{}, error)

type entry struct {
	value    interface{}
	storedAt time.Time
	ttl      time.Duration
}

// expired reports whether the entry is invisible at now. An entry is still
// visible when exactly ttl has elapsed.
func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

// Cache is a concurrency-safe key/value store with per-entry TTL, lazy expiry on
// read and an optional background sweep.
type Cache struct {
	mu      sync.RWMutex
	items   map[string]*entry
	order   []string
	opts    Options
	metrics MetricsHooks
	sf      singleflight.Group
	// gen counts invalidations (Delete, DeletePrefix, Clear). GetOrSet does
	// not store a value whose producer overlapped one.
	gen uint64

	hits   atomic.Uint64
	misses atomic.Uint64

	runMu   sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// EntryStats describes one stored entry.
type EntryStats struct {
	Key     string        `json:"key"`
	Age     time.Duration `json:"age"`
	TTL     time.Duration `json:"ttl"`
	Expired bool          `json:"expired"`
}

// Stats is a point-in-time view of the cache for observability.
type Stats struct {
	Size     int          `json:"size"`
	LiveKeys []string     `json:"live_keys"`
	Entries  []EntryStats `json:"entries"`
	Hits     uint64       `json:"hits"`
	Misses   uint64       `json:"misses"`
}

func New(opts Options, hooks MetricsHooks) *Cache {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		items:   make(map[string]*entry),
		order:   make([]string, 0, 128),
		opts:    opts,
		metrics: hooks,
	}
}

// Set stores val under key, overwriting any previous value.
func (c *Cache) Set(key string, val interface{}, ttl time.Duration) {
	c.store(key, val, ttl, nil)
}

// store writes the entry. With a non-nil gen the write is skipped when an
// invalidation happened after gen was read.
func (c *Cache) store(key string, val interface{}, ttl time.Duration, gen *uint64) bool {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	e := &entry{value: val, storedAt: c.opts.Now(), ttl: ttl}

	c.mu.Lock()
	if gen != nil && *gen != c.gen {
		c.mu.Unlock()
		return false
	}
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = e
	evicted := c.evictIfNeeded()
	c.mu.Unlock()

	fire(c.metrics.OnStore, key)
	for _, victim := range evicted {
		fire(c.metrics.OnEvict, victim)
	}
	return true
}

func (c *Cache) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Get returns the value for key when present and fresh. An expired entry is
// deleted as a side effect and reported absent.
func (c *Cache) Get(key string) (interface{}, bool) {
	now := c.opts.Now()

	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		fire(c.metrics.OnMiss, key)
		return nil, false
	}

	if e.expired(now) {
		c.mu.Lock()
		// Re-check under the write lock: a concurrent Set may have replaced it.
		if cur, still := c.items[key]; still && cur.expired(now) {
			delete(c.items, key)
			c.removeFromOrder(key)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		fire(c.metrics.OnExpire, key)
		fire(c.metrics.OnMiss, key)
		return nil, false
	}

	c.hits.Add(1)
	fire(c.metrics.OnHit, key)
	return e.value, true
}

// GetOrSet returns the cached value for key, or runs producer, stores its
// result with ttl and returns it. Producer errors are returned and not cached.
// Concurrent misses on the same key share one producer call while it is in
// flight; misses that do not overlap each run the producer. When the cache is
// invalidated while producer runs, the result is returned but not stored.
func (c *Cache) GetOrSet(key string, producer Producer, ttl time.Duration) (interface{}, error) {
	if val, ok := c.Get(key); ok {
		return val, nil
	}

	val, err, _ := c.sf.Do(key, func() (interface{}, error) {
		gen := c.generation()
		v, err := producer()
		if err != nil {
			return nil, err
		}
		c.store(key, v, ttl, &gen)
		return v, nil
	})
	return val, err
}

// Fetch is a typed wrapper around GetOrSet.
func Fetch[T any](c *Cache, key string, ttl time.Duration, producer func() (T, error)) (T, error) {
	val, err := c.GetOrSet(key, func() (interface{}, error) {
		return producer()
	}, ttl)
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := val.(T)
	if !ok {
		// A different type was stored under this key; recompute and overwrite.
		fresh, err := producer()
		if err != nil {
			return fresh, err
		}
		c.Set(key, fresh, ttl)
		return fresh, nil
	}
	return typed, nil
}

// Delete removes key and reports whether it existed.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if _, ok := c.items[key]; !ok {
		return false
	}
	delete(c.items, key)
	c.removeFromOrder(key)
	return true
}

// DeletePrefix removes every key starting with prefix and returns the count.
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	removed := 0
	for key := range c.items {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.items, key)
			c.removeFromOrder(key)
			removed++
		}
	}
	return removed
}

// Cleanup removes every expired entry and returns how many were removed.
func (c *Cache) Cleanup() int {
	now := c.opts.Now()
	var expired []string

	c.mu.Lock()
	for key, e := range c.items {
		if e.expired(now) {
			delete(c.items, key)
			expired = append(expired, key)
		}
	}
	if len(expired) > 0 {
		kept := c.order[:0]
		for _, key := range c.order {
			if _, ok := c.items[key]; ok {
				kept = append(kept, key)
			}
		}
		c.order = kept
	}
	c.mu.Unlock()

	for _, key := range expired {
		fire(c.metrics.OnExpire, key)
	}
	return len(expired)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.gen++
	c.items = make(map[string]*entry)
	c.order = c.order[:0]
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns size, live keys and per-entry age/ttl.
func (c *Cache) Stats() Stats {
	now := c.opts.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		Size:     len(c.items),
		LiveKeys: make([]string, 0, len(c.items)),
		Entries:  make([]EntryStats, 0, len(c.items)),
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
	for key, e := range c.items {
		exp := e.expired(now)
		if !exp {
			stats.LiveKeys = append(stats.LiveKeys, key)
		}
		stats.Entries = append(stats.Entries, EntryStats{
			Key:     key,
			Age:     now.Sub(e.storedAt),
			TTL:     e.ttl,
			Expired: exp,
		})
	}
	sort.Strings(stats.LiveKeys)
	sort.Slice(stats.Entries, func(i, j int) bool { return stats.Entries[i].Key < stats.Entries[j].Key })
	return stats
}

// Start launches the background janitor. Calling Start twice is a no-op.
func (c *Cache) Start() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go c.janitor(c.stopCh, c.opts.CleanupInterval)
}

// Stop halts the janitor and waits for it to exit. Safe to call repeatedly.
func (c *Cache) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.runMu.Unlock()
	c.wg.Wait()
}

func (c *Cache) janitor(stopCh <-chan struct{}, interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Cleanup()
		case <-stopCh:
			return
		}
	}
}

func (c *Cache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// evictIfNeeded must be called with c.mu held.
func (c *Cache) evictIfNeeded() []string {
	if c.opts.MaxEntries <= 0 || len(c.items) <= c.opts.MaxEntries {
		return nil
	}
	var evicted []string
	excess := len(c.items) - c.opts.MaxEntries
	for excess > 0 && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
		evicted = append(evicted, victim)
		excess--
	}
	return evicted
}

func fire(hook func(map[string]string), key string) {
	if hook != nil {
		hook(map[string]string{"key": key})
	}
}
