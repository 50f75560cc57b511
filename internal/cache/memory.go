package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/mcpgw/internal/config"
	"github.com/vyrodovalexey/mcpgw/internal/observability"
)

// cacheTracerName is the OpenTelemetry tracer name for cache operations.
const cacheTracerName = "mcpgw/cache"

// memoryCache is an in-memory cache bounded by entry count. Entries
// are evicted in insertion order when the cache is full and the
// evict_oldest policy is active.
type memoryCache struct {
	logger      observability.Logger
	maxEntries  int
	rejectFull  bool
	sweepEvery  time.Duration

	mu        sync.Mutex
	items     map[string]*list.Element
	insertion *list.List

	hits      int64
	misses    int64
	evictions int64

	stopCh    chan struct{}
	closeOnce sync.Once
}

// memoryEntry is an entry in the memory cache.
type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// newMemoryCache creates a new in-memory cache.
func newMemoryCache(cfg *config.CacheConfig, logger observability.Logger) *memoryCache {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1000
	}

	sweepEvery := cfg.SweepInterval.Duration()
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}

	c := &memoryCache{
		logger:     logger,
		maxEntries: maxEntries,
		rejectFull: cfg.FullPolicy == config.CachePolicyReject,
		sweepEvery: sweepEvery,
		items:      make(map[string]*list.Element),
		insertion:  list.New(),
		stopCh:     make(chan struct{}),
	}

	go c.sweepLoop()

	logger.Info("memory cache initialized",
		observability.Int("maxEntries", maxEntries),
		observability.String("fullPolicy", cfg.FullPolicy),
		observability.Duration("sweepInterval", sweepEvery))

	return c
}

// Get retrieves a value from the cache.
func (c *memoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	_, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Get",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", "memory"),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		getCacheMetrics().operationDuration.WithLabelValues(
			"memory", "get",
		).Observe(time.Since(start).Seconds())
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		atomic.AddInt64(&c.misses, 1)
		getCacheMetrics().missesTotal.WithLabelValues("memory").Inc()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	}

	entry := elem.Value.(*memoryEntry)
	if entry.expired(time.Now()) {
		c.removeElement(elem)
		atomic.AddInt64(&c.misses, 1)
		getCacheMetrics().missesTotal.WithLabelValues("memory").Inc()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	}

	atomic.AddInt64(&c.hits, 1)
	getCacheMetrics().hitsTotal.WithLabelValues("memory").Inc()

	span.SetAttributes(
		attribute.Bool("cache.hit", true),
		attribute.Int("cache.value_size", len(entry.value)),
	)

	return entry.value, nil
}

// Set stores a value in the cache. Entries without a positive TTL are
// not stored.
func (c *memoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Set",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", "memory"),
			attribute.String("cache.key", key),
			attribute.Int("cache.value_size", len(value)),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		getCacheMetrics().operationDuration.WithLabelValues(
			"memory", "set",
		).Observe(time.Since(start).Seconds())
	}()

	if ttl <= 0 {
		return nil
	}

	entry := &memoryEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Refreshing an existing key keeps its insertion position.
	if elem, exists := c.items[key]; exists {
		elem.Value = entry
		return nil
	}

	if c.insertion.Len() >= c.maxEntries {
		// Reclaiming an expired entry beats evicting a live one.
		if !c.sweepLocked(time.Now()) {
			if c.rejectFull {
				span.SetAttributes(attribute.Bool("cache.rejected", true))
				return ErrCacheFull
			}
			c.evictOldest()
		}
	}

	elem := c.insertion.PushFront(entry)
	c.items[key] = elem

	getCacheMetrics().sizeGauge.WithLabelValues("memory").Set(float64(c.insertion.Len()))

	c.logger.Debug("cache set",
		observability.String("key", key),
		observability.Duration("ttl", ttl),
		observability.Int("size", c.insertion.Len()))

	return nil
}

// Delete removes a value from the cache.
func (c *memoryCache) Delete(ctx context.Context, key string) error {
	_, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Delete",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", "memory"),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}

	return nil
}

// Exists checks if a live entry exists for the key.
func (c *memoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Exists",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", "memory"),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		return false, nil
	}

	entry := elem.Value.(*memoryEntry)
	if entry.expired(time.Now()) {
		c.removeElement(elem)
		return false, nil
	}

	return true, nil
}

// Close stops the sweep goroutine and drops all entries.
func (c *memoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)

		c.mu.Lock()
		defer c.mu.Unlock()

		c.items = make(map[string]*list.Element)
		c.insertion.Init()

		c.logger.Info("memory cache closed")
	})

	return nil
}

// Stats returns cache statistics.
func (c *memoryCache) Stats() Stats {
	c.mu.Lock()
	size := int64(c.insertion.Len())
	c.mu.Unlock()

	return Stats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
		Size:      size,
	}
}

// evictOldest removes the least-recently-inserted entry.
// Must be called with lock held.
func (c *memoryCache) evictOldest() {
	elem := c.insertion.Back()
	if elem == nil {
		return
	}
	c.removeElement(elem)
	atomic.AddInt64(&c.evictions, 1)
	getCacheMetrics().evictionsTotal.WithLabelValues("memory").Inc()
}

// removeElement removes an element from the cache.
// Must be called with lock held.
func (c *memoryCache) removeElement(elem *list.Element) {
	c.insertion.Remove(elem)
	entry := elem.Value.(*memoryEntry)
	delete(c.items, entry.key)
}

// sweepLoop periodically reclaims expired entries.
func (c *memoryCache) sweepLoop() {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.sweepLocked(time.Now())
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

// sweepLocked removes all expired entries and reports whether any
// were removed. Must be called with lock held.
func (c *memoryCache) sweepLocked(now time.Time) bool {
	var toRemove []*list.Element

	for elem := c.insertion.Back(); elem != nil; elem = elem.Prev() {
		if elem.Value.(*memoryEntry).expired(now) {
			toRemove = append(toRemove, elem)
		}
	}

	for _, elem := range toRemove {
		c.removeElement(elem)
	}

	if len(toRemove) > 0 {
		getCacheMetrics().sizeGauge.WithLabelValues("memory").Set(float64(c.insertion.Len()))
		c.logger.Debug("cache sweep completed",
			observability.Int("removed", len(toRemove)))
	}

	return len(toRemove) > 0
}
