package replicate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/aqi-predict-service/internal/domain"
	"github.com/couchcryptid/aqi-predict-service/internal/observability"
)

// ImageCache stores generated images by key.
type ImageCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
}

// CachedGenerator wraps an ImageGenerator with a cache. Concurrent requests
// for the same prompt share one upstream call.
type CachedGenerator struct {
	inner   domain.ImageGenerator
	cache   ImageCache
	group   singleflight.Group
	timeout time.Duration
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewCachedGenerator creates a cache decorator around a generator. The shared
// upstream call outlives any single caller's cancellation and is bounded by
// timeout instead; zero leaves it unbounded.
func NewCachedGenerator(inner domain.ImageGenerator, cache ImageCache, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *CachedGenerator {
	return &CachedGenerator{
		inner:   inner,
		cache:   cache,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
	}
}

func (c *CachedGenerator) Generate(ctx context.Context, prompt string, spec domain.ImageSpec) ([]byte, error) {
	key := CacheKey(prompt, spec)

	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		// A broken cache only costs a regeneration.
		c.logger.Warn("image cache read failed", "error", err)
	}
	if ok {
		c.metrics.ImageCache.WithLabelValues("hit").Inc()
		return data, nil
	}
	c.metrics.ImageCache.WithLabelValues("miss").Inc()

	ch := c.group.DoChan(key, func() (any, error) {
		return c.generate(context.WithoutCancel(ctx), key, prompt, spec)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// generate runs the upstream call shared by every waiter on key.
func (c *CachedGenerator) generate(ctx context.Context, key, prompt string, spec domain.ImageSpec) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	data, err := c.inner.Generate(ctx, prompt, spec)
	if err != nil {
		return nil, err
	}
	// Only cache real images so a transient failure can be retried.
	if len(data) > 0 {
		if perr := c.cache.Put(ctx, key, data); perr != nil {
			c.logger.Warn("image cache write failed", "error", perr)
		}
	}
	return data, nil
}

// CacheKey derives a stable key from the prompt and generation parameters.
func CacheKey(prompt string, spec domain.ImageSpec) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%d|%g", prompt, spec.Size, spec.Steps, spec.Guidance))
	return "aqi-hint:" + hex.EncodeToString(sum[:])
}

// MemoryCache is a thread-safe in-process LRU cache whose entries expire
// after a fixed TTL.
type MemoryCache struct {
	maxEntries int
	ttl        time.Duration
	clock      clockwork.Clock

	mu      sync.Mutex
	entries map[string]*entry
	head    *entry // most recently used
	tail    *entry // least recently used
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
	prev      *entry
	next      *entry
}

// NewMemoryCache creates an LRU cache. A zero ttl keeps entries until evicted.
func NewMemoryCache(maxEntries int, ttl time.Duration, clock clockwork.Clock) *MemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      clock,
		entries:    make(map[string]*entry),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.ttl > 0 && !c.clock.Now().Before(e.expiresAt) {
		c.remove(e)
		delete(c.entries, key)
		return nil, false, nil
	}
	c.moveToFront(e)
	return e.value, true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.clock.Now().Add(c.ttl)
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.moveToFront(e)
		return nil
	}

	e := &entry{key: key, value: value, expiresAt: expiresAt}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
	return nil
}

// Len returns the number of cached entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *MemoryCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *MemoryCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *MemoryCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
