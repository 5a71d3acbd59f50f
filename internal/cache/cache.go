// Package cache implements the Model Cache: a size-bounded, TTL-bounded,
// LRU-evicting store of model artifacts, plus model-version indexing
// helpers layered on top of the generic key/value contract.
//
// Grounded on original_source/fog_node/model_cache.py. The Python
// original persists the live cache by pickling language objects; this
// implementation re-architects persistence as the explicit schema
// described in spec.md section 6 (CacheDump) instead.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/haroune-bellatreche/fog-compute/internal/model"
)

// DefaultTTL is applied to entries that do not specify one explicitly.
const DefaultTTL = 24 * time.Hour

// DefaultCleanupInterval is how often the background sweep removes
// expired entries.
const DefaultCleanupInterval = 300 * time.Second

// Entry is one cached artifact plus its bookkeeping.
type Entry struct {
	Key          string
	Data         []byte
	SizeBytes    int
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int
	TTL          time.Duration // zero means "no expiry"
	Metadata     map[string]any
}

func (e Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries       int
	SizeBytes     int64
	MaxSizeBytes  int64
	Hits          int64
	Misses        int64
	Evictions     int64
	TotalRequests int64
}

func (s Stats) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.TotalRequests)
}

// Cache is the Model Cache component. Every exported method is
// logically atomic: a single mutex guards all state so the invariants
// (sum of sizes <= max, LRU list is a permutation of the key set) hold
// at every quiescent point.
type Cache struct {
	log *zap.Logger

	mu           sync.Mutex
	maxSizeBytes int64
	defaultTTL   time.Duration
	entries      map[string]*list.Element // key -> node in lru (front = MRU)
	lru          *list.List               // list.Element.Value is *Entry
	currentSize  int64
	hits         int64
	misses       int64
	evictions    int64
	totalReqs    int64

	persistencePath string

	stopCleanup context.CancelFunc
	wg          sync.WaitGroup
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithPersistence enables dump-on-stop / load-on-start against path.
func WithPersistence(path string) Option {
	return func(c *Cache) { c.persistencePath = path }
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.defaultTTL = ttl }
}

// New constructs a Cache bounded at maxSizeBytes.
func New(log *zap.Logger, maxSizeBytes int64, opts ...Option) *Cache {
	c := &Cache{
		log:          log,
		maxSizeBytes: maxSizeBytes,
		defaultTTL:   DefaultTTL,
		entries:      make(map[string]*list.Element),
		lru:          list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start loads a persisted dump (if configured and present) and begins
// the background expiry sweep. Load failure is non-fatal: the cache
// simply starts empty.
func (c *Cache) Start(ctx context.Context) {
	if c.persistencePath != "" {
		if err := c.loadFromDisk(); err != nil {
			c.log.Warn("cache persistence load failed, starting empty",
				zap.String("path", c.persistencePath), zap.Error(err))
		} else {
			c.CleanupExpired()
		}
	}

	cleanupCtx, cancel := context.WithCancel(ctx)
	c.stopCleanup = cancel
	c.wg.Add(1)
	go c.cleanupLoop(cleanupCtx)
}

// Stop cancels the background sweep and, if persistence is configured,
// dumps the cache to disk.
func (c *Cache) Stop() {
	if c.stopCleanup != nil {
		c.stopCleanup()
	}
	c.wg.Wait()

	if c.persistencePath != "" {
		if err := c.saveToDisk(); err != nil {
			c.log.Warn("cache persistence save failed", zap.Error(err))
		}
	}
}

func (c *Cache) cleanupLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.log.Error("cache cleanup loop panicked, restarting on next tick", zap.Any("recovered", r))
					}
				}()
				n := c.CleanupExpired()
				if n > 0 {
					c.log.Info("cleaned up expired cache entries", zap.Int("count", n))
				}
			}()
		}
	}
}

// Put serializes data to establish its size, evicts under the same key
// if present, evicts LRU entries until there is room, and inserts at the
// MRU position. Returns ErrTooLarge if data alone exceeds the bound, or
// ErrSerialization if it cannot be sized.
func (c *Cache) Put(key string, data any, ttl time.Duration, metadata map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSerialization, err)
	}
	size := int64(len(payload))
	if size > c.maxSizeBytes {
		return model.ErrTooLarge
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeElementLocked(el)
	}

	for c.currentSize+size > c.maxSizeBytes && c.lru.Len() > 0 {
		back := c.lru.Back()
		c.removeElementLocked(back)
		c.evictions++
	}

	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()
	entry := &Entry{
		Key:          key,
		Data:         payload,
		SizeBytes:    int(size),
		CreatedAt:    now,
		LastAccessed: now,
		TTL:          ttl,
		Metadata:     metadata,
	}
	el := c.lru.PushFront(entry)
	c.entries[key] = el
	c.currentSize += size
	return nil
}

// Get returns the raw JSON payload stored under key, or (nil, false) on
// miss or TTL expiry.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalReqs++

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := el.Value.(*Entry)
	now := time.Now()
	if entry.expired(now) {
		c.removeElementLocked(el)
		c.misses++
		return nil, false
	}

	entry.LastAccessed = now
	entry.AccessCount++
	c.lru.MoveToFront(el)
	c.hits++
	return entry.Data, true
}

// Contains reports whether key is present and not TTL-expired, removing
// it first if it has expired.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	entry := el.Value.(*Entry)
	if entry.expired(time.Now()) {
		c.removeElementLocked(el)
		return false
	}
	return true
}

// Remove deletes key unconditionally, returning whether it was present.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeElementLocked(el)
	return true
}

// Clear empties the cache without affecting counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru = list.New()
	c.currentSize = 0
}

// CleanupExpired scans every entry and removes those whose TTL has
// elapsed, returning the number removed.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expired []*list.Element
	for _, el := range c.entries {
		if el.Value.(*Entry).expired(now) {
			expired = append(expired, el)
		}
	}
	for _, el := range expired {
		c.removeElementLocked(el)
	}
	return len(expired)
}

// removeElementLocked deletes el from both the index and the LRU list.
// Caller must hold c.mu.
func (c *Cache) removeElementLocked(el *list.Element) {
	entry := el.Value.(*Entry)
	delete(c.entries, entry.Key)
	c.lru.Remove(el)
	c.currentSize -= int64(entry.SizeBytes)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:       len(c.entries),
		SizeBytes:     c.currentSize,
		MaxSizeBytes:  c.maxSizeBytes,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		TotalRequests: c.totalReqs,
	}
}

// keysWithPrefixLocked returns keys currently present (regardless of TTL
// state) starting with prefix. Caller must hold c.mu.
func (c *Cache) keysWithPrefixLocked(prefix string) []string {
	var keys []string
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

