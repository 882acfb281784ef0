// internal/cache/cache.go
package cache

import (
	"container/list"
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Cache stores raw API response bodies.
//
// Implementations should provide efficient retrieval and eviction strategies.
type Cache interface {
	// Get retrieves a cached body by key.
	Get(key string) ([]byte, bool)

	// Set stores a body with the specified TTL, replacing an existing entry.
	Set(key string, body []byte, ttl time.Duration) error

	// Delete removes a cached body by key.
	// Should not error if the key doesn't exist.
	Delete(key string) error

	// Clear removes all cached bodies.
	Clear() error

	// Close stops background goroutines.
	Close()
}

// entryOverhead approximates per-entry bookkeeping in the size budget
const entryOverhead = 256

type cacheEntry struct {
	Body      []byte
	ExpiresAt time.Time
	Key       string
}

func (e *cacheEntry) size() int64 {
	return int64(len(e.Body)+len(e.Key)) + entryOverhead
}

// MemoryCache implements in-memory response caching with LRU eviction
type MemoryCache struct {
	store   map[string]*list.Element
	lruList *list.List
	mu      sync.Mutex
	maxSize int64
	size    int64
	ctx     context.Context
	cancel  context.CancelFunc
	hits    uint64
	misses  uint64
	now     func() time.Time
}

// NewMemoryCache creates a new in-memory cache with LRU eviction
func NewMemoryCache(maxSizeBytes int64) *MemoryCache {
	if maxSizeBytes <= 0 {
		maxSizeBytes = 16 * 1024 * 1024
	}

	ctx, cancel := context.WithCancel(context.Background())

	cache := &MemoryCache{
		store:   make(map[string]*list.Element),
		lruList: list.New(),
		maxSize: maxSizeBytes,
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}

	go cache.cleanupExpired()

	return cache
}

// Get retrieves a cached body and marks it most recently used
func (mc *MemoryCache) Get(key string) ([]byte, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	element, exists := mc.store[key]
	if !exists {
		mc.misses++
		return nil, false
	}

	entry := element.Value.(*cacheEntry)
	if mc.now().After(entry.ExpiresAt) {
		mc.misses++
		mc.remove(element)
		return nil, false
	}

	mc.lruList.MoveToFront(element)
	mc.hits++

	log.Debug().Str("key", key).Msg("Cache hit")
	return entry.Body, true
}

// Set stores a body with TTL
func (mc *MemoryCache) Set(key string, body []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	entry := &cacheEntry{Body: body, ExpiresAt: mc.now().Add(ttl), Key: key}

	if element, exists := mc.store[key]; exists {
		mc.size -= element.Value.(*cacheEntry).size()
		element.Value = entry
		mc.lruList.MoveToFront(element)
		mc.size += entry.size()
		return nil
	}

	for mc.size+entry.size() > mc.maxSize && mc.lruList.Len() > 0 {
		mc.evictLRU()
	}

	mc.store[key] = mc.lruList.PushFront(entry)
	mc.size += entry.size()

	log.Debug().
		Str("key", key).
		Dur("ttl", ttl).
		Int("size_bytes", len(body)).
		Msg("Cached response")

	return nil
}

// Delete removes a cached body
func (mc *MemoryCache) Delete(key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if element, exists := mc.store[key]; exists {
		mc.remove(element)
	}
	return nil
}

// Clear removes all cached bodies
func (mc *MemoryCache) Clear() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.store = make(map[string]*list.Element)
	mc.lruList = list.New()
	mc.size = 0
	mc.hits = 0
	mc.misses = 0
	return nil
}

// Close stops the background cleanup goroutine
func (mc *MemoryCache) Close() {
	mc.cancel()
}

// remove must be called with the lock held
func (mc *MemoryCache) remove(element *list.Element) {
	entry := element.Value.(*cacheEntry)
	mc.lruList.Remove(element)
	delete(mc.store, entry.Key)
	mc.size -= entry.size()
}

// evictLRU removes the least recently used entry (must be called with lock held)
func (mc *MemoryCache) evictLRU() {
	element := mc.lruList.Back()
	if element == nil {
		return
	}
	log.Debug().Str("key", element.Value.(*cacheEntry).Key).Msg("Evicted from cache (LRU)")
	mc.remove(element)
}

// cleanupExpired periodically removes expired entries
func (mc *MemoryCache) cleanupExpired() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.mu.Lock()
			now := mc.now()
			var next *list.Element
			for element := mc.lruList.Front(); element != nil; element = next {
				next = element.Next()
				if now.After(element.Value.(*cacheEntry).ExpiresAt) {
					mc.remove(element)
				}
			}
			mc.mu.Unlock()
		case <-mc.ctx.Done():
			return
		}
	}
}

// Stats reports cache usage
type Stats struct {
	Entries   int     `json:"entries"`
	SizeBytes int64   `json:"size_bytes"`
	MaxSize   int64   `json:"max_size"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
}

// Stats returns cache statistics including hit rate
func (mc *MemoryCache) Stats() Stats {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	hitRate := 0.0
	if total := mc.hits + mc.misses; total > 0 {
		hitRate = float64(mc.hits) / float64(total) * 100
	}

	return Stats{
		Entries:   mc.lruList.Len(),
		SizeBytes: mc.size,
		MaxSize:   mc.maxSize,
		Hits:      mc.hits,
		Misses:    mc.misses,
		HitRate:   hitRate,
	}
}

// Key builds a cache key from an endpoint and its sorted query parameters,
// ignoring the API key
func Key(endpoint string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "key" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(endpoint)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(params[k], ","))
	}
	return b.String()
}
