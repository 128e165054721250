package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/clearance/models"
)

// entry holds a cached response with its creation timestamp.
type entry struct {
	response  *models.FetchResponse
	createdAt time.Time
}

// Cache is a simple in-memory cache for fetch responses.
// It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	now        func() time.Time
}

// New creates a new Cache with the given maximum number of entries.
// A background goroutine runs every 5 minutes to evict expired entries
// (older than 1 hour).
func New(maxEntries int) *Cache {
	c := newCache(maxEntries)
	go c.cleanupLoop()
	return c
}

func newCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Key generates a cache key from the method, URL and any rendering
// options that change the cached body.
func Key(method, url string, variant ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte("|"))
	h.Write([]byte(url))
	for _, v := range variant {
		h.Write([]byte("|"))
		h.Write([]byte(v))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get retrieves a cached response if it exists and is younger than maxAge.
// maxAge is in milliseconds. If maxAge <= 0, no cache lookup is performed.
// The returned response is a copy the caller may modify.
func (c *Cache) Get(key string, maxAgeMs int) (*models.FetchResponse, bool) {
	if maxAgeMs <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	maxAge := time.Duration(maxAgeMs) * time.Millisecond
	if c.now().Sub(e.createdAt) > maxAge {
		return nil, false
	}

	resp := *e.response
	return &resp, true
}

// Set stores a copy of resp. If the cache is at capacity, a random entry
// is evicted to make room.
func (c *Cache) Set(key string, resp *models.FetchResponse) {
	stored := *resp

	c.mu.Lock()
	defer c.mu.Unlock()

	// Map iteration order is random.
	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}

	c.store[key] = &entry{
		response:  &stored,
		createdAt: c.now(),
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Purge drops every entry. Called when the session cookies change, since
// a cached body may reflect the old clearance.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = make(map[string]*entry)
}

// cleanupLoop evicts entries older than 1 hour every 5 minutes.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		c.evictOlderThan(c.now().Add(-1 * time.Hour))
	}
}

func (c *Cache) evictOlderThan(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
}
