// Package cache implements the LRU folder-listing cache shared by the
// broker's listing paths. Entries are keyed by (account, bucket, prefix)
// and invalidated with prefix awareness: any mutation under a prefix
// removes the exact entry, the parent listing that contained it, and the
// whole cached subtree beneath it.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/r2browser/r2browser/internal/constants"
	"github.com/r2browser/r2browser/internal/models"
)

// Key identifies one cached listing. Prefix "" is the bucket root.
type Key struct {
	AccountID string
	Bucket    string
	Prefix    string
}

// Entry is a cached listing snapshot.
type Entry struct {
	Key               Key
	Objects           []models.Object
	CommonPrefixes    []string
	ContinuationToken string
	InsertedAt        time.Time
}

// Stats reports cache effectiveness since construction.
type Stats struct {
	Entries   int   `json:"entries"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

type cacheItem struct {
	entry   *Entry
	element *list.Element
}

// FolderCache is an LRU of listing results with TTL expiry.
// All operations are atomic with respect to a single call; a plain
// mutex is enough because every path is O(entries) at worst.
type FolderCache struct {
	mu         sync.Mutex
	items      map[Key]*cacheItem
	order      *list.List // front = MRU, back = LRU
	capacity   int
	ttl        time.Duration
	staleAfter time.Duration

	hits      int64
	misses    int64
	evictions int64
}

// New creates a cache with the default capacity, TTL and staleness
// threshold.
func New() *FolderCache {
	return NewWithConfig(constants.FolderCacheCapacity, constants.FolderCacheTTL, constants.FolderCacheStaleAfter)
}

// NewWithConfig creates a cache with explicit limits. Used by tests and
// hosts that tune the cache.
func NewWithConfig(capacity int, ttl, staleAfter time.Duration) *FolderCache {
	if capacity <= 0 {
		capacity = constants.FolderCacheCapacity
	}
	return &FolderCache{
		items:      make(map[Key]*cacheItem),
		order:      list.New(),
		capacity:   capacity,
		ttl:        ttl,
		staleAfter: staleAfter,
	}
}

// Get returns the cached entry for key and whether it was present and
// live. Expired entries are evicted and reported as misses. The second
// return reports staleness: a stale entry is still served, but callers
// may choose to refresh in the background.
func (c *FolderCache) Get(key Key) (*Entry, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false, false
	}

	age := time.Since(item.entry.InsertedAt)
	if age > c.ttl {
		c.removeLocked(key)
		c.evictions++
		c.misses++
		return nil, false, false
	}

	c.order.MoveToFront(item.element)
	c.hits++

	// Snapshot so callers cannot mutate cached slices.
	snapshot := &Entry{
		Key:               item.entry.Key,
		Objects:           append([]models.Object(nil), item.entry.Objects...),
		CommonPrefixes:    append([]string(nil), item.entry.CommonPrefixes...),
		ContinuationToken: item.entry.ContinuationToken,
		InsertedAt:        item.entry.InsertedAt,
	}
	return snapshot, true, age > c.staleAfter
}

// Put inserts or replaces the entry for key and moves it to MRU,
// evicting LRU entries beyond capacity.
func (c *FolderCache) Put(key Key, page models.ListingPage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &Entry{
		Key:               key,
		Objects:           append([]models.Object(nil), page.Objects...),
		CommonPrefixes:    append([]string(nil), page.CommonPrefixes...),
		ContinuationToken: page.ContinuationToken,
		InsertedAt:        time.Now(),
	}

	if item, ok := c.items[key]; ok {
		item.entry = entry
		c.order.MoveToFront(item.element)
		return
	}

	element := c.order.PushFront(key)
	c.items[key] = &cacheItem{entry: entry, element: element}

	for len(c.items) > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.removeLocked(back.Value.(Key))
		c.evictions++
	}
}

// InvalidateBucket removes every entry for the given bucket.
func (c *FolderCache) InvalidateBucket(accountID, bucket string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.items {
		if key.AccountID == accountID && key.Bucket == bucket {
			c.removeLocked(key)
		}
	}
}

// InvalidatePrefix removes the exact (bucket, prefix) entry, the parent
// listing that contained this folder, and every cached entry whose
// prefix lies beneath it. After this call no cached listing covers any
// key under prefix.
func (c *FolderCache) InvalidatePrefix(accountID, bucket, prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	exact := Key{AccountID: accountID, Bucket: bucket, Prefix: prefix}
	c.removeLocked(exact)

	parent := Key{AccountID: accountID, Bucket: bucket, Prefix: models.ParentPrefix(prefix)}
	c.removeLocked(parent)

	if prefix == "" {
		return
	}
	for key := range c.items {
		if key.AccountID == accountID && key.Bucket == bucket && strings.HasPrefix(key.Prefix, prefix) {
			c.removeLocked(key)
		}
	}
}

// Clear drops every entry.
func (c *FolderCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[Key]*cacheItem)
	c.order.Init()
}

// Statistics returns a snapshot of cache effectiveness.
func (c *FolderCache) Statistics() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:   len(c.items),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *FolderCache) removeLocked(key Key) {
	if item, ok := c.items[key]; ok {
		c.order.Remove(item.element)
		delete(c.items, key)
	}
}
