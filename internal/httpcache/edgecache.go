// Package httpcache applies response cache headers, the shouldBypass
// predicate set, and Cache-API-equivalent writes with
// stale-while-revalidate.
package httpcache

import (
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// Entry is one edge-cache record: the response bytes, their headers,
// and when they stop being fresh.
type Entry struct {
	Body      []byte
	Header    http.Header
	Status    int
	StoredAt  time.Time
	ExpiresAt time.Time
}

func (e Entry) fresh() bool {
	return time.Now().Before(e.ExpiresAt)
}

// EdgeCache is the Cache-API-equivalent the orchestrator writes
// through after header application. In a CDN edge runtime this would
// be the platform's `caches.default`; here it is an in-process bounded
// store so a local daemon gets the same stale-while-revalidate
// behavior without an external dependency.
type EdgeCache interface {
	Get(key string) (Entry, bool)
	Put(key string, entry Entry) error
}

// LRUEdgeCache bounds entries in memory with LRU eviction, the same
// bounded-cache shape clientdetect.Cache uses for resolved ClientInfo.
type LRUEdgeCache struct {
	mu  sync.Mutex
	lru *lru.Cache
}

func NewLRUEdgeCache(size int) (*LRUEdgeCache, error) {
	if size <= 0 {
		size = 2000
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &LRUEdgeCache{lru: c}, nil
}

func (c *LRUEdgeCache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(key)
	if !ok {
		return Entry{}, false
	}
	entry := v.(Entry)
	return entry, true
}

func (c *LRUEdgeCache) Put(key string, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, entry)
	return nil
}
