package clientdetect

import (
	"hash/fnv"
	"net/http"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"github.com/erfianugrah/image-resizer/internal/config"
)

var relevantHeaders = []string{
	"User-Agent", "Accept", "Save-Data", "DPR", "Viewport-Width", "Width",
	"Downlink", "RTT", "Sec-CH-UA-Mobile", "Sec-CH-DPR",
	"Sec-CH-Viewport-Width", "Sec-CH-Width", "Sec-CH-Prefers-Reduced-Data",
}

// Cache bounds resolved ClientInfo records in memory, keyed by a
// fingerprint of the request headers that feed detection, with LRU
// eviction to a configured size.
type Cache struct {
	lru *lru.Cache
}

func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = 1000
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

// Fingerprint hashes the subset of headers that detection consults, so
// two requests differing only in irrelevant headers share a cache entry.
func Fingerprint(r *http.Request) uint64 {
	names := make([]string, len(relevantHeaders))
	copy(names, relevantHeaders)
	sort.Strings(names)

	h := fnv.New64a()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(r.Header.Get(name)))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

func (c *Cache) Get(fingerprint uint64) (ClientInfo, bool) {
	v, ok := c.lru.Get(fingerprint)
	if !ok {
		return ClientInfo{}, false
	}
	info, ok := v.(ClientInfo)
	return info, ok
}

func (c *Cache) Put(fingerprint uint64, info ClientInfo) {
	c.lru.Add(fingerprint, info)
}

// Resolve returns the cached ClientInfo for r if present, otherwise
// runs detection and populates the cache under r's fingerprint.
func (c *Cache) Resolve(r *http.Request, cfg config.ClientDetectionConfig) ClientInfo {
	fp := Fingerprint(r)
	if info, ok := c.Get(fp); ok {
		return info
	}
	info := Detect(r, cfg)
	c.Put(fp, info)
	return info
}
