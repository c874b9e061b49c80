package variantcache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/erfianugrah/image-resizer/internal/apperr"
	"github.com/erfianugrah/image-resizer/internal/config"
	"github.com/erfianugrah/image-resizer/internal/paramresolve"
	"github.com/erfianugrah/image-resizer/internal/scheduler"
)

// Metadata is the per-entry metadata record.
type Metadata struct {
	URL              string         `json:"url"`
	Timestamp        time.Time      `json:"timestamp"`
	ContentType      string         `json:"contentType"`
	Size             int64          `json:"size"`
	TransformOptions map[string]any `json:"transformOptions"`
	Tags             []string       `json:"tags"`
	TTL              int            `json:"ttl"`
	Expiration       time.Time      `json:"expiration"`
	OriginalSize     int64          `json:"originalSize"`
}

type entryWire struct {
	Metadata Metadata `json:"metadata"`
	Body     []byte   `json:"body"`
}

// Stats is the cache's summary record.
type Stats struct {
	Count      int       `json:"count"`
	Size       int64     `json:"size"`
	HitRate    float64   `json:"hitRate"`
	AvgSize    int64     `json:"avgSize"`
	IndexSize  int       `json:"indexSize"`
	Optimized  bool      `json:"optimized"`
	LastPruned time.Time `json:"lastPruned"`
}

// Cache is the Transform Variant Cache: a KV-backed store of
// transformed bytes keyed by fingerprint, with tag and path indices
// and a maintenance sweep for expired entries.
type Cache struct {
	store     Store
	scheduler *scheduler.Scheduler
	cfg       config.VariantCacheConfig
	prefix    string
	optimized bool

	mu         sync.Mutex
	hits       int64
	misses     int64
	lastPruned time.Time
}

// statsWire is the persisted slice of Stats that survives restarts.
type statsWire struct {
	Hits       int64     `json:"hits"`
	Misses     int64     `json:"misses"`
	LastPruned time.Time `json:"lastPruned"`
}

func New(store Store, sched *scheduler.Scheduler, cfg config.VariantCacheConfig) *Cache {
	c := &Cache{
		store:     store,
		scheduler: sched,
		cfg:       cfg,
		prefix:    cfg.Prefix,
		optimized: cfg.OptimizedIndexing,
	}
	if raw, ok, err := store.Get(c.statsKey()); err == nil && ok {
		var w statsWire
		if json.Unmarshal(raw, &w) == nil {
			c.hits, c.misses, c.lastPruned = w.Hits, w.Misses, w.LastPruned
		}
	}
	return c
}

// OptionsToMap flattens TransformOptions into a plain map suitable for
// fingerprinting and metadata storage.
func OptionsToMap(options paramresolve.TransformOptions) map[string]any {
	m := map[string]any{}
	if options.Width != nil {
		m["width"] = options.Width
	}
	if options.Height != nil {
		m["height"] = options.Height
	}
	if options.Fit != "" {
		m["fit"] = options.Fit
	}
	if options.Format != "" {
		m["format"] = options.Format
	}
	if options.Quality != 0 {
		m["quality"] = options.Quality
	}
	if options.Gravity != "" {
		m["gravity"] = options.Gravity
	}
	if options.Focal != "" {
		m["focal"] = options.Focal
	}
	if options.Aspect != "" {
		m["aspect"] = options.Aspect
	}
	if options.Derivative != "" {
		m["derivative"] = options.Derivative
	}
	if options.Smart {
		m["smart"] = options.Smart
	}
	if len(options.Draw) > 0 {
		drawAny := make([]any, len(options.Draw))
		for i, d := range options.Draw {
			drawAny[i] = d
		}
		m["draw"] = drawAny
	}
	for k, v := range options.Extra {
		if !strings.HasPrefix(k, "__") {
			m[k] = v
		}
	}
	return m
}

func (c *Cache) fingerprint(normalizedPath string, options paramresolve.TransformOptions) string {
	return Fingerprint(normalizedPath, OptionsToMap(options))
}

// IsCached performs a metadata-only existence check.
func (c *Cache) IsCached(normalizedPath string, options paramresolve.TransformOptions) bool {
	if !c.cfg.Enabled {
		return false
	}
	_, ok, _ := c.store.Get(c.keyFor(c.fingerprint(normalizedPath, options)))
	return ok
}

// Get returns the cached body and metadata, recording a hit or miss.
func (c *Cache) Get(normalizedPath string, options paramresolve.TransformOptions) ([]byte, Metadata, bool) {
	if !c.cfg.Enabled || c.isDisallowed(normalizedPath) {
		return nil, Metadata{}, false
	}

	raw, ok, err := c.store.Get(c.keyFor(c.fingerprint(normalizedPath, options)))
	if err != nil || !ok {
		c.recordMiss()
		return nil, Metadata{}, false
	}

	var wire entryWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		c.recordMiss()
		return nil, Metadata{}, false
	}

	c.recordHit()
	return wire.Body, wire.Metadata, true
}

// Put writes a transformed variant. When ctx is non-nil and a
// scheduler is wired, index updates are scheduled as background work;
// otherwise they run inline before Put returns.
func (c *Cache) Put(ctx context.Context, normalizedPath string, body []byte, options paramresolve.TransformOptions, meta Metadata) error {
	if !c.cfg.Enabled || c.isDisallowed(normalizedPath) {
		return nil
	}
	if c.cfg.MaxSize > 0 && int64(len(body)) > c.cfg.MaxSize {
		return apperr.CacheWrite(errBodyTooLarge)
	}

	fp := c.fingerprint(normalizedPath, options)
	meta.URL = normalizedPath
	meta.Timestamp = time.Now()
	meta.TransformOptions = OptionsToMap(options)
	meta.Size = int64(len(body))
	if meta.TTL <= 0 {
		meta.TTL = c.cfg.DefaultTTLByContentType[meta.ContentType]
	}
	if meta.TTL > 0 {
		meta.Expiration = meta.Timestamp.Add(time.Duration(meta.TTL) * time.Second)
	}

	wire := entryWire{Metadata: meta, Body: body}
	raw, err := json.Marshal(wire)
	if err != nil {
		return apperr.CacheWrite(err)
	}

	ttl := time.Duration(meta.TTL) * time.Second
	if err := c.store.Set(c.keyFor(fp), raw, ttl); err != nil {
		return apperr.CacheWrite(err)
	}

	skipIndices := c.cfg.SkipIndicesForSmallFiles && c.cfg.SmallFileThreshold > 0 && int64(len(body)) < c.cfg.SmallFileThreshold
	if skipIndices {
		return nil
	}

	updateIndices := func(ctx context.Context) {
		for _, tag := range meta.Tags {
			_ = c.addToIndex("tag", tag, fp)
		}
		_ = c.addToIndex("path", normalizedPath, fp)
	}

	if ctx != nil && c.scheduler != nil {
		c.scheduler.Spawn(ctx, updateIndices)
		return nil
	}
	updateIndices(context.Background())
	return nil
}

// Delete removes one entry and its index references.
func (c *Cache) Delete(normalizedPath string, options paramresolve.TransformOptions) error {
	fp := c.fingerprint(normalizedPath, options)
	key := c.keyFor(fp)

	raw, ok, err := c.store.Get(key)
	if err != nil {
		return apperr.CacheRead(err)
	}
	if !ok {
		return nil
	}

	var wire entryWire
	if err := json.Unmarshal(raw, &wire); err == nil {
		for _, tag := range wire.Metadata.Tags {
			_ = c.removeFromIndex("tag", tag, fp)
		}
		_ = c.removeFromIndex("path", normalizedPath, fp)
	}

	return c.store.Delete(key)
}

// PurgeByTag deletes every entry tagged with tag, returning the count
// removed. The tag's index entry is removed before any primary entry
// is deleted, so a reader that still sees the tag always finds its
// entries. Purges larger than SmallPurgeThreshold scan the primary
// keyspace instead of trusting a large index read. When ctx is given,
// per-entry deletion is scheduled in the background.
func (c *Cache) PurgeByTag(ctx context.Context, tag string) (int, error) {
	members, err := c.membersOf("tag", tag)
	if err != nil {
		return 0, apperr.CacheRead(err)
	}

	keys := make([]string, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}

	if c.optimized {
		_ = c.store.Delete(c.tagIndexKey(tag))
		if manifest, err := c.loadKeySet(c.allTagsKey()); err == nil {
			delete(manifest, tag)
			_ = c.saveKeySet(c.allTagsKey(), manifest)
		}
	} else if doc, err := c.loadIndexDoc(c.monolithicIndexKey("tag")); err == nil {
		delete(doc, tag)
		_ = c.saveIndexDoc(c.monolithicIndexKey("tag"), doc)
	}

	large := c.cfg.SmallPurgeThreshold > 0 && len(keys) > c.cfg.SmallPurgeThreshold
	purge := func(context.Context) {
		if large {
			c.purgeTagByScan(tag)
			return
		}
		for _, fp := range keys {
			_ = c.store.Delete(c.keyFor(fp))
		}
	}

	if ctx != nil && c.scheduler != nil {
		c.scheduler.Spawn(ctx, purge)
	} else {
		purge(context.Background())
	}

	return len(keys), nil
}

// purgeTagByScan walks the primary keyspace and deletes entries whose
// metadata carries tag. It catches entries a stale or partial index
// read would miss, at the cost of a full scan.
func (c *Cache) purgeTagByScan(tag string) {
	var doomed []string
	_ = c.store.AscendKeys(c.prefix+":*", func(key string, value []byte) bool {
		if c.isIndexKey(key) {
			return true
		}
		var wire entryWire
		if err := json.Unmarshal(value, &wire); err != nil {
			return true
		}
		for _, t := range wire.Metadata.Tags {
			if t == tag {
				doomed = append(doomed, key)
				break
			}
		}
		return true
	})
	for _, key := range doomed {
		_ = c.store.Delete(key)
	}
}

// PurgeByPath deletes entries whose path matches globPattern, matched
// against the path index's keys (`*` matches any run of characters,
// `/` included).
func (c *Cache) PurgeByPath(ctx context.Context, globPattern string) (int, error) {
	re := globToPattern(globPattern)
	count := 0

	all, err := c.knownPaths()
	if err != nil {
		return 0, apperr.CacheRead(err)
	}

	matched := make([]string, 0)
	for path := range all {
		if re.MatchString(path) {
			matched = append(matched, path)
		}
	}

	for _, path := range matched {
		members, err := c.membersOf("path", path)
		if err != nil {
			continue
		}
		for fp := range members {
			if err := c.store.Delete(c.keyFor(fp)); err == nil {
				count++
			}
		}
		if c.optimized {
			_ = c.store.Delete(c.pathIndexKey(path))
		}
	}

	if c.optimized {
		manifest, err := c.loadKeySet(c.allPathsKey())
		if err == nil {
			for _, path := range matched {
				delete(manifest, path)
			}
			_ = c.saveKeySet(c.allPathsKey(), manifest)
		}
	} else {
		doc, err := c.loadIndexDoc(c.monolithicIndexKey("path"))
		if err == nil {
			for _, path := range matched {
				delete(doc, path)
			}
			_ = c.saveIndexDoc(c.monolithicIndexKey("path"), doc)
		}
	}

	return count, nil
}

// knownPaths returns every path currently referenced by the path
// index, regardless of indexing mode.
func (c *Cache) knownPaths() (map[string]struct{}, error) {
	if c.optimized {
		return c.loadKeySet(c.allPathsKey())
	}
	doc, err := c.loadIndexDoc(c.monolithicIndexKey("path"))
	if err != nil {
		return nil, err
	}
	paths := make(map[string]struct{}, len(doc))
	for path := range doc {
		paths[path] = struct{}{}
	}
	return paths, nil
}

// ListEntries returns up to limit primary entries starting after
// cursor (the full store key returned as the previous page's cursor),
// in key order.
func (c *Cache) ListEntries(limit int, cursor string) ([]Metadata, string, bool) {
	if limit <= 0 {
		limit = 100
	}

	var entries []Metadata
	var lastKey string
	started := cursor == ""

	_ = c.store.AscendKeys(c.prefix+":*", func(key string, value []byte) bool {
		if c.isIndexKey(key) {
			return true
		}
		if !started {
			if key == cursor {
				started = true
			}
			return true
		}
		var wire entryWire
		if err := json.Unmarshal(value, &wire); err == nil {
			entries = append(entries, wire.Metadata)
			lastKey = key
		}
		return len(entries) < limit
	})

	complete := len(entries) < limit
	return entries, lastKey, complete
}

// GetStats returns the cache's summary record.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	entries, _, _ := c.ListEntries(1<<30, "")
	var size int64
	for _, e := range entries {
		size += e.Size
	}
	avg := int64(0)
	if len(entries) > 0 {
		avg = size / int64(len(entries))
	}

	indexSize := 0
	_ = c.store.AscendKeys(c.prefix+":*", func(key string, _ []byte) bool {
		if c.isIndexKey(key) {
			indexSize++
		}
		return true
	})

	return Stats{
		Count:      len(entries),
		Size:       size,
		HitRate:    hitRate,
		AvgSize:    avg,
		IndexSize:  indexSize,
		Optimized:  c.optimized,
		LastPruned: c.lastPruned,
	}
}

// PerformMaintenance prunes entries past their expiration, skipping
// the sweep if the last one ran within cfg.MaintenanceInterval.
func (c *Cache) PerformMaintenance(ctx context.Context, maxItems int) int {
	c.mu.Lock()
	if c.cfg.MaintenanceInterval > 0 && time.Since(c.lastPruned) < c.cfg.MaintenanceInterval {
		c.mu.Unlock()
		return 0
	}
	c.mu.Unlock()

	pruned := 0
	now := time.Now()

	_ = c.store.AscendKeys(c.prefix+":*", func(key string, value []byte) bool {
		if pruned >= maxItems && maxItems > 0 {
			return false
		}
		if c.isIndexKey(key) {
			return true
		}
		var wire entryWire
		if err := json.Unmarshal(value, &wire); err != nil {
			return true
		}
		if wire.Metadata.Expiration.IsZero() || wire.Metadata.Expiration.After(now) {
			return true
		}
		fp := strings.TrimPrefix(key, c.prefix+":")
		for _, tag := range wire.Metadata.Tags {
			_ = c.removeFromIndex("tag", tag, fp)
		}
		_ = c.removeFromIndex("path", wire.Metadata.URL, fp)
		if err := c.store.Delete(key); err == nil {
			pruned++
		}
		return true
	})

	c.mu.Lock()
	c.lastPruned = now
	hits, misses := c.hits, c.misses
	c.mu.Unlock()

	raw, err := json.Marshal(statsWire{Hits: hits, Misses: misses, LastPruned: now})
	if err == nil {
		_ = c.store.Set(c.statsKey(), raw, 0)
	}

	return pruned
}

// isIndexKey reports whether key addresses an index, manifest, or
// stats document rather than a primary entry.
func (c *Cache) isIndexKey(key string) bool {
	rest := strings.TrimPrefix(key, c.prefix+":")
	switch rest {
	case "stats", "tag-index", "path-index", "all-tags", "all-paths":
		return true
	}
	return strings.HasPrefix(rest, "tag:") || strings.HasPrefix(rest, "path:")
}

func (c *Cache) isDisallowed(path string) bool {
	for _, p := range c.cfg.DisallowedPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}
