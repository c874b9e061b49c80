package variantcache

import (
	"encoding/json"
	"fmt"
)

// keyFor returns the primary-store key for a fingerprint.
func (c *Cache) keyFor(fingerprint string) string {
	return fmt.Sprintf("%s:%s", c.prefix, fingerprint)
}

func (c *Cache) statsKey() string {
	return c.prefix + ":stats"
}

func (c *Cache) tagIndexKey(tag string) string {
	if c.optimized {
		return fmt.Sprintf("%s:tag:%s", c.prefix, tag)
	}
	return c.prefix + ":tag-index"
}

func (c *Cache) pathIndexKey(path string) string {
	if c.optimized {
		return fmt.Sprintf("%s:path:%s", c.prefix, path)
	}
	return c.prefix + ":path-index"
}

func (c *Cache) allTagsKey() string { return c.prefix + ":all-tags" }
func (c *Cache) allPathsKey() string { return c.prefix + ":all-paths" }

// addToIndex adds entryKey to member's persisted set of entry keys,
// stored either in the monolithic document (standard mode,
// set[tagOrPath][]key) or in a single per-tag/per-path document
// (optimized mode, plain []key).
func (c *Cache) addToIndex(indexName string, member, entryKey string) error {
	if c.optimized {
		key := c.tagOrPathKey(indexName, member)
		set, err := c.loadKeySet(key)
		if err != nil {
			return err
		}
		set[entryKey] = struct{}{}
		if err := c.saveKeySet(key, set); err != nil {
			return err
		}
		return c.addToManifest(indexName, member)
	}

	doc, err := c.loadIndexDoc(c.monolithicIndexKey(indexName))
	if err != nil {
		return err
	}
	set := doc[member]
	if set == nil {
		set = map[string]struct{}{}
	}
	set[entryKey] = struct{}{}
	doc[member] = set
	return c.saveIndexDoc(c.monolithicIndexKey(indexName), doc)
}

func (c *Cache) removeFromIndex(indexName string, member, entryKey string) error {
	if c.optimized {
		key := c.tagOrPathKey(indexName, member)
		set, err := c.loadKeySet(key)
		if err != nil {
			return err
		}
		delete(set, entryKey)
		if len(set) == 0 {
			return c.store.Delete(key)
		}
		return c.saveKeySet(key, set)
	}

	doc, err := c.loadIndexDoc(c.monolithicIndexKey(indexName))
	if err != nil {
		return err
	}
	set := doc[member]
	if set != nil {
		delete(set, entryKey)
		if len(set) == 0 {
			delete(doc, member)
		} else {
			doc[member] = set
		}
	}
	return c.saveIndexDoc(c.monolithicIndexKey(indexName), doc)
}

func (c *Cache) membersOf(indexName string, member string) (map[string]struct{}, error) {
	if c.optimized {
		return c.loadKeySet(c.tagOrPathKey(indexName, member))
	}
	doc, err := c.loadIndexDoc(c.monolithicIndexKey(indexName))
	if err != nil {
		return nil, err
	}
	return doc[member], nil
}

func (c *Cache) tagOrPathKey(indexName, member string) string {
	if indexName == "tag" {
		return c.tagIndexKey(member)
	}
	return c.pathIndexKey(member)
}

func (c *Cache) monolithicIndexKey(indexName string) string {
	if indexName == "tag" {
		return c.prefix + ":tag-index"
	}
	return c.prefix + ":path-index"
}

func (c *Cache) addToManifest(indexName, member string) error {
	key := c.allTagsKey()
	if indexName == "path" {
		key = c.allPathsKey()
	}
	set, err := c.loadKeySet(key)
	if err != nil {
		return err
	}
	if _, ok := set[member]; ok {
		return nil
	}
	set[member] = struct{}{}
	return c.saveKeySet(key, set)
}

func (c *Cache) loadKeySet(key string) (map[string]struct{}, error) {
	raw, ok, err := c.store.Get(key)
	if err != nil {
		return nil, err
	}
	set := map[string]struct{}{}
	if !ok {
		return set, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	for _, k := range list {
		set[k] = struct{}{}
	}
	return set, nil
}

func (c *Cache) saveKeySet(key string, set map[string]struct{}) error {
	list := make([]string, 0, len(set))
	for k := range set {
		list = append(list, k)
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return c.store.Set(key, raw, 0)
}

// indexDoc is the standard-mode monolithic document: member (tag or
// path) -> set of entry keys referencing it.
type indexDoc map[string]map[string]struct{}

func (c *Cache) loadIndexDoc(key string) (indexDoc, error) {
	raw, ok, err := c.store.Get(key)
	if err != nil {
		return nil, err
	}
	doc := indexDoc{}
	if !ok {
		return doc, nil
	}

	var wire map[string][]string
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	for member, keys := range wire {
		set := map[string]struct{}{}
		for _, k := range keys {
			set[k] = struct{}{}
		}
		doc[member] = set
	}
	return doc, nil
}

func (c *Cache) saveIndexDoc(key string, doc indexDoc) error {
	wire := make(map[string][]string, len(doc))
	for member, set := range doc {
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		wire[member] = keys
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return err
	}
	return c.store.Set(key, raw, 0)
}
