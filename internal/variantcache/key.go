// Package variantcache persists transformed image variants in an
// embedded KV store, keyed by a content-addressed fingerprint of the
// request URL and resolved options, with tag and path indices for
// bulk invalidation.
package variantcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint derives the primary-store key from the normalized path
// and the canonicalized option set: two option maps differing only in
// key order or internal (double-underscore-prefixed) fields produce
// identical fingerprints.
func Fingerprint(normalizedPath string, options map[string]any) string {
	canonical := canonicalize(options)
	h := sha256.New()
	h.Write([]byte(normalizedPath))
	h.Write([]byte{0})
	h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalize renders options as a deterministic string: keys sorted
// recursively, internal (`__`-prefixed) fields dropped.
func canonicalize(options map[string]any) string {
	var b strings.Builder
	writeCanonical(&b, options)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			if strings.HasPrefix(k, "__") {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(b, "%q:", k)
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []map[string]any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		fmt.Fprintf(b, "%v", val)
	}
}
