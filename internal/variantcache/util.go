package variantcache

import (
	"errors"
	"regexp"
	"strings"
)

// errBodyTooLarge is returned by Put when a variant body exceeds the
// configured MaxSize.
var errBodyTooLarge = errors.New("variantcache: body exceeds configured max size")

// globToPattern compiles a `*`-wildcard glob (e.g.
// "/images/*/thumb") into a regexp suitable for matching full paths
// purged via PurgeByPath. `*` matches any run of characters within or
// across segments; everything else is matched literally.
func globToPattern(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	expr := "^" + strings.Join(parts, ".*") + "$"
	re, err := regexp.Compile(expr)
	if err != nil {
		return regexp.MustCompile("^$")
	}
	return re
}
