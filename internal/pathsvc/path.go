// Package pathsvc implements the pure path-manipulation operations
// applied before parameter resolution and storage fetch: normalizing
// the request path, extracting inline `_key=value` options, pulling
// out a derivative name, and applying configured prefix rewrites.
package pathsvc

import (
	"strconv"
	"strings"

	"github.com/erfianugrah/image-resizer/internal/config"
)

// Normalize ensures a leading slash, collapses repeated slashes, and
// strips a trailing slash except for the root path.
func Normalize(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var b strings.Builder
	lastWasSlash := false
	for _, r := range path {
		if r == '/' {
			if lastWasSlash {
				continue
			}
			lastWasSlash = true
		} else {
			lastWasSlash = false
		}
		b.WriteRune(r)
	}

	normalized := b.String()
	if len(normalized) > 1 && strings.HasSuffix(normalized, "/") {
		normalized = strings.TrimSuffix(normalized, "/")
	}

	return normalized
}

// ParseImagePath extracts inline options of the form `_key=value` from
// any path segment, returning the path with those segments removed and
// a map of the collected options.
func ParseImagePath(path string) (string, map[string]string) {
	segments := strings.Split(path, "/")
	options := map[string]string{}
	var cleaned []string

	for _, seg := range segments {
		if seg == "" {
			cleaned = append(cleaned, seg)
			continue
		}
		if strings.HasPrefix(seg, "_") {
			if key, value, ok := strings.Cut(seg[1:], "="); ok {
				options[key] = value
				continue
			}
		}
		cleaned = append(cleaned, seg)
	}

	return strings.Join(cleaned, "/"), options
}

// ExtractDerivative removes a derivative name segment if present among
// knownDerivatives, returning the cleaned path and the derivative name
// (empty if none matched).
func ExtractDerivative(path string, knownDerivatives []string) (string, string) {
	if len(knownDerivatives) == 0 {
		return path, ""
	}

	known := make(map[string]bool, len(knownDerivatives))
	for _, d := range knownDerivatives {
		known[d] = true
	}

	segments := strings.Split(path, "/")
	var cleaned []string
	derivative := ""

	for _, seg := range segments {
		if derivative == "" && known[seg] {
			derivative = seg
			continue
		}
		cleaned = append(cleaned, seg)
	}

	return strings.Join(cleaned, "/"), derivative
}

// ApplyTransformations applies configured prefix/removePrefix rules to
// path based on a match against its top-level segment.
func ApplyTransformations(path string, rules []config.PathTransformRule) string {
	if len(rules) == 0 {
		return path
	}

	trimmed := strings.TrimPrefix(path, "/")
	segments := strings.SplitN(trimmed, "/", 2)
	top := segments[0]

	for _, rule := range rules {
		if rule.Segment != top {
			continue
		}

		rest := ""
		if len(segments) > 1 {
			rest = segments[1]
		}

		if rule.RemovePrefix != "" {
			rest = strings.TrimPrefix(rest, rule.RemovePrefix)
		}
		if rule.Prefix != "" {
			rest = rule.Prefix + rest
		}

		return Normalize(rest)
	}

	return path
}

// InlineOptionsToQuery converts string-valued inline options (from
// ParseImagePath) into a best-effort typed map, matching the coercion
// a native parameter of the same name would have received.
func InlineOptionsToQuery(options map[string]string) map[string]any {
	out := make(map[string]any, len(options))
	for k, v := range options {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = n
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
			continue
		}
		out[k] = v
	}
	return out
}
