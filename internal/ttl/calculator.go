// Package ttl selects a cache TTL for a response using path-pattern
// matching, derivative overrides, content-type bonuses, and immutable
// content detection.
package ttl

import (
	"regexp"
	"slices"

	"github.com/erfianugrah/image-resizer/internal/config"
)

// StatusClass buckets an HTTP status for TTL lookup.
type StatusClass int

const (
	StatusOK StatusClass = iota
	StatusRedirect
	StatusClientError
	StatusServerError
)

// ClassifyStatus maps an HTTP status code to its StatusClass.
func ClassifyStatus(status int) StatusClass {
	switch {
	case status >= 200 && status < 300:
		return StatusOK
	case status >= 300 && status < 400:
		return StatusRedirect
	case status >= 400 && status < 500:
		return StatusClientError
	default:
		return StatusServerError
	}
}

func ttlForClass(ttl config.StatusClassTTL, class StatusClass) int {
	switch class {
	case StatusOK:
		return ttl.OK
	case StatusRedirect:
		return ttl.Redirects
	case StatusClientError:
		return ttl.ClientError
	default:
		return ttl.ServerError
	}
}

type compiledPattern struct {
	config.PathPatternConfig
	re *regexp.Regexp
}

// Calculator compiles the configured path patterns once and reuses
// them across requests.
type Calculator struct {
	cfg      config.TTLConfig
	patterns []compiledPattern
}

func NewCalculator(cfg config.TTLConfig) *Calculator {
	c := &Calculator{cfg: cfg}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		c.patterns = append(c.patterns, compiledPattern{PathPatternConfig: p, re: re})
	}
	return c
}

// Input is everything the Calculator needs to derive one TTL.
type Input struct {
	Path        string
	Status      int
	ContentType string
	Derivative  string
}

// Calculate returns the TTL in seconds for one response.
func (c *Calculator) Calculate(in Input) int {
	if c.isImmutable(in) {
		return c.cfg.MaxTTL
	}

	class := ClassifyStatus(in.Status)
	base := c.ttlForPath(in.Path, class)

	if in.Derivative != "" {
		if override, ok := c.cfg.DerivativeOverrides[in.Derivative]; ok {
			base = override
		}
	}

	if bonus, ok := c.cfg.ContentTypeBonus[in.ContentType]; ok && bonus > 0 {
		base = int(float64(base) * bonus)
	}

	return c.clamp(base)
}

func (c *Calculator) ttlForPath(path string, class StatusClass) int {
	pattern, ok := c.bestMatch(path)
	if !ok {
		return ttlForClass(c.cfg.Defaults, class)
	}
	return ttlForClass(pattern.TTL, class)
}

// bestMatch returns the highest-priority pattern matching path; ties
// are broken by whichever was listed first in configuration.
func (c *Calculator) bestMatch(path string) (compiledPattern, bool) {
	best := -1
	var bestPattern compiledPattern

	for _, p := range c.patterns {
		if !p.re.MatchString(path) {
			continue
		}
		if p.Priority > best {
			best = p.Priority
			bestPattern = p
		}
	}

	return bestPattern, best >= 0
}

func (c *Calculator) isImmutable(in Input) bool {
	ic := c.cfg.ImmutableContent
	if slices.Contains(ic.Paths, in.Path) {
		return true
	}
	if in.ContentType != "" && slices.Contains(ic.ContentTypes, in.ContentType) {
		return true
	}
	if in.Derivative != "" && slices.Contains(ic.Derivatives, in.Derivative) {
		return true
	}
	return false
}

func (c *Calculator) clamp(ttl int) int {
	if c.cfg.MinTTL > 0 && ttl < c.cfg.MinTTL {
		return c.cfg.MinTTL
	}
	if c.cfg.MaxTTL > 0 && ttl > c.cfg.MaxTTL {
		return c.cfg.MaxTTL
	}
	return ttl
}
