package ttl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/erfianugrah/image-resizer/internal/config"
)

func TestCalculateUsesDefaultsWhenNoPatternsConfigured(t *testing.T) {
	cfg := config.TTLConfig{
		MinTTL:   60,
		MaxTTL:   86400,
		Defaults: config.StatusClassTTL{OK: 3600, ClientError: 60, ServerError: 10},
	}
	calc := NewCalculator(cfg)

	ttl := calc.Calculate(Input{Path: "/a.jpg", Status: 200})
	assert.Equal(t, 3600, ttl)
}

func TestCalculateSelectsHighestPriorityMatchingPattern(t *testing.T) {
	cfg := config.TTLConfig{
		MinTTL: 1, MaxTTL: 1000000,
		Patterns: []config.PathPatternConfig{
			{Name: "generic", Pattern: `^/photos/`, Priority: 1, TTL: config.StatusClassTTL{OK: 100}},
			{Name: "specific", Pattern: `^/photos/hero/`, Priority: 10, TTL: config.StatusClassTTL{OK: 9000}},
		},
	}
	calc := NewCalculator(cfg)

	ttl := calc.Calculate(Input{Path: "/photos/hero/banner.jpg", Status: 200})
	assert.Equal(t, 9000, ttl)
}

func TestCalculateTiesBrokenByFirstListed(t *testing.T) {
	cfg := config.TTLConfig{
		MinTTL: 1, MaxTTL: 1000000,
		Patterns: []config.PathPatternConfig{
			{Name: "first", Pattern: `^/a/`, Priority: 5, TTL: config.StatusClassTTL{OK: 111}},
			{Name: "second", Pattern: `^/a/`, Priority: 5, TTL: config.StatusClassTTL{OK: 222}},
		},
	}
	calc := NewCalculator(cfg)

	ttl := calc.Calculate(Input{Path: "/a/x.jpg", Status: 200})
	assert.Equal(t, 111, ttl)
}

func TestCalculateAppliesDerivativeOverride(t *testing.T) {
	cfg := config.TTLConfig{
		MinTTL: 1, MaxTTL: 1000000,
		Defaults:            config.StatusClassTTL{OK: 100},
		DerivativeOverrides: map[string]int{"thumbnail": 500},
	}
	calc := NewCalculator(cfg)

	ttl := calc.Calculate(Input{Path: "/a.jpg", Status: 200, Derivative: "thumbnail"})
	assert.Equal(t, 500, ttl)
}

func TestCalculateAppliesContentTypeBonus(t *testing.T) {
	cfg := config.TTLConfig{
		MinTTL: 1, MaxTTL: 1000000,
		Defaults:         config.StatusClassTTL{OK: 100},
		ContentTypeBonus: map[string]float64{"image/svg+xml": 2.0},
	}
	calc := NewCalculator(cfg)

	ttl := calc.Calculate(Input{Path: "/a.svg", Status: 200, ContentType: "image/svg+xml"})
	assert.Equal(t, 200, ttl)
}

func TestCalculateForcesMaxTTLForImmutablePath(t *testing.T) {
	cfg := config.TTLConfig{
		MinTTL: 1, MaxTTL: 1000000,
		Defaults: config.StatusClassTTL{OK: 100},
		ImmutableContent: config.ImmutableContentConfig{
			Paths: []string{"/static/logo.png"},
		},
	}
	calc := NewCalculator(cfg)

	ttl := calc.Calculate(Input{Path: "/static/logo.png", Status: 200})
	assert.Equal(t, 1000000, ttl)
}

func TestCalculateClampsToMinAndMax(t *testing.T) {
	cfg := config.TTLConfig{
		MinTTL:   50,
		MaxTTL:   200,
		Defaults: config.StatusClassTTL{OK: 10, ServerError: 100000},
	}
	calc := NewCalculator(cfg)

	assert.Equal(t, 50, calc.Calculate(Input{Path: "/a.jpg", Status: 200}))
	assert.Equal(t, 200, calc.Calculate(Input{Path: "/a.jpg", Status: 503}))
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, StatusOK, ClassifyStatus(200))
	assert.Equal(t, StatusRedirect, ClassifyStatus(301))
	assert.Equal(t, StatusClientError, ClassifyStatus(404))
	assert.Equal(t, StatusServerError, ClassifyStatus(500))
}
