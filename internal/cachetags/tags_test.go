package cachetags

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erfianugrah/image-resizer/internal/apperr"
	"github.com/erfianugrah/image-resizer/internal/config"
	"github.com/erfianugrah/image-resizer/internal/paramresolve"
	"github.com/erfianugrah/image-resizer/internal/storage"
)

func fullConfig() config.CacheTagsConfig {
	return config.CacheTagsConfig{
		Prefix:       "irv",
		PathSegments: true,
		Directory:    true,
		FullPath:     true,
		ContentType:  true,
		Origin:       true,
		Host:         true,
		SizeBucket:   true,
		WidthBucket:  true,
		Dimensions:   true,
		Derivative:   true,
	}
}

func TestGenerateEmitsPathContentOriginAndHostTags(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/photos/summer/cat.jpg", nil)
	r.Host = "cdn.example.com"
	result := storage.Result{ContentType: "image/jpeg", SourceType: storage.SourceR2, Size: 2048}
	options := paramresolve.TransformOptions{Width: 400.0, Format: "webp", Quality: 80}

	tags := Generate(r, "/photos/summer/cat.jpg", result, options, fullConfig())

	assert.Contains(t, tags, "irv-segment-0-photos")
	assert.Contains(t, tags, "irv-segment-1-summer")
	assert.Contains(t, tags, "irv-segment-2-cat.jpg")
	assert.Contains(t, tags, "irv-dir-photos/summer")
	assert.Contains(t, tags, "irv-path-/photos/summer/cat.jpg")
	assert.Contains(t, tags, "irv-type-image")
	assert.Contains(t, tags, "irv-content-image-jpeg")
	assert.Contains(t, tags, "irv-origin-r2")
	assert.Contains(t, tags, "irv-host-cdn.example.com")
	assert.Contains(t, tags, "irv-size-tiny")
	assert.Contains(t, tags, "irv-format-webp")
	assert.Contains(t, tags, "irv-width-400")
	assert.Contains(t, tags, "irv-quality-80")
}

func TestGenerateIncludesCustomTagsAndTenant(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/a.jpg?cache-tags=promo,launch&tenant=acme", nil)
	tags := Generate(r, "/a.jpg", storage.Result{}, paramresolve.TransformOptions{}, config.CacheTagsConfig{Prefix: "irv"})

	assert.Contains(t, tags, "irv-promo")
	assert.Contains(t, tags, "irv-launch")
	assert.Contains(t, tags, "irv-tenant-acme")
}

func TestGenerateConditionalTagMatchesPathPrefix(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/marketing/banner.jpg", nil)
	cfg := config.CacheTagsConfig{
		Prefix: "irv",
		Conditional: []config.ConditionalTagRule{
			{Tag: "campaign", PathPrefix: "/marketing/"},
		},
	}

	tags := Generate(r, "/marketing/banner.jpg", storage.Result{}, paramresolve.TransformOptions{}, cfg)
	assert.Contains(t, tags, "irv-campaign")
}

func TestGenerateConditionalTagSkippedWhenNoMatch(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/other/banner.jpg", nil)
	cfg := config.CacheTagsConfig{
		Prefix: "irv",
		Conditional: []config.ConditionalTagRule{
			{Tag: "campaign", PathPrefix: "/marketing/"},
		},
	}

	tags := Generate(r, "/other/banner.jpg", storage.Result{}, paramresolve.TransformOptions{}, cfg)
	assert.NotContains(t, tags, "irv-campaign")
}

func TestGenerateWatermarkAndSmartFlags(t *testing.T) {
	options := paramresolve.TransformOptions{
		Smart: true,
		Draw:  []map[string]any{{"url": "https://x/wm.png"}},
	}
	tags := Generate(nil, "/a.jpg", storage.Result{}, options, config.CacheTagsConfig{Prefix: "irv"})

	assert.Contains(t, tags, "irv-feature-smart")
	assert.Contains(t, tags, "irv-watermark-true")
}

func TestGenerateSafeRejectsMissingPrefix(t *testing.T) {
	_, err := GenerateSafe(nil, "/a.jpg", storage.Result{}, paramresolve.TransformOptions{}, config.CacheTagsConfig{})
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeCacheTagGen, ae.Code)
}

func TestGenerateSafeRejectsEmptyPath(t *testing.T) {
	_, err := GenerateSafe(nil, "", storage.Result{}, paramresolve.TransformOptions{}, config.CacheTagsConfig{Prefix: "irv"})
	require.Error(t, err)
}
