package paramresolve

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveNativeAndCompactMix(t *testing.T) {
	u, err := url.Parse("/photos/cat.jpg?w=800&f=webp&format=jpeg")
	require.NoError(t, err)

	r := NewResolver(DefaultRegistry)
	opts, _ := r.Resolve(u)

	assert.Equal(t, 800.0, opts.Width)
	assert.Equal(t, "jpeg", opts.Format)
}

func TestResolveCompactFormatAlias(t *testing.T) {
	u, err := url.Parse("/photos/cat.jpg?w=800&f=webp")
	require.NoError(t, err)

	r := NewResolver(DefaultRegistry)
	opts, _ := r.Resolve(u)

	assert.Equal(t, 800.0, opts.Width)
	assert.Equal(t, "webp", opts.Format)
	assert.Empty(t, opts.Derivative)
}

func TestResolveCompactSizeCodeAlias(t *testing.T) {
	u, err := url.Parse("/photos/cat.jpg?f=m")
	require.NoError(t, err)

	r := NewResolver(DefaultRegistry)
	opts, _ := r.Resolve(u)

	assert.Equal(t, "m", opts.Derivative)
	assert.Empty(t, opts.Format)
}

func TestResolveAspectCropWithFocal(t *testing.T) {
	u, err := url.Parse("/photos/cat.jpg?im=AspectCrop=(16,9),xPosition=0.5,yPosition=0.3")
	require.NoError(t, err)

	r := NewResolver(DefaultRegistry)
	opts, _ := r.Resolve(u)

	assert.Equal(t, "16:9", opts.Aspect)
	assert.Equal(t, "0.5,0.3", opts.Focal)
	assert.True(t, opts.Ctx)
}

func TestResolveCompositeWatermarkProducesSingleDraw(t *testing.T) {
	u, err := url.Parse("/photos/cat.jpg?im=Composite,image=(url=https://x/wm.png),placement=southeast,dx=30,dy=40,opacity=0.6,width=120")
	require.NoError(t, err)

	r := NewResolver(DefaultRegistry)
	opts, _ := r.Resolve(u)

	require.Len(t, opts.Draw, 1)
	draw := opts.Draw[0]
	assert.Equal(t, "https://x/wm.png", draw["url"])
	assert.Equal(t, 40.0, draw["bottom"])
	assert.Equal(t, 30.0, draw["right"])
	assert.Equal(t, 120.0, draw["width"])
	assert.Equal(t, 0.6, draw["opacity"])

	_, hasOverlay := opts.Extra["overlay"]
	assert.False(t, hasOverlay)
	_, hasGravity := opts.Extra["gravity"]
	assert.False(t, hasGravity)
}

func TestResolveCropfitMapsToFitCover(t *testing.T) {
	u, err := url.Parse("/x.jpg?im=Unknown,cropfit=1")
	require.NoError(t, err)

	r := NewResolver(DefaultRegistry)
	opts, _ := r.Resolve(u)

	assert.Equal(t, "cover", opts.Fit)
}

func TestResolveCropNamedTransformMapsToFitCrop(t *testing.T) {
	u, err := url.Parse("/x.jpg?im=Crop")
	require.NoError(t, err)

	r := NewResolver(DefaultRegistry)
	opts, _ := r.Resolve(u)

	assert.Equal(t, "crop", opts.Fit)
}

func TestResolveInvalidNumericDropsParamWithoutFailing(t *testing.T) {
	u, err := url.Parse("/x.jpg?width=not-a-number&height=200")
	require.NoError(t, err)

	r := NewResolver(DefaultRegistry)
	opts, breadcrumbs := r.Resolve(u)

	assert.Nil(t, opts.Width)
	assert.Equal(t, 200.0, opts.Height)
	assert.NotEmpty(t, breadcrumbs)
}

func TestResolveNativeWidthBeatsImwidth(t *testing.T) {
	u, err := url.Parse("/x.jpg?width=500&imwidth=900")
	require.NoError(t, err)

	r := NewResolver(DefaultRegistry)
	opts, _ := r.Resolve(u)

	assert.Equal(t, 500.0, opts.Width)
	assert.Equal(t, 900.0, opts.Extra["imwidth"])
}

func TestResolveIsIdempotentOnReEncodedQuery(t *testing.T) {
	u1, _ := url.Parse("/x.jpg?width=400&format=webp")
	r := NewResolver(DefaultRegistry)
	opts1, _ := r.Resolve(u1)

	reencoded := "/x.jpg?" + u1.Query().Encode()
	u2, _ := url.Parse(reencoded)
	opts2, _ := r.Resolve(u2)

	assert.Equal(t, opts1.Width, opts2.Width)
	assert.Equal(t, opts1.Format, opts2.Format)
}
