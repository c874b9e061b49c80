package clientdetect

import (
	"github.com/erfianugrah/image-resizer/internal/config"
	"github.com/erfianugrah/image-resizer/internal/paramresolve"
)

var defaultFormatOrder = []string{"avif", "webp", "jpeg"}

// GetOptimizedOptions revises base: format is the first
// client-supported codec from the network quality's preferred list,
// quality is clamped (and reduced under Save-Data), and width/height
// are clamped to the network quality's max dimension, with explicit
// "auto" values scaled by device pixel ratio.
func GetOptimizedOptions(info ClientInfo, base paramresolve.TransformOptions, budget config.PerformanceBudget) paramresolve.TransformOptions {
	opts := base
	quality := string(info.NetworkQuality)

	if opts.Format == "" || opts.Format == "auto" {
		preferred := budget.PreferredFormats[quality]
		if len(preferred) == 0 {
			preferred = defaultFormatOrder
		}
		for _, f := range preferred {
			if SupportsFormat(info, f) {
				opts.Format = f
				break
			}
		}
	}

	if qr, ok := budget.Quality[quality]; ok && (qr.Min > 0 || qr.Max > 0) {
		q := opts.Quality
		if q <= 0 {
			q = float64(qr.Max)
		}
		if info.SaveData {
			q = float64(qr.Min)
		}
		if q < float64(qr.Min) {
			q = float64(qr.Min)
		}
		if qr.Max > 0 && q > float64(qr.Max) {
			q = float64(qr.Max)
		}
		opts.Quality = q
	}

	if maxDim, ok := budget.MaxDimensions[quality]; ok && maxDim > 0 {
		opts.Width = clampDimension(opts.Width, maxDim, info.DevicePixelRatio)
		opts.Height = clampDimension(opts.Height, maxDim, info.DevicePixelRatio)
	}

	return opts
}

// clampDimension caps an explicit numeric dimension at max, and scales
// an explicit "auto" value by dpr (also capped at max).
func clampDimension(v any, max int, dpr float64) any {
	if dpr <= 0 {
		dpr = 1
	}

	switch n := v.(type) {
	case float64:
		if n > float64(max) {
			return float64(max)
		}
		return n
	case string:
		if n != "auto" {
			return v
		}
		scaled := dpr * float64(max)
		if scaled > float64(max) {
			scaled = float64(max)
		}
		return scaled
	default:
		return v
	}
}
