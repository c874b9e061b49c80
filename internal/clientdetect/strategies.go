// Package clientdetect resolves a ClientInfo record from request
// headers using strategies ordered by confidence (client hints >
// accept header > user agent > defaults) and derives
// client-aware transform adjustments from it.
package clientdetect

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/erfianugrah/image-resizer/internal/config"
)

type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
)

type NetworkQuality string

const (
	NetworkSlow   NetworkQuality = "slow"
	NetworkMedium NetworkQuality = "medium"
	NetworkFast   NetworkQuality = "fast"
)

type DeviceClass string

const (
	ClassLowEnd   DeviceClass = "low-end"
	ClassMidRange DeviceClass = "mid-range"
	ClassHighEnd  DeviceClass = "high-end"
)

// ClientInfo is the resolved client capability record.
type ClientInfo struct {
	DeviceType           DeviceType
	ViewportWidth        float64
	DevicePixelRatio     float64
	SaveData             bool
	AcceptsWebp          bool
	AcceptsAvif          bool
	NetworkQuality       NetworkQuality
	DeviceClassification DeviceClass
}

// Detect resolves ClientInfo from r's headers. Strategies run in
// confidence order; the first strategy that fills a given field wins,
// lower-confidence strategies only fill fields still unset.
func Detect(r *http.Request, cfg config.ClientDetectionConfig) ClientInfo {
	info := defaults()
	filled := map[string]bool{}

	applyClientHints(r, cfg, &info, filled)
	applyAcceptHeader(r, &info, filled)
	applyUserAgent(r, &info, filled)

	info.NetworkQuality = detectNetworkQuality(r, info.SaveData)
	info.DeviceClassification = deviceClassification(info.ViewportWidth, info.DevicePixelRatio, info.SaveData)

	return info
}

func defaults() ClientInfo {
	return ClientInfo{
		DeviceType:       DeviceDesktop,
		ViewportWidth:    1920,
		DevicePixelRatio: 1,
	}
}

func applyClientHints(r *http.Request, cfg config.ClientDetectionConfig, info *ClientInfo, filled map[string]bool) {
	hints := cfg.ClientHints
	if len(hints) == 0 {
		hints = []string{"DPR", "Viewport-Width", "Width", "Save-Data"}
	}
	has := func(name string) bool {
		for _, h := range hints {
			if strings.EqualFold(h, name) {
				return true
			}
		}
		return false
	}

	if has("Save-Data") {
		if v := headerFirst(r, "Save-Data", "Sec-CH-Prefers-Reduced-Data"); v != "" {
			info.SaveData = strings.EqualFold(v, "on") || v == "1"
			filled["saveData"] = true
		}
	}

	if has("DPR") {
		if v := headerFirst(r, "Sec-CH-DPR", "DPR"); v != "" {
			if dpr, err := strconv.ParseFloat(v, 64); err == nil {
				info.DevicePixelRatio = dpr
				filled["dpr"] = true
			}
		}
	}

	if has("Viewport-Width") {
		if v := headerFirst(r, "Sec-CH-Viewport-Width", "Viewport-Width"); v != "" {
			if vw, err := strconv.ParseFloat(v, 64); err == nil {
				info.ViewportWidth = vw
				filled["viewportWidth"] = true
			}
		}
	}

	if v := r.Header.Get("Sec-CH-UA-Mobile"); v != "" {
		info.DeviceType = DeviceDesktop
		if v == "?1" {
			info.DeviceType = DeviceMobile
		}
		filled["deviceType"] = true
	}
}

func applyAcceptHeader(r *http.Request, info *ClientInfo, filled map[string]bool) {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return
	}
	info.AcceptsAvif = strings.Contains(accept, "image/avif")
	info.AcceptsWebp = strings.Contains(accept, "image/webp")
	filled["accepts"] = true
}

func applyUserAgent(r *http.Request, info *ClientInfo, filled map[string]bool) {
	if filled["deviceType"] {
		return
	}
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	if ua == "" {
		return
	}

	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		info.DeviceType = DeviceTablet
	case strings.Contains(ua, "mobi") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		info.DeviceType = DeviceMobile
	default:
		info.DeviceType = DeviceDesktop
	}
	filled["deviceType"] = true
}

// SupportsFormat reports whether the detected client accepts fmt,
// based on the Accept-header strategy's result.
func SupportsFormat(info ClientInfo, format string) bool {
	switch strings.ToLower(format) {
	case "avif":
		return info.AcceptsAvif
	case "webp":
		return info.AcceptsWebp
	default:
		return true
	}
}

func deviceClassification(viewportWidth, dpr float64, saveData bool) DeviceClass {
	if saveData {
		return ClassLowEnd
	}
	score := viewportWidth * dpr
	switch {
	case score >= 2400:
		return ClassHighEnd
	case score >= 1200:
		return ClassMidRange
	default:
		return ClassLowEnd
	}
}

func detectNetworkQuality(r *http.Request, saveData bool) NetworkQuality {
	if saveData || strings.EqualFold(r.Header.Get("Save-Data"), "on") {
		return NetworkSlow
	}

	if rtt := r.Header.Get("RTT"); rtt != "" {
		if ms, err := strconv.ParseFloat(rtt, 64); err == nil {
			switch {
			case ms >= 450:
				return NetworkSlow
			case ms >= 150:
				return NetworkMedium
			default:
				return NetworkFast
			}
		}
	}

	if downlink := r.Header.Get("Downlink"); downlink != "" {
		if mbps, err := strconv.ParseFloat(downlink, 64); err == nil {
			switch {
			case mbps < 1:
				return NetworkSlow
			case mbps < 5:
				return NetworkMedium
			default:
				return NetworkFast
			}
		}
	}

	return NetworkMedium
}

func headerFirst(r *http.Request, names ...string) string {
	for _, n := range names {
		if v := r.Header.Get(n); v != "" {
			return v
		}
	}
	return ""
}
