package paramresolve

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/erfianugrah/image-resizer/internal/config"
)

// reservedQueryKeys are query parameters that activate a different
// dialect or control debug/caching behavior rather than naming a
// transform option directly; the native parser still reports them as
// low-priority pass-through values for the orchestrator to read
// (debug, cache-tags) but the compact/akamai parsers own the rest.
var reservedQueryKeys = map[string]bool{
	"im": true,
}

// NativeParser recognizes every key present in the parameter registry
// and coerces it to its typed value; unrecognized keys are kept with
// a low priority rather than discarded.
type NativeParser struct {
	Registry Registry
}

func NewNativeParser(reg Registry) *NativeParser {
	return &NativeParser{Registry: reg}
}

// CanParse reports whether the query string carries any candidate
// native parameter at all.
func (p *NativeParser) CanParse(u *url.URL) bool {
	return len(u.Query()) > 0
}

// Parse converts every query key that is not an Akamai dot-notation
// fragment (a key starting with "im.") or the Akamai equals-notation
// marker ("im") into a TransformParameter.
func (p *NativeParser) Parse(u *url.URL, breadcrumbs *[]Breadcrumb) []TransformParameter {
	var params []TransformParameter

	for key, values := range u.Query() {
		if len(values) == 0 {
			continue
		}
		if reservedQueryKeys[key] || strings.HasPrefix(key, "im.") {
			continue
		}

		raw := values[0]
		def := p.Registry.Lookup(key)

		value, ok := coerce(def.Type, raw)
		if !ok {
			*breadcrumbs = append(*breadcrumbs, Breadcrumb{
				Phase:   "paramresolve.native",
				Message: "dropped unparseable value for " + key + "=" + raw,
			})
			continue
		}

		params = append(params, TransformParameter{
			Name:     key,
			Value:    value,
			Source:   SourceNative,
			Priority: def.Priority,
		})
	}

	return params
}

// coerce converts a raw query string to the type the registry entry
// declares. It never fails a whole request: an invalid numeric value
// simply reports ok=false so the caller can drop that one parameter.
func coerce(t config.ParamType, raw string) (any, bool) {
	switch t {
	case config.ParamNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	case config.ParamAutoOrNumber:
		if raw == "auto" {
			return "auto", true
		}
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	case config.ParamBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, false
		}
		return b, true
	case config.ParamCoordinate:
		parts := strings.SplitN(raw, ",", 2)
		if len(parts) != 2 {
			return nil, false
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err != nil {
			return nil, false
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err != nil {
			return nil, false
		}
		return raw, true
	case config.ParamEnum, config.ParamString, config.ParamSizeCode:
		return raw, true
	default:
		return raw, true
	}
}
