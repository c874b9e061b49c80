package paramresolve

import "net/url"

// compactAliases maps single-letter compact keys to their canonical
// native name: w -> width, h -> height, r -> aspect, p -> focal,
// f -> format or size code, s -> context-aware.
var compactAliases = map[string]string{
	"w": "width",
	"h": "height",
	"r": "aspect",
	"p": "focal",
	"f": "derivative",
	"s": "ctx",
}

// knownFormats disambiguates the overloaded `f=` alias: a format name
// resolves to the format parameter, anything else (a size code like
// `m`) resolves to a derivative preset.
var knownFormats = map[string]bool{
	"auto": true, "avif": true, "webp": true,
	"jpeg": true, "jpg": true, "png": true, "gif": true,
}

// CompactParser recognizes single-letter alias keys.
type CompactParser struct {
	Registry Registry
}

func NewCompactParser(reg Registry) *CompactParser {
	return &CompactParser{Registry: reg}
}

func (p *CompactParser) CanParse(u *url.URL) bool {
	q := u.Query()
	for key := range compactAliases {
		if q.Has(key) {
			return true
		}
	}
	return false
}

func (p *CompactParser) Parse(u *url.URL, breadcrumbs *[]Breadcrumb) []TransformParameter {
	var params []TransformParameter
	q := u.Query()

	for alias, canonical := range compactAliases {
		values := q[alias]
		if len(values) == 0 {
			continue
		}

		raw := values[0]
		if alias == "f" && knownFormats[raw] {
			canonical = "format"
		}
		def := p.Registry.Lookup(canonical)

		value, ok := coerce(def.Type, raw)
		if !ok {
			*breadcrumbs = append(*breadcrumbs, Breadcrumb{
				Phase:   "paramresolve.compact",
				Message: "dropped unparseable compact value " + alias + "=" + raw,
			})
			continue
		}

		params = append(params, TransformParameter{
			Name:     canonical,
			Value:    value,
			Source:   SourceCompact,
			Priority: def.Priority,
			AliasFor: alias,
		})
	}

	return params
}
