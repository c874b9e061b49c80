package paramresolve

import "net/url"

// Resolver runs the three dialect parsers and merges their output.
type Resolver struct {
	registry Registry
	native   *NativeParser
	compact  *CompactParser
	akamai   *AkamaiParser
}

func NewResolver(registry Registry) *Resolver {
	return &Resolver{
		registry: registry,
		native:   NewNativeParser(registry),
		compact:  NewCompactParser(registry),
		akamai:   NewAkamaiParser(),
	}
}

// Resolve parses u's query string through every dialect whose markers
// are present and merges the results into one TransformOptions. It
// never returns an error: malformed fragments from one dialect simply
// contribute nothing, recorded as breadcrumbs.
func (r *Resolver) Resolve(u *url.URL) (TransformOptions, []Breadcrumb) {
	var breadcrumbs []Breadcrumb
	var params []TransformParameter

	if r.native.CanParse(u) {
		params = append(params, r.native.Parse(u, &breadcrumbs)...)
	}
	if r.compact.CanParse(u) {
		params = append(params, r.compact.Parse(u, &breadcrumbs)...)
	}
	if r.akamai.CanParse(u) {
		params = append(params, r.akamai.Parse(u, &breadcrumbs)...)
	}

	opts := Merge(params)
	opts.Path = u.Path

	return opts, breadcrumbs
}
