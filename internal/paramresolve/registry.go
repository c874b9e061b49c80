// Package paramresolve implements parameter resolution: three parsers
// for the native, compact, and Akamai Image Manager URL dialects each
// contribute TransformParameter values, which a merger collapses into
// one TransformOptions record.
package paramresolve

import "github.com/erfianugrah/image-resizer/internal/config"

// Source identifies which dialect contributed a parameter.
type Source string

const (
	SourceNative  Source = "native"
	SourceCompact Source = "compact"
	SourceAkamai  Source = "akamai"
)

// sourceRank orders sources for tie-breaking: native > akamai > compact.
var sourceRank = map[Source]int{
	SourceNative:  3,
	SourceAkamai:  2,
	SourceCompact: 1,
}

// TransformParameter is one parsed parameter contributed by a dialect
// parser.
type TransformParameter struct {
	Name     string
	Value    any
	Source   Source
	Priority int
	AliasFor string
}

// Breadcrumb is a structured, optionally-timed trace event. Parameter
// resolution emits one whenever it silently drops a malformed value.
type Breadcrumb struct {
	Phase   string
	Message string
}

// Def is one parameter registry entry: its coercion kind, resolution
// priority, and default value.
type Def struct {
	Type     config.ParamType
	Priority int
	Default  any
	Enum     []string
}

// Registry maps a canonical parameter name to its Def.
type Registry map[string]Def

// DefaultRegistry is the built-in parameter set. Configuration can
// extend or override entries via BuildRegistry.
var DefaultRegistry = Registry{
	"width":      {Type: config.ParamAutoOrNumber, Priority: 100},
	"height":     {Type: config.ParamAutoOrNumber, Priority: 100},
	"fit":        {Type: config.ParamEnum, Priority: 100, Enum: []string{"pad", "cover", "contain", "crop", "scale-down"}},
	"format":     {Type: config.ParamEnum, Priority: 100, Enum: []string{"auto", "avif", "webp", "jpeg", "png", "gif"}},
	"quality":    {Type: config.ParamNumber, Priority: 100, Default: 85},
	"gravity":    {Type: config.ParamEnum, Priority: 90, Enum: []string{"auto", "center", "top", "bottom", "left", "right"}},
	"focal":      {Type: config.ParamCoordinate, Priority: 90},
	"aspect":     {Type: config.ParamString, Priority: 90},
	"derivative": {Type: config.ParamString, Priority: 110},
	"smart":      {Type: config.ParamBoolean, Priority: 90},
	"ctx":        {Type: config.ParamBoolean, Priority: 90},
	"draw":       {Type: config.ParamString, Priority: 95},
	"dpr":        {Type: config.ParamNumber, Priority: 80},
	"sharpen":    {Type: config.ParamNumber, Priority: 70},
	"blur":       {Type: config.ParamNumber, Priority: 70},
	"rotate":     {Type: config.ParamNumber, Priority: 70},
	"background": {Type: config.ParamString, Priority: 70},
	"trim":       {Type: config.ParamBoolean, Priority: 70},
	"tenant":     {Type: config.ParamString, Priority: 60},
	"imwidth":    {Type: config.ParamAutoOrNumber, Priority: 80, Default: nil},
	"imheight":   {Type: config.ParamAutoOrNumber, Priority: 80, Default: nil},
	"debug":      {Type: config.ParamString, Priority: 50},
}

// BuildRegistry merges configured registry entries over DefaultRegistry;
// configured entries win on name collision.
func BuildRegistry(configured map[string]config.ParamDef) Registry {
	reg := make(Registry, len(DefaultRegistry)+len(configured))
	for name, def := range DefaultRegistry {
		reg[name] = def
	}
	for name, def := range configured {
		reg[name] = Def{Type: def.Type, Priority: def.Priority, Default: def.DefaultValue, Enum: def.EnumValues}
	}
	return reg
}

// Lookup returns the Def for name, and a synthesized low-priority
// string Def for unrecognized keys so they survive the merge instead
// of being discarded.
func (r Registry) Lookup(name string) Def {
	if def, ok := r[name]; ok {
		return def
	}
	return Def{Type: config.ParamString, Priority: 10}
}
