package paramresolve

// TransformOptions is the contract passed to the Transformation
// Service: the collapsed, highest-priority value for every parameter
// name the three dialect parsers contributed.
type TransformOptions struct {
	Width      any // float64 or "auto"
	Height     any
	Fit        string
	Format     string
	Quality    float64
	Gravity    string
	Focal      string
	Aspect     string
	Derivative string
	Smart      bool
	Draw       []map[string]any
	Ctx        bool

	DPR        float64
	Sharpen    float64
	Blur       float64
	Rotate     float64
	Background string
	Trim       bool
	Tenant     string
	Mirror     string
	Grayscale  bool
	Debug      string

	// Extra carries any unrecognized parameter name, preserving it
	// for components (cache tags, debug reporting) that want the raw
	// set without needing a named field for every possible key.
	Extra map[string]any

	// Path is populated by the caller (resolver/path service) rather
	// than by a parser; it participates in immutable-content matching
	// and cache-tag generation.
	Path string
}
