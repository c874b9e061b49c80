package command

// DebugReport is the structured detail attached to a debug=html
// response. HTML rendering lives outside this service; this package
// only assembles the data and a minimal text fallback.
type DebugReport struct {
	RequestID   string
	Path        string
	Options     map[string]any
	ClientInfo  map[string]any
	Breadcrumbs []Breadcrumb
	StorageType string
	Error       string
}

// DebugReporter renders a DebugReport. The wired default is a plain
// text summary; a real HTML template is a collaborator outside this
// service's hard core.
type DebugReporter interface {
	Render(report DebugReport) (body []byte, contentType string)
}

// PlainTextDebugReporter renders a minimal human-readable report,
// sufficient until an HTML renderer is plugged in.
type PlainTextDebugReporter struct{}

func (PlainTextDebugReporter) Render(report DebugReport) ([]byte, string) {
	var b []byte
	b = append(b, []byte("request: "+report.RequestID+"\n")...)
	b = append(b, []byte("path: "+report.Path+"\n")...)
	b = append(b, []byte("storage: "+report.StorageType+"\n")...)
	if report.Error != "" {
		b = append(b, []byte("error: "+report.Error+"\n")...)
	}
	for _, bc := range report.Breadcrumbs {
		b = append(b, []byte(bc.Phase+": "+bc.Duration.String()+"\n")...)
	}
	return b, "text/plain; charset=utf-8"
}
