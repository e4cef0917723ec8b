package render

// DefaultTemplate exposes the embedded template to external tests.
func DefaultTemplate() string { return defaultTemplate }
