// Package render executes render jobs against an external template renderer.
//
// Each job gets its own working directory under the configured work root,
// removed on every exit path. When no backend is configured the renderer
// runs in mock mode and returns a JSON encoding of the resolved inputs with
// the same MIME type and metadata a real render would report.
package render
