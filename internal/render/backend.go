package render

import "context"

// Composition is the renderer's resolved view of a template for given inputs.
type Composition struct {
	ID               string `json:"id"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	FPS              int    `json:"fps"`
	DurationInFrames int    `json:"durationInFrames"`
}

// RenderOptions parameterize a video render.
type RenderOptions struct {
	BundlePath  string
	Composition Composition
	OutputPath  string
	Codec       string
	Concurrency int
	InputProps  any
}

// StillOptions parameterize a single-frame render.
type StillOptions struct {
	BundlePath  string
	Composition Composition
	OutputPath  string
	Frame       int
	ImageFormat string
	InputProps  any
}

// Backend is the external rendering capability. It also compiles bundles,
// so a Backend satisfies bundle.Compiler.
type Backend interface {
	Compile(ctx context.Context, entryPoint, outDir string) (string, error)
	ResolveComposition(ctx context.Context, bundlePath, compositionID string, inputProps any) (Composition, error)
	RenderToFile(ctx context.Context, opts RenderOptions) error
	RenderStill(ctx context.Context, opts StillOptions) error
}
