package render

// Scene is one typed segment of a video.
type Scene struct {
	Type     string         `json:"type"`
	Duration float64        `json:"duration"`
	Content  map[string]any `json:"content,omitempty"`
}

// Theme carries visual styling passed through to the template.
type Theme struct {
	PrimaryColor    string `json:"primaryColor,omitempty"`
	SecondaryColor  string `json:"secondaryColor,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	TextColor       string `json:"textColor,omitempty"`
	FontFamily      string `json:"fontFamily,omitempty"`
	Style           string `json:"style,omitempty"`
}

// VideoSettings are the caller-supplied video parameters. Zero values take defaults.
type VideoSettings struct {
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	FPS    int    `json:"fps,omitempty"`
	Format string `json:"format,omitempty"`
}

// ImageSettings are the caller-supplied still parameters. Zero values take defaults.
type ImageSettings struct {
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Frame  *int   `json:"frame,omitempty"`
	Format string `json:"format,omitempty"`
}

// VideoRequest describes one video render.
type VideoRequest struct {
	Scenes         []Scene       `json:"scenes"`
	Theme          *Theme        `json:"theme,omitempty"`
	Settings       VideoSettings `json:"settings"`
	TemplateSource string        `json:"templateSource,omitempty"`
}

// ImageRequest describes one still render.
type ImageRequest struct {
	Scene          Scene         `json:"scene"`
	Theme          *Theme        `json:"theme,omitempty"`
	Settings       ImageSettings `json:"settings"`
	TemplateSource string        `json:"templateSource,omitempty"`
}

// Metadata describes a rendered artifact.
type Metadata struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      int     `json:"fps,omitempty"`
	Frames   int     `json:"frames,omitempty"`
	Frame    *int    `json:"frame,omitempty"`
}

// Map flattens the metadata for artifact stores.
func (m Metadata) Map() map[string]any {
	out := map[string]any{
		"duration": m.Duration,
		"width":    m.Width,
		"height":   m.Height,
	}
	if m.FPS > 0 {
		out["fps"] = m.FPS
	}
	if m.Frames > 0 {
		out["frames"] = m.Frames
	}
	if m.Frame != nil {
		out["frame"] = *m.Frame
	}
	return out
}

// Result is the output of a render job.
type Result struct {
	Data     []byte
	MIMEType string
	Format   string
	Metadata Metadata
}
