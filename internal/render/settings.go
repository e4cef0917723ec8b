package render

import (
	"fmt"
	"math"
	"strings"

	"clipforge/internal/services"
)

const (
	defaultWidth      = 1920
	defaultHeight     = 1080
	defaultFPS        = 30
	defaultVideoFmt   = "mp4"
	defaultImageFmt   = "png"
	defaultStillFrame = 15

	// maxVideoFrames caps a single render at six hours of 60 fps footage.
	maxVideoFrames = 6 * 60 * 60 * 60
)

var mimeTypes = map[string]string{
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"gif":  "image/gif",
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
}

var videoCodecs = map[string]string{
	"mp4":  "h264",
	"webm": "vp8",
	"gif":  "gif",
}

type resolvedVideo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
	Format string `json:"format"`
	Codec  string `json:"-"`
}

type resolvedImage struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Frame       int    `json:"frame"`
	Format      string `json:"format"`
	ImageFormat string `json:"-"`
}

func resolveVideoSettings(in VideoSettings) (resolvedVideo, error) {
	out := resolvedVideo{
		Width:  orDefault(in.Width, defaultWidth),
		Height: orDefault(in.Height, defaultHeight),
		FPS:    orDefault(in.FPS, defaultFPS),
		Format: strings.ToLower(strings.TrimSpace(in.Format)),
	}
	if out.Format == "" {
		out.Format = defaultVideoFmt
	}
	codec, ok := videoCodecs[out.Format]
	if !ok {
		return resolvedVideo{}, invalid("unsupported video format %q (want mp4, webm or gif)", in.Format)
	}
	out.Codec = codec
	if in.Width < 0 || in.Height < 0 || in.FPS < 0 {
		return resolvedVideo{}, invalid("width, height and fps must not be negative")
	}
	return out, nil
}

func resolveImageSettings(in ImageSettings) (resolvedImage, error) {
	out := resolvedImage{
		Width:  orDefault(in.Width, defaultWidth),
		Height: orDefault(in.Height, defaultHeight),
		Frame:  defaultStillFrame,
		Format: strings.ToLower(strings.TrimSpace(in.Format)),
	}
	if in.Frame != nil {
		out.Frame = *in.Frame
	}
	if out.Format == "" {
		out.Format = defaultImageFmt
	}
	switch out.Format {
	case "png":
		out.ImageFormat = "png"
	case "jpeg", "jpg":
		out.ImageFormat = "jpeg"
	default:
		return resolvedImage{}, invalid("unsupported image format %q (want png or jpeg)", in.Format)
	}
	if in.Width < 0 || in.Height < 0 || out.Frame < 0 {
		return resolvedImage{}, invalid("width, height and frame must not be negative")
	}
	return out, nil
}

func validateScenes(scenes []Scene) (float64, error) {
	if len(scenes) == 0 {
		return 0, invalid("at least one scene is required")
	}
	var total float64
	for i, scene := range scenes {
		if strings.TrimSpace(scene.Type) == "" {
			return 0, invalid("scene %d: type is required", i)
		}
		if scene.Duration <= 0 || math.IsNaN(scene.Duration) || math.IsInf(scene.Duration, 0) {
			return 0, invalid("scene %d: duration must be a positive number of seconds", i)
		}
		total += scene.Duration
	}
	return total, nil
}

// frameCount converts seconds to whole frames, rounding up.
func frameCount(seconds float64, fps int) int {
	return int(math.Ceil(seconds * float64(fps)))
}

// videoFrames is frameCount with the per-render frame cap applied.
func videoFrames(seconds float64, fps int) (int, error) {
	exact := seconds * float64(fps)
	if math.IsInf(exact, 0) || math.IsNaN(exact) || math.Ceil(exact) > maxVideoFrames {
		return 0, invalid("video is %.0f frames long; the limit is %d", exact, maxVideoFrames)
	}
	return frameCount(seconds, fps), nil
}

func orDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func invalid(format string, args ...any) error {
	return services.Wrap(services.ErrValidation, "render", "validate", fmt.Sprintf(format, args...), nil)
}
