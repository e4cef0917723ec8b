package render

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"clipforge/internal/bundle"
	"clipforge/internal/logging"
	"clipforge/internal/services"
)

//go:embed templates/default.tsx
var defaultTemplate string

// CompositionID is the composition every scaffolded bundle registers.
const CompositionID = "Main"

const (
	// ModeBackend renders through the external backend.
	ModeBackend = "backend"
	// ModeMock returns placeholder payloads.
	ModeMock = "mock"

	defaultPerFrameTimeout = 30 * time.Second
	stageName              = "render"
)

// Bundler supplies compiled bundles.
type Bundler interface {
	Bundle(ctx context.Context, source, templateName string) (bundle.Handle, bundle.ReleaseFunc, error)
}

// Options configure a Renderer.
type Options struct {
	WorkRoot        string
	Concurrency     int
	PerFrameTimeout time.Duration
	// Backend nil selects mock mode.
	Backend Backend
	Bundles Bundler
}

// Renderer runs render jobs.
type Renderer struct {
	workRoot        string
	concurrency     int
	perFrameTimeout time.Duration
	backend         Backend
	bundles         Bundler
	logger          *slog.Logger
}

// New constructs a Renderer. Mock mode is chosen here and never switched at call time.
func New(opts Options, logger *slog.Logger) *Renderer {
	r := &Renderer{
		workRoot:        opts.WorkRoot,
		concurrency:     opts.Concurrency,
		perFrameTimeout: opts.PerFrameTimeout,
		backend:         opts.Backend,
		bundles:         opts.Bundles,
		logger:          logging.NewComponentLogger(logger, "renderer"),
	}
	if r.perFrameTimeout <= 0 {
		r.perFrameTimeout = defaultPerFrameTimeout
	}
	if r.workRoot == "" {
		r.workRoot = os.TempDir()
	}
	if r.backend != nil && r.bundles == nil {
		logging.WarnWithContext(r.logger, "backend configured without a bundle cache", "render_mock_fallback",
			logging.String(logging.FieldImpact, "renders return mock payloads"))
		r.backend = nil
	}
	return r
}

// Mode reports whether renders go through the backend or the mock path.
func (r *Renderer) Mode() string {
	if r.backend == nil {
		return ModeMock
	}
	return ModeBackend
}

// RenderVideo renders req to a video file and returns its bytes.
func (r *Renderer) RenderVideo(ctx context.Context, req VideoRequest) (Result, error) {
	settings, err := resolveVideoSettings(req.Settings)
	if err != nil {
		return Result{}, err
	}
	seconds, err := validateScenes(req.Scenes)
	if err != nil {
		return Result{}, err
	}
	frames, err := videoFrames(seconds, settings.FPS)
	if err != nil {
		return Result{}, err
	}
	result := Result{
		MIMEType: mimeTypes[settings.Format],
		Format:   settings.Format,
		Metadata: Metadata{
			Duration: seconds,
			Width:    settings.Width,
			Height:   settings.Height,
			FPS:      settings.FPS,
			Frames:   frames,
		},
	}
	props := inputProps{Scenes: req.Scenes, Theme: req.Theme, Settings: settings}

	err = r.withJob(ctx, "video", func(ctx context.Context, dir string) error {
		if r.backend == nil {
			data, err := writeMock(dir, settings.Format, mockPayload{
				Kind: "video", Scenes: req.Scenes, Theme: req.Theme, Settings: settings, Metadata: result.Metadata,
			})
			result.Data = data
			return err
		}

		handle, release, err := r.bundles.Bundle(ctx, templateSource(req.TemplateSource), CompositionID)
		if err != nil {
			return err
		}
		defer release()

		comp, err := r.backend.ResolveComposition(ctx, handle.Path, CompositionID, props)
		if err != nil {
			return services.Wrap(services.ErrRenderFailed, stageName, "resolve composition", "", err)
		}
		output := filepath.Join(dir, "out."+settings.Format)
		err = r.withFrameBudget(ctx, frames, func(ctx context.Context) error {
			return r.backend.RenderToFile(ctx, RenderOptions{
				BundlePath:  handle.Path,
				Composition: comp,
				OutputPath:  output,
				Codec:       settings.Codec,
				Concurrency: r.concurrency,
				InputProps:  props,
			})
		})
		if err != nil {
			return err
		}
		result.Data, err = readOutput(output)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// RenderImage renders one frame of req.Scene to a still image.
func (r *Renderer) RenderImage(ctx context.Context, req ImageRequest) (Result, error) {
	settings, err := resolveImageSettings(req.Settings)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(req.Scene.Type) == "" {
		return Result{}, invalid("scene type is required")
	}
	if req.Scene.Duration < 0 {
		return Result{}, invalid("scene duration must not be negative")
	}
	frame := settings.Frame
	result := Result{
		MIMEType: mimeTypes[settings.Format],
		Format:   settings.Format,
		Metadata: Metadata{
			Duration: req.Scene.Duration,
			Width:    settings.Width,
			Height:   settings.Height,
			Frame:    &frame,
		},
	}
	scenes := []Scene{req.Scene}
	props := inputProps{Scenes: scenes, Theme: req.Theme, Settings: settings}

	err = r.withJob(ctx, "image", func(ctx context.Context, dir string) error {
		if r.backend == nil {
			data, err := writeMock(dir, settings.Format, mockPayload{
				Kind: "image", Scenes: scenes, Theme: req.Theme, Settings: settings, Metadata: result.Metadata,
			})
			result.Data = data
			return err
		}

		handle, release, err := r.bundles.Bundle(ctx, templateSource(req.TemplateSource), CompositionID)
		if err != nil {
			return err
		}
		defer release()

		comp, err := r.backend.ResolveComposition(ctx, handle.Path, CompositionID, props)
		if err != nil {
			return services.Wrap(services.ErrRenderFailed, stageName, "resolve composition", "", err)
		}
		output := filepath.Join(dir, "out."+settings.Format)
		err = r.withFrameBudget(ctx, 1, func(ctx context.Context) error {
			return r.backend.RenderStill(ctx, StillOptions{
				BundlePath:  handle.Path,
				Composition: comp,
				OutputPath:  output,
				Frame:       frame,
				ImageFormat: settings.ImageFormat,
				InputProps:  props,
			})
		})
		if err != nil {
			return err
		}
		result.Data, err = readOutput(output)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

type inputProps struct {
	Scenes   []Scene `json:"scenes"`
	Theme    *Theme  `json:"theme,omitempty"`
	Settings any     `json:"settings"`
}

// withJob creates the job working directory, runs fn, and removes the
// directory on every exit path. Removal errors are logged and dropped.
func (r *Renderer) withJob(ctx context.Context, kind string, fn func(ctx context.Context, dir string) error) (err error) {
	jobID := uuid.NewString()
	ctx = services.WithJobID(ctx, jobID)
	ctx = services.WithStage(ctx, stageName)
	logger := logging.WithContext(ctx, r.logger)

	dir := filepath.Join(r.workRoot, "job-"+jobID)
	if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
		return services.Wrap(services.ErrRenderFailed, stageName, "create work dir", dir, mkErr)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logger.Debug("work dir cleanup failed", logging.String("dir", dir), logging.Error(rmErr))
		}
	}()

	started := time.Now()
	logger.Debug("render job started", logging.String("kind", kind), logging.String("mode", r.Mode()))
	err = fn(ctx, dir)
	if err != nil {
		logger.Error("render job failed",
			logging.String("kind", kind),
			logging.Duration("elapsed", time.Since(started)),
			logging.Error(err))
		return err
	}
	logger.Info("render job finished",
		logging.String("kind", kind),
		logging.String("mode", r.Mode()),
		logging.Duration("elapsed", time.Since(started)))
	return nil
}

// withFrameBudget bounds fn by frames*perFrameTimeout.
func (r *Renderer) withFrameBudget(ctx context.Context, frames int, fn func(ctx context.Context) error) error {
	if frames < 1 {
		frames = 1
	}
	budget := frameBudget(frames, r.perFrameTimeout)
	renderCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	err := fn(renderCtx)
	if err == nil {
		return nil
	}
	if errors.Is(renderCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return services.Wrap(services.ErrRenderFailed, stageName, "render",
			fmt.Sprintf("exceeded %s budget for %d frames", budget, frames), services.ErrTimeout)
	}
	return services.Wrap(services.ErrRenderFailed, stageName, "render", "", err)
}

// frameBudget is frames*perFrame, saturating at the largest Duration.
func frameBudget(frames int, perFrame time.Duration) time.Duration {
	if frames < 1 {
		frames = 1
	}
	if perFrame <= 0 {
		return perFrame
	}
	if int64(frames) > math.MaxInt64/int64(perFrame) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(frames) * perFrame
}

func readOutput(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrRenderFailed, stageName, "read output", "backend produced no output file", err)
	}
	return data, nil
}

func templateSource(custom string) string {
	if strings.TrimSpace(custom) != "" {
		return custom
	}
	return defaultTemplate
}
