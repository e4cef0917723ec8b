package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"clipforge/internal/artifact"
	"clipforge/internal/logging"
	"clipforge/internal/render"
	"clipforge/internal/services"
)

// Renderer produces rendered bytes.
type Renderer interface {
	RenderVideo(ctx context.Context, req render.VideoRequest) (render.Result, error)
	RenderImage(ctx context.Context, req render.ImageRequest) (render.Result, error)
}

// Publisher stores rendered bytes and reports where they can be fetched.
type Publisher interface {
	Store(ctx context.Context, artifact artifact.Artifact) (artifact.Descriptor, error)
	Status(ctx context.Context) artifact.StatusReport
}

// VideoRequest is a video render plus an optional download name.
type VideoRequest struct {
	render.VideoRequest
	Filename string `json:"filename,omitempty"`
}

// ImageRequest is a still render plus an optional download name.
type ImageRequest struct {
	render.ImageRequest
	Filename string `json:"filename,omitempty"`
}

// Outcome is what callers receive after a successful render.
type Outcome struct {
	URL       string          `json:"url"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	MIMEType  string          `json:"mimeType"`
	Metadata  render.Metadata `json:"metadata"`
	Mode      string          `json:"mode"`
}

// Service renders requests and publishes the results.
type Service struct {
	renderer  Renderer
	publisher Publisher
	logger    *slog.Logger
}

// NewService wires a renderer to a publisher.
func NewService(renderer Renderer, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		renderer:  renderer,
		publisher: publisher,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
	}
}

// RenderVideo renders req and stores the video.
func (s *Service) RenderVideo(ctx context.Context, req VideoRequest) (Outcome, error) {
	ctx = s.tag(ctx)
	result, err := s.renderer.RenderVideo(ctx, req.VideoRequest)
	if err != nil {
		return Outcome{}, err
	}
	return s.publish(ctx, result, outputName(req.Filename, "video", result.Format))
}

// RenderImage renders req and stores the still.
func (s *Service) RenderImage(ctx context.Context, req ImageRequest) (Outcome, error) {
	ctx = s.tag(ctx)
	result, err := s.renderer.RenderImage(ctx, req.ImageRequest)
	if err != nil {
		return Outcome{}, err
	}
	return s.publish(ctx, result, outputName(req.Filename, "image", result.Format))
}

func (s *Service) tag(ctx context.Context) context.Context {
	if _, ok := services.RequestIDFromContext(ctx); ok {
		return ctx
	}
	return services.WithRequestID(ctx, uuid.NewString())
}

func (s *Service) publish(ctx context.Context, result render.Result, filename string) (Outcome, error) {
	desc, err := s.publisher.Store(ctx, artifact.Artifact{
		Data:     result.Data,
		MIMEType: result.MIMEType,
		Filename: filename,
		Metadata: result.Metadata.Map(),
	})
	if err != nil {
		logging.WithContext(ctx, s.logger).Error("artifact publication failed",
			logging.String("filename", filename),
			logging.Int("size_bytes", len(result.Data)),
			logging.Error(err))
		return Outcome{}, err
	}
	mode := s.publisher.Status(ctx).Mode
	logging.WithContext(ctx, s.logger).Info("render published",
		logging.String("mime_type", result.MIMEType),
		logging.String("mode", mode),
		logging.Int("size_bytes", len(result.Data)))
	return Outcome{
		URL:       desc.URL,
		ExpiresAt: desc.ExpiresAt,
		MIMEType:  result.MIMEType,
		Metadata:  result.Metadata,
		Mode:      mode,
	}, nil
}

// outputName keeps a caller-supplied name or builds "<kind>.<format>".
func outputName(requested, kind, format string) string {
	if name := strings.TrimSpace(requested); name != "" {
		return filepath.Base(name)
	}
	if format == "" {
		return kind
	}
	return kind + "." + format
}
