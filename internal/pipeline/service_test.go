package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"clipforge/internal/artifact"
	"clipforge/internal/pipeline"
	"clipforge/internal/render"
	"clipforge/internal/services"
)

type recordingPublisher struct {
	stored    []artifact.Artifact
	requestID string
	err       error
}

func (p *recordingPublisher) Store(ctx context.Context, a artifact.Artifact) (artifact.Descriptor, error) {
	p.requestID, _ = services.RequestIDFromContext(ctx)
	if p.err != nil {
		return artifact.Descriptor{}, p.err
	}
	p.stored = append(p.stored, a)
	expires := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return artifact.Descriptor{URL: "http://files.test/files/x?token=t", ExpiresAt: &expires}, nil
}

func (p *recordingPublisher) Status(context.Context) artifact.StatusReport {
	return artifact.StatusReport{Mode: artifact.ModeLocal, Ready: true}
}

type failingRenderer struct{ err error }

func (f failingRenderer) RenderVideo(context.Context, render.VideoRequest) (render.Result, error) {
	return render.Result{}, f.err
}

func (f failingRenderer) RenderImage(context.Context, render.ImageRequest) (render.Result, error) {
	return render.Result{}, f.err
}

func mockRenderer(t *testing.T) *render.Renderer {
	t.Helper()
	return render.New(render.Options{WorkRoot: t.TempDir()}, nil)
}

func TestRenderVideoPublishesWithDefaultName(t *testing.T) {
	pub := &recordingPublisher{}
	svc := pipeline.NewService(mockRenderer(t), pub, nil)

	out, err := svc.RenderVideo(context.Background(), pipeline.VideoRequest{
		VideoRequest: render.VideoRequest{
			Scenes:   []render.Scene{{Type: "title", Duration: 2}},
			Settings: render.VideoSettings{Format: "webm"},
		},
	})
	if err != nil {
		t.Fatalf("RenderVideo: %v", err)
	}
	if len(pub.stored) != 1 {
		t.Fatalf("expected one stored artifact, got %d", len(pub.stored))
	}
	stored := pub.stored[0]
	if stored.Filename != "video.webm" || stored.MIMEType != "video/webm" {
		t.Fatalf("unexpected artifact %q %q", stored.Filename, stored.MIMEType)
	}
	if stored.Metadata["frames"] != 60 {
		t.Fatalf("expected 60 frames in metadata, got %v", stored.Metadata["frames"])
	}
	if out.URL == "" || out.ExpiresAt == nil || out.Mode != artifact.ModeLocal || out.MIMEType != "video/webm" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Metadata.Duration != 2 || out.Metadata.Width != 1920 {
		t.Fatalf("unexpected metadata %+v", out.Metadata)
	}
	if pub.requestID == "" {
		t.Fatal("expected a request id on the publication context")
	}
}

func TestRenderImageKeepsRequestedName(t *testing.T) {
	pub := &recordingPublisher{}
	svc := pipeline.NewService(mockRenderer(t), pub, nil)

	ctx := services.WithRequestID(context.Background(), "req-7")
	_, err := svc.RenderImage(ctx, pipeline.ImageRequest{
		ImageRequest: render.ImageRequest{Scene: render.Scene{Type: "title", Duration: 1}},
		Filename:     "../thumbs/cover.png",
	})
	if err != nil {
		t.Fatalf("RenderImage: %v", err)
	}
	if pub.stored[0].Filename != "cover.png" {
		t.Fatalf("expected base name kept, got %q", pub.stored[0].Filename)
	}
	if pub.requestID != "req-7" {
		t.Fatalf("expected caller request id preserved, got %q", pub.requestID)
	}
}

func TestRenderErrorsSkipPublication(t *testing.T) {
	pub := &recordingPublisher{}
	renderErr := services.Wrap(services.ErrRenderFailed, "render", "render", "boom", nil)
	svc := pipeline.NewService(failingRenderer{err: renderErr}, pub, nil)

	_, err := svc.RenderVideo(context.Background(), pipeline.VideoRequest{})
	if !errors.Is(err, services.ErrRenderFailed) {
		t.Fatalf("expected render error unchanged, got %v", err)
	}
	if len(pub.stored) != 0 {
		t.Fatal("nothing should be stored after a failed render")
	}
}

func TestStoreErrorsPropagate(t *testing.T) {
	pub := &recordingPublisher{err: services.Wrap(services.ErrArtifactTooLarge, "artifact-store", "store", "", nil)}
	svc := pipeline.NewService(mockRenderer(t), pub, nil)

	_, err := svc.RenderImage(context.Background(), pipeline.ImageRequest{
		ImageRequest: render.ImageRequest{Scene: render.Scene{Type: "title"}},
	})
	if !errors.Is(err, services.ErrArtifactTooLarge) {
		t.Fatalf("expected ErrArtifactTooLarge, got %v", err)
	}
}

func TestValidationFailsBeforeStore(t *testing.T) {
	pub := &recordingPublisher{}
	svc := pipeline.NewService(mockRenderer(t), pub, nil)

	_, err := svc.RenderVideo(context.Background(), pipeline.VideoRequest{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty scenes, got %v", err)
	}
	if !strings.Contains(err.Error(), "scene") {
		t.Fatalf("expected scene detail in %q", err)
	}
	if len(pub.stored) != 0 {
		t.Fatal("nothing should be stored after validation failure")
	}
}

func TestEndToEndWithLocalStore(t *testing.T) {
	store := artifact.NewLocal(artifact.LocalOptions{
		ServeDir:     t.TempDir(),
		BaseURL:      "http://files.test",
		MaxDiskBytes: 1 << 20,
		MaxFiles:     5,
		TTL:          time.Minute,
	}, nil)
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = store.Shutdown(context.Background()) })

	svc := pipeline.NewService(mockRenderer(t), store, nil)
	out, err := svc.RenderImage(context.Background(), pipeline.ImageRequest{
		ImageRequest: render.ImageRequest{Scene: render.Scene{Type: "title"}},
	})
	if err != nil {
		t.Fatalf("RenderImage: %v", err)
	}
	if !strings.HasPrefix(out.URL, "http://files.test/files/") || !strings.HasSuffix(strings.SplitN(out.URL, "?", 2)[0], ".png") {
		t.Fatalf("unexpected url %q", out.URL)
	}
	if out.Mode != artifact.ModeLocal {
		t.Fatalf("unexpected mode %q", out.Mode)
	}
}
