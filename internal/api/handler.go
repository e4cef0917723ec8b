package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"clipforge/internal/logging"
	"clipforge/internal/pipeline"
	"clipforge/internal/services"
)

const defaultMaxRequestBytes = 8 << 20

// Renderer runs pipeline requests.
type Renderer interface {
	RenderVideo(ctx context.Context, req pipeline.VideoRequest) (pipeline.Outcome, error)
	RenderImage(ctx context.Context, req pipeline.ImageRequest) (pipeline.Outcome, error)
}

// Options configure the HTTP handler.
type Options struct {
	Token           string
	MaxRequestBytes int64
	// Status, when set, backs GET /api/status.
	Status func(ctx context.Context) DaemonStatus
}

type handler struct {
	renderer Renderer
	opts     Options
	logger   *slog.Logger
}

// NewHandler builds the render routes. Callers mount it under /api.
func NewHandler(renderer Renderer, opts Options, logger *slog.Logger) http.Handler {
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = defaultMaxRequestBytes
	}
	h := &handler{
		renderer: renderer,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "render-api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Use(authMiddleware(opts.Token))
	r.Post("/render/video", h.handleVideo)
	r.Post("/render/image", h.handleImage)
	r.Get("/status", h.handleStatus)
	return r
}

func (h *handler) handleVideo(w http.ResponseWriter, r *http.Request) {
	var req pipeline.VideoRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.renderer.RenderVideo(h.requestContext(r), req)
	h.respond(w, r, "video", out, err)
}

func (h *handler) handleImage(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ImageRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.renderer.RenderImage(h.requestContext(r), req)
	h.respond(w, r, "image", out, err)
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.opts.Status == nil {
		h.writeError(w, http.StatusNotFound, "status not available")
		return
	}
	h.writeJSON(w, http.StatusOK, h.opts.Status(r.Context()))
}

// requestContext carries chi's request id into the pipeline logs.
func (h *handler) requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	if id := middleware.GetReqID(ctx); id != "" {
		ctx = services.WithRequestID(ctx, id)
	}
	return ctx
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, h.opts.MaxRequestBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		if errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, "request body is empty")
			return false
		}
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (h *handler) respond(w http.ResponseWriter, r *http.Request, kind string, out pipeline.Outcome, err error) {
	if err == nil {
		h.writeJSON(w, http.StatusOK, out)
		return
	}
	status := services.HTTPStatus(err)
	logger := logging.WithContext(h.requestContext(r), h.logger)
	if status >= http.StatusInternalServerError {
		logger.Error("render request failed",
			logging.String("kind", kind),
			logging.Int("status", status),
			logging.Error(err))
	} else {
		logger.Info("render request rejected",
			logging.String("kind", kind),
			logging.Int("status", status),
			logging.Error(err))
	}
	h.writeError(w, status, err.Error())
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: message})
}
