package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"clipforge/internal/logging"
	"clipforge/internal/services"
)

func (s *LocalStore) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(s.requireReady)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/files/{filename}", s.handleFile)
	r.Handle("/metrics", s.metrics.handler())
	return r
}

func (s *LocalStore) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		ready := s.ready
		s.mu.Unlock()
		if !ready {
			s.writeError(w, http.StatusServiceUnavailable, "artifact store not ready")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *LocalStore) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": ModeLocal})
}

func (s *LocalStore) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Status(r.Context()))
}

func (s *LocalStore) handleFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	entry, err := s.Lookup(filename, r.URL.Query().Get("token"))
	if err != nil {
		status := services.HTTPStatus(err)
		s.metrics.observeServed(status)
		s.writeError(w, status, http.StatusText(status))
		return
	}

	file, err := os.Open(entry.Path)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, os.ErrNotExist) {
			status = http.StatusNotFound
		}
		s.metrics.observeServed(status)
		s.logger.Warn("stored artifact unreadable",
			logging.String(logging.FieldEventType, "artifact_read_failed"),
			logging.String("file_id", entry.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the serve directory for external cleanup"),
			logging.String(logging.FieldImpact, "the caller cannot fetch this artifact"))
		s.writeError(w, status, http.StatusText(status))
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", entry.MIMEType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("inline; filename=%q", dispositionName(entry.OriginalName, entry.Filename)))
	w.Header().Set("Cache-Control", "private, no-store")
	s.metrics.observeServed(http.StatusOK)
	http.ServeContent(w, r, entry.Filename, entry.CreatedAt, file)
}

func (s *LocalStore) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *LocalStore) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
