// Package server exposes the mirrored data as a read-only JSON API plus
// the dashboard page and the refresh/backup triggers.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/elonfeng/hnmirror/internal/backup"
	"github.com/elonfeng/hnmirror/internal/metrics"
	"github.com/elonfeng/hnmirror/internal/refresh"
	"github.com/elonfeng/hnmirror/internal/store"
)

//go:embed web/index.html
var webFS embed.FS

// Server provides the HTTP API.
type Server struct {
	store    store.Store
	pipeline *refresh.Pipeline
	backups  *backup.Manager
	metrics  *metrics.Collector
	logger   *slog.Logger
	port     int
}

// New creates a new HTTP server.
func New(s store.Store, pipeline *refresh.Pipeline, backups *backup.Manager, m *metrics.Collector, logger *slog.Logger, port int) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store:    s,
		pipeline: pipeline,
		backups:  backups,
		metrics:  m,
		logger:   logger,
		port:     port,
	}
}

// Router builds the route table. Exposed separately from ListenAndServe
// so tests can drive it with httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(recovery(s.logger))
	r.Use(requestLogger(s.logger, s.metrics))
	r.Use(cors)

	r.Get("/", s.handleDashboard)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/stories", func(r chi.Router) {
			r.Get("/top", s.handleTopStories)
			r.Get("/{id}", s.handleStory)
			r.Get("/{id}/comments", s.handleStoryComments)
		})
		r.Get("/users/{username}", s.handleUser)
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Post("/refresh", s.handleTriggerRefresh)
			r.Get("/backups", s.handleListBackups)
			r.Post("/backups", s.handleCreateBackup)
			r.Post("/backups/{name}/restore", s.handleRestoreBackup)
		})
	})

	return r
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("server listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	page, err := webFS.ReadFile("web/index.html")
	if err != nil {
		http.Error(w, "dashboard unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTopStories(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(r, 5, 1, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 10")
		return
	}

	stories, err := s.store.TopStories(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stories == nil {
		stories = []store.Story{}
	}
	writeJSON(w, http.StatusOK, stories)
}

func (s *Server) handleStory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid story ID")
		return
	}

	story, err := s.store.GetStory(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Story not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, story)
}

func (s *Server) handleStoryComments(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid story ID")
		return
	}
	limit, ok := limitParam(r, 10, 1, 20)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 20")
		return
	}

	if _, err := s.store.GetStory(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Story not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	comments, err := s.store.CommentsForStory(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if comments == nil {
		comments = []store.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	user, err := s.store.GetUserByUsername(r.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":       "ok",
		"last_refresh": nil,
	}

	last, err := s.store.LastRefresh(r.Context())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if last != nil {
		resp["last_refresh"] = last
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTriggerRefresh starts a refresh cycle in the background and
// returns immediately. Nothing prevents two overlapping cycles.
func (s *Server) handleTriggerRefresh(w http.ResponseWriter, r *http.Request) {
	go s.pipeline.Run(context.Background())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh_started"})
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.backups.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if backups == nil {
		backups = []backup.Info{}
	}
	writeJSON(w, http.StatusOK, backups)
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	info, err := s.backups.Create()
	if errors.Is(err, backup.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	err := s.backups.Restore(name)
	switch {
	case errors.Is(err, backup.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, backup.ErrInvalidBackup):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"restored_from": name,
		})
	}
}

// limitParam parses the limit query parameter, enforcing the inclusive
// bounds. A missing parameter yields the default.
func limitParam(r *http.Request, def, lo, hi int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < lo || limit > hi {
		return 0, false
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
