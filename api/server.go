// Package api is the HTTP boundary: event ingestion, rule CRUD, event
// history queries, and the live event stream.
package api

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/eventflow/engine"
	"github.com/liamcoop/eventflow/notify"
)

// Config wires the server.
type Config struct {
	Manager   *engine.Manager
	Publisher *notify.Publisher
	// DB is optional; when set the health check pings it.
	DB *sql.DB
	// UploadDir is the root of per-project webhook file storage.
	UploadDir string
	Logger    *slog.Logger
}

type Server struct {
	manager   *engine.Manager
	publisher *notify.Publisher
	db        *sql.DB
	uploadDir string
	log       *slog.Logger
	router    *chi.Mux
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}

	s := &Server{
		manager:   cfg.Manager,
		publisher: cfg.Publisher,
		db:        cfg.DB,
		uploadDir: cfg.UploadDir,
		log:       cfg.Logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/events/{project}", func(r chi.Router) {
		r.Post("/", s.handleIngest)
		r.Post("/webhook", s.handleWebhook)
		r.Get("/search", s.handleSearch)
		r.Get("/range", s.handleRange)
		r.Get("/latest", s.handleLatest)
		r.Get("/stream", s.handleStream)
	})

	r.Route("/rules/{project}", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)
		r.Get("/groups", s.handleEventGroups)

		r.Get("/{ruleId}", s.handleGetRule)
		r.Put("/{ruleId}", s.handleUpdateRule)
		r.Delete("/{ruleId}", s.handleDeleteRule)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"projectsLoaded": len(s.manager.Projects()),
		"streamClients":  s.publisher.ClientCount(""),
		"time":           time.Now().UTC(),
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
