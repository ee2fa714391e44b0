package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/sitebackup/internal/api/handler"
	mw "github.com/edvin/sitebackup/internal/api/middleware"
	"github.com/edvin/sitebackup/internal/storage"
)

// Pinger is implemented by the options database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router  chi.Router
	logger  zerolog.Logger
	catalog handler.Catalog
	adapter storage.Adapter
	db      Pinger
	apiKey  string
}

// NewServer creates the API server. db may be nil when no options database
// is configured.
func NewServer(logger zerolog.Logger, catalog handler.Catalog, adapter storage.Adapter, db Pinger, apiKey string) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		logger:  logger,
		catalog: catalog,
		adapter: adapter,
		db:      db,
		apiKey:  apiKey,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.apiKey))

		backup := handler.NewBackup(s.catalog)
		r.Get("/backups", backup.List)
		r.Get("/backups/{backupID}", backup.Get)
		r.Delete("/backups/{backupID}", backup.Delete)

		st := handler.NewStorage(s.adapter)
		r.Post("/storage/test", st.Test)
		r.Post("/signed-url", st.SignedURL)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			checks["options_db"] = err.Error()
			healthy = false
		} else {
			checks["options_db"] = "ok"
		}
	}

	if err := s.adapter.TestConnection(ctx); err != nil {
		checks["storage"] = err.Error()
		healthy = false
	} else {
		checks["storage"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
