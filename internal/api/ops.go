package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/config"
)

// healthCheckTimeout bounds each health check
const healthCheckTimeout = 5 * time.Second

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// OpsServer serves health and metrics endpoints
type OpsServer struct {
	config *config.Config
	checks map[string]HealthCheck
	router chi.Router
	server *http.Server
}

// NewOpsServer creates the ops server
func NewOpsServer(cfg *config.Config) *OpsServer {
	s := &OpsServer{
		config: cfg,
		checks: make(map[string]HealthCheck),
		router: chi.NewRouter(),
	}

	origins := cfg.Ops.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/health", s.HandleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// AddCheck registers a named health check
func (s *OpsServer) AddCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// Handler returns the root handler
func (s *OpsServer) Handler() http.Handler {
	return s.router
}

// HandleHealth runs every health check. Any failure answers 503.
func (s *OpsServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name](ctx)
		cancel()

		if err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}

	respondJSON(w, status, map[string]interface{}{
		"status":  state,
		"service": s.config.Server.Name,
		"version": s.config.Server.Version,
		"checks":  checks,
		"time":    time.Now().UTC(),
	})
}

// ListenAndServe starts the server
func (s *OpsServer) ListenAndServe(addr string) error {
	s.server.Addr = addr

	log.Info().Str("addr", addr).Msg("Starting ops server")

	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *OpsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// respondJSON responds with JSON
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}
