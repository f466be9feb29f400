package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/auth"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/config"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/uplink"
)

// UplinkProcessor runs the ingestion pipeline for a notification body
type UplinkProcessor interface {
	Process(ctx context.Context, body []byte) uplink.Result
}

// WebhookServer receives uplink notifications from The Things Stack
type WebhookServer struct {
	config    *config.Config
	processor UplinkProcessor
	secret    *auth.WebhookVerifier
	router    chi.Router
	server    *http.Server
}

// NewWebhookServer creates the webhook server
func NewWebhookServer(cfg *config.Config, processor UplinkProcessor) *WebhookServer {
	s := &WebhookServer{
		config:    cfg,
		processor: processor,
		secret:    auth.NewWebhookVerifier(cfg.Gateway.WebhookSecretHash),
		router:    chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.TrapNZ.Timeout*2 + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// setupRoutes configures middleware and the single webhook route
func (s *WebhookServer) setupRoutes() {
	s.router.Use(requireHost)
	s.router.Use(requireBareURL)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})

	s.setupWebhookRoutes(s.router)
}

// Handler returns the root handler
func (s *WebhookServer) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the server
func (s *WebhookServer) ListenAndServe(addr string) error {
	s.server.Addr = addr

	log.Info().
		Str("addr", addr).
		Str("trapApiUrl", s.config.TrapNZ.BaseURL).
		Bool("webhookSecret", s.secret.Enabled()).
		Msg("Listening for uplink webhooks")

	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *WebhookServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
