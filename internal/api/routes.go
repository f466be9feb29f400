package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// setupWebhookRoutes sets up the uplink route, POST / only
func (s *WebhookServer) setupWebhookRoutes(r chi.Router) {
	r.With(
		s.requireSecret,
		middleware.AllowContentType("application/json"),
		requireUTF8,
		middleware.RequestSize(s.config.Gateway.MaxBodyBytes),
	).Post("/", s.HandleUplink)
}
