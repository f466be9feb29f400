package api

import (
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/auth"
)

// requireHost rejects requests without a Host header
func requireHost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Host == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireBareURL answers 404 for request targets carrying a query, including a bare "?"
func requireBareURL(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" || r.URL.ForceQuery {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger attaches a request scoped logger to the context and logs completed requests
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.With().
			Str("requestID", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Logger()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))

		logger.Debug().
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	})
}

// requireUTF8 rejects bodies declared in a charset other than UTF-8.
// A missing charset parameter is accepted.
func requireUTF8(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			_, params, err := mime.ParseMediaType(ct)
			if err != nil {
				w.WriteHeader(http.StatusUnsupportedMediaType)
				return
			}
			if charset, ok := params["charset"]; ok && !strings.EqualFold(charset, "utf-8") {
				w.WriteHeader(http.StatusUnsupportedMediaType)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requireSecret checks the shared webhook secret when one is configured
func (s *WebhookServer) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.secret.Verify(r.Header.Get(auth.WebhookSecretHeader)) {
			log.Ctx(r.Context()).Warn().Msg("Rejected webhook with invalid secret")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
