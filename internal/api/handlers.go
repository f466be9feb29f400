package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

// HandleUplink reads a notification body and answers with the pipeline's status
func (s *WebhookServer) HandleUplink(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	if _, err := url.Parse("http://" + r.Host + r.URL.RequestURI()); err != nil {
		logger.Error().Err(err).Str("host", r.Host).Msg("Invalid request URL")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			logger.Warn().Int64("limit", maxErr.Limit).Msg("Request body too large")
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		logger.Warn().Err(err).Msg("Bad body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if len(body) > 0 && !json.Valid(body) {
		logger.Warn().Msg("Bad body JSON")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	res := s.processor.Process(r.Context(), body)

	logger.Debug().
		Str("outcome", string(res.Outcome)).
		Int("status", res.Status).
		Msg("Uplink processed")

	w.WriteHeader(res.Status)
}
